package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/cloudkeeper/internal/common"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/models"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/services"
)

func TestUploadFile(t *testing.T) {
	var got services.UploadInput
	files := &fakeFiles{upload: func(in services.UploadInput) (*models.File, error) {
		got = in
		return &models.File{ID: "f1", Name: in.Name, Size: int64(len(in.Data))}, nil
	}}
	s := newTestServer(t, false, Deps{Files: files})

	r := multipartUpload(t, map[string]string{"name": "todo", "type": "note", "folderId": "fold"}, "todo.txt", []byte("hello"), "text/plain")
	w, body := do(t, s, r)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, body.Success)
	assert.Equal(t, services.UploadInput{
		Name: "todo", Type: "note", FolderID: "fold", FileName: "todo.txt", MimeType: "text/plain", Data: []byte("hello"),
	}, got)

	var f models.File
	require.NoError(t, json.Unmarshal(body.Data, &f))
	assert.Equal(t, "f1", f.ID)
}

func TestUploadFile_SniffsMissingContentType(t *testing.T) {
	var got services.UploadInput
	files := &fakeFiles{upload: func(in services.UploadInput) (*models.File, error) {
		got = in
		return &models.File{}, nil
	}}
	s := newTestServer(t, false, Deps{Files: files})

	w, _ := do(t, s, multipartUpload(t, map[string]string{"type": "note"}, "a.txt", []byte("plain words"), ""))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "text/plain; charset=utf-8", got.MimeType)
}

func TestUploadFile_MissingFile(t *testing.T) {
	s := newTestServer(t, false, Deps{Files: &fakeFiles{}})
	w, body := do(t, s, multipartUpload(t, map[string]string{"type": "note"}, "", nil, ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "bad request: file is required", body.Message)
}

func TestUploadFile_ServiceErrors(t *testing.T) {
	files := &fakeFiles{upload: func(services.UploadInput) (*models.File, error) {
		return nil, fmt.Errorf("%w: invalid file type", common.ErrorBadRequest)
	}}
	s := newTestServer(t, false, Deps{Files: files})
	w, body := do(t, s, multipartUpload(t, map[string]string{"type": "video"}, "a.txt", []byte("x"), "text/plain"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "bad request: invalid file type", body.Message)
}

func TestGetFile_PassesPasscodeHeader(t *testing.T) {
	var seen string
	files := &fakeFiles{get: func(caller *models.User, id, passcode string) (*models.File, error) {
		seen = passcode
		if passcode != "1234" {
			return nil, fmt.Errorf("%w: incorrect passcode", common.ErrorForbidden)
		}
		return &models.File{ID: id}, nil
	}}
	s := newTestServer(t, false, Deps{Files: files})

	r := authed(http.MethodGet, "/api/file/abc", "")
	w, _ := do(t, s, r)
	assert.Equal(t, http.StatusForbidden, w.Code)

	r = authed(http.MethodGet, "/api/file/abc", "")
	r.Header.Set("x-file-passcode", "1234")
	w, _ = do(t, s, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1234", seen)
}

func TestPublicFile_AnonymousOrAuthenticated(t *testing.T) {
	var callers []*models.User
	files := &fakeFiles{bySlug: func(caller *models.User, slug, _ string) (*models.File, error) {
		callers = append(callers, caller)
		if slug != "abc123" {
			return nil, common.ErrorNotFound
		}
		return &models.File{ID: "f1"}, nil
	}}
	s := newTestServer(t, false, Deps{Files: files})

	w, _ := do(t, s, httptest.NewRequest(http.MethodGet, "/api/file/public/abc123", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, s, authed(http.MethodGet, "/api/file/public/abc123", ""))
	assert.Equal(t, http.StatusOK, w.Code)

	r := httptest.NewRequest(http.MethodGet, "/api/file/public/abc123", nil)
	r.Header.Set(common.AuthorizationHeaderName, "Bearer expired")
	w, _ = do(t, s, r)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, s, httptest.NewRequest(http.MethodGet, "/api/file/public/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.Len(t, callers, 4)
	assert.Nil(t, callers[0])
	assert.Equal(t, alice, callers[1])
	assert.Nil(t, callers[2])
}

func TestToggleFile(t *testing.T) {
	files := &fakeFiles{
		favorite: func(id string) (*models.File, error) { return &models.File{ID: id, IsFavorite: true}, nil },
		lock: func(id, passcode string) (*models.File, error) {
			if passcode == "" {
				return nil, common.ErrPasscodeNotConfigured
			}
			return &models.File{ID: id, IsLocked: true}, nil
		},
	}
	s := newTestServer(t, false, Deps{Files: files})

	w, body := do(t, s, authed(http.MethodPatch, "/api/file/f1/toggle?toggle=favorite", ""))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(body.Data), `"isFavorite":true`)

	w, _ = do(t, s, authed(http.MethodPatch, "/api/file/f1/toggle?toggle=lock", ""))
	assert.Equal(t, http.StatusForbidden, w.Code)

	r := authed(http.MethodPatch, "/api/file/f1/toggle?toggle=lock", "")
	r.Header.Set(common.FilePasscodeHeaderName, "1234")
	w, body = do(t, s, r)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(body.Data), `"isLocked":true`)

	w, _ = do(t, s, authed(http.MethodPatch, "/api/file/f1/toggle?toggle=pin", ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestToggleLock_PasscodeFromBodyOrHeader(t *testing.T) {
	var got []string
	files := &fakeFiles{lock: func(id, passcode string) (*models.File, error) {
		got = append(got, passcode)
		return &models.File{ID: id, IsLocked: true}, nil
	}}
	s := newTestServer(t, false, Deps{Files: files})

	w, _ := do(t, s, authed(http.MethodPatch, "/api/file/f1/toggle?toggle=lock", `{"passcode":"1234"}`))
	require.Equal(t, http.StatusOK, w.Code)

	// the body wins over the header
	r := authed(http.MethodPatch, "/api/file/f1/toggle?toggle=lock", `{"passcode":"body"}`)
	r.Header.Set(common.FilePasscodeHeaderName, "header")
	w, _ = do(t, s, r)
	require.Equal(t, http.StatusOK, w.Code)

	r = authed(http.MethodPatch, "/api/file/f1/toggle?toggle=lock", `{}`)
	r.Header.Set(common.FilePasscodeHeaderName, "header")
	w, _ = do(t, s, r)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, s, authed(http.MethodPatch, "/api/file/f1/toggle?toggle=lock", `{"passcode":`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, []string{"1234", "body", "header"}, got)
}

func TestFileListings(t *testing.T) {
	var calls []string
	files := &fakeFiles{list: func(op, arg string) ([]*models.File, error) {
		calls = append(calls, op+"="+arg)
		if op == "date" && arg == "2024-03-05" {
			return nil, fmt.Errorf("%w: date must be D-MM-YYYY", common.ErrorBadRequest)
		}
		return nil, nil
	}}
	s := newTestServer(t, false, Deps{Files: files})

	w, body := do(t, s, authed(http.MethodGet, "/api/file/root", ""))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(body.Data))

	w, _ = do(t, s, authed(http.MethodGet, "/api/file/root/fold", ""))
	assert.Equal(t, http.StatusOK, w.Code)

	r := authed(http.MethodGet, "/api/file/locked", "")
	r.Header.Set(common.FilePasscodeHeaderName, "9999")
	w, _ = do(t, s, r)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, s, authed(http.MethodGet, "/api/file/date/5-03-2024", ""))
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, s, authed(http.MethodGet, "/api/file/date/2024-03-05", ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, []string{"folder=", "folder=fold", "locked=9999", "date=5-03-2024", "date=2024-03-05"}, calls)
}

func TestDeleteFile_NotFound(t *testing.T) {
	s := newTestServer(t, false, Deps{Files: &fakeFiles{deleteErr: common.ErrorNotFound}})
	w, body := do(t, s, authed(http.MethodDelete, "/api/file/f1", ""))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, body.Success)
}
