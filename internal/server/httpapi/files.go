package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/cloudkeeper/internal/common"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/models"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/services"
)

// multipartOverhead is the slack allowed on top of the file for the other
// form fields and boundaries.
const multipartOverhead = 1 << 20

type renameRequest struct {
	Name string `json:"name" binding:"required"`
}

type lockRequest struct {
	Passcode string `json:"passcode"`
}

func (s *Server) uploadFile(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadSize+multipartOverhead)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(c, fmt.Errorf("%w: file exceeds %d bytes", common.ErrorBadRequest, s.maxUploadSize))
			return
		}
		s.fail(c, fmt.Errorf("%w: file is required", common.ErrorBadRequest))
		return
	}

	f, err := fh.Open()
	if err != nil {
		s.fail(c, err)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.maxUploadSize+1))
	if err != nil {
		s.fail(c, err)
		return
	}

	mimeType := fh.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}

	file, err := s.Files.Upload(c.Request.Context(), caller(c).ID, services.UploadInput{
		Name:     c.PostForm("name"),
		Type:     c.PostForm("type"),
		FolderID: c.PostForm("folderId"),
		FileName: fh.Filename,
		MimeType: mimeType,
		Data:     data,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusCreated, "file uploaded", file)
}

func (s *Server) getFile(c *gin.Context) {
	f, err := s.Files.Get(c.Request.Context(), caller(c), c.Param("id"), c.GetHeader(common.FilePasscodeHeaderName))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, "file", f)
}

func (s *Server) publicFile(c *gin.Context) {
	f, err := s.Files.GetBySlug(c.Request.Context(), caller(c), c.Param("slug"), c.GetHeader(common.FilePasscodeHeaderName))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, "file", f)
}

func (s *Server) deleteFile(c *gin.Context) {
	if err := s.Files.Delete(c.Request.Context(), caller(c).ID, c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, "file deleted", nil)
}

func (s *Server) renameFile(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest(err))
		return
	}
	f, err := s.Files.Rename(c.Request.Context(), caller(c).ID, c.Param("id"), req.Name)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, "file renamed", f)
}

// toggleFile flips favorite or lock depending on ?toggle=.
func (s *Server) toggleFile(c *gin.Context) {
	var (
		f   *models.File
		err error
	)
	switch c.Query("toggle") {
	case "favorite":
		f, err = s.Files.ToggleFavorite(c.Request.Context(), caller(c).ID, c.Param("id"))
	case "lock":
		var passcode string
		if passcode, err = lockPasscode(c); err == nil {
			f, err = s.Files.ToggleLock(c.Request.Context(), caller(c), c.Param("id"), passcode)
		}
	default:
		err = fmt.Errorf("%w: toggle must be favorite or lock", common.ErrorBadRequest)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, "file updated", f)
}

// lockPasscode takes the passcode from the JSON body, falling back to the
// passcode header when the body is empty or has none.
func lockPasscode(c *gin.Context) (string, error) {
	var req lockRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		return "", badRequest(err)
	}
	if req.Passcode != "" {
		return req.Passcode, nil
	}
	return c.GetHeader(common.FilePasscodeHeaderName), nil
}

func (s *Server) shareFile(c *gin.Context) {
	link, err := s.Files.Share(c.Request.Context(), caller(c).ID, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, "file shared", link)
}

func (s *Server) duplicateFile(c *gin.Context) {
	f, err := s.Files.Duplicate(c.Request.Context(), caller(c).ID, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusCreated, "file duplicated", f)
}

func (s *Server) listFolderFiles(c *gin.Context) {
	s.respondList(c)(s.Files.ListByFolder(c.Request.Context(), caller(c).ID, c.Param("folderId")))
}

func (s *Server) listByType(c *gin.Context) {
	s.respondList(c)(s.Files.ListByType(c.Request.Context(), caller(c).ID, c.Param("type")))
}

func (s *Server) listFavorites(c *gin.Context) {
	s.respondList(c)(s.Files.ListFavorites(c.Request.Context(), caller(c).ID))
}

func (s *Server) listLocked(c *gin.Context) {
	s.respondList(c)(s.Files.ListLocked(c.Request.Context(), caller(c), c.GetHeader(common.FilePasscodeHeaderName)))
}

func (s *Server) listByDate(c *gin.Context) {
	s.respondList(c)(s.Files.ListByDate(c.Request.Context(), caller(c).ID, c.Param("date")))
}

func (s *Server) listByMonth(c *gin.Context) {
	s.respondList(c)(s.Files.ListByMonth(c.Request.Context(), caller(c).ID, c.Param("month")))
}

// respondList renders a file listing, always as a JSON array.
func (s *Server) respondList(c *gin.Context) func([]*models.File, error) {
	return func(list []*models.File, err error) {
		if err != nil {
			s.fail(c, err)
			return
		}
		if list == nil {
			list = []*models.File{}
		}
		s.ok(c, http.StatusOK, "files", list)
	}
}
