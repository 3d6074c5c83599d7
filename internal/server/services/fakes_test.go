package services

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dmitrijs2005/cloudkeeper/internal/common"
	"github.com/dmitrijs2005/cloudkeeper/internal/cryptox"
	"github.com/dmitrijs2005/cloudkeeper/internal/dbx"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/config"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/mail"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/models"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/objectstore"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/repositories/files"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/repositories/folders"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/repositories/staticpages"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/repositories/users"
)

func init() {
	cryptox.Cost = bcrypt.MinCost

	// Row locks taken by the fake repositories are held until the
	// surrounding transaction ends, the way FOR UPDATE behaves.
	withTx = func(ctx context.Context, db dbx.TxBeginner, opts *sql.TxOptions, fn func(context.Context, dbx.DBTX) error) error {
		st := &fakeTx{held: map[string]func(){}}
		defer st.release()
		return dbx.WithTx(context.WithValue(ctx, fakeTxKey{}, st), db, opts, fn)
	}
}

type fakeTxKey struct{}

type fakeTx struct {
	mu   sync.Mutex
	held map[string]func()
}

func (st *fakeTx) release() {
	st.mu.Lock()
	defer st.mu.Unlock()
	for id, unlock := range st.held {
		unlock()
		delete(st.held, id)
	}
}

const testPassword = "secret123"

func testConfig() *config.Config {
	return &config.Config{
		SecretKey:                    "test-secret-key",
		AccessTokenValidityDuration:  time.Hour,
		RefreshTokenValidityDuration: 2 * time.Hour,
		ResetTokenValidityDuration:   15 * time.Minute,
		ClientURL:                    "http://client.test/",
		MaxUploadSize:                1024,
	}
}

// newMockDB returns a sqlmock handle; services only use it to open
// transactions, so tests declare ExpectBegin/ExpectCommit per mutation.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

func expectTx(mock sqlmock.Sqlmock, n int) {
	for i := 0; i < n; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}
}

// memDB is an in-memory stand-in for the Postgres schema.
type memDB struct {
	mu      sync.Mutex
	clock   time.Time
	users   map[string]*models.User
	files   map[string]*models.File
	folders map[string]*models.Folder
	tokens  map[string]*models.RefreshToken
	pages   map[string]*models.StaticPage

	failAddStorage error
	// afterCount runs once, right after the next CountByStorageKey.
	afterCount func()

	rowLocks map[string]*sync.Mutex
}

func newMemDB() *memDB {
	return &memDB{
		clock:   time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
		users:   map[string]*models.User{},
		files:   map[string]*models.File{},
		folders: map[string]*models.Folder{},
		tokens:  map[string]*models.RefreshToken{},
		pages:   map[string]*models.StaticPage{},

		rowLocks: map[string]*sync.Mutex{},
	}
}

// lockRow blocks until the user row is free, then holds it for the rest of
// the transaction carried by ctx. Outside a transaction it is a no-op.
func (m *memDB) lockRow(ctx context.Context, id string) {
	st, ok := ctx.Value(fakeTxKey{}).(*fakeTx)
	if !ok {
		return
	}
	st.mu.Lock()
	_, already := st.held[id]
	st.mu.Unlock()
	if already {
		return
	}

	m.mu.Lock()
	l, ok := m.rowLocks[id]
	if !ok {
		l = &sync.Mutex{}
		m.rowLocks[id] = l
	}
	m.mu.Unlock()

	l.Lock()
	st.mu.Lock()
	st.held[id] = l.Unlock
	st.mu.Unlock()
}

func (m *memDB) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

// addUser seeds an account with testPassword and an optional passcode.
func (m *memDB) addUser(t *testing.T, name, passcode string) *models.User {
	t.Helper()
	hash, err := cryptox.Hash(testPassword)
	require.NoError(t, err)
	u := &models.User{UserName: name, Email: name + "@example.com", PasswordHash: hash}
	if passcode != "" {
		u.FilePasscodeHash, err = cryptox.Hash(passcode)
		require.NoError(t, err)
	}
	_, err = (&fakeUsers{m}).Create(context.Background(), u)
	require.NoError(t, err)
	return u
}

func (m *memDB) user(id string) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := *m.users[id]
	return &u
}

func (m *memDB) file(id string) *models.File {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return nil
	}
	c := *f
	return &c
}

type fakeRepoManager struct {
	m *memDB
}

func (r *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (r *fakeRepoManager) Users(dbx.DBTX) users.Repository            { return &fakeUsers{r.m} }
func (r *fakeRepoManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository {
	return &fakeTokens{r.m}
}
func (r *fakeRepoManager) Files(dbx.DBTX) files.Repository     { return &fakeFiles{r.m} }
func (r *fakeRepoManager) Folders(dbx.DBTX) folders.Repository { return &fakeFolders{r.m} }
func (r *fakeRepoManager) StaticPages(dbx.DBTX) staticpages.Repository {
	return &fakePages{r.m}
}

// --- users ---

type fakeUsers struct{ m *memDB }

func (r *fakeUsers) Create(_ context.Context, u *models.User) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, other := range r.m.users {
		if strings.EqualFold(other.Email, u.Email) || other.UserName == u.UserName {
			return nil, common.ErrorConflict
		}
	}
	u.ID = uuid.NewString()
	u.CreatedAt = r.m.tick()
	u.UpdatedAt = u.CreatedAt
	c := *u
	r.m.users[u.ID] = &c
	return u, nil
}

func (r *fakeUsers) find(pred func(*models.User) bool) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, u := range r.m.users {
		if pred(u) {
			c := *u
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *fakeUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.ID == id })
}

func (r *fakeUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return strings.EqualFold(u.Email, email) })
}

func (r *fakeUsers) GetByResetToken(_ context.Context, token string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return token != "" && u.ResetPasswordToken == token })
}

func (r *fakeUsers) ListIDs(context.Context) ([]string, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	ids := make([]string, 0, len(r.m.users))
	for id := range r.m.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *fakeUsers) update(id string, fn func(*models.User)) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	fn(u)
	return nil
}

func (r *fakeUsers) UpdateUserName(_ context.Context, id, userName string) error {
	return r.update(id, func(u *models.User) { u.UserName = userName })
}

func (r *fakeUsers) UpdatePasswordHash(_ context.Context, id, hash string) error {
	return r.update(id, func(u *models.User) { u.PasswordHash = hash })
}

func (r *fakeUsers) SetPasscodeHash(_ context.Context, id, hash string) error {
	return r.update(id, func(u *models.User) { u.FilePasscodeHash = hash })
}

func (r *fakeUsers) SetResetToken(_ context.Context, id, token string, expires *time.Time) error {
	return r.update(id, func(u *models.User) {
		u.ResetPasswordToken = token
		u.ResetPasswordExpires = expires
	})
}

func (r *fakeUsers) Delete(_ context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.users[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.m.users, id)
	for fid, f := range r.m.files {
		if f.OwnerID == id {
			delete(r.m.files, fid)
		}
	}
	for fid, f := range r.m.folders {
		if f.OwnerID == id {
			delete(r.m.folders, fid)
		}
	}
	for tok, rt := range r.m.tokens {
		if rt.UserID == id {
			delete(r.m.tokens, tok)
		}
	}
	return nil
}

func (r *fakeUsers) AddStorageUsed(_ context.Context, id string, delta int64) (int64, error) {
	if r.m.failAddStorage != nil {
		return 0, r.m.failAddStorage
	}
	var out int64
	err := r.update(id, func(u *models.User) {
		u.StorageUsed = max(u.StorageUsed+delta, 0)
		out = u.StorageUsed
	})
	return out, err
}

func (r *fakeUsers) LockStorageUsed(ctx context.Context, id string) (int64, error) {
	r.m.lockRow(ctx, id)
	u, err := r.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	return u.StorageUsed, nil
}

func (r *fakeUsers) SetStorageUsed(_ context.Context, id string, value int64) error {
	return r.update(id, func(u *models.User) { u.StorageUsed = value })
}

// --- files ---

type fakeFiles struct{ m *memDB }

func (r *fakeFiles) Create(_ context.Context, f *models.File) (*models.File, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if f.FolderID != nil {
		if _, ok := r.m.folders[*f.FolderID]; !ok {
			return nil, common.ErrorNotFound
		}
	}
	f.ID = uuid.NewString()
	f.CreatedAt = r.m.tick()
	c := *f
	r.m.files[f.ID] = &c
	return f, nil
}

func (r *fakeFiles) GetByID(_ context.Context, id string) (*models.File, error) {
	if f := r.m.file(id); f != nil {
		return f, nil
	}
	return nil, common.ErrorNotFound
}

func (r *fakeFiles) GetBySlug(_ context.Context, slug string) (*models.File, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, f := range r.m.files {
		if f.SharedLink != nil && *f.SharedLink == slug {
			c := *f
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *fakeFiles) List(_ context.Context, ownerID string, flt files.Filter) ([]*models.File, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	var out []*models.File
	for _, f := range r.m.files {
		switch {
		case f.OwnerID != ownerID:
			continue
		case flt.FolderID != "" && (f.FolderID == nil || *f.FolderID != flt.FolderID):
			continue
		case flt.RootOnly && f.FolderID != nil:
			continue
		case flt.Type != "" && f.Type != flt.Type:
			continue
		case flt.FavoritesOnly && !f.IsFavorite:
			continue
		case flt.Lock == files.ExcludeLocked && f.IsLocked:
			continue
		case flt.Lock == files.OnlyLocked && !f.IsLocked:
			continue
		case !flt.CreatedFrom.IsZero() && f.CreatedAt.Before(flt.CreatedFrom):
			continue
		case !flt.CreatedTo.IsZero() && !f.CreatedAt.Before(flt.CreatedTo):
			continue
		}
		c := *f
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if flt.Limit > 0 && len(out) > flt.Limit {
		out = out[:flt.Limit]
	}
	return out, nil
}

func (r *fakeFiles) update(id string, fn func(*models.File)) (*models.File, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	f, ok := r.m.files[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	fn(f)
	c := *f
	return &c, nil
}

func (r *fakeFiles) Rename(_ context.Context, id, name string) (*models.File, error) {
	return r.update(id, func(f *models.File) { f.Name = name })
}

func (r *fakeFiles) ToggleFavorite(_ context.Context, id string) (*models.File, error) {
	return r.update(id, func(f *models.File) { f.IsFavorite = !f.IsFavorite })
}

func (r *fakeFiles) ToggleLock(_ context.Context, id string) (*models.File, error) {
	return r.update(id, func(f *models.File) { f.IsLocked = !f.IsLocked })
}

func (r *fakeFiles) SetSharedLink(_ context.Context, id, slug string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, f := range r.m.files {
		if f.ID != id && f.SharedLink != nil && *f.SharedLink == slug {
			return common.ErrorConflict
		}
	}
	f, ok := r.m.files[id]
	if !ok {
		return common.ErrorNotFound
	}
	f.SharedLink = &slug
	return nil
}

func (r *fakeFiles) Delete(_ context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.files[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.m.files, id)
	return nil
}

func (r *fakeFiles) CountByStorageKey(_ context.Context, key string) (int64, error) {
	r.m.mu.Lock()
	var n int64
	for _, f := range r.m.files {
		if f.StorageKey == key {
			n++
		}
	}
	hook := r.m.afterCount
	r.m.afterCount = nil
	r.m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return n, nil
}

func (r *fakeFiles) StorageKeysByOwner(_ context.Context, ownerID string) ([]string, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	seen := map[string]bool{}
	var keys []string
	for _, f := range r.m.files {
		if f.OwnerID == ownerID && !seen[f.StorageKey] {
			seen[f.StorageKey] = true
			keys = append(keys, f.StorageKey)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *fakeFiles) SumSizeByOwner(_ context.Context, ownerID string) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var total int64
	for _, f := range r.m.files {
		if f.OwnerID == ownerID {
			total += f.Size
		}
	}
	return total, nil
}

func (r *fakeFiles) StatsByType(_ context.Context, ownerID string) ([]models.TypeStat, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	byType := map[models.FileType]*models.TypeStat{}
	for _, f := range r.m.files {
		if f.OwnerID != ownerID {
			continue
		}
		st, ok := byType[f.Type]
		if !ok {
			st = &models.TypeStat{Type: f.Type}
			byType[f.Type] = st
		}
		st.Count++
		st.TotalSize += f.Size
	}
	var out []models.TypeStat
	for _, st := range byType {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}

func (r *fakeFiles) StatsByFolder(_ context.Context, ownerID string) ([]models.FolderStat, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.FolderStat
	for _, folder := range r.m.folders {
		if folder.OwnerID != ownerID {
			continue
		}
		st := models.FolderStat{FolderID: folder.ID, Name: folder.Name}
		for _, f := range r.m.files {
			if f.FolderID != nil && *f.FolderID == folder.ID {
				st.FileCount++
				st.TotalSize += f.Size
			}
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- folders ---

type fakeFolders struct{ m *memDB }

func (r *fakeFolders) Create(_ context.Context, f *models.Folder) (*models.Folder, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if f.ParentID != nil {
		if _, ok := r.m.folders[*f.ParentID]; !ok {
			return nil, common.ErrorNotFound
		}
	}
	f.ID = uuid.NewString()
	f.CreatedAt = r.m.tick()
	f.UpdatedAt = f.CreatedAt
	c := *f
	r.m.folders[f.ID] = &c
	return f, nil
}

func (r *fakeFolders) GetByID(_ context.Context, id string) (*models.Folder, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	f, ok := r.m.folders[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *f
	return &c, nil
}

func (r *fakeFolders) ListByOwner(_ context.Context, ownerID string) ([]*models.Folder, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Folder
	for _, f := range r.m.folders {
		if f.OwnerID == ownerID {
			c := *f
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeFolders) Rename(_ context.Context, id, name string) (*models.Folder, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	f, ok := r.m.folders[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	f.Name = name
	c := *f
	return &c, nil
}

func (r *fakeFolders) Delete(_ context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.folders[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.m.folders, id)
	return nil
}

func (r *fakeFolders) CountByOwner(ctx context.Context, ownerID string) (int64, error) {
	list, err := r.ListByOwner(ctx, ownerID)
	return int64(len(list)), err
}

func (r *fakeFolders) HasContents(_ context.Context, id string) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, f := range r.m.files {
		if f.FolderID != nil && *f.FolderID == id {
			return true, nil
		}
	}
	for _, f := range r.m.folders {
		if f.ParentID != nil && *f.ParentID == id {
			return true, nil
		}
	}
	return false, nil
}

// --- refresh tokens ---

type fakeTokens struct{ m *memDB }

func (r *fakeTokens) Create(_ context.Context, userID string, token string, validity time.Duration) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.tokens[token] = &models.RefreshToken{
		ID: uuid.NewString(), UserID: userID, Token: token, Expires: time.Now().Add(validity), CreatedAt: time.Now(),
	}
	return nil
}

func (r *fakeTokens) Find(_ context.Context, token string) (*models.RefreshToken, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	rt, ok := r.m.tokens[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *rt
	return &c, nil
}

func (r *fakeTokens) Delete(_ context.Context, token string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	delete(r.m.tokens, token)
	return nil
}

func (r *fakeTokens) DeleteByUser(_ context.Context, userID string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for tok, rt := range r.m.tokens {
		if rt.UserID == userID {
			delete(r.m.tokens, tok)
		}
	}
	return nil
}

// --- static pages ---

type fakePages struct{ m *memDB }

func (r *fakePages) Get(_ context.Context, key string) (*models.StaticPage, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	p, ok := r.m.pages[key]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *p
	return &c, nil
}

// --- object store ---

type fakeGateway struct {
	mu        sync.Mutex
	objects   map[string][]byte
	putErr    error
	deleteErr error
	deleted   []string
}

var _ objectstore.Gateway = (*fakeGateway)(nil)

func newFakeGateway() *fakeGateway {
	return &fakeGateway{objects: map[string][]byte{}}
}

func (g *fakeGateway) Put(_ context.Context, data []byte, _ string) (objectstore.Object, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.putErr != nil {
		return objectstore.Object{}, g.putErr
	}
	key := "uploads/2024/03/10/" + uuid.NewString()
	g.objects[key] = data
	return objectstore.Object{Key: key, URL: "http://store.test/bucket/" + key}, nil
}

func (g *fakeGateway) Delete(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deleteErr != nil {
		return g.deleteErr
	}
	delete(g.objects, key)
	g.deleted = append(g.deleted, key)
	return nil
}

func (g *fakeGateway) has(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.objects[key]
	return ok
}

func (g *fakeGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.objects)
}

// --- mail ---

type fakeMailer struct {
	sent []mail.Message
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg mail.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

var errBoom = errors.New("boom")
