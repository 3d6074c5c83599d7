package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/cloudkeeper/internal/common"
	"github.com/dmitrijs2005/cloudkeeper/internal/dbx"
	"github.com/dmitrijs2005/cloudkeeper/internal/logging"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/access"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/config"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/models"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/objectstore"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/repositories/files"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/repositories/repomanager"
)

// UploadInput is one multipart upload. Name falls back to FileName.
type UploadInput struct {
	Name     string
	Type     string
	FolderID string
	FileName string
	MimeType string
	Data     []byte
}

// FileService implements the file lifecycle. Every mutation keeps the
// owner's storage counter in the same transaction as the metadata change.
type FileService struct {
	db            *sql.DB
	repomanager   repomanager.RepositoryManager
	store         objectstore.Gateway
	policy        *access.Policy
	metrics       *metrics.Metrics
	log           logging.Logger
	clientURL     string
	maxUploadSize int64
	newSlug       func() (string, error)
}

func NewFileService(db *sql.DB, m repomanager.RepositoryManager, store objectstore.Gateway, cfg *config.Config,
	mx *metrics.Metrics, log logging.Logger) *FileService {
	return &FileService{
		db:            db,
		repomanager:   m,
		store:         store,
		policy:        access.NewPolicy(m.Users(db)),
		metrics:       mx,
		log:           log.With("service", "files"),
		clientURL:     strings.TrimRight(cfg.ClientURL, "/"),
		maxUploadSize: cfg.MaxUploadSize,
		newSlug:       func() (string, error) { return common.MakeRandHexString(shareSlugBytes) },
	}
}

// owned loads a file and applies the ownership predicate.
func (s *FileService) owned(ctx context.Context, repo files.Repository, callerID, id string) (*models.File, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	f, err := repo.GetByID(ctx, id)
	var ownerID string
	if f != nil {
		ownerID = f.OwnerID
	}
	if err := access.OwnsFound(callerID, ownerID, err); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *FileService) validateUpload(in *UploadInput) (models.FileType, string, string, error) {
	t, ok := models.ParseFileType(in.Type)
	if !ok {
		return "", "", "", fmt.Errorf("%w: invalid file type", common.ErrorBadRequest)
	}

	name := in.Name
	if strings.TrimSpace(name) == "" {
		name = in.FileName
	}
	name, err := cleanName(name, "name")
	if err != nil {
		return "", "", "", err
	}

	if len(in.Data) == 0 {
		return "", "", "", fmt.Errorf("%w: file is required", common.ErrorBadRequest)
	}
	if int64(len(in.Data)) > s.maxUploadSize {
		return "", "", "", fmt.Errorf("%w: file exceeds %d bytes", common.ErrorBadRequest, s.maxUploadSize)
	}

	mimeType, _, _ := strings.Cut(in.MimeType, ";")
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if _, ok := allowedMimeTypes[mimeType]; !ok {
		return "", "", "", fmt.Errorf("%w: unsupported mime type %q", common.ErrorBadRequest, mimeType)
	}

	return t, name, mimeType, nil
}

// Upload writes the bytes to the object store first; the metadata row and
// counter increment follow in one transaction. If that transaction fails
// the stored object is removed again.
func (s *FileService) Upload(ctx context.Context, callerID string, in UploadInput) (*models.File, error) {
	fileType, name, mimeType, err := s.validateUpload(&in)
	if err != nil {
		return nil, err
	}

	var folderID *string
	if in.FolderID != "" {
		if err := checkID(in.FolderID); err != nil {
			return nil, err
		}
		folder, err := s.repomanager.Folders(s.db).GetByID(ctx, in.FolderID)
		if err := access.OwnsFound(callerID, ownerOfFolder(folder), err); err != nil {
			return nil, err
		}
		folderID = &folder.ID
	}

	obj, err := s.store.Put(ctx, in.Data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	file := &models.File{
		Name:       name,
		Type:       fileType,
		OwnerID:    callerID,
		FolderID:   folderID,
		URL:        obj.URL,
		StorageKey: obj.Key,
		MimeType:   mimeType,
		Size:       int64(len(in.Data)),
	}

	err = withTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.repomanager.Files(tx).Create(ctx, file); err != nil {
			return err
		}
		_, err := s.repomanager.Users(tx).AddStorageUsed(ctx, callerID, file.Size)
		return err
	})
	if err != nil {
		if derr := s.store.Delete(context.WithoutCancel(ctx), obj.Key); derr != nil {
			s.log.Error(ctx, "orphaned object after failed upload", "key", obj.Key, "error", derr)
		} else {
			s.log.Warn(ctx, "removed object after failed upload", "key", obj.Key, "error", err)
		}
		return nil, err
	}

	s.metrics.StorageAdded(file.Size)
	s.log.Info(ctx, "file uploaded", "file_id", file.ID, "user_id", callerID, "size", file.Size)
	return file, nil
}

// Delete removes the stored object (unless a duplicate still points at it),
// then the metadata row, then decrements the owner's counter. All of it runs
// under the owner's row lock, which Duplicate takes too, so the reference
// count cannot change between the check and the row delete.
func (s *FileService) Delete(ctx context.Context, callerID, id string) error {
	f, err := s.owned(ctx, s.repomanager.Files(s.db), callerID, id)
	if err != nil {
		return err
	}

	var objectRemoved bool
	err = withTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		usersRepo := s.repomanager.Users(tx)
		if _, err := usersRepo.LockStorageUsed(ctx, f.OwnerID); err != nil {
			return err
		}

		repo := s.repomanager.Files(tx)
		// deleted by a concurrent request while we waited for the lock
		if _, err := repo.GetByID(ctx, f.ID); err != nil {
			return err
		}

		refs, err := repo.CountByStorageKey(ctx, f.StorageKey)
		if err != nil {
			return err
		}
		if refs <= 1 {
			if err := s.store.Delete(ctx, f.StorageKey); err != nil {
				return fmt.Errorf("store delete: %w", err)
			}
			objectRemoved = true
		} else {
			s.log.Debug(ctx, "object kept, still referenced", "key", f.StorageKey, "refs", refs)
		}

		if err := repo.Delete(ctx, f.ID); err != nil {
			return err
		}
		_, err = usersRepo.AddStorageUsed(ctx, f.OwnerID, -f.Size)
		return err
	})
	if err != nil {
		if objectRemoved {
			s.log.Error(ctx, "metadata delete failed after object removal", "file_id", f.ID, "key", f.StorageKey, "error", err)
		}
		return err
	}

	s.metrics.StorageRemoved(f.Size)
	return nil
}

func (s *FileService) Rename(ctx context.Context, callerID, id, name string) (*models.File, error) {
	name, err := cleanName(name, "name")
	if err != nil {
		return nil, err
	}
	repo := s.repomanager.Files(s.db)
	if _, err := s.owned(ctx, repo, callerID, id); err != nil {
		return nil, err
	}
	return repo.Rename(ctx, id, name)
}

// Duplicate clones the metadata under a new id. The copy shares the stored
// object but is billed to the owner again.
func (s *FileService) Duplicate(ctx context.Context, callerID, id string) (*models.File, error) {
	f, err := s.owned(ctx, s.repomanager.Files(s.db), callerID, id)
	if err != nil {
		return nil, err
	}

	dup := &models.File{
		Name:       f.Name + duplicateSuffix,
		Type:       f.Type,
		OwnerID:    f.OwnerID,
		FolderID:   f.FolderID,
		URL:        f.URL,
		StorageKey: f.StorageKey,
		MimeType:   f.MimeType,
		Size:       f.Size,
		IsFavorite: f.IsFavorite,
		IsLocked:   f.IsLocked,
	}

	err = withTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		usersRepo := s.repomanager.Users(tx)
		if _, err := usersRepo.LockStorageUsed(ctx, f.OwnerID); err != nil {
			return err
		}

		repo := s.repomanager.Files(tx)
		// the original may have been deleted, and its object with it
		if _, err := repo.GetByID(ctx, f.ID); err != nil {
			return err
		}
		if _, err := repo.Create(ctx, dup); err != nil {
			return err
		}
		_, err := usersRepo.AddStorageUsed(ctx, f.OwnerID, dup.Size)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.StorageAdded(dup.Size)
	return dup, nil
}

func (s *FileService) ToggleFavorite(ctx context.Context, callerID, id string) (*models.File, error) {
	repo := s.repomanager.Files(s.db)
	if _, err := s.owned(ctx, repo, callerID, id); err != nil {
		return nil, err
	}
	return repo.ToggleFavorite(ctx, id)
}

// ToggleLock flips the lock after checking passcode against the caller's.
func (s *FileService) ToggleLock(ctx context.Context, caller *models.User, id, passcode string) (*models.File, error) {
	repo := s.repomanager.Files(s.db)
	if _, err := s.owned(ctx, repo, caller.ID, id); err != nil {
		return nil, err
	}
	if err := access.VerifyPasscode(caller, passcode); err != nil {
		return nil, err
	}
	return repo.ToggleLock(ctx, id)
}

// Share stores a fresh random slug on the file and returns the public link.
func (s *FileService) Share(ctx context.Context, callerID, id string) (*models.ShareLink, error) {
	repo := s.repomanager.Files(s.db)
	if _, err := s.owned(ctx, repo, callerID, id); err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		slug, err := s.newSlug()
		if err != nil {
			return nil, fmt.Errorf("generate slug: %w", err)
		}
		err = repo.SetSharedLink(ctx, id, slug)
		if err == nil {
			return &models.ShareLink{SharedURL: s.clientURL + "/share/" + slug, Slug: slug}, nil
		}
		if !errors.Is(err, common.ErrorConflict) || attempt == shareSlugAttempts {
			return nil, err
		}
	}
}

// GetBySlug resolves a public share link; caller may be nil.
func (s *FileService) GetBySlug(ctx context.Context, caller *models.User, slug, passcode string) (*models.File, error) {
	if strings.TrimSpace(slug) == "" {
		return nil, common.ErrorNotFound
	}
	f, err := s.repomanager.Files(s.db).GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CanReadFile(ctx, caller, f, passcode); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *FileService) Get(ctx context.Context, caller *models.User, id, passcode string) (*models.File, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	f, err := s.repomanager.Files(s.db).GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CanReadFile(ctx, caller, f, passcode); err != nil {
		return nil, err
	}
	return f, nil
}

// ListByFolder lists the unlocked files of a folder, or of the root when
// folderID is empty.
func (s *FileService) ListByFolder(ctx context.Context, callerID, folderID string) ([]*models.File, error) {
	filter := files.Filter{RootOnly: true}
	if folderID != "" {
		if err := checkID(folderID); err != nil {
			return nil, err
		}
		folder, err := s.repomanager.Folders(s.db).GetByID(ctx, folderID)
		if err := access.OwnsFound(callerID, ownerOfFolder(folder), err); err != nil {
			return nil, err
		}
		filter = files.Filter{FolderID: folderID}
	}
	return s.repomanager.Files(s.db).List(ctx, callerID, filter)
}

func (s *FileService) ListByType(ctx context.Context, callerID, fileType string) ([]*models.File, error) {
	t, ok := models.ParseFileType(fileType)
	if !ok {
		return nil, fmt.Errorf("%w: invalid file type", common.ErrorBadRequest)
	}
	return s.repomanager.Files(s.db).List(ctx, callerID, files.Filter{Type: t})
}

func (s *FileService) ListFavorites(ctx context.Context, callerID string) ([]*models.File, error) {
	return s.repomanager.Files(s.db).List(ctx, callerID, files.Filter{FavoritesOnly: true})
}

// ListLocked returns exactly the caller's locked files once the passcode
// matches.
func (s *FileService) ListLocked(ctx context.Context, caller *models.User, passcode string) ([]*models.File, error) {
	if passcode == "" {
		return nil, fmt.Errorf("%w: passcode is required", common.ErrorBadRequest)
	}
	if err := access.VerifyPasscode(caller, passcode); err != nil {
		return nil, err
	}
	return s.repomanager.Files(s.db).List(ctx, caller.ID, files.Filter{Lock: files.OnlyLocked})
}

// ListByDate lists files created on the UTC day given as D-MM-YYYY.
func (s *FileService) ListByDate(ctx context.Context, callerID, date string) ([]*models.File, error) {
	day, err := time.ParseInLocation(dayLayout, date, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("%w: date must be D-MM-YYYY", common.ErrorBadRequest)
	}
	return s.repomanager.Files(s.db).List(ctx, callerID, files.Filter{
		CreatedFrom: day,
		CreatedTo:   day.AddDate(0, 0, 1),
	})
}

// ListByMonth lists files created in the UTC month given as MM-YYYY.
func (s *FileService) ListByMonth(ctx context.Context, callerID, month string) ([]*models.File, error) {
	start, err := time.ParseInLocation(monthLayout, month, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("%w: month must be MM-YYYY", common.ErrorBadRequest)
	}
	return s.repomanager.Files(s.db).List(ctx, callerID, files.Filter{
		CreatedFrom: start,
		CreatedTo:   start.AddDate(0, 1, 0),
	})
}

func ownerOfFolder(f *models.Folder) string {
	if f == nil {
		return ""
	}
	return f.OwnerID
}
