package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"docdrive/internal/domain"
	"docdrive/internal/repository"
	"docdrive/internal/service/s3"
)

// FileService coordinates file metadata with the blob store. Metadata is the
// source of truth: a file exists exactly when its row does, whatever state
// the blobs are in.
type FileService struct {
	store    repository.Store
	blobs    s3.Storage
	versions VersionStore
	metrics  *Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

func NewFileService(store repository.Store, blobs s3.Storage, metrics *Metrics, logger zerolog.Logger) *FileService {
	return &FileService{
		store:   store,
		blobs:   blobs,
		metrics: metrics,
		logger:  logger.With().Str("component", "files").Logger(),
		now:     time.Now,
	}
}

type CreateFileInput struct {
	Name        string
	DirectoryID *uuid.UUID
	MIMEType    string
	Size        int64
	// Key is generated when empty.
	Key string
}

type CreateFileResult struct {
	File      *domain.File `json:"file"`
	UploadURL string       `json:"upload_url"`
}

// CreateFile records a new file with one version and returns a URL the
// content can be uploaded to. If signing the URL fails the file is already
// committed; it is returned together with an ErrStorage error and stays
// without content until a new version is added.
func (s *FileService) CreateFile(ctx context.Context, in CreateFileInput) (result *CreateFileResult, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("create_file", start, err) }()

	name, err := cleanName(in.Name)
	if err != nil {
		return nil, err
	}
	if in.MIMEType == "" {
		in.MIMEType = defaultMIMEType
	}

	fileID := uuid.New()
	key := in.Key
	if key == "" {
		key = NewKey(fileID)
	}

	var file *domain.File
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		ancestors, err := AncestorsFor(ctx, tx, in.DirectoryID)
		if err != nil {
			return err
		}

		f := &domain.File{
			ID:          fileID,
			Name:        name,
			DirectoryID: in.DirectoryID,
			Ancestors:   ancestors,
			History: domain.AppendHistory(nil,
				domain.CreatedEntry(name, in.MIMEType, in.Size, in.DirectoryID), s.now()),
		}
		if err := tx.CreateFile(ctx, f); err != nil {
			return err
		}

		v, err := s.versions.Create(ctx, tx, f.ID, name, key, in.MIMEType, in.Size)
		if err != nil {
			return err
		}
		f.Versions = []domain.FileVersion{*v}
		file = f
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("file_id", file.ID.String()).
		Str("name", file.Name).
		Str("key", key).
		Msg("file created")

	url, err := s.blobs.PresignPut(ctx, key, in.MIMEType)
	if err != nil {
		s.logger.Warn().Err(err).Str("file_id", file.ID.String()).Str("key", key).
			Msg("file created without upload url")
		return &CreateFileResult{File: file}, fmt.Errorf("%w: sign upload of %s: %v", domain.ErrStorage, key, err)
	}
	return &CreateFileResult{File: file, UploadURL: url}, nil
}

// GetFile returns the file with its active versions.
func (s *FileService) GetFile(ctx context.Context, id uuid.UUID) (file *domain.File, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("get_file", start, err) }()

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		file, err = tx.GetFile(ctx, id, false)
		if err != nil {
			return err
		}
		return s.loadActive(ctx, tx, file)
	})
	if err != nil {
		return nil, err
	}
	return file, nil
}

// MoveFile places the file in directoryID, or at the root when it is nil.
func (s *FileService) MoveFile(ctx context.Context, id uuid.UUID, directoryID *uuid.UUID) (file *domain.File, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("move_file", start, err) }()

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		ancestors, err := AncestorsFor(ctx, tx, directoryID)
		if err != nil {
			return err
		}

		file, err = tx.GetFile(ctx, id, true)
		if err != nil {
			return err
		}

		file.History = domain.AppendHistory(file.History, domain.MovedEntry(directoryID), s.now())
		file.DirectoryID = directoryID
		file.Ancestors = ancestors
		if err := tx.UpdateFile(ctx, file); err != nil {
			return err
		}
		return s.loadActive(ctx, tx, file)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("file_id", id.String()).Interface("directory_id", directoryID).Msg("file moved")
	return file, nil
}

func (s *FileService) RenameFile(ctx context.Context, id uuid.UUID, name string) (file *domain.File, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("rename_file", start, err) }()

	name, err = cleanName(name)
	if err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		file, err = tx.GetFile(ctx, id, true)
		if err != nil {
			return err
		}

		file.History = domain.AppendHistory(file.History, domain.RenamedEntry(name), s.now())
		file.Name = name
		if err := tx.UpdateFile(ctx, file); err != nil {
			return err
		}
		return s.loadActive(ctx, tx, file)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("file_id", id.String()).Str("name", name).Msg("file renamed")
	return file, nil
}

type BlobFailure struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

type DeleteResult struct {
	Deleted bool `json:"deleted"`
	// Keys lists every storage key the file referenced, soft-deleted
	// versions included. A blob delete was issued for each of them.
	Keys         []string      `json:"keys"`
	BlobFailures []BlobFailure `json:"blob_failures,omitempty"`
}

// DeleteFile removes the file and all of its versions. The metadata is
// deleted in one transaction that also records every storage key as a
// pending blob deletion; the blobs are deleted after commit. Blob failures
// are reported in the result and left for the sweeper, never undone.
func (s *FileService) DeleteFile(ctx context.Context, id uuid.UUID) (result *DeleteResult, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("delete_file", start, err) }()

	var pending []domain.PendingBlobDeletion
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		file, err := tx.GetFile(ctx, id, true)
		if err != nil {
			return err
		}

		// Keys must be read before the purge below removes the rows.
		versions, err := s.versions.ListAll(ctx, tx, id)
		if err != nil {
			return err
		}

		file.History = domain.AppendHistory(file.History, domain.DeletedEntry(), s.now())
		if err := tx.UpdateFile(ctx, file); err != nil {
			return err
		}
		if _, err := s.versions.PurgeAll(ctx, tx, id); err != nil {
			return err
		}

		pending = make([]domain.PendingBlobDeletion, 0, len(versions))
		for _, v := range versions {
			pending = append(pending, domain.PendingBlobDeletion{FileID: id, Key: v.Key})
		}
		if err := tx.EnqueueBlobDeletions(ctx, pending); err != nil {
			return err
		}
		return tx.DeleteFile(ctx, id)
	})
	if err != nil {
		return nil, err
	}

	result = &DeleteResult{Deleted: true, Keys: make([]string, 0, len(pending))}
	for _, p := range pending {
		result.Keys = append(result.Keys, p.Key)
	}

	// The metadata delete is final; the caller going away must not stop the
	// blob deletes that follow it.
	result.BlobFailures = reapBlobs(context.WithoutCancel(ctx), s.store, s.blobs, pending, s.metrics, s.logger)

	event := s.logger.Info()
	if len(result.BlobFailures) > 0 {
		event = s.logger.Warn().Int("blob_failures", len(result.BlobFailures))
	}
	event.Str("file_id", id.String()).Int("blobs", len(pending)).Msg("file deleted")
	return result, nil
}

// FindFiles returns files whose name contains query, ignoring case, ordered
// by name. An empty query matches every file.
func (s *FileService) FindFiles(ctx context.Context, query string) (files []domain.File, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("find_files", start, err) }()

	if !utf8.ValidString(query) || strings.ContainsRune(query, 0) {
		return nil, fmt.Errorf("%w: query must be UTF-8 text without NUL", domain.ErrInvalidArgument)
	}

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		files, err = tx.FindFiles(ctx, query)
		if err != nil || len(files) == 0 {
			return err
		}

		ids := make([]uuid.UUID, len(files))
		for i := range files {
			ids[i] = files[i].ID
		}
		versions, err := s.versions.ListActive(ctx, tx, ids...)
		if err != nil {
			return err
		}
		attachVersions(files, versions)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []domain.File{}
	}
	return files, nil
}

type AddVersionInput struct {
	MIMEType string
	Size     int64
	Key      string
}

type AddVersionResult struct {
	File      *domain.File        `json:"file"`
	Version   *domain.FileVersion `json:"version"`
	UploadURL string              `json:"upload_url"`
}

// AddVersion attaches new content to an existing file. A signing failure is
// handled as in CreateFile.
func (s *FileService) AddVersion(ctx context.Context, id uuid.UUID, in AddVersionInput) (result *AddVersionResult, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("add_version", start, err) }()

	if in.MIMEType == "" {
		in.MIMEType = defaultMIMEType
	}
	key := in.Key
	if key == "" {
		key = NewKey(id)
	}

	result = &AddVersionResult{}
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		file, err := tx.GetFile(ctx, id, true)
		if err != nil {
			return err
		}

		version, err := s.versions.Create(ctx, tx, id, file.Name, key, in.MIMEType, in.Size)
		if err != nil {
			return err
		}

		file.History = domain.AppendHistory(file.History,
			domain.VersionAddedEntry(version.ID, version.MIMEType, version.Size), s.now())
		if err := tx.UpdateFile(ctx, file); err != nil {
			return err
		}
		if err := s.loadActive(ctx, tx, file); err != nil {
			return err
		}

		result.File = file
		result.Version = version
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("file_id", id.String()).
		Str("version_id", result.Version.ID.String()).
		Str("key", key).
		Msg("version added")

	url, err := s.blobs.PresignPut(ctx, key, in.MIMEType)
	if err != nil {
		s.logger.Warn().Err(err).Str("file_id", id.String()).Str("key", key).
			Msg("version added without upload url")
		return result, fmt.Errorf("%w: sign upload of %s: %v", domain.ErrStorage, key, err)
	}
	result.UploadURL = url
	return result, nil
}

// DeleteVersion soft-deletes one version. Its blob stays until the file
// itself is deleted.
func (s *FileService) DeleteVersion(ctx context.Context, id, versionID uuid.UUID) (file *domain.File, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("delete_version", start, err) }()

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		file, err = tx.GetFile(ctx, id, true)
		if err != nil {
			return err
		}

		if err := s.versions.SoftDelete(ctx, tx, id, versionID, s.now().UTC()); err != nil {
			return err
		}

		file.History = domain.AppendHistory(file.History, domain.VersionDeletedEntry(versionID), s.now())
		if err := tx.UpdateFile(ctx, file); err != nil {
			return err
		}
		return s.loadActive(ctx, tx, file)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("file_id", id.String()).Str("version_id", versionID.String()).Msg("version deleted")
	return file, nil
}

// ListVersions returns every version of the file, soft-deleted ones included.
func (s *FileService) ListVersions(ctx context.Context, id uuid.UUID) (versions []domain.FileVersion, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("list_versions", start, err) }()

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.GetFile(ctx, id, false); err != nil {
			return err
		}
		versions, err = s.versions.ListAll(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return versions, nil
}

// DownloadURL signs a download of the newest active version.
func (s *FileService) DownloadURL(ctx context.Context, id uuid.UUID) (url string, version *domain.FileVersion, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("download_url", start, err) }()

	file, err := s.GetFile(ctx, id)
	if err != nil {
		return "", nil, err
	}
	version = file.LatestVersion()
	if version == nil {
		return "", nil, fmt.Errorf("%w: file %s has no active version", domain.ErrNotFound, id)
	}

	url, err = s.blobs.PresignGet(ctx, version.Key)
	if err != nil {
		return "", nil, fmt.Errorf("%w: sign download of %s: %v", domain.ErrStorage, version.Key, err)
	}
	return url, version, nil
}

// UploadContent sends data to a URL returned by CreateFile or AddVersion.
func (s *FileService) UploadContent(ctx context.Context, uploadURL string, data []byte, mimeType string) error {
	if uploadURL == "" {
		return fmt.Errorf("%w: upload url is empty", domain.ErrInvalidArgument)
	}
	if err := s.blobs.Upload(ctx, uploadURL, data, mimeType); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	return nil
}

// DownloadContent fetches the bytes of the newest active version.
func (s *FileService) DownloadContent(ctx context.Context, id uuid.UUID) ([]byte, *domain.FileVersion, error) {
	url, version, err := s.DownloadURL(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.blobs.Download(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	return data, version, nil
}

func (s *FileService) loadActive(ctx context.Context, tx repository.Tx, file *domain.File) error {
	versions, err := s.versions.ListActive(ctx, tx, file.ID)
	if err != nil {
		return err
	}
	file.Versions = versions
	return nil
}

// IsProvisional reports whether err left a committed file behind, which
// happens when only the upload URL could not be produced.
func IsProvisional(err error) bool {
	return errors.Is(err, domain.ErrStorage)
}
