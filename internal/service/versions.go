package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"docdrive/internal/domain"
	"docdrive/internal/repository"
)

const defaultMIMEType = "application/octet-stream"

// NewKey returns a fresh storage key for content of fileID. The random part
// is a version 4 UUID, so concurrent creates never share a key.
func NewKey(fileID uuid.UUID) string {
	return fmt.Sprintf("files/%s/%s", fileID, uuid.NewString())
}

// VersionStore manages version rows inside a caller's transaction. It never
// touches the blob store.
type VersionStore struct{}

func (VersionStore) Create(ctx context.Context, tx repository.Tx, fileID uuid.UUID, name, key, mimeType string, size int64) (*domain.FileVersion, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: storage key is empty", domain.ErrInvalidArgument)
	}
	if size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", domain.ErrInvalidArgument, size)
	}
	if mimeType == "" {
		mimeType = defaultMIMEType
	}

	version := &domain.FileVersion{
		ID:       uuid.New(),
		FileID:   fileID,
		Key:      key,
		Name:     name,
		MIMEType: mimeType,
		Size:     size,
	}
	if err := tx.CreateVersion(ctx, version); err != nil {
		return nil, err
	}
	return version, nil
}

// ListActive returns the versions of the given files that are not soft-deleted,
// oldest first.
func (VersionStore) ListActive(ctx context.Context, tx repository.Tx, fileIDs ...uuid.UUID) ([]domain.FileVersion, error) {
	return tx.ListVersions(ctx, fileIDs, false)
}

func (VersionStore) ListAll(ctx context.Context, tx repository.Tx, fileID uuid.UUID) ([]domain.FileVersion, error) {
	return tx.ListVersions(ctx, []uuid.UUID{fileID}, true)
}

func (VersionStore) SoftDelete(ctx context.Context, tx repository.Tx, fileID, versionID uuid.UUID, at time.Time) error {
	return tx.SoftDeleteVersion(ctx, fileID, versionID, at)
}

// PurgeAll removes every version row of the file. Deleting the blobs is up to
// the caller.
func (VersionStore) PurgeAll(ctx context.Context, tx repository.Tx, fileID uuid.UUID) (int64, error) {
	return tx.PurgeVersions(ctx, fileID)
}

func attachVersions(files []domain.File, versions []domain.FileVersion) {
	byFile := make(map[uuid.UUID][]domain.FileVersion, len(files))
	for _, v := range versions {
		byFile[v.FileID] = append(byFile[v.FileID], v)
	}
	for i := range files {
		files[i].Versions = byFile[files[i].ID]
		if files[i].Versions == nil {
			files[i].Versions = []domain.FileVersion{}
		}
	}
}
