// Package repository defines the metadata store used by the service layer and
// its PostgreSQL implementation. The memory subpackage provides a second
// implementation; both are held to the same behaviour by storetest.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"docdrive/internal/domain"
)

// Store is the single authoritative metadata store.
type Store interface {
	// WithTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise; nothing fn wrote is visible to
	// other transactions before commit.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx is the set of operations available inside a transaction. Lookups of
// missing rows return errors wrapping domain.ErrNotFound.
type Tx interface {
	// GetDirectory keeps the row share-locked until the transaction ends, so a
	// path derived from it cannot be rewritten by a concurrent move before commit.
	GetDirectory(ctx context.Context, id uuid.UUID) (*domain.Directory, error)
	CreateDirectory(ctx context.Context, dir *domain.Directory) error
	// UpdateDirectory persists Name, ParentID and Ancestors.
	UpdateDirectory(ctx context.Context, dir *domain.Directory) error
	// ListSubtreeDirectories returns every directory whose path contains id.
	ListSubtreeDirectories(ctx context.Context, id uuid.UUID) ([]domain.Directory, error)

	// GetFile loads a file without its versions. With forUpdate the row stays
	// locked against other writers until the transaction ends.
	GetFile(ctx context.Context, id uuid.UUID, forUpdate bool) (*domain.File, error)
	CreateFile(ctx context.Context, file *domain.File) error
	// UpdateFile persists Name, DirectoryID, Ancestors and History when the
	// stored revision still equals file.Revision, then bumps file.Revision.
	// A stale revision yields domain.ErrConflict.
	UpdateFile(ctx context.Context, file *domain.File) error
	DeleteFile(ctx context.Context, id uuid.UUID) error
	// ListFilesUnder returns files whose path contains directoryID, locked for update.
	ListFilesUnder(ctx context.Context, directoryID uuid.UUID) ([]domain.File, error)
	// FindFiles matches query as a case-insensitive substring of the name and
	// orders by name (byte order), then id.
	FindFiles(ctx context.Context, query string) ([]domain.File, error)

	// CreateVersion fails with domain.ErrConflict when the key is taken,
	// including by a pending blob deletion.
	CreateVersion(ctx context.Context, version *domain.FileVersion) error
	// ListVersions returns versions of the given files in insertion order.
	ListVersions(ctx context.Context, fileIDs []uuid.UUID, includeDeleted bool) ([]domain.FileVersion, error)
	SoftDeleteVersion(ctx context.Context, fileID, versionID uuid.UUID, at time.Time) error
	PurgeVersions(ctx context.Context, fileID uuid.UUID) (int64, error)

	// EnqueueBlobDeletions stores the records and fills in their ids.
	EnqueueBlobDeletions(ctx context.Context, pending []domain.PendingBlobDeletion) error
	// ListPendingBlobDeletions returns least recently attempted records first.
	ListPendingBlobDeletions(ctx context.Context, limit int) ([]domain.PendingBlobDeletion, error)
	// AckBlobDeletion removes the record and frees its key for reuse.
	AckBlobDeletion(ctx context.Context, id int64) error
	FailBlobDeletion(ctx context.Context, id int64, reason string) error
}
