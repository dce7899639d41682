package domain

import (
	"time"

	"github.com/google/uuid"
)

// FileVersion is an immutable piece of content bound to one storage key.
type FileVersion struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	FileID    uuid.UUID  `json:"file_id" db:"file_id"`
	Key       string     `json:"key" db:"storage_key"`
	Name      string     `json:"name" db:"name"`
	MIMEType  string     `json:"mime_type" db:"mime_type"`
	Size      int64      `json:"size" db:"size_bytes"`
	Seq       int64      `json:"-" db:"seq"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

func (v *FileVersion) Active() bool {
	return v.DeletedAt == nil
}

// PendingBlobDeletion records a blob whose metadata is already gone.
// Rows are removed once the object store confirms the delete.
type PendingBlobDeletion struct {
	ID        int64     `json:"id" db:"id"`
	FileID    uuid.UUID `json:"file_id" db:"file_id"`
	Key       string    `json:"key" db:"storage_key"`
	Attempts  int       `json:"attempts" db:"attempts"`
	LastError *string   `json:"last_error,omitempty" db:"last_error"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
