package domain

import (
	"time"

	"github.com/google/uuid"
)

// File is the metadata record of a document. Content lives in Versions.
type File struct {
	ID          uuid.UUID     `json:"id" db:"id"`
	Name        string        `json:"name" db:"name"`
	DirectoryID *uuid.UUID    `json:"directory_id,omitempty" db:"directory_id"`
	Ancestors   Ancestors     `json:"ancestors" db:"ancestors"`
	History     History       `json:"history" db:"history"`
	Revision    int64         `json:"revision" db:"revision"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`
	Versions    []FileVersion `json:"versions" db:"-"`
}

// LatestVersion returns the most recently created version in Versions, or nil.
func (f *File) LatestVersion() *FileVersion {
	if len(f.Versions) == 0 {
		return nil
	}
	return &f.Versions[len(f.Versions)-1]
}
