package domain

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Ancestors is a materialized path: directory ids from the top-level directory
// down to the immediate parent. The owning node itself is never included.
type Ancestors []uuid.UUID

// Contains reports whether id is part of the path.
func (a Ancestors) Contains(id uuid.UUID) bool {
	return a.index(id) >= 0
}

func (a Ancestors) index(id uuid.UUID) int {
	for i, v := range a {
		if v == id {
			return i
		}
	}
	return -1
}

// Rebase rewrites a path that passes through moved so that everything above
// moved is replaced by base. Paths that don't contain moved are returned as is.
func (a Ancestors) Rebase(moved uuid.UUID, base Ancestors) Ancestors {
	i := a.index(moved)
	if i < 0 {
		return a
	}
	out := make(Ancestors, 0, len(base)+len(a)-i)
	out = append(out, base...)
	return append(out, a[i:]...)
}

// Value implements driver.Valuer, storing the path as a postgres uuid[].
func (a Ancestors) Value() (driver.Value, error) {
	ids := make(pq.StringArray, len(a))
	for i, id := range a {
		ids[i] = id.String()
	}
	return ids.Value()
}

// Scan implements sql.Scanner.
func (a *Ancestors) Scan(src interface{}) error {
	var ids pq.StringArray
	if err := ids.Scan(src); err != nil {
		return fmt.Errorf("scan ancestors: %w", err)
	}
	out := make(Ancestors, 0, len(ids))
	for _, s := range ids {
		id, err := uuid.Parse(s)
		if err != nil {
			return fmt.Errorf("scan ancestors: %w", err)
		}
		out = append(out, id)
	}
	*a = out
	return nil
}

type Directory struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	Name      string     `json:"name" db:"name"`
	ParentID  *uuid.UUID `json:"parent_id,omitempty" db:"parent_id"`
	Ancestors Ancestors  `json:"ancestors" db:"ancestors"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// ChildAncestors is the path of anything placed directly inside d.
func (d *Directory) ChildAncestors() Ancestors {
	out := make(Ancestors, 0, len(d.Ancestors)+1)
	out = append(out, d.Ancestors...)
	return append(out, d.ID)
}
