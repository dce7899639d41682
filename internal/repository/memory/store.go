// Package memory is an in-process metadata store. Transactions run one at a
// time against a private copy of the state that replaces the live state on
// commit, so a failed transaction leaves nothing behind.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"docdrive/internal/domain"
	"docdrive/internal/repository"
)

type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

func NewStore() *Store {
	return &Store{
		state: &state{
			dirs:  make(map[uuid.UUID]domain.Directory),
			files: make(map[uuid.UUID]domain.File),
		},
		now: time.Now,
	}
}

type state struct {
	dirs     map[uuid.UUID]domain.Directory
	files    map[uuid.UUID]domain.File
	versions []domain.FileVersion
	pending  []domain.PendingBlobDeletion
	seq      int64
	nextID   int64
}

func (s *state) clone() *state {
	c := &state{
		dirs:     make(map[uuid.UUID]domain.Directory, len(s.dirs)),
		files:    make(map[uuid.UUID]domain.File, len(s.files)),
		versions: append([]domain.FileVersion(nil), s.versions...),
		pending:  append([]domain.PendingBlobDeletion(nil), s.pending...),
		seq:      s.seq,
		nextID:   s.nextID,
	}
	for id, d := range s.dirs {
		c.dirs[id] = d
	}
	for id, f := range s.files {
		c.files[id] = f
	}
	return c
}

func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memTx{state: work, now: s.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) Close() error {
	return nil
}

type memTx struct {
	state *state
	now   func() time.Time
}

func (t *memTx) GetDirectory(ctx context.Context, id uuid.UUID) (*domain.Directory, error) {
	d, ok := t.state.dirs[id]
	if !ok {
		return nil, fmt.Errorf("%w: directory %s", domain.ErrNotFound, id)
	}
	return copyDirectory(d), nil
}

func (t *memTx) CreateDirectory(ctx context.Context, dir *domain.Directory) error {
	if _, ok := t.state.dirs[dir.ID]; ok {
		return fmt.Errorf("%w: directory %s already exists", domain.ErrConflict, dir.ID)
	}
	if dir.ParentID != nil {
		if _, ok := t.state.dirs[*dir.ParentID]; !ok {
			return fmt.Errorf("%w: parent directory %s", domain.ErrInvalidTarget, *dir.ParentID)
		}
	}
	now := t.now()
	dir.CreatedAt, dir.UpdatedAt = now, now
	t.state.dirs[dir.ID] = *copyDirectory(*dir)
	return nil
}

func (t *memTx) UpdateDirectory(ctx context.Context, dir *domain.Directory) error {
	stored, ok := t.state.dirs[dir.ID]
	if !ok {
		return fmt.Errorf("%w: directory %s", domain.ErrNotFound, dir.ID)
	}
	stored.Name = dir.Name
	stored.ParentID = copyID(dir.ParentID)
	stored.Ancestors = copyAncestors(dir.Ancestors)
	stored.UpdatedAt = t.now()
	t.state.dirs[dir.ID] = stored
	dir.UpdatedAt = stored.UpdatedAt
	return nil
}

func (t *memTx) ListSubtreeDirectories(ctx context.Context, id uuid.UUID) ([]domain.Directory, error) {
	dirs := []domain.Directory{}
	for _, d := range t.state.dirs {
		if d.Ancestors.Contains(id) {
			dirs = append(dirs, *copyDirectory(d))
		}
	}
	sort.Slice(dirs, func(i, j int) bool {
		if len(dirs[i].Ancestors) != len(dirs[j].Ancestors) {
			return len(dirs[i].Ancestors) < len(dirs[j].Ancestors)
		}
		return dirs[i].ID.String() < dirs[j].ID.String()
	})
	return dirs, nil
}

func (t *memTx) GetFile(ctx context.Context, id uuid.UUID, forUpdate bool) (*domain.File, error) {
	f, ok := t.state.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: file %s", domain.ErrNotFound, id)
	}
	return copyFile(f), nil
}

func (t *memTx) CreateFile(ctx context.Context, file *domain.File) error {
	if _, ok := t.state.files[file.ID]; ok {
		return fmt.Errorf("%w: file %s already exists", domain.ErrConflict, file.ID)
	}
	if file.DirectoryID != nil {
		if _, ok := t.state.dirs[*file.DirectoryID]; !ok {
			return fmt.Errorf("%w: directory %s", domain.ErrInvalidTarget, *file.DirectoryID)
		}
	}
	now := t.now()
	file.Revision = 1
	file.CreatedAt, file.UpdatedAt = now, now
	t.state.files[file.ID] = *copyFile(*file)
	return nil
}

func (t *memTx) UpdateFile(ctx context.Context, file *domain.File) error {
	stored, ok := t.state.files[file.ID]
	if !ok {
		return fmt.Errorf("%w: file %s", domain.ErrNotFound, file.ID)
	}
	if stored.Revision != file.Revision {
		return fmt.Errorf("%w: file %s changed since revision %d", domain.ErrConflict, file.ID, file.Revision)
	}
	stored.Name = file.Name
	stored.DirectoryID = copyID(file.DirectoryID)
	stored.Ancestors = copyAncestors(file.Ancestors)
	stored.History = append(domain.History{}, file.History...)
	stored.Revision++
	stored.UpdatedAt = t.now()
	t.state.files[file.ID] = stored

	file.Revision = stored.Revision
	file.UpdatedAt = stored.UpdatedAt
	return nil
}

func (t *memTx) DeleteFile(ctx context.Context, id uuid.UUID) error {
	if _, ok := t.state.files[id]; !ok {
		return fmt.Errorf("%w: file %s", domain.ErrNotFound, id)
	}
	for _, v := range t.state.versions {
		if v.FileID == id {
			return fmt.Errorf("failed to delete file %s: versions still reference it", id)
		}
	}
	delete(t.state.files, id)
	return nil
}

func (t *memTx) ListFilesUnder(ctx context.Context, directoryID uuid.UUID) ([]domain.File, error) {
	files := []domain.File{}
	for _, f := range t.state.files {
		if f.Ancestors.Contains(directoryID) {
			files = append(files, *copyFile(f))
		}
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].ID.String() < files[j].ID.String()
	})
	return files, nil
}

func (t *memTx) FindFiles(ctx context.Context, query string) ([]domain.File, error) {
	needle := strings.ToLower(query)
	files := []domain.File{}
	for _, f := range t.state.files {
		if strings.Contains(strings.ToLower(f.Name), needle) {
			files = append(files, *copyFile(f))
		}
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].Name != files[j].Name {
			return files[i].Name < files[j].Name
		}
		return files[i].ID.String() < files[j].ID.String()
	})
	return files, nil
}

func (t *memTx) CreateVersion(ctx context.Context, version *domain.FileVersion) error {
	if _, ok := t.state.files[version.FileID]; !ok {
		return fmt.Errorf("%w: file %s", domain.ErrNotFound, version.FileID)
	}
	for _, v := range t.state.versions {
		if v.Key == version.Key {
			return fmt.Errorf("%w: storage key %s already in use", domain.ErrConflict, version.Key)
		}
		if v.ID == version.ID {
			return fmt.Errorf("%w: version %s already exists", domain.ErrConflict, version.ID)
		}
	}
	for _, p := range t.state.pending {
		if p.Key == version.Key {
			return fmt.Errorf("%w: storage key %s is awaiting deletion", domain.ErrConflict, version.Key)
		}
	}
	t.state.seq++
	version.Seq = t.state.seq
	version.CreatedAt = t.now()
	t.state.versions = append(t.state.versions, *version)
	return nil
}

func (t *memTx) ListVersions(ctx context.Context, fileIDs []uuid.UUID, includeDeleted bool) ([]domain.FileVersion, error) {
	wanted := make(map[uuid.UUID]bool, len(fileIDs))
	for _, id := range fileIDs {
		wanted[id] = true
	}

	versions := []domain.FileVersion{}
	for _, v := range t.state.versions {
		if !wanted[v.FileID] || (!includeDeleted && !v.Active()) {
			continue
		}
		versions = append(versions, copyVersion(v))
	}
	return versions, nil
}

func (t *memTx) SoftDeleteVersion(ctx context.Context, fileID, versionID uuid.UUID, at time.Time) error {
	for i, v := range t.state.versions {
		if v.FileID == fileID && v.ID == versionID && v.Active() {
			deletedAt := at
			t.state.versions[i].DeletedAt = &deletedAt
			return nil
		}
	}
	return fmt.Errorf("%w: version %s of file %s", domain.ErrNotFound, versionID, fileID)
}

func (t *memTx) PurgeVersions(ctx context.Context, fileID uuid.UUID) (int64, error) {
	kept := t.state.versions[:0:0]
	var purged int64
	for _, v := range t.state.versions {
		if v.FileID == fileID {
			purged++
			continue
		}
		kept = append(kept, v)
	}
	t.state.versions = kept
	return purged, nil
}

func (t *memTx) EnqueueBlobDeletions(ctx context.Context, pending []domain.PendingBlobDeletion) error {
	now := t.now()
	for i := range pending {
		t.state.nextID++
		pending[i].ID = t.state.nextID
		pending[i].Attempts = 0
		pending[i].LastError = nil
		pending[i].CreatedAt, pending[i].UpdatedAt = now, now
		t.state.pending = append(t.state.pending, pending[i])
	}
	return nil
}

func (t *memTx) ListPendingBlobDeletions(ctx context.Context, limit int) ([]domain.PendingBlobDeletion, error) {
	pending := append([]domain.PendingBlobDeletion{}, t.state.pending...)
	sort.SliceStable(pending, func(i, j int) bool {
		if !pending[i].UpdatedAt.Equal(pending[j].UpdatedAt) {
			return pending[i].UpdatedAt.Before(pending[j].UpdatedAt)
		}
		return pending[i].ID < pending[j].ID
	})
	if limit >= 0 && limit < len(pending) {
		pending = pending[:limit]
	}
	return pending, nil
}

func (t *memTx) AckBlobDeletion(ctx context.Context, id int64) error {
	for i, p := range t.state.pending {
		if p.ID == id {
			t.state.pending = append(t.state.pending[:i:i], t.state.pending[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: pending blob deletion %d", domain.ErrNotFound, id)
}

func (t *memTx) FailBlobDeletion(ctx context.Context, id int64, reason string) error {
	for i, p := range t.state.pending {
		if p.ID == id {
			msg := reason
			p.Attempts++
			p.LastError = &msg
			p.UpdatedAt = t.now()
			t.state.pending[i] = p
			return nil
		}
	}
	return fmt.Errorf("%w: pending blob deletion %d", domain.ErrNotFound, id)
}

func copyID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}

func copyAncestors(a domain.Ancestors) domain.Ancestors {
	return append(domain.Ancestors{}, a...)
}

func copyDirectory(d domain.Directory) *domain.Directory {
	d.ParentID = copyID(d.ParentID)
	d.Ancestors = copyAncestors(d.Ancestors)
	return &d
}

func copyFile(f domain.File) *domain.File {
	f.DirectoryID = copyID(f.DirectoryID)
	f.Ancestors = copyAncestors(f.Ancestors)
	f.History = append(domain.History{}, f.History...)
	f.Versions = nil
	return &f
}

func copyVersion(v domain.FileVersion) domain.FileVersion {
	if v.DeletedAt != nil {
		at := *v.DeletedAt
		v.DeletedAt = &at
	}
	return v
}
