// Package storetest holds the behaviour every repository.Store must share.
// Backends call Run from their own tests with a factory for a ready store.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docdrive/internal/domain"
	"docdrive/internal/repository"
)

// Factory returns a store. Stores may be shared between tests, so tests only
// rely on rows they created themselves.
type Factory func(t *testing.T) repository.Store

func Run(t *testing.T, newStore Factory) {
	t.Run("Directories", func(t *testing.T) { testDirectories(t, newStore(t)) })
	t.Run("Files", func(t *testing.T) { testFiles(t, newStore(t)) })
	t.Run("FilesUnderDirectory", func(t *testing.T) { testFilesUnder(t, newStore(t)) })
	t.Run("Versions", func(t *testing.T) { testVersions(t, newStore(t)) })
	t.Run("FindFiles", func(t *testing.T) { testFindFiles(t, newStore(t)) })
	t.Run("PendingBlobDeletions", func(t *testing.T) { testPendingBlobDeletions(t, newStore(t)) })
	t.Run("PendingBlobDeletionOrder", func(t *testing.T) { testPendingBlobDeletionOrder(t, newStore(t)) })
	t.Run("KeyReservedWhilePending", func(t *testing.T) { testKeyReservedWhilePending(t, newStore(t)) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("ConcurrentHistoryAppend", func(t *testing.T) { testConcurrentHistoryAppend(t, newStore(t)) })
}

var testTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func inTx(t *testing.T, store repository.Store, fn func(tx repository.Tx) error) {
	t.Helper()
	require.NoError(t, store.WithTx(context.Background(), fn))
}

func mustCreateDirectory(t *testing.T, store repository.Store, name string, parent *domain.Directory) *domain.Directory {
	t.Helper()
	dir := &domain.Directory{ID: uuid.New(), Name: name, Ancestors: domain.Ancestors{}}
	if parent != nil {
		dir.ParentID = &parent.ID
		dir.Ancestors = parent.ChildAncestors()
	}
	inTx(t, store, func(tx repository.Tx) error {
		return tx.CreateDirectory(context.Background(), dir)
	})
	return dir
}

func mustCreateFile(t *testing.T, store repository.Store, name string, dir *domain.Directory) *domain.File {
	t.Helper()
	file := &domain.File{ID: uuid.New(), Name: name, Ancestors: domain.Ancestors{}}
	if dir != nil {
		file.DirectoryID = &dir.ID
		file.Ancestors = dir.ChildAncestors()
	}
	file.History = domain.AppendHistory(nil, domain.CreatedEntry(name, "text/plain", 1, file.DirectoryID), testTime)
	inTx(t, store, func(tx repository.Tx) error {
		return tx.CreateFile(context.Background(), file)
	})
	return file
}

func mustCreateVersion(t *testing.T, store repository.Store, fileID uuid.UUID) *domain.FileVersion {
	t.Helper()
	v := &domain.FileVersion{
		ID:       uuid.New(),
		FileID:   fileID,
		Key:      "files/" + fileID.String() + "/" + uuid.NewString(),
		Name:     "content",
		MIMEType: "text/plain",
		Size:     5,
	}
	inTx(t, store, func(tx repository.Tx) error {
		return tx.CreateVersion(context.Background(), v)
	})
	return v
}

func testDirectories(t *testing.T, store repository.Store) {
	ctx := context.Background()
	top := mustCreateDirectory(t, store, "top", nil)
	child := mustCreateDirectory(t, store, "child", top)
	grandchild := mustCreateDirectory(t, store, "grandchild", child)

	inTx(t, store, func(tx repository.Tx) error {
		got, err := tx.GetDirectory(ctx, child.ID)
		require.NoError(t, err)
		assert.Equal(t, "child", got.Name)
		require.NotNil(t, got.ParentID)
		assert.Equal(t, top.ID, *got.ParentID)
		assert.Equal(t, domain.Ancestors{top.ID}, got.Ancestors)
		assert.False(t, got.CreatedAt.IsZero())

		got, err = tx.GetDirectory(ctx, top.ID)
		require.NoError(t, err)
		assert.Nil(t, got.ParentID)
		assert.Empty(t, got.Ancestors)

		_, err = tx.GetDirectory(ctx, uuid.New())
		assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)

		subtree, err := tx.ListSubtreeDirectories(ctx, top.ID)
		require.NoError(t, err)
		require.Len(t, subtree, 2)
		assert.Equal(t, child.ID, subtree[0].ID)
		assert.Equal(t, grandchild.ID, subtree[1].ID)
		return nil
	})

	inTx(t, store, func(tx repository.Tx) error {
		child.Name = "renamed"
		child.ParentID = nil
		child.Ancestors = domain.Ancestors{}
		return tx.UpdateDirectory(ctx, child)
	})

	inTx(t, store, func(tx repository.Tx) error {
		got, err := tx.GetDirectory(ctx, child.ID)
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Name)
		assert.Nil(t, got.ParentID)
		assert.Empty(t, got.Ancestors)

		err = tx.UpdateDirectory(ctx, &domain.Directory{ID: uuid.New(), Name: "ghost", Ancestors: domain.Ancestors{}})
		assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
		return nil
	})
}

func testFiles(t *testing.T, store repository.Store) {
	ctx := context.Background()
	dir := mustCreateDirectory(t, store, "docs", nil)
	file := mustCreateFile(t, store, "a.txt", dir)
	assert.Equal(t, int64(1), file.Revision)

	inTx(t, store, func(tx repository.Tx) error {
		got, err := tx.GetFile(ctx, file.ID, false)
		require.NoError(t, err)
		assert.Equal(t, "a.txt", got.Name)
		require.NotNil(t, got.DirectoryID)
		assert.Equal(t, dir.ID, *got.DirectoryID)
		assert.Equal(t, domain.Ancestors{dir.ID}, got.Ancestors)
		require.Len(t, got.History, 1)
		assert.Equal(t, domain.ActionCreated, got.History[0].Action)
		assert.Equal(t, "a.txt", got.History[0].Name)

		got.Name = "b.txt"
		got.DirectoryID = nil
		got.Ancestors = domain.Ancestors{}
		got.History = domain.AppendHistory(got.History, domain.RenamedEntry("b.txt"), testTime)
		require.NoError(t, tx.UpdateFile(ctx, got))
		assert.Equal(t, int64(2), got.Revision)
		return nil
	})

	inTx(t, store, func(tx repository.Tx) error {
		got, err := tx.GetFile(ctx, file.ID, true)
		require.NoError(t, err)
		assert.Equal(t, "b.txt", got.Name)
		assert.Nil(t, got.DirectoryID)
		assert.Empty(t, got.Ancestors)
		require.Len(t, got.History, 2)
		assert.Equal(t, domain.ActionRenamed, got.History[1].Action)
		assert.Equal(t, int64(2), got.Revision)
		return nil
	})

	t.Run("stale revision conflicts", func(t *testing.T) {
		stale := *file
		err := store.WithTx(ctx, func(tx repository.Tx) error {
			return tx.UpdateFile(ctx, &stale)
		})
		assert.True(t, errors.Is(err, domain.ErrConflict), "got %v", err)
	})

	t.Run("missing file", func(t *testing.T) {
		missing := &domain.File{ID: uuid.New(), Name: "x", Ancestors: domain.Ancestors{}, Revision: 1}
		inTx(t, store, func(tx repository.Tx) error {
			_, err := tx.GetFile(ctx, missing.ID, false)
			assert.True(t, errors.Is(err, domain.ErrNotFound), "get: %v", err)
			err = tx.UpdateFile(ctx, missing)
			assert.True(t, errors.Is(err, domain.ErrNotFound), "update: %v", err)
			err = tx.DeleteFile(ctx, missing.ID)
			assert.True(t, errors.Is(err, domain.ErrNotFound), "delete: %v", err)
			return nil
		})
	})

	inTx(t, store, func(tx repository.Tx) error {
		return tx.DeleteFile(ctx, file.ID)
	})
	inTx(t, store, func(tx repository.Tx) error {
		_, err := tx.GetFile(ctx, file.ID, false)
		assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
		return nil
	})
}

func testFilesUnder(t *testing.T, store repository.Store) {
	ctx := context.Background()
	top := mustCreateDirectory(t, store, "top", nil)
	child := mustCreateDirectory(t, store, "child", top)
	other := mustCreateDirectory(t, store, "other", nil)

	direct := mustCreateFile(t, store, "direct.txt", top)
	nested := mustCreateFile(t, store, "nested.txt", child)
	mustCreateFile(t, store, "elsewhere.txt", other)
	mustCreateFile(t, store, "root.txt", nil)

	inTx(t, store, func(tx repository.Tx) error {
		files, err := tx.ListFilesUnder(ctx, top.ID)
		require.NoError(t, err)
		ids := []uuid.UUID{}
		for _, f := range files {
			ids = append(ids, f.ID)
		}
		assert.ElementsMatch(t, []uuid.UUID{direct.ID, nested.ID}, ids)
		return nil
	})
}

func testVersions(t *testing.T, store repository.Store) {
	ctx := context.Background()
	file := mustCreateFile(t, store, "versions.txt", nil)
	other := mustCreateFile(t, store, "other.txt", nil)

	v1 := mustCreateVersion(t, store, file.ID)
	v2 := mustCreateVersion(t, store, file.ID)
	v3 := mustCreateVersion(t, store, file.ID)
	ov := mustCreateVersion(t, store, other.ID)
	assert.Less(t, v1.Seq, v2.Seq)
	assert.Less(t, v2.Seq, v3.Seq)

	t.Run("duplicate key conflicts", func(t *testing.T) {
		dup := &domain.FileVersion{ID: uuid.New(), FileID: file.ID, Key: v1.Key, Name: "dup", MIMEType: "text/plain"}
		err := store.WithTx(ctx, func(tx repository.Tx) error {
			return tx.CreateVersion(ctx, dup)
		})
		assert.True(t, errors.Is(err, domain.ErrConflict), "got %v", err)
	})

	inTx(t, store, func(tx repository.Tx) error {
		require.NoError(t, tx.SoftDeleteVersion(ctx, file.ID, v2.ID, testTime))
		err := tx.SoftDeleteVersion(ctx, file.ID, v2.ID, testTime)
		assert.True(t, errors.Is(err, domain.ErrNotFound), "second soft delete: %v", err)
		err = tx.SoftDeleteVersion(ctx, other.ID, v1.ID, testTime)
		assert.True(t, errors.Is(err, domain.ErrNotFound), "wrong owner: %v", err)
		return nil
	})

	inTx(t, store, func(tx repository.Tx) error {
		active, err := tx.ListVersions(ctx, []uuid.UUID{file.ID}, false)
		require.NoError(t, err)
		require.Len(t, active, 2)
		assert.Equal(t, v1.ID, active[0].ID)
		assert.Equal(t, v3.ID, active[1].ID)

		all, err := tx.ListVersions(ctx, []uuid.UUID{file.ID}, true)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, v2.ID, all[1].ID)
		require.NotNil(t, all[1].DeletedAt)
		assert.True(t, testTime.Equal(*all[1].DeletedAt))

		both, err := tx.ListVersions(ctx, []uuid.UUID{file.ID, other.ID}, false)
		require.NoError(t, err)
		assert.Len(t, both, 3)
		assert.Equal(t, ov.ID, both[2].ID)

		none, err := tx.ListVersions(ctx, nil, true)
		require.NoError(t, err)
		assert.NotNil(t, none)
		assert.Empty(t, none)
		return nil
	})

	inTx(t, store, func(tx repository.Tx) error {
		n, err := tx.PurgeVersions(ctx, file.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		all, err := tx.ListVersions(ctx, []uuid.UUID{file.ID, other.ID}, true)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, ov.ID, all[0].ID)
		return nil
	})
}

func testFindFiles(t *testing.T, store repository.Store) {
	ctx := context.Background()
	token := uuid.NewString()[:8]

	b := mustCreateFile(t, store, "b-report-"+token, nil)
	upper := mustCreateFile(t, store, "A-REPORT-"+token, nil)
	lower := mustCreateFile(t, store, "a-report-"+token, nil)
	pct := mustCreateFile(t, store, "100%-"+token, nil)
	mustCreateFile(t, store, "unrelated-"+uuid.NewString()[:8], nil)

	inTx(t, store, func(tx repository.Tx) error {
		files, err := tx.FindFiles(ctx, "Report-"+token)
		require.NoError(t, err)
		require.Len(t, files, 3)
		assert.Equal(t, upper.ID, files[0].ID)
		assert.Equal(t, lower.ID, files[1].ID)
		assert.Equal(t, b.ID, files[2].ID)

		files, err = tx.FindFiles(ctx, "%-"+token)
		require.NoError(t, err)
		require.Len(t, files, 1, "wildcards in the query must match literally")
		assert.Equal(t, pct.ID, files[0].ID)

		files, err = tx.FindFiles(ctx, "no-such-name-"+uuid.NewString())
		require.NoError(t, err)
		assert.NotNil(t, files)
		assert.Empty(t, files)

		first, err := tx.FindFiles(ctx, "")
		require.NoError(t, err)
		second, err := tx.FindFiles(ctx, "")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(first), 5)
		assert.Equal(t, ids(first), ids(second))
		return nil
	})
}

func ids(files []domain.File) []uuid.UUID {
	out := make([]uuid.UUID, len(files))
	for i, f := range files {
		out[i] = f.ID
	}
	return out
}

func testPendingBlobDeletions(t *testing.T, store repository.Store) {
	ctx := context.Background()
	fileID := uuid.New()
	pending := []domain.PendingBlobDeletion{
		{FileID: fileID, Key: "k1-" + fileID.String()},
		{FileID: fileID, Key: "k2-" + fileID.String()},
	}

	inTx(t, store, func(tx repository.Tx) error {
		return tx.EnqueueBlobDeletions(ctx, pending)
	})
	require.NotZero(t, pending[0].ID)
	require.Greater(t, pending[1].ID, pending[0].ID)

	mine := func(tx repository.Tx) []domain.PendingBlobDeletion {
		all, err := tx.ListPendingBlobDeletions(ctx, 10000)
		require.NoError(t, err)
		out := []domain.PendingBlobDeletion{}
		for _, p := range all {
			if p.FileID == fileID {
				out = append(out, p)
			}
		}
		return out
	}

	inTx(t, store, func(tx repository.Tx) error {
		limited, err := tx.ListPendingBlobDeletions(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)

		got := mine(tx)
		require.Len(t, got, 2)
		assert.Equal(t, pending[0].Key, got[0].Key)
		assert.Zero(t, got[0].Attempts)

		require.NoError(t, tx.FailBlobDeletion(ctx, pending[0].ID, "bucket unavailable"))
		require.NoError(t, tx.AckBlobDeletion(ctx, pending[1].ID))
		return nil
	})

	inTx(t, store, func(tx repository.Tx) error {
		got := mine(tx)
		require.Len(t, got, 1)
		assert.Equal(t, pending[0].ID, got[0].ID)
		assert.Equal(t, 1, got[0].Attempts)
		require.NotNil(t, got[0].LastError)
		assert.Equal(t, "bucket unavailable", *got[0].LastError)

		err := tx.AckBlobDeletion(ctx, pending[1].ID)
		assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
		return tx.AckBlobDeletion(ctx, pending[0].ID)
	})

	inTx(t, store, func(tx repository.Tx) error {
		assert.Empty(t, mine(tx))
		return nil
	})
}

func testPendingBlobDeletionOrder(t *testing.T, store repository.Store) {
	ctx := context.Background()
	fileID := uuid.New()
	pending := []domain.PendingBlobDeletion{
		{FileID: fileID, Key: "failing-" + fileID.String()},
		{FileID: fileID, Key: "fresh-" + fileID.String()},
	}
	inTx(t, store, func(tx repository.Tx) error {
		return tx.EnqueueBlobDeletions(ctx, pending)
	})

	inTx(t, store, func(tx repository.Tx) error {
		return tx.FailBlobDeletion(ctx, pending[0].ID, "still failing")
	})

	inTx(t, store, func(tx repository.Tx) error {
		all, err := tx.ListPendingBlobDeletions(ctx, 10000)
		require.NoError(t, err)
		var keys []string
		for _, p := range all {
			if p.FileID == fileID {
				keys = append(keys, p.Key)
			}
		}
		assert.Equal(t, []string{pending[1].Key, pending[0].Key}, keys)

		require.NoError(t, tx.AckBlobDeletion(ctx, pending[0].ID))
		return tx.AckBlobDeletion(ctx, pending[1].ID)
	})
}

func testKeyReservedWhilePending(t *testing.T, store repository.Store) {
	ctx := context.Background()
	file := mustCreateFile(t, store, "reaped.txt", nil)
	v := mustCreateVersion(t, store, file.ID)

	pending := []domain.PendingBlobDeletion{{FileID: file.ID, Key: v.Key}}
	inTx(t, store, func(tx repository.Tx) error {
		if err := tx.EnqueueBlobDeletions(ctx, pending); err != nil {
			return err
		}
		if _, err := tx.PurgeVersions(ctx, file.ID); err != nil {
			return err
		}
		return tx.DeleteFile(ctx, file.ID)
	})

	next := mustCreateFile(t, store, "reuse.txt", nil)
	reuse := func(key string) error {
		return store.WithTx(ctx, func(tx repository.Tx) error {
			return tx.CreateVersion(ctx, &domain.FileVersion{
				ID: uuid.New(), FileID: next.ID, Key: key, Name: next.Name, MIMEType: "text/plain",
			})
		})
	}

	err := reuse(v.Key)
	assert.True(t, errors.Is(err, domain.ErrConflict), "got %v", err)

	// A record enqueued without a version reserves its key too.
	orphan := []domain.PendingBlobDeletion{{FileID: uuid.New(), Key: "orphan-" + next.ID.String()}}
	inTx(t, store, func(tx repository.Tx) error {
		return tx.EnqueueBlobDeletions(ctx, orphan)
	})
	err = reuse(orphan[0].Key)
	assert.True(t, errors.Is(err, domain.ErrConflict), "got %v", err)

	inTx(t, store, func(tx repository.Tx) error {
		require.NoError(t, tx.AckBlobDeletion(ctx, pending[0].ID))
		return tx.AckBlobDeletion(ctx, orphan[0].ID)
	})
	require.NoError(t, reuse(v.Key))
	require.NoError(t, reuse(orphan[0].Key))

	inTx(t, store, func(tx repository.Tx) error {
		versions, err := tx.ListVersions(ctx, []uuid.UUID{next.ID}, true)
		require.NoError(t, err)
		assert.Len(t, versions, 2)
		return nil
	})
}

func testRollback(t *testing.T, store repository.Store) {
	ctx := context.Background()
	boom := errors.New("boom")
	file := &domain.File{ID: uuid.New(), Name: "rolled-back.txt", Ancestors: domain.Ancestors{}}
	file.History = domain.AppendHistory(nil, domain.CreatedEntry(file.Name, "text/plain", 1, nil), testTime)

	err := store.WithTx(ctx, func(tx repository.Tx) error {
		require.NoError(t, tx.CreateFile(ctx, file))
		require.NoError(t, tx.CreateVersion(ctx, &domain.FileVersion{
			ID: uuid.New(), FileID: file.ID, Key: "rollback-" + file.ID.String(), Name: file.Name, MIMEType: "text/plain",
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	inTx(t, store, func(tx repository.Tx) error {
		_, err := tx.GetFile(ctx, file.ID, false)
		assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
		versions, err := tx.ListVersions(ctx, []uuid.UUID{file.ID}, true)
		require.NoError(t, err)
		assert.Empty(t, versions)
		return nil
	})

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = store.WithTx(cancelled, func(tx repository.Tx) error {
		return tx.CreateFile(cancelled, file)
	})
	require.Error(t, err)
}

func testConcurrentHistoryAppend(t *testing.T, store repository.Store) {
	ctx := context.Background()
	file := mustCreateFile(t, store, "contended.txt", nil)

	const writers = 12
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.WithTx(ctx, func(tx repository.Tx) error {
				f, err := tx.GetFile(ctx, file.ID, true)
				if err != nil {
					return err
				}
				f.History = domain.AppendHistory(f.History, domain.RenamedEntry("contended.txt"), time.Now())
				return tx.UpdateFile(ctx, f)
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	inTx(t, store, func(tx repository.Tx) error {
		f, err := tx.GetFile(ctx, file.ID, false)
		require.NoError(t, err)
		assert.Len(t, f.History, writers+1)
		assert.Equal(t, int64(writers+1), f.Revision)
		return nil
	})
}
