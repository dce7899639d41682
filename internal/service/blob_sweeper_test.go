package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docdrive/internal/domain"
	"docdrive/internal/repository"
)

func TestBlobSweeperRetriesFailedDeletes(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	f := fx.create(t, CreateFileInput{Name: "a", Key: "k1"})
	fx.blobs.failDelete["k1"] = errBucketDown
	_, err := fx.files.DeleteFile(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, fx.pending(t), 1)

	sweeper := NewBlobSweeper(fx.store, fx.blobs, fx.metrics, zerolog.Nop(), 10)

	stats, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Scanned: 1, Failed: 1}, stats)
	pending := fx.pending(t)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Attempts)

	delete(fx.blobs.failDelete, "k1")
	stats, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Scanned: 1, Deleted: 1}, stats)
	assert.Empty(t, fx.pending(t))
	assert.Equal(t, 3, fx.blobs.deleteCount("k1"))
	assert.Equal(t, float64(1), testutil.ToFloat64(fx.metrics.SweepBacklog))

	stats, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepStats{}, stats)
}

func TestBlobSweeperCompletesInterruptedDelete(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// A crash after commit leaves records that no one has tried yet.
	err := fx.store.WithTx(ctx, func(tx repository.Tx) error {
		return tx.EnqueueBlobDeletions(ctx, []domain.PendingBlobDeletion{
			{Key: "orphan-1"}, {Key: "orphan-2"}, {Key: "orphan-3"},
		})
	})
	require.NoError(t, err)

	sweeper := NewBlobSweeper(fx.store, fx.blobs, fx.metrics, zerolog.Nop(), 2)

	stats, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Deleted)
	assert.Len(t, fx.pending(t), 1)

	stats, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deleted)
	assert.Empty(t, fx.pending(t))

	for _, key := range []string{"orphan-1", "orphan-2", "orphan-3"} {
		assert.Equal(t, 1, fx.blobs.deleteCount(key), key)
	}
}

func TestBlobSweeperRunStopsOnCancel(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	err := fx.store.WithTx(ctx, func(tx repository.Tx) error {
		return tx.EnqueueBlobDeletions(ctx, []domain.PendingBlobDeletion{{Key: "late"}})
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- NewBlobSweeper(fx.store, fx.blobs, nil, zerolog.Nop(), 0).Run(ctx, 10*time.Millisecond)
	}()

	require.Eventually(t, func() bool {
		return fx.blobs.deleteCount("late") == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestBlobSweeperDoesNotStallBehindFailingRecord(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	stuck := fx.create(t, CreateFileInput{Name: "stuck", Key: "stuck"})
	recovers := fx.create(t, CreateFileInput{Name: "recovers", Key: "recovers"})
	fx.blobs.failDelete["stuck"] = errBucketDown
	fx.blobs.failDelete["recovers"] = errBucketDown

	_, err := fx.files.DeleteFile(ctx, stuck.ID)
	require.NoError(t, err)
	_, err = fx.files.DeleteFile(ctx, recovers.ID)
	require.NoError(t, err)
	require.Len(t, fx.pending(t), 2)

	delete(fx.blobs.failDelete, "recovers")
	sweeper := NewBlobSweeper(fx.store, fx.blobs, fx.metrics, zerolog.Nop(), 1)
	for i := 0; i < 3; i++ {
		_, err := sweeper.SweepOnce(ctx)
		require.NoError(t, err)
	}

	pending := fx.pending(t)
	require.Len(t, pending, 1)
	assert.Equal(t, "stuck", pending[0].Key)
	assert.Equal(t, 3, pending[0].Attempts)
	assert.Equal(t, 2, fx.blobs.deleteCount("recovers"))
}

func TestDeletedKeyStaysReservedUntilBlobIsGone(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	old := fx.create(t, CreateFileInput{Name: "a.txt", Key: "shared-key"})
	fx.blobs.failDelete["shared-key"] = errBucketDown
	_, err := fx.files.DeleteFile(ctx, old.ID)
	require.NoError(t, err)
	require.Len(t, fx.pending(t), 1)

	_, err = fx.files.CreateFile(ctx, CreateFileInput{Name: "b.txt", Key: "shared-key"})
	assert.ErrorIs(t, err, domain.ErrConflict)
	other := fx.create(t, CreateFileInput{Name: "c.txt"})
	_, err = fx.files.AddVersion(ctx, other.ID, AddVersionInput{Key: "shared-key"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	found, err := fx.files.FindFiles(ctx, "b.txt")
	require.NoError(t, err)
	assert.Empty(t, found, "rejected create leaves no file behind")

	delete(fx.blobs.failDelete, "shared-key")
	sweeper := NewBlobSweeper(fx.store, fx.blobs, fx.metrics, zerolog.Nop(), 10)
	_, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	require.Empty(t, fx.pending(t))

	res, err := fx.files.CreateFile(ctx, CreateFileInput{Name: "b.txt", Key: "shared-key"})
	require.NoError(t, err)
	require.NoError(t, fx.files.UploadContent(ctx, res.UploadURL, []byte("live"), "text/plain"))

	_, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	data, _, err := fx.files.DownloadContent(ctx, res.File.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("live"), data)
}
