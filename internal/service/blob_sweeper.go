package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"docdrive/internal/domain"
	"docdrive/internal/repository"
	"docdrive/internal/service/s3"
)

const defaultSweepBatch = 100

// reapBlobs deletes the blobs of pending records and settles the records:
// successes are removed, failures keep their row with the error recorded.
// It returns the failures. Errors settling the records are only logged; the
// records stay pending and blob deletes are idempotent.
func reapBlobs(ctx context.Context, store repository.Store, blobs s3.Storage, pending []domain.PendingBlobDeletion, metrics *Metrics, logger zerolog.Logger) []BlobFailure {
	if len(pending) == 0 {
		return nil
	}

	var failures []BlobFailure
	errs := make([]error, len(pending))
	for i, p := range pending {
		errs[i] = blobs.DeleteObject(ctx, p.Key)
		metrics.blobDeleted(errs[i] == nil)
		if errs[i] != nil {
			logger.Warn().Err(errs[i]).Str("file_id", p.FileID.String()).Str("key", p.Key).
				Msg("failed to delete blob")
			failures = append(failures, BlobFailure{Key: p.Key, Error: errs[i].Error()})
		}
	}

	err := store.WithTx(ctx, func(tx repository.Tx) error {
		for i, p := range pending {
			var err error
			if errs[i] == nil {
				err = tx.AckBlobDeletion(ctx, p.ID)
			} else {
				err = tx.FailBlobDeletion(ctx, p.ID, errs[i].Error())
			}
			// Another reaper may have settled the record first.
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Int("records", len(pending)).Msg("failed to settle pending blob deletions")
	}
	return failures
}

type SweepStats struct {
	Scanned int `json:"scanned"`
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

// BlobSweeper retries blob deletions whose metadata is already gone, such as
// those interrupted by a crash or refused by the object store.
type BlobSweeper struct {
	store     repository.Store
	blobs     s3.Storage
	metrics   *Metrics
	logger    zerolog.Logger
	batchSize int
}

func NewBlobSweeper(store repository.Store, blobs s3.Storage, metrics *Metrics, logger zerolog.Logger, batchSize int) *BlobSweeper {
	if batchSize <= 0 {
		batchSize = defaultSweepBatch
	}
	return &BlobSweeper{
		store:     store,
		blobs:     blobs,
		metrics:   metrics,
		logger:    logger.With().Str("component", "sweeper").Logger(),
		batchSize: batchSize,
	}
}

// SweepOnce processes one batch of pending deletions, oldest first.
func (s *BlobSweeper) SweepOnce(ctx context.Context) (stats SweepStats, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("sweep", start, err) }()

	var pending []domain.PendingBlobDeletion
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		pending, err = tx.ListPendingBlobDeletions(ctx, s.batchSize)
		return err
	})
	if err != nil {
		return stats, err
	}
	if s.metrics != nil {
		s.metrics.SweepBacklog.Set(float64(len(pending)))
	}

	failures := reapBlobs(ctx, s.store, s.blobs, pending, s.metrics, s.logger)
	stats = SweepStats{
		Scanned: len(pending),
		Deleted: len(pending) - len(failures),
		Failed:  len(failures),
	}
	if stats.Scanned > 0 {
		s.logger.Info().
			Int("scanned", stats.Scanned).
			Int("deleted", stats.Deleted).
			Int("failed", stats.Failed).
			Msg("sweep finished")
	}
	return stats, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *BlobSweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", interval).Msg("blob sweeper started")
	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("sweep failed")
		}

		select {
		case <-ctx.Done():
			s.logger.Info().Msg("blob sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
