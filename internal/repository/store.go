package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"docdrive/internal/domain"
)

// PostgresStore keeps metadata in PostgreSQL. Every Tx method runs on the
// transaction opened by WithTx.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Connect opens a pool, retrying while the database is still starting up.
func Connect(ctx context.Context, dsn string, maxAttempts int, delay time.Duration, logger zerolog.Logger) (*sqlx.DB, error) {
	var db *sqlx.DB
	var err error
	for i := 0; i < maxAttempts; i++ {
		db, err = sqlx.ConnectContext(ctx, "postgres", dsn)
		if err == nil {
			return db, nil
		}

		logger.Warn().Err(err).Int("attempt", i+1).Int("max_attempts", maxAttempts).
			Msg("failed to connect to database")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxAttempts, err)
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type pgTx struct {
	tx *sqlx.Tx
}

// mapError translates driver errors into domain error kinds.
func mapError(err error, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s: %s", domain.ErrConflict, msg, pqErr.Detail)
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s: %s", domain.ErrConflict, msg, pqErr.Message)
		}
	}
	return fmt.Errorf("failed to %s: %w", msg, err)
}
