package repository

import (
	"context"
	"fmt"

	"docdrive/internal/domain"
)

const pendingColumns = `id, file_id, storage_key, attempts, last_error, created_at, updated_at`

func (t *pgTx) EnqueueBlobDeletions(ctx context.Context, pending []domain.PendingBlobDeletion) error {
	query := `
        INSERT INTO pending_blob_deletions (file_id, storage_key)
        VALUES ($1, $2)
        RETURNING id, attempts, created_at, updated_at`
	reserve := `INSERT INTO storage_keys (storage_key) VALUES ($1) ON CONFLICT DO NOTHING`

	for i := range pending {
		p := &pending[i]
		if _, err := t.tx.ExecContext(ctx, reserve, p.Key); err != nil {
			return mapError(err, "reserve storage key %s", p.Key)
		}
		err := t.tx.QueryRowxContext(ctx, query, p.FileID, p.Key).
			Scan(&p.ID, &p.Attempts, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return mapError(err, "enqueue blob deletion for %s", p.Key)
		}
	}
	return nil
}

// ListPendingBlobDeletions returns the records least recently tried first, so
// records that keep failing do not starve the rest.
func (t *pgTx) ListPendingBlobDeletions(ctx context.Context, limit int) ([]domain.PendingBlobDeletion, error) {
	pending := []domain.PendingBlobDeletion{}
	query := `SELECT ` + pendingColumns + ` FROM pending_blob_deletions ORDER BY updated_at, id LIMIT $1`

	if err := t.tx.SelectContext(ctx, &pending, query, limit); err != nil {
		return nil, mapError(err, "list pending blob deletions")
	}
	return pending, nil
}

// AckBlobDeletion drops the record and releases its key once nothing else
// holds it.
func (t *pgTx) AckBlobDeletion(ctx context.Context, id int64) error {
	var key string
	err := t.tx.GetContext(ctx, &key, `DELETE FROM pending_blob_deletions WHERE id = $1 RETURNING storage_key`, id)
	if err != nil {
		return mapError(err, "pending blob deletion %d", id)
	}

	query := `
        DELETE FROM storage_keys k
        WHERE k.storage_key = $1
          AND NOT EXISTS (SELECT 1 FROM pending_blob_deletions p WHERE p.storage_key = k.storage_key)
          AND NOT EXISTS (SELECT 1 FROM file_versions v WHERE v.storage_key = k.storage_key)`

	if _, err := t.tx.ExecContext(ctx, query, key); err != nil {
		return mapError(err, "release storage key %s", key)
	}
	return nil
}

func (t *pgTx) FailBlobDeletion(ctx context.Context, id int64, reason string) error {
	query := `
        UPDATE pending_blob_deletions
        SET attempts = attempts + 1,
            last_error = $2,
            updated_at = CURRENT_TIMESTAMP
        WHERE id = $1`

	result, err := t.tx.ExecContext(ctx, query, id, reason)
	if err != nil {
		return mapError(err, "record blob deletion failure %d", id)
	}
	return expectOneRow(result.RowsAffected, "pending blob deletion %d", id)
}

func expectOneRow(rowsAffected func() (int64, error), format string, args ...interface{}) error {
	n, err := rowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, fmt.Sprintf(format, args...))
	}
	return nil
}
