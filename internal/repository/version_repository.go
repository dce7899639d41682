package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"docdrive/internal/domain"
)

const versionColumns = `id, file_id, storage_key, name, mime_type, size_bytes, seq, created_at, deleted_at`

func (t *pgTx) CreateVersion(ctx context.Context, version *domain.FileVersion) error {
	// storage_keys holds a key until its blob deletion is acked.
	if _, err := t.tx.ExecContext(ctx, `INSERT INTO storage_keys (storage_key) VALUES ($1)`, version.Key); err != nil {
		return mapError(err, "reserve storage key %s", version.Key)
	}

	query := `
        INSERT INTO file_versions (id, file_id, storage_key, name, mime_type, size_bytes)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING seq, created_at`

	err := t.tx.QueryRowxContext(ctx, query,
		version.ID,
		version.FileID,
		version.Key,
		version.Name,
		version.MIMEType,
		version.Size,
	).Scan(&version.Seq, &version.CreatedAt)
	if err != nil {
		return mapError(err, "create version with key %s", version.Key)
	}
	return nil
}

func (t *pgTx) ListVersions(ctx context.Context, fileIDs []uuid.UUID, includeDeleted bool) ([]domain.FileVersion, error) {
	versions := []domain.FileVersion{}
	if len(fileIDs) == 0 {
		return versions, nil
	}

	ids := make([]string, len(fileIDs))
	for i, id := range fileIDs {
		ids[i] = id.String()
	}

	query := `SELECT ` + versionColumns + ` FROM file_versions WHERE file_id = ANY($1::uuid[])`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY seq`

	if err := t.tx.SelectContext(ctx, &versions, query, pq.Array(ids)); err != nil {
		return nil, mapError(err, "list versions")
	}
	return versions, nil
}

func (t *pgTx) SoftDeleteVersion(ctx context.Context, fileID, versionID uuid.UUID, at time.Time) error {
	query := `
        UPDATE file_versions
        SET deleted_at = $3
        WHERE file_id = $1 AND id = $2 AND deleted_at IS NULL`

	result, err := t.tx.ExecContext(ctx, query, fileID, versionID, at)
	if err != nil {
		return mapError(err, "delete version %s", versionID)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: version %s of file %s", domain.ErrNotFound, versionID, fileID)
	}
	return nil
}

func (t *pgTx) PurgeVersions(ctx context.Context, fileID uuid.UUID) (int64, error) {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM file_versions WHERE file_id = $1`, fileID)
	if err != nil {
		return 0, mapError(err, "purge versions of %s", fileID)
	}
	return result.RowsAffected()
}
