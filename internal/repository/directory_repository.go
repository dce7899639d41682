package repository

import (
	"context"

	"github.com/google/uuid"

	"docdrive/internal/domain"
)

const directoryColumns = `id, name, parent_id, ancestors, created_at, updated_at`

func (t *pgTx) GetDirectory(ctx context.Context, id uuid.UUID) (*domain.Directory, error) {
	var dir domain.Directory
	query := `SELECT ` + directoryColumns + ` FROM directories WHERE id = $1 FOR SHARE`

	if err := t.tx.GetContext(ctx, &dir, query, id); err != nil {
		return nil, mapError(err, "get directory %s", id)
	}
	return &dir, nil
}

func (t *pgTx) CreateDirectory(ctx context.Context, dir *domain.Directory) error {
	query := `
        INSERT INTO directories (id, name, parent_id, ancestors)
        VALUES ($1, $2, $3, $4)
        RETURNING created_at, updated_at`

	err := t.tx.QueryRowxContext(ctx, query,
		dir.ID,
		dir.Name,
		dir.ParentID,
		dir.Ancestors,
	).Scan(&dir.CreatedAt, &dir.UpdatedAt)
	if err != nil {
		return mapError(err, "create directory %s", dir.ID)
	}
	return nil
}

func (t *pgTx) UpdateDirectory(ctx context.Context, dir *domain.Directory) error {
	query := `
        UPDATE directories
        SET name = $2,
            parent_id = $3,
            ancestors = $4,
            updated_at = CURRENT_TIMESTAMP
        WHERE id = $1
        RETURNING updated_at`

	err := t.tx.QueryRowxContext(ctx, query,
		dir.ID,
		dir.Name,
		dir.ParentID,
		dir.Ancestors,
	).Scan(&dir.UpdatedAt)
	if err != nil {
		return mapError(err, "update directory %s", dir.ID)
	}
	return nil
}

func (t *pgTx) ListSubtreeDirectories(ctx context.Context, id uuid.UUID) ([]domain.Directory, error) {
	dirs := []domain.Directory{}
	query := `
        SELECT ` + directoryColumns + `
        FROM directories
        WHERE ancestors @> ARRAY[$1::uuid]
        ORDER BY cardinality(ancestors), id
        FOR UPDATE`

	if err := t.tx.SelectContext(ctx, &dirs, query, id); err != nil {
		return nil, mapError(err, "list directories under %s", id)
	}
	return dirs, nil
}
