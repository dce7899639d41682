package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"docdrive/internal/domain"
)

const fileColumns = `id, name, directory_id, ancestors, history, revision, created_at, updated_at`

func (t *pgTx) GetFile(ctx context.Context, id uuid.UUID, forUpdate bool) (*domain.File, error) {
	var file domain.File
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	if err := t.tx.GetContext(ctx, &file, query, id); err != nil {
		return nil, mapError(err, "get file %s", id)
	}
	return &file, nil
}

func (t *pgTx) CreateFile(ctx context.Context, file *domain.File) error {
	query := `
        INSERT INTO files (id, name, directory_id, ancestors, history, revision)
        VALUES ($1, $2, $3, $4, $5, 1)
        RETURNING revision, created_at, updated_at`

	err := t.tx.QueryRowxContext(ctx, query,
		file.ID,
		file.Name,
		file.DirectoryID,
		file.Ancestors,
		file.History,
	).Scan(&file.Revision, &file.CreatedAt, &file.UpdatedAt)
	if err != nil {
		return mapError(err, "create file %s", file.ID)
	}
	return nil
}

func (t *pgTx) UpdateFile(ctx context.Context, file *domain.File) error {
	query := `
        UPDATE files
        SET name = $2,
            directory_id = $3,
            ancestors = $4,
            history = $5,
            revision = revision + 1,
            updated_at = CURRENT_TIMESTAMP
        WHERE id = $1 AND revision = $6
        RETURNING revision, updated_at`

	err := t.tx.QueryRowxContext(ctx, query,
		file.ID,
		file.Name,
		file.DirectoryID,
		file.Ancestors,
		file.History,
		file.Revision,
	).Scan(&file.Revision, &file.UpdatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return mapError(err, "update file %s", file.ID)
	}

	var exists bool
	if err := t.tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM files WHERE id = $1)`, file.ID); err != nil {
		return mapError(err, "check file %s", file.ID)
	}
	if !exists {
		return fmt.Errorf("%w: file %s", domain.ErrNotFound, file.ID)
	}
	return fmt.Errorf("%w: file %s changed since revision %d", domain.ErrConflict, file.ID, file.Revision)
}

func (t *pgTx) DeleteFile(ctx context.Context, id uuid.UUID) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return mapError(err, "delete file %s", id)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: file %s", domain.ErrNotFound, id)
	}
	return nil
}

func (t *pgTx) ListFilesUnder(ctx context.Context, directoryID uuid.UUID) ([]domain.File, error) {
	files := []domain.File{}
	query := `
        SELECT ` + fileColumns + `
        FROM files
        WHERE ancestors @> ARRAY[$1::uuid]
        ORDER BY id
        FOR UPDATE`

	if err := t.tx.SelectContext(ctx, &files, query, directoryID); err != nil {
		return nil, mapError(err, "list files under %s", directoryID)
	}
	return files, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (t *pgTx) FindFiles(ctx context.Context, query string) ([]domain.File, error) {
	files := []domain.File{}
	q := `
        SELECT ` + fileColumns + `
        FROM files
        WHERE name ILIKE '%' || $1 || '%'
        ORDER BY name COLLATE "C", id`

	if err := t.tx.SelectContext(ctx, &files, q, likeEscaper.Replace(query)); err != nil {
		return nil, mapError(err, "find files matching %q", query)
	}
	return files, nil
}
