package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"docdrive/internal/domain"
	"docdrive/internal/repository"
)

// AncestorsFor returns the path of a node placed in directoryID. A nil
// directory means the root and yields an empty path. Every create and move
// goes through here.
func AncestorsFor(ctx context.Context, tx repository.Tx, directoryID *uuid.UUID) (domain.Ancestors, error) {
	if directoryID == nil {
		return domain.Ancestors{}, nil
	}

	dir, err := tx.GetDirectory(ctx, *directoryID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: directory %s does not exist", domain.ErrInvalidTarget, *directoryID)
	}
	if err != nil {
		return nil, err
	}
	return dir.ChildAncestors(), nil
}

type DirectoryService struct {
	store   repository.Store
	metrics *Metrics
	logger  zerolog.Logger
}

func NewDirectoryService(store repository.Store, metrics *Metrics, logger zerolog.Logger) *DirectoryService {
	return &DirectoryService{
		store:   store,
		metrics: metrics,
		logger:  logger.With().Str("component", "directories").Logger(),
	}
}

func (s *DirectoryService) CreateDirectory(ctx context.Context, name string, parentID *uuid.UUID) (dir *domain.Directory, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("create_directory", start, err) }()

	name, err = cleanName(name)
	if err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		ancestors, err := AncestorsFor(ctx, tx, parentID)
		if err != nil {
			return err
		}

		dir = &domain.Directory{
			ID:        uuid.New(),
			Name:      name,
			ParentID:  parentID,
			Ancestors: ancestors,
		}
		return tx.CreateDirectory(ctx, dir)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("directory_id", dir.ID.String()).Str("name", dir.Name).Msg("directory created")
	return dir, nil
}

func (s *DirectoryService) GetDirectory(ctx context.Context, id uuid.UUID) (dir *domain.Directory, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("get_directory", start, err) }()

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		dir, err = tx.GetDirectory(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return dir, nil
}

// MoveDirectory re-parents a directory and rewrites the paths of everything
// below it in the same transaction. A nil parent moves it to the root.
func (s *DirectoryService) MoveDirectory(ctx context.Context, id uuid.UUID, newParentID *uuid.UUID) (dir *domain.Directory, err error) {
	start := time.Now()
	defer func() { s.metrics.observe("move_directory", start, err) }()

	var rebased int
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		dir, err = tx.GetDirectory(ctx, id)
		if err != nil {
			return err
		}

		if newParentID != nil && *newParentID == id {
			return fmt.Errorf("%w: directory %s cannot contain itself", domain.ErrInvalidTarget, id)
		}
		base, err := AncestorsFor(ctx, tx, newParentID)
		if err != nil {
			return err
		}
		if base.Contains(id) {
			return fmt.Errorf("%w: directory %s cannot move below itself", domain.ErrInvalidTarget, id)
		}

		dir.ParentID = newParentID
		dir.Ancestors = base
		if err := tx.UpdateDirectory(ctx, dir); err != nil {
			return err
		}

		subtree, err := tx.ListSubtreeDirectories(ctx, id)
		if err != nil {
			return err
		}
		for i := range subtree {
			d := &subtree[i]
			d.Ancestors = d.Ancestors.Rebase(id, base)
			if err := tx.UpdateDirectory(ctx, d); err != nil {
				return err
			}
		}

		files, err := tx.ListFilesUnder(ctx, id)
		if err != nil {
			return err
		}
		for i := range files {
			f := &files[i]
			f.Ancestors = f.Ancestors.Rebase(id, base)
			if err := tx.UpdateFile(ctx, f); err != nil {
				return err
			}
		}

		rebased = len(subtree) + len(files)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("directory_id", id.String()).
		Interface("parent_id", newParentID).
		Int("rebased", rebased).
		Msg("directory moved")
	return dir, nil
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is empty", domain.ErrInvalidArgument)
	}
	return name, nil
}
