package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docdrive/internal/domain"
	"docdrive/internal/repository"
)

func TestAncestorsFor(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	top := fx.mkdir(t, "top", nil)
	child := fx.mkdir(t, "child", top)

	err := fx.store.WithTx(ctx, func(tx repository.Tx) error {
		got, err := AncestorsFor(ctx, tx, nil)
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)

		got, err = AncestorsFor(ctx, tx, &top.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.Ancestors{top.ID}, got)

		got, err = AncestorsFor(ctx, tx, &child.ID)
		require.NoError(t, err)
		assert.Equal(t, append(child.Ancestors, child.ID), got)

		_, err = AncestorsFor(ctx, tx, ptr(uuid.New()))
		assert.ErrorIs(t, err, domain.ErrInvalidTarget)
		return nil
	})
	require.NoError(t, err)
}

func TestCreateDirectory(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	top := fx.mkdir(t, "  top  ", nil)
	assert.Equal(t, "top", top.Name)
	assert.Nil(t, top.ParentID)
	assert.Empty(t, top.Ancestors)

	child := fx.mkdir(t, "child", top)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, top.ID, *child.ParentID)
	assert.Equal(t, domain.Ancestors{top.ID}, child.Ancestors)

	got, err := fx.dirs.GetDirectory(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, child.Ancestors, got.Ancestors)

	_, err = fx.dirs.CreateDirectory(ctx, "orphan", ptr(uuid.New()))
	assert.ErrorIs(t, err, domain.ErrInvalidTarget)

	_, err = fx.dirs.CreateDirectory(ctx, " ", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = fx.dirs.GetDirectory(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMoveDirectoryRebasesSubtree(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	d1 := fx.mkdir(t, "d1", nil)
	d2 := fx.mkdir(t, "d2", d1)
	d3 := fx.mkdir(t, "d3", d2)
	other := fx.mkdir(t, "other", nil)
	deep := fx.create(t, CreateFileInput{Name: "deep.txt", DirectoryID: &d3.ID})
	shallow := fx.create(t, CreateFileInput{Name: "shallow.txt", DirectoryID: &d2.ID})
	outside := fx.create(t, CreateFileInput{Name: "outside.txt", DirectoryID: &d1.ID})

	moved, err := fx.dirs.MoveDirectory(ctx, d2.ID, &other.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Ancestors{other.ID}, moved.Ancestors)
	require.NotNil(t, moved.ParentID)
	assert.Equal(t, other.ID, *moved.ParentID)

	got, err := fx.dirs.GetDirectory(ctx, d3.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Ancestors{other.ID, d2.ID}, got.Ancestors)
	require.NotNil(t, got.ParentID)
	assert.Equal(t, d2.ID, *got.ParentID)

	f, err := fx.files.GetFile(ctx, deep.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Ancestors{other.ID, d2.ID, d3.ID}, f.Ancestors)
	assert.Len(t, f.History, 1, "moving a directory does not touch file history")

	f, err = fx.files.GetFile(ctx, shallow.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Ancestors{other.ID, d2.ID}, f.Ancestors)

	f, err = fx.files.GetFile(ctx, outside.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Ancestors{d1.ID}, f.Ancestors)

	t.Run("to root", func(t *testing.T) {
		moved, err := fx.dirs.MoveDirectory(ctx, d2.ID, nil)
		require.NoError(t, err)
		assert.Empty(t, moved.Ancestors)
		assert.Nil(t, moved.ParentID)

		f, err := fx.files.GetFile(ctx, deep.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.Ancestors{d2.ID, d3.ID}, f.Ancestors)
	})

	t.Run("rejects cycles", func(t *testing.T) {
		_, err := fx.dirs.MoveDirectory(ctx, d2.ID, &d2.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidTarget)

		_, err = fx.dirs.MoveDirectory(ctx, d2.ID, &d3.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidTarget)

		got, err := fx.dirs.GetDirectory(ctx, d3.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.Ancestors{d2.ID}, got.Ancestors)
	})

	t.Run("missing directory or target", func(t *testing.T) {
		_, err := fx.dirs.MoveDirectory(ctx, uuid.New(), nil)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		_, err = fx.dirs.MoveDirectory(ctx, d2.ID, ptr(uuid.New()))
		assert.ErrorIs(t, err, domain.ErrInvalidTarget)
	})
}
