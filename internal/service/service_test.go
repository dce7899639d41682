package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"docdrive/internal/domain"
	"docdrive/internal/repository"
	"docdrive/internal/repository/memory"
)

const blobHost = "https://blobs.test"

// fakeBlobs is an in-memory s3.Storage that counts deletes and can be told
// to fail.
type fakeBlobs struct {
	mu         sync.Mutex
	objects    map[string][]byte
	deletes    map[string]int
	failDelete map[string]error
	presignErr error
	onDelete   func(key string)
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{
		objects:    map[string][]byte{},
		deletes:    map[string]int{},
		failDelete: map[string]error{},
	}
}

func (f *fakeBlobs) PresignPut(ctx context.Context, key, mimeType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.presignErr != nil {
		return "", f.presignErr
	}
	return blobHost + "/put/" + key, nil
}

func (f *fakeBlobs) PresignGet(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.presignErr != nil {
		return "", f.presignErr
	}
	return blobHost + "/get/" + key, nil
}

func (f *fakeBlobs) DeleteObject(ctx context.Context, key string) error {
	if f.onDelete != nil {
		f.onDelete(key)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes[key]++
	if err := f.failDelete[key]; err != nil {
		return err
	}
	delete(f.objects, key)
	return nil
}

func (f *fakeBlobs) Upload(ctx context.Context, url string, data []byte, mimeType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, ok := strings.CutPrefix(url, blobHost+"/put/")
	if !ok {
		return fmt.Errorf("unexpected upload url %s", url)
	}
	f.objects[key] = append([]byte(nil), data...)
	return nil
}

func (f *fakeBlobs) Download(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, ok := strings.CutPrefix(url, blobHost+"/get/")
	if !ok {
		return nil, fmt.Errorf("unexpected download url %s", url)
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("status 404")
	}
	return data, nil
}

func (f *fakeBlobs) deleteCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deletes[key]
}

type fixture struct {
	store   *memory.Store
	blobs   *fakeBlobs
	metrics *Metrics
	files   *FileService
	dirs    *DirectoryService
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	blobs := newFakeBlobs()
	metrics := NewMetrics(prometheus.NewRegistry())
	logger := zerolog.Nop()

	files := NewFileService(store, blobs, metrics, logger)
	files.now = func() time.Time { return fixedNow }

	return &fixture{
		store:   store,
		blobs:   blobs,
		metrics: metrics,
		files:   files,
		dirs:    NewDirectoryService(store, metrics, logger),
	}
}

func (fx *fixture) mkdir(t *testing.T, name string, parent *domain.Directory) *domain.Directory {
	t.Helper()
	var parentID *uuid.UUID
	if parent != nil {
		parentID = &parent.ID
	}
	dir, err := fx.dirs.CreateDirectory(context.Background(), name, parentID)
	require.NoError(t, err)
	return dir
}

func (fx *fixture) create(t *testing.T, in CreateFileInput) *domain.File {
	t.Helper()
	if in.MIMEType == "" {
		in.MIMEType = "text/plain"
	}
	res, err := fx.files.CreateFile(context.Background(), in)
	require.NoError(t, err)
	return res.File
}

func (fx *fixture) pending(t *testing.T) []domain.PendingBlobDeletion {
	t.Helper()
	var pending []domain.PendingBlobDeletion
	err := fx.store.WithTx(context.Background(), func(tx repository.Tx) error {
		var err error
		pending, err = tx.ListPendingBlobDeletions(context.Background(), 1000)
		return err
	})
	require.NoError(t, err)
	return pending
}

func (fx *fixture) allVersions(t *testing.T, fileID uuid.UUID) []domain.FileVersion {
	t.Helper()
	var versions []domain.FileVersion
	err := fx.store.WithTx(context.Background(), func(tx repository.Tx) error {
		var err error
		versions, err = tx.ListVersions(context.Background(), []uuid.UUID{fileID}, true)
		return err
	})
	require.NoError(t, err)
	return versions
}

func ptr(id uuid.UUID) *uuid.UUID {
	return &id
}

var errBucketDown = errors.New("bucket unavailable")
