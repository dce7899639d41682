package s3

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	c, err := NewClient(&Config{
		Endpoint:        endpoint,
		Region:          "us-east-1",
		AccessKeyID:     "test-access",
		SecretAccessKey: "test-secret",
		Bucket:          "docs",
		UsePathStyle:    true,
		PresignTTL:      5 * time.Minute,
	})
	require.NoError(t, err)
	return c
}

func TestNewClientValidatesConfig(t *testing.T) {
	_, err := NewClient(nil)
	assert.Error(t, err)

	_, err = NewClient(&Config{AccessKeyID: "a", SecretAccessKey: "b"})
	assert.ErrorContains(t, err, "Bucket is required")

	conf := &Config{AccessKeyID: "a", SecretAccessKey: "b", Bucket: "c"}
	_, err = NewClient(conf)
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", conf.Region)
	assert.Equal(t, defaultPresignTTL, conf.PresignTTL)
}

func TestPresign(t *testing.T) {
	c := newTestClient(t, "http://localhost:9000")
	ctx := context.Background()

	t.Run("put", func(t *testing.T) {
		raw, err := c.PresignPut(ctx, "files/abc/123", "text/plain")
		require.NoError(t, err)

		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "localhost:9000", u.Host)
		assert.Equal(t, "/docs/files/abc/123", u.Path)
		assert.Equal(t, "300", u.Query().Get("X-Amz-Expires"))
		assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
		assert.Contains(t, u.Query().Get("X-Amz-SignedHeaders"), "host")
	})

	t.Run("get", func(t *testing.T) {
		raw, err := c.PresignGet(ctx, "files/abc/123")
		require.NoError(t, err)

		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "/docs/files/abc/123", u.Path)
		assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
	})

	t.Run("empty key", func(t *testing.T) {
		_, err := c.PresignPut(ctx, "", "text/plain")
		assert.Error(t, err)
		_, err = c.PresignGet(ctx, "")
		assert.Error(t, err)
	})
}

func TestUploadDownload(t *testing.T) {
	var mu sync.Mutex
	objects := map[string][]byte{}
	types := map[string]string{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		switch r.Method {
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			objects[r.URL.Path] = body
			types[r.URL.Path] = r.Header.Get("Content-Type")
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			body, ok := objects[r.URL.Path]
			if !ok {
				http.Error(w, "NoSuchKey", http.StatusNotFound)
				return
			}
			w.Write(body)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	require.NoError(t, c.Upload(ctx, srv.URL+"/docs/a", []byte("hello"), "text/plain"))
	assert.Equal(t, "text/plain", types["/docs/a"])

	data, err := c.Download(ctx, srv.URL+"/docs/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	_, err = c.Download(ctx, srv.URL+"/docs/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestDeleteObject(t *testing.T) {
	var mu sync.Mutex
	var requests []string
	existing := map[string]bool{"/docs/present": true}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		requests = append(requests, r.Method+" "+r.URL.Path)

		switch r.Method {
		case http.MethodHead:
			if !existing[r.URL.Path] {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Length", "0")
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			delete(existing, r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	require.NoError(t, c.DeleteObject(ctx, "present"))
	require.NoError(t, c.DeleteObject(ctx, "present"), "deleting a missing object succeeds")

	mu.Lock()
	defer mu.Unlock()
	deletes := 0
	for _, r := range requests {
		if strings.HasPrefix(r, http.MethodDelete) {
			deletes++
		}
	}
	assert.Equal(t, 1, deletes)
	assert.False(t, existing["/docs/present"])
}
