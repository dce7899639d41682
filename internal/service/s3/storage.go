package s3

import "context"

// Storage is the blob store behind file versions. Content never passes
// through the metadata layer: clients move bytes with the signed URLs, and
// Upload/Download exist for tools that act as such a client.
type Storage interface {
	// PresignPut returns a URL that accepts a PUT of the object body. The
	// signature does not cover Content-Type; the uploader sets it.
	PresignPut(ctx context.Context, key, mimeType string) (string, error)
	PresignGet(ctx context.Context, key string) (string, error)
	// DeleteObject removes the object. A missing object counts as deleted.
	DeleteObject(ctx context.Context, key string) error

	Upload(ctx context.Context, url string, data []byte, mimeType string) error
	Download(ctx context.Context, url string) ([]byte, error)
}
