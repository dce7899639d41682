package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	defaultTimeout  = 30 * time.Second
	transferTimeout = 10 * time.Minute
)

// Client talks to an S3-compatible object store.
type Client struct {
	client     *s3.Client
	presigner  *s3.PresignClient
	httpClient *http.Client
	bucket     string
	ttl        time.Duration
}

// NewClient builds a client without touching the network; call Ping to check
// that the bucket is reachable.
func NewClient(conf *Config) (*Client, error) {
	if conf == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid s3 configuration: %w", err)
	}

	creds := aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
		conf.AccessKeyID,
		conf.SecretAccessKey,
		"",
	))

	opts := s3.Options{
		Region:           conf.Region,
		Credentials:      creds,
		UsePathStyle:     conf.UsePathStyle,
		RetryMode:        aws.RetryModeAdaptive,
		RetryMaxAttempts: 3,
	}
	if conf.Endpoint != "" {
		opts.BaseEndpoint = aws.String(conf.Endpoint)
	}
	client := s3.New(opts)

	return &Client{
		client:     client,
		presigner:  s3.NewPresignClient(client),
		httpClient: &http.Client{Timeout: transferTimeout},
		bucket:     conf.Bucket,
		ttl:        conf.PresignTTL,
	}, nil
}

// Ping checks access to the bucket.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err != nil {
		return fmt.Errorf("unable to access bucket %s: %w", c.bucket, err)
	}
	return nil
}

func (c *Client) PresignPut(ctx context.Context, key, mimeType string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key is required")
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}
	if mimeType != "" {
		input.ContentType = aws.String(mimeType)
	}

	req, err := c.presigner.PresignPutObject(ctx, input, s3.WithPresignExpires(c.ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign upload of %s: %w", key, err)
	}
	return req.URL, nil
}

func (c *Client) PresignGet(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key is required")
	}

	req, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(c.ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign download of %s: %w", key, err)
	}
	return req.URL, nil
}

func (c *Client) DeleteObject(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check object existence: %w", err)
	}

	_, err = c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete object from S3: %w", err)
	}
	return nil
}

func (c *Client) Upload(ctx context.Context, url string, data []byte, mimeType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build upload request: %w", err)
	}
	req.ContentLength = int64(len(data))
	if mimeType != "" {
		req.Header.Set("Content-Type", mimeType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("upload rejected with status %d: %s", resp.StatusCode, body)
	}
	return nil
}

func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("download rejected with status %d: %s", resp.StatusCode, body)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read downloaded data: %w", err)
	}
	return data, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}

	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}

	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}
