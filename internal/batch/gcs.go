package batch

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSSource reads gs://bucket/key objects.
type GCSSource struct {
	client *storage.Client
}

var _ Source = (*GCSSource)(nil)

// NewGCSSource authenticates with a service account key file.
func NewGCSSource(ctx context.Context, keyFile string) (*GCSSource, error) {
	if keyFile == "" {
		return nil, fmt.Errorf("GCS key file path is required")
	}
	client, err := storage.NewClient(ctx, option.WithAuthCredentialsFile(option.ServiceAccount, keyFile))
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSSource{client: client}, nil
}

// Open implements Source.
func (s *GCSSource) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := parseGCSPath(uri)
	if err != nil {
		return nil, err
	}
	r, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("read gcs object %s/%s: %w", bucket, key, err)
	}
	return r, nil
}

// Close releases the client.
func (s *GCSSource) Close() error {
	return s.client.Close()
}

// parseGCSPath extracts bucket and key from "gs://bucket/path/to/file".
func parseGCSPath(path string) (bucket, key string, err error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", "", fmt.Errorf("parse GCS path %q: %w", path, err)
	}
	if u.Scheme != "gs" {
		return "", "", fmt.Errorf("expected gs:// scheme, got %q in %q", u.Scheme, path)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("empty key in GCS path %q", path)
	}
	return bucket, key, nil
}
