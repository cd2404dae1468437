// Package batch loads tabular batches from local files or object storage and
// hands them to the execution backends.
package batch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"duck-expect/internal/config"
	"duck-expect/internal/domain"
)

// Source opens the object a URI points at.
type Source interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// LocalSource reads plain paths and file:// URIs.
type LocalSource struct{}

var _ Source = LocalSource{}

// Open implements Source.
func (LocalSource) Open(_ context.Context, uri string) (io.ReadCloser, error) {
	path := strings.TrimPrefix(uri, "file://")
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrNotFound("batch file %q does not exist", path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

// Router dispatches Open calls by URI scheme. Paths without a scheme go to
// the "file" source.
type Router struct {
	sources map[string]Source
	logger  *slog.Logger
}

var _ Source = (*Router)(nil)

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithSource registers src for scheme, replacing any previous source.
func WithSource(scheme string, src Source) RouterOption {
	return func(r *Router) { r.sources[strings.ToLower(scheme)] = src }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRouter returns a router with only the local source registered.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		sources: map[string]Source{"file": LocalSource{}},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewRouterFromConfig registers a source for every object store whose
// credentials are configured.
func NewRouterFromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Router, error) {
	opts := []RouterOption{WithLogger(logger)}
	st := cfg.Storage
	if st.HasS3Config() {
		src, err := NewS3Source(*st.S3KeyID, *st.S3Secret, *st.S3Endpoint, *st.S3Region)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithSource("s3", src))
	}
	if st.HasGCSConfig() {
		src, err := NewGCSSource(ctx, st.GCSKeyFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithSource("gs", src))
	}
	if st.HasAzureConfig() {
		src, err := NewAzureSource(st.AzureAccountName, st.AzureAccountKey)
		if err != nil {
			return nil, err
		}
		for _, scheme := range []string{"az", "abfss", "https"} {
			opts = append(opts, WithSource(scheme, src))
		}
	}
	return NewRouter(opts...), nil
}

// Open implements Source.
func (r *Router) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	scheme := Scheme(uri)
	src, ok := r.sources[scheme]
	if !ok {
		return nil, domain.ErrValidation("no batch source is configured for %s:// URIs", scheme)
	}
	r.logger.Debug("opening batch", "uri", uri, "scheme", scheme)
	return src.Open(ctx, uri)
}

// Scheme returns the lower-cased URI scheme, or "file" for plain paths.
// Windows drive letters are treated as paths.
func Scheme(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || len(u.Scheme) <= 1 {
		return "file"
	}
	return strings.ToLower(u.Scheme)
}
