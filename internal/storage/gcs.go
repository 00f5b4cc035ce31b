package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/tripstack/credstore/internal/logging"
	"github.com/tripstack/credstore/pkg/credential"
	"github.com/tripstack/credstore/pkg/storage"
)

// GCSAPI defines the bucket operations the provider uses. The adapter
// over *storage.BucketHandle passes SDK errors through untouched so the
// provider owns all error mapping; tests return SDK sentinel errors
// directly.
type GCSAPI interface {
	Write(ctx context.Context, objectPath string, body io.Reader, attrs gcs.ObjectAttrs) error
	NewReader(ctx context.Context, objectPath string) (io.ReadCloser, error)
	Attrs(ctx context.Context, objectPath string) (*gcs.ObjectAttrs, error)
	Delete(ctx context.Context, objectPath string) error
	Objects(ctx context.Context, query *gcs.Query) ObjectIterator
	SignedURL(objectPath string, opts *gcs.SignedURLOptions) (string, error)
}

// ObjectIterator matches the iterator returned by BucketHandle.Objects.
type ObjectIterator interface {
	Next() (*gcs.ObjectAttrs, error)
}

// gcsBucket adapts *gcs.BucketHandle onto GCSAPI.
type gcsBucket struct {
	bucket *gcs.BucketHandle
}

func (b gcsBucket) Write(ctx context.Context, objectPath string, body io.Reader, attrs gcs.ObjectAttrs) error {
	w := b.bucket.Object(objectPath).NewWriter(ctx)
	w.ContentType = attrs.ContentType
	w.CacheControl = attrs.CacheControl
	w.Metadata = attrs.Metadata
	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (b gcsBucket) NewReader(ctx context.Context, objectPath string) (io.ReadCloser, error) {
	return b.bucket.Object(objectPath).NewReader(ctx)
}

func (b gcsBucket) Attrs(ctx context.Context, objectPath string) (*gcs.ObjectAttrs, error) {
	return b.bucket.Object(objectPath).Attrs(ctx)
}

func (b gcsBucket) Delete(ctx context.Context, objectPath string) error {
	return b.bucket.Object(objectPath).Delete(ctx)
}

func (b gcsBucket) Objects(ctx context.Context, query *gcs.Query) ObjectIterator {
	return b.bucket.Objects(ctx, query)
}

func (b gcsBucket) SignedURL(objectPath string, opts *gcs.SignedURLOptions) (string, error) {
	return b.bucket.SignedURL(objectPath, opts)
}

// GCSProvider stores objects in a Google Cloud Storage bucket.
//
// Like the Azure backend it always overwrites on upload; GCS write
// preconditions are not wired to UploadOptions.Upsert.
type GCSProvider struct {
	api    GCSAPI
	bucket string
	logger *logging.Logger
}

// GCSOption is a functional option for configuring the provider.
type GCSOption func(*GCSProvider)

// WithGCSAPI sets a custom bucket API (for testing).
func WithGCSAPI(api GCSAPI) GCSOption {
	return func(p *GCSProvider) { p.api = api }
}

// NewGCSProvider builds a GCS provider from resolved credential fields:
// project_id, credentials_json, bucket.
func NewGCSProvider(ctx context.Context, fields map[string]string, logger *logging.Logger, opts ...GCSOption) (*GCSProvider, error) {
	p := &GCSProvider{
		bucket: fields["bucket"],
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.api == nil {
		client, err := gcs.NewClient(ctx, option.WithCredentialsJSON([]byte(fields["credentials_json"])))
		if err != nil {
			return nil, fmt.Errorf("failed to create GCS client: %w", err)
		}
		p.api = gcsBucket{bucket: client.Bucket(p.bucket)}
	}
	return p, nil
}

// Upload stores an object, always overwriting any existing content.
func (p *GCSProvider) Upload(ctx context.Context, objectPath string, body io.Reader, opts storage.UploadOptions) error {
	attrs := gcs.ObjectAttrs{
		ContentType:  opts.ContentType,
		CacheControl: opts.CacheControl,
		Metadata:     opts.Metadata,
	}
	if err := p.api.Write(ctx, objectPath, body, attrs); err != nil {
		return p.wrap("upload", err)
	}
	return nil
}

// Download returns the object's content. The caller closes the reader.
func (p *GCSProvider) Download(ctx context.Context, objectPath string) (io.ReadCloser, error) {
	r, err := p.api.NewReader(ctx, objectPath)
	if err != nil {
		return nil, p.wrap("download", err)
	}
	return r, nil
}

// Delete removes one object. A missing object is not an error.
func (p *GCSProvider) Delete(ctx context.Context, objectPath string) error {
	err := p.api.Delete(ctx, objectPath)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return p.wrap("delete", err)
	}
	return nil
}

// DeleteMany removes several objects, continuing past failures and
// returning the first error.
func (p *GCSProvider) DeleteMany(ctx context.Context, paths []string) error {
	var first error
	for _, objectPath := range paths {
		if err := p.Delete(ctx, objectPath); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// List returns up to limit objects under prefix.
func (p *GCSProvider) List(ctx context.Context, prefix string, limit int) ([]storage.ObjectInfo, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	it := p.api.Objects(ctx, &gcs.Query{Prefix: prefix})
	var infos []storage.ObjectInfo
	for len(infos) < limit {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, p.wrap("list", err)
		}
		infos = append(infos, storage.ObjectInfo{
			Name:         path.Base(attrs.Name),
			Path:         attrs.Name,
			Size:         attrs.Size,
			LastModified: attrs.Updated,
			ContentType:  attrs.ContentType,
		})
	}
	return infos, nil
}

// SignedURL returns a V4-signed GET URL for the object.
func (p *GCSProvider) SignedURL(_ context.Context, objectPath string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = storage.DefaultSignedURLTTL
	}
	url, err := p.api.SignedURL(objectPath, &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().UTC().Add(ttl),
	})
	if err != nil {
		return "", p.wrap("sign", err)
	}
	return url, nil
}

// Exists reports whether the object is present. Errors are logged and
// reported as absence.
func (p *GCSProvider) Exists(ctx context.Context, objectPath string) bool {
	_, err := p.api.Attrs(ctx, objectPath)
	if err != nil {
		if !errors.Is(err, gcs.ErrObjectNotExist) {
			p.logger.Warn("gcs: existence check for %s failed: %v", objectPath, err)
		}
		return false
	}
	return true
}

// TestConnection lists the bucket and round-trips a canary object.
func (p *GCSProvider) TestConnection(ctx context.Context) storage.ConnectionTestResult {
	start := time.Now()

	it := p.api.Objects(ctx, &gcs.Query{})
	if _, err := it.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return gcsTestFailure(err, time.Since(start))
	}

	canary := fmt.Sprintf(".connection-test/canary-%d", time.Now().UnixNano())
	if err := p.api.Write(ctx, canary, strings.NewReader("connection test"), gcs.ObjectAttrs{}); err != nil {
		return gcsTestFailure(err, time.Since(start))
	}
	_ = p.Delete(ctx, canary)

	return storage.ConnectionTestResult{
		Success: true,
		Message: "connected to bucket " + p.bucket,
		Elapsed: time.Since(start),
	}
}

// Info identifies the backend.
func (p *GCSProvider) Info() storage.ProviderInfo {
	return storage.ProviderInfo{Name: string(credential.ProviderGCS), Bucket: p.bucket}
}

func (p *GCSProvider) wrap(op string, err error) error {
	return &credential.TransportError{
		Backend:  string(credential.ProviderGCS),
		Op:       op,
		NotFound: isGCSNotFound(err),
		Err:      err,
	}
}

func gcsTestFailure(err error, elapsed time.Duration) storage.ConnectionTestResult {
	message := "connection failed"
	var apiErr *googleapi.Error
	switch {
	case errors.Is(err, gcs.ErrBucketNotExist):
		message = "bucket not found"
	case errors.As(err, &apiErr) && apiErr.Code == 404:
		message = "bucket not found"
	case errors.As(err, &apiErr) && apiErr.Code == 401:
		message = "authentication failed; check the credentials JSON"
	case errors.As(err, &apiErr) && apiErr.Code == 403:
		message = "access denied"
	}
	return storage.ConnectionTestResult{
		Success: false,
		Message: message,
		Detail:  err.Error(),
		Elapsed: elapsed,
	}
}

func isGCSNotFound(err error) bool {
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return true
	}
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 404
}
