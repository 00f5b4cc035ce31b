// Package storage defines the object-storage abstraction. Amazon S3,
// Google Cloud Storage, and Azure Blob Storage implementations live in
// internal/storage and are interchangeable behind the Provider
// interface; callers choose a backend by provider name, never by SDK.
package storage

import (
	"context"
	"io"
	"time"
)

// DefaultSignedURLTTL is the signed-URL lifetime applied when the
// caller passes a non-positive duration.
const DefaultSignedURLTTL = time.Hour

// DefaultListLimit caps List results when the caller passes a
// non-positive limit.
const DefaultListLimit = 1000

// UploadOptions control a single upload.
type UploadOptions struct {
	// ContentType is stored as the object's Content-Type. Empty means
	// the backend default (usually application/octet-stream).
	ContentType string

	// CacheControl is stored as the object's Cache-Control header.
	CacheControl string

	// Upsert allows overwriting an existing object. When false the
	// upload of an existing key fails where the backend can express
	// the precondition; see each implementation for what is enforced.
	Upsert bool

	// Metadata is attached to the object as user-defined key/value
	// pairs.
	Metadata map[string]string
}

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	// Name is the object's base name.
	Name string

	// Path is the full key within the bucket or container.
	Path string

	// Size is the object size in bytes.
	Size int64

	// LastModified is the backend's modification timestamp.
	LastModified time.Time

	// ContentType is the stored Content-Type, when the backend reports
	// one during listing.
	ContentType string
}

// ConnectionTestResult reports the outcome of a connectivity probe.
type ConnectionTestResult struct {
	// Success is true when the probe completed end to end.
	Success bool

	// Message is a short human-readable outcome, e.g. "connected" or
	// "bucket not found".
	Message string

	// Detail carries the underlying error text on failure.
	Detail string

	// Elapsed is the wall-clock probe duration.
	Elapsed time.Duration
}

// ProviderInfo identifies a configured backend.
type ProviderInfo struct {
	// Name is the provider key ("s3", "gcs", "azure-blob").
	Name string

	// Bucket is the bucket or container the provider operates on.
	Bucket string
}

// Provider is the uniform object-storage surface. Implementations
// normalize backend-specific errors onto credential.TransportError so
// callers can branch on not-found without knowing the SDK.
type Provider interface {
	// Upload stores the object at path, creating or overwriting per
	// opts.Upsert.
	Upload(ctx context.Context, path string, body io.Reader, opts UploadOptions) error

	// Download returns a reader over the object's content. The caller
	// closes it.
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes one object. Deleting a missing object is not an
	// error.
	Delete(ctx context.Context, path string) error

	// DeleteMany removes several objects, continuing past individual
	// failures and returning the first error encountered.
	DeleteMany(ctx context.Context, paths []string) error

	// List returns up to limit objects under prefix.
	List(ctx context.Context, prefix string, limit int) ([]ObjectInfo, error)

	// SignedURL returns a time-limited URL granting read access to the
	// object.
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)

	// Exists reports whether the object is present. Backend errors are
	// swallowed and reported as absence; Exists never fails.
	Exists(ctx context.Context, path string) bool

	// TestConnection probes the backend with a list call and a canary
	// write/delete round-trip.
	TestConnection(ctx context.Context) ConnectionTestResult

	// Info identifies the backend and target bucket.
	Info() ProviderInfo
}
