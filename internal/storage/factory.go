package storage

import (
	"context"

	"github.com/tripstack/credstore/internal/logging"
	"github.com/tripstack/credstore/pkg/credential"
	"github.com/tripstack/credstore/pkg/storage"
)

// NewProvider builds the storage backend for a provider name from its
// resolved credential fields. Only storage-kind providers have a
// backend; api-kind providers are probed by the apiprobe package.
func NewProvider(ctx context.Context, p credential.Provider, fields map[string]string, logger *logging.Logger) (storage.Provider, error) {
	switch p {
	case credential.ProviderS3:
		return NewS3Provider(fields, logger)
	case credential.ProviderGCS:
		return NewGCSProvider(ctx, fields, logger)
	case credential.ProviderAzureBlob:
		return NewAzureBlobProvider(fields, logger)
	default:
		return nil, &credential.NotFoundError{Kind: "storage backend", Key: string(p)}
	}
}
