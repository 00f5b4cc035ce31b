package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"

	"github.com/tripstack/credstore/internal/logging"
	"github.com/tripstack/credstore/pkg/credential"
	"github.com/tripstack/credstore/pkg/storage"
)

// AzureBlobAPI defines the blob-service operations the provider uses.
// *azblob.Client satisfies it; tests substitute a mock.
type AzureBlobAPI interface {
	UploadStream(ctx context.Context, containerName, blobName string, body io.Reader, o *azblob.UploadStreamOptions) (azblob.UploadStreamResponse, error)
	DownloadStream(ctx context.Context, containerName, blobName string, o *azblob.DownloadStreamOptions) (azblob.DownloadStreamResponse, error)
	DeleteBlob(ctx context.Context, containerName, blobName string, o *azblob.DeleteBlobOptions) (azblob.DeleteBlobResponse, error)
	NewListBlobsFlatPager(containerName string, o *azblob.ListBlobsFlatOptions) *runtime.Pager[azblob.ListBlobsFlatResponse]
}

// AzureBlobProvider stores objects in an Azure Blob Storage container.
//
// Unlike the S3 backend it cannot suppress overwrites: uploads always
// replace an existing blob regardless of UploadOptions.Upsert.
type AzureBlobProvider struct {
	client    AzureBlobAPI
	container string
	logger    *logging.Logger

	// sign produces a read-only SAS URL. Injectable for tests; the
	// default signs with the shared account key.
	sign func(blobName string, expiry time.Time) (string, error)
}

// AzureBlobOption is a functional option for configuring the provider.
type AzureBlobOption func(*AzureBlobProvider)

// WithAzureBlobClient sets a custom blob client (for testing).
func WithAzureBlobClient(client AzureBlobAPI) AzureBlobOption {
	return func(p *AzureBlobProvider) { p.client = client }
}

// WithAzureSigner sets a custom SAS signer (for testing).
func WithAzureSigner(sign func(blobName string, expiry time.Time) (string, error)) AzureBlobOption {
	return func(p *AzureBlobProvider) { p.sign = sign }
}

// NewAzureBlobProvider builds an Azure provider from resolved credential
// fields: account_name, account_key, container. When account_key is
// empty the provider authenticates with the ambient Azure identity
// (workload identity, managed identity, or CLI login); signed URLs are
// unavailable in that mode because SAS tokens require the shared key.
func NewAzureBlobProvider(fields map[string]string, logger *logging.Logger, opts ...AzureBlobOption) (*AzureBlobProvider, error) {
	p := &AzureBlobProvider{
		container: fields["container"],
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client != nil {
		return p, nil
	}

	accountName := fields["account_name"]
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net", accountName)

	if key := fields["account_key"]; key != "" {
		cred, err := azblob.NewSharedKeyCredential(accountName, key)
		if err != nil {
			return nil, fmt.Errorf("invalid Azure storage key: %w", err)
		}
		client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure blob client: %w", err)
		}
		p.client = client
		if p.sign == nil {
			p.sign = sharedKeySigner(serviceURL, p.container, cred)
		}
		return p, nil
	}

	identity, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire Azure identity: %w", err)
	}
	client, err := azblob.NewClient(serviceURL, identity, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure blob client: %w", err)
	}
	p.client = client
	return p, nil
}

func sharedKeySigner(serviceURL, containerName string, cred *azblob.SharedKeyCredential) func(string, time.Time) (string, error) {
	return func(blobName string, expiry time.Time) (string, error) {
		perms := sas.BlobPermissions{Read: true}
		values := sas.BlobSignatureValues{
			Protocol:      sas.ProtocolHTTPS,
			ExpiryTime:    expiry,
			Permissions:   perms.String(),
			ContainerName: containerName,
			BlobName:      blobName,
		}
		params, err := values.SignWithSharedKey(cred)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s/%s/%s?%s", serviceURL, containerName, blobName, params.Encode()), nil
	}
}

// Upload stores a blob, always overwriting any existing content.
func (p *AzureBlobProvider) Upload(ctx context.Context, objectPath string, body io.Reader, opts storage.UploadOptions) error {
	options := &azblob.UploadStreamOptions{}
	headers := &blob.HTTPHeaders{}
	if opts.ContentType != "" {
		headers.BlobContentType = &opts.ContentType
		options.HTTPHeaders = headers
	}
	if opts.CacheControl != "" {
		headers.BlobCacheControl = &opts.CacheControl
		options.HTTPHeaders = headers
	}
	if len(opts.Metadata) > 0 {
		options.Metadata = make(map[string]*string, len(opts.Metadata))
		for k, v := range opts.Metadata {
			v := v
			options.Metadata[k] = &v
		}
	}

	if _, err := p.client.UploadStream(ctx, p.container, objectPath, body, options); err != nil {
		return p.wrap("upload", err)
	}
	return nil
}

// Download returns the blob's content. The caller closes the reader.
func (p *AzureBlobProvider) Download(ctx context.Context, objectPath string) (io.ReadCloser, error) {
	out, err := p.client.DownloadStream(ctx, p.container, objectPath, nil)
	if err != nil {
		return nil, p.wrap("download", err)
	}
	return out.Body, nil
}

// Delete removes one blob. A missing blob is not an error.
func (p *AzureBlobProvider) Delete(ctx context.Context, objectPath string) error {
	_, err := p.client.DeleteBlob(ctx, p.container, objectPath, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return p.wrap("delete", err)
	}
	return nil
}

// DeleteMany removes several blobs, continuing past failures and
// returning the first error.
func (p *AzureBlobProvider) DeleteMany(ctx context.Context, paths []string) error {
	var first error
	for _, objectPath := range paths {
		if err := p.Delete(ctx, objectPath); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// List returns up to limit blobs under prefix.
func (p *AzureBlobProvider) List(ctx context.Context, prefix string, limit int) ([]storage.ObjectInfo, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	max := int32(limit)
	pager := p.client.NewListBlobsFlatPager(p.container, &azblob.ListBlobsFlatOptions{
		Prefix:     &prefix,
		MaxResults: &max,
	})

	var infos []storage.ObjectInfo
	for pager.More() && len(infos) < limit {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, p.wrap("list", err)
		}
		for _, item := range page.Segment.BlobItems {
			if len(infos) >= limit {
				break
			}
			info := storage.ObjectInfo{}
			if item.Name != nil {
				info.Path = *item.Name
				info.Name = path.Base(info.Path)
			}
			if props := item.Properties; props != nil {
				if props.ContentLength != nil {
					info.Size = *props.ContentLength
				}
				if props.LastModified != nil {
					info.LastModified = *props.LastModified
				}
				if props.ContentType != nil {
					info.ContentType = *props.ContentType
				}
			}
			infos = append(infos, info)
		}
	}
	return infos, nil
}

// SignedURL returns a read-only SAS URL for the blob.
func (p *AzureBlobProvider) SignedURL(_ context.Context, objectPath string, ttl time.Duration) (string, error) {
	if p.sign == nil {
		return "", &credential.ConfigurationError{
			Provider: credential.ProviderAzureBlob,
			Hint:     "signed URLs require the account_key credential field",
		}
	}
	if ttl <= 0 {
		ttl = storage.DefaultSignedURLTTL
	}
	url, err := p.sign(objectPath, time.Now().UTC().Add(ttl))
	if err != nil {
		return "", p.wrap("sign", err)
	}
	return url, nil
}

// Exists reports whether the blob is present. Errors are logged and
// reported as absence.
func (p *AzureBlobProvider) Exists(ctx context.Context, objectPath string) bool {
	out, err := p.client.DownloadStream(ctx, p.container, objectPath, &azblob.DownloadStreamOptions{
		Range: azblob.HTTPRange{Offset: 0, Count: 1},
	})
	if err != nil {
		if !bloberror.HasCode(err, bloberror.BlobNotFound) {
			p.logger.Warn("azure-blob: existence check for %s failed: %v", objectPath, err)
		}
		return false
	}
	if out.Body != nil {
		_ = out.Body.Close()
	}
	return true
}

// TestConnection lists the container and round-trips a canary blob.
func (p *AzureBlobProvider) TestConnection(ctx context.Context) storage.ConnectionTestResult {
	start := time.Now()

	one := int32(1)
	pager := p.client.NewListBlobsFlatPager(p.container, &azblob.ListBlobsFlatOptions{MaxResults: &one})
	if _, err := pager.NextPage(ctx); err != nil {
		return azureTestFailure(err, time.Since(start))
	}

	canary := fmt.Sprintf(".connection-test/canary-%d", time.Now().UnixNano())
	if err := p.Upload(ctx, canary, strings.NewReader("connection test"), storage.UploadOptions{Upsert: true}); err != nil {
		return azureTestFailure(err, time.Since(start))
	}
	_ = p.Delete(ctx, canary)

	return storage.ConnectionTestResult{
		Success: true,
		Message: "connected to container " + p.container,
		Elapsed: time.Since(start),
	}
}

// Info identifies the backend.
func (p *AzureBlobProvider) Info() storage.ProviderInfo {
	return storage.ProviderInfo{Name: string(credential.ProviderAzureBlob), Bucket: p.container}
}

func (p *AzureBlobProvider) wrap(op string, err error) error {
	return &credential.TransportError{
		Backend:  string(credential.ProviderAzureBlob),
		Op:       op,
		NotFound: bloberror.HasCode(err, bloberror.BlobNotFound),
		Err:      err,
	}
}

func azureTestFailure(err error, elapsed time.Duration) storage.ConnectionTestResult {
	message := "connection failed"
	switch {
	case bloberror.HasCode(err, bloberror.ContainerNotFound):
		message = "container not found"
	case bloberror.HasCode(err, bloberror.AuthenticationFailed):
		message = "authentication failed; check the account key"
	case bloberror.HasCode(err, bloberror.AuthorizationFailure):
		message = "access denied"
	}
	return storage.ConnectionTestResult{
		Success: false,
		Message: message,
		Detail:  err.Error(),
		Elapsed: elapsed,
	}
}

func to(s string) *string { return &s }
