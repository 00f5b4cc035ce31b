// Package storage implements the object-storage backends behind the
// pkg/storage Provider interface: Amazon S3, Google Cloud Storage, and
// Azure Blob Storage. Each backend normalizes its SDK's errors onto the
// shared credential error types so callers never import an SDK.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/tripstack/credstore/internal/logging"
	"github.com/tripstack/credstore/pkg/credential"
	"github.com/tripstack/credstore/pkg/storage"
)

// S3API defines the S3 operations the provider uses.
// This allows for mocking in tests.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Presigner defines the presigning operation the provider uses.
type S3Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Provider stores objects in an Amazon S3 bucket (or any S3-compatible
// endpoint such as MinIO).
type S3Provider struct {
	client    S3API
	presigner S3Presigner
	bucket    string
	logger    *logging.Logger
}

// S3Option is a functional option for configuring the S3 provider.
type S3Option func(*S3Provider)

// WithS3Client sets a custom S3 client (for testing).
func WithS3Client(client S3API) S3Option {
	return func(p *S3Provider) { p.client = client }
}

// WithS3Presigner sets a custom presigner (for testing).
func WithS3Presigner(presigner S3Presigner) S3Option {
	return func(p *S3Provider) { p.presigner = presigner }
}

// NewS3Provider builds an S3 provider from resolved credential fields:
// access_key_id, secret_access_key, region, bucket, and an optional
// endpoint for S3-compatible services.
func NewS3Provider(fields map[string]string, logger *logging.Logger, opts ...S3Option) (*S3Provider, error) {
	p := &S3Provider{
		bucket: fields["bucket"],
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(fields["region"]),
			awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(fields["access_key_id"], fields["secret_access_key"], ""),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}

		client := s3.NewFromConfig(cfg, func(o *s3.Options) {
			if endpoint := fields["endpoint"]; endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
				// S3-compatible services rarely support virtual-hosted
				// bucket addressing.
				o.UsePathStyle = true
			}
		})
		p.client = client
		if p.presigner == nil {
			p.presigner = s3.NewPresignClient(client)
		}
	}
	return p, nil
}

// Upload stores an object. When opts.Upsert is false the write carries
// an If-None-Match: * precondition so an existing object is never
// silently replaced.
func (p *S3Provider) Upload(ctx context.Context, objectPath string, body io.Reader, opts storage.UploadOptions) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(objectPath),
		Body:   body,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.CacheControl != "" {
		input.CacheControl = aws.String(opts.CacheControl)
	}
	if len(opts.Metadata) > 0 {
		input.Metadata = opts.Metadata
	}
	if !opts.Upsert {
		input.IfNoneMatch = aws.String("*")
	}

	if _, err := p.client.PutObject(ctx, input); err != nil {
		if isS3Code(err, "PreconditionFailed") {
			return &credential.ConflictError{
				Op:     "upload",
				Reason: "object already exists at " + objectPath,
			}
		}
		return p.wrap("upload", err)
	}
	return nil
}

// Download returns the object's content. The caller closes the reader.
func (p *S3Provider) Download(ctx context.Context, objectPath string) (io.ReadCloser, error) {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(objectPath),
	})
	if err != nil {
		return nil, p.wrap("download", err)
	}
	return out.Body, nil
}

// Delete removes one object. S3 deletes are idempotent, so a missing
// object is not an error.
func (p *S3Provider) Delete(ctx context.Context, objectPath string) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(objectPath),
	})
	if err != nil {
		return p.wrap("delete", err)
	}
	return nil
}

// DeleteMany removes several objects, continuing past failures and
// returning the first error.
func (p *S3Provider) DeleteMany(ctx context.Context, paths []string) error {
	var first error
	for _, objectPath := range paths {
		if err := p.Delete(ctx, objectPath); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// List returns up to limit objects under prefix.
func (p *S3Provider) List(ctx context.Context, prefix string, limit int) ([]storage.ObjectInfo, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	out, err := p.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(p.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, p.wrap("list", err)
	}

	infos := make([]storage.ObjectInfo, 0, len(out.Contents))
	for _, obj := range out.Contents {
		info := storage.ObjectInfo{Path: aws.ToString(obj.Key)}
		info.Name = path.Base(info.Path)
		if obj.Size != nil {
			info.Size = *obj.Size
		}
		if obj.LastModified != nil {
			info.LastModified = *obj.LastModified
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// SignedURL returns a presigned GET URL for the object.
func (p *S3Provider) SignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = storage.DefaultSignedURLTTL
	}
	req, err := p.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(objectPath),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", p.wrap("sign", err)
	}
	return req.URL, nil
}

// Exists reports whether the object is present. Errors are logged and
// reported as absence.
func (p *S3Provider) Exists(ctx context.Context, objectPath string) bool {
	_, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(objectPath),
	})
	if err != nil {
		if !isS3NotFound(err) {
			p.logger.Warn("s3: existence check for %s failed: %v", objectPath, err)
		}
		return false
	}
	return true
}

// TestConnection lists the bucket and round-trips a canary object.
func (p *S3Provider) TestConnection(ctx context.Context) storage.ConnectionTestResult {
	start := time.Now()

	_, err := p.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(p.bucket),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return s3TestFailure(err, time.Since(start))
	}

	canary := fmt.Sprintf(".connection-test/canary-%d", time.Now().UnixNano())
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(canary),
		Body:   strings.NewReader("connection test"),
	})
	if err != nil {
		return s3TestFailure(err, time.Since(start))
	}
	_, _ = p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(canary),
	})

	return storage.ConnectionTestResult{
		Success: true,
		Message: "connected to bucket " + p.bucket,
		Elapsed: time.Since(start),
	}
}

// Info identifies the backend.
func (p *S3Provider) Info() storage.ProviderInfo {
	return storage.ProviderInfo{Name: string(credential.ProviderS3), Bucket: p.bucket}
}

// wrap converts SDK errors to the shared transport error, flagging
// not-found so callers can branch without importing the SDK.
func (p *S3Provider) wrap(op string, err error) error {
	return &credential.TransportError{
		Backend:  string(credential.ProviderS3),
		Op:       op,
		NotFound: isS3NotFound(err),
		Err:      err,
	}
}

func s3TestFailure(err error, elapsed time.Duration) storage.ConnectionTestResult {
	message := "connection failed"
	switch {
	case isS3Code(err, "NoSuchBucket"):
		message = "bucket not found"
	case isS3Code(err, "InvalidAccessKeyId"):
		message = "invalid access key id"
	case isS3Code(err, "SignatureDoesNotMatch"):
		message = "signature mismatch; check the secret access key"
	case isS3Code(err, "AccessDenied"):
		message = "access denied"
	}
	return storage.ConnectionTestResult{
		Success: false,
		Message: message,
		Detail:  err.Error(),
		Elapsed: elapsed,
	}
}

func isS3NotFound(err error) bool {
	return isS3Code(err, "NoSuchKey") || isS3Code(err, "NotFound")
}

func isS3Code(err error, code string) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}
