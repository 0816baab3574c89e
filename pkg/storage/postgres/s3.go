package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/outreachhq/invoicing/pkg/observability"
	"github.com/outreachhq/invoicing/pkg/storage"
)

// ObjectAPI is the subset of the S3 client used for blob content
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3Client handles object storage operations
type S3Client struct {
	client ObjectAPI
	bucket string
}

// NewS3Client creates an S3 client and makes sure the bucket exists
func NewS3Client(ctx context.Context, cfg storage.Config) (*S3Client, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	var awsConfig aws.Config
	var err error
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		// Static credentials for MinIO or explicit keys
		awsConfig, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.S3Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.S3AccessKey,
				cfg.S3SecretKey,
				"",
			)),
		)
	} else {
		awsConfig, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.S3Region))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		if cfg.S3UsePathStyle {
			o.UsePathStyle = true
		}
	})

	if err := createBucketIfNotExists(ctx, client, cfg.S3Bucket); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}
	return NewS3ClientWithAPI(client, cfg.S3Bucket), nil
}

// NewS3ClientWithAPI wraps an existing client without touching the bucket
func NewS3ClientWithAPI(client ObjectAPI, bucket string) *S3Client {
	return &S3Client{client: client, bucket: bucket}
}

// PutObject uploads content to S3
func (c *S3Client) PutObject(ctx context.Context, key string, content []byte, contentType, checksum string) error {
	ctx, span := tracer.Start(ctx, "S3.PutObject",
		trace.WithAttributes(
			attribute.String("s3.operation", "PutObject"),
			attribute.String("s3.bucket", c.bucket),
			attribute.String("s3.key", key),
			attribute.String("content.type", contentType),
			attribute.Int("content.size", len(content)),
		),
	)
	defer span.End()

	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"checksum-sha256": checksum,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload to s3")
		return fmt.Errorf("failed to upload to s3: %w", err)
	}

	span.SetStatus(codes.Ok, "object uploaded successfully")
	return nil
}

// GetObject retrieves content from S3
func (c *S3Client) GetObject(ctx context.Context, key string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "S3.GetObject",
		trace.WithAttributes(
			attribute.String("s3.operation", "GetObject"),
			attribute.String("s3.bucket", c.bucket),
			attribute.String("s3.key", key),
		),
	)
	defer span.End()

	result, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get object from s3")
		if isNotFoundError(err) {
			return nil, storage.ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to get object from s3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read object body")
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}

	span.SetAttributes(attribute.Int("content.size", len(data)))
	span.SetStatus(codes.Ok, "object retrieved successfully")
	return data, nil
}

// DeleteObject deletes an object from S3. Deleting a missing key succeeds.
func (c *S3Client) DeleteObject(ctx context.Context, key string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFoundError(err) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// HealthCheck verifies S3 connectivity
func (c *S3Client) HealthCheck(ctx context.Context) error {
	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}

func createBucketIfNotExists(ctx context.Context, client ObjectAPI, bucket string) error {
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err == nil {
		return nil
	}

	_, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err != nil && !isBucketAlreadyExistsError(err) {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func isNotFoundError(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	return err != nil && (strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "NoSuchKey"))
}

func isBucketAlreadyExistsError(err error) bool {
	var exists *types.BucketAlreadyExists
	var owned *types.BucketAlreadyOwnedByYou
	return errors.As(err, &exists) || errors.As(err, &owned)
}

// ObjectKey is the S3 key of a blob's content
func ObjectKey(id string) string {
	prefix := id
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return fmt.Sprintf("invoices/%s/%s", prefix, id)
}

// S3BlobStore keeps blob metadata in the database and content in S3
type S3BlobStore struct {
	rows    blobRows
	s3      *S3Client
	metrics *observability.Metrics
	logger  *observability.Logger
	now     func() time.Time
}

// NewS3BlobStore creates an S3-backed blob store
func NewS3BlobStore(db DBProvider, dialect Dialect, client *S3Client, metrics *observability.Metrics, logger *observability.Logger) *S3BlobStore {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &S3BlobStore{
		rows:    blobRows{db: db, dialect: dialect},
		s3:      client,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

var _ storage.BlobStore = (*S3BlobStore)(nil)

const s3Backend = "s3"

// Put uploads the content and then records its metadata. If the metadata
// write fails the object is removed again.
func (s *S3BlobStore) Put(ctx context.Context, content io.Reader, name string, meta storage.BlobMetadata) (id string, err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveBlobOperation("put", s3Backend, time.Since(start), err)
	}()

	data, err := io.ReadAll(content)
	if err != nil {
		return "", fmt.Errorf("failed to read content: %w", err)
	}

	info := &storage.BlobInfo{
		ID:       storage.NewBlobID(),
		Name:     name,
		Length:   int64(len(data)),
		Checksum: storage.Checksum(data),
		Metadata: storage.PrepareMetadata(meta, s.now()),
	}
	key := ObjectKey(info.ID)

	if err := s.s3.PutObject(ctx, key, data, info.Metadata.ContentType, info.Checksum); err != nil {
		return "", err
	}
	if err := s.rows.insert(ctx, s.rows.db.Primary(), info, key); err != nil {
		if derr := s.s3.DeleteObject(context.WithoutCancel(ctx), key); derr != nil {
			s.logger.WithField("object_key", key).WithError(derr).Warn("Failed to remove orphaned object")
		}
		return "", err
	}
	return info.ID, nil
}

// Get returns a blob and verifies its checksum
func (s *S3BlobStore) Get(ctx context.Context, id string) (blob *storage.Blob, err error) {
	start := time.Now()
	defer func() {
		if !errors.Is(err, storage.ErrBlobNotFound) {
			s.metrics.ObserveBlobOperation("get", s3Backend, time.Since(start), err)
		}
	}()

	info, key, err := s.rows.stat(ctx, id)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, fmt.Errorf("blob %s has no object key", id)
	}

	data, err := s.s3.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}
	if storage.Checksum(data) != info.Checksum {
		return nil, fmt.Errorf("blob %s checksum mismatch", id)
	}
	return &storage.Blob{Info: *info, Content: data}, nil
}

// Stat returns blob metadata
func (s *S3BlobStore) Stat(ctx context.Context, id string) (*storage.BlobInfo, error) {
	info, _, err := s.rows.stat(ctx, id)
	return info, err
}

// ListByInvoice returns the blobs stored for an invoice, oldest first
func (s *S3BlobStore) ListByInvoice(ctx context.Context, invoiceID string) ([]*storage.BlobInfo, error) {
	return s.rows.listByInvoice(ctx, invoiceID)
}

// Delete removes the metadata row and the object. Missing blobs are ignored.
func (s *S3BlobStore) Delete(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveBlobOperation("delete", s3Backend, time.Since(start), err)
	}()

	_, key, err := s.rows.stat(ctx, id)
	if errors.Is(err, storage.ErrBlobNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := s.rows.db.Primary().ExecContext(ctx, s.rows.dialect.Rebind(`DELETE FROM blobs WHERE id = $1`), id); err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	if key != "" {
		return s.s3.DeleteObject(ctx, key)
	}
	return nil
}
