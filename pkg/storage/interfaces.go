package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

// ErrBlobNotFound is returned when a blob id does not exist
var ErrBlobNotFound = errors.New("blob not found")

const (
	// CategoryInvoice marks blobs holding rendered invoice documents
	CategoryInvoice = "invoice"

	// ContentTypePDF is the content type of rendered invoices
	ContentTypePDF = "application/pdf"

	// DefaultChunkSize matches the chunk size used by GridFS-style stores
	DefaultChunkSize = 255 * 1024
)

// BlobMetadata is the queryable metadata attached to a blob
type BlobMetadata struct {
	ClientID    string            `json:"client_id,omitempty"`
	InvoiceID   string            `json:"invoice_id,omitempty"`
	Category    string            `json:"category,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	UploadedAt  time.Time         `json:"uploaded_at"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// BlobInfo describes a stored blob without its content
type BlobInfo struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Length    int64        `json:"length"`
	ChunkSize int          `json:"chunk_size,omitempty"`
	Checksum  string       `json:"checksum"`
	Metadata  BlobMetadata `json:"metadata"`
}

// Blob is a stored blob with its content
type Blob struct {
	Info    BlobInfo
	Content []byte
}

// BlobStore persists immutable binary documents
type BlobStore interface {
	// Put stores content and returns the new blob id
	Put(ctx context.Context, content io.Reader, name string, meta BlobMetadata) (string, error)

	// Get returns the blob or ErrBlobNotFound
	Get(ctx context.Context, id string) (*Blob, error)

	// Stat returns blob metadata or ErrBlobNotFound
	Stat(ctx context.Context, id string) (*BlobInfo, error)

	// ListByInvoice returns every blob stored for an invoice, oldest first
	ListByInvoice(ctx context.Context, invoiceID string) ([]*BlobInfo, error)

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, id string) error
}

// Config for storage backend
type Config struct {
	Type string // "filesystem", "postgres", "s3"

	// Filesystem config
	FilesystemRoot string

	// Database config
	DatabaseDriver      string // "postgres" or "sqlite3"
	DatabaseURL         string
	DatabaseReplicaURLs string
	DatabaseMaxConns    int
	DatabaseMinConns    int
	DatabaseTimeout     time.Duration
	RunMigrations       bool

	// Chunked blob config
	ChunkSize int

	// S3 config
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Cache config
	CacheEnabled   bool
	CacheTTL       time.Duration
	L1CacheEntries int
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:             "postgres",
		FilesystemRoot:   "/tmp/invoicing",
		DatabaseDriver:   "postgres",
		DatabaseMaxConns: 20,
		DatabaseMinConns: 2,
		DatabaseTimeout:  10 * time.Second,
		RunMigrations:    true,
		ChunkSize:        DefaultChunkSize,
		S3Region:         "us-east-1",
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		CacheEnabled:     true,
		CacheTTL:         24 * time.Hour,
		L1CacheEntries:   256,
	}
}

// NewBlobID returns a fresh opaque blob identifier
func NewBlobID() string {
	return uuid.NewString()
}

// Checksum returns the hex encoded SHA-256 of data
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// PrepareMetadata fills the defaults every backend applies on Put
func PrepareMetadata(meta BlobMetadata, now time.Time) BlobMetadata {
	if meta.UploadedAt.IsZero() {
		meta.UploadedAt = now.UTC()
	}
	if meta.ContentType == "" {
		meta.ContentType = "application/octet-stream"
	}
	if meta.Tags == nil {
		meta.Tags = map[string]string{}
	}
	return meta
}
