// Package storage defines the blob store used to persist rendered invoice documents.
//
// # Overview
//
// Rendered documents are stored as immutable blobs, decoupled from the invoice
// records that point at them. A blob carries its content bytes and queryable
// metadata: originating client, owning invoice, logical category, upload time,
// and free-form tags.
//
//	type BlobStore interface {
//		Put(ctx context.Context, content io.Reader, name string, meta BlobMetadata) (string, error)
//		Get(ctx context.Context, id string) (*Blob, error)
//		Stat(ctx context.Context, id string) (*BlobInfo, error)
//		ListByInvoice(ctx context.Context, invoiceID string) ([]*BlobInfo, error)
//		Delete(ctx context.Context, id string) error
//	}
//
// Blobs are never updated. A re-render stores a new blob and the invoice record's
// pointer is swapped, leaving the previous blob orphaned.
//
// Delete is idempotent: deleting an id that does not exist returns nil.
//
// # Backend Implementations
//
// FileSystemBlobStore keeps content and a JSON metadata sidecar on local disk.
// Best for development and single-node deployments.
//
//	blobs, err := storage.NewFileSystemBlobStore("/var/lib/invoicing/blobs")
//
// The postgres subpackage provides the production backends: a chunked blob
// store living in the invoice database, an S3-backed store that keeps only
// metadata in the database, and a two-tier read cache (in-process LRU + Redis)
// that wraps either of them.
//
//	cfg := storage.DefaultConfig()
//	cfg.Type = "postgres"
//	cfg.DatabaseURL = "postgres://localhost/invoicing?sslmode=disable"
//
// # Error Handling
//
// Lookups of unknown ids return ErrBlobNotFound, which callers match with errors.Is.
//
// # Related Packages
//
//   - pkg/storage/postgres: SQL, S3 and cache backends
//   - pkg/ledger: Writes blobs while upserting invoices
package storage
