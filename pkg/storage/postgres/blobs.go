package postgres

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/outreachhq/invoicing/pkg/observability"
	"github.com/outreachhq/invoicing/pkg/storage"
)

const blobColumns = `id, name, length, chunk_size, checksum, client_id, invoice_id, category,
	content_type, tags, object_key, uploaded_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// blobRows holds the metadata half of every SQL-backed blob store
type blobRows struct {
	db      DBProvider
	dialect Dialect
}

func (r blobRows) insert(ctx context.Context, ex execer, info *storage.BlobInfo, objectKey string) error {
	tags, err := json.Marshal(info.Metadata.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	_, err = ex.ExecContext(ctx, r.dialect.Rebind(`
		INSERT INTO blobs (`+blobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`),
		info.ID,
		info.Name,
		info.Length,
		info.ChunkSize,
		info.Checksum,
		nullString(info.Metadata.ClientID),
		nullString(info.Metadata.InvoiceID),
		nullString(info.Metadata.Category),
		info.Metadata.ContentType,
		string(tags),
		nullString(objectKey),
		info.Metadata.UploadedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert blob metadata: %w", err)
	}
	return nil
}

func scanBlobInfo(row rowScanner) (*storage.BlobInfo, string, error) {
	var (
		info      storage.BlobInfo
		clientID  sql.NullString
		invoiceID sql.NullString
		category  sql.NullString
		tags      string
		objectKey sql.NullString
	)
	err := row.Scan(
		&info.ID,
		&info.Name,
		&info.Length,
		&info.ChunkSize,
		&info.Checksum,
		&clientID,
		&invoiceID,
		&category,
		&info.Metadata.ContentType,
		&tags,
		&objectKey,
		&info.Metadata.UploadedAt,
	)
	if err != nil {
		return nil, "", err
	}

	info.Metadata.ClientID = clientID.String
	info.Metadata.InvoiceID = invoiceID.String
	info.Metadata.Category = category.String
	info.Metadata.UploadedAt = info.Metadata.UploadedAt.UTC()
	info.Metadata.Tags = map[string]string{}
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &info.Metadata.Tags); err != nil {
			return nil, "", fmt.Errorf("failed to decode tags of blob %s: %w", info.ID, err)
		}
	}
	return &info, objectKey.String, nil
}

func (r blobRows) stat(ctx context.Context, id string) (*storage.BlobInfo, string, error) {
	info, key, err := scanBlobInfo(r.db.Primary().QueryRowContext(ctx,
		r.dialect.Rebind(`SELECT `+blobColumns+` FROM blobs WHERE id = $1`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", storage.ErrBlobNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to get blob metadata: %w", err)
	}
	return info, key, nil
}

func (r blobRows) listByInvoice(ctx context.Context, invoiceID string) ([]*storage.BlobInfo, error) {
	rows, err := r.db.Replica().QueryContext(ctx,
		r.dialect.Rebind(`SELECT `+blobColumns+` FROM blobs WHERE invoice_id = $1 ORDER BY uploaded_at, id`), invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	defer rows.Close()

	infos := make([]*storage.BlobInfo, 0)
	for rows.Next() {
		info, _, err := scanBlobInfo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan blob: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blobs: %w", err)
	}
	return infos, nil
}

// ChunkedBlobStore stores blob content in the database split into fixed-size
// chunks, so documents of any size fit without large-object support.
type ChunkedBlobStore struct {
	rows      blobRows
	chunkSize int
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewChunkedBlobStore creates a chunked blob store. chunkSize <= 0 uses
// storage.DefaultChunkSize.
func NewChunkedBlobStore(db DBProvider, dialect Dialect, chunkSize int, metrics *observability.Metrics) *ChunkedBlobStore {
	if chunkSize <= 0 {
		chunkSize = storage.DefaultChunkSize
	}
	return &ChunkedBlobStore{
		rows:      blobRows{db: db, dialect: dialect},
		chunkSize: chunkSize,
		metrics:   metrics,
		now:       time.Now,
	}
}

var _ storage.BlobStore = (*ChunkedBlobStore)(nil)

const chunkedBackend = "database"

// Put streams content into chunks and writes the metadata row, all in one
// transaction.
func (s *ChunkedBlobStore) Put(ctx context.Context, content io.Reader, name string, meta storage.BlobMetadata) (id string, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "ChunkedBlobStore.Put", trace.WithAttributes(
		attribute.String("blob.name", name),
		attribute.Int("blob.chunk_size", s.chunkSize),
	))
	defer func() {
		s.metrics.ObserveBlobOperation("put", chunkedBackend, time.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "put failed")
		}
		span.End()
	}()

	info := &storage.BlobInfo{
		ID:        storage.NewBlobID(),
		Name:      name,
		ChunkSize: s.chunkSize,
		Metadata:  storage.PrepareMetadata(meta, s.now()),
	}

	tx, err := s.rows.db.Primary().BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	insertChunk := s.rows.dialect.Rebind(`INSERT INTO blob_chunks (blob_id, n, data) VALUES ($1, $2, $3)`)
	hash := sha256.New()
	buf := make([]byte, s.chunkSize)
	for n := 0; ; n++ {
		read, rerr := io.ReadFull(content, buf)
		if read > 0 {
			chunk := buf[:read]
			hash.Write(chunk)
			info.Length += int64(read)
			if _, err := tx.ExecContext(ctx, insertChunk, info.ID, n, chunk); err != nil {
				return "", fmt.Errorf("failed to write chunk %d: %w", n, err)
			}
		}
		if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
			break
		}
		if rerr != nil {
			return "", fmt.Errorf("failed to read content: %w", rerr)
		}
	}
	info.Checksum = hex.EncodeToString(hash.Sum(nil))

	if err := s.rows.insert(ctx, tx, info, ""); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit blob: %w", err)
	}

	span.SetAttributes(attribute.String("blob.id", info.ID), attribute.Int64("blob.length", info.Length))
	return info.ID, nil
}

// Get reassembles a blob and verifies its length and checksum
func (s *ChunkedBlobStore) Get(ctx context.Context, id string) (blob *storage.Blob, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "ChunkedBlobStore.Get", trace.WithAttributes(attribute.String("blob.id", id)))
	defer func() {
		if !errors.Is(err, storage.ErrBlobNotFound) {
			s.metrics.ObserveBlobOperation("get", chunkedBackend, time.Since(start), err)
		}
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	info, _, err := s.rows.stat(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := s.rows.db.Primary().QueryContext(ctx,
		s.rows.dialect.Rebind(`SELECT data FROM blob_chunks WHERE blob_id = $1 ORDER BY n`), id)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunks: %w", err)
	}
	defer rows.Close()

	var content bytes.Buffer
	content.Grow(int(info.Length))
	for rows.Next() {
		var chunk []byte
		if err := rows.Scan(&chunk); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		content.Write(chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chunks: %w", err)
	}

	data := content.Bytes()
	if int64(len(data)) != info.Length {
		return nil, fmt.Errorf("blob %s is truncated: have %d of %d bytes", id, len(data), info.Length)
	}
	if sum := storage.Checksum(data); sum != info.Checksum {
		return nil, fmt.Errorf("blob %s checksum mismatch", id)
	}
	return &storage.Blob{Info: *info, Content: data}, nil
}

// Stat returns blob metadata
func (s *ChunkedBlobStore) Stat(ctx context.Context, id string) (*storage.BlobInfo, error) {
	info, _, err := s.rows.stat(ctx, id)
	return info, err
}

// ListByInvoice returns the blobs stored for an invoice, oldest first
func (s *ChunkedBlobStore) ListByInvoice(ctx context.Context, invoiceID string) ([]*storage.BlobInfo, error) {
	return s.rows.listByInvoice(ctx, invoiceID)
}

// Delete removes a blob and its chunks. Missing blobs are ignored.
func (s *ChunkedBlobStore) Delete(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveBlobOperation("delete", chunkedBackend, time.Since(start), err)
	}()

	tx, err := s.rows.db.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rows.dialect.Rebind(`DELETE FROM blob_chunks WHERE blob_id = $1`), id); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rows.dialect.Rebind(`DELETE FROM blobs WHERE id = $1`), id); err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}
