package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FileSystemBlobStore implements BlobStore using the local filesystem.
// Each blob is stored as <root>/<id[:2]>/<id>.blob with a <id>.json sidecar.
type FileSystemBlobStore struct {
	rootDir string
	now     func() time.Time
}

// NewFileSystemBlobStore creates a new filesystem-based blob store
func NewFileSystemBlobStore(rootDir string) (*FileSystemBlobStore, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FileSystemBlobStore{rootDir: rootDir, now: time.Now}, nil
}

// Put implements BlobStore.Put
func (s *FileSystemBlobStore) Put(ctx context.Context, content io.Reader, name string, meta BlobMetadata) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return "", fmt.Errorf("failed to read content: %w", err)
	}

	id := NewBlobID()
	info := BlobInfo{
		ID:       id,
		Name:     name,
		Length:   int64(len(data)),
		Checksum: Checksum(data),
		Metadata: PrepareMetadata(meta, s.now()),
	}

	dir := filepath.Join(s.rootDir, id[:2])
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}

	if err := os.WriteFile(s.contentPath(id), data, 0644); err != nil {
		return "", fmt.Errorf("failed to write blob content: %w", err)
	}

	infoJSON, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("failed to marshal blob metadata: %w", err)
	}

	// A blob is visible once its sidecar exists
	if err := os.WriteFile(s.infoPath(id), infoJSON, 0644); err != nil {
		os.Remove(s.contentPath(id))
		return "", fmt.Errorf("failed to write blob metadata: %w", err)
	}

	return id, nil
}

// Get implements BlobStore.Get
func (s *FileSystemBlobStore) Get(ctx context.Context, id string) (*Blob, error) {
	info, err := s.Stat(ctx, id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.contentPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrBlobNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to read blob content: %w", err)
	}

	return &Blob{Info: *info, Content: data}, nil
}

// Stat implements BlobStore.Stat
func (s *FileSystemBlobStore) Stat(ctx context.Context, id string) (*BlobInfo, error) {
	if !validID(id) {
		return nil, ErrBlobNotFound
	}

	data, err := os.ReadFile(s.infoPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrBlobNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to read blob metadata: %w", err)
	}

	var info BlobInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal blob metadata: %w", err)
	}

	return &info, nil
}

// ListByInvoice implements BlobStore.ListByInvoice
func (s *FileSystemBlobStore) ListByInvoice(ctx context.Context, invoiceID string) ([]*BlobInfo, error) {
	var infos []*BlobInfo

	err := filepath.WalkDir(s.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}

		id := strings.TrimSuffix(filepath.Base(path), ".json")
		info, err := s.Stat(ctx, id)
		if err != nil {
			return err
		}
		if info.Metadata.InvoiceID == invoiceID {
			infos = append(infos, info)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan blobs: %w", err)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Metadata.UploadedAt.Before(infos[j].Metadata.UploadedAt)
	})

	return infos, nil
}

// Delete implements BlobStore.Delete
func (s *FileSystemBlobStore) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return nil
	}

	for _, path := range []string{s.infoPath(id), s.contentPath(id)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete blob %s: %w", id, err)
		}
	}

	return nil
}

func (s *FileSystemBlobStore) contentPath(id string) string {
	return filepath.Join(s.rootDir, id[:2], id+".blob")
}

func (s *FileSystemBlobStore) infoPath(id string) string {
	return filepath.Join(s.rootDir, id[:2], id+".json")
}

// validID rejects ids that could escape the root directory
func validID(id string) bool {
	return len(id) > 2 && !strings.ContainsAny(id, `/\.`)
}
