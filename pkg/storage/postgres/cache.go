package postgres

import (
	"context"
	"errors"
	"io"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/outreachhq/invoicing/pkg/observability"
	"github.com/outreachhq/invoicing/pkg/storage"
)

// CachedBlobStore is a read-through cache in front of a BlobStore: an
// in-process LRU first, then Redis. Blobs never change after Put, so cached
// content is never stale, but a blob can be deleted through another process.
// Every cache hit is therefore confirmed with a metadata Stat on the backing
// store before it is served, and a hit for a deleted blob is evicted.
type CachedBlobStore struct {
	inner   storage.BlobStore
	l1      *lru.LRU[string, *storage.Blob]
	l2      *RedisClient
	metrics *observability.Metrics
	logger  *observability.Logger
}

// CacheConfig sizes the cache tiers
type CacheConfig struct {
	L1Entries int
	TTL       time.Duration
}

// NewCachedBlobStore wraps inner. redis may be nil to run with the LRU only.
func NewCachedBlobStore(inner storage.BlobStore, redis *RedisClient, cfg CacheConfig, metrics *observability.Metrics, logger *observability.Logger) *CachedBlobStore {
	if cfg.L1Entries <= 0 {
		cfg.L1Entries = 256
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &CachedBlobStore{
		inner:   inner,
		l1:      lru.NewLRU[string, *storage.Blob](cfg.L1Entries, nil, cfg.TTL),
		l2:      redis,
		metrics: metrics,
		logger:  logger,
	}
}

var _ storage.BlobStore = (*CachedBlobStore)(nil)

// Put stores through to the backing store. The blob is cached on first read.
func (c *CachedBlobStore) Put(ctx context.Context, content io.Reader, name string, meta storage.BlobMetadata) (string, error) {
	return c.inner.Put(ctx, content, name, meta)
}

// Get serves from the LRU, then Redis, then the backing store
func (c *CachedBlobStore) Get(ctx context.Context, id string) (*storage.Blob, error) {
	if blob, ok := c.l1.Get(id); ok {
		if err := c.confirm(ctx, id); err != nil {
			return nil, err
		}
		c.metrics.ObserveCache("l1", true)
		return copyBlob(blob), nil
	}
	c.metrics.ObserveCache("l1", false)

	if c.l2 != nil {
		blob, err := c.l2.GetBlob(ctx, id)
		switch {
		case err != nil:
			c.logger.WithField("blob_id", id).WithError(err).Warn("Redis blob lookup failed")
		case blob != nil:
			if err := c.confirm(ctx, id); err != nil {
				return nil, err
			}
			c.metrics.ObserveCache("l2", true)
			c.l1.Add(id, blob)
			return copyBlob(blob), nil
		default:
			c.metrics.ObserveCache("l2", false)
		}
	}

	blob, err := c.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	c.l1.Add(id, copyBlob(blob))
	if c.l2 != nil {
		if err := c.l2.SetBlob(ctx, blob); err != nil {
			c.logger.WithField("blob_id", id).WithError(err).Warn("Redis blob store failed")
		}
	}
	return blob, nil
}

// confirm checks that a cached blob still exists in the backing store. A
// deleted blob is evicted from both tiers and reported as not found. Other
// lookup failures are logged and the cached copy is served.
func (c *CachedBlobStore) confirm(ctx context.Context, id string) error {
	_, err := c.inner.Stat(ctx, id)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrBlobNotFound):
		c.evict(ctx, id)
		return err
	default:
		c.logger.WithField("blob_id", id).WithError(err).Warn("Could not confirm cached blob, serving cached copy")
		return nil
	}
}

// Stat always asks the backing store
func (c *CachedBlobStore) Stat(ctx context.Context, id string) (*storage.BlobInfo, error) {
	info, err := c.inner.Stat(ctx, id)
	if errors.Is(err, storage.ErrBlobNotFound) {
		c.evict(ctx, id)
	}
	return info, err
}

// ListByInvoice is not cached
func (c *CachedBlobStore) ListByInvoice(ctx context.Context, invoiceID string) ([]*storage.BlobInfo, error) {
	return c.inner.ListByInvoice(ctx, invoiceID)
}

// Delete removes the blob from the backing store and both tiers
func (c *CachedBlobStore) Delete(ctx context.Context, id string) error {
	if err := c.inner.Delete(ctx, id); err != nil {
		return err
	}
	c.evict(ctx, id)
	return nil
}

func (c *CachedBlobStore) evict(ctx context.Context, id string) {
	c.l1.Remove(id)
	if c.l2 != nil {
		if err := c.l2.DeleteBlob(ctx, id); err != nil {
			c.logger.WithField("blob_id", id).WithError(err).Warn("Redis blob eviction failed")
		}
	}
}

// copyBlob keeps callers from mutating cached content
func copyBlob(b *storage.Blob) *storage.Blob {
	c := *b
	c.Content = append([]byte(nil), b.Content...)
	if b.Info.Metadata.Tags != nil {
		c.Info.Metadata.Tags = make(map[string]string, len(b.Info.Metadata.Tags))
		for k, v := range b.Info.Metadata.Tags {
			c.Info.Metadata.Tags[k] = v
		}
	}
	return &c
}
