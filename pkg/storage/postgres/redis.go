package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/outreachhq/invoicing/pkg/storage"
)

const blobKeyPrefix = "invoicing:blob:"

// RedisClient caches immutable blobs
type RedisClient struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient connects to Redis using the storage config
func NewRedisClient(ctx context.Context, config storage.Config) (*RedisClient, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if config.RedisPassword != "" {
		opts.Password = config.RedisPassword
	}
	if config.RedisDB > 0 {
		opts.DB = config.RedisDB
	}
	if config.RedisMaxRetries > 0 {
		opts.MaxRetries = config.RedisMaxRetries
	}
	if config.RedisPoolSize > 0 {
		opts.PoolSize = config.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisClientWithClient(client, config.CacheTTL), nil
}

// NewRedisClientWithClient wraps an existing client. A zero ttl keeps
// entries until evicted.
func NewRedisClientWithClient(client *redis.Client, ttl time.Duration) *RedisClient {
	return &RedisClient{client: client, ttl: ttl}
}

type cachedBlob struct {
	Info    storage.BlobInfo `json:"info"`
	Content []byte           `json:"content"`
}

// GetBlob returns a cached blob, or nil on a miss
func (c *RedisClient) GetBlob(ctx context.Context, id string) (*storage.Blob, error) {
	key := blobKeyPrefix + id

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var cached cachedBlob
	if err := json.Unmarshal(data, &cached); err != nil {
		// Drop corrupt entries
		c.client.Del(ctx, key)
		return nil, fmt.Errorf("failed to unmarshal blob: %w", err)
	}
	return &storage.Blob{Info: cached.Info, Content: cached.Content}, nil
}

// SetBlob stores a blob
func (c *RedisClient) SetBlob(ctx context.Context, blob *storage.Blob) error {
	data, err := json.Marshal(cachedBlob{Info: blob.Info, Content: blob.Content})
	if err != nil {
		return fmt.Errorf("failed to marshal blob: %w", err)
	}
	return c.client.Set(ctx, blobKeyPrefix+blob.Info.ID, data, c.ttl).Err()
}

// DeleteBlob removes a blob from the cache
func (c *RedisClient) DeleteBlob(ctx context.Context, id string) error {
	return c.client.Del(ctx, blobKeyPrefix+id).Err()
}

// Ping checks Redis connectivity
func (c *RedisClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// GetClient returns the underlying Redis client for health checks
func (c *RedisClient) GetClient() *redis.Client {
	return c.client
}

// GetPoolStats returns connection pool statistics
func (c *RedisClient) GetPoolStats() *redis.PoolStats {
	return c.client.PoolStats()
}

// Close closes the Redis connection
func (c *RedisClient) Close() error {
	return c.client.Close()
}
