package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/outreachhq/invoicing/pkg/observability"
	"github.com/outreachhq/invoicing/pkg/storage"
)

// Storage bundles the invoice store, the configured blob store and the
// connections behind them
type Storage struct {
	conn     *ConnectionManager
	redis    *RedisClient
	s3       *S3Client
	Invoices *InvoiceStore
	Blobs    storage.BlobStore
}

// Open connects to the database, runs migrations when configured and builds
// the blob store selected by config.Type ("postgres", "s3" or "filesystem").
// The cache wraps whichever backend is selected.
func Open(ctx context.Context, config storage.Config, logger *observability.Logger, metrics *observability.Metrics) (*Storage, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	dialect, err := ParseDialect(config.DatabaseDriver)
	if err != nil {
		return nil, err
	}

	conn, err := NewConnectionManager(ConnectionConfig{
		Dialect:     dialect,
		PrimaryURL:  config.DatabaseURL,
		ReplicaURLs: ParseReplicaURLs(config.DatabaseReplicaURLs),
		MaxConns:    config.DatabaseMaxConns,
		MinConns:    config.DatabaseMinConns,
		Timeout:     config.DatabaseTimeout,
		MaxLifetime: time.Hour,
		MaxIdleTime: 10 * time.Minute,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Storage{
		conn:     conn,
		Invoices: NewInvoiceStore(conn, dialect),
	}

	if config.RunMigrations {
		if err := RunMigrations(ctx, conn.Primary(), dialect, logger); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	var backend storage.BlobStore
	switch config.Type {
	case "", "postgres", "database":
		backend = NewChunkedBlobStore(conn, dialect, config.ChunkSize, metrics)
	case "s3":
		s.s3, err = NewS3Client(ctx, config)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create s3 client: %w", err)
		}
		backend = NewS3BlobStore(conn, dialect, s.s3, metrics, logger)
	case "filesystem":
		backend, err = storage.NewFileSystemBlobStore(config.FilesystemRoot)
		if err != nil {
			s.Close()
			return nil, err
		}
	default:
		s.Close()
		return nil, fmt.Errorf("unknown blob backend %q", config.Type)
	}

	if config.CacheEnabled {
		if config.RedisURL != "" {
			s.redis, err = NewRedisClient(ctx, config)
			if err != nil {
				s.Close()
				return nil, fmt.Errorf("failed to create redis client: %w", err)
			}
		}
		backend = NewCachedBlobStore(backend, s.redis, CacheConfig{
			L1Entries: config.L1CacheEntries,
			TTL:       config.CacheTTL,
		}, metrics, logger)
	}
	s.Blobs = backend

	return s, nil
}

// Connections returns the connection manager
func (s *Storage) Connections() *ConnectionManager {
	return s.conn
}

// DB returns the primary pool for health checks and the catalog
func (s *Storage) DB() *sql.DB {
	return s.conn.Primary()
}

// Dialect returns the SQL dialect in use
func (s *Storage) Dialect() Dialect {
	return s.conn.Dialect()
}

// Redis returns the Redis client, or nil when the cache runs without it
func (s *Storage) Redis() *RedisClient {
	return s.redis
}

// HealthCheck pings the database and, when configured, S3 and Redis
func (s *Storage) HealthCheck(ctx context.Context) error {
	if err := s.conn.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database unhealthy: %w", err)
	}
	if s.s3 != nil {
		if err := s.s3.HealthCheck(ctx); err != nil {
			return fmt.Errorf("s3 unhealthy: %w", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx); err != nil {
			return fmt.Errorf("redis unhealthy: %w", err)
		}
	}
	return nil
}

// S3HealthCheck checks object storage, or nothing when S3 is not in use
func (s *Storage) S3HealthCheck(ctx context.Context) error {
	if s.s3 == nil {
		return nil
	}
	return s.s3.HealthCheck(ctx)
}

// Close closes all connections
func (s *Storage) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
	}
	return errors.Join(errs...)
}
