package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/outreachhq/invoicing/pkg/observability"
	"github.com/outreachhq/invoicing/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Observability configuration
	Observability ObservabilityConfig

	// Billing configuration
	Billing BillingConfig

	// Scheduler configuration
	Scheduler SchedulerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	MaxBodyBytes    int64

	// Rate limiting of document-rendering requests, per client address.
	// Shared through Redis when the blob cache has a Redis URL.
	RateLimitEnabled   bool
	RateLimitPerMinute int
	RateLimitBurst     int

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// BillingConfig holds invoice generation settings
type BillingConfig struct {
	// BrandingFile is a YAML branding file, watched for changes. Empty uses
	// the built-in branding.
	BrandingFile string

	// CatalogFile is a YAML catalog used instead of the clients and plans
	// tables. Meant for local previews.
	CatalogFile string

	// BatchConcurrency bounds period-wide generation
	BatchConcurrency int
}

// SchedulerConfig holds background job settings
type SchedulerConfig struct {
	Enabled bool

	// OverdueSchedule is a five-field cron expression, evaluated in UTC
	OverdueSchedule string
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment. Variables that are already set win. An empty path means
// ".env"; a missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Observability: loadObservabilityConfig(),
		Billing:       loadBillingConfig(),
		Scheduler:     loadSchedulerConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("INVOICING_HOST", "0.0.0.0"),
		Port:            getEnv("INVOICING_PORT", "8080"),
		ReadTimeout:     getEnvDuration("INVOICING_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("INVOICING_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:     getEnvDuration("INVOICING_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("INVOICING_SHUTDOWN_TIMEOUT", 30*time.Second),
		RequestTimeout:  getEnvDuration("INVOICING_REQUEST_TIMEOUT", 45*time.Second),
		MaxBodyBytes:    getEnvInt64("INVOICING_MAX_BODY_BYTES", 1<<20),
		HealthPort:      getEnv("INVOICING_HEALTH_PORT", "9090"),

		RateLimitEnabled:   getEnvBool("INVOICING_RATE_LIMIT_ENABLED", true),
		RateLimitPerMinute: getEnvInt("INVOICING_RATE_LIMIT_PER_MINUTE", 60),
		RateLimitBurst:     getEnvInt("INVOICING_RATE_LIMIT_BURST", 10),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	// Blob backend
	if storageType := getEnv("INVOICING_STORAGE_TYPE", ""); storageType != "" {
		cfg.Type = storageType
	}
	if fsRoot := getEnv("INVOICING_FILESYSTEM_ROOT", ""); fsRoot != "" {
		cfg.FilesystemRoot = fsRoot
	}
	if chunkSize := getEnvInt("INVOICING_CHUNK_SIZE", 0); chunkSize > 0 {
		cfg.ChunkSize = chunkSize
	}

	// Database config
	if driver := getEnv("INVOICING_DB_DRIVER", ""); driver != "" {
		cfg.DatabaseDriver = driver
	}
	if dbURL := getEnv("INVOICING_DB_URL", ""); dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	if replicaURLs := getEnv("INVOICING_DB_REPLICA_URLS", ""); replicaURLs != "" {
		cfg.DatabaseReplicaURLs = replicaURLs
	}
	if maxConns := getEnvInt("INVOICING_DB_MAX_CONNS", 0); maxConns > 0 {
		cfg.DatabaseMaxConns = maxConns
	}
	if minConns := getEnvInt("INVOICING_DB_MIN_CONNS", 0); minConns > 0 {
		cfg.DatabaseMinConns = minConns
	}
	if timeout := getEnvDuration("INVOICING_DB_TIMEOUT", 0); timeout > 0 {
		cfg.DatabaseTimeout = timeout
	}
	cfg.RunMigrations = getEnvBool("INVOICING_RUN_MIGRATIONS", cfg.RunMigrations)

	// S3 config
	if s3Endpoint := getEnv("INVOICING_S3_ENDPOINT", ""); s3Endpoint != "" {
		cfg.S3Endpoint = s3Endpoint
	}
	if s3Region := getEnv("INVOICING_S3_REGION", ""); s3Region != "" {
		cfg.S3Region = s3Region
	}
	if s3Bucket := getEnv("INVOICING_S3_BUCKET", ""); s3Bucket != "" {
		cfg.S3Bucket = s3Bucket
	}
	if s3AccessKey := getEnv("INVOICING_S3_ACCESS_KEY", ""); s3AccessKey != "" {
		cfg.S3AccessKey = s3AccessKey
	}
	if s3SecretKey := getEnv("INVOICING_S3_SECRET_KEY", ""); s3SecretKey != "" {
		cfg.S3SecretKey = s3SecretKey
	}
	cfg.S3UsePathStyle = getEnvBool("INVOICING_S3_USE_PATH_STYLE", cfg.S3UsePathStyle)

	// Redis config
	if redisURL := getEnv("INVOICING_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("INVOICING_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("INVOICING_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("INVOICING_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("INVOICING_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// Cache config
	cfg.CacheEnabled = getEnvBool("INVOICING_CACHE_ENABLED", cfg.CacheEnabled)
	if ttl := getEnvDuration("INVOICING_CACHE_TTL", 0); ttl > 0 {
		cfg.CacheTTL = ttl
	}
	if entries := getEnvInt("INVOICING_L1_CACHE_ENTRIES", 0); entries > 0 {
		cfg.L1CacheEntries = entries
	}

	return cfg
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	level, _ := observability.ParseLevel(getEnv("INVOICING_LOG_LEVEL", "info"))
	return ObservabilityConfig{
		LogLevel:           level,
		MetricsEnabled:     getEnvBool("INVOICING_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("INVOICING_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("INVOICING_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("INVOICING_OTEL_SERVICE_NAME", "invoicing"),
		OTelServiceVersion: getEnv("INVOICING_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("INVOICING_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("INVOICING_OTEL_SAMPLE_RATIO", 1),
	}
}

func loadBillingConfig() BillingConfig {
	return BillingConfig{
		BrandingFile:     getEnv("INVOICING_BRANDING_FILE", ""),
		CatalogFile:      getEnv("INVOICING_CATALOG_FILE", ""),
		BatchConcurrency: getEnvInt("INVOICING_BATCH_CONCURRENCY", 4),
	}
}

func loadSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled: getEnvBool("INVOICING_SCHEDULER_ENABLED", true),
		// 02:15 UTC daily
		OverdueSchedule: getEnv("INVOICING_OVERDUE_SCHEDULE", "15 2 * * *"),
	}
}

// OTel returns the OpenTelemetry settings in the form InitOTel takes
func (c ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.OTelEnabled,
		Endpoint:       c.OTelEndpoint,
		ServiceName:    c.OTelServiceName,
		ServiceVersion: c.OTelServiceVersion,
		Insecure:       c.OTelInsecure,
		SampleRatio:    c.OTelSampleRatio,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.RateLimitEnabled {
		if c.Server.RateLimitPerMinute <= 0 {
			return fmt.Errorf("rate limit per minute must be positive")
		}
		if c.Server.RateLimitBurst < 0 {
			return fmt.Errorf("rate limit burst must not be negative")
		}
	}

	// Validate storage config
	if c.Storage.DatabaseURL == "" {
		return fmt.Errorf("database URL is required")
	}
	switch c.Storage.DatabaseDriver {
	case "postgres", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Storage.DatabaseDriver)
	}
	switch c.Storage.Type {
	case "postgres":
	case "filesystem":
		if c.Storage.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem storage")
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be postgres, s3, or filesystem)", c.Storage.Type)
	}
	if c.Storage.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive")
	}

	if c.Billing.BatchConcurrency < 1 {
		return fmt.Errorf("batch concurrency must be at least 1")
	}

	if c.Scheduler.Enabled {
		if _, err := cron.ParseStandard(c.Scheduler.OverdueSchedule); err != nil {
			return fmt.Errorf("invalid overdue schedule %q: %w", c.Scheduler.OverdueSchedule, err)
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
