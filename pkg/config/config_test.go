package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/outreachhq/invoicing/pkg/observability"
	"github.com/outreachhq/invoicing/pkg/storage"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvBool tests the getEnvBool helper function
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue bool
		want         bool
	}{
		{"true", "true", false, true},
		{"TRUE", "TRUE", false, true},
		{"1", "1", false, true},
		{"false", "false", true, false},
		{"garbage", "yes", true, false},
		{"unset uses default", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv("TEST_BOOL", tt.envValue)
			}
			if got := getEnvBool("TEST_BOOL", tt.defaultValue); got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvNumbers tests the numeric helpers, which ignore unparsable values
func TestGetEnvNumbers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "forty-two")
	t.Setenv("TEST_INT64", "1048576")
	t.Setenv("TEST_FLOAT", "0.25")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_BAD_DURATION", "90")

	if got := getEnvInt("TEST_INT", 1); got != 42 {
		t.Errorf("getEnvInt() = %d, want 42", got)
	}
	if got := getEnvInt("TEST_BAD_INT", 7); got != 7 {
		t.Errorf("getEnvInt() with bad value = %d, want 7", got)
	}
	if got := getEnvInt64("TEST_INT64", 0); got != 1<<20 {
		t.Errorf("getEnvInt64() = %d, want %d", got, 1<<20)
	}
	if got := getEnvFloat("TEST_FLOAT", 1); got != 0.25 {
		t.Errorf("getEnvFloat() = %v, want 0.25", got)
	}
	if got := getEnvDuration("TEST_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("getEnvDuration() = %v, want 90s", got)
	}
	if got := getEnvDuration("TEST_BAD_DURATION", time.Second); got != time.Second {
		t.Errorf("getEnvDuration() with bad value = %v, want 1s", got)
	}
}

// TestLoadServerConfig tests defaults and overrides of the server settings
func TestLoadServerConfig(t *testing.T) {
	cfg := loadServerConfig()
	if cfg.Port != "8080" || cfg.HealthPort != "9090" {
		t.Errorf("default ports = %s/%s, want 8080/9090", cfg.Port, cfg.HealthPort)
	}
	if cfg.RequestTimeout != 45*time.Second {
		t.Errorf("default request timeout = %v, want 45s", cfg.RequestTimeout)
	}
	if !cfg.RateLimitEnabled || cfg.RateLimitPerMinute != 60 || cfg.RateLimitBurst != 10 {
		t.Errorf("default rate limit = %v/%d/%d, want true/60/10", cfg.RateLimitEnabled, cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	}

	t.Setenv("INVOICING_PORT", "8000")
	t.Setenv("INVOICING_RATE_LIMIT_PER_MINUTE", "5")
	t.Setenv("INVOICING_REQUEST_TIMEOUT", "5s")
	t.Setenv("INVOICING_MAX_BODY_BYTES", "2048")

	cfg = loadServerConfig()
	if cfg.Port != "8000" {
		t.Errorf("Port = %s, want 8000", cfg.Port)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Errorf("RequestTimeout = %v, want 5s", cfg.RequestTimeout)
	}
	if cfg.MaxBodyBytes != 2048 {
		t.Errorf("MaxBodyBytes = %d, want 2048", cfg.MaxBodyBytes)
	}
	if cfg.RateLimitPerMinute != 5 {
		t.Errorf("RateLimitPerMinute = %d, want 5", cfg.RateLimitPerMinute)
	}
}

// TestLoadStorageConfig tests that storage env vars override the defaults
func TestLoadStorageConfig(t *testing.T) {
	defaults := loadStorageConfig()
	if defaults != storage.DefaultConfig() {
		t.Errorf("loadStorageConfig() without env = %+v, want DefaultConfig()", defaults)
	}

	t.Setenv("INVOICING_STORAGE_TYPE", "s3")
	t.Setenv("INVOICING_DB_DRIVER", "sqlite3")
	t.Setenv("INVOICING_DB_URL", "file:/tmp/invoicing.db")
	t.Setenv("INVOICING_DB_REPLICA_URLS", "postgres://r1,postgres://r2")
	t.Setenv("INVOICING_RUN_MIGRATIONS", "false")
	t.Setenv("INVOICING_CHUNK_SIZE", "1024")
	t.Setenv("INVOICING_S3_BUCKET", "invoices")
	t.Setenv("INVOICING_S3_USE_PATH_STYLE", "true")
	t.Setenv("INVOICING_REDIS_URL", "redis://localhost:6379")
	t.Setenv("INVOICING_REDIS_DB", "0")
	t.Setenv("INVOICING_CACHE_ENABLED", "false")
	t.Setenv("INVOICING_CACHE_TTL", "1h")
	t.Setenv("INVOICING_L1_CACHE_ENTRIES", "32")

	cfg := loadStorageConfig()
	checks := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"Type", cfg.Type, "s3"},
		{"DatabaseDriver", cfg.DatabaseDriver, "sqlite3"},
		{"DatabaseURL", cfg.DatabaseURL, "file:/tmp/invoicing.db"},
		{"DatabaseReplicaURLs", cfg.DatabaseReplicaURLs, "postgres://r1,postgres://r2"},
		{"RunMigrations", cfg.RunMigrations, false},
		{"ChunkSize", cfg.ChunkSize, 1024},
		{"S3Bucket", cfg.S3Bucket, "invoices"},
		{"S3UsePathStyle", cfg.S3UsePathStyle, true},
		{"RedisURL", cfg.RedisURL, "redis://localhost:6379"},
		{"RedisDB", cfg.RedisDB, 0},
		{"CacheEnabled", cfg.CacheEnabled, false},
		{"CacheTTL", cfg.CacheTTL, time.Hour},
		{"L1CacheEntries", cfg.L1CacheEntries, 32},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

// TestLoadObservabilityConfig tests log level parsing and the OTel mapping
func TestLoadObservabilityConfig(t *testing.T) {
	t.Setenv("INVOICING_LOG_LEVEL", "WARN")
	t.Setenv("INVOICING_OTEL_ENABLED", "true")
	t.Setenv("INVOICING_OTEL_SAMPLE_RATIO", "0.1")

	cfg := loadObservabilityConfig()
	if cfg.LogLevel != observability.WarnLevel {
		t.Errorf("LogLevel = %v, want warn", cfg.LogLevel)
	}

	otel := cfg.OTel()
	if !otel.Enabled || otel.SampleRatio != 0.1 || otel.ServiceName != "invoicing" {
		t.Errorf("OTel() = %+v", otel)
	}

	t.Setenv("INVOICING_LOG_LEVEL", "chatty")
	if cfg := loadObservabilityConfig(); cfg.LogLevel != observability.InfoLevel {
		t.Errorf("unknown level = %v, want info", cfg.LogLevel)
	}
}

func validConfig() Config {
	st := storage.DefaultConfig()
	st.DatabaseURL = "postgres://localhost/invoicing?sslmode=disable"
	return Config{
		Server:    ServerConfig{Port: "8080", HealthPort: "9090"},
		Storage:   st,
		Billing:   BillingConfig{BatchConcurrency: 4},
		Scheduler: SchedulerConfig{Enabled: true, OverdueSchedule: "15 2 * * *"},
	}
}

// TestConfigValidate tests each validation rule
func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing server port", func(c *Config) { c.Server.Port = "" }, "server port is required"},
		{"missing health port", func(c *Config) { c.Server.HealthPort = "" }, "health port is required"},
		{"same ports", func(c *Config) { c.Server.HealthPort = "8080" }, "must be different"},
		{"zero rate limit", func(c *Config) {
			c.Server.RateLimitEnabled = true
			c.Server.RateLimitPerMinute = 0
		}, "rate limit per minute must be positive"},
		{"negative burst", func(c *Config) {
			c.Server.RateLimitEnabled = true
			c.Server.RateLimitPerMinute = 10
			c.Server.RateLimitBurst = -1
		}, "rate limit burst must not be negative"},
		{"rate limit disabled", func(c *Config) { c.Server.RateLimitPerMinute = 0 }, ""},
		{"missing database", func(c *Config) { c.Storage.DatabaseURL = "" }, "database URL is required"},
		{"unknown driver", func(c *Config) { c.Storage.DatabaseDriver = "mysql" }, "invalid database driver"},
		{"sqlite driver", func(c *Config) { c.Storage.DatabaseDriver = "sqlite3" }, ""},
		{"unknown backend", func(c *Config) { c.Storage.Type = "hybrid" }, "invalid storage type"},
		{"filesystem without root", func(c *Config) {
			c.Storage.Type = "filesystem"
			c.Storage.FilesystemRoot = ""
		}, "filesystem root is required"},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3" }, "S3 bucket is required"},
		{"s3 with bucket", func(c *Config) {
			c.Storage.Type = "s3"
			c.Storage.S3Bucket = "invoices"
		}, ""},
		{"zero chunk size", func(c *Config) { c.Storage.ChunkSize = 0 }, "chunk size must be positive"},
		{"zero concurrency", func(c *Config) { c.Billing.BatchConcurrency = 0 }, "batch concurrency"},
		{"bad schedule", func(c *Config) { c.Scheduler.OverdueSchedule = "every day" }, "invalid overdue schedule"},
		{"bad schedule while disabled", func(c *Config) {
			c.Scheduler.Enabled = false
			c.Scheduler.OverdueSchedule = "every day"
		}, ""},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelServiceName = "invoicing"
		}, "OpenTelemetry endpoint is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

// TestLoadConfig tests the LoadConfig function
func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{
			name: "valid config",
			env: map[string]string{
				"INVOICING_DB_URL":          "postgres://localhost/invoicing",
				"INVOICING_STORAGE_TYPE":    "filesystem",
				"INVOICING_FILESYSTEM_ROOT": "/tmp/invoicing",
			},
		},
		{
			name:    "missing database URL",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name: "same ports",
			env: map[string]string{
				"INVOICING_DB_URL":      "postgres://localhost/invoicing",
				"INVOICING_PORT":        "8080",
				"INVOICING_HEALTH_PORT": "8080",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := LoadConfig()
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadConfig() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && cfg == nil {
				t.Error("LoadConfig() returned nil config without error")
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "invoicing.env")
	body := "INVOICING_ENVFILE_FRESH=from-file\nINVOICING_ENVFILE_SET=from-file\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	// registers cleanup, then unset so the file can provide it
	t.Setenv("INVOICING_ENVFILE_FRESH", "")
	os.Unsetenv("INVOICING_ENVFILE_FRESH")
	t.Setenv("INVOICING_ENVFILE_SET", "from-env")

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile() error = %v", err)
	}
	if got := os.Getenv("INVOICING_ENVFILE_FRESH"); got != "from-file" {
		t.Errorf("INVOICING_ENVFILE_FRESH = %q, want from-file", got)
	}
	if got := os.Getenv("INVOICING_ENVFILE_SET"); got != "from-env" {
		t.Errorf("INVOICING_ENVFILE_SET = %q, want from-env", got)
	}
}

func TestLoadEnvFile_Missing(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("LoadEnvFile() error = %v, want nil for a missing file", err)
	}
}

func TestLoadEnvFile_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.env")
	if err := os.WriteFile(path, []byte("INVOICING_BAD='unterminated\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	err := LoadEnvFile(path)
	if err == nil || !strings.Contains(err.Error(), "failed to load env file") {
		t.Errorf("LoadEnvFile() error = %v, want load failure", err)
	}
}
