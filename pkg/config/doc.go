// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	INVOICING_HOST="0.0.0.0"
//	INVOICING_PORT="8080"
//	INVOICING_HEALTH_PORT="9090"
//	INVOICING_REQUEST_TIMEOUT="45s"
//
// Storage settings:
//
//	INVOICING_DB_DRIVER="postgres"  # postgres, sqlite3
//	INVOICING_DB_URL="postgres://localhost/invoicing"
//	INVOICING_DB_REPLICA_URLS="postgres://replica-1/invoicing,postgres://replica-2/invoicing"
//	INVOICING_STORAGE_TYPE="postgres"  # postgres, s3, filesystem
//	INVOICING_CHUNK_SIZE="261120"
//	INVOICING_S3_BUCKET="invoice-documents"
//	INVOICING_S3_REGION="us-east-1"
//
// Cache settings:
//
//	INVOICING_CACHE_ENABLED="true"
//	INVOICING_L1_CACHE_ENTRIES="256"
//	INVOICING_REDIS_URL="redis://localhost:6379"
//
// Billing and scheduler settings:
//
//	INVOICING_BRANDING_FILE="/etc/invoicing/branding.yaml"
//	INVOICING_BATCH_CONCURRENCY="4"
//	INVOICING_OVERDUE_SCHEDULE="15 2 * * *"
//
// Observability settings:
//
//	INVOICING_LOG_LEVEL="info"  # debug, info, warn, error
//	INVOICING_METRICS_ENABLED="true"
//	INVOICING_OTEL_ENABLED="true"
//	INVOICING_OTEL_ENDPOINT="otel-collector:4317"
//
// # Dotenv files
//
// LoadEnvFile reads an optional dotenv file before LoadConfig runs. Values
// already present in the environment are not overridden.
//
// # Usage Example
//
//	if err := config.LoadEnvFile(os.Getenv("INVOICING_ENV_FILE")); err != nil {
//		log.Fatal(err)
//	}
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Blob backend: %s\n", cfg.Storage.Type)
package config
