package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/outreachhq/invoicing/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the schema migrations for a dialect
func GetMigrations(d Dialect) []Migration {
	numeric := "NUMERIC(14,2)"
	boolean := "BOOLEAN"
	if d == DialectSQLite {
		numeric = "REAL"
		boolean = "INTEGER"
	}

	return []Migration{
		{
			Version:     1,
			Description: "Create invoices table",
			SQL: `
				CREATE TABLE IF NOT EXISTS invoices (
					id VARCHAR(64) PRIMARY KEY,
					client_id VARCHAR(255) NOT NULL,
					billing_month INTEGER NOT NULL CHECK (billing_month BETWEEN 1 AND 12),
					billing_year INTEGER NOT NULL,
					invoice_number VARCHAR(64) NOT NULL,
					amount ` + numeric + ` NOT NULL,
					currency VARCHAR(3) NOT NULL,
					invoice_date DATE NOT NULL,
					due_date DATE NOT NULL,
					status VARCHAR(16) NOT NULL DEFAULT 'GENERATED',
					paid_at TIMESTAMP,
					description TEXT NOT NULL,
					notes TEXT,
					installments INTEGER NOT NULL DEFAULT 1,
					payment_terms TEXT,
					blob_id VARCHAR(64),
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL,
					UNIQUE (client_id, billing_month, billing_year)
				);

				CREATE INDEX IF NOT EXISTS idx_invoices_period ON invoices(billing_year, billing_month);
				CREATE INDEX IF NOT EXISTS idx_invoices_status_due ON invoices(status, due_date);
				CREATE INDEX IF NOT EXISTS idx_invoices_number ON invoices(invoice_number);
			`,
		},
		{
			Version:     2,
			Description: "Create blob tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS blobs (
					id VARCHAR(64) PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					length BIGINT NOT NULL,
					chunk_size INTEGER NOT NULL DEFAULT 0,
					checksum VARCHAR(64) NOT NULL,
					client_id VARCHAR(255),
					invoice_id VARCHAR(64),
					category VARCHAR(64),
					content_type VARCHAR(255) NOT NULL,
					tags TEXT NOT NULL DEFAULT '{}',
					object_key TEXT,
					uploaded_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_blobs_invoice_id ON blobs(invoice_id);
				CREATE INDEX IF NOT EXISTS idx_blobs_client_id ON blobs(client_id);

				CREATE TABLE IF NOT EXISTS blob_chunks (
					blob_id VARCHAR(64) NOT NULL,
					n INTEGER NOT NULL,
					data ` + d.blobType() + ` NOT NULL,
					PRIMARY KEY (blob_id, n)
				);
			`,
		},
		{
			Version:     3,
			Description: "Create catalog tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS plans (
					id VARCHAR(64) PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					base_price ` + numeric + `,
					pricing_kind VARCHAR(32),
					unit_price ` + numeric + `
				);

				CREATE TABLE IF NOT EXISTS clients (
					id VARCHAR(64) PRIMARY KEY,
					business_name VARCHAR(255) NOT NULL,
					billing_address TEXT,
					contact_name VARCHAR(255),
					contact_email VARCHAR(255),
					currency VARCHAR(3),
					license_count INTEGER NOT NULL DEFAULT 0,
					staff_count INTEGER NOT NULL DEFAULT 0,
					unit_price ` + numeric + `,
					discount_percentage ` + numeric + ` NOT NULL DEFAULT 0,
					installments INTEGER NOT NULL DEFAULT 1,
					payment_terms TEXT,
					plan_id VARCHAR(64) REFERENCES plans(id),
					active ` + boolean + ` NOT NULL DEFAULT TRUE
				);

				CREATE INDEX IF NOT EXISTS idx_clients_plan_id ON clients(plan_id);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB, d Dialect, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NopLogger()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS invoicing_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM invoicing_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations(d) {
		if applied[migration.Version] {
			continue
		}

		log := logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		})
		log.Info("Running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			d.Rebind("INSERT INTO invoicing_migrations (version, description) VALUES ($1, $2)"),
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
		log.Info("Migration completed")
	}

	return nil
}
