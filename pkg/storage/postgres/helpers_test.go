package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/outreachhq/invoicing/pkg/billing"
	"github.com/outreachhq/invoicing/pkg/document"
	"github.com/outreachhq/invoicing/pkg/ledger"
)

// setupSQLite opens a migrated sqlite database in a temp dir
func setupSQLite(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "invoicing.db")
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, RunMigrations(context.Background(), db, DialectSQLite, nil))
	return db
}

// stubRenderer produces small fake documents
type stubRenderer struct{}

func (stubRenderer) Render(client billing.ClientProfile, meta document.InvoiceMeta, calc billing.Calculation) ([]byte, error) {
	return []byte(fmt.Sprintf("%%PDF-stub %s %s %.2f", meta.Number, client.ID, calc.Final)), nil
}

func sampleInvoice(id, clientID string, p ledger.Period) *ledger.Invoice {
	now := time.Date(2024, 2, 1, 9, 30, 0, 0, time.UTC)
	return &ledger.Invoice{
		ID:            id,
		ClientID:      clientID,
		BillingMonth:  p.Month,
		BillingYear:   p.Year,
		InvoiceNumber: ledger.GenerateInvoiceNumber(clientID, p),
		Amount:        4000,
		Currency:      "USD",
		InvoiceDate:   p.FirstDay(),
		DueDate:       p.LastDay(),
		Status:        ledger.StatusGenerated,
		Description:   "SDR Team (2 staff)",
		PaymentTerms:  billing.PaymentTerms{Installments: 1, Terms: "Net 30"},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
