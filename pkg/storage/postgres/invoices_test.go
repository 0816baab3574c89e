package postgres

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outreachhq/invoicing/pkg/billing"
	"github.com/outreachhq/invoicing/pkg/ledger"
	"github.com/outreachhq/invoicing/pkg/storage"
)

var jan2024 = ledger.Period{Month: 1, Year: 2024}

func TestInvoiceStore_InsertAndRead(t *testing.T) {
	db := setupSQLite(t)
	store := NewInvoiceStore(SingleDB{DB: db}, DialectSQLite)
	ctx := context.Background()

	inv := sampleInvoice("inv-1", "client-1", jan2024)
	inv.Notes = "first"

	res, err := store.InsertIfAbsent(ctx, inv)
	require.NoError(t, err)
	inserted, ok := res.(ledger.Inserted)
	require.True(t, ok, "expected Inserted, got %T", res)
	assert.Equal(t, "inv-1", inserted.Invoice.ID)

	got, err := store.GetByID(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, inv.InvoiceNumber, got.InvoiceNumber)
	assert.Equal(t, 4000.0, got.Amount)
	assert.True(t, got.InvoiceDate.Equal(jan2024.FirstDay()))
	assert.True(t, got.DueDate.Equal(jan2024.LastDay()))
	assert.Equal(t, ledger.StatusGenerated, got.Status)
	assert.Nil(t, got.PaidAt)
	assert.Equal(t, "first", got.Notes)
	assert.Equal(t, billing.PaymentTerms{Installments: 1, Terms: "Net 30"}, got.PaymentTerms)
	assert.Empty(t, got.BlobID)
	assert.True(t, got.CreatedAt.Equal(inv.CreatedAt))

	byPeriod, err := store.FindByPeriod(ctx, "client-1", jan2024)
	require.NoError(t, err)
	assert.Equal(t, "inv-1", byPeriod.ID)

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = store.FindByPeriod(ctx, "client-1", ledger.Period{Month: 2, Year: 2024})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestInvoiceStore_InsertConflict(t *testing.T) {
	db := setupSQLite(t)
	store := NewInvoiceStore(SingleDB{DB: db}, DialectSQLite)
	ctx := context.Background()

	_, err := store.InsertIfAbsent(ctx, sampleInvoice("inv-1", "client-1", jan2024))
	require.NoError(t, err)

	res, err := store.InsertIfAbsent(ctx, sampleInvoice("inv-2", "client-1", jan2024))
	require.NoError(t, err)
	assert.IsType(t, ledger.AlreadyExists{}, res)

	// Same period for another client is fine
	res, err = store.InsertIfAbsent(ctx, sampleInvoice("inv-3", "client-2", jan2024))
	require.NoError(t, err)
	assert.IsType(t, ledger.Inserted{}, res)

	_, err = store.GetByID(ctx, "inv-2")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestInvoiceStore_Update(t *testing.T) {
	db := setupSQLite(t)
	store := NewInvoiceStore(SingleDB{DB: db}, DialectSQLite)
	ctx := context.Background()

	inv := sampleInvoice("inv-1", "client-1", jan2024)
	_, err := store.InsertIfAbsent(ctx, inv)
	require.NoError(t, err)

	updatedAt := time.Date(2024, 2, 3, 10, 0, 0, 0, time.UTC)
	inv.Amount = 999
	inv.Status = ledger.StatusPaid
	inv.PaidAt = &updatedAt
	inv.BlobID = "blob-1"
	inv.PaymentTerms = billing.PaymentTerms{Installments: 3, Terms: "Quarterly"}
	inv.UpdatedAt = updatedAt

	got, err := store.Update(ctx, inv)
	require.NoError(t, err)
	assert.Equal(t, 999.0, got.Amount)
	assert.Equal(t, "blob-1", got.BlobID)
	assert.Equal(t, 3, got.PaymentTerms.Installments)
	assert.True(t, got.UpdatedAt.Equal(updatedAt))
	assert.Equal(t, ledger.StatusGenerated, got.Status, "Update must not write the status")
	assert.Nil(t, got.PaidAt)

	_, err = store.Update(ctx, sampleInvoice("ghost", "client-9", jan2024))
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestInvoiceStore_UpdateStatus(t *testing.T) {
	db := setupSQLite(t)
	store := NewInvoiceStore(SingleDB{DB: db}, DialectSQLite)
	ctx := context.Background()

	_, err := store.InsertIfAbsent(ctx, sampleInvoice("inv-1", "client-1", jan2024))
	require.NoError(t, err)

	first := time.Date(2024, 2, 3, 10, 0, 0, 0, time.UTC)
	later := first.Add(48 * time.Hour)

	paid, err := store.UpdateStatus(ctx, "inv-1", ledger.StatusPaid, first)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)
	assert.True(t, paid.PaidAt.Equal(first))

	again, err := store.UpdateStatus(ctx, "inv-1", ledger.StatusPaid, later)
	require.NoError(t, err)
	require.NotNil(t, again.PaidAt)
	assert.True(t, again.PaidAt.Equal(first), "paid time keeps the first stamp")
	assert.True(t, again.UpdatedAt.Equal(later))

	// A document update after payment leaves the payment in place
	doc := sampleInvoice("inv-1", "client-1", jan2024)
	doc.Amount = 1234
	doc.UpdatedAt = later
	updated, err := store.Update(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 1234.0, updated.Amount)
	assert.Equal(t, ledger.StatusPaid, updated.Status)
	require.NotNil(t, updated.PaidAt)
	assert.True(t, updated.PaidAt.Equal(first))

	overdue, err := store.UpdateStatus(ctx, "inv-1", ledger.StatusOverdue, later)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusOverdue, overdue.Status)
	assert.Nil(t, overdue.PaidAt)

	_, err = store.UpdateStatus(ctx, "ghost", ledger.StatusPaid, later)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestInvoiceStore_ListsAndOverdue(t *testing.T) {
	db := setupSQLite(t)
	store := NewInvoiceStore(SingleDB{DB: db}, DialectSQLite)
	ctx := context.Background()

	for i, p := range []ledger.Period{{Month: 11, Year: 2023}, {Month: 1, Year: 2024}, {Month: 12, Year: 2023}} {
		_, err := store.InsertIfAbsent(ctx, sampleInvoice(string(rune('a'+i)), "client-1", p))
		require.NoError(t, err)
	}
	_, err := store.InsertIfAbsent(ctx, sampleInvoice("z", "client-2", jan2024))
	require.NoError(t, err)

	list, err := store.ListByClient(ctx, "client-1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{list[0].ID, list[1].ID, list[2].ID})

	byPeriod, err := store.ListByPeriod(ctx, jan2024)
	require.NoError(t, err)
	assert.Len(t, byPeriod, 2)

	empty, err := store.ListByClient(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	now := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	n, err := store.MarkOverdue(ctx, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "november and december are past due")

	n, err = store.MarkOverdue(ctx, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "already overdue")

	got, err := store.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusOverdue, got.Status)
}

func newSQLLedger(t *testing.T) (*ledger.Ledger, *InvoiceStore, *ChunkedBlobStore) {
	t.Helper()
	db := setupSQLite(t)
	provider := SingleDB{DB: db}
	store := NewInvoiceStore(provider, DialectSQLite)
	blobs := NewChunkedBlobStore(provider, DialectSQLite, 16, nil)
	return ledger.New(store, blobs, stubRenderer{}), store, blobs
}

func TestLedgerOverSQLite_Scenarios(t *testing.T) {
	l, _, blobs := newSQLLedger(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		client  billing.ClientProfile
		plan    billing.Plan
		amount  float64
		monthly float64
	}{
		{
			name:    "per staff",
			client:  billing.ClientProfile{ID: "staff", BusinessName: "Staff Co", StaffCount: 2, PaymentTerms: billing.PaymentTerms{Installments: 1}},
			plan:    billing.Plan{Name: "SDR", Configuration: billing.PerStaff{PricePerStaff: billing.Float64(2000)}},
			amount:  4000,
			monthly: 4000,
		},
		{
			name: "per license with discount",
			client: billing.ClientProfile{ID: "lic", BusinessName: "Lic Co", LicenseCount: 10, DiscountPercentage: 10,
				PaymentTerms: billing.PaymentTerms{Installments: 2}},
			plan:    billing.Plan{Name: "Seats", Configuration: billing.PerLicense{PricePerLicense: billing.Float64(250)}},
			amount:  2250,
			monthly: 1125,
		},
		{
			name:    "fixed",
			client:  billing.ClientProfile{ID: "fixed", BusinessName: "Fixed Co"},
			plan:    billing.Plan{Name: "Starter", BasePrice: billing.Float64(499), Configuration: billing.FixedPrice{}},
			amount:  499,
			monthly: 499,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := l.Upsert(ctx, ledger.UpsertRequest{Client: tt.client, Plan: tt.plan, Period: jan2024})
			require.NoError(t, err)
			assert.True(t, res.Created)
			assert.InDelta(t, tt.amount, res.Invoice.Amount, 1e-9)
			assert.InDelta(t, tt.monthly, res.Calculation.Monthly, 1e-9)

			_, blob, err := l.Document(ctx, res.Invoice.ID)
			require.NoError(t, err)
			assert.Contains(t, string(blob.Content), res.Invoice.InvoiceNumber)

			infos, err := blobs.ListByInvoice(ctx, res.Invoice.ID)
			require.NoError(t, err)
			require.Len(t, infos, 1)
			assert.Equal(t, storage.CategoryInvoice, infos[0].Metadata.Category)
		})
	}
}

func TestLedgerOverSQLite_IdempotentAndOverride(t *testing.T) {
	l, store, blobs := newSQLLedger(t)
	ctx := context.Background()
	req := ledger.UpsertRequest{
		Client: billing.ClientProfile{ID: "c1", BusinessName: "Acme", StaffCount: 2},
		Plan:   billing.Plan{Name: "SDR", Configuration: billing.PerStaff{PricePerStaff: billing.Float64(2000)}},
		Period: jan2024,
	}

	first, err := l.Upsert(ctx, req)
	require.NoError(t, err)

	req.Overrides.Amount = billing.Float64(999)
	second, err := l.Upsert(ctx, req)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Invoice.ID, second.Invoice.ID)
	assert.Equal(t, first.Invoice.InvoiceNumber, second.Invoice.InvoiceNumber)

	stored, err := store.FindByPeriod(ctx, "c1", jan2024)
	require.NoError(t, err)
	assert.Equal(t, 999.0, stored.Amount)
	assert.Equal(t, second.BlobID, stored.BlobID)

	infos, err := blobs.ListByInvoice(ctx, first.Invoice.ID)
	require.NoError(t, err)
	assert.Len(t, infos, 2, "each upsert stores a new document")
}

func TestLedgerOverSQLite_ConcurrentUpserts(t *testing.T) {
	l, store, _ := newSQLLedger(t)
	ctx := context.Background()
	req := ledger.UpsertRequest{
		Client: billing.ClientProfile{ID: "c1", BusinessName: "Acme", StaffCount: 2},
		Plan:   billing.Plan{Name: "SDR", Configuration: billing.PerStaff{PricePerStaff: billing.Float64(2000)}},
		Period: jan2024,
	}

	const n = 12
	results := make([]*ledger.Result, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = l.Upsert(ctx, req)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].Invoice.ID, results[i].Invoice.ID)
		assert.Equal(t, "INV-ACME-202401", results[i].Invoice.InvoiceNumber)
	}

	list, err := store.ListByClient(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestInvoiceStore_InsertErrorIsWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO invoices")).WillReturnError(assert.AnError)

	store := NewInvoiceStore(SingleDB{DB: db}, DialectPostgres)
	_, err = store.InsertIfAbsent(context.Background(), sampleInvoice("inv-1", "c1", jan2024))
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "failed to insert invoice")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedger_ReadBackFailureOverSQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cols := []string{"id", "client_id", "billing_month", "billing_year", "invoice_number", "amount", "currency",
		"invoice_date", "due_date", "status", "paid_at", "description", "notes", "installments", "payment_terms",
		"blob_id", "created_at", "updated_at"}

	mock.ExpectQuery(`SELECT .* FROM invoices WHERE client_id = \$1`).
		WithArgs("c1", 1, 2024).
		WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO invoices")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("new-id"))
	mock.ExpectQuery(`SELECT .* FROM invoices WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectQuery(`SELECT .* FROM invoices WHERE client_id = \$1`).
		WithArgs("c1", 1, 2024).
		WillReturnRows(sqlmock.NewRows(cols))

	blobs, err := storage.NewFileSystemBlobStore(t.TempDir())
	require.NoError(t, err)
	l := ledger.New(NewInvoiceStore(SingleDB{DB: db}, DialectPostgres), blobs, stubRenderer{})

	_, err = l.Upsert(context.Background(), ledger.UpsertRequest{
		Client: billing.ClientProfile{ID: "c1", BusinessName: "Acme", StaffCount: 2},
		Plan:   billing.Plan{Name: "SDR", Configuration: billing.PerStaff{PricePerStaff: billing.Float64(2000)}},
		Period: jan2024,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrStorageConsistency)

	var cerr *ledger.ConsistencyError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "c1", cerr.ClientID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceStore_MarkOverdueSQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	asOf := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	now := asOf.Add(time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE invoices SET status = $1, updated_at = $2")).
		WithArgs("OVERDUE", now, "GENERATED", asOf).
		WillReturnResult(sqlmock.NewResult(0, 3))

	store := NewInvoiceStore(SingleDB{DB: db}, DialectPostgres)
	n, err := store.MarkOverdue(context.Background(), asOf, now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
