package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/outreachhq/invoicing/pkg/ledger"
)

var tracer = otel.Tracer("github.com/outreachhq/invoicing/pkg/storage/postgres")

const invoiceColumns = `id, client_id, billing_month, billing_year, invoice_number, amount, currency,
	invoice_date, due_date, status, paid_at, description, notes, installments, payment_terms,
	blob_id, created_at, updated_at`

// InvoiceStore implements ledger.Store over database/sql. Lookups used on the
// write path read from the primary; listings read from a replica.
type InvoiceStore struct {
	db      DBProvider
	dialect Dialect
}

// NewInvoiceStore creates an invoice store
func NewInvoiceStore(db DBProvider, dialect Dialect) *InvoiceStore {
	return &InvoiceStore{db: db, dialect: dialect}
}

var _ ledger.Store = (*InvoiceStore)(nil)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInvoice(row rowScanner) (*ledger.Invoice, error) {
	var (
		inv          ledger.Invoice
		status       string
		paidAt       sql.NullTime
		notes        sql.NullString
		paymentTerms sql.NullString
		blobID       sql.NullString
	)
	err := row.Scan(
		&inv.ID,
		&inv.ClientID,
		&inv.BillingMonth,
		&inv.BillingYear,
		&inv.InvoiceNumber,
		&inv.Amount,
		&inv.Currency,
		&inv.InvoiceDate,
		&inv.DueDate,
		&status,
		&paidAt,
		&inv.Description,
		&notes,
		&inv.PaymentTerms.Installments,
		&paymentTerms,
		&blobID,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	inv.Status = ledger.Status(status)
	if paidAt.Valid {
		t := paidAt.Time.UTC()
		inv.PaidAt = &t
	}
	inv.Notes = notes.String
	inv.PaymentTerms.Terms = paymentTerms.String
	inv.BlobID = blobID.String
	inv.InvoiceDate = inv.InvoiceDate.UTC()
	inv.DueDate = inv.DueDate.UTC()
	inv.CreatedAt = inv.CreatedAt.UTC()
	inv.UpdatedAt = inv.UpdatedAt.UTC()
	return &inv, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func (s *InvoiceStore) queryOne(ctx context.Context, query string, args ...interface{}) (*ledger.Invoice, error) {
	inv, err := scanInvoice(s.db.Primary().QueryRowContext(ctx, s.dialect.Rebind(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return inv, nil
}

// GetByID returns an invoice by id
func (s *InvoiceStore) GetByID(ctx context.Context, id string) (*ledger.Invoice, error) {
	return s.queryOne(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
}

// FindByPeriod returns the invoice of a client for a billing period
func (s *InvoiceStore) FindByPeriod(ctx context.Context, clientID string, p ledger.Period) (*ledger.Invoice, error) {
	return s.queryOne(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE client_id = $1 AND billing_month = $2 AND billing_year = $3`,
		clientID, p.Month, p.Year,
	)
}

// InsertIfAbsent inserts the invoice unless one exists for its client and
// period. The unique constraint decides; a conflict is not an error.
func (s *InvoiceStore) InsertIfAbsent(ctx context.Context, inv *ledger.Invoice) (ledger.InsertResult, error) {
	ctx, span := tracer.Start(ctx, "InvoiceStore.InsertIfAbsent", trace.WithAttributes(
		attribute.String("db.system", string(s.dialect)),
		attribute.String("invoice.id", inv.ID),
	))
	defer span.End()

	query := `
		INSERT INTO invoices (` + invoiceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (client_id, billing_month, billing_year) DO NOTHING
		RETURNING id
	`

	var id string
	err := s.db.Primary().QueryRowContext(ctx, s.dialect.Rebind(query),
		inv.ID,
		inv.ClientID,
		inv.BillingMonth,
		inv.BillingYear,
		inv.InvoiceNumber,
		inv.Amount,
		inv.Currency,
		inv.InvoiceDate.UTC(),
		inv.DueDate.UTC(),
		string(inv.Status),
		nullTime(inv.PaidAt),
		inv.Description,
		nullString(inv.Notes),
		inv.PaymentTerms.Installments,
		nullString(inv.PaymentTerms.Terms),
		nullString(inv.BlobID),
		inv.CreatedAt.UTC(),
		inv.UpdatedAt.UTC(),
	).Scan(&id)

	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("invoice.conflict", true))
		return ledger.AlreadyExists{}, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return nil, fmt.Errorf("failed to insert invoice: %w", err)
	}

	created := *inv
	created.ID = id
	span.SetStatus(codes.Ok, "inserted")
	return ledger.Inserted{Invoice: &created}, nil
}

// Update overwrites the document fields of an existing invoice. Status and
// paid_at are left alone; see UpdateStatus.
func (s *InvoiceStore) Update(ctx context.Context, inv *ledger.Invoice) (*ledger.Invoice, error) {
	ctx, span := tracer.Start(ctx, "InvoiceStore.Update", trace.WithAttributes(
		attribute.String("db.system", string(s.dialect)),
		attribute.String("invoice.id", inv.ID),
	))
	defer span.End()

	query := `
		UPDATE invoices SET
			invoice_number = $2,
			amount = $3,
			currency = $4,
			invoice_date = $5,
			due_date = $6,
			description = $7,
			notes = $8,
			installments = $9,
			payment_terms = $10,
			blob_id = $11,
			updated_at = $12
		WHERE id = $1
	`

	err := s.execOne(ctx, query,
		inv.ID,
		inv.InvoiceNumber,
		inv.Amount,
		inv.Currency,
		inv.InvoiceDate.UTC(),
		inv.DueDate.UTC(),
		inv.Description,
		nullString(inv.Notes),
		inv.PaymentTerms.Installments,
		nullString(inv.PaymentTerms.Terms),
		nullString(inv.BlobID),
		inv.UpdatedAt.UTC(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return nil, err
	}
	span.SetStatus(codes.Ok, "updated")
	return s.GetByID(ctx, inv.ID)
}

// UpdateStatus sets an invoice's status. PAID keeps an existing paid_at and
// stamps at otherwise; other statuses clear it.
func (s *InvoiceStore) UpdateStatus(ctx context.Context, id string, status ledger.Status, at time.Time) (*ledger.Invoice, error) {
	ctx, span := tracer.Start(ctx, "InvoiceStore.UpdateStatus", trace.WithAttributes(
		attribute.String("db.system", string(s.dialect)),
		attribute.String("invoice.id", id),
		attribute.String("invoice.status", string(status)),
	))
	defer span.End()

	query := `
		UPDATE invoices SET
			status = $2,
			paid_at = CASE WHEN $3 THEN COALESCE(paid_at, $4) ELSE NULL END,
			updated_at = $4
		WHERE id = $1
	`

	if err := s.execOne(ctx, query, id, string(status), status == ledger.StatusPaid, at.UTC()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "status update failed")
		return nil, err
	}
	span.SetStatus(codes.Ok, "updated")
	return s.GetByID(ctx, id)
}

// execOne runs an update that must touch exactly one row
func (s *InvoiceStore) execOne(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.db.Primary().ExecContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to update invoice: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (s *InvoiceStore) list(ctx context.Context, query string, args ...interface{}) ([]*ledger.Invoice, error) {
	rows, err := s.db.Replica().QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	invoices := make([]*ledger.Invoice, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invoices: %w", err)
	}
	return invoices, nil
}

// ListByClient returns a client's invoices, newest period first
func (s *InvoiceStore) ListByClient(ctx context.Context, clientID string) ([]*ledger.Invoice, error) {
	return s.list(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE client_id = $1 ORDER BY billing_year DESC, billing_month DESC`,
		clientID,
	)
}

// ListByPeriod returns every invoice of a billing period ordered by number
func (s *InvoiceStore) ListByPeriod(ctx context.Context, p ledger.Period) ([]*ledger.Invoice, error) {
	return s.list(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE billing_month = $1 AND billing_year = $2 ORDER BY invoice_number, client_id`,
		p.Month, p.Year,
	)
}

// MarkOverdue moves GENERATED invoices due before asOf to OVERDUE
func (s *InvoiceStore) MarkOverdue(ctx context.Context, asOf, now time.Time) (int64, error) {
	res, err := s.db.Primary().ExecContext(ctx, s.dialect.Rebind(`
		UPDATE invoices SET status = $1, updated_at = $2
		WHERE status = $3 AND due_date < $4
	`), string(ledger.StatusOverdue), now.UTC(), string(ledger.StatusGenerated), asOf.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to mark invoices overdue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

