package ledger

import (
	"context"
	"time"
)

// Store persists invoice records. Implementations must enforce uniqueness of
// (ClientID, BillingMonth, BillingYear).
type Store interface {
	// GetByID returns the invoice or ErrNotFound
	GetByID(ctx context.Context, id string) (*Invoice, error)

	// FindByPeriod returns the client's invoice for a period or ErrNotFound
	FindByPeriod(ctx context.Context, clientID string, period Period) (*Invoice, error)

	// InsertIfAbsent creates the invoice unless one already exists for its
	// client and period. Losing that race is reported as AlreadyExists, not
	// as an error.
	InsertIfAbsent(ctx context.Context, invoice *Invoice) (InsertResult, error)

	// Update overwrites the document fields of the invoice with the same id:
	// amount, currency, dates, description, notes, payment terms and blob id.
	// Status and paid time are left as stored. Returns the stored record, or
	// ErrNotFound.
	Update(ctx context.Context, invoice *Invoice) (*Invoice, error)

	// UpdateStatus sets the status of an invoice. PAID stamps the paid time
	// with at unless one is already recorded; any other status clears it.
	// Returns the stored record, or ErrNotFound.
	UpdateStatus(ctx context.Context, id string, status Status, at time.Time) (*Invoice, error)

	// ListByClient returns a client's invoices, newest period first
	ListByClient(ctx context.Context, clientID string) ([]*Invoice, error)

	// ListByPeriod returns every invoice of a period
	ListByPeriod(ctx context.Context, period Period) ([]*Invoice, error)

	// MarkOverdue moves GENERATED invoices due before asOf to OVERDUE and
	// returns how many changed
	MarkOverdue(ctx context.Context, asOf, now time.Time) (int64, error)
}

// InsertResult is the outcome of Store.InsertIfAbsent: Inserted or AlreadyExists
type InsertResult interface {
	insertResult()
}

// Inserted carries the newly created record
type Inserted struct {
	Invoice *Invoice
}

// AlreadyExists reports that another record holds the client and period
type AlreadyExists struct{}

func (Inserted) insertResult()      {}
func (AlreadyExists) insertResult() {}
