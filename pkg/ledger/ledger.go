package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/outreachhq/invoicing/pkg/billing"
	"github.com/outreachhq/invoicing/pkg/document"
	"github.com/outreachhq/invoicing/pkg/observability"
	"github.com/outreachhq/invoicing/pkg/storage"
)

// DefaultCurrency is used when a client has no currency code
const DefaultCurrency = "USD"

// Renderer turns an invoice into document bytes
type Renderer interface {
	Render(client billing.ClientProfile, meta document.InvoiceMeta, calc billing.Calculation) ([]byte, error)
}

// UpsertRequest asks for the invoice of one client and billing period
type UpsertRequest struct {
	Client    billing.ClientProfile
	Plan      billing.Plan
	Period    Period
	Overrides Overrides
}

// Result is the outcome of a successful upsert
type Result struct {
	Invoice     *Invoice
	BlobID      string
	Created     bool
	Calculation billing.Calculation
}

// Ledger owns invoice records and their documents
type Ledger struct {
	store    Store
	blobs    storage.BlobStore
	renderer Renderer
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures a Ledger
type Option func(*Ledger)

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics records upsert and render metrics
func WithMetrics(metrics *observability.Metrics) Option {
	return func(l *Ledger) {
		l.metrics = metrics
	}
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithTracer replaces the global tracer
func WithTracer(tracer trace.Tracer) Option {
	return func(l *Ledger) {
		if tracer != nil {
			l.tracer = tracer
		}
	}
}

// New creates a ledger over a record store, a blob store and a renderer
func New(store Store, blobs storage.BlobStore, renderer Renderer, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		blobs:    blobs,
		renderer: renderer,
		logger:   observability.NopLogger(),
		tracer:   otel.Tracer("github.com/outreachhq/invoicing/pkg/ledger"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Upsert produces the invoice for a client and billing period, creating the
// record on first call and updating it in place afterwards. Concurrent calls
// for the same client and period converge on one record.
func (l *Ledger) Upsert(ctx context.Context, req UpsertRequest) (result *Result, err error) {
	ctx, span := l.tracer.Start(ctx, "Ledger.Upsert", trace.WithAttributes(
		attribute.String("client.id", req.Client.ID),
		attribute.String("billing.period", req.Period.String()),
	))
	defer span.End()

	start := l.now()
	outcome := "error"
	defer func() {
		l.metrics.ObserveUpsert(outcome, l.now().Sub(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return
		}
		if result == nil {
			// unwinding a panic
			return
		}
		span.SetAttributes(
			attribute.String("invoice.id", result.Invoice.ID),
			attribute.String("invoice.number", result.Invoice.InvoiceNumber),
			attribute.Bool("invoice.created", result.Created),
		)
		span.SetStatus(codes.Ok, outcome)
	}()

	client := normalizeClient(req.Client, req.Overrides)
	calc := billing.Calculate(client, req.Plan)
	if err := validate(client, req.Period, calc, req.Overrides); err != nil {
		outcome = "validation_error"
		return nil, err
	}
	calc = applyAmountOverride(calc, req.Overrides.Amount, client.PaymentTerms.Installments)

	logger := l.logger.WithFields(map[string]interface{}{
		"client_id": client.ID,
		"period":    req.Period.String(),
	})

	existing, err := l.store.FindByPeriod(ctx, client.ID, req.Period)
	if errors.Is(err, ErrNotFound) {
		existing = nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up invoice: %w", err)
	}

	draft := l.prepare(existing, client, req.Period, calc, req.Overrides)
	if draft.BlobID, err = l.renderAndStore(ctx, client, draft, calc); err != nil {
		if errors.Is(err, ErrBlobStore) {
			outcome = "blob_error"
		}
		return nil, err
	}

	if existing != nil {
		updated, err := l.update(ctx, draft, req.Overrides.Status)
		if err != nil {
			return nil, fmt.Errorf("failed to update invoice: %w", err)
		}
		outcome = "updated"
		logger.WithField("invoice_id", updated.ID).Info("Invoice updated")
		return &Result{Invoice: updated, BlobID: draft.BlobID, Calculation: calc}, nil
	}

	inserted, err := l.store.InsertIfAbsent(ctx, draft)
	if err != nil {
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}

	switch r := inserted.(type) {
	case Inserted:
		record, err := l.verifyCreated(ctx, r.Invoice)
		if err != nil {
			outcome = "consistency_error"
			logger.WithError(err).Error("Created invoice could not be read back")
			return nil, err
		}
		outcome = "created"
		logger.WithFields(map[string]interface{}{
			"invoice_id":     record.ID,
			"invoice_number": record.InvoiceNumber,
		}).Info("Invoice created")
		return &Result{Invoice: record, BlobID: draft.BlobID, Created: true, Calculation: calc}, nil

	case AlreadyExists:
		updated, err := l.resolveRace(ctx, client, req.Period, calc, req.Overrides, draft)
		if err != nil {
			if errors.Is(err, ErrStorageConsistency) {
				outcome = "consistency_error"
			} else if errors.Is(err, ErrBlobStore) {
				outcome = "blob_error"
			}
			return nil, err
		}
		outcome = "race_updated"
		logger.WithField("invoice_id", updated.ID).Info("Invoice created concurrently, updated instead")
		return &Result{Invoice: updated, BlobID: updated.BlobID, Calculation: calc}, nil

	default:
		return nil, fmt.Errorf("unexpected insert result %T", inserted)
	}
}

// resolveRace updates the record that won a concurrent create. The document is
// re-rendered when the winner's id or number differs from the one rendered.
func (l *Ledger) resolveRace(ctx context.Context, client billing.ClientProfile, period Period, calc billing.Calculation, ov Overrides, draft *Invoice) (*Invoice, error) {
	winner, err := l.store.FindByPeriod(ctx, client.ID, period)
	if err != nil {
		return nil, &ConsistencyError{
			InvoiceID: draft.ID,
			ClientID:  client.ID,
			Period:    period,
			ByID:      errors.New("not attempted"),
			ByPeriod:  err,
		}
	}

	merged := l.prepare(winner, client, period, calc, ov)
	merged.BlobID = draft.BlobID
	if merged.ID != draft.ID || merged.InvoiceNumber != draft.InvoiceNumber {
		if merged.BlobID, err = l.renderAndStore(ctx, client, merged, calc); err != nil {
			return nil, err
		}
	}

	updated, err := l.update(ctx, merged, ov.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to update invoice after concurrent create: %w", err)
	}
	return updated, nil
}

// update writes the document fields of an existing record. Status is written
// separately and only when overridden.
func (l *Ledger) update(ctx context.Context, inv *Invoice, status *Status) (*Invoice, error) {
	updated, err := l.store.Update(ctx, inv)
	if err != nil {
		return nil, err
	}
	if status == nil || updated.Status == *status {
		return updated, nil
	}
	return l.store.UpdateStatus(ctx, updated.ID, *status, inv.UpdatedAt)
}

// verifyCreated reads a new record back by id and by period. Only a miss on
// both is an error.
func (l *Ledger) verifyCreated(ctx context.Context, created *Invoice) (*Invoice, error) {
	byID, errID := l.store.GetByID(ctx, created.ID)
	if errID == nil {
		return byID, nil
	}
	byPeriod, errPeriod := l.store.FindByPeriod(ctx, created.ClientID, created.Period())
	if errPeriod == nil {
		return byPeriod, nil
	}
	return nil, &ConsistencyError{
		InvoiceID: created.ID,
		ClientID:  created.ClientID,
		Period:    created.Period(),
		ByID:      errID,
		ByPeriod:  errPeriod,
	}
}

// prepare builds the record to write. With a nil base it is a new record;
// otherwise the base's id, number and creation time carry over. The status
// override only reaches storage through an insert; updates go through
// Ledger.update.
func (l *Ledger) prepare(base *Invoice, client billing.ClientProfile, period Period, calc billing.Calculation, ov Overrides) *Invoice {
	now := l.now().UTC()

	var inv Invoice
	if base != nil {
		inv = *base
	} else {
		inv = Invoice{
			ID:           uuid.New().String(),
			ClientID:     client.ID,
			BillingMonth: period.Month,
			BillingYear:  period.Year,
			Status:       StatusGenerated,
			CreatedAt:    now,
		}
		switch {
		case ov.InvoiceNumber != nil && strings.TrimSpace(*ov.InvoiceNumber) != "":
			inv.InvoiceNumber = strings.TrimSpace(*ov.InvoiceNumber)
		default:
			inv.InvoiceNumber = GenerateInvoiceNumber(client.BusinessName, period)
		}
	}

	inv.Amount = calc.Final
	inv.Currency = client.Currency
	inv.Description = calc.Description
	inv.PaymentTerms = client.PaymentTerms
	inv.InvoiceDate, inv.DueDate = invoiceDates(period, ov)
	if ov.Notes != nil {
		inv.Notes = *ov.Notes
	}
	if ov.Status != nil {
		inv.setStatus(*ov.Status, now)
	}
	inv.UpdatedAt = now

	return &inv
}

func (l *Ledger) renderAndStore(ctx context.Context, client billing.ClientProfile, inv *Invoice, calc billing.Calculation) (string, error) {
	meta := document.InvoiceMeta{
		Number:       inv.InvoiceNumber,
		InvoiceDate:  inv.InvoiceDate,
		DueDate:      inv.DueDate,
		PeriodMonth:  inv.BillingMonth,
		PeriodYear:   inv.BillingYear,
		PaymentTerms: inv.PaymentTerms,
		Notes:        inv.Notes,
	}

	renderStart := l.now()
	data, err := l.renderer.Render(client, meta, calc)
	if err != nil {
		return "", fmt.Errorf("failed to render invoice %s: %w", inv.InvoiceNumber, err)
	}
	l.metrics.ObserveRender(l.now().Sub(renderStart), len(data))

	blobID, err := l.blobs.Put(ctx, bytes.NewReader(data), inv.InvoiceNumber+".pdf", storage.BlobMetadata{
		ClientID:    inv.ClientID,
		InvoiceID:   inv.ID,
		Category:    storage.CategoryInvoice,
		ContentType: storage.ContentTypePDF,
		Tags: map[string]string{
			"invoice_number": inv.InvoiceNumber,
			"period":         inv.Period().String(),
		},
	})
	if err != nil {
		return "", &BlobStoreError{Op: "put", Err: err}
	}
	return blobID, nil
}

func normalizeClient(client billing.ClientProfile, ov Overrides) billing.ClientProfile {
	client.ID = strings.TrimSpace(client.ID)
	client.Currency = strings.ToUpper(strings.TrimSpace(client.Currency))
	if client.Currency == "" {
		client.Currency = DefaultCurrency
	}
	if ov.PaymentTerms != nil {
		client.PaymentTerms = *ov.PaymentTerms
	}
	return client
}

func validate(client billing.ClientProfile, period Period, calc billing.Calculation, ov Overrides) error {
	if client.ID == "" {
		return &ValidationError{Field: "client_id", Reason: "is required"}
	}
	if err := period.Validate(); err != nil {
		return err
	}

	amount := calc.Final
	field := "amount"
	if ov.Amount != nil {
		amount = *ov.Amount
		field = "amount_override"
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return &ValidationError{Field: field, Reason: "must be a finite number"}
	}
	if amount < 0 {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("must not be negative, got %v", amount)}
	}

	if calc.RequiresQuantity() && calc.Quantity < 1 {
		return &ValidationError{Field: "quantity", Reason: fmt.Sprintf("%s plans need a count of at least 1", calc.Kind)}
	}
	if strings.TrimSpace(calc.Description) == "" {
		return &ValidationError{Field: "description", Reason: "line item description is empty"}
	}
	if ov.Status != nil && !ov.Status.Valid() {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", *ov.Status)}
	}
	if ov.PaymentTerms != nil && ov.PaymentTerms.Installments < 0 {
		return &ValidationError{Field: "payment_terms", Reason: "installments must not be negative"}
	}
	if issue, due := invoiceDates(period, ov); due.Before(issue) {
		field := "due_date"
		if ov.DueDate == nil {
			field = "invoice_date"
		}
		return &ValidationError{
			Field:  field,
			Reason: fmt.Sprintf("due date %s is before invoice date %s", due.Format("2006-01-02"), issue.Format("2006-01-02")),
		}
	}
	return nil
}

// invoiceDates resolves the issue and due dates: the period's first and last
// day unless overridden
func invoiceDates(period Period, ov Overrides) (issue, due time.Time) {
	issue, due = period.FirstDay(), period.LastDay()
	if ov.InvoiceDate != nil {
		issue = ov.InvoiceDate.UTC()
	}
	if ov.DueDate != nil {
		due = ov.DueDate.UTC()
	}
	return issue, due
}

// applyAmountOverride replaces the calculated total with an explicit amount.
// The line item is restated so the document still adds up.
func applyAmountOverride(calc billing.Calculation, amount *float64, installments int) billing.Calculation {
	if amount == nil {
		return calc
	}
	calc.Base = *amount
	calc.Discount = 0
	calc.Final = *amount
	if calc.Quantity > 0 {
		calc.UnitPrice = *amount / float64(calc.Quantity)
	} else {
		calc.UnitPrice = *amount
	}
	calc.Monthly = calc.Final
	if installments > 0 {
		calc.Monthly = calc.Final / float64(installments)
	}
	return calc
}

// Get returns an invoice by id
func (l *Ledger) Get(ctx context.Context, id string) (*Invoice, error) {
	return l.store.GetByID(ctx, id)
}

// ListByClient returns a client's invoices, newest period first
func (l *Ledger) ListByClient(ctx context.Context, clientID string) ([]*Invoice, error) {
	return l.store.ListByClient(ctx, clientID)
}

// ListByPeriod returns every invoice of a billing period
func (l *Ledger) ListByPeriod(ctx context.Context, period Period) ([]*Invoice, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}
	return l.store.ListByPeriod(ctx, period)
}

// SetStatus moves an invoice to a new status. Setting PAID records the paid
// time; any other status clears it.
func (l *Ledger) SetStatus(ctx context.Context, id string, status Status) (*Invoice, error) {
	if !status.Valid() {
		return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}

	ctx, span := l.tracer.Start(ctx, "Ledger.SetStatus", trace.WithAttributes(
		attribute.String("invoice.id", id),
		attribute.String("invoice.status", string(status)),
	))
	defer span.End()

	inv, err := l.store.GetByID(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if inv.Status == status {
		return inv, nil
	}

	updated, err := l.store.UpdateStatus(ctx, id, status, l.now().UTC())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to update invoice status: %w", err)
	}
	l.logger.WithFields(map[string]interface{}{
		"invoice_id": id,
		"status":     string(status),
	}).Info("Invoice status changed")
	return updated, nil
}

// MarkOverdue moves GENERATED invoices due before asOf to OVERDUE
func (l *Ledger) MarkOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	ctx, span := l.tracer.Start(ctx, "Ledger.MarkOverdue")
	defer span.End()

	n, err := l.store.MarkOverdue(ctx, asOf.UTC(), l.now().UTC())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to mark invoices overdue: %w", err)
	}
	span.SetAttributes(attribute.Int64("invoices.marked", n))
	l.metrics.RecordOverdue(n)
	if n > 0 {
		l.logger.WithField("count", n).Info("Invoices marked overdue")
	}
	return n, nil
}

// Document returns the invoice and its stored document
func (l *Ledger) Document(ctx context.Context, id string) (*Invoice, *storage.Blob, error) {
	inv, err := l.store.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !inv.HasDocument() {
		return inv, nil, ErrNoDocument
	}

	blob, err := l.blobs.Get(ctx, inv.BlobID)
	if errors.Is(err, storage.ErrBlobNotFound) {
		return inv, nil, fmt.Errorf("%w: blob %s is missing", ErrNoDocument, inv.BlobID)
	}
	if err != nil {
		return inv, nil, &BlobStoreError{Op: "get", Err: err}
	}
	return inv, blob, nil
}
