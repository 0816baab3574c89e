package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/outreachhq/invoicing/pkg/billing"
)

// Status represents the payment status of an invoice
type Status string

const (
	StatusGenerated Status = "GENERATED"
	StatusPaid      Status = "PAID"
	StatusOverdue   Status = "OVERDUE"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusGenerated, StatusPaid, StatusOverdue:
		return true
	}
	return false
}

// ParseStatus parses a status name, case-insensitively
func ParseStatus(s string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", s)}
	}
	return status, nil
}

// Period is a billing period
type Period struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

// PeriodOf returns the billing period containing t
func PeriodOf(t time.Time) Period {
	t = t.UTC()
	return Period{Month: int(t.Month()), Year: t.Year()}
}

// Validate checks the month and year ranges
func (p Period) Validate() error {
	if p.Month < 1 || p.Month > 12 {
		return &ValidationError{Field: "month", Reason: fmt.Sprintf("must be between 1 and 12, got %d", p.Month)}
	}
	if p.Year < 2000 || p.Year > 9999 {
		return &ValidationError{Field: "year", Reason: fmt.Sprintf("must be between 2000 and 9999, got %d", p.Year)}
	}
	return nil
}

// FirstDay returns midnight UTC on the first day of the period
func (p Period) FirstDay() time.Time {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
}

// LastDay returns midnight UTC on the last day of the period
func (p Period) LastDay() time.Time {
	return p.FirstDay().AddDate(0, 1, -1)
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// Invoice is the persisted record for one client and billing period
type Invoice struct {
	ID            string               `json:"id"`
	ClientID      string               `json:"client_id"`
	BillingMonth  int                  `json:"billing_month"`
	BillingYear   int                  `json:"billing_year"`
	InvoiceNumber string               `json:"invoice_number"`
	Amount        float64              `json:"amount"`
	Currency      string               `json:"currency"`
	InvoiceDate   time.Time            `json:"invoice_date"`
	DueDate       time.Time            `json:"due_date"`
	Status        Status               `json:"status"`
	PaidAt        *time.Time           `json:"paid_at,omitempty"`
	Description   string               `json:"description"`
	Notes         string               `json:"notes,omitempty"`
	PaymentTerms  billing.PaymentTerms `json:"payment_terms"`
	BlobID        string               `json:"blob_id,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// Period returns the billing period of the invoice
func (i *Invoice) Period() Period {
	return Period{Month: i.BillingMonth, Year: i.BillingYear}
}

// HasDocument reports whether a rendered document is attached
func (i *Invoice) HasDocument() bool {
	return i.BlobID != ""
}

// setStatus applies a status and keeps PaidAt present iff the status is PAID
func (i *Invoice) setStatus(status Status, at time.Time) {
	if status == StatusPaid {
		if i.Status != StatusPaid || i.PaidAt == nil {
			paid := at.UTC()
			i.PaidAt = &paid
		}
	} else {
		i.PaidAt = nil
	}
	i.Status = status
}

// Overrides replace individual derived fields of an upsert. Nil means derive.
type Overrides struct {
	Amount        *float64              `json:"amount,omitempty"`
	InvoiceNumber *string               `json:"invoice_number,omitempty"`
	InvoiceDate   *time.Time            `json:"invoice_date,omitempty"`
	DueDate       *time.Time            `json:"due_date,omitempty"`
	PaymentTerms  *billing.PaymentTerms `json:"payment_terms,omitempty"`
	Notes         *string               `json:"notes,omitempty"`
	Status        *Status               `json:"status,omitempty"`
}

const maxSlugLength = 12

// GenerateInvoiceNumber derives the invoice number for a client and period.
// The result depends only on its inputs so retries reproduce the same number.
func GenerateInvoiceNumber(businessName string, p Period) string {
	var slug strings.Builder
	for _, r := range strings.ToUpper(businessName) {
		if slug.Len() >= maxSlugLength {
			break
		}
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			slug.WriteRune(r)
		}
	}
	if slug.Len() == 0 {
		slug.WriteString("CLIENT")
	}
	return fmt.Sprintf("INV-%s-%04d%02d", slug.String(), p.Year, p.Month)
}
