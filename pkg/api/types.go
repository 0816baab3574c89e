package api

import (
	"time"

	"github.com/outreachhq/invoicing/pkg/billing"
	"github.com/outreachhq/invoicing/pkg/ledger"
)

// dateLayout is the wire format of override dates
const dateLayout = "2006-01-02"

// GenerateInvoiceRequest is the body of POST /clients/{clientId}/invoices.
// Every override is optional; absent fields are derived.
type GenerateInvoiceRequest struct {
	PlanID        string                `json:"plan_id,omitempty"`
	Month         int                   `json:"month"`
	Year          int                   `json:"year"`
	Amount        *float64              `json:"amount,omitempty"`
	InvoiceNumber *string               `json:"invoice_number,omitempty"`
	InvoiceDate   *string               `json:"invoice_date,omitempty"`
	DueDate       *string               `json:"due_date,omitempty"`
	PaymentTerms  *billing.PaymentTerms `json:"payment_terms,omitempty"`
	Notes         *string               `json:"notes,omitempty"`
	Status        *string               `json:"status,omitempty"`
}

// overrides converts the optional fields, rejecting malformed dates and statuses
func (r GenerateInvoiceRequest) overrides() (ledger.Overrides, error) {
	ov := ledger.Overrides{
		Amount:        r.Amount,
		InvoiceNumber: r.InvoiceNumber,
		PaymentTerms:  r.PaymentTerms,
		Notes:         r.Notes,
	}

	var err error
	if ov.InvoiceDate, err = parseDate("invoice_date", r.InvoiceDate); err != nil {
		return ov, err
	}
	if ov.DueDate, err = parseDate("due_date", r.DueDate); err != nil {
		return ov, err
	}
	if r.Status != nil {
		status, err := ledger.ParseStatus(*r.Status)
		if err != nil {
			return ov, err
		}
		ov.Status = &status
	}
	return ov, nil
}

func parseDate(field string, value *string) (*time.Time, error) {
	if value == nil {
		return nil, nil
	}
	t, err := time.ParseInLocation(dateLayout, *value, time.UTC)
	if err != nil {
		return nil, &ledger.ValidationError{Field: field, Reason: "must be a YYYY-MM-DD date"}
	}
	return &t, nil
}

// InvoiceResponse is returned by the generate endpoint
type InvoiceResponse struct {
	Invoice     *ledger.Invoice     `json:"invoice"`
	BlobID      string              `json:"blob_id"`
	Created     bool                `json:"created"`
	Calculation billing.Calculation `json:"calculation"`
}

// InvoiceListResponse wraps a list of invoices
type InvoiceListResponse struct {
	Invoices []*ledger.Invoice `json:"invoices"`
	Count    int               `json:"count"`
}

func newInvoiceList(invoices []*ledger.Invoice) InvoiceListResponse {
	if invoices == nil {
		invoices = []*ledger.Invoice{}
	}
	return InvoiceListResponse{Invoices: invoices, Count: len(invoices)}
}

// UpdateStatusRequest is the body of PUT /invoices/{id}/status
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// GeneratePeriodRequest is the body of POST /invoices/generate
type GeneratePeriodRequest struct {
	Month       int `json:"month"`
	Year        int `json:"year"`
	Concurrency int `json:"concurrency,omitempty"`
}

// ClientOutcome is one client's result in a period run
type ClientOutcome struct {
	ClientID  string `json:"client_id"`
	InvoiceID string `json:"invoice_id,omitempty"`
	Number    string `json:"invoice_number,omitempty"`
	Created   bool   `json:"created"`
	Error     string `json:"error,omitempty"`
}

// GeneratePeriodResponse summarizes a period run
type GeneratePeriodResponse struct {
	Period  ledger.Period       `json:"period"`
	Summary ledger.BatchSummary `json:"summary"`
	Results []ClientOutcome     `json:"results"`
}

func newGeneratePeriodResponse(period ledger.Period, results []ledger.JobResult) GeneratePeriodResponse {
	resp := GeneratePeriodResponse{
		Period:  period,
		Summary: ledger.Summarize(results),
		Results: make([]ClientOutcome, 0, len(results)),
	}
	for _, r := range results {
		outcome := ClientOutcome{ClientID: r.ClientID}
		if r.Err != nil {
			outcome.Error = r.Err.Error()
		} else {
			outcome.InvoiceID = r.Result.Invoice.ID
			outcome.Number = r.Result.Invoice.InvoiceNumber
			outcome.Created = r.Result.Created
		}
		resp.Results = append(resp.Results, outcome)
	}
	return resp
}
