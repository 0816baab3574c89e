package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/outreachhq/invoicing/pkg/catalog"
	"github.com/outreachhq/invoicing/pkg/httputil"
	"github.com/outreachhq/invoicing/pkg/ledger"
	"github.com/outreachhq/invoicing/pkg/storage"
)

// InvoiceService is the part of the ledger the handlers use
type InvoiceService interface {
	Upsert(ctx context.Context, req ledger.UpsertRequest) (*ledger.Result, error)
	Get(ctx context.Context, id string) (*ledger.Invoice, error)
	ListByClient(ctx context.Context, clientID string) ([]*ledger.Invoice, error)
	ListByPeriod(ctx context.Context, period ledger.Period) ([]*ledger.Invoice, error)
	SetStatus(ctx context.Context, id string, status ledger.Status) (*ledger.Invoice, error)
	Document(ctx context.Context, id string) (*ledger.Invoice, *storage.Blob, error)
	GenerateAll(ctx context.Context, period ledger.Period, jobs []ledger.Job, concurrency int) ([]ledger.JobResult, error)
}

var _ InvoiceService = (*ledger.Ledger)(nil)

// InvoiceHandlers handles invoice API endpoints
type InvoiceHandlers struct {
	invoices InvoiceService
	catalog  catalog.Source
	logger   *logrus.Logger

	batchConcurrency int
}

// NewInvoiceHandlers creates a new invoice handlers instance
func NewInvoiceHandlers(invoices InvoiceService, source catalog.Source, logger *logrus.Logger) *InvoiceHandlers {
	if logger == nil {
		logger = logrus.New()
	}
	return &InvoiceHandlers{
		invoices: invoices,
		catalog:  source,
		logger:   logger,
	}
}

// SetBatchConcurrency sets the concurrency of period runs that do not ask for one
func (h *InvoiceHandlers) SetBatchConcurrency(n int) {
	h.batchConcurrency = n
}

// RegisterRoutes registers invoice API routes
func (h *InvoiceHandlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/clients/{clientId}/invoices", h.generateInvoice).Methods("POST")
	r.HandleFunc("/clients/{clientId}/invoices", h.listClientInvoices).Methods("GET")

	// Billing overview
	r.HandleFunc("/invoices", h.listPeriodInvoices).Methods("GET")
	r.HandleFunc("/invoices/generate", h.generatePeriod).Methods("POST")

	r.HandleFunc("/invoices/{id}", h.getInvoice).Methods("GET")
	r.HandleFunc("/invoices/{id}/status", h.updateStatus).Methods("PUT")
	r.HandleFunc("/invoices/{id}/document", h.getDocument).Methods("GET")
}

// generateInvoice handles POST /clients/{clientId}/invoices
func (h *InvoiceHandlers) generateInvoice(w http.ResponseWriter, r *http.Request) {
	clientID, ok := httputil.ParsePathStringOrError(w, r, "clientId")
	if !ok {
		return
	}

	var req GenerateInvoiceRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	period := ledger.Period{Month: req.Month, Year: req.Year}
	if err := period.Validate(); err != nil {
		h.writeError(w, r, err)
		return
	}
	overrides, err := req.overrides()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var account *catalog.Account
	if req.PlanID == "" {
		account, err = h.catalog.Account(r.Context(), clientID)
	} else {
		account, err = h.accountWithPlan(r.Context(), clientID, req.PlanID)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.invoices.Upsert(r.Context(), ledger.UpsertRequest{
		Client:    account.Client,
		Plan:      account.Plan,
		Period:    period,
		Overrides: overrides,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, InvoiceResponse{
		Invoice:     result.Invoice,
		BlobID:      result.BlobID,
		Created:     result.Created,
		Calculation: result.Calculation,
	})
}

// accountWithPlan bills a client against a plan other than its assigned one
func (h *InvoiceHandlers) accountWithPlan(ctx context.Context, clientID, planID string) (*catalog.Account, error) {
	client, err := h.catalog.Client(ctx, clientID)
	if err != nil {
		return nil, err
	}
	plan, err := h.catalog.Plan(ctx, planID)
	if err != nil {
		return nil, err
	}
	return &catalog.Account{Client: *client, Plan: *plan}, nil
}

// listClientInvoices handles GET /clients/{clientId}/invoices
func (h *InvoiceHandlers) listClientInvoices(w http.ResponseWriter, r *http.Request) {
	clientID, ok := httputil.ParsePathStringOrError(w, r, "clientId")
	if !ok {
		return
	}

	invoices, err := h.invoices.ListByClient(r.Context(), clientID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, newInvoiceList(invoices))
}

// listPeriodInvoices handles GET /invoices?month=&year=
func (h *InvoiceHandlers) listPeriodInvoices(w http.ResponseWriter, r *http.Request) {
	period, ok := parsePeriodQuery(w, r)
	if !ok {
		return
	}

	invoices, err := h.invoices.ListByPeriod(r.Context(), period)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, newInvoiceList(invoices))
}

func parsePeriodQuery(w http.ResponseWriter, r *http.Request) (ledger.Period, bool) {
	month, err := httputil.ParseQueryInt(r, "month", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return ledger.Period{}, false
	}
	year, err := httputil.ParseQueryInt(r, "year", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return ledger.Period{}, false
	}

	period := ledger.Period{Month: month, Year: year}
	if err := period.Validate(); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return ledger.Period{}, false
	}
	return period, true
}

// generatePeriod handles POST /invoices/generate
func (h *InvoiceHandlers) generatePeriod(w http.ResponseWriter, r *http.Request) {
	var req GeneratePeriodRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	period := ledger.Period{Month: req.Month, Year: req.Year}
	if err := period.Validate(); err != nil {
		h.writeError(w, r, err)
		return
	}

	accounts, err := h.catalog.ListBillable(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = h.batchConcurrency
	}

	results, err := h.invoices.GenerateAll(r.Context(), period, catalog.Jobs(accounts), concurrency)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := newGeneratePeriodResponse(period, results)
	h.logger.WithFields(logrus.Fields{
		"period":  period.String(),
		"created": resp.Summary.Created,
		"updated": resp.Summary.Updated,
		"failed":  resp.Summary.Failed,
	}).Info("Generated period invoices")
	httputil.WriteSuccess(w, resp)
}

// getInvoice handles GET /invoices/{id}
func (h *InvoiceHandlers) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	invoice, err := h.invoices.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, invoice)
}

// updateStatus handles PUT /invoices/{id}/status
func (h *InvoiceHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	status, err := ledger.ParseStatus(req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	invoice, err := h.invoices.SetStatus(r.Context(), id, status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, invoice)
}

// getDocument handles GET /invoices/{id}/document
func (h *InvoiceHandlers) getDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	disposition, err := httputil.ParseDisposition(httputil.ParseQueryString(r, "disposition", ""))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	invoice, blob, err := h.invoices.Document(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	contentType := blob.Info.Metadata.ContentType
	if contentType == "" {
		contentType = storage.ContentTypePDF
	}
	if err := httputil.WriteDocument(w, invoice.InvoiceNumber+".pdf", contentType, disposition, blob.Content); err != nil {
		h.logger.WithError(err).WithField("invoice_id", id).Warn("Failed to write document")
	}
}

// writeError maps ledger and catalog errors to HTTP responses
func (h *InvoiceHandlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validation *ledger.ValidationError
	switch {
	case errors.As(err, &validation):
		httputil.WriteDetailedError(w, http.StatusBadRequest, err, map[string]string{"field": validation.Field})
	case errors.Is(err, ledger.ErrValidation):
		httputil.WriteError(w, http.StatusBadRequest, err)
	case errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, ledger.ErrNoDocument),
		errors.Is(err, catalog.ErrClientNotFound),
		errors.Is(err, catalog.ErrPlanNotFound),
		errors.Is(err, storage.ErrBlobNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, ledger.ErrBlobStore):
		h.logger.WithError(err).WithField("path", r.URL.Path).Warn("Document storage failed")
		httputil.WriteBadGateway(w, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		httputil.WriteErrorMessage(w, http.StatusGatewayTimeout, "request timed out")
	default:
		h.logger.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
		httputil.WriteInternalError(w, err)
	}
}
