package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outreachhq/invoicing/pkg/document"
	"github.com/outreachhq/invoicing/pkg/httputil"
	"github.com/outreachhq/invoicing/pkg/ledger"
	"github.com/outreachhq/invoicing/pkg/middleware"
	"github.com/outreachhq/invoicing/pkg/observability"
	"github.com/outreachhq/invoicing/pkg/storage"
	"github.com/outreachhq/invoicing/pkg/storage/postgres"
)

func setupServer(t *testing.T) (*Server, *observability.Metrics) {
	return setupServerWithOptions(t, ServerOptions{})
}

func setupServerWithOptions(t *testing.T, opts ServerOptions) (*Server, *observability.Metrics) {
	t.Helper()

	db, err := sql.Open("sqlite3", "file:"+filepath.Join(t.TempDir(), "api.db")+"?_busy_timeout=5000")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, postgres.RunMigrations(context.Background(), db, postgres.DialectSQLite, nil))

	blobs, err := storage.NewFileSystemBlobStore(t.TempDir())
	require.NoError(t, err)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	l := ledger.New(
		postgres.NewInvoiceStore(postgres.SingleDB{DB: db}, postgres.DialectSQLite),
		blobs,
		document.NewSynthesizer(),
		ledger.WithMetrics(metrics),
	)

	logger, _ := test.NewNullLogger()
	handlers := NewInvoiceHandlers(l, testFixture(t), logger)
	return NewServer(handlers, logger, metrics, opts), metrics
}

func TestServer_InvoiceLifecycle(t *testing.T) {
	server, _ := setupServer(t)

	rec := doRequest(server, http.MethodPost, "/clients/acme/invoices", map[string]interface{}{"month": 2, "year": 2024})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created InvoiceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "INV-ACMECORP-202402", created.Invoice.InvoiceNumber)
	assert.Equal(t, 4000.0, created.Invoice.Amount)
	assert.Equal(t, ledger.StatusGenerated, created.Invoice.Status)
	assert.NotEmpty(t, created.BlobID)

	// Regenerating keeps the record
	rec = doRequest(server, http.MethodPost, "/clients/acme/invoices", map[string]interface{}{"month": 2, "year": 2024, "amount": 3500})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated InvoiceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, created.Invoice.ID, updated.Invoice.ID)
	assert.Equal(t, 3500.0, updated.Invoice.Amount)

	rec = doRequest(server, http.MethodGet, "/invoices?month=2&year=2024", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list InvoiceListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)

	rec = doRequest(server, http.MethodPut, "/invoices/"+created.Invoice.ID+"/status", UpdateStatusRequest{Status: "PAID"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var paid ledger.Invoice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &paid))
	assert.Equal(t, ledger.StatusPaid, paid.Status)
	assert.NotNil(t, paid.PaidAt)

	rec = doRequest(server, http.MethodGet, "/invoices/"+created.Invoice.ID+"/document?disposition=attachment", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, storage.ContentTypePDF, rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=INV-ACMECORP-202402.pdf", rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "%PDF", rec.Body.String()[:4])
}

func TestServer_GeneratePeriod(t *testing.T) {
	server, _ := setupServer(t)

	rec := doRequest(server, http.MethodPost, "/invoices/generate", GeneratePeriodRequest{Month: 7, Year: 2024, Concurrency: 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp GeneratePeriodResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, ledger.BatchSummary{Created: 1}, resp.Summary, "only acme has a plan")
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "acme", resp.Results[0].ClientID)

	rec = doRequest(server, http.MethodPost, "/invoices/generate", GeneratePeriodRequest{Month: 7, Year: 2024})
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, ledger.BatchSummary{Updated: 1}, resp.Summary)
}

func TestServer_Middleware(t *testing.T) {
	server, metrics := setupServer(t)

	rec := doRequest(server, http.MethodGet, "/invoices/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(httputil.RequestIDHeader))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/invoices/{id}", "404")))

	rec = doRequest(server, http.MethodGet, "/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "route not found", decodeError(t, rec).Error)
}

func TestServer_RejectsNonJSONBodies(t *testing.T) {
	server, _ := setupServer(t)

	req := httptest.NewRequest(http.MethodPost, "/clients/acme/invoices", strings.NewReader("month=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_RateLimitsWrites(t *testing.T) {
	limiter := middleware.NewRateLimiter(&middleware.RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Hour,
	})
	logger, _ := test.NewNullLogger()
	server, metrics := setupServerWithOptions(t, ServerOptions{
		RateLimit: middleware.NewRateLimitMiddleware(limiter, logger).Handler,
	})

	body := map[string]interface{}{"month": 2, "year": 2024}
	require.Equal(t, http.StatusCreated, doRequest(server, http.MethodPost, "/clients/acme/invoices", body).Code)

	rec := doRequest(server, http.MethodPost, "/clients/acme/invoices", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("POST", "/clients/{clientId}/invoices", "429")))

	// Reads are not limited
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, doRequest(server, http.MethodGet, "/clients/acme/invoices", nil).Code)
	}
}
