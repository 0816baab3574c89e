package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/outreachhq/invoicing/pkg/httputil"
	"github.com/outreachhq/invoicing/pkg/observability"
)

// ServerOptions bound request handling
type ServerOptions struct {
	// RequestTimeout caps each request's context. Zero disables the cap.
	RequestTimeout time.Duration

	// MaxBodyBytes caps request bodies. Zero uses DefaultMaxBodyBytes.
	MaxBodyBytes int64

	// RateLimit, if set, wraps POST requests, which render documents
	RateLimit func(http.Handler) http.Handler
}

// DefaultMaxBodyBytes is the request body cap when none is configured
const DefaultMaxBodyBytes = 1 << 20

// Server represents our API server
type Server struct {
	router  *mux.Router
	handler http.Handler
}

// NewServer creates a new API server serving the invoice routes. metrics may
// be nil.
func NewServer(invoices *InvoiceHandlers, logger *logrus.Logger, metrics *observability.Metrics, opts ServerOptions) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{router: mux.NewRouter()}
	s.RegisterRoutes(invoices)
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFoundError(w, "route not found")
	})

	// Route middlewares run after matching, so the metrics label is the
	// route template rather than the raw path.
	if metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(metrics, routeTemplate))
	}
	if opts.RateLimit != nil {
		s.router.Use(writesOnly(opts.RateLimit))
	}

	middlewares := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(opts.MaxBodyBytes),
	}
	if opts.RequestTimeout > 0 {
		middlewares = append(middlewares, httputil.TimeoutMiddleware(opts.RequestTimeout))
	}

	s.handler = otelhttp.NewHandler(httputil.Chain(middlewares...)(s.router), "invoicing-api")
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes registers routes from a RouteRegistrar
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router)
}

// writesOnly applies mw to POST requests and passes others straight through
func writesOnly(mw func(http.Handler) http.Handler) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		limited := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost {
				limited.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}
