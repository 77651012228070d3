// Package http serves the dashboard API under /rest/vizz together with the
// health, readiness and metrics endpoints.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/climate-risk-api/internal/domain"
	"github.com/couchcryptid/climate-risk-api/internal/observability"
	"github.com/couchcryptid/climate-risk-api/internal/units"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// JobService submits and polls widget jobs.
type JobService interface {
	Submit(ctx context.Context, c domain.CanonicalRequest) (domain.Job, error)
	Poll(ctx context.Context, w domain.Widget, id string, u domain.Units) (domain.Job, error)
}

// MeasureLister lists the predefined adaptation measures.
type MeasureLister interface {
	Defaults(ctx context.Context, f domain.MeasureFilter) ([]domain.Measure, error)
}

// LocationLister lists the locations with precalculated results.
type LocationLister interface {
	All(ctx context.Context) ([]domain.Place, error)
}

// API bundles what the /rest/vizz handlers need.
type API struct {
	Jobs       JobService
	Normalizer *domain.Normalizer
	Converter  *units.Converter
	Measures   MeasureLister
	Places     domain.LocationResolver
	Locations  LocationLister
}

const apiPrefix = "/rest/vizz"

// Server exposes the API plus health, readiness, and metrics HTTP endpoints.
type Server struct {
	httpServer *http.Server
	api        API
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewServer creates an HTTP server with the /rest/vizz routes and the
// /healthz, /readyz, and /metrics routes.
func NewServer(addr string, api API, ready sharedobs.ReadinessChecker, metrics *observability.Metrics, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		api:     api,
		metrics: metrics,
		logger:  logger,
	}
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.withMetrics(s.withRecovery(mux)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	mux.HandleFunc("GET "+apiPrefix+"/options", s.handleOptions)
	mux.HandleFunc("GET "+apiPrefix+"/geocode/autocomplete", s.handleAutocomplete)
	mux.HandleFunc("GET "+apiPrefix+"/geocode/reca_locations", s.handleLocations)
	mux.HandleFunc("GET "+apiPrefix+"/widgets/default-measures", s.handleDefaultMeasures)
	mux.HandleFunc("POST "+apiPrefix+"/widgets/{widget}", s.handleSubmit)
	mux.HandleFunc("GET "+apiPrefix+"/widgets/{widget}/{job_id}", s.handlePoll)

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withMetrics counts requests by matched route pattern and status code.
func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		s.metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.logger.Error("handler panic", "panic", v, "method", r.Method, "path", r.URL.Path)
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
