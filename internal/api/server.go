// Package api serves a read-only HTTP view of runs, snapshots and catalog
// exports.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spider-crawler/shopsync/internal/apperr"
	"github.com/spider-crawler/shopsync/internal/catalog"
	"github.com/spider-crawler/shopsync/internal/config"
	"github.com/spider-crawler/shopsync/internal/mapper"
	"github.com/spider-crawler/shopsync/internal/report"
	"github.com/spider-crawler/shopsync/internal/runlog"
	"github.com/spider-crawler/shopsync/internal/storage"
	"github.com/spider-crawler/shopsync/internal/urlutil"
)

// Server is the ops HTTP surface.
type Server struct {
	addr    string
	runs    *runlog.Log
	catalog *catalog.Service
	reports *report.Generator
	limiter *rate.Limiter
	logger  *zap.Logger
	router  *mux.Router
}

// NewServer wires the routes.
func NewServer(cfg config.APIConfig, runs *runlog.Log, catalogSvc *catalog.Service, reports *report.Generator, logger *zap.Logger) *Server {
	s := &Server{
		addr:    cfg.Addr,
		runs:    runs,
		catalog: catalogSvc,
		reports: reports,
		logger:  logger.Named("api"),
		router:  mux.NewRouter(),
	}
	if cfg.RPSLimit > 0 {
		burst := cfg.RPSBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RPSLimit), burst)
	}
	s.RegisterRoutes(s.router)
	return s
}

// RegisterRoutes registers the read-only routes on router.
func (s *Server) RegisterRoutes(router *mux.Router) {
	router.Use(s.logRequests, s.rateLimit)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/runs/{id}", s.handleRun).Methods(http.MethodGet)
	router.HandleFunc("/runs/{id}/errors", s.handleRunErrors).Methods(http.MethodGet)
	router.HandleFunc("/runs/{id}/tail", s.handleRunTail).Methods(http.MethodGet)
	router.HandleFunc("/domains/{domain}/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	router.HandleFunc("/domains/{domain}/catalog.{format}", s.handleExport(report.ReportCatalog)).Methods(http.MethodGet)
	router.HandleFunc("/domains/{domain}/transfers.{format}", s.handleExport(report.ReportTransfers)).Methods(http.MethodGet)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, apperr.Ef(apperr.ErrNotFound, "route", "no route for %s", r.URL.Path))
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", zap.String("addr", s.addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("server forced to shutdown", zap.Error(err))
		return err
	}
	s.logger.Info("server exited gracefully")
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)))
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Status(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunErrors(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.runs.Status(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	entries, err := s.runs.Errors(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": id, "errors": entries})
}

func (s *Server) handleRunTail(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	lines := runlog.DefaultTailLines
	if raw := r.URL.Query().Get("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, apperr.Ef(apperr.ErrInvalidFilter, "tail", "lines must be a positive integer"))
			return
		}
		lines = n
	}
	if _, err := s.runs.Status(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	entries, err := s.runs.Tail(r.Context(), id, lines)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": id, "lines": entries})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	domain := mux.Vars(r)["domain"]
	url := r.URL.Query().Get("url")
	if strings.TrimSpace(url) == "" {
		writeError(w, apperr.Ef(apperr.ErrInvalidFilter, "snapshot", "url query parameter required"))
		return
	}
	snap, err := s.catalog.Snapshot(r.Context(), domain, url)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="snapshot-%s.json"`, mapper.Slug(snap.URL)))
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleExport(reportType report.ReportType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		format, err := report.ParseFormat(vars["format"])
		if err != nil {
			writeError(w, err)
			return
		}
		opts, err := exportOptions(urlutil.NormalizeDomain(vars["domain"]), r)
		if err != nil {
			writeError(w, err)
			return
		}

		rep, err := s.reports.Generate(r.Context(), reportType, opts)
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-%s.%s"`, opts.Domain, reportType, format))
		exp := report.NewExporter(&report.ExportOptions{Format: format, IncludeEmpty: true, Delimiter: ','})
		if err := exp.Export(w, rep); err != nil {
			s.logger.Error("export failed", zap.String("domain", opts.Domain), zap.Error(err))
		}
	}
}

// exportOptions reads the catalog and transfer filters from the query.
func exportOptions(domain string, r *http.Request) (report.Options, error) {
	q := r.URL.Query()
	opts := report.Options{
		Domain: domain,
		Catalog: storage.CatalogFilter{
			PageType: q.Get("page_type"),
			Search:   q.Get("search"),
			SortBy:   q.Get("sort"),
			SortDesc: q.Get("order") == "desc",
		},
		Status: q.Get("status"),
	}
	if raw := q.Get("explored"); raw != "" {
		explored, err := strconv.ParseBool(raw)
		if err != nil {
			return opts, apperr.Ef(apperr.ErrInvalidFilter, "export", "explored must be true or false")
		}
		opts.Catalog.Explored = &explored
	}
	return opts, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor maps error kinds to HTTP status codes.
func statusFor(err error) int {
	switch apperr.Kind(err) {
	case apperr.ErrNotFound:
		return http.StatusNotFound
	case apperr.ErrInvalidFilter, apperr.ErrInvalidConfig, apperr.ErrInvalidState:
		return http.StatusBadRequest
	case apperr.ErrConflictExists:
		return http.StatusConflict
	case apperr.ErrFetchFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
