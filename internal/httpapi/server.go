// Package httpapi exposes the underwriter over HTTP: application submission
// and status, persisted records, recent logs, queue heads and metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"underwriter/pkg/application"
	"underwriter/pkg/logx"
	"underwriter/pkg/orchestrator"
	"underwriter/pkg/persistence"
	"underwriter/pkg/proto"
	"underwriter/pkg/version"
)

const (
	defaultLogEntries = 100
	maxLogEntries     = 1000
	queueHeadDepth    = 25
	maxRequestBytes   = 1 << 20
)

// Processor runs and reports on applications. *orchestrator.Orchestrator satisfies it.
type Processor interface {
	ProcessApplication(ctx context.Context, customerID string, personalInfo map[string]any, imageRefs, docRefs []string) (*orchestrator.Outcome, error)
	GetStatus(applicationID string) (application.Summary, error)
}

// Records reads the audit store. *persistence.Store satisfies it.
type Records interface {
	GetApplication(ctx context.Context, applicationID string) (*persistence.ApplicationRecord, error)
	ListSteps(ctx context.Context, applicationID string) ([]persistence.StepRecord, error)
	ListReviewFlags(ctx context.Context, status string) ([]persistence.ReviewFlag, error)
}

// Queues exposes pending envelopes per participant. *messaging.Fabric satisfies it.
type Queues interface {
	DumpHeads(n int) map[string][]*proto.Envelope
}

// Deps are the server's collaborators. Only Processor is required.
type Deps struct {
	Processor Processor
	Records   Records
	Queues    Queues
	Metrics   http.Handler
}

// Server serves the HTTP API.
type Server struct {
	deps   Deps
	logger *logx.Logger
	router chi.Router
}

// SubmitRequest is the body of POST /applications.
type SubmitRequest struct {
	CustomerID   string         `json:"customer_id"`
	PersonalInfo map[string]any `json:"personal_info"`
	CarImageRefs []string       `json:"car_image_refs"`
	DocumentRefs []string       `json:"document_refs"`
}

// ApplicationView is the body of GET /applications/{id}. Live is set while the
// application is still being processed; Record and Steps come from storage.
type ApplicationView struct {
	ApplicationID string                         `json:"application_id"`
	Live          *application.Summary           `json:"live,omitempty"`
	Record        *persistence.ApplicationRecord `json:"record,omitempty"`
	Steps         []persistence.StepRecord       `json:"steps,omitempty"`
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	s := &Server{
		deps:   deps,
		logger: logx.NewLogger("httpapi"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/logs", s.handleLogs)
	r.Get("/queues", s.handleQueues)
	r.Route("/applications", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/{id}", s.handleApplication)
	})
	r.Get("/reviews", s.handleReviews)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusNotFound, "No route for "+r.URL.Path, "not_found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, r.Method+" not allowed on "+r.URL.Path, "method_not_allowed")
	})

	s.router = r
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr until ctx is cancelled, then shuts down gracefully.
// It returns once the listener has stopped.
func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP API on %s", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	//nolint:contextcheck // Parent context is cancelled; we need a fresh context for shutdown
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// handleHealth implements GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// handleMetrics implements GET /metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Metrics == nil {
		s.writeError(w, http.StatusNotFound, "Metrics not enabled", "metrics_disabled")
		return
	}
	s.deps.Metrics.ServeHTTP(w, r)
}

// handleLogs implements GET /logs?n=&application_id=.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	n := defaultLogEntries
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "Invalid n parameter", "invalid_parameter")
			return
		}
		n = min(parsed, maxLogEntries)
	}
	entries := logx.RecentEntries(n, r.URL.Query().Get("application_id"))
	s.writeJSON(w, http.StatusOK, entries)
}

// handleQueues implements GET /queues.
func (s *Server) handleQueues(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Queues == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Messaging not available", "messaging_unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, s.deps.Queues.DumpHeads(queueHeadDepth))
}

// handleSubmit implements POST /applications. Processing is synchronous.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", "invalid_request")
		return
	}
	if req.CustomerID == "" {
		s.writeError(w, http.StatusBadRequest, "customer_id is required", "invalid_request")
		return
	}

	out, err := s.deps.Processor.ProcessApplication(r.Context(), req.CustomerID, req.PersonalInfo, req.CarImageRefs, req.DocumentRefs)
	if err != nil {
		s.logger.Error("Application for %s failed: %v", req.CustomerID, err)
		status := http.StatusInternalServerError
		kind := "workflow_failed"
		if errors.Is(err, orchestrator.ErrUnknownAction) {
			status = http.StatusUnprocessableEntity
			kind = "unknown_action"
		}
		s.writeError(w, status, err.Error(), kind)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleApplication implements GET /applications/{id}.
func (s *Server) handleApplication(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	view := ApplicationView{ApplicationID: id}

	if sum, err := s.deps.Processor.GetStatus(id); err == nil {
		view.Live = &sum
	}

	if s.deps.Records != nil {
		rec, err := s.deps.Records.GetApplication(r.Context(), id)
		switch {
		case err == nil:
			view.Record = rec
		case !errors.Is(err, persistence.ErrApplicationNotFound):
			s.logger.Error("Failed to load application %s: %v", id, err)
			s.writeError(w, http.StatusInternalServerError, "Failed to load application", "storage_error")
			return
		}
		steps, err := s.deps.Records.ListSteps(r.Context(), id)
		if err != nil {
			s.logger.Error("Failed to load steps for %s: %v", id, err)
			s.writeError(w, http.StatusInternalServerError, "Failed to load application", "storage_error")
			return
		}
		view.Steps = steps
	}

	if view.Live == nil && view.Record == nil && len(view.Steps) == 0 {
		s.writeError(w, http.StatusNotFound, "Application not found", "unknown_application")
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

// handleReviews implements GET /reviews?status=.
func (s *Server) handleReviews(w http.ResponseWriter, r *http.Request) {
	if s.deps.Records == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Storage not enabled", "storage_disabled")
		return
	}
	flags, err := s.deps.Records.ListReviewFlags(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		s.logger.Error("Failed to list review flags: %v", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to list review flags", "storage_error")
		return
	}
	s.writeJSON(w, http.StatusOK, flags)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response: %v", err)
	}
}

// writeError reports a failure in the same shape agents use for error envelopes.
func (s *Server) writeError(w http.ResponseWriter, status int, msg, kind string) {
	s.writeJSON(w, status, proto.ErrorReport{Error: msg, Kind: kind})
}
