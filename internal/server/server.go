// Package server exposes deployment status, health and metrics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nafkem/LansRealEstate/internal/config"
	"github.com/nafkem/LansRealEstate/internal/metrics"
	"github.com/nafkem/LansRealEstate/internal/repository"
)

// DeploymentReader is the read side of repository.Repository.
type DeploymentReader interface {
	ListDeployments(ctx context.Context) ([]*repository.Deployment, error)
	FindDeployment(ctx context.Context, moduleID string, chainID int64) (*repository.Deployment, error)
	GetFutureResults(ctx context.Context, deploymentID uuid.UUID) ([]repository.FutureResult, error)
	GetJournal(ctx context.Context, deploymentID uuid.UUID) ([]repository.JournalEntry, error)
}

// Pinger is a dependency checked by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the read-only status server.
type Server struct {
	repo    DeploymentReader
	checks  map[string]Pinger
	logger  *slog.Logger
	httpSrv *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithHealthCheck adds a named dependency to /health.
func WithHealthCheck(name string, p Pinger) Option {
	return func(s *Server) { s.checks[name] = p }
}

// New creates a status server.
func New(cfg config.ServerConfig, repo DeploymentReader, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		repo:   repo,
		checks: make(map[string]Pinger),
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.httpSrv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(Logging(s.logger))
	r.Use(Metrics())
	r.Use(chimiddleware.Recoverer)
	r.Use(CORS())

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/deployments", s.listDeployments)
		r.Get("/deployments/{chainID}/{moduleID}", s.getDeployment)
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", slog.String("addr", s.httpSrv.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	s.logger.Info("shutting down status server")
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// RefreshMetrics updates the deployment status gauge every interval until ctx
// is cancelled. Repository errors are logged and retried on the next tick.
func (s *Server) RefreshMetrics(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.refreshDeploymentGauge(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("refresh deployment metrics", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Server) refreshDeploymentGauge(ctx context.Context) error {
	deps, err := s.repo.ListDeployments(ctx)
	if err != nil {
		return err
	}
	counts := make(map[string]int)
	for _, d := range deps {
		counts[string(d.Status)]++
	}
	metrics.SetDeployments(counts)
	return nil
}

// DeploymentView is the detail response for one deployment.
type DeploymentView struct {
	Deployment *repository.Deployment    `json:"deployment"`
	Addresses  map[string]string         `json:"addresses"`
	Futures    []repository.FutureResult `json:"futures"`
	Journal    []repository.JournalEntry `json:"journal"`
}

type envelope struct {
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: &errorBody{Code: code, Message: message}})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(s.checks))
	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": overall, "checks": deps})
}

func (s *Server) listDeployments(w http.ResponseWriter, r *http.Request) {
	deps, err := s.repo.ListDeployments(r.Context())
	if err != nil {
		s.logger.Error("list deployments", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list deployments")
		return
	}
	if deps == nil {
		deps = []*repository.Deployment{}
	}
	writeJSON(w, http.StatusOK, deps)
}

func (s *Server) getDeployment(w http.ResponseWriter, r *http.Request) {
	chainID, err := strconv.ParseInt(chi.URLParam(r, "chainID"), 10, 64)
	if err != nil || chainID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_chain_id", "chain ID must be a positive integer")
		return
	}
	moduleID := chi.URLParam(r, "moduleID")

	dep, err := s.repo.FindDeployment(r.Context(), moduleID, chainID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "deployment not found")
		return
	}
	if err != nil {
		s.logger.Error("find deployment", slog.String("module", moduleID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load deployment")
		return
	}

	futures, err := s.repo.GetFutureResults(r.Context(), dep.ID)
	if err != nil {
		s.logger.Error("load future results", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load deployment")
		return
	}
	journal, err := s.repo.GetJournal(r.Context(), dep.ID)
	if err != nil {
		s.logger.Error("load journal", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load deployment")
		return
	}

	view := DeploymentView{
		Deployment: dep,
		Addresses:  make(map[string]string, len(futures)),
		Futures:    futures,
		Journal:    journal,
	}
	for _, f := range futures {
		view.Addresses[f.FutureID] = f.Address
	}
	if view.Futures == nil {
		view.Futures = []repository.FutureResult{}
	}
	if view.Journal == nil {
		view.Journal = []repository.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, view)
}
