// Package gateway serves the governance admin API over HTTP.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/itellico/joi-sub010/internal/bus"
	"github.com/itellico/joi-sub010/internal/observer"
	"github.com/itellico/joi-sub010/internal/rollout"
	"github.com/itellico/joi-sub010/internal/scheduler"
	"github.com/itellico/joi-sub010/internal/soul"
	"github.com/itellico/joi-sub010/internal/store"
)

const (
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
	maxBodyBytes    = 4 << 20
)

// ObserverSettings reads and replaces the persisted observer configuration.
// observer.StoreConfig implements it.
type ObserverSettings interface {
	ObserverConfig(ctx context.Context) (store.ObserverConfig, error)
	Update(ctx context.Context, cfg store.ObserverConfig) error
}

// JobStatuser reports the live state of scheduled jobs.
// *scheduler.Scheduler implements it.
type JobStatuser interface {
	Status(now time.Time) []scheduler.JobStatus
}

// Deps are the services the API exposes. Events may be nil, which disables
// the SSE stream.
type Deps struct {
	Store          *store.Store
	Observer       *observer.Observer
	ObserverConfig ObserverSettings
	Engine         *rollout.Engine
	Router         *rollout.Router
	Souls          *soul.Service
	Events         *bus.EventBus
	// Scheduler is nil when the scheduler is disabled.
	Scheduler JobStatuser
	// AuthToken, when set, is required as a bearer token on /api routes.
	AuthToken string
	// DefaultTrafficPercent applies to canaries started without one.
	DefaultTrafficPercent int
}

// Server is the HTTP admin API.
type Server struct {
	deps   Deps
	router *chi.Mux
}

// New builds the router.
func New(deps Deps) *Server {
	s := &Server{deps: deps, router: chi.NewRouter()}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireToken)

		// Streams stay open; they are exempt from the request timeout.
		r.Get("/events", s.handleEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			r.Post("/turns", s.handleTurn)
			r.Post("/conversations/{id}/messages", s.handleAppendMessage)

			r.Get("/observer/config", s.handleGetObserverConfig)
			r.Put("/observer/config", s.handlePutObserverConfig)
			r.Get("/analyses", s.handleListAnalyses)
			r.Get("/analyses/{id}", s.handleGetAnalysis)
			r.Get("/stats", s.handleStats)

			r.Get("/issues", s.handleListIssues)
			r.Post("/issues", s.handleCreateIssue)
			r.Get("/issues/{id}", s.handleGetIssue)
			r.Patch("/issues/{id}", s.handleUpdateIssue)
			r.Post("/reviews", s.handleReview)

			r.Get("/governance/summary", s.handleSummary)
			r.Get("/rollouts", s.handleListRollouts)
			r.Post("/rollouts", s.handleStartRollout)
			r.Post("/rollouts/evaluate", s.handleEvaluateAll)
			r.Get("/rollouts/{id}", s.handleGetRollout)
			r.Post("/rollouts/{id}/evaluate", s.handleEvaluateRollout)
			r.Post("/rollouts/{id}/promote", s.handleDecision(s.deps.Engine.Promote))
			r.Post("/rollouts/{id}/rollback", s.handleDecision(s.deps.Engine.Rollback))
			r.Post("/rollouts/{id}/cancel", s.handleDecision(s.deps.Engine.Cancel))
			r.Put("/rollouts/{id}/traffic", s.handleTraffic)

			r.Get("/agents/{agent}/soul", s.handleGetSoul)
			r.Put("/agents/{agent}/soul", s.handleUpdateSoul)
			r.Get("/agents/{agent}/soul/versions", s.handleSoulVersions)
			r.Post("/agents/{agent}/soul/rollback", s.handleSoulRollback)
			r.Get("/agents/{agent}/soul/assignment", s.handleAssignment)

			r.Get("/scheduler/jobs", s.handleSchedulerJobs)
		})
	})
}

// requireToken enforces the bearer token when one is configured.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.AuthToken != "" {
			token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
			if token != s.deps.AuthToken {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DB().PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	body := map[string]any{"status": "ok"}
	if s.deps.Events != nil {
		body["eventsPending"] = s.deps.Events.Pending()
		body["eventsDropped"] = s.deps.Events.Dropped()
	}
	writeJSON(w, http.StatusOK, body)
}

// handleSchedulerJobs returns the in-process job view next to the run
// history persisted by every scheduler sharing the database.
func (s *Server) handleSchedulerJobs(w http.ResponseWriter, r *http.Request) {
	history, err := s.deps.Store.ListScheduledJobs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	live := []scheduler.JobStatus{}
	if s.deps.Scheduler != nil {
		live = s.deps.Scheduler.Status(time.Now())
	}
	if history == nil {
		history = []store.ScheduledJobRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled": s.deps.Scheduler != nil,
		"jobs":    live,
		"history": history,
	})
}

// ListenAndServe serves on host:port until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, host string, port int) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Gateway listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	slog.Info("Gateway stopped")
	return nil
}
