package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"raffleanchor/core/events"
	"raffleanchor/native/anchor"
	"raffleanchor/native/attest"
	"raffleanchor/native/oracle"
	"raffleanchor/native/raffle"
	"raffleanchor/native/rewards"
	"raffleanchor/observability"
	"raffleanchor/services/anchord/middleware"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
	RateLimit     middleware.RateLimit
	// Auth guards the operator routes. Without it those routes answer 503.
	Auth *middleware.Authenticator
}

// Backend is the node state the API serves.
type Backend struct {
	Anchor      *anchor.Engine
	Raffle      *raffle.Engine
	Registry    *attest.Registry
	Oracle      *oracle.Store
	Rewards     *rewards.Ledger
	Events      *events.Recorder
	ProofScheme string
}

// Server hosts the public and operator HTTP API of the anchor node. Every
// call into the backend holds mu, so the engine sees a single writer.
type Server struct {
	cfg     Config
	backend Backend
	logger  *slog.Logger
	metrics *observability.APIMetrics

	mu      sync.Mutex
	handler http.Handler
}

// New constructs a new HTTP server.
func New(cfg Config, backend Backend, logger *slog.Logger) (*Server, error) {
	if backend.Anchor == nil || backend.Raffle == nil || backend.Registry == nil || backend.Oracle == nil || backend.Rewards == nil {
		return nil, fmt.Errorf("anchord: incomplete backend")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, backend: backend, logger: logger, metrics: observability.API()}
	s.handler = otelhttp.NewHandler(s.routes(), "anchord")
	return s, nil
}

// Handler exposes the instrumented router.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Observe(s.metrics, s.logger))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	limiter := middleware.NewRateLimiter(s.cfg.RateLimit, s.metrics)
	r.Route("/v1", func(v1 chi.Router) {
		v1.With(limiter.Middleware("/v1/batches")).Post("/batches", s.handleSubmitBatch)
		v1.Get("/queues/{queue}/pending", s.handlePending)
		v1.Get("/cursor", s.handleCursor)
		v1.Get("/raffle/status", s.handleRaffleStatus)
		v1.Get("/rewards/{participant}", s.handleRewardBalance)
		v1.Get("/events", s.handleEvents)

		v1.Route("/admin", func(admin chi.Router) {
			if s.cfg.Auth != nil {
				admin.Use(s.cfg.Auth.Middleware(middleware.ScopeAdmin))
			} else {
				admin.Use(func(http.Handler) http.Handler {
					return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
						middleware.WriteError(w, http.StatusServiceUnavailable, "", "admin api disabled: no JWT secret configured")
					})
				})
			}
			admin.Get("/attestors", s.handleListAttestors)
			admin.Post("/attestors", s.handleGrantAttestor)
			admin.Delete("/attestors/{address}", s.handleRevokeAttestor)
			admin.Post("/oracle/participants", s.handleAddParticipants)
			admin.Post("/oracle/rewards", s.handleSetRewards)
			admin.Post("/oracle/clear", s.handleClearEra)
			admin.Get("/oracle/eras/{era}", s.handleEraData)
			admin.Post("/fault/clear", s.handleClearFault)
			admin.Post("/draws", s.handleTriggerDraw)
		})
	})
	return r
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		s.logger.Info("anchord http server listening", "address", s.cfg.ListenAddress)
		errs <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("listen and serve: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	state := s.backend.Anchor.State()
	fault := s.backend.Anchor.Fault()
	s.mu.Unlock()
	status := http.StatusOK
	body := map[string]string{"status": "ok", "state": state.String()}
	if state == anchor.StateFaulted {
		status = http.StatusServiceUnavailable
		body["status"] = "faulted"
		body["fault"] = fault
	}
	middleware.WriteJSON(w, status, body)
}

// statusForClass maps an anchor error class to an HTTP status.
func statusForClass(class anchor.Class) int {
	switch class {
	case anchor.ClassAuthorization:
		return http.StatusForbidden
	case anchor.ClassOrdering:
		return http.StatusConflict
	case anchor.ClassDecoding:
		return http.StatusBadRequest
	case anchor.ClassDomain:
		return http.StatusUnprocessableEntity
	case anchor.ClassAdapter:
		return http.StatusBadGateway
	case anchor.ClassUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeAnchorError(w http.ResponseWriter, err error) {
	class := anchor.ClassOf(err)
	status := statusForClass(class)
	if status >= 500 {
		s.logger.Error("anchor request failed", "class", class.String(), "error", err)
	}
	body := errorBody(class, err)
	middleware.WriteJSON(w, status, body)
}

func trimmedParam(r *http.Request, name string) string {
	return strings.TrimSpace(chi.URLParam(r, name))
}
