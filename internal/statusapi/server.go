// Package statusapi implements the read-only Status API (§3.10): a
// small chi.Mux exposing engine health, a redacted strategy snapshot,
// and a tail of the audit log. It carries no mutating routes — order
// placement stays behind the engine's own cycle, never behind HTTP —
// generalized from the teacher's internal/dashboard server (same
// chi middleware stack, constant-time auth token check, and redacted
// request logging) with the HTML template/position views dropped in
// favor of a pure JSON surface over strategies instead of options
// positions.
package statusapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/strategy-engine/internal/audit"
	"github.com/eddiefleurent/strategy-engine/internal/models"
)

// StrategyLister is the subset of internal/store.JSONStore the API
// needs: a snapshot read, never a write.
type StrategyLister interface {
	LoadAll() ([]*models.Strategy, error)
}

// HealthSource reports the engine's own liveness independent of the
// store or audit log, e.g. whether it holds its lifecycle lock.
type HealthSource interface {
	EngineHealthy() bool
	LockOwner() string
}

// Config configures the Status API's HTTP surface.
type Config struct {
	Port      int
	AuthToken string
}

// Server is the read-only Status API HTTP server.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	store     StrategyLister
	auditLog  *audit.Log
	health    HealthSource
	logger    *logrus.Logger
	port      int
	authToken string
}

// StrategySnapshot is the redacted, client-facing view of a strategy:
// identity, phase, and quarantine status, but never broker credentials
// or the raw variant_params an operator might consider sensitive sizing
// information.
type StrategySnapshot struct {
	ID          string `json:"id"`
	Symbol      string `json:"symbol"`
	Variant     string `json:"variant"`
	Phase       string `json:"phase"`
	Enabled     bool   `json:"enabled"`
	Quarantined bool   `json:"quarantined"`
	LastError   string `json:"last_error,omitempty"`
}

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	Status     string `json:"status"`
	LockOwner  string `json:"lock_owner,omitempty"`
	AuditHealthy bool `json:"audit_healthy"`
	Timestamp  int64  `json:"timestamp"`
}

// New constructs a Server. auditLog may be nil (audit_healthy always
// reports true, /audit/tail returns an empty slice).
func New(cfg Config, store StrategyLister, auditLog *audit.Log, health HealthSource, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		router:    chi.NewRouter(),
		store:     store,
		auditLog:  auditLog,
		health:    health,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLoggerMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(15 * time.Second))

	s.router.Get("/healthz", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		if s.authToken != "" {
			r.Use(s.authMiddleware)
		}
		r.Get("/strategies", s.handleStrategies)
		r.Get("/audit/tail", s.handleAuditTail)
	})
}

func (s *Server) requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		loggedURL := redactTokenFromURL(r.URL)
		entry := s.logger.WithFields(logrus.Fields{
			"method": r.Method,
			"url":    loggedURL.String(),
		})
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)
		entry.WithFields(logrus.Fields{
			"status":   wrapped.Status(),
			"duration": time.Since(start),
		}).Info("status api request")
	})
}

func redactTokenFromURL(original *url.URL) *url.URL {
	clone := &url.URL{Scheme: original.Scheme, Host: original.Host, Path: original.Path, RawQuery: original.RawQuery}
	if original.RawQuery != "" {
		values := original.Query()
		if values.Has("token") {
			values.Set("token", "[REDACTED]")
		}
		clone.RawQuery = values.Encode()
	}
	return clone
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if !s.isValidToken(token) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) isValidToken(token string) bool {
	if len(token) != len(s.authToken) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) == 1
}

// Start runs the server until Shutdown is called or ListenAndServe
// otherwise returns.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Infof("status api listening on port %d", s.port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Timestamp: time.Now().Unix(), AuditHealthy: true}
	if s.auditLog != nil {
		resp.AuditHealthy = s.auditLog.Healthy()
	}
	if s.health != nil {
		resp.LockOwner = s.health.LockOwner()
		if !s.health.EngineHealthy() {
			resp.Status = "unhealthy"
		}
	}
	if !resp.AuditHealthy {
		resp.Status = "unhealthy"
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	strategies, err := s.store.LoadAll()
	if err != nil {
		s.logger.WithError(err).Error("status api: loading strategies")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	views := make([]StrategySnapshot, 0, len(strategies))
	for _, strat := range strategies {
		views = append(views, StrategySnapshot{
			ID:          strat.ID,
			Symbol:      strat.Symbol,
			Variant:     string(strat.Variant),
			Phase:       string(strat.Phase),
			Enabled:     strat.Enabled,
			Quarantined: strat.RuntimeState.Quarantined,
			LastError:   strat.RuntimeState.LastError,
		})
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(views)
}

func (s *Server) handleAuditTail(w http.ResponseWriter, r *http.Request) {
	n := 100
	if raw := r.URL.Query().Get("n"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}

	var records []models.AuditRecord
	if s.auditLog != nil {
		recs, err := s.auditLog.Tail(n)
		if err != nil {
			s.logger.WithError(err).Error("status api: reading audit tail")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		records = recs
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(records)
}
