// Package server exposes the freeda HTTP surface: the public widget
// API, the per-ticket WebSocket feed and the private admin API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/freeda-io/freeda/internal/analytics"
	"github.com/freeda-io/freeda/internal/hub"
	"github.com/freeda-io/freeda/internal/logbuf"
	"github.com/freeda-io/freeda/internal/ratelimit"
	"github.com/freeda-io/freeda/internal/reply"
	"github.com/freeda-io/freeda/internal/store"
	"github.com/freeda-io/freeda/pkg/protocol"
)

// LogQuerier abstracts log record querying to avoid coupling to logbuf
// directly.
type LogQuerier interface {
	Query(since time.Time, minLevel slog.Level, limit int) []logbuf.Record
}

// Config holds HTTP server configuration.
type Config struct {
	Host           string
	Port           int
	AdminKey       string // Bearer key for the private API
	AllowedOrigins []string
}

// Deps are the collaborators the server drives. Analyzer and Logs may
// be nil; Responder must not.
type Deps struct {
	Store          store.Store
	Hub            *hub.Hub
	Responder      *reply.Responder
	Analyzer       *analytics.Analyzer
	TicketLimiter  *ratelimit.Limiter
	MessageLimiter *ratelimit.Limiter
	Logs           LogQuerier
}

// Server is the freeda HTTP server.
type Server struct {
	deps    Deps
	cfg     Config
	logger  *slog.Logger
	srv     *http.Server
	started time.Time
}

// New creates the server and wires all routes.
func New(deps Deps, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		deps:    deps,
		cfg:     cfg,
		logger:  logger,
		started: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)

	// Public widget API.
	mux.HandleFunc("POST /public/tickets", s.handleCreateTicket)
	mux.HandleFunc("GET /public/tickets/{id}", s.handleGetTicket)
	mux.HandleFunc("POST /public/tickets/{id}/messages", s.handleAddMessage)
	mux.HandleFunc("GET /public/tickets/{id}/status", s.handleTicketStatus)
	mux.HandleFunc("PATCH /public/tickets/{id}/status", s.handleCloseTicket)
	mux.HandleFunc("GET /ws/{id}", s.handleSubscribe)

	// Private admin API.
	mux.HandleFunc("GET /api/tickets", s.requireAuth(s.handleAdminListTickets))
	mux.HandleFunc("GET /api/tickets/export", s.requireAuth(s.handleAdminExportCSV))
	mux.HandleFunc("GET /api/tickets/{id}", s.requireAuth(s.handleAdminGetTicket))
	mux.HandleFunc("POST /api/tickets/{id}/reply", s.requireAuth(s.handleAdminReply))
	mux.HandleFunc("POST /api/tickets/{id}/assign", s.requireAuth(s.handleAdminAssign))
	mux.HandleFunc("PATCH /api/tickets/{id}/status", s.requireAuth(s.handleAdminUpdateStatus))
	mux.HandleFunc("GET /api/logs", s.requireAuth(s.handleGetLogs))

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("http server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (len(s.cfg.AllowedOrigins) == 0 || slices.Contains(s.cfg.AllowedOrigins, origin)) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminKey == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.AdminKey {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, protocol.ErrorResponse{Error: msg})
}

// clientIP extracts the caller's address for rate limiting, honoring
// X-Forwarded-For when a proxy sits in front.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.Index(fwd, ","); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
