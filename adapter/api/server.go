// Package api provides the HTTP surface of the back office.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	bulkDomain "github.com/fitstack/backoffice/internal/bulk/domain"
	catalogDomain "github.com/fitstack/backoffice/internal/catalog/domain"
	notificationsApplication "github.com/fitstack/backoffice/internal/notifications/application"
	packagesDomain "github.com/fitstack/backoffice/internal/packages/domain"
)

// Server is the HTTP API server for the back office.
type Server struct {
	mux      *http.ServeMux
	server   *http.Server
	logger   *slog.Logger
	packages *PackageHandler
	bulk     *BulkHandler
	token    string
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// AuthToken enables the bearer token gate when non-empty. Real identity
	// lives upstream; the token only keeps the surface from being open.
	AuthToken string
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "0.0.0.0:8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer creates a new back office API server.
func NewServer(cfg ServerConfig, packages *PackageHandler, bulk *BulkHandler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mux:      http.NewServeMux(),
		logger:   logger,
		packages: packages,
		bulk:     bulk,
		token:    cfg.AuthToken,
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// registerRoutes sets up the API routes.
func (s *Server) registerRoutes() {
	// Health check stays outside the auth gate.
	s.mux.HandleFunc("GET /health", s.handleHealth)

	// Package lifecycle
	s.mux.HandleFunc("GET /api/v1/packages/{id}", s.authed(s.packages.GetPackage))
	s.mux.HandleFunc("GET /api/v1/packages/{id}/history", s.authed(s.packages.GetHistory))
	s.mux.HandleFunc("POST /api/v1/packages/{id}/freeze", s.authed(s.packages.Freeze))
	s.mux.HandleFunc("POST /api/v1/packages/{id}/unfreeze", s.authed(s.packages.Unfreeze))
	s.mux.HandleFunc("POST /api/v1/packages/{id}/renew", s.authed(s.packages.Renew))
	s.mux.HandleFunc("POST /api/v1/packages/{id}/notify", s.authed(s.packages.Notify))

	// Bulk operations
	s.mux.HandleFunc("POST /api/v1/bulk/extension/preview", s.authed(s.bulk.PreviewExtension))
	s.mux.HandleFunc("POST /api/v1/bulk/extension/execute", s.authed(s.bulk.ExecuteExtension))
	s.mux.HandleFunc("POST /api/v1/bulk/pricing/preview", s.authed(s.bulk.PreviewPricing))
	s.mux.HandleFunc("POST /api/v1/bulk/pricing/execute", s.authed(s.bulk.ExecutePricing))
	s.mux.HandleFunc("GET /api/v1/bulk/operations", s.authed(s.bulk.ListOperations))
	s.mux.HandleFunc("GET /api/v1/bulk/operations/{id}", s.authed(s.bulk.GetOperation))
	s.mux.HandleFunc("POST /api/v1/bulk/operations/{id}/cancel", s.authed(s.bulk.CancelOperation))
}

// authed wraps a handler with the bearer token check. A server configured
// without a token runs open, which is the local development mode.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	if s.token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		got, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "Missing or invalid bearer token")
			return
		}
		next(w, r)
	}
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Handler exposes the routed mux, used by tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info("starting back office API server",
		"addr", s.server.Addr,
	)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down back office API server")
	return s.server.Shutdown(ctx)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", "error", err)
		}
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}

// writeDomainError maps service errors onto HTTP statuses: bad input is
// 400, unknown resources 404, state and concurrency rejections 409.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, packagesDomain.ErrPackageNotFound),
		errors.Is(err, catalogDomain.ErrTemplateNotFound),
		errors.Is(err, bulkDomain.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())

	case errors.Is(err, packagesDomain.ErrInvalidFilter),
		errors.Is(err, packagesDomain.ErrEmptyExtension),
		errors.Is(err, packagesDomain.ErrInvalidPricing),
		errors.Is(err, packagesDomain.ErrNegativePercent),
		errors.Is(err, packagesDomain.ErrInvalidSessions),
		errors.Is(err, bulkDomain.ErrMissingSpec):
		writeError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, packagesDomain.ErrAlreadyFrozen),
		errors.Is(err, packagesDomain.ErrNotFrozen),
		errors.Is(err, packagesDomain.ErrRenewedOut),
		errors.Is(err, packagesDomain.ErrRenewalNotAllowed),
		errors.Is(err, packagesDomain.ErrRenewalFailed),
		errors.Is(err, packagesDomain.ErrVersionConflict),
		errors.Is(err, bulkDomain.ErrNotCancellable),
		errors.Is(err, bulkDomain.ErrAlreadyTerminal),
		errors.Is(err, notificationsApplication.ErrNoPendingNotification):
		writeError(w, http.StatusConflict, err.Error())

	default:
		logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// Helper functions

func parseIntParam(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}
