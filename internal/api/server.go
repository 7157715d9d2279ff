// Package api provides the HTTP status API of the go-axpert bridge.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/resident-x/go-axpert/internal/config"
	"github.com/resident-x/go-axpert/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MetricsProvider reports counters of the polling loop.
type MetricsProvider interface {
	GetMetrics() map[string]interface{}
}

// Server represents the HTTP API server that exposes the latest inverter state.
type Server struct {
	config    *config.Config
	server    *http.Server
	router    *mux.Router
	store     *domain.StateStore
	metrics   MetricsProvider
	version   string
	logger    zerolog.Logger
	startTime time.Time
}

// NewServer creates a new HTTP API server. metrics may be nil.
func NewServer(cfg *config.Config, store *domain.StateStore, metrics MetricsProvider, version string) *Server {
	router := mux.NewRouter()

	// Create logger with API component context
	logger := log.With().Str("component", "api").Logger()

	apiServer := &Server{
		config:    cfg,
		router:    router,
		store:     store,
		metrics:   metrics,
		version:   version,
		logger:    logger,
		startTime: time.Now(),
	}

	apiServer.setupRoutes()

	return apiServer
}

// setupRoutes configures all API endpoint handlers.
func (s *Server) setupRoutes() {
	// API versioning
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/general-status", s.handleGeneralStatus).Methods(http.MethodGet)
	api.HandleFunc("/rating", s.handleRating).Methods(http.MethodGet)
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.API.Host, s.config.API.Port)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info().
			Str("host", s.config.API.Host).
			Int("port", s.config.API.Port).
			Msg("Starting HTTP API server")

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping HTTP API server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if s.server != nil {
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
	}

	return nil
}

// handleStatus returns bridge status, the current mode and poll counters.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := map[string]interface{}{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.startTime).String(),
	}

	if s.config != nil {
		status["inverter_id"] = s.config.Inverter.ID
	}

	if mode, ok := s.store.Mode(); ok {
		status["mode"] = mode
	}

	if latest, ok := s.store.Latest(); ok {
		status["last_reading"] = latest.Timestamp
	}

	if s.metrics != nil {
		status["poller"] = s.metrics.GetMetrics()
	}

	s.writeJSON(w, status, http.StatusOK)
}

// handleGeneralStatus returns the latest decoded reading.
func (s *Server) handleGeneralStatus(w http.ResponseWriter, _ *http.Request) {
	reading, ok := s.store.Latest()
	if !ok {
		s.writeError(w, "No reading available yet", http.StatusNotFound)
		return
	}

	s.writeJSON(w, reading.Report(), http.StatusOK)
}

// handleRating returns the raw rating information payload.
func (s *Server) handleRating(w http.ResponseWriter, _ *http.Request) {
	rating, ok := s.store.Rating()
	if !ok {
		s.writeError(w, "Rating information not available", http.StatusNotFound)
		return
	}

	s.writeJSON(w, map[string]string{"rating": rating}, http.StatusOK)
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := map[string]string{"error": message}
	if err := json.NewEncoder(w).Encode(errorResponse); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode error response")
	}
}
