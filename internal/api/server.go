// Package api exposes the vulnhawk REST API: target and scan management,
// finding listings, SARIF export, and the websocket event stream. The API
// only creates QUEUED scan rows and reads state; scan lifecycle transitions
// belong to the engine.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/vulnhawk/vulnhawk/internal/config"
	"github.com/vulnhawk/vulnhawk/internal/db"
	"github.com/vulnhawk/vulnhawk/internal/logging"
	"github.com/vulnhawk/vulnhawk/internal/metrics"
	"github.com/vulnhawk/vulnhawk/internal/notify"
	"github.com/vulnhawk/vulnhawk/internal/version"
)

// Server timeout constants.
const (
	serverShutdownTimeout = 30 * time.Second
	healthCheckTimeout    = 5 * time.Second
)

// Server is the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	store      *db.Store
	database   *db.DB
	bus        *notify.Bus
	metrics    *metrics.Metrics
	logger     *logging.Logger
	validate   *validator.Validate
	cfg        config.APIConfig
	startTime  time.Time
}

// New creates an API server over the given store and event bus.
func New(cfg config.APIConfig, database *db.DB, store *db.Store, bus *notify.Bus,
	m *metrics.Metrics, logger *logging.Logger) *Server {
	server := &Server{
		router:    mux.NewRouter(),
		store:     store,
		database:  database,
		bus:       bus,
		metrics:   m,
		logger:    logger.WithComponent("api"),
		validate:  validator.New(),
		cfg:       cfg,
		startTime: time.Now(),
	}

	server.setupRoutes()
	server.setupMiddleware()

	server.httpServer = &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.ListenAddr, cfg.Port),
		Handler:        server.router,
		ReadTimeout:    cfg.RequestTimeout,
		WriteTimeout:   cfg.RequestTimeout,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return server
}

// Start runs the server until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting API server", "address", s.httpServer.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// Router returns the configured router; used by the handler tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// System endpoints.
	api.HandleFunc("/health", s.healthHandler).Methods("GET")
	api.HandleFunc("/version", s.versionHandler).Methods("GET")

	// Module catalog and scan profiles.
	api.HandleFunc("/modules", s.listModulesHandler).Methods("GET")
	api.HandleFunc("/profiles", s.listProfilesHandler).Methods("GET")

	// Targets.
	api.HandleFunc("/targets", s.createTargetHandler).Methods("POST")
	api.HandleFunc("/targets", s.listTargetsHandler).Methods("GET")
	api.HandleFunc("/targets/{id}", s.getTargetHandler).Methods("GET")
	api.HandleFunc("/targets/{id}/assets", s.listTargetAssetsHandler).Methods("GET")
	api.HandleFunc("/targets/{id}/score", s.getTargetScoreHandler).Methods("GET")

	// Scans.
	api.HandleFunc("/scans", s.createScanHandler).Methods("POST")
	api.HandleFunc("/scans", s.listScansHandler).Methods("GET")
	api.HandleFunc("/scans/{id}", s.getScanHandler).Methods("GET")
	api.HandleFunc("/scans/{id}/cancel", s.cancelScanHandler).Methods("POST")
	api.HandleFunc("/scans/{id}/modules", s.listScanModulesHandler).Methods("GET")
	api.HandleFunc("/scans/{id}/findings", s.listScanFindingsHandler).Methods("GET")
	api.HandleFunc("/scans/{id}/export/sarif", s.exportSARIFHandler).Methods("GET")

	// Findings.
	api.HandleFunc("/findings", s.listFindingsHandler).Methods("GET")
	api.HandleFunc("/findings/groups", s.groupFindingsHandler).Methods("GET")
	api.HandleFunc("/findings/{id}/status", s.updateFindingStatusHandler).Methods("PATCH")
	api.HandleFunc("/findings/{id}/severity", s.reclassifyFindingHandler).Methods("PATCH")

	// Live event stream.
	api.HandleFunc("/events", s.eventsHandler).Methods("GET")

	// Prometheus metrics live outside the versioned prefix.
	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
}

// setupMiddleware configures middleware for the API server.
func (s *Server) setupMiddleware() {
	s.router.Use(s.recoveryMiddleware)
	if s.cfg.RequestLogging {
		s.router.Use(s.loggingMiddleware)
	}
	s.router.Use(s.bodyLimitMiddleware)

	corsOrigins := handlers.AllowedOrigins([]string{"*"})
	corsHeaders := handlers.AllowedHeaders([]string{"Content-Type", "Authorization"})
	corsMethods := handlers.AllowedMethods([]string{"GET", "POST", "PATCH", "OPTIONS"})
	s.router.Use(handlers.CORS(corsOrigins, corsHeaders, corsMethods))
}

// healthHandler reports service health including database reachability.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "healthy"
	checks := map[string]string{"database": "ok"}
	if err := s.database.PingContext(ctx); err != nil {
		status = "unhealthy"
		checks["database"] = "failed"
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, r, code, map[string]interface{}{
		"status":    status,
		"checks":    checks,
		"uptime":    time.Since(s.startTime).String(),
		"timestamp": time.Now().UTC(),
	})
}

// versionHandler reports version and build information.
func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"service": "vulnhawk",
		"version": version.Version,
		"commit":  version.Commit,
	})
}
