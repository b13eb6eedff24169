// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/insta-extractor/internal/logging"
	"github.com/insta-extractor/internal/models"
	"github.com/insta-extractor/internal/pipeline"
	"github.com/insta-extractor/internal/service"
)

// Service interfaces for dependency injection and testing

// JobServiceInterface defines the job operations behind the /api routes
type JobServiceInterface interface {
	CreateJob(ctx context.Context, input *service.CreateJobInput) (*service.CreateJobResult, error)
	GetStatus(ctx context.Context, id string) (*service.JobView, error)
	ListJobs(ctx context.Context, userID string, limit int) ([]*service.JobView, error)
	GetBalance(ctx context.Context, userID string) (*service.BalanceView, error)
}

// ExportServiceInterface renders job results for download
type ExportServiceInterface interface {
	ExportJob(ctx context.Context, jobID string) (*service.Export, error)
}

// ChunkProcessor advances a job by one page. *pipeline.Processor implements it.
type ChunkProcessor interface {
	ProcessChunk(ctx context.Context, job *models.ExtractionJob) (*pipeline.ChunkOutcome, error)
}

// Server represents the HTTP API server.
type Server struct {
	router        *mux.Router
	httpServer    *http.Server
	jobService    JobServiceInterface
	exportService ExportServiceInterface
	chunks        ChunkProcessor
	config        *ServerConfig
	checks        map[string]HealthCheck
}

// HealthCheck reports a dependency's state and whether it is usable
type HealthCheck func() (state string, ok bool)

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	UserRPS         int    // Requests per second per user on /api routes
	WebhookSecret   string // Expected x-supabase-signature; empty rejects every webhook
	ChunkTimeout    time.Duration
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	jobService JobServiceInterface,
	exportService ExportServiceInterface,
	chunks ChunkProcessor,
) *Server {
	if config.ChunkTimeout <= 0 {
		config.ChunkTimeout = 2 * time.Minute
	}
	if config.UserRPS <= 0 {
		config.UserRPS = 10
	}

	s := &Server{
		router:        mux.NewRouter(),
		jobService:    jobService,
		exportService: exportService,
		chunks:        chunks,
		config:        config,
		checks:        make(map[string]HealthCheck),
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	// Set up middleware (order matters!)
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)

	// Set up routes
	s.setupRoutes()

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(RateLimitMiddleware(NewRateLimiter(s.config.UserRPS)))

	// Job endpoints
	api.HandleFunc("/jobs", s.handleCreateJob).Methods("POST")
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}/export", s.handleExportJob).Methods("GET")

	// User endpoints
	api.HandleFunc("/users/{id}/coins", s.handleGetCoins).Methods("GET")
	api.HandleFunc("/users/{id}/jobs", s.handleListJobs).Methods("GET")

	// Database webhook endpoints (no rate limiting needed)
	s.router.HandleFunc("/webhooks/extraction-chunk", s.handleExtractionChunk).Methods("POST")
}

// Handler returns the routed handler with all middleware applied
func (s *Server) Handler() http.Handler {
	return s.router
}

// AddHealthCheck registers a dependency reported by /health. Call before Start.
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.checks[name] = check
}

// handleHealth answers 503 when any registered check fails
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	deps := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		state, ok := check()
		deps[name] = state
		if !ok {
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}
	respondJSON(w, code, map[string]interface{}{
		"status":       status,
		"service":      "insta-extractor",
		"dependencies": deps,
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.Infof("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
