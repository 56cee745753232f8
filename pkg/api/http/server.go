package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aescanero/jobrelay/internal/application/orchestrator"
	"github.com/aescanero/jobrelay/pkg/domain"
	"github.com/aescanero/jobrelay/pkg/ports"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Runner executes one orchestration synchronously
type Runner interface {
	Run(ctx context.Context, msg domain.Message, opts orchestrator.RunOptions) *domain.Report
}

// JobService reads job records and applies remote callbacks
type JobService interface {
	Get(ctx context.Context, jobUUID string) (*domain.JobRecord, error)
	HandleCallback(ctx context.Context, jobUUID, token, remoteStatus string, body map[string]interface{}) (*domain.JobRecord, bool, error)
}

// HealthChecker reports whether a background component is healthy
type HealthChecker interface {
	IsHealthy() bool
}

// Server represents the HTTP API server
type Server struct {
	router   *gin.Engine
	server   *http.Server
	runner   Runner
	jobs     JobService
	eventBus ports.EventBus
	workers  HealthChecker
	metrics  ports.MetricsCollector
	logger   *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port     int
	Runner   Runner
	Jobs     JobService
	EventBus ports.EventBus
	// Workers is nil when no worker pool runs in this process
	Workers HealthChecker
	Metrics ports.MetricsCollector
	Logger  *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:   router,
		runner:   cfg.Runner,
		jobs:     cfg.Jobs,
		eventBus: cfg.EventBus,
		workers:  cfg.Workers,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/messages", s.handleSubmitMessage)

		v1.GET("/jobs/:id", s.handleGetJob)
		v1.GET("/jobs/:id/callback", s.handleCallback)
		v1.POST("/jobs/:id/callback", s.handleCallback)
	}
}

// SetupWebSocket adds the job event stream route
func (s *Server) SetupWebSocket(handler interface{}) {
	if wsHandler, ok := handler.(interface {
		HandleJobStream(*gin.Context)
	}); ok {
		s.router.GET("/api/v1/jobs/:id/ws", wsHandler.HandleJobStream)
	}
}

// Handler returns the server's http.Handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}
