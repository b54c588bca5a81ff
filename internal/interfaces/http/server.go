// Package http is the operator surface: a thin gin adapter that translates
// HTTP requests into engine and service calls.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Ashour158/People-sub002/internal/application/service"
	"github.com/Ashour158/People-sub002/internal/application/workflow"
	"github.com/Ashour158/People-sub002/internal/webhook"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// HealthFunc reports whether the process can serve traffic, with details
// for the response body
type HealthFunc func(ctx context.Context) (bool, interface{})

// Dependencies are the application components the server exposes
type Dependencies struct {
	Engine      workflow.WorkflowEngine
	Definitions service.DefinitionService
	Outbox      service.OutboxService
	Health      HealthFunc

	// Webhook is optional; the intake route is mounted only when set
	Webhook *webhook.Handler
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	deps       Dependencies
	logger     Logger
}

// NewServer creates a new HTTP server over the given components
func NewServer(config ServerConfig, deps Dependencies, logger Logger) *Server {
	// Set gin mode based on environment
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	server := &Server{
		config: config,
		router: router,
		deps:   deps,
		logger: logger,
	}

	// Setup middleware
	server.setupMiddleware()

	// Setup routes
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.router.Use(gin.Recovery())

	// Logging middleware
	s.router.Use(s.loggingMiddleware())
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		// Process request
		c.Next()

		// Log request details
		latency := time.Since(start)
		status := c.Writer.Status()

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", status,
			"latency", latency.String(),
			"client_ip", c.ClientIP(),
		)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	handlers := NewHandlers(s.deps, s.logger)

	// Health check
	s.router.GET("/health", handlers.HealthCheck)

	if s.deps.Webhook != nil {
		s.router.POST("/webhook/events", s.deps.Webhook.Handle)
	}

	// API routes
	api := s.router.Group("/api")
	{
		// Instances
		api.GET("/instances", handlers.ListInstances)
		api.POST("/instances", handlers.StartWorkflow)
		api.GET("/instances/:id", handlers.GetInstanceState)
		api.POST("/instances/:id/cancel", handlers.CancelInstance)
		api.GET("/error-instances", handlers.ListErrorInstances)

		// Tasks
		api.POST("/tasks/:id/decision", handlers.DecideTask)
		api.POST("/tasks/:id/escalate", handlers.EscalateTask)

		// Definitions
		api.GET("/definitions", handlers.ListDefinitions)
		api.POST("/definitions", handlers.CreateDefinition)
		api.POST("/definitions/validate", handlers.ValidateDefinition)
		api.GET("/definitions/:id", handlers.GetDefinition)

		// Outbox
		api.GET("/events/:id", handlers.GetEvent)
		api.GET("/dead-letters", handlers.ListDeadLetters)
		api.POST("/dead-letters/:id/requeue", handlers.RequeueDeadLetter)
	}
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	// Create shutdown context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
