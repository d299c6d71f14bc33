package web

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Server exposes the lab lifecycle and workspace APIs over HTTP
type Server struct {
	host      string
	port      int
	router    *gin.Engine
	labs      LabManager
	workspace WorkspaceGateway
	logger    *logrus.Logger
	server    *http.Server
	mu        sync.Mutex
}

// NewServer creates a new API server instance
func NewServer(labs LabManager, workspace WorkspaceGateway, logger *logrus.Logger, host string, port int) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		host:      host,
		port:      port,
		router:    router,
		labs:      labs,
		workspace: workspace,
		logger:    logger,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware sets up the middleware
func (s *Server) setupMiddleware() {
	s.router.Use(RecoveryHandler(s.logger))
	s.router.Use(LoggingMiddleware(s.logger))
}

// setupRoutes sets up the HTTP routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)

	labs := s.router.Group("/labs")
	{
		labs.POST("/student", s.createLabHandler)
		labs.GET("", s.listLabsHandler)
		labs.GET("/:lab_id", s.getLabHandler)
		labs.DELETE("/:lab_id", s.deleteLabHandler)
		labs.POST("/:lab_id/heartbeat", s.heartbeatHandler)
		labs.GET("/:lab_id/files", s.listFilesHandler)
		labs.GET("/:lab_id/download/*path", s.downloadFileHandler)
		labs.GET("/:lab_id/download-workspace", s.downloadWorkspaceHandler)
	}
}

// Handler returns the underlying HTTP handler, used by tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the API server
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.logger.Infof("Starting API server on %s", addr)

	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("API server failed: %v", err)
		}
	}()

	return nil
}

// Stop stops the API server, draining in-flight requests
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}

	s.logger.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown API server: %w", err)
	}

	s.server = nil
	return nil
}
