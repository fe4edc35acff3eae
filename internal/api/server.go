package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"castd/pkg/discovery"
	"castd/pkg/journal"
	"castd/pkg/receiver"
	"castd/pkg/session"
	"castd/pkg/status"
)

const shutdownTimeout = 5 * time.Second

// Refresher runs one discovery pass on demand
type Refresher interface {
	Reconcile(ctx context.Context) (discovery.Result, error)
}

// Services are the components served by the API (DI)
type Services struct {
	Registry    *receiver.Registry
	Discovery   Refresher
	Coordinator *session.Coordinator
	Publisher   *status.Publisher
	Journal     *journal.Journal // nil이면 history는 빈 목록
	Cast        http.Handler     // sender WebSocket endpoint
}

// Server represents the API server
type Server struct {
	router   *gin.Engine
	port     int
	services Services
	http     *http.Server
}

// NewServer creates a new API server instance
func NewServer(port int, services Services) *Server {
	// Set Gin to release mode for production
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(requestLogger())
	router.Use(gin.Recovery())

	s := &Server{
		router:   router,
		port:     port,
		services: services,
	}
	s.SetupRoutes()
	return s
}

// SetupRoutes configures all API routes
func (s *Server) SetupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.HealthHandler)
		v1.GET("/receivers", s.ReceiversHandler)
		v1.POST("/discovery/refresh", s.RefreshHandler)
		v1.GET("/sessions", s.SessionsHandler)
		v1.GET("/sessions/:handle", s.SessionHandler)
		v1.GET("/status", s.GetStatusHandler)
		v1.POST("/status", s.PublishStatusHandler)
		v1.GET("/history/sessions", s.SessionHistoryHandler)
		v1.GET("/history/receivers", s.ReceiverHistoryHandler)
		if s.services.Cast != nil {
			v1.GET("/cast", gin.WrapH(s.services.Cast))
		}
	}
}

// Start starts the API server
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:    ":" + strconv.Itoa(s.port),
		Handler: s.router,
	}

	// 논블로킹으로 서버 시작
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server error", "err", err)
		}
	}()

	slog.Info("API Server started", "port", s.port)
	return nil
}

// Stop gracefully shuts the HTTP listener down. Hijacked WebSocket
// connections are not tracked here; the rpc server closes them.
func (s *Server) Stop() {
	if s.http == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.Warn("API server shutdown", "err", err)
	}
	slog.Info("API Server stopped")
}

// Name returns the component name
func (s *Server) Name() string {
	return "api"
}

// GetRouter returns the gin router (for testing)
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

// requestLogger logs each request through slog instead of gin's stdout writer
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("API request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start))
	}
}
