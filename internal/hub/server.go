package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pawchat/internal/auth"
	"pawchat/internal/middleware"
	"pawchat/internal/transport/httpdto"
	"pawchat/pkg/logger"
)

var (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

const shutdownTimeout = 5 * time.Second

type ServerConfig struct {
	Port    string
	AppMode string
	// PresenceBackend is reported by /health ("memory" or "redis").
	PresenceBackend string
}

// Server exposes the hub over HTTP: the websocket endpoint, health and metrics.
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	hub        *Hub
	config     ServerConfig
	logger     *logger.Logger
}

func NewServer(cfg ServerConfig, h *Hub, issuer *auth.Issuer, gatherer prometheus.Gatherer, l *logger.Logger) *Server {
	switch cfg.AppMode {
	case ReleaseMode, "production":
		gin.SetMode(gin.ReleaseMode)
	case TestMode:
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}
	if l == nil {
		l = logger.Nop()
	}
	if cfg.PresenceBackend == "" {
		cfg.PresenceBackend = "memory"
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestIDMiddleware())
	engine.Use(middleware.LoggingMiddleware(l))
	engine.Use(middleware.ErrorHandler(l))

	s := &Server{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%s", cfg.Port),
			Handler: engine,
		},
		engine: engine,
		hub:    h,
		config: cfg,
		logger: l,
	}

	engine.GET("/health", s.health)
	if gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	engine.GET("/hub", NewWebSocketHandler(h, issuer).Handle)
	return s
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.Health{
		Status:      "healthy",
		Connections: s.hub.ConnectionCount(),
		Presence:    s.config.PresenceBackend,
	}))
}

// Handler returns the HTTP handler, for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until SIGINT or SIGTERM, then closes every connection and shuts down.
func (s *Server) Start() error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Starting the hub on port %s...", s.config.Port)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		s.logger.Errorf("Error in starting the hub: %s", err)
		return err
	case <-quit:
	}

	s.logger.Infof("Quitting signal received, shutting down")
	s.hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Errorf("Error in the graceful shutdown of the hub: %s", err)
		return err
	}
	s.logger.Infof("Hub stopped gracefully")
	return nil
}
