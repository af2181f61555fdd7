// Package api exposes the HTTP facade: negotiation lifecycle, registry
// management and the per-negotiation websocket event stream.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/concordhq/concord/pkg/events"
	"github.com/concordhq/concord/pkg/registry"
	"github.com/concordhq/concord/pkg/services"
	"github.com/concordhq/concord/pkg/session"
	"github.com/concordhq/concord/pkg/version"
)

// Server is the HTTP API server.
type Server struct {
	negotiations *services.NegotiationService
	store        *session.Manager
	agents       *registry.AgentRegistry
	scenes       *registry.SceneRegistry
	connManager  *events.ConnectionManager
	logger       *slog.Logger

	httpServer *http.Server
}

// NewServer creates the server and its routes.
func NewServer(negotiations *services.NegotiationService, store *session.Manager, agents *registry.AgentRegistry, scenes *registry.SceneRegistry, connManager *events.ConnectionManager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		negotiations: negotiations,
		store:        store,
		agents:       agents,
		scenes:       scenes,
		connManager:  connManager,
		logger:       logger.With("component", "api"),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api")
	{
		api.POST("/negotiate", s.createNegotiation)
		api.GET("/negotiate", s.listNegotiations)
		api.GET("/negotiate/:id", s.getNegotiation)
		api.POST("/negotiate/:id/confirm", s.confirmNegotiation)

		api.GET("/agents", s.listAgents)
		api.GET("/scenes", s.listScenes)
		api.POST("/scenes/register", s.registerScene)
		api.POST("/scenes/:id/connect", s.connectScene)

		api.GET("/health", s.health)
	}

	router.GET("/ws/:id", s.handleWebSocket)
	return router
}

// Start runs the server until the listener fails or Shutdown is called.
func (s *Server) Start(port int) error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("api server listening", "port", port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"version":      version.Full(),
		"negotiations": s.store.Count(),
		"connections":  s.connManager.ActiveConnections(),
	})
}
