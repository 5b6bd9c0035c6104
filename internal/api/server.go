// Package api exposes the engine's reporting and control surfaces over
// HTTP and WebSocket. Reporting is pull-based snapshots; control is the
// start/pause/stop trio plus operator login.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/gocityvibes/emini/config"
	"github.com/gocityvibes/emini/internal/auth"
	"github.com/gocityvibes/emini/internal/database"
	"github.com/gocityvibes/emini/internal/engine"
	"github.com/gocityvibes/emini/internal/events"
	"github.com/gocityvibes/emini/internal/logging"
	"github.com/gocityvibes/emini/internal/memory"
)

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	cfg         config.ServerConfig
	eng         *engine.Engine
	patterns    *memory.Store
	negatives   *memory.HardNegativeStore
	repo        *database.Repository // nil when persistence is disabled
	authService *auth.Service
	eventBus    *events.EventBus
	hub         *WSHub
	log         zerolog.Logger
}

// NewServer creates a new API server
func NewServer(
	cfg config.ServerConfig,
	eng *engine.Engine,
	patterns *memory.Store,
	negatives *memory.HardNegativeStore,
	repo *database.Repository,
	authService *auth.Service,
	eventBus *events.EventBus,
) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:      router,
		cfg:         cfg,
		eng:         eng,
		patterns:    patterns,
		negatives:   negatives,
		repo:        repo,
		authService: authService,
		eventBus:    eventBus,
		hub:         NewWSHub(),
		log:         logging.Component("api"),
	}

	server.setupRoutes()

	// stream every engine event to connected websocket clients
	eventBus.SubscribeAll(server.hub.BroadcastEvent)

	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.POST("/api/auth/login", s.handleLogin)
	s.router.GET("/ws", s.handleWebSocket)

	authed := s.router.Group("/api")
	authed.Use(auth.Middleware(s.authService))
	{
		authed.GET("/status", s.handleStatus)
		authed.GET("/budget", s.handleBudget)
		authed.GET("/trades", s.handleTrades)
		authed.GET("/patterns", s.handlePatterns)
		authed.GET("/patterns/:fingerprint", s.handlePattern)
		authed.GET("/negatives", s.handleHardNegatives)
		authed.GET("/floors", s.handleFloors)
		authed.GET("/summaries", s.handleSummaries)

		authed.POST("/engine/start", s.handleStart)
		authed.POST("/engine/pause", s.handlePause)
		authed.POST("/engine/stop", s.handleStop)
	}
}

// Start begins serving. Blocks until the listener fails or Stop is called.
func (s *Server) Start() error {
	go s.hub.Run()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	s.log.Info().Str("addr", addr).Msg("api server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
