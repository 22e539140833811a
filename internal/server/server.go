// Package server provides the HTTP server setup and routing configuration.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/talefeed/talefeed/internal/access"
	"github.com/talefeed/talefeed/internal/api"
	"github.com/talefeed/talefeed/internal/backend"
	"github.com/talefeed/talefeed/internal/config"
	"github.com/talefeed/talefeed/internal/download"
	"github.com/talefeed/talefeed/internal/logger"
	"github.com/talefeed/talefeed/internal/middleware"
	"github.com/talefeed/talefeed/internal/netmon"
	"github.com/talefeed/talefeed/internal/player"
	"github.com/talefeed/talefeed/internal/progress"
	"github.com/talefeed/talefeed/internal/store"
)

// Server represents the local control API server and the services behind it
type Server struct {
	config       *config.Config
	store        *store.Store
	repos        *store.Repositories
	client       *backend.Client
	gate         *access.Gate
	monitor      *netmon.Monitor
	persistence  *progress.Persistence
	dispatcher   *player.Dispatcher
	engine       *player.Engine
	orchestrator *download.Orchestrator
	router       *gin.Engine
	server       *http.Server
}

// New creates a new server instance and wires the full service graph
func New(cfg *config.Config, st *store.Store) *Server {
	repos := store.NewRepositories(st)
	client := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.StreamBaseURL, cfg.Backend.RequestTimeout)
	gate := access.NewGate(client)
	monitor := netmon.NewMonitor(client.Reachable)
	persistence := progress.NewPersistence(client, repos.ProgressQueue, monitor.Online, cfg.Player.SyncInterval)
	dispatcher := player.NewDispatcher()
	engine := player.NewEngine(cfg.Player, client, gate, persistence, monitor, repos, dispatcher)
	orchestrator := download.NewOrchestrator(client, gate, cfg.Download.Dir)

	// Denied-access prompts and download lifecycle flow out as events
	engine.SetUpgradePromptHandler(func(message string) {
		dispatcher.Publish(player.Event{
			Type:    player.EventPlaybackError,
			Payload: map[string]string{"reason": "access_denied", "message": message},
		})
	})
	orchestrator.SetCallbacks(download.Callbacks{
		OnProgress: func(job download.Job) {
			dispatcher.Publish(player.Event{Type: player.EventDownloadProgress, Payload: job})
		},
		OnComplete: func(job download.Job) {
			dispatcher.Publish(player.Event{Type: player.EventDownloadComplete, Payload: job})
		},
		OnError: func(job download.Job) {
			dispatcher.Publish(player.Event{Type: player.EventDownloadFailed, Payload: job})
		},
	})

	return &Server{
		config:       cfg,
		store:        st,
		repos:        repos,
		client:       client,
		gate:         gate,
		monitor:      monitor,
		persistence:  persistence,
		dispatcher:   dispatcher,
		engine:       engine,
		orchestrator: orchestrator,
	}
}

// Engine exposes the playback engine, mainly for shutdown hooks
func (s *Server) Engine() *player.Engine {
	return s.engine
}

// setupRouter initializes the Gin router with middleware and routes
func (s *Server) setupRouter() {
	if s.config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()

	s.router.Use(middleware.RequestLogger())
	s.router.Use(gin.Recovery())
	s.router.Use(cors.Default())

	apiGroup := s.router.Group("/api")

	api.SetupHealthRoutes(apiGroup, s.store, s.monitor)
	api.SetupPlayerRoutes(apiGroup, s.engine)
	api.SetupDownloadRoutes(apiGroup, s.orchestrator)
	api.SetupEventRoutes(apiGroup, s.dispatcher)
}

// Start starts the background services and the HTTP server
func (s *Server) Start() error {
	s.setupRouter()

	s.monitor.Start()
	if err := s.engine.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start playback engine: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.server = &http.Server{
		Addr:           addr,
		Handler:        s.router,
		ReadTimeout:    s.config.Server.ReadTimeout,
		WriteTimeout:   s.config.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	logger.Log.Info().
		Str("host", s.config.Server.Host).
		Int("port", s.config.Server.Port).
		Msg("Starting control API server")

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server. The engine stops first so its
// final progress beacon goes out while the network stack is still up.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Log.Info().Msg("Shutting down server gracefully")

	s.engine.Stop(ctx)
	s.monitor.Stop()

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
	}

	if err := s.store.Close(); err != nil {
		return fmt.Errorf("store close failed: %w", err)
	}

	logger.Log.Info().Msg("Server shutdown complete")
	return nil
}
