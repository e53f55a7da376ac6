package server

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentpass/agentpass/backend/internal/api/http"
	"github.com/agentpass/agentpass/backend/internal/api/middleware"
	"github.com/agentpass/agentpass/backend/internal/api/ws"
	"github.com/agentpass/agentpass/backend/internal/domain/approval"
	"github.com/agentpass/agentpass/backend/internal/domain/escalation"
	"github.com/agentpass/agentpass/backend/internal/domain/relay"
	"github.com/agentpass/agentpass/backend/internal/domain/stream"
	"github.com/agentpass/agentpass/backend/internal/infrastructure/config"
	"github.com/agentpass/agentpass/backend/internal/infrastructure/logging"
	"github.com/agentpass/agentpass/backend/internal/infrastructure/monitoring"
	"github.com/agentpass/agentpass/backend/internal/infrastructure/tracing"
	"github.com/agentpass/agentpass/backend/internal/page"
	"github.com/agentpass/agentpass/backend/internal/persistence"
	"github.com/agentpass/agentpass/backend/internal/webhook"
)

// Server wraps the HTTP server and the components it must shut down
type Server struct {
	router  *gin.Engine
	streams *stream.Channel
	relay   *relay.Table
	driver  *page.Driver
	logger  *logging.Logger
	config  *config.Config
}

// NewServer creates a new gateway instance
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		logger = logging.NewDevelopment()
		logger.Warn("invalid log config, using development logger", zap.String("level", cfg.Logging.Level))
	}

	logger.Info("Initializing AgentPass gateway",
		zap.String("port", cfg.Server.Port),
		zap.String("platform", cfg.API.BaseURL),
		zap.String("relay", cfg.Relay.URL),
	)

	// Metrics first; every other component hangs its counters off this.
	metrics := monitoring.NewMetrics()
	tracer := tracing.New("gateway", logger.Logger)

	platform := persistence.New(cfg.API, logger).WithMetrics(metrics)
	notifier := webhook.New(cfg.Webhook, logger).WithMetrics(metrics)

	driver := page.NewDriver(cfg.Browser, logger)
	if cfg.Browser.ControlURL != "" {
		connectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := driver.Connect(connectCtx); err != nil {
			logger.Warn("browser not reachable yet, will retry on first attach",
				zap.String("control_url", cfg.Browser.ControlURL),
				zap.Error(err))
		} else {
			logger.Info("Connected to agent browser", zap.String("control_url", cfg.Browser.ControlURL))
		}
		cancel()
	}

	relayTable := relay.NewTable(logger).WithMetrics(metrics)
	streams := stream.NewChannel(stream.DefaultConfig(cfg.Relay.URL), platform, logger).WithMetrics(metrics)

	escalations := escalation.NewCoordinator(escalation.Config{
		Timeout:      cfg.Escalation.Timeout(),
		PollInterval: cfg.Escalation.PollInterval(),
		DashboardURL: cfg.Dashboard.BaseURL,
	}, platform, notifier, logger).
		WithStreamer(streams).
		WithMetrics(metrics)

	policy := approval.NewPolicy()
	if cfg.Policy.File != "" {
		if err := policy.LoadFile(cfg.Policy.File); err != nil {
			logger.Warn("domain policy file not loaded", zap.String("file", cfg.Policy.File), zap.Error(err))
		} else {
			logger.Info("Domain policy loaded",
				zap.String("file", cfg.Policy.File),
				zap.Int("domains", len(policy.Domains())))
		}
	}
	approvals := approval.NewCoordinator(approval.Config{
		Timeout:      cfg.Approval.Timeout(),
		DashboardURL: cfg.Dashboard.BaseURL,
	}, policy, notifier, logger).WithMetrics(metrics)

	// Create router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DashboardCORSConfig(cfg.Dashboard.BaseURL)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	// Create handlers
	handlers := http.NewHandlers(escalations, approvals, streams, relayTable, driver, logger).WithMetrics(metrics)
	wsHandler := ws.NewHandler(relayTable, logger).WithMetrics(metrics)

	// Register routes
	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)

	// Escalations
	router.POST("/escalations", handlers.Escalate)
	router.GET("/escalations/:id", handlers.GetEscalation)
	router.POST("/escalations/:id/resolve", handlers.ResolveEscalation)
	router.GET("/escalations/:id/wait", handlers.WaitForEscalation)

	// Approvals
	router.POST("/approvals", handlers.RequestApproval)
	router.GET("/approvals/:id", handlers.GetApproval)
	router.POST("/approvals/:id/respond", handlers.RespondApproval)

	// Domain policy
	router.GET("/permissions", handlers.ListPermissions)
	router.GET("/permissions/:domain", handlers.GetPermission)
	router.PUT("/permissions/:domain", handlers.SetPermission)

	// Live view
	router.GET("/ws/live/:session_id", wsHandler.HandleLive)
	router.GET("/live/:session_id/status", handlers.LiveStatus)
	router.POST("/live/:session_id/stop", handlers.StopLiveSession)

	// Metrics endpoint
	router.GET("/metrics", gin.WrapH(monitoring.Handler()))

	logger.Info("Gateway initialized successfully")

	return &Server{
		router:  router,
		streams: streams,
		relay:   relayTable,
		driver:  driver,
		logger:  logger,
		config:  cfg,
	}, nil
}

// Run starts the HTTP server
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("Starting HTTP server", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Close gracefully shuts down the gateway. Streaming sessions are stopped
// first so their platform records are closed; the agent's pages stay open.
func (s *Server) Close() error {
	s.logger.Info("Shutting down gateway...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.streams.StopAll(ctx)

	// Drop any viewer sockets still attached to the relay.
	for _, sessionID := range s.relay.Sessions() {
		s.relay.Cleanup(sessionID)
	}

	if err := s.driver.Close(); err != nil {
		s.logger.Warn("browser detach failed", zap.Error(err))
	}

	s.logger.Sync()
	return nil
}
