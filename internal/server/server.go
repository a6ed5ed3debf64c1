// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/bidbox/internal/chain"
	"github.com/mbd888/bidbox/internal/config"
	"github.com/mbd888/bidbox/internal/health"
	"github.com/mbd888/bidbox/internal/logging"
	"github.com/mbd888/bidbox/internal/messages"
	"github.com/mbd888/bidbox/internal/metrics"
	"github.com/mbd888/bidbox/internal/payment"
	"github.com/mbd888/bidbox/internal/pricing"
	"github.com/mbd888/bidbox/internal/ratelimit"
	"github.com/mbd888/bidbox/internal/realtime"
	"github.com/mbd888/bidbox/internal/registry"
	"github.com/mbd888/bidbox/internal/reputation"
	"github.com/mbd888/bidbox/internal/security"
	"github.com/mbd888/bidbox/internal/token"
	"github.com/mbd888/bidbox/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

const (
	// rpcBreakerThreshold consecutive RPC failures open the chain circuit.
	rpcBreakerThreshold = 5
	// rpcBreakerOpenFor is how long the circuit rejects before probing.
	rpcBreakerOpenFor = 30 * time.Second
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	adapter      chain.Adapter
	asset        token.Asset
	messageStore messages.Store
	messageSvc   *messages.Service
	sweeper      *messages.Sweeper
	registrySvc  *registry.Service
	reputation   *reputation.Service
	pricingSvc   *pricing.Service
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	healthReg    *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAdapter sets a custom chain adapter (for testing)
func WithAdapter(a chain.Adapter) Option {
	return func(s *Server) {
		s.adapter = a
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		asset: token.Asset{
			ChainID:  cfg.ChainID,
			Address:  cfg.TokenContract,
			Symbol:   cfg.TokenSymbol,
			Decimals: cfg.TokenDecimals,
		},
	}

	// Apply options first (may set adapter/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		repStore reputation.Store
		regStore registry.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.messageStore = messages.NewPostgresStore(db)
		repStore = reputation.NewPostgresStore(db)
		regStore = registry.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.messageStore = messages.NewMemoryStore()
		repStore = reputation.NewMemoryStore()
		regStore = registry.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Create chain adapter if not injected
	if s.adapter == nil {
		adapter, err := chain.NewEVM(chain.Config{
			RPCURL:              cfg.RPCURL,
			PrivateKey:          cfg.PrivateKey,
			ChainID:             cfg.ChainID,
			TokenContract:       cfg.TokenContract,
			TokenName:           cfg.TokenName,
			TokenVersion:        cfg.TokenVersion,
			ConfirmationTimeout: cfg.SettleTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create chain adapter: %w", err)
		}
		// Fail fast when the RPC endpoint is down instead of stalling
		// every accept for the full confirmation timeout.
		s.adapter = chain.NewGuarded(adapter, rpcBreakerThreshold, rpcBreakerOpenFor)
		s.logger.Info("chain adapter connected",
			"chain_id", cfg.ChainID, "token", cfg.TokenContract)
	}

	// Create realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	// Wire services: registry resolves recipients, reputation consumes every
	// escrow transition, pricing reads bid samples, realtime gets notified.
	s.registrySvc = registry.NewService(regStore)
	s.reputation = reputation.NewService(repStore)
	s.messageSvc = messages.NewService(s.messageStore, s.adapter).
		WithRecorder(s.reputation).
		WithNotifier(s.realtimeHub)
	s.pricingSvc = pricing.NewService(s.messageStore, s.registrySvc)
	s.sweeper = messages.NewSweeper(s.messageSvc, s.messageStore, cfg.SweepInterval, s.logger)

	// Health checks
	s.healthReg = health.NewRegistry()
	if s.db != nil {
		db := s.db
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}
	s.healthReg.Register("sweeper", func(ctx context.Context) health.Status {
		return health.Status{Name: "sweeper", Healthy: s.sweeper.Running()}
	})

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	limitCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		limitCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
	}
	s.rateLimiter = ratelimit.New(limitCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/healthz", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :address URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.AddressParamMiddleware())

	// WebSocket for real-time escrow transition streaming
	v1.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// Escrowed messaging: commit, open, accept, decline, reply, inbox
	issuer := payment.NewIssuer([]byte(s.cfg.NonceSecret))
	verifier := payment.NewVerifier(s.adapter, s.logger)
	messages.NewHandler(s.messageSvc, issuer, verifier, s.registrySvc, s.asset).RegisterRoutes(v1)

	// Recipient profiles (usernames, minimum bids)
	registry.NewHandler(s.registrySvc).RegisterRoutes(v1)

	// Reputation snapshots, vouches, blocks
	reputation.NewHandler(s.reputation).RegisterRoutes(v1)

	// Bid guidance
	pricing.NewHandler(s.pricingSvc).RegisterRoutes(v1)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	ok, statuses := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "BidBox",
		"description": "Deferred-settlement escrow for paid messages",
		"version":     "0.1.0",
		"chainId":     s.cfg.ChainID,
		"currency":    s.asset.Symbol,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start expiry sweeper
	go s.sweeper.Start(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, sweeper)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop expiry sweeper
	s.sweeper.Stop()
	s.logger.Info("expiry sweeper stopped")

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close chain adapter connection if it holds one
	if closer, ok := s.adapter.(interface{ Close() }); ok {
		closer.Close()
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
