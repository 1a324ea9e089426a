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

	"github.com/conectapro/backend/internal/accounts"
	"github.com/conectapro/backend/internal/auth"
	"github.com/conectapro/backend/internal/config"
	"github.com/conectapro/backend/internal/dashboard"
	"github.com/conectapro/backend/internal/deals"
	"github.com/conectapro/backend/internal/health"
	"github.com/conectapro/backend/internal/ledger"
	"github.com/conectapro/backend/internal/logging"
	"github.com/conectapro/backend/internal/metrics"
	"github.com/conectapro/backend/internal/pricing"
	"github.com/conectapro/backend/internal/purchases"
	"github.com/conectapro/backend/internal/ratelimit"
	"github.com/conectapro/backend/internal/realtime"
	"github.com/conectapro/backend/internal/reconciliation"
	"github.com/conectapro/backend/internal/refunds"
	"github.com/conectapro/backend/internal/requests"
	"github.com/conectapro/backend/internal/security"
	"github.com/conectapro/backend/internal/syncutil"
	"github.com/conectapro/backend/internal/traces"
	"github.com/conectapro/backend/internal/unlock"
	"github.com/conectapro/backend/internal/validation"
	"github.com/conectapro/backend/internal/webhooks"
)

// How often the background ledger sweep runs.
const reconcileInterval = time.Hour

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg            *config.Config
	verifier       *auth.Verifier
	pricing        *pricing.Provider
	ledger         *ledger.Ledger
	accounts       *accounts.Service
	requests       *requests.Service
	unlocks        *unlock.Service
	deals          *deals.Service
	refunds        *refunds.Service
	purchases      *purchases.Service
	reconciler     *reconciliation.Service
	realtimeHub    *realtime.Hub
	webhookStore   webhooks.Store
	dispatcher     *webhooks.Dispatcher
	rateLimiter    *ratelimit.Limiter
	health         *health.Registry
	db             *sql.DB // nil if using in-memory
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	tracesShutdown func(context.Context) error
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run

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

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	// One lock pool shared by unlock, deals and refunds so the same
	// request or unlock key always maps to the same mutex.
	locks := &syncutil.ShardedMutex{}

	// Realtime hub for the ops event feed
	s.realtimeHub = realtime.NewHub(s.logger)

	var (
		pricingStore  pricing.Store
		ledgerStore   ledger.Store
		accountStore  accounts.Store
		requestStore  requests.Store
		unlockStore   unlock.Store
		refundStore   refunds.Store
		webhookStore  webhooks.Store
		ledgerChecker reconciliation.Checker
	)

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
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
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		pricingPg := pricing.NewPostgresStore(db)
		if err := pricingPg.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate pricing store", "error", err)
		}
		pricingStore = pricingPg

		ledgerPg := ledger.NewPostgresStore(db)
		if err := ledgerPg.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate ledger store", "error", err)
		}
		ledgerStore = ledgerPg

		accountPg := accounts.NewPostgresStore(db)
		if err := accountPg.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate accounts store", "error", err)
		}
		accountStore = accountPg

		requestPg := requests.NewPostgresStore(db)
		if err := requestPg.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate requests store", "error", err)
		}
		requestStore = requestPg

		unlockPg := unlock.NewPostgresStore(db)
		if err := unlockPg.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate unlock store", "error", err)
		}
		unlockStore = unlockPg

		refundPg := refunds.NewPostgresStore(db)
		if err := refundPg.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate refunds store", "error", err)
		}
		refundStore = refundPg

		webhookPg := webhooks.NewPostgresStore(db)
		if err := webhookPg.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate webhooks store", "error", err)
		}
		webhookStore = webhookPg

		ledgerChecker = reconciliation.NewPostgresChecker(db)
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")

		pricingStore = pricing.NewMemoryStore()
		ledgerMem := ledger.NewMemoryStore()
		ledgerStore = ledgerMem
		accountStore = accounts.NewMemoryStore()
		requestStore = requests.NewMemoryStore()
		unlockStore = unlock.NewMemoryStore()
		refundStore = refunds.NewMemoryStore()
		webhookStore = webhooks.NewMemoryStore()
		ledgerChecker = reconciliation.NewMemoryChecker(ledgerMem)
	}

	// Outbound webhook deliveries to partner endpoints
	s.webhookStore = webhookStore
	s.dispatcher = webhooks.NewDispatcher(webhookStore, s.logger)

	// Every domain event goes to the ops feed and to partner webhooks
	events := eventFanout{s.realtimeHub, s.dispatcher}

	// Wire services
	s.pricing = pricing.NewProvider(pricingStore)
	s.ledger = ledger.New(ledgerStore)
	s.accounts = accounts.NewService(accountStore, s.ledger)
	s.requests = requests.NewService(requestStore)
	s.unlocks = unlock.NewService(unlockStore, s.ledger, s.pricing, s.requests, locks).
		WithAccountGate(s.accounts).
		WithEvents(events)
	s.refunds = refunds.NewService(refundStore, s.ledger, s.pricing, unlockStore, s.requests, locks).
		WithEvents(events)
	s.deals = deals.NewService(unlockStore, s.refunds, s.requests, locks).
		WithEvents(events)
	s.purchases = purchases.NewService(s.ledger, s.pricing, cfg.StripeWebhookSecret).
		WithEvents(events)
	s.reconciler = reconciliation.NewService(ledgerChecker, s.logger)

	// Actor identity verifier (signature check disabled when no secret set)
	s.verifier = auth.NewVerifier(cfg.APIKeySecret)
	if cfg.APIKeySecret == "" {
		s.logger.Warn("actor signature verification disabled (API_KEY_SECRET not set)")
	}

	// Health checks
	s.health = health.NewRegistry()
	if s.db != nil {
		db := s.db
		s.health.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}
	s.health.Register("pricing", func(ctx context.Context) health.Status {
		if _, err := s.pricing.Get(ctx); err != nil {
			return health.Status{Name: "pricing", Healthy: false, Detail: err.Error()}
		}
		return health.Status{Name: "pricing", Healthy: true}
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

// eventFanout delivers one published event to every configured sink.
type eventFanout []interface{ Publish(eventType string, payload any) }

func (f eventFanout) Publish(eventType string, payload any) {
	for _, sink := range f {
		sink.Publish(eventType, payload)
	}
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

	// CORS (web app and partner portal in production, open in development)
	origins := []string{"https://app.conectapro.com.br", "https://parceiros.conectapro.com.br"}
	if !s.cfg.IsProduction() {
		origins = []string{"*"}
	}
	s.router.Use(security.CORSMiddleware(origins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting (per forwarded actor, per IP when anonymous)
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
	}
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Forwarded actor identity
	s.router.Use(auth.Middleware(s.verifier))

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
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for the real-time ops feed
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	pricingHandler := pricing.NewHandler(s.pricing, s.logger)
	ledgerHandler := ledger.NewHandler(s.ledger, s.logger)
	accountsHandler := accounts.NewHandler(s.accounts, s.logger)
	requestsHandler := requests.NewHandler(s.requests, s.logger)
	unlockHandler := unlock.NewHandler(s.unlocks, s.logger)
	dealsHandler := deals.NewHandler(s.deals, s.logger)
	refundsHandler := refunds.NewHandler(s.refunds, s.logger)
	purchasesHandler := purchases.NewHandler(s.purchases, s.logger)
	reconciliationHandler := reconciliation.NewHandler(s.reconciler, s.logger)
	webhooksHandler := webhooks.NewHandler(s.webhookStore, s.logger)
	dashboardHandler := dashboard.NewHandler(s.requests, s.refunds, s.pricing, s.realtimeHub)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :id URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.IDParamMiddleware())

	// PUBLIC ROUTES (no forwarded actor required)
	// Browse endpoints, registration, the coin package catalog and the
	// Stripe webhook (authenticated by its own signature).
	pricingHandler.RegisterRoutes(v1)
	purchasesHandler.RegisterRoutes(v1)
	accountsHandler.RegisterRoutes(v1)
	requestsHandler.RegisterRoutes(v1)

	// CLIENT ROUTES (posting and canceling service requests)
	clients := v1.Group("")
	clients.Use(auth.RequireActor(), auth.RequireRole(auth.RoleClient))
	requestsHandler.RegisterClientRoutes(clients)

	// PROFESSIONAL ROUTES (everything that spends or moves coins)
	pros := v1.Group("")
	pros.Use(auth.RequireActor(), auth.RequireRole(auth.RoleProfessional))
	unlockHandler.RegisterRoutes(pros)
	dealsHandler.RegisterRoutes(pros)
	refundsHandler.RegisterRoutes(pros)
	ledgerHandler.RegisterRoutes(pros)

	// ADMIN ROUTES (static secret via X-Admin-Secret)
	admin := v1.Group("")
	admin.Use(auth.RequireAdmin(s.cfg.AdminSecret))
	pricingHandler.RegisterAdminRoutes(admin)
	ledgerHandler.RegisterAdminRoutes(admin)
	accountsHandler.RegisterAdminRoutes(admin)
	unlockHandler.RegisterAdminRoutes(admin)
	refundsHandler.RegisterAdminRoutes(admin)
	reconciliationHandler.RegisterAdminRoutes(admin)
	webhooksHandler.RegisterAdminRoutes(admin)
	dashboardHandler.RegisterAdminRoutes(admin)
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

	healthy, statuses := s.health.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
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

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// OTLP tracing (no-op when no endpoint configured)
	shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.tracesShutdown = shutdown
	}

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
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start periodic ledger reconciliation sweep
	go s.reconciler.Run(runCtx, reconcileInterval)

	// Collect database pool stats
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

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

	// Cancel the context for all background goroutines (hub, sweeps)
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

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush pending spans
	if s.tracesShutdown != nil {
		if err := s.tracesShutdown(ctx); err != nil {
			s.logger.Error("traces shutdown error", "error", err)
		}
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

func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
