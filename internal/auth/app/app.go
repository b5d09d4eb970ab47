package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aussiebroadwan/erp/internal/auth/audit"
	httpapi "github.com/aussiebroadwan/erp/internal/auth/http"
	"github.com/aussiebroadwan/erp/internal/auth/service"
	"github.com/aussiebroadwan/erp/internal/auth/session"
	"github.com/aussiebroadwan/erp/internal/auth/store"
	"github.com/aussiebroadwan/erp/internal/auth/store/drivers/postgres"
	"github.com/aussiebroadwan/erp/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/erp/pkg/cryptox"
	"github.com/aussiebroadwan/erp/pkg/httpx"
	"github.com/aussiebroadwan/erp/pkg/jwtx"
	"github.com/aussiebroadwan/erp/pkg/metrics"
	"github.com/aussiebroadwan/erp/pkg/redisx"
	"github.com/aussiebroadwan/erp/pkg/slogx"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the auth service application with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db       store.Store
	redis    *redis.Client // nil without REDIS_URL
	sessions session.Store
	limiter  httpx.Limiter
	registry *prometheus.Registry
	audit    audit.Sink

	// Services
	tokenService        *service.TokenService
	authService         *service.AuthService
	userService         *service.UserService
	bootstrapService    *service.BootstrapService
	housekeepingService *service.HousekeepingService

	// HTTP server
	server  *http.Server
	router  *httpapi.Router
	running bool
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "auth-service",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
		registry: metrics.NewRegistry(),
	}
	app.audit = audit.NewLogger(app.logger, app.registry)

	ctx := context.Background()

	if err := app.initDatabase(ctx); err != nil {
		return nil, err
	}
	if err := app.initSessions(ctx); err != nil {
		_ = app.db.Close()
		return nil, err
	}
	if err := app.initServices(); err != nil {
		_ = app.closeBackends()
		return nil, err
	}
	if err := app.initHTTP(); err != nil {
		_ = app.closeBackends()
		return nil, err
	}

	return app, nil
}

// Handler returns the fully wired HTTP handler.
func (app *Application) Handler() http.Handler { return app.router }

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	// Start housekeeping service
	app.housekeepingService.Start()
	app.running = true

	app.logger.Info("auth service starting", "port", app.cfg.Port, "version", BuildVersion)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a shutdown signal or server error
	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		// Perform graceful shutdown
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth service...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if app.running {
		// Shutdown the HTTP server
		if err := app.server.Shutdown(ctx); err != nil {
			app.logger.Error("graceful server shutdown failed", "error", err)
			if err := app.server.Close(); err != nil {
				app.logger.Error("error closing server", "error", err)
			}
		}

		// Stop the housekeeping service
		app.housekeepingService.Stop()
	}

	if err := app.closeBackends(); err != nil {
		return err
	}

	app.logger.Info("auth service stopped")
	return nil
}

func (app *Application) closeBackends() error {
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("error closing redis", "error", err)
		}
	}

	// Close database connection
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}
	return nil
}

// initDatabase opens the configured driver and applies migrations
func (app *Application) initDatabase(ctx context.Context) error {
	var (
		db  store.Store
		err error
	)
	switch app.cfg.DatabaseDriver {
	case "postgres":
		db, err = postgres.NewStore(ctx, app.cfg.DatabaseURL)
	default:
		db, err = sqlite.NewStore(sqliteDSN(app.cfg.DatabaseURL))
	}
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully", "driver", app.cfg.DatabaseDriver)
	return nil
}

// sqliteDSN turns a bare file path into a DSN with a busy timeout and WAL.
func sqliteDSN(path string) string {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
}

// initSessions connects redis when configured. Without it sessions and rate
// limits are process local, which only suits a single instance.
func (app *Application) initSessions(ctx context.Context) error {
	limits := httpx.RateLimitConfig{
		MaxAttempts: app.cfg.RateLimitMaxAttempts,
		Window:      app.cfg.RateLimitWindow,
	}

	if app.cfg.RedisURL == "" {
		app.sessions = session.NewMemoryStore()
		app.limiter = httpx.NewMemoryLimiter(limits)
		app.logger.Warn("REDIS_URL not set, using in-memory sessions and rate limits")
		return nil
	}

	client, err := redisx.Connect(ctx, app.cfg.RedisURL)
	if err != nil {
		return err
	}
	app.redis = client
	app.sessions = session.NewRedisStore(client)
	app.limiter = httpx.NewRedisLimiter(client, limits, "ratelimit")
	app.logger.Info("redis connected")
	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices() error {
	secret := app.cfg.JWTSecret
	if secret == "" {
		// Validate refuses this in prod.
		generated, err := cryptox.GenerateToken(cryptox.TokenSize256)
		if err != nil {
			return fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		secret = generated
		app.logger.Warn("JWT_SECRET not set, using an ephemeral secret; tokens will not survive a restart")
	}

	signer, err := jwtx.NewHS256([]byte(secret), jwtx.VerifyOptions{Issuer: app.cfg.JWTIssuer})
	if err != nil {
		return fmt.Errorf("failed to initialize JWT signer: %w", err)
	}

	app.tokenService = &service.TokenService{
		Signer:               signer,
		Store:                app.db,
		Issuer:               app.cfg.JWTIssuer,
		AccessTTL:            app.cfg.AccessTokenTTL,
		RememberMeAccessTTL:  app.cfg.RememberMeAccessTTL,
		RefreshTTL:           app.cfg.RefreshTokenTTL,
		RememberMeRefreshTTL: app.cfg.RememberMeRefreshTTL,
	}

	app.authService = &service.AuthService{
		Store:           app.db,
		Tokens:          app.tokenService,
		Sessions:        app.sessions,
		Notifier:        service.LogNotifier{ExposeTokens: app.cfg.ExposeTokens && !app.cfg.IsProd()},
		Audit:           app.audit,
		BcryptCost:      app.cfg.BcryptCost,
		ResetTTL:        app.cfg.PasswordResetTTL,
		VerificationTTL: app.cfg.EmailVerificationTTL,
	}
	app.userService = &service.UserService{
		Store:      app.db,
		Sessions:   app.sessions,
		Audit:      app.audit,
		BcryptCost: app.cfg.BcryptCost,
	}
	app.bootstrapService = &service.BootstrapService{
		Store:      app.db,
		Token:      app.cfg.BootstrapToken,
		BcryptCost: app.cfg.BcryptCost,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
	return nil
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() error {
	trusted, err := httpx.ParseTrustedProxies(app.cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("failed to parse trusted proxies: %w", err)
	}

	router := httpapi.NewRouter(httpapi.RouterConfig{
		BuildVersion:   BuildVersion,
		Store:          app.db,
		Sessions:       app.sessions,
		Tokens:         app.tokenService,
		Logger:         app.logger,
		Audit:          app.audit,
		Limiter:        app.limiter,
		Registry:       app.registry,
		RequestTimeout: app.cfg.RequestTimeout,
		ExposeErrors:   !app.cfg.IsProd(),
		TrustedProxies: trusted,
	})

	// Wire services to router
	router.AuthService = app.authService
	router.UserService = app.userService
	router.BootstrapService = app.bootstrapService
	router.ApplyRoutes()

	app.router = router

	// Initialize HTTP server
	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
	return nil
}
