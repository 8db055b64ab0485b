package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	httpapi "github.com/rentloop/rentloop/internal/auth/http"
	"github.com/rentloop/rentloop/internal/auth/service"
	"github.com/rentloop/rentloop/internal/auth/store"
	"github.com/rentloop/rentloop/internal/auth/store/drivers/redisq"
	"github.com/rentloop/rentloop/internal/auth/store/drivers/sqlite"
	"github.com/rentloop/rentloop/pkg/cryptox"
	"github.com/rentloop/rentloop/pkg/httpx"
	"github.com/rentloop/rentloop/pkg/slogx"
	"github.com/rentloop/rentloop/pkg/tokenx"
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
	db     store.Store
	replay store.ReplayStore
	codec  *tokenx.Codec

	// Services
	rotationService *service.RotationService
	sessionService  *service.SessionService

	// HTTP server
	server *http.Server
	router *httpapi.Router
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
	}

	// Set pepper path for password hashing
	cryptox.SetPepperPath(app.cfg.PepperFile)

	if err := app.initCodec(); err != nil {
		return nil, err
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	app.initReplayStore()
	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
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

	// Shutdown the HTTP server
	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	// Close the replay store connection
	if err := app.replay.Close(); err != nil {
		app.logger.Error("error closing replay store", "error", err)
	}

	// Close database connection
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("auth service stopped")
	return nil
}

// initCodec sets up the credential codec. Without a configured key every
// restart invalidates all outstanding tokens, which is fine for dev and
// surprising in prod, so the fallback is logged loudly.
func (app *Application) initCodec() error {
	key := app.cfg.SessionKey
	if key == "" {
		key = cryptox.MustGenerateToken(cryptox.TokenSize256)
		app.logger.Warn("AUTH_SESSION_KEY not set, using an ephemeral key; tokens will not survive a restart")
	}

	codec, err := tokenx.NewCodec([]byte(key))
	if err != nil {
		return fmt.Errorf("failed to initialize credential codec: %w", err)
	}
	app.codec = codec
	return nil
}

// initDatabase initializes the database and applies migrations
func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initReplayStore connects the shared session state. Liveness is checked by
// /readyz rather than at startup, so the service can come up before Redis.
func (app *Application) initReplayStore() {
	rdb := redis.NewClient(&redis.Options{
		Addr:     app.cfg.RedisAddr,
		Password: app.cfg.RedisPassword,
	})
	app.replay = redisq.NewReplayStore(rdb)
}

// initServices initializes all business logic services
func (app *Application) initServices() {
	app.rotationService = &service.RotationService{
		Codec:      app.codec,
		Replay:     app.replay,
		RefreshTTL: app.cfg.RefreshTTL,
	}

	app.sessionService = &service.SessionService{
		Store:      app.db,
		Rotation:   app.rotationService,
		Codec:      app.codec,
		AccessTTL:  app.cfg.AccessTTL,
		RefreshTTL: app.cfg.RefreshTTL,
	}
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	limiter := httpx.NewRateLimiter(httpx.RateLimitConfig{
		RequestsPerMinute: app.cfg.RateLimitPerMinute,
		Burst:             app.cfg.RateLimitBurst,
		CleanupInterval:   app.cfg.RateLimitCleanup,
		ExcludePaths:      app.cfg.RateLimitExclude,
	})

	router := httpapi.NewRouter(
		BuildVersion,
		app.db,
		app.replay,
		limiter,
		app.logger,
	)

	// Wire services to router
	router.SessionService = app.sessionService
	router.ApplyRoutes()

	app.router = router

	// Initialize HTTP server
	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
