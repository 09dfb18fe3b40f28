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

	"github.com/aussiebroadwan/turnstile/internal/session/geo"
	httpapi "github.com/aussiebroadwan/turnstile/internal/session/http"
	"github.com/aussiebroadwan/turnstile/internal/session/notify"
	"github.com/aussiebroadwan/turnstile/internal/session/service"
	"github.com/aussiebroadwan/turnstile/internal/session/store"
	"github.com/aussiebroadwan/turnstile/internal/session/store/drivers/postgres"
	redisdriver "github.com/aussiebroadwan/turnstile/internal/session/store/drivers/redis"
	"github.com/aussiebroadwan/turnstile/internal/session/store/drivers/sqlite"
	"github.com/aussiebroadwan/turnstile/pkg/cryptox"
	"github.com/aussiebroadwan/turnstile/pkg/slogx"

	goredis "github.com/redis/go-redis/v9"
)

// BuildVersion should be set at build time via ldflags.
const BuildVersion = "v0.1.0"

// Application encapsulates the session service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db    store.Store
	codec *cryptox.Codec

	sessionService      *service.SessionService
	housekeepingService *service.HousekeepingService
	notifier            *notify.Dispatcher

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "turnstile",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	secret, err := cryptox.LoadOrCreateSecret(cfg.SecretKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load secret key: %w", err)
	}
	app.codec, err = cryptox.NewCodec(secret)
	if err != nil {
		return nil, err
	}

	if err := app.initStore(); err != nil {
		return nil, err
	}

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("session service starting",
		"port", app.cfg.Port,
		"driver", app.cfg.StoreDriver,
		"version", BuildVersion,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully stops the server, the sweeper, the notification queue
// and the store, in that order.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down session service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()
	app.notifier.Close()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing store", "error", err)
		return err
	}

	app.logger.Info("session service stopped")
	return nil
}

// initStore selects and connects the configured store driver, then applies
// migrations.
func (app *Application) initStore() error {
	switch app.cfg.StoreDriver {
	case "sqlite", "":
		dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
		db, err := sqlite.NewStore(dsn)
		if err != nil {
			return fmt.Errorf("failed to open sqlite store: %w", err)
		}
		app.db = db

	case "redis":
		if app.cfg.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis store driver")
		}
		client := goredis.NewClient(&goredis.Options{Addr: app.cfg.RedisAddr})
		app.db = redisdriver.NewStore(client, app.cfg.RedisPrefix)

	case "postgres":
		if app.cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store driver")
		}
		db, err := postgres.NewStore(context.Background(), app.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open postgres store: %w", err)
		}
		app.db = db

	default:
		return fmt.Errorf("unknown store driver %q", app.cfg.StoreDriver)
	}

	if err := app.db.ApplyMigrations(); err != nil {
		_ = app.db.Close()
		return fmt.Errorf("failed to apply store migrations: %w", err)
	}

	app.logger.Info("store ready", "driver", app.cfg.StoreDriver)
	return nil
}

func (app *Application) initServices() {
	audit := &service.StoreAuditLog{
		Events: app.db.AuditEvents(),
		Logger: app.logger,
	}

	var resolver geo.Resolver = geo.Static{}
	if app.cfg.GeoEndpoint != "" {
		resolver = geo.NewHTTPResolver(app.cfg.GeoEndpoint, app.logger)
	}

	app.notifier = notify.NewDispatcher(
		notify.SlogSink{Logger: app.logger},
		app.cfg.NotifyBufferSize,
	)

	settings := service.StaticSettings(app.cfg.Settings)

	app.sessionService = &service.SessionService{
		Store:     app.db,
		Codec:     app.codec,
		Audit:     audit,
		Notifier:  app.notifier,
		Suspicion: &service.SuspicionService{Trail: audit, Resolver: resolver},
		Settings:  settings,
		Logger:    app.logger,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		settings,
		app.cfg.HousekeepingInterval,
	)
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(BuildVersion, app.db, app.sessionService, app.logger)
	router.ApplyRoutes()
	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
