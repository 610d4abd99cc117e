// Package runtime wires configuration into a running savingsd process.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	app "github.com/R3E-Network/savings_layer/internal/app"
	"github.com/R3E-Network/savings_layer/internal/app/httpapi"
	"github.com/R3E-Network/savings_layer/internal/app/idempotency"
	"github.com/R3E-Network/savings_layer/internal/app/storage"
	"github.com/R3E-Network/savings_layer/internal/app/storage/postgres"
	"github.com/R3E-Network/savings_layer/internal/config"
	"github.com/R3E-Network/savings_layer/internal/middleware"
	"github.com/R3E-Network/savings_layer/internal/platform/migrations"
	"github.com/R3E-Network/savings_layer/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg     *config.Config
	log     *logger.Logger
	app     *app.Application
	db      *sqlx.DB
	redis   *redis.Client
	limiter *middleware.RateLimiter
	handler http.Handler
	server  *http.Server
}

// NewApplication constructs the process from cfg. A nil log is built from
// cfg.Logging.
func NewApplication(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.New(cfg.Logging.Logger("savingsd"))
	}
	a := &Application{cfg: cfg, log: log}

	var store storage.Store
	if cfg.Database.DSN != "" {
		db, err := openDatabase(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.db = db
		if cfg.Database.MigrateOnStart {
			if err := migrations.Apply(ctx, db); err != nil {
				a.closeBackends()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			log.Info("database migrations applied")
		}
		store = postgres.New(db)
	}

	application, err := app.New(store, log, app.Options{
		DefaultTvlCap:  cfg.Treasury.DefaultTvlCap,
		ReportSchedule: cfg.Treasury.ReportSchedule,
	})
	if err != nil {
		a.closeBackends()
		return nil, err
	}
	a.app = application

	var cache idempotency.Cache
	if cfg.Redis.Addr != "" {
		client, err := idempotency.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.closeBackends()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redis = client
		cache = idempotency.NewRedisCache(client, cfg.Redis.KeyPrefix, cfg.Redis.IdempotencyTTL)
	} else {
		log.Warn("REDIS_ADDR not set; idempotency keys are kept in process memory")
		cache = idempotency.NewMemoryCache(cfg.Redis.IdempotencyTTL)
	}

	if cfg.RateLimit.RequestsPerSecond > 0 {
		a.limiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log.Named("ratelimit"))
	}

	opts := httpapi.Options{
		Auth:        middleware.NewAuthMiddleware([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, log.Named("auth"), httpapi.PublicPaths),
		RateLimiter: a.limiter,
		Idempotency: cache,
		Tracing:     middleware.NewTracingMiddleware(log.Named("http")),
		Health:      a.health,
		Logger:      log.Named("httpapi"),
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		opts.CORS = middleware.NewCORSMiddleware(cfg.Server.CORSOrigins)
	}
	a.handler = httpapi.NewHandler(application.Savings, opts)
	a.server = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      a.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return a, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *Application) Handler() http.Handler {
	return a.handler
}

// App returns the composed application.
func (a *Application) App() *app.Application {
	return a.app
}

// Run starts background services and the HTTP server and blocks until the
// context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	if a.limiter != nil && a.cfg.RateLimit.IdleTimeout > 0 {
		a.limiter.StartCleanup(ctx, a.cfg.RateLimit.IdleTimeout)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server, background services and
// backend connections.
func (a *Application) Shutdown(ctx context.Context) error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	a.closeBackends()
	return errors.Join(errs...)
}

func (a *Application) health(ctx context.Context) error {
	if a.db != nil {
		if err := a.db.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (a *Application) closeBackends() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
		a.redis = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
		a.db = nil
	}
}

// OpenDatabase opens and pings a Postgres pool. It is shared with the CLI.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	return openDatabase(ctx, cfg)
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database dsn not configured")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
