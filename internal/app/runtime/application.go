// Package runtime assembles the server process: configuration, stores,
// cache, services, the middleware chain and the HTTP listener.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	app "github.com/blackroad/roadtemplates/internal/app"
	"github.com/blackroad/roadtemplates/internal/app/auth"
	"github.com/blackroad/roadtemplates/internal/app/cache"
	"github.com/blackroad/roadtemplates/internal/app/httpapi"
	"github.com/blackroad/roadtemplates/internal/app/metrics"
	"github.com/blackroad/roadtemplates/internal/app/services/templates"
	"github.com/blackroad/roadtemplates/internal/app/storage/postgres"
	"github.com/blackroad/roadtemplates/internal/config"
	"github.com/blackroad/roadtemplates/internal/middleware"
	"github.com/blackroad/roadtemplates/internal/platform/database"
	"github.com/blackroad/roadtemplates/internal/platform/migrations"
	"github.com/blackroad/roadtemplates/pkg/logger"
)

// Application wires the configured dependencies and manages the HTTP
// server lifecycle.
type Application struct {
	cfg    *config.Config
	log    *logger.Logger
	app    *app.Application
	server *http.Server

	db          *sql.DB
	auditFile   *httpapi.FileAuditSink
	stopCleanup chan struct{}
}

// NewApplication constructs the runtime from the layered configuration.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewApplicationWithConfig(cfg)
}

// NewApplicationWithConfig constructs the runtime from an explicit
// configuration.
func NewApplicationWithConfig(cfg *config.Config) (*Application, error) {
	log := logger.New(cfg.Logging)

	var (
		stores app.Stores
		db     *sql.DB
	)
	if cfg.Database.DSN != "" {
		var err error
		db, err = database.Open(context.Background(), cfg.Database.DSN, database.Config{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetimeSec) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if cfg.Database.AutoMigrate {
			if err := migrations.Up(db); err != nil {
				closeDB(db)
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
		store := postgres.New(db)
		stores = app.Stores{Templates: store, ScriptFilters: store}
		log.Info("using postgres template store")
	} else {
		log.Info("using in-memory template store")
	}

	// A nil render cache falls back to the in-memory cache inside app.New.
	var renderCache cache.Cache
	if strings.EqualFold(cfg.Cache.Backend, "redis") {
		redisCache, err := cache.NewRedis(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err != nil {
			closeDB(db)
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		renderCache = redisCache
		log.WithField("addr", cfg.Cache.RedisAddr).Info("using redis render cache")
	}

	application, err := app.New(stores, app.Options{
		RenderCache: renderCache,
		Templates: templates.Config{
			DefaultLocale:   cfg.Templates.DefaultLocale,
			CacheTTL:        cfg.Cache.CacheTTL(),
			ScriptTimeout:   cfg.Templates.ScriptTimeout(),
			SeedBuiltin:     cfg.Templates.SeedBuiltin,
			Globals:         cfg.Templates.Globals,
			LocaleFallbacks: cfg.Templates.LocaleFallbacks,
		},
		Maintenance: app.MaintenanceOptions{
			Enabled:        cfg.Maintenance.Enabled,
			SweepSchedule:  cfg.Maintenance.SweepSchedule,
			ReportSchedule: cfg.Maintenance.ReportSchedule,
		},
	}, log)
	if err != nil {
		closeDB(db)
		return nil, fmt.Errorf("build application: %w", err)
	}

	authManager := auth.NewManager(auth.Config{
		Secret:       cfg.Auth.JWTSecret,
		TokenTTL:     cfg.Auth.TokenTTL(),
		Users:        cfg.Auth.Users,
		StaticTokens: cfg.Auth.StaticTokens,
	}, log)

	fileSink, err := httpapi.NewFileAuditSink(cfg.Audit.File)
	if err != nil {
		closeDB(db)
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	var sinks []httpapi.AuditSink
	if fileSink != nil {
		sinks = append(sinks, fileSink)
	}
	if db != nil {
		sinks = append(sinks, httpapi.NewPostgresAuditSink(db))
	}
	audit := httpapi.NewAuditLog(cfg.Audit.MaxEntries, httpapi.CombineAuditSinks(sinks...))

	handler := httpapi.NewHandler(application, httpapi.Options{
		Auth:  authManager,
		Audit: audit,
		Log:   log,
	})

	// Assembled inside out. Authentication runs before rate limiting so
	// the limiter can key on the authenticated user; CORS runs before
	// authentication so preflight requests need no credentials.
	chain := http.Handler(handler)
	var stopCleanup chan struct{}
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
		stopCleanup = make(chan struct{})
		limiter.StartCleanup(10*time.Minute, stopCleanup)
		chain = limiter.Handler(chain)
	}
	chain = middleware.NewAuthMiddleware(authManager, log, []string{"/healthz", "/metrics", "/v1/auth/login"}).Handler(chain)
	chain = middleware.NewCORSMiddleware(cfg.Server.Origins()).Handler(chain)
	chain = middleware.NewRequestIDMiddleware(log).Handler(chain)
	chain = metrics.InstrumentHandler(chain)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      chain,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}

	return &Application{
		cfg:         cfg,
		log:         log,
		app:         application,
		server:      server,
		db:          db,
		auditFile:   fileSink,
		stopCleanup: stopCleanup,
	}, nil
}

// App returns the composed application services.
func (a *Application) App() *app.Application { return a.app }

// Handler returns the fully wrapped HTTP handler.
func (a *Application) Handler() http.Handler { return a.server.Handler }

// Addr returns the configured listen address.
func (a *Application) Addr() string { return a.server.Addr }

// Run starts the services and the HTTP listener, blocking until the
// context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

// Shutdown stops the listener, the services and the owned resources.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var firstErr error
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		firstErr = err
	}
	if err := a.app.Stop(shutdownCtx); err != nil && firstErr == nil {
		firstErr = err
	}
	if a.stopCleanup != nil {
		close(a.stopCleanup)
		a.stopCleanup = nil
	}
	if err := a.auditFile.Close(); err != nil {
		a.log.WithError(err).Warn("error closing audit file")
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return firstErr
}

func closeDB(db *sql.DB) {
	if db != nil {
		_ = db.Close()
	}
}
