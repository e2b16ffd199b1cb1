package app

import (
	"context"
	"fmt"

	"github.com/blackroad/roadtemplates/internal/app/cache"
	"github.com/blackroad/roadtemplates/internal/app/services/maintenance"
	templatesvc "github.com/blackroad/roadtemplates/internal/app/services/templates"
	"github.com/blackroad/roadtemplates/internal/app/storage"
	"github.com/blackroad/roadtemplates/internal/app/storage/memory"
	"github.com/blackroad/roadtemplates/internal/app/system"
	"github.com/blackroad/roadtemplates/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Templates     storage.TemplateStore
	ScriptFilters storage.ScriptFilterStore
}

// MaintenanceOptions controls the background sweeper.
type MaintenanceOptions struct {
	Enabled        bool
	SweepSchedule  string
	ReportSchedule string
}

// Options carries optional dependencies and tuning. The zero value runs
// everything in memory.
type Options struct {
	// RenderCache holds rendered output. Nil defaults to the in-memory
	// cache.
	RenderCache cache.Cache
	Templates   templatesvc.Config
	Maintenance MaintenanceOptions
}

// Application ties the services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	cache   cache.Cache

	Templates *templatesvc.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Templates == nil {
		stores.Templates = mem
	}
	if stores.ScriptFilters == nil {
		stores.ScriptFilters = mem
	}

	renderCache := opts.RenderCache
	if renderCache == nil {
		renderCache = cache.NewMemory()
	}

	manager := system.NewManager()

	tplService := templatesvc.New(stores.Templates, stores.ScriptFilters, renderCache, opts.Templates, log)
	if err := manager.Register(tplService); err != nil {
		return nil, fmt.Errorf("register templates service: %w", err)
	}

	if opts.Maintenance.Enabled {
		var sweepable maintenance.CacheSweeper
		if memCache, ok := renderCache.(*cache.Memory); ok {
			sweepable = memCache
		}
		sweeper := maintenance.NewSweeper(sweepable, stores.Templates, log).
			WithSchedules(opts.Maintenance.SweepSchedule, opts.Maintenance.ReportSchedule)
		if err := manager.Register(sweeper); err != nil {
			return nil, fmt.Errorf("register maintenance sweeper: %w", err)
		}
	}

	return &Application{
		manager:   manager,
		log:       log,
		cache:     renderCache,
		Templates: tplService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before
// Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services and releases the render cache.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	if cerr := a.cache.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
