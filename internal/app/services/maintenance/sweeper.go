// Package maintenance runs the background housekeeping jobs: periodic
// sweeps of the in-memory render cache and a daily template inventory
// report.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/blackroad/roadtemplates/internal/app/storage"
	"github.com/blackroad/roadtemplates/internal/app/system"
	"github.com/blackroad/roadtemplates/pkg/logger"
)

var _ system.Service = (*Sweeper)(nil)

// CacheSweeper removes expired cache entries and reports how many were
// dropped.
type CacheSweeper interface {
	SweepExpired() int
}

// Sweeper schedules housekeeping jobs with cron expressions.
type Sweeper struct {
	cache      CacheSweeper
	store      storage.TemplateStore
	log        *logger.Logger
	sweepSpec  string
	reportSpec string

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewSweeper creates a lifecycle-managed sweeper. Either dependency may be
// nil; the corresponding job is skipped.
func NewSweeper(cache CacheSweeper, store storage.TemplateStore, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("maintenance")
	}
	return &Sweeper{
		cache:      cache,
		store:      store,
		log:        log,
		sweepSpec:  "@hourly",
		reportSpec: "@daily",
	}
}

// WithSchedules overrides the cron specs for the sweep and report jobs.
// Call before Start.
func (s *Sweeper) WithSchedules(sweepSpec, reportSpec string) *Sweeper {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sweepSpec != "" {
		s.sweepSpec = sweepSpec
	}
	if reportSpec != "" {
		s.reportSpec = reportSpec
	}
	return s
}

func (s *Sweeper) Name() string { return "maintenance-sweeper" }

func (s *Sweeper) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New()
	if s.cache != nil {
		if _, err := c.AddFunc(s.sweepSpec, s.sweepExpired); err != nil {
			return fmt.Errorf("schedule cache sweep %q: %w", s.sweepSpec, err)
		}
	}
	if s.store != nil {
		if _, err := c.AddFunc(s.reportSpec, s.reportInventory); err != nil {
			return fmt.Errorf("schedule inventory report %q: %w", s.reportSpec, err)
		}
	}
	c.Start()

	s.cron = c
	s.running = true
	s.log.WithField("sweep", s.sweepSpec).WithField("report", s.reportSpec).Info("maintenance sweeper started")
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	// Stop returns a context that completes once running jobs finish.
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("maintenance sweeper stopped")
	return nil
}

func (s *Sweeper) sweepExpired() {
	removed := s.cache.SweepExpired()
	if removed > 0 {
		s.log.WithField("removed", removed).Info("expired render cache entries swept")
	}
}

func (s *Sweeper) reportInventory() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tpls, err := s.store.ListTemplates(ctx)
	if err != nil {
		s.log.WithError(err).Warn("template inventory report failed")
		return
	}

	byType := make(map[string]int)
	for _, tpl := range tpls {
		byType[string(tpl.Type)]++
	}
	s.log.WithField("total", len(tpls)).WithField("by_type", byType).Info("template inventory")
}
