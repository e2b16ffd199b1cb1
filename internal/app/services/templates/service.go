package templates

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/language"

	"github.com/blackroad/roadtemplates/internal/app/cache"
	coresvc "github.com/blackroad/roadtemplates/internal/app/core/service"
	"github.com/blackroad/roadtemplates/internal/app/domain/template"
	"github.com/blackroad/roadtemplates/internal/app/metrics"
	"github.com/blackroad/roadtemplates/internal/app/storage"
	"github.com/blackroad/roadtemplates/pkg/logger"
)

const (
	// DefaultLocale is used when a template or request names none.
	DefaultLocale = "en"

	// DefaultCacheTTL bounds how long rendered output stays cached.
	DefaultCacheTTL = 5 * time.Minute

	// maxFallbackHops bounds explicit locale fallback chains.
	maxFallbackHops = 8
)

// Config carries the tunables of the template service.
type Config struct {
	DefaultLocale   string
	CacheTTL        time.Duration
	ScriptTimeout   time.Duration
	SeedBuiltin     bool
	Globals         map[string]any
	LocaleFallbacks map[string]string
}

// Service manages templates: registration, lookup with locale
// fallback, rendering with a result cache, previews and the filter
// registry including persisted script filters.
type Service struct {
	store   storage.TemplateStore
	scripts storage.ScriptFilterStore
	cache   cache.Cache
	engine  *Engine
	runner  *ScriptRunner
	log     *logger.Logger

	defaultLocale string
	cacheTTL      time.Duration
	seedBuiltin   bool

	mu        sync.RWMutex
	fallbacks map[string]string
}

// New constructs a template service. The cache may be nil, which
// disables render caching.
func New(store storage.TemplateStore, scripts storage.ScriptFilterStore, renderCache cache.Cache, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("templates")
	}
	if cfg.DefaultLocale == "" {
		cfg.DefaultLocale = DefaultLocale
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}

	engine := NewEngine()
	for name, value := range cfg.Globals {
		engine.SetGlobal(name, value)
	}

	fallbacks := make(map[string]string, len(cfg.LocaleFallbacks))
	for from, to := range cfg.LocaleFallbacks {
		fallbacks[from] = to
	}

	return &Service{
		store:         store,
		scripts:       scripts,
		cache:         renderCache,
		engine:        engine,
		runner:        NewScriptRunner(cfg.ScriptTimeout, log),
		log:           log,
		defaultLocale: cfg.DefaultLocale,
		cacheTTL:      cfg.CacheTTL,
		seedBuiltin:   cfg.SeedBuiltin,
		fallbacks:     fallbacks,
	}
}

// Name implements system.Service.
func (s *Service) Name() string { return "templates" }

// Describe advertises the service for diagnostics surfaces.
func (s *Service) Describe() coresvc.Descriptor {
	d := coresvc.Descriptor{
		Name:         "templates",
		Domain:       "rendering",
		Layer:        coresvc.LayerService,
		Capabilities: []string{"register", "render", "preview", "locales"},
	}
	if s.cache != nil {
		d = d.WithCapabilities("render-cache")
	}
	if s.scripts != nil {
		d = d.WithCapabilities("script-filters")
	}
	return d
}

// Start seeds the builtin catalog when configured and loads persisted
// script filters into the engine.
func (s *Service) Start(ctx context.Context) error {
	if s.seedBuiltin {
		if _, err := s.SeedBuiltinTemplates(ctx); err != nil {
			return err
		}
	}
	return s.LoadScriptFilters(ctx)
}

// Stop implements system.Service.
func (s *Service) Stop(context.Context) error { return nil }

// Register validates and upserts a template. A blank format defaults
// to jinja2 and a blank locale to the service default.
func (s *Service) Register(ctx context.Context, tpl template.Template) (template.Template, error) {
	tpl.ID = strings.TrimSpace(tpl.ID)
	tpl.Name = strings.TrimSpace(tpl.Name)

	if tpl.Name == "" {
		return template.Template{}, fmt.Errorf("name is required")
	}
	if tpl.Body == "" {
		return template.Template{}, fmt.Errorf("body is required")
	}
	if !tpl.Type.Known() {
		return template.Template{}, fmt.Errorf("unknown template type %q", tpl.Type)
	}
	if tpl.Format == "" {
		tpl.Format = template.FormatJinja2
	}
	if !tpl.Format.Known() {
		return template.Template{}, fmt.Errorf("unknown template format %q", tpl.Format)
	}
	if tpl.Locale == "" {
		tpl.Locale = s.defaultLocale
	}
	for i, v := range tpl.Variables {
		if strings.TrimSpace(v.Name) == "" {
			return template.Template{}, fmt.Errorf("variable %d: name is required", i)
		}
		if v.VarType == "" {
			tpl.Variables[i].VarType = "string"
		}
	}

	saved, err := s.store.SaveTemplate(ctx, tpl)
	if err != nil {
		return template.Template{}, err
	}
	s.invalidateRenderCache(ctx, saved.ID, saved.Locale)
	metrics.RecordTemplateSave(string(saved.Type))
	s.log.WithField("template_id", saved.ID).
		WithField("locale", saved.Locale).
		WithField("version", saved.Version).
		Info("template saved")
	return saved, nil
}

// Get fetches a template, walking the locale fallback chain: the
// requested locale, explicit fallbacks, BCP 47 parent locales, then
// the service default.
func (s *Service) Get(ctx context.Context, id, locale string) (template.Template, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return template.Template{}, fmt.Errorf("template id is required")
	}
	locale = strings.TrimSpace(locale)
	if locale == "" {
		locale = s.defaultLocale
	}

	for _, candidate := range s.localeChain(locale) {
		tpl, err := s.store.GetTemplate(ctx, id, candidate)
		if err == nil {
			return tpl, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return template.Template{}, err
		}
	}
	return template.Template{}, fmt.Errorf("template %s (%s): %w", id, locale, storage.ErrNotFound)
}

// Render resolves the template and renders it against the data,
// serving repeated renders from the cache while the template version
// and data are unchanged.
func (s *Service) Render(ctx context.Context, id, locale string, data map[string]any) (template.Rendered, error) {
	tpl, err := s.Get(ctx, id, locale)
	if err != nil {
		return template.Rendered{}, err
	}

	key, cacheable := s.renderCacheKey(tpl, data)
	if cacheable {
		raw, err := s.cache.Get(ctx, key)
		switch {
		case err == nil:
			var out template.Rendered
			if json.Unmarshal(raw, &out) == nil {
				metrics.RecordCacheHit()
				return out, nil
			}
		case errors.Is(err, cache.ErrMiss):
			metrics.RecordCacheMiss()
		default:
			s.log.WithError(err).Warn("render cache read failed")
		}
	}

	start := time.Now()
	out, err := s.engine.Render(tpl, data)
	if err != nil {
		metrics.RecordRender(string(tpl.Format), "error", time.Since(start))
		return template.Rendered{}, err
	}
	metrics.RecordRender(string(tpl.Format), "success", time.Since(start))

	if cacheable {
		if raw, err := json.Marshal(out); err == nil {
			if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil {
				s.log.WithError(err).Warn("render cache write failed")
			}
		}
	}
	return out, nil
}

// Preview renders a template against a context synthesized from its
// variable declarations: example, then default, then a "[name]"
// placeholder. Previews bypass the render cache.
func (s *Service) Preview(ctx context.Context, id, locale string) (template.Rendered, error) {
	tpl, err := s.Get(ctx, id, locale)
	if err != nil {
		return template.Rendered{}, err
	}

	previewCtx := make(map[string]any, len(tpl.Variables))
	for _, v := range tpl.Variables {
		switch {
		case v.Example != nil:
			previewCtx[v.Name] = v.Example
		case v.Default != nil:
			previewCtx[v.Name] = v.Default
		default:
			previewCtx[v.Name] = "[" + v.Name + "]"
		}
	}
	return s.engine.Render(tpl, previewCtx)
}

// Delete removes one locale entry, or every locale when locale is
// empty, and invalidates cached renders.
func (s *Service) Delete(ctx context.Context, id, locale string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("template id is required")
	}
	locale = strings.TrimSpace(locale)

	if err := s.store.DeleteTemplate(ctx, id, locale); err != nil {
		return err
	}
	s.invalidateRenderCache(ctx, id, locale)
	metrics.RecordTemplateDelete()
	s.log.WithField("template_id", id).WithField("locale", locale).Info("template deleted")
	return nil
}

// List returns every stored template.
func (s *Service) List(ctx context.Context) ([]template.Template, error) {
	return s.store.ListTemplates(ctx)
}

// ListByType returns templates of one type.
func (s *Service) ListByType(ctx context.Context, t template.Type) ([]template.Template, error) {
	if !t.Known() {
		return nil, fmt.Errorf("unknown template type %q", t)
	}
	return s.store.ListTemplatesByType(ctx, t)
}

// ListByCategory returns templates carrying the metadata category.
func (s *Service) ListByCategory(ctx context.Context, category string) ([]template.Template, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil, fmt.Errorf("category is required")
	}
	return s.store.ListTemplatesByCategory(ctx, category)
}

// Locales returns the locales a template exists in.
func (s *Service) Locales(ctx context.Context, id string) ([]string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("template id is required")
	}
	return s.store.ListLocales(ctx, id)
}

// SetGlobal sets a variable visible to every render.
func (s *Service) SetGlobal(name string, value any) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("global name is required")
	}
	s.engine.SetGlobal(name, value)
	s.log.WithField("global", name).Info("template global set")
	return nil
}

// SetLocaleFallback maps a locale to the one tried when a template is
// missing in it.
func (s *Service) SetLocaleFallback(from, to string) error {
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" || to == "" {
		return fmt.Errorf("both locales are required")
	}
	if from == to {
		return fmt.Errorf("locale cannot fall back to itself")
	}

	s.mu.Lock()
	s.fallbacks[from] = to
	s.mu.Unlock()
	s.log.WithField("from", from).WithField("to", to).Info("locale fallback set")
	return nil
}

// RegisterFilter adds a Go filter to the engine.
func (s *Service) RegisterFilter(name string, fn FilterFunc) error {
	return s.engine.RegisterFilter(name, fn)
}

// FilterNames lists every filter currently usable in templates, sorted.
func (s *Service) FilterNames() []string {
	return s.engine.FilterNames()
}

// RegisterScriptFilter compiles, persists and activates a JavaScript
// filter.
func (s *Service) RegisterScriptFilter(ctx context.Context, name, source string) (template.ScriptFilter, error) {
	if s.scripts == nil {
		return template.ScriptFilter{}, fmt.Errorf("script filters are not enabled")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return template.ScriptFilter{}, fmt.Errorf("filter name is required")
	}
	source = strings.TrimSpace(source)
	if source == "" {
		return template.ScriptFilter{}, fmt.Errorf("filter source is required")
	}

	fn, err := s.runner.Compile(name, source)
	if err != nil {
		return template.ScriptFilter{}, err
	}
	saved, err := s.scripts.SaveScriptFilter(ctx, template.ScriptFilter{Name: name, Source: source})
	if err != nil {
		return template.ScriptFilter{}, err
	}
	if err := s.engine.RegisterFilter(name, instrumentScriptFilter(fn)); err != nil {
		return template.ScriptFilter{}, err
	}
	s.log.WithField("filter", name).Info("script filter registered")
	return saved, nil
}

// ScriptFilters lists the persisted script filters.
func (s *Service) ScriptFilters(ctx context.Context) ([]template.ScriptFilter, error) {
	if s.scripts == nil {
		return nil, nil
	}
	return s.scripts.ListScriptFilters(ctx)
}

// DeleteScriptFilter removes a script filter from the store and the
// engine.
func (s *Service) DeleteScriptFilter(ctx context.Context, name string) error {
	if s.scripts == nil {
		return fmt.Errorf("script filters are not enabled")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("filter name is required")
	}

	if err := s.scripts.DeleteScriptFilter(ctx, name); err != nil {
		return err
	}
	s.engine.RemoveFilter(name)
	s.log.WithField("filter", name).Info("script filter deleted")
	return nil
}

// LoadScriptFilters compiles every persisted script filter into the
// engine. Filters that no longer compile are skipped with a warning.
func (s *Service) LoadScriptFilters(ctx context.Context) error {
	if s.scripts == nil {
		return nil
	}
	filters, err := s.scripts.ListScriptFilters(ctx)
	if err != nil {
		return fmt.Errorf("list script filters: %w", err)
	}

	loaded := 0
	for _, filter := range filters {
		fn, err := s.runner.Compile(filter.Name, filter.Source)
		if err != nil {
			s.log.WithField("filter", filter.Name).WithError(err).Warn("skipping script filter")
			continue
		}
		if err := s.engine.RegisterFilter(filter.Name, instrumentScriptFilter(fn)); err != nil {
			s.log.WithField("filter", filter.Name).WithError(err).Warn("skipping script filter")
			continue
		}
		loaded++
	}
	if loaded > 0 {
		s.log.WithField("count", loaded).Info("script filters loaded")
	}
	return nil
}

// SeedBuiltinTemplates stores the builtin catalog entries that are not
// already present, leaving existing entries untouched.
func (s *Service) SeedBuiltinTemplates(ctx context.Context) (int, error) {
	seeded := 0
	for _, tpl := range BuiltinTemplates() {
		_, err := s.store.GetTemplate(ctx, tpl.ID, tpl.Locale)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return seeded, err
		}
		if _, err := s.store.SaveTemplate(ctx, tpl); err != nil {
			return seeded, fmt.Errorf("seed template %s: %w", tpl.ID, err)
		}
		seeded++
	}
	if seeded > 0 {
		s.log.WithField("count", seeded).Info("builtin templates seeded")
	}
	return seeded, nil
}

// localeChain returns the lookup order for a locale: itself, explicit
// fallbacks, BCP 47 parents, then the service default, deduplicated.
func (s *Service) localeChain(locale string) []string {
	var chain []string
	seen := make(map[string]bool)
	add := func(l string) {
		if l != "" && !seen[l] {
			seen[l] = true
			chain = append(chain, l)
		}
	}

	add(locale)

	s.mu.RLock()
	next := s.fallbacks[locale]
	for hops := 0; next != "" && hops < maxFallbackHops; hops++ {
		if seen[next] {
			break
		}
		add(next)
		next = s.fallbacks[next]
	}
	s.mu.RUnlock()

	if tag, err := language.Parse(locale); err == nil {
		for t := tag.Parent(); !t.IsRoot(); t = t.Parent() {
			add(t.String())
		}
	}

	add(s.defaultLocale)
	return chain
}

func (s *Service) renderCacheKey(tpl template.Template, data map[string]any) (string, bool) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return "", false
	}
	ctxRaw, err := json.Marshal(data)
	if err != nil {
		return "", false
	}
	// The engine epoch keys out renders cached before a filter or
	// global change.
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s|%d|%s", tpl.ID, tpl.Locale, tpl.Version, tpl.Format, s.engine.Epoch(), ctxRaw)))
	return renderKeyPrefix(tpl.ID, tpl.Locale) + hex.EncodeToString(sum[:]), true
}

func (s *Service) invalidateRenderCache(ctx context.Context, id, locale string) {
	if s.cache == nil {
		return
	}
	prefix := "render:" + id + ":"
	if locale != "" {
		prefix += locale + ":"
	}
	if err := s.cache.DeletePrefix(ctx, prefix); err != nil {
		s.log.WithError(err).Warn("render cache invalidation failed")
	}
}

func renderKeyPrefix(id, locale string) string {
	return "render:" + id + ":" + locale + ":"
}

func instrumentScriptFilter(fn FilterFunc) FilterFunc {
	return func(value any, args ...any) (any, error) {
		out, err := fn(value, args...)
		if err != nil {
			metrics.RecordScriptFilterExecution("error")
			return nil, err
		}
		metrics.RecordScriptFilterExecution("success")
		return out, nil
	}
}
