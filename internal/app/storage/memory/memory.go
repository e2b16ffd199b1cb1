package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/blackroad/roadtemplates/internal/app/domain/template"
	"github.com/blackroad/roadtemplates/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu            sync.RWMutex
	nextID        int64
	templates     map[string]map[string]template.Template
	scriptFilters map[string]template.ScriptFilter
}

var _ storage.TemplateStore = (*Store)(nil)
var _ storage.ScriptFilterStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:        1,
		templates:     make(map[string]map[string]template.Template),
		scriptFilters: make(map[string]template.ScriptFilter),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// TemplateStore implementation ------------------------------------------------

func (s *Store) SaveTemplate(_ context.Context, tpl template.Template) (template.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tpl.ID == "" {
		tpl.ID = s.nextIDLocked()
	}
	if tpl.Locale == "" {
		tpl.Locale = "en"
	}

	now := time.Now().UTC()
	locales, ok := s.templates[tpl.ID]
	if !ok {
		locales = make(map[string]template.Template)
		s.templates[tpl.ID] = locales
	}

	if original, exists := locales[tpl.Locale]; exists {
		tpl.CreatedAt = original.CreatedAt
		tpl.Version = original.Version + 1
	} else {
		tpl.CreatedAt = now
		if tpl.Version <= 0 {
			tpl.Version = 1
		}
	}
	tpl.UpdatedAt = now
	tpl.Variables = cloneVariables(tpl.Variables)
	tpl.Metadata = cloneMap(tpl.Metadata)

	locales[tpl.Locale] = tpl
	return cloneTemplate(tpl), nil
}

func (s *Store) GetTemplate(_ context.Context, id, locale string) (template.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if locale == "" {
		locale = "en"
	}
	tpl, ok := s.templates[id][locale]
	if !ok {
		return template.Template{}, fmt.Errorf("template %s (%s): %w", id, locale, storage.ErrNotFound)
	}
	return cloneTemplate(tpl), nil
}

func (s *Store) DeleteTemplate(_ context.Context, id, locale string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	locales, ok := s.templates[id]
	if !ok {
		return fmt.Errorf("template %s: %w", id, storage.ErrNotFound)
	}
	if locale == "" {
		delete(s.templates, id)
		return nil
	}
	if _, ok := locales[locale]; !ok {
		return fmt.Errorf("template %s (%s): %w", id, locale, storage.ErrNotFound)
	}
	delete(locales, locale)
	if len(locales) == 0 {
		delete(s.templates, id)
	}
	return nil
}

func (s *Store) ListTemplates(_ context.Context) ([]template.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]template.Template, 0, len(s.templates))
	for _, locales := range s.templates {
		for _, tpl := range locales {
			result = append(result, cloneTemplate(tpl))
		}
	}
	return result, nil
}

func (s *Store) ListTemplatesByType(_ context.Context, t template.Type) ([]template.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]template.Template, 0)
	for _, locales := range s.templates {
		for _, tpl := range locales {
			if tpl.Type == t {
				result = append(result, cloneTemplate(tpl))
			}
		}
	}
	return result, nil
}

func (s *Store) ListTemplatesByCategory(_ context.Context, category string) ([]template.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]template.Template, 0)
	for _, locales := range s.templates {
		for _, tpl := range locales {
			if tpl.Category() == category {
				result = append(result, cloneTemplate(tpl))
			}
		}
	}
	return result, nil
}

func (s *Store) ListLocales(_ context.Context, id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	locales, ok := s.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", id, storage.ErrNotFound)
	}
	result := make([]string, 0, len(locales))
	for locale := range locales {
		result = append(result, locale)
	}
	sort.Strings(result)
	return result, nil
}

// ScriptFilterStore implementation --------------------------------------------

func (s *Store) SaveScriptFilter(_ context.Context, filter template.ScriptFilter) (template.ScriptFilter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if filter.Name == "" {
		return template.ScriptFilter{}, fmt.Errorf("script filter name is required")
	}

	now := time.Now().UTC()
	if original, exists := s.scriptFilters[filter.Name]; exists {
		filter.CreatedAt = original.CreatedAt
	} else {
		filter.CreatedAt = now
	}
	filter.UpdatedAt = now

	s.scriptFilters[filter.Name] = filter
	return filter, nil
}

func (s *Store) GetScriptFilter(_ context.Context, name string) (template.ScriptFilter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filter, ok := s.scriptFilters[name]
	if !ok {
		return template.ScriptFilter{}, fmt.Errorf("script filter %s: %w", name, storage.ErrNotFound)
	}
	return filter, nil
}

func (s *Store) ListScriptFilters(_ context.Context) ([]template.ScriptFilter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]template.ScriptFilter, 0, len(s.scriptFilters))
	for _, filter := range s.scriptFilters {
		result = append(result, filter)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *Store) DeleteScriptFilter(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.scriptFilters[name]; !ok {
		return fmt.Errorf("script filter %s: %w", name, storage.ErrNotFound)
	}
	delete(s.scriptFilters, name)
	return nil
}

// Helpers ----------------------------------------------------------------------

func cloneTemplate(tpl template.Template) template.Template {
	tpl.Variables = cloneVariables(tpl.Variables)
	tpl.Metadata = cloneMap(tpl.Metadata)
	return tpl
}

func cloneVariables(vars []template.Variable) []template.Variable {
	if vars == nil {
		return nil
	}
	return append([]template.Variable(nil), vars...)
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
