package storage

import (
	"context"
	"errors"

	"github.com/blackroad/roadtemplates/internal/app/domain/template"
)

// ErrNotFound reports a missing record. Implementations wrap it so
// callers can classify lookup failures with errors.Is.
var ErrNotFound = errors.New("not found")

// TemplateStore persists templates keyed by identifier and locale.
type TemplateStore interface {
	// SaveTemplate upserts the (ID, Locale) entry. A blank ID is
	// assigned; saving over an existing entry preserves CreatedAt and
	// increments Version.
	SaveTemplate(ctx context.Context, tpl template.Template) (template.Template, error)
	// GetTemplate fetches the exact (id, locale) entry. Locale
	// fallback policy lives in the service layer, not here.
	GetTemplate(ctx context.Context, id, locale string) (template.Template, error)
	// DeleteTemplate removes one locale entry, or every locale of the
	// template when locale is empty.
	DeleteTemplate(ctx context.Context, id, locale string) error
	ListTemplates(ctx context.Context) ([]template.Template, error)
	ListTemplatesByType(ctx context.Context, t template.Type) ([]template.Template, error)
	ListTemplatesByCategory(ctx context.Context, category string) ([]template.Template, error)
	// ListLocales returns the locales a template exists in, sorted.
	ListLocales(ctx context.Context, id string) ([]string, error)
}

// ScriptFilterStore persists dynamically registered script filters.
type ScriptFilterStore interface {
	SaveScriptFilter(ctx context.Context, filter template.ScriptFilter) (template.ScriptFilter, error)
	GetScriptFilter(ctx context.Context, name string) (template.ScriptFilter, error)
	ListScriptFilters(ctx context.Context) ([]template.ScriptFilter, error)
	DeleteScriptFilter(ctx context.Context, name string) error
}
