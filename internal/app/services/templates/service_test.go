package templates

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/blackroad/roadtemplates/internal/app/cache"
	"github.com/blackroad/roadtemplates/internal/app/domain/template"
	"github.com/blackroad/roadtemplates/internal/app/storage"
	"github.com/blackroad/roadtemplates/internal/app/storage/memory"
)

type spyCache struct {
	cache.Cache
	hits   int
	misses int
}

func (s *spyCache) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.Cache.Get(ctx, key)
	if err == nil {
		s.hits++
	} else {
		s.misses++
	}
	return raw, err
}

func newTestService(cfg Config) (*Service, *memory.Store, *spyCache) {
	store := memory.New()
	spy := &spyCache{Cache: cache.NewMemory()}
	svc := New(store, store, spy, cfg, nil)
	return svc, store, spy
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := newTestService(Config{})
	ctx := context.Background()

	cases := []struct {
		name string
		tpl  template.Template
	}{
		{"blank name", template.Template{Type: template.TypeEmail, Body: "b"}},
		{"blank body", template.Template{Name: "n", Type: template.TypeEmail}},
		{"unknown type", template.Template{Name: "n", Type: "carrier-pigeon", Body: "b"}},
		{"unknown format", template.Template{Name: "n", Type: template.TypeEmail, Format: "erb", Body: "b"}},
		{"unnamed variable", template.Template{Name: "n", Type: template.TypeEmail, Body: "b",
			Variables: []template.Variable{{Description: "no name"}}}},
	}
	for _, tc := range cases {
		if _, err := svc.Register(ctx, tc.tpl); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestRegisterDefaults(t *testing.T) {
	svc, _, _ := newTestService(Config{})
	ctx := context.Background()

	saved, err := svc.Register(ctx, template.Template{
		Name:      "Order Shipped",
		Type:      template.TypePush,
		Body:      "Your order {{ order_id }} shipped",
		Variables: []template.Variable{{Name: "order_id", Required: true}},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if saved.ID == "" {
		t.Fatalf("expected generated ID")
	}
	if saved.Format != template.FormatJinja2 {
		t.Fatalf("format = %s, want jinja2", saved.Format)
	}
	if saved.Locale != "en" {
		t.Fatalf("locale = %s, want en", saved.Locale)
	}
	if saved.Variables[0].VarType != "string" {
		t.Fatalf("var type = %q, want string", saved.Variables[0].VarType)
	}
}

func TestGetLocaleFallback(t *testing.T) {
	svc, _, _ := newTestService(Config{})
	ctx := context.Background()

	for _, locale := range []string{"en", "pt"} {
		_, err := svc.Register(ctx, template.Template{
			ID:     "welcome",
			Name:   "Welcome",
			Type:   template.TypeEmail,
			Body:   "hello " + locale,
			Locale: locale,
		})
		if err != nil {
			t.Fatalf("register %s: %v", locale, err)
		}
	}

	tpl, err := svc.Get(ctx, "welcome", "pt")
	if err != nil || tpl.Locale != "pt" {
		t.Fatalf("exact locale: %v %+v", err, tpl)
	}

	tpl, err = svc.Get(ctx, "welcome", "pt-BR")
	if err != nil || tpl.Locale != "pt" {
		t.Fatalf("parent locale: %v, got %s", err, tpl.Locale)
	}

	if err := svc.SetLocaleFallback("fr", "pt"); err != nil {
		t.Fatalf("set fallback: %v", err)
	}
	tpl, err = svc.Get(ctx, "welcome", "fr")
	if err != nil || tpl.Locale != "pt" {
		t.Fatalf("explicit fallback: %v, got %s", err, tpl.Locale)
	}

	tpl, err = svc.Get(ctx, "welcome", "de")
	if err != nil || tpl.Locale != "en" {
		t.Fatalf("default fallback: %v, got %s", err, tpl.Locale)
	}

	if _, err := svc.Get(ctx, "missing", "en"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRenderUsesCache(t *testing.T) {
	svc, _, spy := newTestService(Config{})
	ctx := context.Background()

	if _, err := svc.Register(ctx, template.Template{
		ID:   "greet",
		Name: "Greeting",
		Type: template.TypeEmail,
		Body: "Hello {{ name }} v1",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	data := map[string]any{"name": "Ada"}

	first, err := svc.Render(ctx, "greet", "en", data)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if first.Body != "Hello Ada v1" {
		t.Fatalf("body = %q", first.Body)
	}

	second, err := svc.Render(ctx, "greet", "en", data)
	if err != nil {
		t.Fatalf("render again: %v", err)
	}
	if second.Body != first.Body {
		t.Fatalf("cached body = %q", second.Body)
	}
	if spy.hits != 1 {
		t.Fatalf("cache hits = %d, want 1", spy.hits)
	}

	// A new version must not serve stale output.
	if _, err := svc.Register(ctx, template.Template{
		ID:   "greet",
		Name: "Greeting",
		Type: template.TypeEmail,
		Body: "Hello {{ name }} v2",
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	third, err := svc.Render(ctx, "greet", "en", data)
	if err != nil {
		t.Fatalf("render after update: %v", err)
	}
	if third.Body != "Hello Ada v2" {
		t.Fatalf("body after update = %q", third.Body)
	}
}

func TestServiceRenderMissingRequired(t *testing.T) {
	svc, _, _ := newTestService(Config{})
	ctx := context.Background()

	if _, err := svc.Register(ctx, template.Template{
		ID:        "strict",
		Name:      "Strict",
		Type:      template.TypeEmail,
		Body:      "{{ user.name }}",
		Variables: []template.Variable{{Name: "user", Required: true}},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := svc.Render(ctx, "strict", "en", nil)
	if err == nil || !strings.Contains(err.Error(), "missing required variables") {
		t.Fatalf("err = %v", err)
	}
}

func TestPreviewBuildsExampleContext(t *testing.T) {
	svc, _, _ := newTestService(Config{})
	ctx := context.Background()

	if _, err := svc.Register(ctx, template.Template{
		ID:   "demo",
		Name: "Demo",
		Type: template.TypeEmail,
		Body: "{{ a }}|{{ b }}|{{ c }}",
		Variables: []template.Variable{
			{Name: "a", Example: "ex"},
			{Name: "b", Default: "def"},
			{Name: "c"},
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	out, err := svc.Preview(ctx, "demo", "")
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if out.Body != "ex|def|[c]" {
		t.Fatalf("body = %q", out.Body)
	}
}

func TestDeleteTemplate(t *testing.T) {
	svc, _, _ := newTestService(Config{})
	ctx := context.Background()

	if _, err := svc.Register(ctx, template.Template{
		ID: "gone", Name: "Gone", Type: template.TypeEmail, Body: "bye",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Render(ctx, "gone", "en", nil); err != nil {
		t.Fatalf("render: %v", err)
	}

	if err := svc.Delete(ctx, "gone", ""); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, "gone", "en"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSeedBuiltinTemplates(t *testing.T) {
	svc, _, _ := newTestService(Config{SeedBuiltin: true})
	ctx := context.Background()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	welcome, err := svc.Get(ctx, "email.welcome", "en")
	if err != nil {
		t.Fatalf("welcome not seeded: %v", err)
	}
	if welcome.Category() != "onboarding" {
		t.Fatalf("category = %q", welcome.Category())
	}
	if _, err := svc.Get(ctx, "email.password_reset", "en"); err != nil {
		t.Fatalf("password reset not seeded: %v", err)
	}

	// Seeding twice must not touch existing entries.
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}
	again, err := svc.Get(ctx, "email.welcome", "en")
	if err != nil {
		t.Fatalf("welcome after reseed: %v", err)
	}
	if again.Version != welcome.Version {
		t.Fatalf("version changed on reseed: %d -> %d", welcome.Version, again.Version)
	}

	out, err := svc.Render(ctx, "email.welcome", "en", map[string]any{
		"user": map[string]any{"name": "Alice", "email": "alice@example.com"},
	})
	if err != nil {
		t.Fatalf("render welcome: %v", err)
	}
	if out.Subject != "Welcome to BlackRoad, Alice!" {
		t.Fatalf("subject = %q", out.Subject)
	}
	if strings.Contains(out.Body, "verify your email") {
		t.Fatalf("verification block rendered without a link:\n%s", out.Body)
	}
}

func TestGlobalsVisibleInRender(t *testing.T) {
	svc, _, _ := newTestService(Config{Globals: map[string]any{"app_name": "BlackRoad"}})
	ctx := context.Background()

	if _, err := svc.Register(ctx, template.Template{
		ID: "g", Name: "G", Type: template.TypeEmail, Body: "from {{ app_name }}",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	out, err := svc.Render(ctx, "g", "en", nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out.Body != "from BlackRoad" {
		t.Fatalf("body = %q", out.Body)
	}

	if err := svc.SetGlobal("app_name", "RoadWorks"); err != nil {
		t.Fatalf("set global: %v", err)
	}
	out, err = svc.Render(ctx, "g", "en", nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out.Body != "from RoadWorks" {
		t.Fatalf("body after global change = %q", out.Body)
	}
}

func TestScriptFilterLifecycle(t *testing.T) {
	svc, store, _ := newTestService(Config{})
	ctx := context.Background()

	if _, err := svc.RegisterScriptFilter(ctx, "shout", "String(value).toUpperCase()"); err != nil {
		t.Fatalf("register filter: %v", err)
	}
	if _, err := svc.RegisterScriptFilter(ctx, "broken", "function("); err == nil {
		t.Fatalf("expected compile error")
	}

	if _, err := svc.Register(ctx, template.Template{
		ID: "loud", Name: "Loud", Type: template.TypeEmail, Body: "{{ name|shout }}",
	}); err != nil {
		t.Fatalf("register template: %v", err)
	}
	out, err := svc.Render(ctx, "loud", "en", map[string]any{"name": "ada"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out.Body != "ADA" {
		t.Fatalf("body = %q", out.Body)
	}

	filters, err := svc.ScriptFilters(ctx)
	if err != nil || len(filters) != 1 || filters[0].Name != "shout" {
		t.Fatalf("filters = %v, %v", filters, err)
	}

	// A fresh service over the same store picks filters up on Start.
	revived := New(store, store, nil, Config{}, nil)
	if err := revived.Start(ctx); err != nil {
		t.Fatalf("revived start: %v", err)
	}
	out, err = revived.Render(ctx, "loud", "en", map[string]any{"name": "ada"})
	if err != nil {
		t.Fatalf("revived render: %v", err)
	}
	if out.Body != "ADA" {
		t.Fatalf("revived body = %q", out.Body)
	}

	if err := svc.DeleteScriptFilter(ctx, "shout"); err != nil {
		t.Fatalf("delete filter: %v", err)
	}
	out, err = svc.Render(ctx, "loud", "en", map[string]any{"name": "ada"})
	if err != nil {
		t.Fatalf("render after delete: %v", err)
	}
	if out.Body != "ada" {
		t.Fatalf("body after delete = %q", out.Body)
	}
}
