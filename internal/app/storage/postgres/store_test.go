package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"

	"github.com/blackroad/roadtemplates/internal/app/domain/template"
)

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := New(db)

	ctx := context.Background()
	tpl, err := store.SaveTemplate(ctx, template.Template{
		Name:   "Welcome Email",
		Type:   template.TypeEmail,
		Format: template.FormatJinja2,
		Body:   "Hello {{ user.name }}",
		Variables: []template.Variable{
			{Name: "user", Required: true},
		},
		Metadata: map[string]any{"category": "onboarding"},
	})
	if err != nil {
		t.Fatalf("save template: %v", err)
	}
	defer store.DeleteTemplate(ctx, tpl.ID, "")

	got, err := store.GetTemplate(ctx, tpl.ID, "en")
	if err != nil {
		t.Fatalf("get template: %v", err)
	}
	if got.Body != tpl.Body || got.Category() != "onboarding" {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if _, err := store.SaveScriptFilter(ctx, template.ScriptFilter{Name: "shout", Source: "String(value).toUpperCase()"}); err != nil {
		t.Fatalf("save script filter: %v", err)
	}
	defer store.DeleteScriptFilter(ctx, "shout")
}
