package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/blackroad/roadtemplates/internal/app/domain/template"
	"github.com/blackroad/roadtemplates/internal/app/storage"
)

var templateColumns = []string{
	"id", "locale", "name", "type", "format", "subject", "body", "html_body",
	"variables", "metadata", "version", "created_at", "updated_at",
}

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	return New(db), mock, func() { db.Close() }
}

func TestSaveTemplateInsertsWhenMissing(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, locale, name, type, format").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO app_templates").
		WillReturnResult(sqlmock.NewResult(0, 1))

	saved, err := store.SaveTemplate(context.Background(), template.Template{
		Name:   "Welcome Email",
		Type:   template.TypeEmail,
		Format: template.FormatJinja2,
		Body:   "Hello {{ user.name }}",
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.ID == "" {
		t.Fatalf("expected generated ID")
	}
	if saved.Locale != "en" {
		t.Fatalf("locale = %q, want en", saved.Locale)
	}
	if saved.Version != 1 {
		t.Fatalf("version = %d, want 1", saved.Version)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveTemplateUpdatesExisting(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT id, locale, name, type, format").
		WillReturnRows(sqlmock.NewRows(templateColumns).AddRow(
			"welcome", "en", "Welcome Email", "email", "jinja2", "Hi", "old body", "",
			[]byte(`[{"Name":"user","Required":true}]`), []byte(`{"category":"onboarding"}`),
			3, created, created,
		))
	mock.ExpectExec("UPDATE app_templates").
		WillReturnResult(sqlmock.NewResult(0, 1))

	saved, err := store.SaveTemplate(context.Background(), template.Template{
		ID:     "welcome",
		Locale: "en",
		Name:   "Welcome Email",
		Type:   template.TypeEmail,
		Format: template.FormatJinja2,
		Body:   "new body",
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.Version != 4 {
		t.Fatalf("version = %d, want 4", saved.Version)
	}
	if !saved.CreatedAt.Equal(created) {
		t.Fatalf("created_at = %v, want %v", saved.CreatedAt, created)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetTemplateMapsNotFound(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, locale, name, type, format").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetTemplate(context.Background(), "missing", "en")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetTemplateScansRow(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT id, locale, name, type, format").
		WillReturnRows(sqlmock.NewRows(templateColumns).AddRow(
			"welcome", "pt", "Welcome Email", "email", "jinja2", "Olá", "corpo", "<p>corpo</p>",
			[]byte(`[{"Name":"user","Required":true}]`), []byte(`{"category":"onboarding"}`),
			2, now, now,
		))

	tpl, err := store.GetTemplate(context.Background(), "welcome", "pt")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if tpl.Type != template.TypeEmail || tpl.Format != template.FormatJinja2 {
		t.Fatalf("type/format = %s/%s", tpl.Type, tpl.Format)
	}
	if tpl.HTMLBody != "<p>corpo</p>" {
		t.Fatalf("html_body = %q", tpl.HTMLBody)
	}
	if len(tpl.Variables) != 1 || tpl.Variables[0].Name != "user" || !tpl.Variables[0].Required {
		t.Fatalf("variables = %+v", tpl.Variables)
	}
	if tpl.Category() != "onboarding" {
		t.Fatalf("category = %q", tpl.Category())
	}
}

func TestDeleteTemplateVariants(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	mock.ExpectExec(`DELETE FROM app_templates WHERE id = \$1 AND locale = \$2`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.DeleteTemplate(context.Background(), "welcome", "pt"); err != nil {
		t.Fatalf("delete locale: %v", err)
	}

	mock.ExpectExec(`DELETE FROM app_templates WHERE id = \$1`).
		WillReturnResult(sqlmock.NewResult(0, 3))
	if err := store.DeleteTemplate(context.Background(), "welcome", ""); err != nil {
		t.Fatalf("delete all: %v", err)
	}

	mock.ExpectExec(`DELETE FROM app_templates WHERE id = \$1`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.DeleteTemplate(context.Background(), "missing", ""); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListLocales(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	mock.ExpectQuery("SELECT locale FROM app_templates").
		WillReturnRows(sqlmock.NewRows([]string{"locale"}).AddRow("en").AddRow("pt"))

	locales, err := store.ListLocales(context.Background(), "welcome")
	if err != nil {
		t.Fatalf("list locales: %v", err)
	}
	if len(locales) != 2 || locales[0] != "en" || locales[1] != "pt" {
		t.Fatalf("locales = %v", locales)
	}

	mock.ExpectQuery("SELECT locale FROM app_templates").
		WillReturnRows(sqlmock.NewRows([]string{"locale"}))
	if _, err := store.ListLocales(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestScriptFilterUpsert(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	mock.ExpectQuery("SELECT name, source, created_at, updated_at").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO app_script_filters").
		WillReturnResult(sqlmock.NewResult(0, 1))

	saved, err := store.SaveScriptFilter(context.Background(), template.ScriptFilter{
		Name:   "shout",
		Source: "String(value).toUpperCase()",
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.CreatedAt.IsZero() {
		t.Fatalf("created_at not set")
	}

	created := saved.CreatedAt
	mock.ExpectQuery("SELECT name, source, created_at, updated_at").
		WillReturnRows(sqlmock.NewRows([]string{"name", "source", "created_at", "updated_at"}).
			AddRow("shout", "String(value).toUpperCase()", created, created))
	mock.ExpectExec("UPDATE app_script_filters").
		WillReturnResult(sqlmock.NewResult(0, 1))

	updated, err := store.SaveScriptFilter(context.Background(), template.ScriptFilter{
		Name:   "shout",
		Source: "String(value).trim().toUpperCase()",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.CreatedAt.Equal(created) {
		t.Fatalf("created_at changed on upsert")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
