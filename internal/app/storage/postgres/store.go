package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/blackroad/roadtemplates/internal/app/domain/template"
	"github.com/blackroad/roadtemplates/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.TemplateStore = (*Store)(nil)
var _ storage.ScriptFilterStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- TemplateStore ----------------------------------------------------------

func (s *Store) SaveTemplate(ctx context.Context, tpl template.Template) (template.Template, error) {
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	if tpl.Locale == "" {
		tpl.Locale = "en"
	}

	variablesJSON, err := json.Marshal(tpl.Variables)
	if err != nil {
		return template.Template{}, err
	}
	metadataJSON, err := json.Marshal(tpl.Metadata)
	if err != nil {
		return template.Template{}, err
	}

	now := time.Now().UTC()
	existing, err := s.GetTemplate(ctx, tpl.ID, tpl.Locale)
	switch {
	case err == nil:
		tpl.CreatedAt = existing.CreatedAt
		tpl.Version = existing.Version + 1
		tpl.UpdatedAt = now

		result, err := s.db.ExecContext(ctx, `
			UPDATE app_templates
			SET name = $3, type = $4, format = $5, subject = $6, body = $7, html_body = $8,
			    variables = $9, category = $10, metadata = $11, version = $12, updated_at = $13
			WHERE id = $1 AND locale = $2
		`, tpl.ID, tpl.Locale, tpl.Name, string(tpl.Type), string(tpl.Format), tpl.Subject, tpl.Body,
			tpl.HTMLBody, variablesJSON, tpl.Category(), metadataJSON, tpl.Version, tpl.UpdatedAt)
		if err != nil {
			return template.Template{}, err
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return template.Template{}, sql.ErrNoRows
		}
		return tpl, nil

	case errors.Is(err, storage.ErrNotFound):
		tpl.CreatedAt = now
		tpl.UpdatedAt = now
		if tpl.Version <= 0 {
			tpl.Version = 1
		}

		_, err := s.db.ExecContext(ctx, `
			INSERT INTO app_templates (id, locale, name, type, format, subject, body, html_body, variables, category, metadata, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`, tpl.ID, tpl.Locale, tpl.Name, string(tpl.Type), string(tpl.Format), tpl.Subject, tpl.Body,
			tpl.HTMLBody, variablesJSON, tpl.Category(), metadataJSON, tpl.Version, tpl.CreatedAt, tpl.UpdatedAt)
		if err != nil {
			return template.Template{}, err
		}
		return tpl, nil

	default:
		return template.Template{}, err
	}
}

func (s *Store) GetTemplate(ctx context.Context, id, locale string) (template.Template, error) {
	if locale == "" {
		locale = "en"
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, locale, name, type, format, subject, body, html_body, variables, metadata, version, created_at, updated_at
		FROM app_templates
		WHERE id = $1 AND locale = $2
	`, id, locale)

	tpl, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return template.Template{}, fmt.Errorf("template %s (%s): %w", id, locale, storage.ErrNotFound)
		}
		return template.Template{}, err
	}
	return tpl, nil
}

func (s *Store) DeleteTemplate(ctx context.Context, id, locale string) error {
	var (
		result sql.Result
		err    error
	)
	if locale == "" {
		result, err = s.db.ExecContext(ctx, `
			DELETE FROM app_templates WHERE id = $1
		`, id)
	} else {
		result, err = s.db.ExecContext(ctx, `
			DELETE FROM app_templates WHERE id = $1 AND locale = $2
		`, id, locale)
	}
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("template %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) ListTemplates(ctx context.Context) ([]template.Template, error) {
	return s.listTemplates(ctx, `
		SELECT id, locale, name, type, format, subject, body, html_body, variables, metadata, version, created_at, updated_at
		FROM app_templates
		ORDER BY created_at
	`)
}

func (s *Store) ListTemplatesByType(ctx context.Context, t template.Type) ([]template.Template, error) {
	return s.listTemplates(ctx, `
		SELECT id, locale, name, type, format, subject, body, html_body, variables, metadata, version, created_at, updated_at
		FROM app_templates
		WHERE type = $1
		ORDER BY created_at
	`, string(t))
}

func (s *Store) ListTemplatesByCategory(ctx context.Context, category string) ([]template.Template, error) {
	return s.listTemplates(ctx, `
		SELECT id, locale, name, type, format, subject, body, html_body, variables, metadata, version, created_at, updated_at
		FROM app_templates
		WHERE category = $1
		ORDER BY created_at
	`, category)
}

func (s *Store) ListLocales(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT locale FROM app_templates WHERE id = $1 ORDER BY locale
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var locale string
		if err := rows.Scan(&locale); err != nil {
			return nil, err
		}
		result = append(result, locale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("template %s: %w", id, storage.ErrNotFound)
	}
	return result, nil
}

func (s *Store) listTemplates(ctx context.Context, query string, args ...any) ([]template.Template, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []template.Template
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tpl)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (template.Template, error) {
	var (
		tpl          template.Template
		typeRaw      string
		formatRaw    string
		variablesRaw []byte
		metadataRaw  []byte
	)

	if err := row.Scan(&tpl.ID, &tpl.Locale, &tpl.Name, &typeRaw, &formatRaw, &tpl.Subject, &tpl.Body,
		&tpl.HTMLBody, &variablesRaw, &metadataRaw, &tpl.Version, &tpl.CreatedAt, &tpl.UpdatedAt); err != nil {
		return template.Template{}, err
	}

	tpl.Type = template.Type(typeRaw)
	tpl.Format = template.Format(formatRaw)
	if len(variablesRaw) > 0 {
		_ = json.Unmarshal(variablesRaw, &tpl.Variables)
	}
	if len(metadataRaw) > 0 {
		_ = json.Unmarshal(metadataRaw, &tpl.Metadata)
	}
	return tpl, nil
}

// --- ScriptFilterStore ------------------------------------------------------

func (s *Store) SaveScriptFilter(ctx context.Context, filter template.ScriptFilter) (template.ScriptFilter, error) {
	if filter.Name == "" {
		return template.ScriptFilter{}, errors.New("script filter name is required")
	}

	now := time.Now().UTC()
	existing, err := s.GetScriptFilter(ctx, filter.Name)
	switch {
	case err == nil:
		filter.CreatedAt = existing.CreatedAt
		filter.UpdatedAt = now

		result, err := s.db.ExecContext(ctx, `
			UPDATE app_script_filters
			SET source = $2, updated_at = $3
			WHERE name = $1
		`, filter.Name, filter.Source, filter.UpdatedAt)
		if err != nil {
			return template.ScriptFilter{}, err
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return template.ScriptFilter{}, sql.ErrNoRows
		}
		return filter, nil

	case errors.Is(err, storage.ErrNotFound):
		filter.CreatedAt = now
		filter.UpdatedAt = now

		_, err := s.db.ExecContext(ctx, `
			INSERT INTO app_script_filters (name, source, created_at, updated_at)
			VALUES ($1, $2, $3, $4)
		`, filter.Name, filter.Source, filter.CreatedAt, filter.UpdatedAt)
		if err != nil {
			return template.ScriptFilter{}, err
		}
		return filter, nil

	default:
		return template.ScriptFilter{}, err
	}
}

func (s *Store) GetScriptFilter(ctx context.Context, name string) (template.ScriptFilter, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, source, created_at, updated_at
		FROM app_script_filters
		WHERE name = $1
	`, name)

	var filter template.ScriptFilter
	if err := row.Scan(&filter.Name, &filter.Source, &filter.CreatedAt, &filter.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return template.ScriptFilter{}, fmt.Errorf("script filter %s: %w", name, storage.ErrNotFound)
		}
		return template.ScriptFilter{}, err
	}
	return filter, nil
}

func (s *Store) ListScriptFilters(ctx context.Context) ([]template.ScriptFilter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, source, created_at, updated_at
		FROM app_script_filters
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []template.ScriptFilter
	for rows.Next() {
		var filter template.ScriptFilter
		if err := rows.Scan(&filter.Name, &filter.Source, &filter.CreatedAt, &filter.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, filter)
	}
	return result, rows.Err()
}

func (s *Store) DeleteScriptFilter(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM app_script_filters WHERE name = $1
	`, name)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("script filter %s: %w", name, storage.ErrNotFound)
	}
	return nil
}
