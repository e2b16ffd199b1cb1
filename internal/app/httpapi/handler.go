package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	app "github.com/blackroad/roadtemplates/internal/app"
	"github.com/blackroad/roadtemplates/internal/app/auth"
	coresvc "github.com/blackroad/roadtemplates/internal/app/core/service"
	"github.com/blackroad/roadtemplates/internal/app/domain/template"
	"github.com/blackroad/roadtemplates/internal/app/metrics"
	"github.com/blackroad/roadtemplates/internal/app/storage"
	apperrors "github.com/blackroad/roadtemplates/internal/errors"
	"github.com/blackroad/roadtemplates/internal/middleware"
	"github.com/blackroad/roadtemplates/pkg/logger"
)

// handler bundles the HTTP endpoints for the application services.
type handler struct {
	app     *app.Application
	auth    *auth.Manager
	audit   *AuditLog
	log     *logger.Logger
	started time.Time
}

// Options configures the optional collaborators of the HTTP handler.
type Options struct {
	Auth  *auth.Manager
	Audit *AuditLog
	Log   *logger.Logger
}

// NewHandler returns a router exposing the REST API. Routes under /v1
// are recorded in the audit log; /healthz and /metrics are not.
func NewHandler(application *app.Application, opts Options) http.Handler {
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	audit := opts.Audit
	if audit == nil {
		audit = NewAuditLog(0, nil)
	}
	h := &handler{
		app:     application,
		auth:    opts.Auth,
		audit:   audit,
		log:     log,
		started: time.Now(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(h.auditMiddleware)
	v1.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	v1.HandleFunc("/templates", h.listTemplates).Methods(http.MethodGet)
	v1.HandleFunc("/templates", h.registerTemplate).Methods(http.MethodPost)
	v1.HandleFunc("/templates/{id}", h.getTemplate).Methods(http.MethodGet)
	v1.HandleFunc("/templates/{id}", h.deleteTemplate).Methods(http.MethodDelete)
	v1.HandleFunc("/templates/{id}/locales", h.templateLocales).Methods(http.MethodGet)
	v1.HandleFunc("/templates/{id}/render", h.renderTemplate).Methods(http.MethodPost)
	v1.HandleFunc("/templates/{id}/preview", h.previewTemplate).Methods(http.MethodGet)
	v1.HandleFunc("/filters", h.listFilters).Methods(http.MethodGet)
	v1.HandleFunc("/filters", h.registerFilter).Methods(http.MethodPost)
	v1.HandleFunc("/filters/{name}", h.deleteFilter).Methods(http.MethodDelete)
	v1.HandleFunc("/globals/{name}", h.setGlobal).Methods(http.MethodPut)
	v1.HandleFunc("/locales/fallbacks", h.setLocaleFallback).Methods(http.MethodPut)
	v1.HandleFunc("/audit", h.auditTrail).Methods(http.MethodGet)
	return r
}

// auditMiddleware records each API call with the authenticated identity
// once the response status is known.
func (h *handler) auditMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		h.audit.add(AuditEntry{
			Time:       start.UTC(),
			User:       auth.UserID(r.Context()),
			Role:       auth.Role(r.Context()),
			RequestID:  middleware.RequestID(r.Context()),
			Path:       r.URL.Path,
			Method:     r.Method,
			Status:     sw.status,
			DurationMS: time.Since(start).Milliseconds(),
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		})
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// healthz reports liveness plus coarse process and host statistics.
func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	health := map[string]any{
		"status":     "ok",
		"uptime":     time.Since(h.started).Round(time.Second).String(),
		"goroutines": runtime.NumGoroutine(),
		"modules":    []coresvc.Descriptor{h.app.Templates.Describe()},
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		health["memory_used_percent"] = vm.UsedPercent
	}
	if uptime, err := host.Uptime(); err == nil {
		health["host_uptime_seconds"] = uptime
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health)
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, apperrors.InvalidInput(err.Error(), err))
		return
	}
	if h.auth == nil {
		writeError(w, apperrors.Unauthorized("login is not configured"))
		return
	}

	token, err := h.auth.Login(r.Context(), payload.Username, payload.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *handler) registerTemplate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ID        string         `json:"id"`
		Name      string         `json:"name"`
		Type      string         `json:"type"`
		Format    string         `json:"format"`
		Subject   string         `json:"subject"`
		Body      string         `json:"body"`
		HTMLBody  string         `json:"html_body"`
		Locale    string         `json:"locale"`
		Category  string         `json:"category"`
		Metadata  map[string]any `json:"metadata"`
		Variables []struct {
			Name        string `json:"name"`
			Type        string `json:"type"`
			Description string `json:"description"`
			Required    bool   `json:"required"`
			Default     any    `json:"default"`
			Example     any    `json:"example"`
		} `json:"variables"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, apperrors.InvalidInput(err.Error(), err))
		return
	}

	tpl := template.Template{
		ID:       payload.ID,
		Name:     payload.Name,
		Type:     template.Type(payload.Type),
		Format:   template.Format(payload.Format),
		Subject:  payload.Subject,
		Body:     payload.Body,
		HTMLBody: payload.HTMLBody,
		Locale:   payload.Locale,
		Metadata: payload.Metadata,
	}
	if payload.Category != "" {
		if tpl.Metadata == nil {
			tpl.Metadata = make(map[string]any)
		}
		tpl.Metadata["category"] = payload.Category
	}
	for _, v := range payload.Variables {
		tpl.Variables = append(tpl.Variables, template.Variable{
			Name:        v.Name,
			VarType:     v.Type,
			Description: v.Description,
			Required:    v.Required,
			Default:     v.Default,
			Example:     v.Example,
		})
	}

	saved, err := h.app.Templates.Register(r.Context(), tpl)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (h *handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		tpls []template.Template
		err  error
	)
	switch {
	case q.Get("type") != "":
		tpls, err = h.app.Templates.ListByType(r.Context(), template.Type(q.Get("type")))
	case q.Get("category") != "":
		tpls, err = h.app.Templates.ListByCategory(r.Context(), q.Get("category"))
	default:
		tpls, err = h.app.Templates.List(r.Context())
		if err != nil {
			err = apperrors.Internal("list templates", err)
		}
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if tpls == nil {
		tpls = []template.Template{}
	}
	writeJSON(w, http.StatusOK, tpls)
}

func (h *handler) getTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.app.Templates.Get(r.Context(), mux.Vars(r)["id"], r.URL.Query().Get("locale"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (h *handler) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Templates.Delete(r.Context(), mux.Vars(r)["id"], r.URL.Query().Get("locale")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) templateLocales(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	locales, err := h.app.Templates.Locales(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if locales == nil {
		locales = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"template_id": id, "locales": locales})
}

func (h *handler) renderTemplate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var payload struct {
		Locale  string         `json:"locale"`
		Context map[string]any `json:"context"`
	}
	// An absent body renders with defaults and globals only.
	if err := decodeJSON(r.Body, &payload); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, apperrors.InvalidInput(err.Error(), err))
		return
	}

	out, err := h.app.Templates.Render(r.Context(), id, payload.Locale, payload.Context)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, err)
			return
		}
		h.log.WithError(err).WithField("template_id", id).Warn("render failed")
		writeError(w, apperrors.RenderFailed(id, err).WithDetails("reason", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) previewTemplate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	out, err := h.app.Templates.Preview(r.Context(), id, r.URL.Query().Get("locale"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, err)
			return
		}
		writeError(w, apperrors.RenderFailed(id, err).WithDetails("reason", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) listFilters(w http.ResponseWriter, r *http.Request) {
	scripts, err := h.app.Templates.ScriptFilters(r.Context())
	if err != nil {
		writeError(w, apperrors.Internal("list script filters", err))
		return
	}
	if scripts == nil {
		scripts = []template.ScriptFilter{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"available": h.app.Templates.FilterNames(),
		"script":    scripts,
	})
}

func (h *handler) registerFilter(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name   string `json:"name"`
		Source string `json:"source"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, apperrors.InvalidInput(err.Error(), err))
		return
	}

	saved, err := h.app.Templates.RegisterScriptFilter(r.Context(), payload.Name, payload.Source)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (h *handler) deleteFilter(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Templates.DeleteScriptFilter(r.Context(), mux.Vars(r)["name"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) setGlobal(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var payload struct {
		Value any `json:"value"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, apperrors.InvalidInput(err.Error(), err))
		return
	}

	if err := h.app.Templates.SetGlobal(name, payload.Value); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "value": payload.Value})
}

func (h *handler) setLocaleFallback(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, apperrors.InvalidInput(err.Error(), err))
		return
	}

	if err := h.app.Templates.SetLocaleFallback(payload.From, payload.To); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"from": payload.From, "to": payload.To})
}

func (h *handler) auditTrail(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, apperrors.InvalidInput("limit must be a positive integer", err))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

func decodeJSON(body io.ReadCloser, dst any) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data":    data,
	})
}

// writeError maps err onto the error envelope. Service errors keep their
// code and status, storage misses become 404s and anything else is
// reported as invalid input.
func writeError(w http.ResponseWriter, err error) {
	serviceErr := apperrors.GetServiceError(err)
	if serviceErr == nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			serviceErr = apperrors.New(apperrors.CodeNotFound, http.StatusNotFound, err.Error(), err)
		default:
			serviceErr = apperrors.InvalidInput(err.Error(), err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(serviceErr.HTTPStatus)
	payload := map[string]any{
		"success":    false,
		"error":      serviceErr.Message,
		"error_code": serviceErr.Code,
	}
	if len(serviceErr.Details) > 0 {
		payload["details"] = serviceErr.Details
	}
	_ = json.NewEncoder(w).Encode(payload)
}
