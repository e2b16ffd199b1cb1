package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/blackroad/roadtemplates/internal/config"
)

func newRuntime(t *testing.T, mutate func(*config.Config)) *Application {
	t.Helper()
	cfg := config.Default()
	cfg.Templates.SeedBuiltin = false
	cfg.Maintenance.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	a, err := NewApplicationWithConfig(cfg)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if err := a.app.Start(context.Background()); err != nil {
		t.Fatalf("start services: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestRuntimeServesRequests(t *testing.T) {
	a := newRuntime(t, nil)
	h := a.Handler()

	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 health, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/v1/templates", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 list, got %d", resp.Code)
	}
	if resp.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestRuntimeRequiresAuthWhenConfigured(t *testing.T) {
	a := newRuntime(t, func(cfg *config.Config) {
		cfg.Auth.JWTSecret = "runtime-secret"
		cfg.Auth.StaticTokens = map[string]string{"svc-token": "ci"}
	})
	h := a.Handler()

	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/v1/templates", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/templates", nil)
	req.Header.Set("Authorization", "Bearer svc-token")
	resp = httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 with static token, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 health without token, got %d", resp.Code)
	}
}

func TestRuntimeCORSPreflightSkipsAuth(t *testing.T) {
	a := newRuntime(t, func(cfg *config.Config) {
		cfg.Auth.JWTSecret = "runtime-secret"
		cfg.Server.AllowedOrigins = "https://app.blackroad.io"
	})

	req := httptest.NewRequest(http.MethodOptions, "/v1/templates", nil)
	req.Header.Set("Origin", "https://app.blackroad.io")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp := httptest.NewRecorder()
	a.Handler().ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", resp.Code)
	}
	if resp.Header().Get("Access-Control-Allow-Origin") != "https://app.blackroad.io" {
		t.Fatalf("expected allowed origin echoed, got %q", resp.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestRuntimeShutdownIsIdempotent(t *testing.T) {
	a := newRuntime(t, nil)
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}
