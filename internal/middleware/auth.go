// Package middleware provides the HTTP middleware chain: authentication,
// CORS, rate limiting and request correlation.
package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/blackroad/roadtemplates/internal/app/auth"
	apperrors "github.com/blackroad/roadtemplates/internal/errors"
	"github.com/blackroad/roadtemplates/pkg/logger"
)

// AuthMiddleware authenticates requests using bearer credentials: static
// API tokens first, then HS256 JWTs.
type AuthMiddleware struct {
	manager   *auth.Manager
	log       *logger.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware builds the middleware. Paths in skipPaths bypass
// authentication entirely.
func NewAuthMiddleware(manager *auth.Manager, log *logger.Logger, skipPaths []string) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	skip := make(map[string]bool)
	for _, path := range skipPaths {
		skip[path] = true
	}

	return &AuthMiddleware{
		manager:   manager,
		log:       log,
		skipPaths: skip,
	}
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		// An unconfigured manager leaves the API open.
		if m.manager == nil || !m.manager.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.respondError(w, r, apperrors.Unauthorized("missing Authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			m.respondError(w, r, apperrors.Unauthorized("invalid Authorization header format"))
			return
		}
		token := strings.TrimSpace(parts[1])

		if userID, ok := m.manager.VerifyStatic(token); ok {
			ctx := auth.WithIdentity(r.Context(), userID, "service")
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		claims, err := m.manager.Verify(token)
		if err != nil {
			m.log.WithError(err).WithField("path", r.URL.Path).Warn("token validation failed")
			m.respondError(w, r, err)
			return
		}

		ctx := auth.WithIdentity(r.Context(), claims.UserID, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := apperrors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = apperrors.Internal("authentication failed", err)
	}

	writeServiceError(w, serviceErr)

	m.log.WithError(err).WithFields(map[string]any{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": serviceErr.HTTPStatus,
	}).Warn("authentication failed")
}

// writeServiceError emits the envelope shape the API speaks everywhere:
// a success flag, the error message and a stable machine-readable code.
func writeServiceError(w http.ResponseWriter, serviceErr *apperrors.ServiceError) {
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
