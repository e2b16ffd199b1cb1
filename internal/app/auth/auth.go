// Package auth issues and verifies the credentials accepted by the HTTP
// API: short-lived HS256 JWTs obtained through login, plus static API
// tokens for machine callers.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/blackroad/roadtemplates/internal/errors"
	"github.com/blackroad/roadtemplates/pkg/logger"
)

// DefaultTokenTTL bounds the lifetime of issued JWTs.
const DefaultTokenTTL = time.Hour

// Claims carries the identity encoded in issued tokens.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Config holds the credential material for a Manager.
type Config struct {
	// Secret signs and verifies JWTs. Leaving it empty disables login.
	Secret string
	// TokenTTL overrides DefaultTokenTTL when positive.
	TokenTTL time.Duration
	// Users maps usernames to bcrypt password hashes.
	Users map[string]string
	// StaticTokens maps opaque API tokens to the acting user ID.
	StaticTokens map[string]string
}

// Manager authenticates API callers.
type Manager struct {
	secret   []byte
	tokenTTL time.Duration
	users    map[string]string
	static   map[string]string
	log      *logger.Logger
}

// NewManager builds a Manager from config. A nil logger falls back to the
// default.
func NewManager(cfg Config, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	users := make(map[string]string, len(cfg.Users))
	for name, hash := range cfg.Users {
		users[strings.TrimSpace(name)] = hash
	}
	static := make(map[string]string, len(cfg.StaticTokens))
	for token, user := range cfg.StaticTokens {
		static[strings.TrimSpace(token)] = user
	}

	return &Manager{
		secret:   []byte(cfg.Secret),
		tokenTTL: ttl,
		users:    users,
		static:   static,
		log:      log,
	}
}

// Enabled reports whether any credential source is configured. When false
// the API runs open.
func (m *Manager) Enabled() bool {
	return len(m.secret) > 0 || len(m.static) > 0
}

// Login verifies a username/password pair and returns a signed JWT.
func (m *Manager) Login(ctx context.Context, username, password string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", apperrors.Unauthorized("username and password are required")
	}
	if len(m.secret) == 0 {
		return "", apperrors.Unauthorized("login is not configured")
	}

	hash, ok := m.users[username]
	if !ok {
		// Unknown users must take as long as bad passwords.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"), []byte(password))
		return "", apperrors.Unauthorized("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		m.log.WithField("user", username).Warn("failed login attempt")
		return "", apperrors.Unauthorized("invalid credentials")
	}

	token, err := m.Issue(username, "")
	if err != nil {
		return "", err
	}
	m.log.WithField("user", username).Info("user logged in")
	return token, nil
}

// Issue signs a JWT identifying userID with an optional role.
func (m *Manager) Issue(userID, role string) (string, error) {
	if len(m.secret) == 0 {
		return "", fmt.Errorf("jwt secret not configured")
	}

	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses tokenString and returns its claims when valid.
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	if len(m.secret) == 0 {
		return nil, apperrors.InvalidToken(nil).WithDetails("reason", "jwt not configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperrors.InvalidToken(nil).WithDetails("method", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, apperrors.InvalidToken(err)
	}
	if !token.Valid {
		return nil, apperrors.InvalidToken(nil)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, apperrors.InvalidToken(nil).WithDetails("reason", "invalid claims type")
	}
	return claims, nil
}

// VerifyStatic resolves a static API token to its user ID.
func (m *Manager) VerifyStatic(token string) (string, bool) {
	user, ok := m.static[token]
	return user, ok
}

// HashPassword produces a bcrypt hash suitable for Config.Users.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

type contextKey string

const (
	userIDKey contextKey = "auth.user_id"
	roleKey   contextKey = "auth.role"
)

// WithIdentity stores the authenticated identity on the context.
func WithIdentity(ctx context.Context, userID, role string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	if role != "" {
		ctx = context.WithValue(ctx, roleKey, role)
	}
	return ctx
}

// UserID returns the authenticated user ID, or empty.
func UserID(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// Role returns the authenticated role, or empty.
func Role(ctx context.Context) string {
	if v, ok := ctx.Value(roleKey).(string); ok {
		return v
	}
	return ""
}
