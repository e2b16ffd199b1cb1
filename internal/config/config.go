// Package config assembles the application configuration from three
// layers: compiled-in defaults, an optional YAML file named by
// ROADTEMPLATES_CONFIG, and environment variables. Later layers win.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/blackroad/roadtemplates/pkg/logger"
)

// Config is the root configuration document.
type Config struct {
	Server      ServerConfig         `yaml:"server"`
	Logging     logger.LoggingConfig `yaml:"logging"`
	Database    DatabaseConfig       `yaml:"database"`
	Auth        AuthConfig           `yaml:"auth"`
	RateLimit   RateLimitConfig      `yaml:"rate_limit"`
	Cache       CacheConfig          `yaml:"cache"`
	Templates   TemplatesConfig      `yaml:"templates"`
	Maintenance MaintenanceConfig    `yaml:"maintenance"`
	Audit       AuditConfig          `yaml:"audit"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string `yaml:"host" env:"SERVER_HOST"`
	Port            int    `yaml:"port" env:"SERVER_PORT"`
	ReadTimeoutSec  int    `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeoutSec int    `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	// AllowedOrigins is a comma-separated CORS origin list; "*" allows all.
	AllowedOrigins string `yaml:"allowed_origins" env:"SERVER_ALLOWED_ORIGINS"`
}

// Addr returns the listen address in host:port form.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Origins returns the parsed CORS origin list.
func (c ServerConfig) Origins() []string {
	var out []string
	for _, origin := range strings.Split(c.AllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}

// DatabaseConfig controls the optional PostgreSQL backend. With an empty
// DSN the application runs on in-memory stores.
type DatabaseConfig struct {
	DSN                string `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns       int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns       int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetimeSec int    `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	AutoMigrate        bool   `yaml:"auto_migrate" env:"DATABASE_AUTO_MIGRATE"`
}

// AuthConfig controls API authentication. Empty secret and token list run
// the API open.
type AuthConfig struct {
	JWTSecret   string `yaml:"jwt_secret" env:"AUTH_JWT_SECRET"`
	TokenTTLMin int    `yaml:"token_ttl_minutes" env:"AUTH_TOKEN_TTL_MINUTES"`
	// Users maps usernames to bcrypt password hashes.
	Users map[string]string `yaml:"users"`
	// StaticTokens maps opaque API tokens to user IDs.
	StaticTokens map[string]string `yaml:"static_tokens"`
}

// RateLimitConfig controls per-caller request throttling.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" env:"RATE_LIMIT_ENABLED"`
	RequestsPerSecond int  `yaml:"requests_per_second" env:"RATE_LIMIT_RPS"`
	Burst             int  `yaml:"burst" env:"RATE_LIMIT_BURST"`
}

// CacheConfig selects the render cache backend.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend       string `yaml:"backend" env:"CACHE_BACKEND"`
	RedisAddr     string `yaml:"redis_addr" env:"CACHE_REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"CACHE_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"CACHE_REDIS_DB"`
	TTLSec        int    `yaml:"ttl" env:"CACHE_TTL"`
}

// TemplatesConfig tunes the template service.
type TemplatesConfig struct {
	DefaultLocale   string            `yaml:"default_locale" env:"TEMPLATES_DEFAULT_LOCALE"`
	SeedBuiltin     bool              `yaml:"seed_builtin" env:"TEMPLATES_SEED_BUILTIN"`
	ScriptTimeoutMS int               `yaml:"script_timeout_ms" env:"TEMPLATES_SCRIPT_TIMEOUT_MS"`
	Globals         map[string]any    `yaml:"globals"`
	LocaleFallbacks map[string]string `yaml:"locale_fallbacks"`
}

// MaintenanceConfig controls the background sweeper.
type MaintenanceConfig struct {
	Enabled        bool   `yaml:"enabled" env:"MAINTENANCE_ENABLED"`
	SweepSchedule  string `yaml:"sweep_schedule" env:"MAINTENANCE_SWEEP_SCHEDULE"`
	ReportSchedule string `yaml:"report_schedule" env:"MAINTENANCE_REPORT_SCHEDULE"`
}

// AuditConfig controls the request audit trail.
type AuditConfig struct {
	// File appends entries as JSONL when set.
	File       string `yaml:"file" env:"AUDIT_FILE"`
	MaxEntries int    `yaml:"max_entries" env:"AUDIT_MAX_ENTRIES"`
}

// Default returns a configuration that runs entirely in memory.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeoutSec:  15,
			WriteTimeoutSec: 30,
			AllowedOrigins:  "*",
		},
		Logging: logger.LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 50,
			Burst:             100,
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTLSec:  300,
		},
		Templates: TemplatesConfig{
			DefaultLocale: "en",
			SeedBuiltin:   true,
		},
		Maintenance: MaintenanceConfig{
			Enabled:        true,
			SweepSchedule:  "@hourly",
			ReportSchedule: "@daily",
		},
		Audit: AuditConfig{
			MaxEntries: 200,
		},
	}
}

// Load builds the configuration. A missing config file is only an error
// when ROADTEMPLATES_CONFIG explicitly names one.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("ROADTEMPLATES_CONFIG")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	backend := strings.ToLower(c.Cache.Backend)
	switch backend {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if backend == "redis" && c.Cache.RedisAddr == "" {
		return fmt.Errorf("cache backend redis requires redis_addr")
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate limit requires a positive requests_per_second")
	}
	return nil
}

// TokenTTL returns the configured JWT lifetime.
func (c AuthConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLMin) * time.Minute
}

// CacheTTL returns the configured render cache lifetime.
func (c CacheConfig) CacheTTL() time.Duration {
	return time.Duration(c.TTLSec) * time.Second
}

// ScriptTimeout returns the configured script filter budget.
func (c TemplatesConfig) ScriptTimeout() time.Duration {
	return time.Duration(c.ScriptTimeoutMS) * time.Millisecond
}
