// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Key cache backends.
const (
	KeyCacheFile   = "file"
	KeyCacheMemory = "memory"
	KeyCacheRedis  = "redis"
)

// Config is the process configuration. It is loaded once at startup.
type Config struct {
	ListenAddr string `env:"SITEMCP_LISTEN_ADDR,default=:8080"`
	MCPPath    string `env:"SITEMCP_MCP_PATH,default=/gd-mcp/v1/mcp"`

	// AuthHost is the credential issuer.
	AuthHost        string        `env:"SITEMCP_AUTH_HOST,default=sso.godaddy.com"`
	KeyEndpoint     string        `env:"SITEMCP_KEY_ENDPOINT,default=https://{issuer}/v1/api/key/{kid}"`
	KeyDiscovery    bool          `env:"SITEMCP_KEY_DISCOVERY,default=false"`
	KeyFetchTimeout time.Duration `env:"SITEMCP_KEY_FETCH_TIMEOUT,default=5s"`
	KeyCache        string        `env:"SITEMCP_KEY_CACHE,default=file"`
	// KeyCacheDir defaults to gd-auth-cache under the OS temp directory.
	KeyCacheDir string        `env:"SITEMCP_KEY_CACHE_DIR"`
	KeyCacheTTL time.Duration `env:"SITEMCP_KEY_CACHE_TTL,default=12h"`
	ClockSkew   time.Duration `env:"SITEMCP_CLOCK_SKEW,default=60s"`
	AppCode     string        `env:"SITEMCP_APP_CODE,default=gd-mcp"`

	AllowedOrigin string     `env:"SITEMCP_ALLOWED_ORIGIN,default=https://host.godaddy.com"`
	LogLevel      slog.Level `env:"SITEMCP_LOG_LEVEL,default=info"`
	// TrustProxy honors X-Forwarded-For and X-Real-IP. Enable only behind a
	// proxy that overwrites them.
	TrustProxy bool `env:"SITEMCP_TRUST_PROXY,default=false"`

	RedisURL    string `env:"REDIS_URL"`
	DatabaseURL string `env:"DATABASE_URL"`

	SiteName string `env:"SITEMCP_SITE_NAME,default=WordPress Site"`
	SiteURL  string `env:"SITEMCP_SITE_URL,default=http://localhost:8080"`
}

// Load reads .env when present and then decodes the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv decodes the environment without touching .env files.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.KeyCacheDir == "" {
		cfg.KeyCacheDir = filepath.Join(os.TempDir(), "gd-auth-cache")
	}
	cfg.KeyCache = strings.ToLower(strings.TrimSpace(cfg.KeyCache))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every inconsistent setting.
func (c *Config) Validate() error {
	var errs []error
	switch c.KeyCache {
	case KeyCacheFile, KeyCacheMemory:
	case KeyCacheRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("SITEMCP_KEY_CACHE=redis requires REDIS_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SITEMCP_KEY_CACHE %q", c.KeyCache))
	}
	if c.AuthHost == "" {
		errs = append(errs, errors.New("SITEMCP_AUTH_HOST is empty"))
	}
	if !strings.HasPrefix(c.MCPPath, "/") {
		errs = append(errs, fmt.Errorf("SITEMCP_MCP_PATH %q must start with /", c.MCPPath))
	}
	if c.KeyFetchTimeout <= 0 {
		errs = append(errs, errors.New("SITEMCP_KEY_FETCH_TIMEOUT must be positive"))
	}
	if c.KeyCacheTTL <= 0 {
		errs = append(errs, errors.New("SITEMCP_KEY_CACHE_TTL must be positive"))
	}
	if c.ClockSkew < 0 {
		errs = append(errs, errors.New("SITEMCP_CLOCK_SKEW must not be negative"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: %w", errors.Join(errs...))
}
