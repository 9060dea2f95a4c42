// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/webrelay/config.toml",
	"configs/config.toml",
}

// Environment tags understood by the server.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// DefaultSharedKey is the obfuscation key compiled into the stock browser client.
// It is not a secret: anyone holding the client bundle can read it.
const DefaultSharedKey = "webrelay-shared-key"

const defaultMaxRedirects = 5

// knownModes lists the payload decoding modes accepted as [obfuscation] default_mode.
var knownModes = map[string]bool{
	"shift": true, "base64": true, "xor": true, "aes": true,
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config    string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host      string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port      int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Env       string `kong:"name='env',help='Environment tag: development|production (overrides config).',env='APP_ENV'"`
	SharedKey string `kong:"help='Payload obfuscation key shared with the client (overrides config).',env='WEBRELAY_SHARED_KEY'"`
	LogLevel  string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Obfuscation ObfuscationConfig `toml:"obfuscation"`
	Freshness   FreshnessConfig   `toml:"freshness"`
	Fetch       FetchConfig       `toml:"fetch"`
	Rewrite     RewriteConfig     `toml:"rewrite"`
	Passthrough PassthroughConfig `toml:"passthrough"`
	CORS        CORSConfig        `toml:"cors"`
	Log         LogConfig         `toml:"log"`
	Metrics     MetricsConfig     `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (3000)
	Environment  string          `toml:"environment"`
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// ObfuscationConfig holds the payload decoding settings.
type ObfuscationConfig struct {
	SharedKey   string `toml:"shared_key"`
	DefaultMode string `toml:"default_mode"`
}

// FreshnessConfig bounds the accepted clock skew of client timestamps.
type FreshnessConfig struct {
	WindowSeconds    int  `toml:"window_seconds"`
	RequireTimestamp bool `toml:"require_timestamp"`
}

// FetchConfig holds outbound fetch settings.
type FetchConfig struct {
	TimeoutSeconds       int    `toml:"timeout_seconds"`
	// MaxRedirects is a pointer so an explicit 0 survives defaulting.
	MaxRedirects         *int   `toml:"max_redirects"`
	MaxBodyBytes         int64  `toml:"max_body_bytes"`
	IdleConnections      int    `toml:"idle_connections"`
	UserAgent            string `toml:"user_agent"`
	AcceptLanguage       string `toml:"accept_language"`
	DenyPrivateAddresses bool   `toml:"deny_private_addresses"`
}

// RewriteConfig toggles link rewriting of fetched HTML.
type RewriteConfig struct {
	// Enabled is a pointer so an omitted key keeps the default (true).
	Enabled *bool `toml:"enabled"`
}

// PassthroughConfig gates GET /proxy?url=, which fetches an unobfuscated URL
// and answers with the raw page. Off by default.
type PassthroughConfig struct {
	Enabled bool `toml:"enabled"`
}

// CORSConfig holds the allowed browser origins and request headers.
type CORSConfig struct {
	AllowedOrigins []string `toml:"allowed_origins"`
	AllowedHeaders []string `toml:"allowed_headers"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file, if any, and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/webrelay/config.toml then configs/config.toml. Finding none is not an
// error: every setting has a default, so the server can run from the
// environment alone.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Env != "" {
		c.Server.Environment = cli.Env
	}
	if cli.SharedKey != "" {
		c.Obfuscation.SharedKey = cli.SharedKey
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if c.Freshness.WindowSeconds < 0 {
		return fmt.Errorf("freshness.window_seconds must be non-negative; got %d", c.Freshness.WindowSeconds)
	}
	if c.Fetch.TimeoutSeconds < 0 {
		return fmt.Errorf("fetch.timeout_seconds must be non-negative; got %d", c.Fetch.TimeoutSeconds)
	}
	if n := c.Fetch.MaxRedirects; n != nil && (*n < 0 || *n > 20) {
		return fmt.Errorf("fetch.max_redirects must be 0–20; got %d", *n)
	}
	if c.Fetch.MaxBodyBytes < 0 {
		return fmt.Errorf("fetch.max_body_bytes must be non-negative; got %d", c.Fetch.MaxBodyBytes)
	}
	if c.Fetch.IdleConnections < 0 {
		return fmt.Errorf("fetch.idle_connections must be non-negative; got %d", c.Fetch.IdleConnections)
	}

	switch strings.ToLower(c.Server.Environment) {
	case EnvDevelopment, EnvProduction, "":
		// valid
	default:
		return fmt.Errorf("server.environment must be one of: development, production; got %q", c.Server.Environment)
	}

	if m := strings.ToLower(c.Obfuscation.DefaultMode); m != "" && !knownModes[m] {
		return fmt.Errorf("obfuscation.default_mode must be one of: shift, base64, xor, aes; got %q", c.Obfuscation.DefaultMode)
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	for _, o := range c.CORS.AllowedOrigins {
		if o == "" {
			return fmt.Errorf("cors.allowed_origins must not contain empty entries")
		}
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		if p == "/" {
			return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, "/")
		}
		for _, reserved := range []string{"/api", "/health", "/healthz", "/proxy"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.Environment == "" {
		c.Server.Environment = EnvDevelopment
	}
	c.Server.Environment = strings.ToLower(c.Server.Environment)
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1024 * 1024 // 1 MB
	}
	if c.Obfuscation.SharedKey == "" {
		c.Obfuscation.SharedKey = DefaultSharedKey
	}
	if c.Obfuscation.DefaultMode == "" {
		c.Obfuscation.DefaultMode = "shift"
	}
	c.Obfuscation.DefaultMode = strings.ToLower(c.Obfuscation.DefaultMode)
	if c.Freshness.WindowSeconds == 0 {
		c.Freshness.WindowSeconds = 300
	}
	if c.Fetch.TimeoutSeconds == 0 {
		c.Fetch.TimeoutSeconds = 15
	}
	if c.Fetch.MaxRedirects == nil {
		n := defaultMaxRedirects
		c.Fetch.MaxRedirects = &n
	}
	if c.Fetch.MaxBodyBytes == 0 {
		c.Fetch.MaxBodyBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Fetch.IdleConnections == 0 {
		c.Fetch.IdleConnections = 100
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
	if c.Fetch.AcceptLanguage == "" {
		c.Fetch.AcceptLanguage = "ja,en-US;q=0.9,en;q=0.8"
	}
	if c.Rewrite.Enabled == nil {
		enabled := true
		c.Rewrite.Enabled = &enabled
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
	if len(c.CORS.AllowedHeaders) == 0 {
		c.CORS.AllowedHeaders = []string{"Origin", "X-Requested-With", "Content-Type", "Accept", "X-Request-Id"}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsProduction reports whether internal error detail must be hidden from callers.
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == EnvProduction
}

// Window returns the freshness window as a duration.
func (c *FreshnessConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// Timeout returns the outbound fetch timeout as a duration.
func (c *FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RedirectLimit returns how many redirects a fetch follows. Zero disables
// following.
func (c *FetchConfig) RedirectLimit() int {
	if c.MaxRedirects == nil {
		return defaultMaxRedirects
	}
	return *c.MaxRedirects
}

// RewriteEnabled reports whether fetched HTML should have its links made absolute.
func (c *Config) RewriteEnabled() bool {
	return c.Rewrite.Enabled == nil || *c.Rewrite.Enabled
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
