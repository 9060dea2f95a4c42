package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to a config.toml in a fresh temp dir and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
environment = "production"
body_max_bytes = 5242880

[obfuscation]
shared_key = "client-bundle-key"
default_mode = "base64"

[freshness]
window_seconds = 60
require_timestamp = true

[fetch]
timeout_seconds = 20
max_redirects = 3
user_agent = "TestAgent/1.0"

[rewrite]
enabled = false

[passthrough]
enabled = true

[cors]
allowed_origins = ["https://app.example.com"]

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if !cfg.Server.IsProduction() {
		t.Errorf("Server.Environment = %q, want production", cfg.Server.Environment)
	}
	if cfg.Obfuscation.SharedKey != "client-bundle-key" {
		t.Errorf("Obfuscation.SharedKey = %q, want %q", cfg.Obfuscation.SharedKey, "client-bundle-key")
	}
	if cfg.Obfuscation.DefaultMode != "base64" {
		t.Errorf("Obfuscation.DefaultMode = %q, want %q", cfg.Obfuscation.DefaultMode, "base64")
	}
	if cfg.Freshness.Window() != time.Minute {
		t.Errorf("Freshness.Window() = %v, want %v", cfg.Freshness.Window(), time.Minute)
	}
	if !cfg.Freshness.RequireTimestamp {
		t.Error("Freshness.RequireTimestamp = false, want true")
	}
	if cfg.Fetch.Timeout() != 20*time.Second {
		t.Errorf("Fetch.Timeout() = %v, want %v", cfg.Fetch.Timeout(), 20*time.Second)
	}
	if cfg.Fetch.RedirectLimit() != 3 {
		t.Errorf("Fetch.RedirectLimit() = %d, want %d", cfg.Fetch.RedirectLimit(), 3)
	}
	if cfg.Fetch.UserAgent != "TestAgent/1.0" {
		t.Errorf("Fetch.UserAgent = %q, want %q", cfg.Fetch.UserAgent, "TestAgent/1.0")
	}
	if cfg.RewriteEnabled() {
		t.Error("RewriteEnabled() = true, want false")
	}
	if !cfg.Passthrough.Enabled {
		t.Error("Passthrough.Enabled = false, want true")
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "https://app.example.com" {
		t.Errorf("CORS.AllowedOrigins = %v, want [https://app.example.com]", cfg.CORS.AllowedOrigins)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "# empty\n")

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 3000)
	}
	if cfg.Server.Environment != EnvDevelopment {
		t.Errorf("default Server.Environment = %q, want %q", cfg.Server.Environment, EnvDevelopment)
	}
	if cfg.Server.BodyMaxBytes != 1024*1024 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 1024*1024)
	}
	if cfg.Obfuscation.SharedKey != DefaultSharedKey {
		t.Errorf("default Obfuscation.SharedKey = %q, want %q", cfg.Obfuscation.SharedKey, DefaultSharedKey)
	}
	if cfg.Obfuscation.DefaultMode != "shift" {
		t.Errorf("default Obfuscation.DefaultMode = %q, want %q", cfg.Obfuscation.DefaultMode, "shift")
	}
	if cfg.Freshness.Window() != 5*time.Minute {
		t.Errorf("default Freshness.Window() = %v, want %v", cfg.Freshness.Window(), 5*time.Minute)
	}
	if cfg.Fetch.Timeout() != 15*time.Second {
		t.Errorf("default Fetch.Timeout() = %v, want %v", cfg.Fetch.Timeout(), 15*time.Second)
	}
	if cfg.Fetch.RedirectLimit() != 5 {
		t.Errorf("default Fetch.RedirectLimit() = %d, want %d", cfg.Fetch.RedirectLimit(), 5)
	}
	if cfg.Fetch.MaxBodyBytes != 10*1024*1024 {
		t.Errorf("default Fetch.MaxBodyBytes = %d, want %d", cfg.Fetch.MaxBodyBytes, 10*1024*1024)
	}
	if !cfg.RewriteEnabled() {
		t.Error("default RewriteEnabled() = false, want true")
	}
	if cfg.Passthrough.Enabled {
		t.Error("default Passthrough.Enabled = true, want false")
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "*" {
		t.Errorf("default CORS.AllowedOrigins = %v, want [*]", cfg.CORS.AllowedOrigins)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
}

func TestLoad_ZeroRedirectsKept(t *testing.T) {
	path := writeConfig(t, "[fetch]\nmax_redirects = 0\n")

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Fetch.RedirectLimit(); got != 0 {
		t.Errorf("Fetch.RedirectLimit() = %d, want 0", got)
	}
}

func TestFetchConfig_RedirectLimitUnset(t *testing.T) {
	var fc FetchConfig
	if got := fc.RedirectLimit(); got != defaultMaxRedirects {
		t.Errorf("RedirectLimit() = %d, want %d", got, defaultMaxRedirects)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing explicit file, got nil")
	}
}

func TestLoad_MalformedTOML(t *testing.T) {
	path := writeConfig(t, "[server\nport = ")

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected parse error, got nil")
	}
	if !strings.Contains(err.Error(), "parse") {
		t.Errorf("error = %q, want mention of parse", err)
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000
environment = "development"

[obfuscation]
shared_key = "toml-key"

[log]
level = "info"
`)

	cli := &CLI{
		Config:    path,
		Host:      "127.0.0.1",
		Port:      3001,
		Env:       "Production",
		SharedKey: "cli-key",
		LogLevel:  "debug",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3001 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3001)
	}
	if cfg.Server.Environment != EnvProduction {
		t.Errorf("Server.Environment = %q, want %q (CLI override)", cfg.Server.Environment, EnvProduction)
	}
	if cfg.Obfuscation.SharedKey != "cli-key" {
		t.Errorf("Obfuscation.SharedKey = %q, want %q (CLI override)", cfg.Obfuscation.SharedKey, "cli-key")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantMsg string
	}{
		{"negative port", "[server]\nport = -1\n", "server.port"},
		{"port too large", "[server]\nport = 70000\n", "server.port"},
		{"negative body_max_bytes", "[server]\nbody_max_bytes = -1\n", "server.body_max_bytes"},
		{"unknown environment", "[server]\nenvironment = \"staging\"\n", "server.environment"},
		{"unknown default mode", "[obfuscation]\ndefault_mode = \"rot13\"\n", "obfuscation.default_mode"},
		{"negative freshness window", "[freshness]\nwindow_seconds = -5\n", "freshness.window_seconds"},
		{"negative timeout", "[fetch]\ntimeout_seconds = -5\n", "fetch.timeout_seconds"},
		{"too many redirects", "[fetch]\nmax_redirects = 50\n", "fetch.max_redirects"},
		{"negative redirects", "[fetch]\nmax_redirects = -1\n", "fetch.max_redirects"},
		{"negative max body", "[fetch]\nmax_body_bytes = -1\n", "fetch.max_body_bytes"},
		{"empty origin", "[cors]\nallowed_origins = [\"\"]\n", "cors.allowed_origins"},
		{"invalid log level", "[log]\nlevel = \"verbose\"\n", "log.level"},
		{"invalid log format", "[log]\nformat = \"xml\"\n", "log.format"},
		{"rate limit without rps", "[server.rate_limit]\nenabled = true\nrequests_per_second = 0\n", "requests_per_second"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.data)

			_, err := Load(cliWithPath(path))
			if err == nil {
				t.Fatalf("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantMsg)
			}
		})
	}
}

func TestLoad_RateLimitConfig_Enabled(t *testing.T) {
	path := writeConfig(t, `
[server.rate_limit]
enabled = true
requests_per_second = 50.0
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("expected RateLimit.Enabled = true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 50.0 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 50.0", cfg.Server.RateLimit.RequestsPerSecond)
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := writeConfig(t, "# test")

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestWarnPermissions_NoFile(t *testing.T) {
	cfg := &Config{}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no output without a config file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths_Found(t *testing.T) {
	path := writeConfig(t, "[server]\nport = 3000\n")

	got := findConfigInPaths([]string{path})
	if got != path {
		t.Errorf("findConfigInPaths() = %q, want %q", got, path)
	}
}

func TestFindConfigInPaths_NotFound(t *testing.T) {
	got := findConfigInPaths([]string{"/nonexistent/a.toml", "/nonexistent/b.toml"})
	if got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestFindConfigInPaths_Priority(t *testing.T) {
	path1 := writeConfig(t, "[server]\nport = 3000\n")
	path2 := writeConfig(t, "[server]\nport = 3001\n")

	got := findConfigInPaths([]string{path1, path2})
	if got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, path1)
	}
}

func TestLoad_MetricsPathDefault(t *testing.T) {
	path := writeConfig(t, "[metrics]\nenabled = true\n")

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_MetricsPathNoLeadingSlash(t *testing.T) {
	path := writeConfig(t, "[metrics]\nenabled = true\npath = \"metrics\"\n")

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for metrics.path without leading slash, got nil")
	}
	if !strings.Contains(err.Error(), "metrics.path") {
		t.Errorf("error = %q, want mention of metrics.path", err)
	}
}

func TestLoad_MetricsPathConflictsWithRoutes(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"root", "/"},
		{"api exact", "/api"},
		{"api sub", "/api/metrics"},
		{"health", "/health"},
		{"healthz", "/healthz"},
		{"proxy", "/proxy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeConfig(t, "[metrics]\nenabled = true\npath = \""+tt.path+"\"\n")

			_, err := Load(cliWithPath(cfgPath))
			if err == nil {
				t.Fatalf("Load() expected error for metrics.path=%q conflicting with route, got nil", tt.path)
			}
			if !strings.Contains(err.Error(), "conflicts") {
				t.Errorf("error = %q, want mention of conflict", err)
			}
		})
	}
}

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	path := writeConfig(t, "[metrics]\nenabled = false\npath = \"bad-no-slash\"\n")

	_, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v; disabled metrics should skip path validation", err)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}
