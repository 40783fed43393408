// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/moviebox-proxy/config.toml",
	"configs/config.toml",
}

// DefaultAllowedPrefixes are the CDN origins media may be relayed from.
var DefaultAllowedPrefixes = []string{
	"https://bcdnw.hakunaymatata.com/",
	"https://valiw.hakunaymatata.com/",
}

// KnownHosts lists the catalog mirrors that upstream.host may select.
var KnownHosts = []string{
	"h5.aoneroom.com",
	"moviebox.ng",
	"moviebox.pk",
	"moviebox.ph",
	"moviebox.id",
	"movieboxapp.in",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config       string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host         string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port         int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	UpstreamHost string `kong:"help='Catalog mirror host name (overrides config).',env='MOVIEBOX_API_HOST'"`
	LogLevel     string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Media    MediaConfig    `toml:"media"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"` // 0 means "use default" (3000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64  `toml:"body_max_bytes"`
}

// UpstreamConfig holds catalog API connection settings.
type UpstreamConfig struct {
	Host            string `toml:"host"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
	ForwardedIP     string `toml:"forwarded_ip"`
}

// MediaConfig holds CDN relay settings.
type MediaConfig struct {
	AllowedPrefixes      []string `toml:"allowed_prefixes"`
	HeaderTimeoutSeconds int      `toml:"header_timeout_seconds"`
	IdleConnections      int      `toml:"idle_connections"`
	FallbackFilename     string   `toml:"fallback_filename"`
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

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/moviebox-proxy/config.toml then configs/config.toml, and falls back
// to built-in defaults when neither exists.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
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
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
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
	if cli.UpstreamHost != "" {
		c.Upstream.Host = cli.UpstreamHost
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	if !isKnownHost(c.Upstream.Host) {
		return fmt.Errorf("upstream.host must be one of %v; got %q", KnownHosts, c.Upstream.Host)
	}
	if c.Upstream.ForwardedIP != "" && net.ParseIP(c.Upstream.ForwardedIP) == nil {
		return fmt.Errorf("upstream.forwarded_ip is not an IP address; got %q", c.Upstream.ForwardedIP)
	}

	// Every allow-list entry must be an https origin ending in '/', otherwise a
	// prefix like "https://cdn.example.com" would also match "https://cdn.example.com.evil".
	for _, p := range c.Media.AllowedPrefixes {
		u, err := url.Parse(p)
		if err != nil {
			return fmt.Errorf("media.allowed_prefixes entry %q is not a valid URL: %w", p, err)
		}
		if u.Scheme != "https" || u.Host == "" {
			return fmt.Errorf("media.allowed_prefixes entry must be an https URL; got %q", p)
		}
		if !strings.HasSuffix(p, "/") {
			return fmt.Errorf("media.allowed_prefixes entry must end with '/'; got %q", p)
		}
	}
	if strings.ContainsAny(c.Media.FallbackFilename, `/\"`) {
		return fmt.Errorf("media.fallback_filename must be a bare file name; got %q", c.Media.FallbackFilename)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Media.HeaderTimeoutSeconds < 0 {
		return fmt.Errorf("media.header_timeout_seconds must be non-negative; got %d", c.Media.HeaderTimeoutSeconds)
	}
	if c.Media.IdleConnections < 0 {
		return fmt.Errorf("media.idle_connections must be non-negative; got %d", c.Media.IdleConnections)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	if c.Metrics.Enabled {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/api", "/healthz", "/proxy/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1024 * 1024 // 1 MB
	}
	if c.Upstream.Host == "" {
		c.Upstream.Host = KnownHosts[0]
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 20
	}
	if c.Upstream.ForwardedIP == "" {
		c.Upstream.ForwardedIP = "1.1.1.1"
	}
	if len(c.Media.AllowedPrefixes) == 0 {
		c.Media.AllowedPrefixes = append([]string(nil), DefaultAllowedPrefixes...)
	}
	if c.Media.HeaderTimeoutSeconds == 0 {
		c.Media.HeaderTimeoutSeconds = 30
	}
	if c.Media.IdleConnections == 0 {
		c.Media.IdleConnections = 100
	}
	if c.Media.FallbackFilename == "" {
		c.Media.FallbackFilename = "video.mp4"
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

func isKnownHost(host string) bool {
	for _, h := range KnownHosts {
		if h == host {
			return true
		}
	}
	return false
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

// BaseURL returns the catalog API origin for the selected mirror.
func (c *UpstreamConfig) BaseURL() string {
	return "https://" + c.Host
}

// WarnPermissions logs a warning if the config file is writable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		logger.Info("no config file found; using built-in defaults")
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o022 != 0 {
		logger.Warn("config file is writable by group/others; consider chmod 644",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
