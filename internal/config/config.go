// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/anon-forwarder/config.toml",
	"configs/config.toml",
}

// InternalPrefix is the path prefix reserved for the forwarder's own routes.
// Requests under it are never forwarded upstream.
const InternalPrefix = "/_forwarder"

func init() {
	// Report validation errors by their TOML key names.
	validation.ErrorTag = "toml"
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config     string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host       string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port       int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	TargetHost string `kong:"help='Upstream host requests are forwarded to (overrides config).',env='TARGET_HOST'"`
	LogLevel   string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig describes the single origin all requests are forwarded to.
type UpstreamConfig struct {
	// TargetHost is a bare host or host:port. The scheme is always https.
	TargetHost      string `toml:"target_host"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`

	// StripResponseIdentityHeaders removes the client-IP header set from
	// relayed responses as well as from outbound requests.
	StripResponseIdentityHeaders bool `toml:"strip_response_identity_headers"`
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
// /etc/anon-forwarder/config.toml then configs/config.toml. Without any file,
// loading still succeeds if --target-host was given.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
	switch {
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	case cli.TargetHost == "":
		return nil, fmt.Errorf("config: no config file found (searched %v) and no --target-host given", configSearchPaths)
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
	if cli.TargetHost != "" {
		c.Upstream.TargetHost = cli.TargetHost
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Log.Format = strings.ToLower(c.Log.Format)
}

func (c *Config) validate() error {
	if err := validation.ValidateStruct(&c.Server,
		validation.Field(&c.Server.Port, validation.Min(0), validation.Max(65535)),
		validation.Field(&c.Server.BodyMaxBytes, validation.Min(0)),
	); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	rl := &c.Server.RateLimit
	if err := validation.ValidateStruct(rl,
		validation.Field(&rl.RequestsPerSecond,
			validation.When(rl.Enabled, validation.Required, validation.Min(0.0).Exclusive()),
		),
	); err != nil {
		return fmt.Errorf("server.rate_limit: %w", err)
	}

	if err := validation.ValidateStruct(&c.Upstream,
		validation.Field(&c.Upstream.TargetHost, validation.Required, validation.By(validateTargetHost)),
		validation.Field(&c.Upstream.TimeoutSeconds, validation.Min(0)),
		validation.Field(&c.Upstream.IdleConnections, validation.Min(0)),
	); err != nil {
		return fmt.Errorf("upstream: %w", err)
	}

	if err := validation.ValidateStruct(&c.Log,
		validation.Field(&c.Log.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.Log.Format, validation.In("json", "text")),
	); err != nil {
		return fmt.Errorf("log: %w", err)
	}

	// Path validation only applies when metrics are enabled.
	if err := validation.ValidateStruct(&c.Metrics,
		validation.Field(&c.Metrics.Path, validation.When(c.Metrics.Enabled, validation.By(validateMetricsPath))),
	); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	return nil
}

// validateTargetHost accepts "host" or "host:port" with no scheme, path or userinfo.
func validateTargetHost(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if strings.Contains(s, "://") {
		return errors.New("must be a bare host without a scheme")
	}
	if strings.ContainsAny(s, "/?#@ \t") {
		return errors.New("must not contain a path, query, fragment, userinfo or whitespace")
	}

	host := s
	if h, p, err := net.SplitHostPort(s); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return fmt.Errorf("port must be 1-65535; got %q", p)
		}
		host = h
	}
	if host == "" {
		return errors.New("host part is empty")
	}
	return nil
}

// validateMetricsPath keeps the metrics route under InternalPrefix so it never
// shadows an upstream path.
func validateMetricsPath(value interface{}) error {
	p, _ := value.(string)
	if p == "" {
		return nil
	}
	if !strings.HasPrefix(p, InternalPrefix+"/") || p == InternalPrefix+"/" {
		return fmt.Errorf("must be a route under %q; got %q", InternalPrefix+"/", p)
	}
	for _, reserved := range []string{InternalPrefix + "/healthz", InternalPrefix + "/status"} {
		if p == reserved || strings.HasPrefix(p, reserved+"/") {
			return fmt.Errorf("%q conflicts with reserved route %q", p, reserved)
		}
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = InternalPrefix + "/metrics"
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
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Origin returns the scheme-qualified origin of the target host.
func (c *UpstreamConfig) Origin() string {
	return "https://" + c.TargetHost
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
