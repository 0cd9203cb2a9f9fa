// Package config handles command-line, TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"rewrite-proxy-go/internal/model"
)

// AdminPrefix is the path prefix reserved for the proxy's own endpoints.
// Requests under it are never forwarded upstream.
const AdminPrefix = "/_proxy"

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/rewrite-proxy/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	TargetHost string `kong:"arg,optional,name='target-host',help='Upstream host to front, without scheme (e.g. app.example.com).',env='TARGET_HOST'"`
	Listen     string `kong:"arg,optional,name='listen',help='Proxy bind address as ip:port (e.g. 127.0.0.1:8080).',env='LISTEN_ADDR'"`

	Config      string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	PublicURL   string `kong:"name='public-url',help='Externally visible proxy base URL (overrides config).',env='PUBLIC_URL'"`
	RewriteMode string `kong:"name='rewrite-mode',help='Body rewrite mode: base_url|bare_host|off (overrides config).',env='REWRITE_MODE'"`
	Insecure    bool   `kong:"help='Skip upstream TLS certificate verification.',env='INSECURE_SKIP_VERIFY'"`
	LogLevel    string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Proxy    ProxySection   `toml:"proxy"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8080); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// ProxySection holds what is forwarded where and how responses are rewritten.
type ProxySection struct {
	TargetHost  string `toml:"target_host"`
	PublicURL   string `toml:"public_url"` // defaults to http://<server.host>:<server.port>
	RewriteMode string `toml:"rewrite_mode"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	InsecureSkipVerify bool  `toml:"insecure_skip_verify"`
	TimeoutSeconds     int   `toml:"timeout_seconds"`
	IdleConnections    int   `toml:"idle_connections"`
	BodyMaxBytes       int64 `toml:"body_max_bytes"`
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
// /etc/rewrite-proxy/config.toml then configs/config.toml; finding neither is
// fine because the positional arguments carry everything required.
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

	if err := cfg.applyCLI(cli); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags and positional arguments.
func (c *Config) applyCLI(cli *CLI) error {
	if cli.TargetHost != "" {
		c.Proxy.TargetHost = cli.TargetHost
	}
	if cli.Listen != "" {
		ip, port, err := ParseListenAddr(cli.Listen)
		if err != nil {
			return err
		}
		c.Server.Host = ip.String()
		c.Server.Port = int(port)
	}
	if cli.PublicURL != "" {
		c.Proxy.PublicURL = cli.PublicURL
	}
	if cli.RewriteMode != "" {
		c.Proxy.RewriteMode = cli.RewriteMode
	}
	if cli.Insecure {
		c.Upstream.InsecureSkipVerify = true
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	return nil
}

// ParseListenAddr validates an ip:port bind address. The address must form a
// valid URL authority, the host must be an IP literal and the port numeric.
func ParseListenAddr(addr string) (netip.Addr, uint16, error) {
	u, err := url.Parse("http://" + addr)
	if err != nil || u.Host != addr || u.Path != "" || u.RawQuery != "" || u.User != nil {
		return netip.Addr{}, 0, fmt.Errorf("invalid proxy address format %q: want ip:port", addr)
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return netip.Addr{}, 0, fmt.Errorf("invalid proxy address format %q: %w", addr, err)
	}

	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, 0, fmt.Errorf("invalid IP %q in proxy address", host)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return netip.Addr{}, 0, fmt.Errorf("invalid port %q in proxy address", portStr)
	}

	return ip, uint16(port), nil
}

func (c *Config) validate() error {
	// Target host: required, bare host with optional port.
	if c.Proxy.TargetHost == "" {
		return errors.New("proxy.target_host is required (config or first positional argument)")
	}
	if err := validateTargetHost(c.Proxy.TargetHost); err != nil {
		return err
	}

	if c.Proxy.PublicURL != "" {
		u, err := url.Parse(c.Proxy.PublicURL)
		if err != nil {
			return fmt.Errorf("proxy.public_url is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("proxy.public_url must use http or https; got %q", c.Proxy.PublicURL)
		}
		if u.Host == "" {
			return fmt.Errorf("proxy.public_url must include a host; got %q", c.Proxy.PublicURL)
		}
		if u.Path != "" && u.Path != "/" {
			return fmt.Errorf("proxy.public_url must not include a path; got %q", c.Proxy.PublicURL)
		}
		if strings.EqualFold(u.Host, c.Proxy.TargetHost) {
			return fmt.Errorf("proxy.public_url host must differ from proxy.target_host %q", c.Proxy.TargetHost)
		}
	}

	if _, err := model.ParseRewriteMode(c.Proxy.RewriteMode); err != nil {
		return fmt.Errorf("proxy.rewrite_mode must be one of: base_url, bare_host, off; got %q", c.Proxy.RewriteMode)
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
	if c.Upstream.BodyMaxBytes < 0 {
		return fmt.Errorf("upstream.body_max_bytes must be non-negative; got %d", c.Upstream.BodyMaxBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
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

	// Metrics path must stay under the admin prefix so it never shadows an upstream path.
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if !strings.HasPrefix(p, AdminPrefix+"/") {
			return fmt.Errorf("metrics.path must start with %q; got %q", AdminPrefix+"/", p)
		}
		for _, reserved := range []string{HealthzPath, StatusPath} {
			if p == reserved {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// Admin route paths.
const (
	HealthzPath = AdminPrefix + "/healthz"
	StatusPath  = AdminPrefix + "/status"
)

func validateTargetHost(h string) error {
	if strings.Contains(h, "://") {
		return fmt.Errorf("proxy.target_host must not include a scheme; got %q", h)
	}
	if strings.ContainsAny(h, "/?#@ \t\r\n") {
		return fmt.Errorf("proxy.target_host must be a bare host; got %q", h)
	}
	u, err := url.Parse("https://" + h)
	if err != nil || u.Host != h || u.Hostname() == "" {
		return fmt.Errorf("proxy.target_host is not a valid host; got %q", h)
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting port=0 in
// the config file therefore results in the default port (8080).
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Proxy.PublicURL == "" {
		c.Proxy.PublicURL = "http://" + c.Server.Addr()
	}
	if c.Proxy.RewriteMode == "" {
		c.Proxy.RewriteMode = model.RewriteBaseURL.String()
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 60
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.BodyMaxBytes == 0 {
		c.Upstream.BodyMaxBytes = 64 * 1024 * 1024 // 64 MB
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = AdminPrefix + "/metrics"
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

// NewProxyConfig builds the immutable forwarding configuration shared by all
// requests. A public URL that fails to parse leaves the result incomplete.
func NewProxyConfig(cfg *Config) *model.ProxyConfig {
	mode, err := model.ParseRewriteMode(cfg.Proxy.RewriteMode)
	if err != nil {
		mode = model.RewriteBaseURL
	}
	var base *url.URL
	if u, err := url.Parse(cfg.Proxy.PublicURL); err == nil && u.Host != "" {
		base = u
	}
	return model.NewProxyConfig(cfg.Proxy.TargetHost, base, !cfg.Upstream.InsecureSkipVerify, mode)
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

// WarnInsecure logs a warning when upstream certificates are not verified.
// Any certificate presented for the target is then accepted, so anyone on the
// network path can impersonate the upstream.
func (c *Config) WarnInsecure(logger *slog.Logger) {
	if c.Upstream.InsecureSkipVerify {
		logger.Warn("upstream TLS certificate verification is disabled",
			"target_host", c.Proxy.TargetHost,
		)
	}
}
