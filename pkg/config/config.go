// Package config provides configuration structures and loading logic for the
// gateway and the backend services.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/polisai/polis-gateway/internal/governance"
	"github.com/polisai/polis-gateway/pkg/domain"
)

const (
	// DefaultServiceName is the name the gateway reports from its liveness probe.
	DefaultServiceName = "api-gateway"
	// DefaultVersion is reported on /health when no build or configured version is set.
	DefaultVersion = "1.0.0"
	// DefaultUpstreamTimeout bounds each outbound backend call.
	DefaultUpstreamTimeout = 5 * time.Second

	defaultDataAddress  = ":3000"
	defaultAdminAddress = ":19090"
)

// Config holds the global configuration for the gateway.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds configuration for the HTTP listeners.
type ServerConfig struct {
	Address      string        `yaml:"address"`
	AdminAddress string        `yaml:"admin_address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// GatewayConfig holds the forwarding configuration.
type GatewayConfig struct {
	Service         string        `yaml:"service"`
	Version         string        `yaml:"version"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
	Routes          []RouteConfig `yaml:"routes"`
}

// RouteConfig binds one client-facing path to a backend address.
type RouteConfig struct {
	Path   string `yaml:"path"`
	Domain string `yaml:"domain"`
	URL    string `yaml:"url"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultRoutes returns the in-cluster bindings used when nothing else is configured.
func DefaultRoutes() []RouteConfig {
	return []RouteConfig{
		{Path: "/users", Domain: "user", URL: "http://user-service.microservices.svc.cluster.local"},
		{Path: "/orders", Domain: "order", URL: "http://order-service.microservices.svc.cluster.local"},
	}
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      defaultDataAddress,
			AdminAddress: defaultAdminAddress,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Gateway: GatewayConfig{
			Service:         DefaultServiceName,
			UpstreamTimeout: DefaultUpstreamTimeout,
			Routes:          DefaultRoutes(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
// An empty path skips the file and uses defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfigInvalid, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfigInvalid, err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv("PORT"); val != "" {
		cfg.Server.Address = ":" + val
	}
	if val := os.Getenv("GATEWAY_ADMIN_ADDR"); val != "" {
		cfg.Server.AdminAddress = val
	}

	if val := os.Getenv("GATEWAY_VERSION"); val != "" {
		cfg.Gateway.Version = val
	}
	if val := os.Getenv("GATEWAY_UPSTREAM_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("GATEWAY_UPSTREAM_TIMEOUT: %w", err)
		}
		cfg.Gateway.UpstreamTimeout = d
	}

	// USER_SERVICE_URL, ORDER_SERVICE_URL, ...
	for i := range cfg.Gateway.Routes {
		if val := os.Getenv(ServiceURLEnv(cfg.Gateway.Routes[i].Domain)); val != "" {
			cfg.Gateway.Routes[i].URL = val
		}
	}

	if val := os.Getenv("GATEWAY_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("GATEWAY_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}

	if val := os.Getenv("GATEWAY_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("GATEWAY_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}

	return nil
}

// ServiceURLEnv returns the environment variable naming a domain's address,
// e.g. "user" -> "USER_SERVICE_URL".
func ServiceURLEnv(domainName string) string {
	name := strings.ToUpper(strings.TrimSpace(domainName))
	name = strings.NewReplacer("-", "_", ".", "_").Replace(name)
	return name + "_SERVICE_URL"
}

// Validate performs validation of the entire configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}

	if err := c.Gateway.Validate(); err != nil {
		return fmt.Errorf("gateway configuration: %w", err)
	}

	// The write deadline must leave room to send the 500 after an upstream timeout.
	if c.Server.WriteTimeout > 0 && c.Server.WriteTimeout <= c.Gateway.UpstreamTimeout {
		return fmt.Errorf("server write_timeout %s must exceed gateway upstream_timeout %s",
			c.Server.WriteTimeout, c.Gateway.UpstreamTimeout)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}

	return nil
}

// Validate performs validation of server configuration
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		c.Address = defaultDataAddress
	}
	if strings.TrimSpace(c.AdminAddress) == "" {
		c.AdminAddress = defaultAdminAddress
	}
	if c.Address == c.AdminAddress {
		return fmt.Errorf("admin_address %q conflicts with address", c.AdminAddress)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.IdleTimeout < 0 {
		return fmt.Errorf("server timeouts must not be negative")
	}
	return nil
}

// Validate performs validation of the forwarding configuration
func (c *GatewayConfig) Validate() error {
	if strings.TrimSpace(c.Service) == "" {
		c.Service = DefaultServiceName
	}
	if err := (governance.TimeoutConfig{RequestTimeout: c.UpstreamTimeout}).Validate(); err != nil {
		return fmt.Errorf("upstream_timeout: %w", err)
	}

	seen := make(map[string]bool, len(c.Routes))
	for i, r := range c.Routes {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("route %d: %w", i, err)
		}
		if seen[r.Path] {
			return fmt.Errorf("route %d: duplicate path %q", i, r.Path)
		}
		seen[r.Path] = true
	}
	return nil
}

// Validate checks a single route binding.
func (r RouteConfig) Validate() error {
	if !strings.HasPrefix(r.Path, "/") || len(r.Path) < 2 {
		return fmt.Errorf("path %q must start with / and name a resource", r.Path)
	}
	if strings.HasSuffix(r.Path, "/") {
		return fmt.Errorf("path %q must not end with /", r.Path)
	}
	if path.Clean(r.Path) != r.Path {
		return fmt.Errorf("path %q is not clean, use %q", r.Path, path.Clean(r.Path))
	}
	if strings.ContainsFunc(r.Path, invalidPathRune) {
		return fmt.Errorf("path %q contains invalid characters", r.Path)
	}
	if r.Path == "/health" {
		return fmt.Errorf("path %q is reserved for the liveness probe", r.Path)
	}
	if strings.TrimSpace(r.Domain) == "" {
		return fmt.Errorf("domain is required for path %q", r.Path)
	}
	if _, err := parseBaseURL(r.URL); err != nil {
		return fmt.Errorf("domain %q: %w", r.Domain, err)
	}
	return nil
}

func invalidPathRune(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsControl(r) || strings.ContainsRune("{}?#%", r)
}

func parseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("url %q must use http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("url %q has no host", raw)
	}
	return u, nil
}

// Validate performs validation of logging configuration
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}
	if strings.TrimSpace(c.Format) == "" {
		c.Format = "json"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}

	format := strings.TrimSpace(strings.ToLower(c.Format))
	switch format {
	case "json", "text":
		c.Format = format
	default:
		return fmt.Errorf("invalid log format %q, supported formats: json, text", c.Format)
	}
	return nil
}
