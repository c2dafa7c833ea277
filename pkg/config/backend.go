package config

import (
	"fmt"
	"os"
	"strings"
)

// BackendPorts lists the well-known listening port of each backend service.
var BackendPorts = map[string]int{
	"user":  3001,
	"order": 3002,
}

// BackendConfig holds configuration for a backend service process.
type BackendConfig struct {
	Service string
	Address string
	Logging LoggingConfig
}

// LoadBackend resolves a backend's configuration from defaults and environment.
// PORT overrides the well-known port; LOG_LEVEL and LOG_FORMAT tune logging.
func LoadBackend(service string) (*BackendConfig, error) {
	port, ok := BackendPorts[service]
	if !ok {
		return nil, fmt.Errorf("unknown backend service %q", service)
	}

	cfg := &BackendConfig{
		Service: service,
		Address: fmt.Sprintf(":%d", port),
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}

	if val := strings.TrimSpace(os.Getenv("PORT")); val != "" {
		cfg.Address = ":" + val
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}

	if err := cfg.Logging.Validate(); err != nil {
		return nil, fmt.Errorf("logging configuration: %w", err)
	}
	return cfg, nil
}
