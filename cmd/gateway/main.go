// Package main is the entry point for the gateway binary.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-gateway/internal/httpserver"
	"github.com/polisai/polis-gateway/pkg/config"
	"github.com/polisai/polis-gateway/pkg/gateway"
	"github.com/polisai/polis-gateway/pkg/logging"
	"github.com/polisai/polis-gateway/pkg/telemetry"
	"github.com/polisai/polis-gateway/pkg/upstream"
)

const telemetryShutdownTimeout = 5 * time.Second

// version is set at build time with -ldflags "-X main.version=...".
var version = config.DefaultVersion

// CLIConfig holds the parsed CLI flags. Empty values leave the loaded
// configuration untouched.
type CLIConfig struct {
	Config      string
	Port        string
	AdminListen string
	LogLevel    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gateway",
		Short: "API gateway for the user and order services",
		Long: `Single entry point that forwards /users and /orders to their backend
services and reports its own liveness on /health.

Backend addresses default to in-cluster DNS names and can be overridden with
USER_SERVICE_URL and ORDER_SERVICE_URL.

Example:
  USER_SERVICE_URL=http://localhost:3001 ORDER_SERVICE_URL=http://localhost:3002 gateway --port 3000`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runGateway,
	}

	rootCmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.Flags().StringP("port", "p", "", "Port to listen on (overrides PORT)")
	rootCmd.Flags().String("admin-listen", "", "Listen address for /healthz and /metrics")
	rootCmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")

	return rootCmd
}

func parseCLIConfig(cmd *cobra.Command) (*CLIConfig, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	port, err := cmd.Flags().GetString("port")
	if err != nil {
		return nil, fmt.Errorf("failed to get port flag: %w", err)
	}
	adminListen, err := cmd.Flags().GetString("admin-listen")
	if err != nil {
		return nil, fmt.Errorf("failed to get admin-listen flag: %w", err)
	}
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}

	return &CLIConfig{
		Config:      configPath,
		Port:        port,
		AdminListen: adminListen,
		LogLevel:    logLevel,
	}, nil
}

// buildConfig loads file and environment configuration, then applies flags.
func buildConfig(cli *CLIConfig) (*config.Config, error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, err
	}

	if cli.Port != "" {
		cfg.Server.Address = ":" + cli.Port
	}
	if cli.AdminListen != "" {
		cfg.Server.AdminAddress = cli.AdminListen
	}
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	if cfg.Gateway.Version == "" {
		cfg.Gateway.Version = version
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

// buildGateway resolves the route table once and wires the forwarding handler.
func buildGateway(cfg *config.Config, logger *slog.Logger, metrics *gateway.Metrics) (*gateway.Gateway, error) {
	routes, err := config.NewRouteTable(cfg.Gateway.Routes)
	if err != nil {
		return nil, err
	}

	for _, b := range routes.Bindings() {
		logger.Info("Route bound", "path", b.Path, "domain", b.Domain, "upstream", b.BaseURL.String())
	}
	if routes.Len() == 0 {
		logger.Warn("No routes configured, only /health is served")
	}

	return gateway.New(gateway.Options{
		Routes: routes,
		Client: upstream.NewClient(upstream.Config{
			Timeout: cfg.Gateway.UpstreamTimeout,
			Logger:  logger,
		}),
		Logger:  logger,
		Metrics: metrics,
		Service: cfg.Gateway.Service,
		Version: cfg.Gateway.Version,
	})
}

// newAdminHandler serves the operator endpoints on a separate listener.
func newAdminHandler(metrics *gateway.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

func runGateway(cmd *cobra.Command, _ []string) error {
	cli, err := parseCLIConfig(cmd)
	if err != nil {
		return err
	}
	cfg, err := buildConfig(cli)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := gateway.NewMetrics()

	telemetryShutdown, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName:    cfg.Gateway.Service,
		ServiceVersion: cfg.Gateway.Version,
		Environment:    os.Getenv("GATEWAY_ENVIRONMENT"),
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
		Registerer:     metrics.Registry(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer shutdownTelemetry(logger, telemetryShutdown)

	gw, err := buildGateway(cfg, logger, metrics)
	if err != nil {
		return err
	}

	dataSrv, err := httpserver.Start(httpserver.Config{
		Name:         "data",
		Address:      cfg.Server.Address,
		Handler:      gw.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	adminSrv, err := httpserver.Start(httpserver.Config{
		Name:    "admin",
		Address: cfg.Server.AdminAddress,
		Handler: newAdminHandler(metrics),
		Logger:  logger,
	})
	if err != nil {
		_ = dataSrv.Shutdown(context.Background())
		return err
	}

	logger.Info("API Gateway running",
		"service", cfg.Gateway.Service,
		"version", cfg.Gateway.Version,
		"addr", dataSrv.Addr(),
		"upstream_timeout", cfg.Gateway.UpstreamTimeout,
	)

	return httpserver.Run(ctx, logger, dataSrv, adminSrv)
}

func shutdownTelemetry(logger *slog.Logger, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Error("Telemetry shutdown error", "error", err)
	}
}
