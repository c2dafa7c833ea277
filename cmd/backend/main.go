// Package main is the entry point for the backend service binary. Each
// subcommand runs one of the read-only domain services behind the gateway.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-gateway/internal/httpserver"
	"github.com/polisai/polis-gateway/pkg/backend"
	"github.com/polisai/polis-gateway/pkg/config"
	"github.com/polisai/polis-gateway/pkg/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "backend",
		Short: "Read-only domain services served behind the gateway",
		Long: `Runs one backend service. Each service answers GET /health and serves a
fixed collection on its own path.

Example:
  backend user --port 3001
  backend order`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	for _, name := range backend.Names() {
		rootCmd.AddCommand(newServiceCmd(name))
	}
	return rootCmd
}

func newServiceCmd(name string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("Run the %s service", name),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := buildConfig(cmd, name)
			if err != nil {
				return err
			}
			return runService(cmd, cfg)
		},
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides PORT)")
	cmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	return cmd
}

// buildConfig resolves defaults and environment, then applies flags.
func buildConfig(cmd *cobra.Command, name string) (*config.BackendConfig, error) {
	cfg, err := config.LoadBackend(name)
	if err != nil {
		return nil, err
	}

	port, err := cmd.Flags().GetString("port")
	if err != nil {
		return nil, fmt.Errorf("failed to get port flag: %w", err)
	}
	if port != "" {
		cfg.Address = ":" + port
	}

	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
		if err := cfg.Logging.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func runService(cmd *cobra.Command, cfg *config.BackendConfig) error {
	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}).With("service", cfg.Service)
	slog.SetDefault(logger)

	svc, err := backend.Lookup(cfg.Service)
	if err != nil {
		return err
	}

	srv, err := httpserver.Start(httpserver.Config{
		Name:    cfg.Service,
		Address: cfg.Address,
		Handler: backend.NewHandler(svc, logger),
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	logger.Info("Service running", "addr", srv.Addr(), "path", svc.Path)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return httpserver.Run(ctx, logger, srv)
}
