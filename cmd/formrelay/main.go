// Package main is the entry point for the form relay.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/machfivewheels/formrelay/internal/config"
	"github.com/machfivewheels/formrelay/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries state shared by every subcommand once flags are parsed.
type app struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "formrelay",
		Short: "Relay website form submissions to email",
		Long: `formrelay accepts dealer application and contact form POSTs from the
Mach Five Wheels site, validates them and forwards each one as a single
email through SMTP, Resend, AWS SES or Microsoft Graph.

Example:
  formrelay serve                      # Run the HTTP endpoint
  formrelay serve --config relay.yaml  # YAML base config, env overrides
  formrelay send-test                  # Push one sample message`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(a.configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			a.cfg = cfg
			a.logger = logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to YAML configuration file (optional)")

	serve := newServeCmd(a)
	root.AddCommand(serve, newSendTestCmd(a))

	// Running the bare binary serves.
	root.RunE = serve.RunE
	return root
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}
