package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/machfivewheels/formrelay/internal/certs"
	"github.com/machfivewheels/formrelay/internal/handler"
	"github.com/machfivewheels/formrelay/internal/intake"
	"github.com/machfivewheels/formrelay/internal/mailer"
	"github.com/machfivewheels/formrelay/internal/metrics"
	"github.com/machfivewheels/formrelay/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the form endpoint over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger := a.cfg, a.logger

			tlsConfig, err := certs.ServerConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.SelfSigned)
			if err != nil {
				return fmt.Errorf("failed to setup TLS: %w", err)
			}

			tr, err := buildTransport(cmd.Context(), cfg, logger, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			var m *metrics.Metrics
			if cfg.Metrics.Enabled {
				m = metrics.New()
			}

			dispatcher := mailer.New(tr, mailerOptions(cfg, m))

			limits := intake.DefaultLimits()
			limits.MaxBodyBytes = cfg.HTTP.MaxBodyBytes

			gin.SetMode(gin.ReleaseMode)
			h := handler.New(dispatcher, handler.Options{
				SuccessURL:   cfg.Redirect.Success,
				RedirectMode: cfg.Redirect.Mode,
				ParseTimeout: cfg.HTTP.ParseTimeout,
				Limits:       limits,
				Metrics:      m,
			})

			srv := server.New(server.Config{
				ListenAddr: cfg.HTTP.Listen,
				Handler:    handler.NewRouter(h, cfg.HTTP.Route, m, logger),
				TLSConfig:  tlsConfig,
				Logger:     logger,
			})

			logger.Info("starting formrelay",
				"listen", cfg.HTTP.Listen,
				"route", cfg.HTTP.Route,
				"transport", dispatcher.TransportName(),
				"to", cfg.Mail.To,
				"redirect_mode", cfg.Redirect.Mode,
				"metrics_enabled", cfg.Metrics.Enabled,
				"tls_enabled", tlsConfig != nil,
			)

			// Setup graceful shutdown
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
			defer signal.Stop(sigCh)

			go func() {
				select {
				case sig := <-sigCh:
					logger.Info("received signal, initiating shutdown", "signal", sig)
					cancel()
				case <-ctx.Done():
				}
			}()

			if err := srv.ListenAndServe(ctx); err != nil {
				return fmt.Errorf("server error: %w", err)
			}

			logger.Info("formrelay stopped")
			return nil
		},
	}
}
