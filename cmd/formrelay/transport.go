package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/machfivewheels/formrelay/internal/config"
	"github.com/machfivewheels/formrelay/internal/mailer"
	"github.com/machfivewheels/formrelay/internal/metrics"
	"github.com/machfivewheels/formrelay/internal/transport"
	"github.com/machfivewheels/formrelay/internal/transport/graph"
	"github.com/machfivewheels/formrelay/internal/transport/resend"
	"github.com/machfivewheels/formrelay/internal/transport/ses"
	"github.com/machfivewheels/formrelay/internal/transport/smtp"
	"github.com/machfivewheels/formrelay/internal/transport/stdout"
)

// buildTransport chooses the email delivery backend based on configuration.
// A missing or incomplete configuration is logged and yields a nil
// transport; the relay still starts and answers submissions with 500.
func buildTransport(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) (transport.Transport, error) {
	name, ok := cfg.SelectedTransport()
	if !ok {
		if name == "" {
			logger.Warn("no email transport configured; submissions will fail until one is set")
		} else {
			logger.Error("email transport selected but its settings are incomplete", "transport", name)
		}
		return nil, nil
	}

	switch name {
	case config.TransportSMTP:
		logger.Info("using SMTP transport",
			"host", cfg.SMTP.Host,
			"port", cfg.SMTP.Port,
			"implicit_tls", cfg.SMTP.Port == smtp.ImplicitTLSPort,
		)
		t, err := smtp.New(smtp.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			HeloName: cfg.SMTP.HeloName,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SMTP transport: %w", err)
		}
		return t, nil

	case config.TransportResend:
		logger.Info("using Resend transport")
		t, err := resend.New(resend.Config{
			APIKey:   cfg.Resend.APIKey,
			Endpoint: cfg.Resend.Endpoint,
			Timeout:  cfg.Mail.SendTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Resend transport: %w", err)
		}
		return t, nil

	case config.TransportSES:
		logger.Info("using AWS SES transport", "region", cfg.SES.Region)
		t, err := ses.New(ctx, ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES transport: %w", err)
		}
		return t, nil

	case config.TransportGraph:
		logger.Info("using Microsoft Graph transport", "sender", cfg.Mail.From)
		return graph.New(graph.Config{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       cfg.Mail.From,
		}), nil

	case config.TransportStdout:
		logger.Warn("using stdout transport; messages are printed, not delivered")
		return stdout.NewWithWriter(out), nil

	default:
		return nil, fmt.Errorf("unknown mail transport %q", name)
	}
}

func mailerOptions(cfg *config.Config, m *metrics.Metrics) mailer.Options {
	return mailer.Options{
		From:              cfg.Mail.From,
		FromName:          cfg.Mail.FromName,
		To:                cfg.Mail.To,
		SiteName:          cfg.Mail.SiteName,
		FromSubmitterName: cfg.Mail.FromSubmitterName,
		SendTimeout:       cfg.Mail.SendTimeout,
		OnResult:          m.Dispatch,
	}
}
