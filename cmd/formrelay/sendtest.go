package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/machfivewheels/formrelay/internal/form"
	"github.com/machfivewheels/formrelay/internal/mailer"
)

func newSendTestCmd(a *app) *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "send-test",
		Short: "Send one sample dealer application through the configured transport",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if to != "" {
				cfg.Mail.To = to
			}

			tr, err := buildTransport(cmd.Context(), cfg, a.logger, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			msg, err := form.Classify(map[string]string{
				"business": "Mach Five Test Garage",
				"contact":  "Test Submitter",
				"email":    "test@" + domainPart(cfg.Mail.From),
				"phone":    "(000) 000-0000",
				"message":  "This is a test submission sent by formrelay send-test.",
			})
			if err != nil {
				return fmt.Errorf("failed to build sample message: %w", err)
			}

			d := mailer.New(tr, mailerOptions(cfg, nil))
			if err := d.Dispatch(cmd.Context(), msg, nil); err != nil {
				if errors.Is(err, mailer.ErrNotConfigured) {
					return errors.New("no email transport configured")
				}
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "test message sent to %s via %s\n", cfg.Mail.To, d.TransportName())
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "override the recipient address")
	return cmd
}

func domainPart(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == '@' {
			return addr[i+1:]
		}
	}
	return "example.com"
}
