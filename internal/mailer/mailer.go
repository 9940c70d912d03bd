// Package mailer turns a composed form message into an outbound email and
// hands it to the configured transport exactly once.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/machfivewheels/formrelay/internal/email"
	"github.com/machfivewheels/formrelay/internal/form"
	"github.com/machfivewheels/formrelay/internal/logging"
	"github.com/machfivewheels/formrelay/internal/sanitize"
	"github.com/machfivewheels/formrelay/internal/transport"
)

// SiteHeader identifies which site produced a notification.
const SiteHeader = "X-M5-Site"

// ErrNotConfigured is returned when no transport is available.
var ErrNotConfigured = errors.New("email transport not configured")

// Options configures the outbound envelope.
type Options struct {
	// From is the sender mailbox; FromName its display name.
	From     string
	FromName string
	// To is the recipient mailbox.
	To string
	// SiteName is sent in the SiteHeader.
	SiteName string
	// FromSubmitterName shows "<submitter> via <FromName>" as the sender
	// display name.
	FromSubmitterName bool
	// SendTimeout bounds one transport call. Zero means no extra bound.
	SendTimeout time.Duration
	// OnResult, when set, observes every transport call.
	OnResult func(transport string, elapsed time.Duration, err error)
}

// SendError wraps a transport failure.
type SendError struct {
	Transport string
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s transport failed: %v", e.Transport, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Dispatcher sends composed messages through a Transport. It is safe for
// concurrent use when its transport is.
type Dispatcher struct {
	transport transport.Transport
	opts      Options
	newID     func() string
}

// New creates a Dispatcher. A nil transport yields a Dispatcher whose
// Configured reports false.
func New(t transport.Transport, opts Options) *Dispatcher {
	return &Dispatcher{
		transport: t,
		opts:      opts,
		newID:     uuid.NewString,
	}
}

// Configured reports whether a transport is available.
func (d *Dispatcher) Configured() bool {
	return d != nil && d.transport != nil
}

// TransportName returns the transport's name, or "" when not configured.
func (d *Dispatcher) TransportName() string {
	if !d.Configured() {
		return ""
	}
	return d.transport.Name()
}

// Build assembles the outbound email for msg without sending it.
func (d *Dispatcher) Build(msg *form.Message, attachments []email.Attachment) *email.Email {
	out := &email.Email{
		From:        email.Address{Name: d.displayName(msg), Address: d.opts.From},
		To:          []string{d.opts.To},
		Subject:     msg.Subject,
		TextBody:    msg.Body,
		MessageID:   d.newID() + "@" + domainOf(d.opts.From),
		Attachments: attachments,
	}
	if replyTo := sanitize.Sanitize(msg.ReplyTo); sanitize.IsValidEmail(replyTo) {
		out.ReplyTo = replyTo
	}
	if d.opts.SiteName != "" {
		out.Headers = map[string]string{SiteHeader: d.opts.SiteName}
	}
	return out
}

// Dispatch sends msg with all of its attachments in a single transport call.
// It never retries.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *form.Message, attachments []email.Attachment) error {
	if !d.Configured() {
		return ErrNotConfigured
	}

	out := d.Build(msg, attachments)

	if d.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.SendTimeout)
		defer cancel()
	}

	name := d.transport.Name()
	start := time.Now()
	err := d.transport.Send(ctx, out)
	elapsed := time.Since(start)

	if d.opts.OnResult != nil {
		d.opts.OnResult(name, elapsed, err)
	}

	logger := logging.FromContext(ctx).With(
		"transport", name,
		"form", string(msg.Kind),
		"subject", out.Subject,
		"attachments", len(out.Attachments),
		"attachment_bytes", out.TotalAttachmentBytes(),
		"message_id", out.MessageID,
		"duration", elapsed,
	)
	if err != nil {
		logger.ErrorContext(ctx, "mail dispatch failed", "error", err)
		return &SendError{Transport: name, Err: err}
	}
	logger.InfoContext(ctx, "mail dispatched")
	return nil
}

func (d *Dispatcher) displayName(msg *form.Message) string {
	if !d.opts.FromSubmitterName {
		return d.opts.FromName
	}
	sender := sanitize.Sanitize(msg.SenderName)
	switch {
	case sender == "":
		return d.opts.FromName
	case d.opts.FromName == "":
		return sender
	default:
		return sender + " via " + d.opts.FromName
	}
}

func domainOf(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}
