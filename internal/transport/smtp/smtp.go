// Package smtp implements a Transport that relays emails to an SMTP
// submission server.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/machfivewheels/formrelay/internal/email"
	"github.com/machfivewheels/formrelay/internal/logging"
)

// ImplicitTLSPort is the submission port that expects TLS from the first byte.
const ImplicitTLSPort = 465

// Config holds the configuration for creating a Transport.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// HeloName is announced in EHLO. Empty means "localhost". Sessions
	// upgraded with STARTTLS always greet as "localhost".
	HeloName string
	// ImplicitTLS wraps the connection in TLS before the greeting. It is
	// forced on for ImplicitTLSPort.
	ImplicitTLS bool
	// TLSConfig overrides the client TLS settings. ServerName defaults to Host.
	TLSConfig *tls.Config
}

// Transport opens one SMTP connection per message.
type Transport struct {
	cfg  Config
	addr string
	now  func() time.Time
}

// New creates a Transport for cfg.
func New(cfg Config) (*Transport, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid smtp port %d", cfg.Port)
	}
	if cfg.Port == ImplicitTLSPort {
		cfg.ImplicitTLS = true
	}

	return &Transport{
		cfg:  cfg,
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		now:  time.Now,
	}, nil
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "smtp"
}

// Send delivers msg in a single SMTP session. The session is aborted when
// ctx is done.
func (t *Transport) Send(ctx context.Context, msg *email.Email) error {
	raw, err := email.Compose(msg, t.now())
	if err != nil {
		return fmt.Errorf("failed to compose message: %w", err)
	}

	c, stop, err := t.open(ctx)
	if err != nil {
		return wrapCtx(ctx, err)
	}
	defer stop()
	defer c.Close()

	if err := t.deliver(ctx, c, msg, raw); err != nil {
		return wrapCtx(ctx, err)
	}
	return nil
}

// open returns a greeted client, upgraded to TLS when the server offers
// STARTTLS. go-smtp only upgrades a fresh connection, so an advertised
// STARTTLS ends the first session and the client reconnects through
// NewClientStartTLS, which greets as "localhost". The returned stop func
// detaches the context watcher.
func (t *Transport) open(ctx context.Context) (*gosmtp.Client, func() bool, error) {
	conn, err := t.dial(ctx)
	if err != nil {
		return nil, nil, err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	c := gosmtp.NewClient(conn)
	if err := c.Hello(t.heloName()); err != nil {
		stop()
		c.Close()
		return nil, nil, fmt.Errorf("EHLO failed: %w", err)
	}
	if t.cfg.ImplicitTLS {
		return c, stop, nil
	}
	if ok, _ := c.Extension("STARTTLS"); !ok {
		return c, stop, nil
	}

	stop()
	if err := c.Quit(); err != nil {
		c.Close()
	}

	conn, err = t.dial(ctx)
	if err != nil {
		return nil, nil, err
	}
	stop = context.AfterFunc(ctx, func() { conn.Close() })

	tc, err := gosmtp.NewClientStartTLS(conn, t.tlsConfig())
	if err != nil {
		stop()
		conn.Close()
		return nil, nil, fmt.Errorf("STARTTLS failed: %w", err)
	}
	return tc, stop, nil
}

func (t *Transport) dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", t.addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if !t.cfg.ImplicitTLS {
		return conn, nil
	}

	tlsConn := tls.Client(conn, t.tlsConfig())
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("TLS handshake with %s failed: %w", t.addr, err)
	}
	return tlsConn, nil
}

func (t *Transport) deliver(ctx context.Context, c *gosmtp.Client, msg *email.Email, raw []byte) error {
	logger := logging.FromContext(ctx)

	if t.cfg.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(sasl.NewPlainClient("", t.cfg.Username, t.cfg.Password)); err != nil {
				return fmt.Errorf("authentication failed: %w", err)
			}
		} else {
			logger.WarnContext(ctx, "smtp server does not advertise AUTH, sending unauthenticated", "addr", t.addr)
		}
	}

	if err := c.Mail(msg.From.Address, nil); err != nil {
		return fmt.Errorf("MAIL FROM rejected: %w", err)
	}
	for _, rcpt := range msg.To {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return fmt.Errorf("RCPT TO %s rejected: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA rejected: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("message rejected: %w", err)
	}

	if err := c.Quit(); err != nil {
		logger.DebugContext(ctx, "smtp QUIT failed after delivery", "addr", t.addr, "error", err)
	}
	return nil
}

func (t *Transport) heloName() string {
	if t.cfg.HeloName == "" {
		return "localhost"
	}
	return t.cfg.HeloName
}

// wrapCtx reports the context error when ctx ended the session.
func wrapCtx(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("smtp session aborted: %w (%v)", ctxErr, err)
	}
	return err
}

func (t *Transport) tlsConfig() *tls.Config {
	var cfg *tls.Config
	if t.cfg.TLSConfig != nil {
		cfg = t.cfg.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = t.cfg.Host
	}
	return cfg
}
