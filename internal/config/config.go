// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the form relay.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport names accepted in mail.transport / MAIL_TRANSPORT.
const (
	TransportSMTP   = "smtp"
	TransportResend = "resend"
	TransportSES    = "ses"
	TransportGraph  = "graph"
	TransportStdout = "stdout"
)

// Redirect modes.
const (
	RedirectFixed   = "fixed"
	RedirectReferer = "referer"
)

const (
	defaultListen       = ":8080"
	defaultRoute        = "/api/mail"
	defaultTo           = "crew@machfivemotors.com"
	defaultFrom         = "no-reply@machfivewheels.com"
	defaultSiteName     = "Mach Five Wheels"
	defaultRedirect     = "/thank-you.html"
	defaultParseTimeout = 60 * time.Second
	defaultSendTimeout  = 30 * time.Second
	defaultMaxBodyBytes = 100 << 20
)

// Config holds the complete application configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Mail     MailConfig     `yaml:"mail"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Resend   ResendConfig   `yaml:"resend"`
	SES      SESConfig      `yaml:"ses"`
	Graph    GraphConfig    `yaml:"graph"`
	Redirect RedirectConfig `yaml:"redirect"`
	TLS      TLSConfig      `yaml:"tls"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// HTTPConfig holds the HTTP listener and request bounds.
type HTTPConfig struct {
	Listen       string        `yaml:"listen"`
	Route        string        `yaml:"route"`
	ParseTimeout time.Duration `yaml:"parse_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

// MailConfig holds the outbound envelope and transport choice.
type MailConfig struct {
	// Transport forces a transport. Empty means auto-detect.
	Transport         string        `yaml:"transport"`
	From              string        `yaml:"from"`
	FromName          string        `yaml:"from_name"`
	FromSubmitterName bool          `yaml:"from_submitter_name"`
	To                string        `yaml:"to"`
	SiteName          string        `yaml:"site_name"`
	SendTimeout       time.Duration `yaml:"send_timeout"`
}

// SMTPConfig holds the outbound SMTP relay settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	HeloName string `yaml:"helo_name"`
}

// ResendConfig holds the hosted email API settings.
type ResendConfig struct {
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`
}

// SESConfig holds AWS SES settings. Empty keys fall back to the default AWS
// credential chain.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// GraphConfig holds Microsoft Graph API credentials. Mail is sent as
// mail.from.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// RedirectConfig controls where successful submissions are sent.
type RedirectConfig struct {
	Mode    string `yaml:"mode"`
	Success string `yaml:"success"`
}

// TLSConfig holds TLS certificate file paths for the HTTP listener.
type TLSConfig struct {
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	SelfSigned bool   `yaml:"self_signed"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, cfg.validate()
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, cfg.validate()
}

// SMTPConfigured returns true if host, port and credentials are all set.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Host != "" &&
		c.SMTP.Port > 0 &&
		c.SMTP.Username != "" &&
		c.SMTP.Password != ""
}

// ResendConfigured returns true if an API key is set.
func (c *Config) ResendConfigured() bool {
	return c.Resend.APIKey != ""
}

// SESConfigured returns true if a region is set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != ""
}

// GraphConfigured returns true if all three Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != ""
}

// TLSEnabled returns true if the HTTP listener should serve TLS.
func (c *Config) TLSEnabled() bool {
	return c.TLS.SelfSigned || (c.TLS.CertFile != "" && c.TLS.KeyFile != "")
}

// SelectedTransport resolves which transport to build. An explicit
// mail.transport wins; otherwise SMTP is preferred over the hosted API.
// ok is false when the chosen transport lacks its required settings, or
// when nothing is configured.
func (c *Config) SelectedTransport() (name string, ok bool) {
	switch c.Mail.Transport {
	case TransportSMTP:
		return TransportSMTP, c.SMTPConfigured()
	case TransportResend:
		return TransportResend, c.ResendConfigured()
	case TransportSES:
		return TransportSES, c.SESConfigured()
	case TransportGraph:
		return TransportGraph, c.GraphConfigured()
	case TransportStdout:
		return TransportStdout, true
	}

	switch {
	case c.SMTPConfigured():
		return TransportSMTP, true
	case c.ResendConfigured():
		return TransportResend, true
	default:
		return "", false
	}
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.HTTP.Listen = defaultListen
	c.HTTP.Route = defaultRoute
	c.HTTP.ParseTimeout = defaultParseTimeout
	c.HTTP.MaxBodyBytes = defaultMaxBodyBytes
	c.Mail.From = defaultFrom
	c.Mail.To = defaultTo
	c.Mail.SiteName = defaultSiteName
	c.Mail.SendTimeout = defaultSendTimeout
	c.Redirect.Mode = RedirectFixed
	c.Redirect.Success = defaultRedirect
	c.Metrics.Enabled = true
	c.Logging.Level = "info"
	c.Logging.Format = "json"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values; malformed
// numbers, durations and booleans are ignored.
func (c *Config) applyEnvVars() {
	setString(&c.HTTP.Listen, "HTTP_LISTEN")
	setString(&c.HTTP.Route, "HTTP_ROUTE")
	setDuration(&c.HTTP.ParseTimeout, "PARSE_TIMEOUT")
	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil && size > 0 {
			c.HTTP.MaxBodyBytes = size
		}
	}

	if v := os.Getenv("MAIL_TRANSPORT"); v != "" {
		c.Mail.Transport = strings.ToLower(v)
	}
	setString(&c.Mail.From, "FROM_EMAIL")
	setString(&c.Mail.FromName, "FROM_NAME")
	setBool(&c.Mail.FromSubmitterName, "FROM_SUBMITTER_NAME")
	setString(&c.Mail.To, "TO_EMAIL")
	setString(&c.Mail.SiteName, "SITE_NAME")
	setDuration(&c.Mail.SendTimeout, "SEND_TIMEOUT")

	setString(&c.SMTP.Host, "SMTP_HOST")
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.SMTP.Port = port
		}
	}
	setString(&c.SMTP.Username, "SMTP_USER")
	setString(&c.SMTP.Password, "SMTP_PASS")
	setString(&c.SMTP.HeloName, "SMTP_HELO")

	setString(&c.Resend.APIKey, "RESEND_API_KEY")
	setString(&c.Resend.Endpoint, "RESEND_ENDPOINT")

	setString(&c.SES.Region, "SES_REGION")
	setString(&c.SES.AccessKeyID, "SES_ACCESS_KEY_ID")
	setString(&c.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY")

	setString(&c.Graph.TenantID, "GRAPH_TENANT_ID")
	setString(&c.Graph.ClientID, "GRAPH_CLIENT_ID")
	setString(&c.Graph.ClientSecret, "GRAPH_CLIENT_SECRET")

	if v := os.Getenv("REDIRECT_MODE"); v != "" {
		c.Redirect.Mode = strings.ToLower(v)
	}
	setString(&c.Redirect.Success, "SUCCESS_REDIRECT")

	setString(&c.TLS.CertFile, "TLS_CERT_FILE")
	setString(&c.TLS.KeyFile, "TLS_KEY_FILE")
	setBool(&c.TLS.SelfSigned, "TLS_SELF_SIGNED")

	setBool(&c.Metrics.Enabled, "METRICS_ENABLED")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
}

// validate rejects settings that cannot work at all. Missing transport
// credentials are not an error here; they surface per request.
func (c *Config) validate() error {
	switch c.Mail.Transport {
	case "", TransportSMTP, TransportResend, TransportSES, TransportGraph, TransportStdout:
	default:
		return fmt.Errorf("unknown mail transport %q", c.Mail.Transport)
	}
	switch c.Redirect.Mode {
	case RedirectFixed, RedirectReferer:
	default:
		return fmt.Errorf("unknown redirect mode %q", c.Redirect.Mode)
	}
	if !strings.HasPrefix(c.HTTP.Route, "/") {
		return fmt.Errorf("http route %q must start with /", c.HTTP.Route)
	}
	if c.Redirect.Success == "" {
		return fmt.Errorf("success redirect must not be empty")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
}
