// Package resend implements a Transport for the Resend hosted email API.
package resend

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"

	"github.com/machfivewheels/formrelay/internal/email"
)

// DefaultEndpoint is the Resend send-email endpoint.
const DefaultEndpoint = "https://api.resend.com/emails"

// Config holds the configuration for creating a Transport.
type Config struct {
	APIKey   string
	Endpoint string
	// Timeout bounds one API call. The request context may cut it shorter.
	Timeout time.Duration
}

// Transport posts each message to the Resend API as JSON.
type Transport struct {
	endpoint string
	client   *resty.Client
}

// New creates a Transport for cfg.
func New(cfg Config) (*Transport, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("resend API key is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.APIKey).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "formrelay").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)

	return &Transport{endpoint: cfg.Endpoint, client: client}, nil
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "resend"
}

// Send delivers msg with one API call.
func (t *Transport) Send(ctx context.Context, msg *email.Email) error {
	var (
		result  sendResponse
		failure errorResponse
	)

	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(buildRequest(msg)).
		SetResult(&result).
		SetError(&failure).
		Post(t.endpoint)
	if err != nil {
		return fmt.Errorf("resend request failed: %w", err)
	}

	if resp.IsError() {
		apiErr := &APIError{
			StatusCode: resp.StatusCode(),
			Name:       failure.Name,
			Message:    failure.Message,
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode())
		}
		return apiErr
	}
	if result.ID == "" {
		return fmt.Errorf("resend returned status %d without a message id", resp.StatusCode())
	}
	return nil
}

// APIError is a non-success response from the Resend API.
type APIError struct {
	StatusCode int
	Name       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("resend API error (HTTP %d, %s): %s", e.StatusCode, e.Name, e.Message)
	}
	return fmt.Sprintf("resend API error (HTTP %d): %s", e.StatusCode, e.Message)
}

type sendRequest struct {
	From        string            `json:"from"`
	To          []string          `json:"to"`
	Subject     string            `json:"subject"`
	Text        string            `json:"text"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Attachments []attachment      `json:"attachments,omitempty"`
}

type attachment struct {
	Filename    string `json:"filename"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
}

type sendResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	StatusCode int    `json:"statusCode"`
	Name       string `json:"name"`
	Message    string `json:"message"`
}

func buildRequest(msg *email.Email) *sendRequest {
	req := &sendRequest{
		From:    msg.From.String(),
		To:      msg.To,
		Subject: msg.Subject,
		Text:    msg.TextBody,
		ReplyTo: msg.ReplyTo,
		Headers: msg.Headers,
	}
	if msg.MessageID != "" {
		headers := make(map[string]string, len(msg.Headers)+1)
		for k, v := range msg.Headers {
			headers[k] = v
		}
		headers["Message-ID"] = "<" + msg.MessageID + ">"
		req.Headers = headers
	}
	for _, att := range msg.Attachments {
		req.Attachments = append(req.Attachments, attachment{
			Filename:    att.Filename,
			Content:     base64.StdEncoding.EncodeToString(att.Content),
			ContentType: att.ContentType,
		})
	}
	return req
}
