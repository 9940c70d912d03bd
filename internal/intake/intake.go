// Package intake turns an incoming form POST into a bounded, normalized
// Submission of text fields and accepted image attachments.
package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/machfivewheels/formrelay/internal/email"
)

const (
	// DefaultMaxFiles is the number of attachments kept per submission.
	DefaultMaxFiles = 8
	// DefaultMaxFileBytes is the per-attachment size cap (10 MiB).
	DefaultMaxFileBytes = 10 << 20
	// DefaultMaxFieldBytes caps a single multipart text field (1 MiB).
	DefaultMaxFieldBytes = 1 << 20
	// DefaultMaxFormBytes caps urlencoded and JSON bodies (1 MiB).
	DefaultMaxFormBytes = 1 << 20
	// DefaultMaxBodyBytes caps the whole request body (100 MiB).
	DefaultMaxBodyBytes = 100 << 20

	// fallbackFilename names attachments whose part carried no filename.
	fallbackFilename = "photo.jpg"
)

// acceptedTypes is the set of attachment media types kept by the parser.
var acceptedTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
	"image/gif":  {},
}

// Accepted reports whether mediaType may be attached to an outbound message.
func Accepted(mediaType string) bool {
	_, ok := acceptedTypes[strings.ToLower(mediaType)]
	return ok
}

// DropReason explains why a file part was not kept.
type DropReason string

const (
	DropTooMany  DropReason = "too_many"
	DropBadType  DropReason = "bad_type"
	DropTooLarge DropReason = "too_large"
	DropEmpty    DropReason = "empty"
)

// Limits bounds the resources a single request may consume while parsing.
type Limits struct {
	MaxFiles      int
	MaxFileBytes  int64
	MaxFieldBytes int64
	MaxFormBytes  int64
	MaxBodyBytes  int64

	// OnDrop, when set, is called for every discarded file part.
	OnDrop func(reason DropReason, filename, contentType string)
}

// DefaultLimits returns the production limits.
func DefaultLimits() Limits {
	return Limits{
		MaxFiles:      DefaultMaxFiles,
		MaxFileBytes:  DefaultMaxFileBytes,
		MaxFieldBytes: DefaultMaxFieldBytes,
		MaxFormBytes:  DefaultMaxFormBytes,
		MaxBodyBytes:  DefaultMaxBodyBytes,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxFiles <= 0 {
		l.MaxFiles = d.MaxFiles
	}
	if l.MaxFileBytes <= 0 {
		l.MaxFileBytes = d.MaxFileBytes
	}
	if l.MaxFieldBytes <= 0 {
		l.MaxFieldBytes = d.MaxFieldBytes
	}
	if l.MaxFormBytes <= 0 {
		l.MaxFormBytes = d.MaxFormBytes
	}
	if l.MaxBodyBytes <= 0 {
		l.MaxBodyBytes = d.MaxBodyBytes
	}
	return l
}

func (l Limits) drop(reason DropReason, filename, contentType string) {
	if l.OnDrop != nil {
		l.OnDrop(reason, filename, contentType)
	}
}

// Submission is the normalized, request-scoped result of parsing a form POST.
type Submission struct {
	// Fields maps a field name to its last seen value.
	Fields map[string]string
	// Attachments are the accepted files in arrival order.
	Attachments []email.Attachment
}

// ParseError reports a malformed, truncated or over-limit request body.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse request body: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse reads r's body according to its Content-Type. Multipart bodies are
// streamed part by part; all other bodies are read whole up to
// Limits.MaxFormBytes. The body is bounded by Limits.MaxBodyBytes and reads
// fail as soon as ctx is done.
func Parse(ctx context.Context, w http.ResponseWriter, r *http.Request, limits Limits) (*Submission, error) {
	limits = limits.withDefaults()

	body := http.MaxBytesReader(w, r.Body, limits.MaxBodyBytes)
	defer body.Close()
	reader := &contextReader{ctx: ctx, r: body}

	mediaType, params, err := contentType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	var sub *Submission
	switch {
	case mediaType == "multipart/form-data":
		sub, err = parseMultipart(reader, params["boundary"], limits)
	case mediaType == "application/json":
		sub, err = parseJSON(reader, limits)
	default:
		sub, err = parseURLEncoded(reader, limits)
	}
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	return sub, nil
}

// contentType parses the Content-Type header. An absent header is treated
// as urlencoded, the HTML form default.
func contentType(header string) (string, map[string]string, error) {
	if strings.TrimSpace(header) == "" {
		return "application/x-www-form-urlencoded", nil, nil
	}
	mediaType, params, err := mime.ParseMediaType(header)
	if err != nil {
		if errors.Is(err, mime.ErrInvalidMediaParameter) {
			return strings.ToLower(mediaType), params, nil
		}
		return "", nil, fmt.Errorf("invalid content type %q: %w", header, err)
	}
	return mediaType, params, nil
}

// contextReader fails reads once ctx is done so an abandoned upload stops
// consuming the stream.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
