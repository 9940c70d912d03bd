// Package handler serves the form submission endpoint.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/machfivewheels/formrelay/internal/form"
	"github.com/machfivewheels/formrelay/internal/intake"
	"github.com/machfivewheels/formrelay/internal/logging"
	"github.com/machfivewheels/formrelay/internal/mailer"
	"github.com/machfivewheels/formrelay/internal/metrics"
)

// Response bodies.
const (
	msgMethodNotAllowed = "Method Not Allowed"
	msgBadRequest       = "Bad Request"
	msgNotConfigured    = "Email transport not configured."
	msgSendFailed       = "Something went wrong. Please try again later."
)

// Redirect modes.
const (
	RedirectFixed   = "fixed"
	RedirectReferer = "referer"
)

// DefaultSuccessURL is where submitters land after a successful POST.
const DefaultSuccessURL = "/thank-you.html"

// Options configures a Handler.
type Options struct {
	// SuccessURL is the 303 target after a submission is accepted.
	SuccessURL string
	// RedirectMode is RedirectFixed or RedirectReferer. Referer mode sends
	// the submitter back to the same-host page that posted the form and
	// falls back to SuccessURL.
	RedirectMode string
	// ParseTimeout bounds reading the request body. Zero disables it.
	ParseTimeout time.Duration
	// Limits bounds body parsing.
	Limits intake.Limits
	// Metrics may be nil.
	Metrics *metrics.Metrics
}

// Handler runs one submission through parse, honeypot, classification,
// dispatch and response.
type Handler struct {
	dispatcher *mailer.Dispatcher
	opts       Options
}

// New creates a Handler. A dispatcher without a transport is allowed; such
// submissions fail with 500 after validation.
func New(dispatcher *mailer.Dispatcher, opts Options) *Handler {
	if opts.SuccessURL == "" {
		opts.SuccessURL = DefaultSuccessURL
	}
	if opts.RedirectMode == "" {
		opts.RedirectMode = RedirectFixed
	}
	return &Handler{dispatcher: dispatcher, opts: opts}
}

// Submit handles every method on the form route. Only POST is accepted.
func (h *Handler) Submit(c *gin.Context) {
	ctx := c.Request.Context()
	logger := logging.FromContext(ctx)

	if c.Request.Method != http.MethodPost {
		h.opts.Metrics.Submission("", metrics.OutcomeNotAllowed)
		c.Header("Allow", http.MethodPost)
		c.String(http.StatusMethodNotAllowed, msgMethodNotAllowed)
		return
	}

	sub, err := h.parse(c, logger)
	if err != nil {
		logger.WarnContext(ctx, "rejecting unreadable submission", "error", err)
		h.opts.Metrics.Submission("", metrics.OutcomeBadRequest)
		c.String(http.StatusBadRequest, msgBadRequest)
		return
	}

	if form.Honeypot(sub.Fields) {
		logger.InfoContext(ctx, "honeypot triggered, discarding submission")
		h.opts.Metrics.Submission("", metrics.OutcomeHoneypot)
		h.redirect(c)
		return
	}

	msg, err := form.Classify(sub.Fields)
	if err != nil {
		var verr *form.ValidationError
		if !errors.As(err, &verr) {
			verr = &form.ValidationError{Message: msgBadRequest}
		}
		logger.InfoContext(ctx, "submission failed validation", "form", string(verr.Kind), "rule", string(verr.Rule))
		h.opts.Metrics.Submission(string(verr.Kind), metrics.OutcomeInvalid)
		c.String(http.StatusBadRequest, verr.Message)
		return
	}

	if !h.dispatcher.Configured() {
		logger.ErrorContext(ctx, "no email transport configured", "form", string(msg.Kind))
		h.opts.Metrics.Submission(string(msg.Kind), metrics.OutcomeNotConfigured)
		c.String(http.StatusInternalServerError, msgNotConfigured)
		return
	}

	if err := ctx.Err(); err != nil {
		logger.WarnContext(ctx, "client went away before dispatch", "form", string(msg.Kind), "error", err)
		h.opts.Metrics.Submission(string(msg.Kind), metrics.OutcomeAbandoned)
		c.Abort()
		return
	}

	// A started dispatch is not cut short by the client hanging up.
	if err := h.dispatcher.Dispatch(context.WithoutCancel(ctx), msg, sub.Attachments); err != nil {
		h.opts.Metrics.Submission(string(msg.Kind), metrics.OutcomeSendFailed)
		c.String(http.StatusInternalServerError, msgSendFailed)
		return
	}

	h.opts.Metrics.Submission(string(msg.Kind), metrics.OutcomeSent)
	h.redirect(c)
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (h *Handler) parse(c *gin.Context, logger *slog.Logger) (*intake.Submission, error) {
	ctx := c.Request.Context()
	if h.opts.ParseTimeout > 0 {
		deadline := time.Now().Add(h.opts.ParseTimeout)
		// Not every writer supports deadlines; the context bound still applies.
		_ = http.NewResponseController(c.Writer).SetReadDeadline(deadline)

		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	limits := h.opts.Limits
	onDrop := limits.OnDrop
	limits.OnDrop = func(reason intake.DropReason, filename, contentType string) {
		h.opts.Metrics.AttachmentDropped(string(reason))
		logger.DebugContext(ctx, "attachment dropped",
			"reason", string(reason),
			"filename", filename,
			"content_type", contentType,
		)
		if onDrop != nil {
			onDrop(reason, filename, contentType)
		}
	}

	sub, err := intake.Parse(ctx, c.Writer, c.Request, limits)
	if err != nil {
		return nil, err
	}
	logger.DebugContext(ctx, "submission parsed",
		"fields", len(sub.Fields),
		"attachments", len(sub.Attachments),
	)
	return sub, nil
}

func (h *Handler) redirect(c *gin.Context) {
	c.Redirect(http.StatusSeeOther, h.successLocation(c.Request))
}

// successLocation picks the 303 target. In referer mode only an absolute
// http(s) referer on the request's own host is honored.
func (h *Handler) successLocation(r *http.Request) string {
	if h.opts.RedirectMode != RedirectReferer {
		return h.opts.SuccessURL
	}
	ref, err := url.Parse(r.Referer())
	if err != nil || ref.Host == "" || ref.Host != r.Host {
		return h.opts.SuccessURL
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return h.opts.SuccessURL
	}
	return ref.String()
}
