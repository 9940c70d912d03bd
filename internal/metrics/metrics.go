// Package metrics exposes Prometheus collectors for the form relay.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "formrelay"

// Submission outcomes.
const (
	OutcomeSent          = "sent"
	OutcomeHoneypot      = "honeypot"
	OutcomeBadRequest    = "bad_request"
	OutcomeInvalid       = "invalid"
	OutcomeNotConfigured = "not_configured"
	OutcomeSendFailed    = "send_failed"
	OutcomeAbandoned     = "abandoned"
	OutcomeNotAllowed    = "method_not_allowed"
)

const unknownForm = "unknown"

// Metrics holds the relay's collectors on a private registry. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry    *prometheus.Registry
	submissions *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	dispatch    *prometheus.HistogramVec
}

// New registers the collectors, plus the Go runtime and process collectors,
// on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Form submissions by form kind and outcome.",
		}, []string{"form", "outcome"}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attachments_dropped_total",
			Help:      "File parts discarded by the attachment policy.",
		}, []string{"reason"}),
		dispatch: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent handing a message to the mail transport.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"transport", "result"}),
	}
}

// Submission counts one finished request. An empty form is recorded as
// "unknown".
func (m *Metrics) Submission(form, outcome string) {
	if m == nil {
		return
	}
	if form == "" {
		form = unknownForm
	}
	m.submissions.WithLabelValues(form, outcome).Inc()
}

// AttachmentDropped counts one discarded file part.
func (m *Metrics) AttachmentDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

// Dispatch records one transport call.
func (m *Metrics) Dispatch(transport string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.dispatch.WithLabelValues(transport, result).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
