// Package metrics defines the Prometheus collectors of the delivery engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job outcome labels
const (
	OutcomeSent     = "sent"
	OutcomeRetry    = "retry"
	OutcomeFailed   = "failed"
	OutcomeSkipped  = "skipped"
	OutcomeDeferred = "deferred"
	OutcomeParked   = "parked"
	// OutcomeLost counts jobs dropped because their claim was recovered by
	// another dispatcher before work started
	OutcomeLost = "lost"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	JobOutcomes         *prometheus.CounterVec
	SendDuration        *prometheus.HistogramVec
	TickDuration        prometheus.Histogram
	LimiterDecisions    *prometheus.CounterVec
	JobsEnqueued        *prometheus.CounterVec
	QueueDepth          *prometheus.GaugeVec
	DNSChecks           *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers the collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		JobOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "email_job_outcomes_total",
				Help: "Dispatcher outcomes per processed job",
			},
			[]string{"outcome"},
		),
		SendDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "email_send_duration_seconds",
				Help:    "Mail-submission call duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"transport", "result"},
		),
		TickDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "email_dispatch_tick_duration_seconds",
				Help:    "Duration of one dispatcher tick including the batch drain",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		LimiterDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "email_rate_limiter_decisions_total",
				Help: "Rate limiter results",
			},
			[]string{"result"}, // allowed, denied, error
		),
		JobsEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "email_jobs_enqueued_total",
				Help: "Jobs created per source",
			},
			[]string{"source"}, // campaign, automation, api
		),
		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "email_jobs",
				Help: "Current number of jobs per status",
			},
			[]string{"status"},
		),
		DNSChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deliverability_dns_checks_total",
				Help: "DNS record checks per record type and result",
			},
			[]string{"record", "result"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
			},
			[]string{"method", "path", "status"},
		),
	}
}

// RecordOutcome counts one processed job
func (m *Metrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.JobOutcomes.WithLabelValues(outcome).Inc()
}

// RecordSend observes one transport call
func (m *Metrics) RecordSend(transport, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.SendDuration.WithLabelValues(transport, result).Observe(d.Seconds())
}

// RecordTick observes one dispatcher tick
func (m *Metrics) RecordTick(d time.Duration) {
	if m == nil {
		return
	}
	m.TickDuration.Observe(d.Seconds())
}

// RecordLimiter counts one limiter decision
func (m *Metrics) RecordLimiter(result string) {
	if m == nil {
		return
	}
	m.LimiterDecisions.WithLabelValues(result).Inc()
}

// AddEnqueued counts n jobs created by source
func (m *Metrics) AddEnqueued(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.JobsEnqueued.WithLabelValues(source).Add(float64(n))
}

// SetQueueDepth publishes the per-status job counts
func (m *Metrics) SetQueueDepth(counts map[string]int) {
	if m == nil {
		return
	}
	for status, n := range counts {
		m.QueueDepth.WithLabelValues(status).Set(float64(n))
	}
}

// RecordDNSCheck counts one DNS record check
func (m *Metrics) RecordDNSCheck(record, result string) {
	if m == nil {
		return
	}
	m.DNSChecks.WithLabelValues(record, result).Inc()
}

// RecordHTTPRequest observes one HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(d.Seconds())
}
