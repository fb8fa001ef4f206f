// Package metrics exposes Prometheus collectors for SASL attempt
// outcomes: a struct of vectors built against a private registry in
// New, so a caller can run more than one Collector (one per configured
// server profile, say) without the usual default-registry
// double-registration panic.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the Prometheus metrics for one or more SASL clients.
type Collector struct {
	Registry *prometheus.Registry

	attemptsTotal  *prometheus.CounterVec
	successesTotal *prometheus.CounterVec
	failuresTotal  *prometheus.CounterVec
	timeoutsTotal  *prometheus.CounterVec
	oversizeTotal  *prometheus.CounterVec
	outcomeLatency *prometheus.HistogramVec
}

// New creates and registers the SASL metrics against a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sasl_attempts_total",
				Help: "Total number of SASL authentication attempts started",
			},
			[]string{"server", "mechanism"},
		),
		successesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sasl_successes_total",
				Help: "Total number of SASL authentication attempts that succeeded",
			},
			[]string{"server", "mechanism"},
		),
		failuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sasl_failures_total",
				Help: "Total number of SASL authentication attempts that failed, by reason",
			},
			[]string{"server", "mechanism", "reason"},
		),
		timeoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sasl_timeouts_total",
				Help: "Total number of SASL attempts that timed out waiting for the server",
			},
			[]string{"server", "mechanism"},
		),
		oversizeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sasl_oversize_challenges_total",
				Help: "Total number of challenges rejected for exceeding the reassembly size limit",
			},
			[]string{"server", "mechanism"},
		),
		outcomeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sasl_outcome_latency_seconds",
				Help:    "Time from AUTHENTICATE <mechanism> to a terminal outcome",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
			},
			[]string{"server", "mechanism", "result"},
		),
	}

	reg.MustRegister(
		c.attemptsTotal,
		c.successesTotal,
		c.failuresTotal,
		c.timeoutsTotal,
		c.oversizeTotal,
		c.outcomeLatency,
	)

	return c
}

// AttemptStarted records that a Session was handed Start().
func (c *Collector) AttemptStarted(server, mechanism string) {
	c.attemptsTotal.WithLabelValues(server, mechanism).Inc()
}

// Succeeded records a successful outcome and its latency since the
// attempt started.
func (c *Collector) Succeeded(server, mechanism string, d time.Duration) {
	c.successesTotal.WithLabelValues(server, mechanism).Inc()
	c.outcomeLatency.WithLabelValues(server, mechanism, "success").Observe(d.Seconds())
}

// Failed records a failed outcome, the reason the server gave, and
// latency since the attempt started.
func (c *Collector) Failed(server, mechanism, reason string, d time.Duration) {
	c.failuresTotal.WithLabelValues(server, mechanism, reason).Inc()
	c.outcomeLatency.WithLabelValues(server, mechanism, "failure").Observe(d.Seconds())
}

// TimedOut records a client-side timeout waiting for a challenge or
// a final numeric.
func (c *Collector) TimedOut(server, mechanism string, d time.Duration) {
	c.timeoutsTotal.WithLabelValues(server, mechanism).Inc()
	c.outcomeLatency.WithLabelValues(server, mechanism, "timeout").Observe(d.Seconds())
}

// OversizeChallenge records a challenge rejected by the reassembler
// for exceeding sasl.MaxEncoded.
func (c *Collector) OversizeChallenge(server, mechanism string) {
	c.oversizeTotal.WithLabelValues(server, mechanism).Inc()
}
