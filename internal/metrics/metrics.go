// Package metrics exposes Prometheus collectors for the sponsorship service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the service-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "oneseed",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oneseed",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "oneseed",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oneseed",
			Subsystem: "submit",
			Name:      "batches_total",
			Help:      "Total number of batch submissions by channel and status.",
		},
		[]string{"channel", "status"},
	)

	submissionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "oneseed",
			Subsystem: "submit",
			Name:      "duration_seconds",
			Help:      "End-to-end duration of batch submissions.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"channel"},
	)

	fallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "oneseed",
			Subsystem: "submit",
			Name:      "fallbacks_total",
			Help:      "Number of submissions that fell back to the direct channel.",
		},
	)

	sponsoredAmount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oneseed",
			Subsystem: "sponsorship",
			Name:      "sponsored_amount_total",
			Help:      "Cumulative sponsored cost by policy.",
		},
		[]string{"policy"},
	)

	capClamps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oneseed",
			Subsystem: "sponsorship",
			Name:      "cap_clamps_total",
			Help:      "Number of cost splits clamped by a remaining sponsorship cap.",
		},
		[]string{"policy"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		submissions,
		submissionDuration,
		fallbacks,
		sponsoredAmount,
		capClamps,
	)
}

// Handler returns an HTTP handler exposing the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// IncrementInFlight increments the in-flight HTTP request gauge.
func IncrementInFlight() { httpInFlight.Inc() }

// DecrementInFlight decrements the in-flight HTTP request gauge.
func DecrementInFlight() { httpInFlight.Dec() }

// RecordHTTPRequest records one handled HTTP request.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSubmission records one batch submission outcome.
func RecordSubmission(channel, status string, duration time.Duration) {
	submissions.WithLabelValues(channel, status).Inc()
	submissionDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordFallback records a sponsored-to-direct fallback.
func RecordFallback() { fallbacks.Inc() }

// RecordSponsoredAmount accumulates sponsored cost for a policy.
func RecordSponsoredAmount(policy string, amount int64) {
	sponsoredAmount.WithLabelValues(policy).Add(float64(amount))
}

// RecordCapClamp records a split clamped by a remaining cap.
func RecordCapClamp(policy string) { capClamps.WithLabelValues(policy).Inc() }
