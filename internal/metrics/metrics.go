// Package metrics exposes Prometheus instrumentation for the polling
// engine. A nil *Metrics is a valid no-op receiver, so callers don't
// need to guard every observation behind a config check.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kabilan/claude-bar/internal/model"
)

type Metrics struct {
	fetchAttempts    *prometheus.CounterVec
	scanDuration     *prometheus.HistogramVec
	pricingRefreshes *prometheus.CounterVec
	eventsDropped    prometheus.Counter
	usagePercent     *prometheus.GaugeVec
}

// New registers the collectors with reg and returns the handle.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		fetchAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "claudebar",
			Name:      "fetch_attempts_total",
			Help:      "Usage fetch attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		scanDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "claudebar",
			Name:      "log_scan_duration_seconds",
			Help:      "Duration of local log scans by provider.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"provider"}),
		pricingRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "claudebar",
			Name:      "pricing_refreshes_total",
			Help:      "Pricing catalog refresh attempts by result.",
		}, []string{"result"}),
		eventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "claudebar",
			Name:      "events_dropped_total",
			Help:      "Store events dropped due to slow subscribers.",
		}),
		usagePercent: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "claudebar",
			Name:      "usage_percent",
			Help:      "Latest maximum rate-window utilization by provider, 0..1.",
		}, []string{"provider"}),
	}
}

// FetchAttempt counts a usage fetch. outcome is "success",
// "error" or "credentials".
func (m *Metrics) FetchAttempt(p model.Provider, outcome string) {
	if m == nil {
		return
	}
	m.fetchAttempts.WithLabelValues(string(p), outcome).Inc()
}

// ObserveScan records the duration of a log scan in seconds.
func (m *Metrics) ObserveScan(p model.Provider, seconds float64) {
	if m == nil {
		return
	}
	m.scanDuration.WithLabelValues(string(p)).Observe(seconds)
}

// PricingRefresh counts a catalog refresh attempt by its result label.
func (m *Metrics) PricingRefresh(result string) {
	if m == nil {
		return
	}
	m.pricingRefreshes.WithLabelValues(result).Inc()
}

// EventDropped counts a store event lost to a slow subscriber.
func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

// SetUsage publishes the provider's current maximum utilization.
func (m *Metrics) SetUsage(p model.Provider, used float64) {
	if m == nil {
		return
	}
	m.usagePercent.WithLabelValues(string(p)).Set(used)
}
