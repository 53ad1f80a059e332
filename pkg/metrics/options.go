package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a Manager.
type Option func(*Manager)

// WithNamespace prefixes every collector name. Empty keeps "orbit".
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithSubsystem inserts a subsystem between namespace and name, e.g. to tell
// a kiosk from the store when both scrape into one Prometheus.
func WithSubsystem(subsystem string) Option {
	return func(m *Manager) { m.subsystem = subsystem }
}

// WithLatencyBuckets replaces the millisecond buckets shared by the fetch,
// submission and HTTP latency histograms.
func WithLatencyBuckets(buckets ...float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.histogramBuckets = buckets
		}
	}
}

// WithRegisterer registers collectors on r instead of the default registerer.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(m *Manager) {
		if r != nil {
			m.registry = r
		}
	}
}
