// Package metrics exposes Prometheus counters and gauges for the
// proxy's share/session/block activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector the proxy registers.
type Metrics struct {
	SharesAccepted  prometheus.Counter
	SharesRejected  *prometheus.CounterVec
	BlocksFound     prometheus.Counter
	ShareDifficulty prometheus.Histogram

	SessionsConnected prometheus.Gauge
	SessionsTotal     prometheus.Counter

	NetworkDifficulty prometheus.Gauge
}

// New creates and registers the proxy's metrics against reg.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SharesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "shares",
			Name:      "accepted_total",
			Help:      "Total number of accepted shares",
		}),
		SharesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "shares",
			Name:      "rejected_total",
			Help:      "Total number of rejected shares; every rejection is counted under code=\"rejected\"",
		}, []string{"code"}),
		BlocksFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "shares",
			Name:      "blocks_found_total",
			Help:      "Total number of blocks found by any connected worker",
		}),
		ShareDifficulty: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "shares",
			Name:      "difficulty",
			Help:      "Distribution of accepted share difficulty",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 16),
		}),
		SessionsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stratum",
			Name:      "sessions_connected",
			Help:      "Current number of connected Stratum sessions",
		}),
		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stratum",
			Name:      "sessions_total",
			Help:      "Total number of Stratum sessions ever accepted",
		}),
		NetworkDifficulty: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "template",
			Name:      "network_difficulty",
			Help:      "Current network difficulty of the active template",
		}),
	}

	reg.MustRegister(
		m.SharesAccepted,
		m.SharesRejected,
		m.BlocksFound,
		m.ShareDifficulty,
		m.SessionsConnected,
		m.SessionsTotal,
		m.NetworkDifficulty,
	)

	return m
}

// RecordConnect increments the lifetime session counter and the
// current-sessions gauge.
func (m *Metrics) RecordConnect() {
	m.SessionsTotal.Inc()
	m.SessionsConnected.Inc()
}

// RecordDisconnect decrements the current-sessions gauge.
func (m *Metrics) RecordDisconnect() {
	m.SessionsConnected.Dec()
}
