// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package controlif

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/noldarim/wlctl/pkg/controlif/errdefs"
	"github.com/noldarim/wlctl/pkg/controlif/wire"
)

// Metrics holds the client's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	inflight      prometheus.Gauge
	notifications prometheus.Counter
	events        prometheus.Counter
	logLines      prometheus.Counter
	waiters       *prometheus.CounterVec
	connState     *prometheus.GaugeVec
}

// NewMetrics registers the client collectors with reg under namespace.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "controlif",
				Name:      "requests_total",
				Help:      "Requests sent to the control interface by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "controlif",
				Name:      "request_duration_seconds",
				Help:      "Time from sending a request to its completion",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
			},
			[]string{"kind"},
		),
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "controlif",
			Name:      "requests_in_flight",
			Help:      "Requests awaiting a response",
		}),
		notifications: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controlif",
			Name:      "notifications_total",
			Help:      "Unsolicited state notifications received",
		}),
		events: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controlif",
			Name:      "events_total",
			Help:      "Events delivered to subscriptions",
		}),
		logLines: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controlif",
			Name:      "log_lines_total",
			Help:      "Log lines delivered to log campaigns",
		}),
		waiters: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "controlif",
				Name:      "waiters_total",
				Help:      "Finished state waiters by final state",
			},
			[]string{"state"},
		),
		connState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "controlif",
				Name:      "connection_state",
				Help:      "1 for the current connection state, 0 for the others",
			},
			[]string{"state"},
		),
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errdefs.ErrTimeout):
		return "timeout"
	case errors.Is(err, errdefs.ErrCancelled):
		return "cancelled"
	case errors.Is(err, errdefs.ErrRequest):
		return "rejected"
	case errors.Is(err, errdefs.ErrConnectionLost), errors.Is(err, errdefs.ErrConnection):
		return "connection"
	default:
		return "error"
	}
}

func (m *Metrics) requestStarted() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

func (m *Metrics) requestDone(kind wire.RequestKind, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inflight.Dec()
	m.requests.WithLabelValues(kind.String(), outcome(err)).Inc()
	m.latency.WithLabelValues(kind.String()).Observe(elapsed.Seconds())
}

func (m *Metrics) notification() {
	if m == nil {
		return
	}
	m.notifications.Inc()
}

func (m *Metrics) event() {
	if m == nil {
		return
	}
	m.events.Inc()
}

func (m *Metrics) logLinesReceived(n int) {
	if m == nil {
		return
	}
	m.logLines.Add(float64(n))
}

func (m *Metrics) waiterDone(state string) {
	if m == nil {
		return
	}
	m.waiters.WithLabelValues(state).Inc()
}

func (m *Metrics) setConnState(s ConnState) {
	if m == nil {
		return
	}
	for _, other := range ConnStates() {
		v := 0.0
		if other == s {
			v = 1
		}
		m.connState.WithLabelValues(other.String()).Set(v)
	}
}
