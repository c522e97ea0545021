// Package metrics exposes prometheus collectors for the camp desk client and
// the camp simulator.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	realtimeConnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campdesk_realtime_connects_total",
			Help: "Realtime connection attempts by transport and outcome",
		},
		[]string{"transport", "status", "component"},
	)

	realtimeConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "campdesk_realtime_connected",
			Help: "1 when the realtime channel is connected",
		},
		[]string{"component"},
	)

	pushEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campdesk_push_events_total",
			Help: "Push events received by event name",
		},
		[]string{"event", "component"},
	)

	refetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campdesk_refetches_total",
			Help: "Refetches triggered by push-event hints",
		},
		[]string{"reason", "status", "component"},
	)

	gateChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campdesk_gate_checks_total",
			Help: "Eligibility checks by stage and resulting state",
		},
		[]string{"stage", "state", "component"},
	)

	gateCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "campdesk_gate_check_duration_seconds",
			Help:    "Latency of eligibility lookups",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"stage", "component"},
	)

	scanSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campdesk_scan_sessions_total",
			Help: "Scanner sessions by outcome",
		},
		[]string{"outcome", "component"},
	)

	registerOnce sync.Once
)

// Collector records metrics on behalf of one component. A nil *Collector is
// valid and records nothing.
type Collector struct {
	component string
}

// NewCollector registers the collectors with the default registry on first
// use and returns a Collector labelled with component.
func NewCollector(component string) *Collector {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			realtimeConnects,
			realtimeConnected,
			pushEvents,
			refetches,
			gateChecks,
			gateCheckDuration,
			scanSessions,
		)
	})
	return &Collector{component: component}
}

// RecordConnect records a realtime connection attempt.
func (c *Collector) RecordConnect(transport string, ok bool) {
	if c == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	realtimeConnects.WithLabelValues(transport, status, c.component).Inc()
}

// SetConnected mirrors the realtime connection state.
func (c *Collector) SetConnected(connected bool) {
	if c == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	realtimeConnected.WithLabelValues(c.component).Set(v)
}

// RecordPushEvent counts a received push event.
func (c *Collector) RecordPushEvent(event string) {
	if c == nil {
		return
	}
	pushEvents.WithLabelValues(event, c.component).Inc()
}

// RecordRefetch counts a hint-triggered refetch.
func (c *Collector) RecordRefetch(reason string, err error) {
	if c == nil {
		return
	}
	refetches.WithLabelValues(reason, strconv.FormatBool(err == nil), c.component).Inc()
}

// RecordGateCheck records an eligibility lookup and its resulting state.
func (c *Collector) RecordGateCheck(stage, state string, d time.Duration) {
	if c == nil {
		return
	}
	gateChecks.WithLabelValues(stage, state, c.component).Inc()
	gateCheckDuration.WithLabelValues(stage, c.component).Observe(d.Seconds())
}

// RecordScan counts a scanner session outcome (decoded, cancelled, permission, device).
func (c *Collector) RecordScan(outcome string) {
	if c == nil {
		return
	}
	scanSessions.WithLabelValues(outcome, c.component).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
