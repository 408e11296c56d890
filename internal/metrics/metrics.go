// Package metrics exposes prometheus collectors for cache, remote and sync activity.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "wirechat_client"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	cacheOps     *prometheus.CounterVec
	remoteOps    *prometheus.CounterVec
	liveEvents   *prometheus.CounterVec
	staleResults *prometheus.CounterVec
	pruned       *prometheus.CounterVec
	viewMessages prometheus.Gauge
}

// New creates collectors registered on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Local cache operations by operation and result.",
		}, []string{"op", "result"}),
		remoteOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_operations_total",
			Help:      "Remote store operations by operation and result.",
		}, []string{"op", "result"}),
		liveEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_events_total",
			Help:      "Change feed events by disposition.",
		}, []string{"disposition"}),
		staleResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_results_total",
			Help:      "Results discarded because a newer selection superseded them.",
		}, []string{"kind"}),
		pruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_pruned_total",
			Help:      "Records removed by eviction passes.",
		}, []string{"kind"}),
		viewMessages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "view_messages",
			Help:      "Messages in the active conversation view.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.cacheOps,
		m.remoteOps,
		m.liveEvents,
		m.staleResults,
		m.pruned,
		m.viewMessages,
	)
	return m
}

// Registry returns the registry holding all collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// CacheOp counts a cache operation. unavailable is matched with errors.Is by the caller's sentinel.
func (m *Metrics) CacheOp(op string, err error, unavailable error) {
	if m == nil {
		return
	}
	m.cacheOps.WithLabelValues(op, result(err, unavailable)).Inc()
}

// RemoteOp counts a remote operation.
func (m *Metrics) RemoteOp(op string, err error) {
	if m == nil {
		return
	}
	m.remoteOps.WithLabelValues(op, result(err, nil)).Inc()
}

// LiveEvent counts a change feed event with its disposition (appended, buffered, duplicate, stale,
// feed_lost, feed_restored).
func (m *Metrics) LiveEvent(disposition string) {
	if m == nil {
		return
	}
	m.liveEvents.WithLabelValues(disposition).Inc()
}

// StaleResult counts a discarded out-of-date result.
func (m *Metrics) StaleResult(kind string) {
	if m == nil {
		return
	}
	m.staleResults.WithLabelValues(kind).Inc()
}

// Pruned counts records removed by eviction.
func (m *Metrics) Pruned(messages, conversations int) {
	if m == nil {
		return
	}
	m.pruned.WithLabelValues("messages").Add(float64(messages))
	m.pruned.WithLabelValues("conversations").Add(float64(conversations))
}

// ViewMessages records the size of the active view.
func (m *Metrics) ViewMessages(n int) {
	if m == nil {
		return
	}
	m.viewMessages.Set(float64(n))
}

func result(err, unavailable error) string {
	switch {
	case err == nil:
		return "ok"
	case unavailable != nil && errors.Is(err, unavailable):
		return "unavailable"
	default:
		return "error"
	}
}
