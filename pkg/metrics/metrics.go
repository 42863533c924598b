// Package metrics collects Prometheus counters for the observation pipeline:
// event ingest, reconnects, reconciliations and retry batches.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the missionwatch metric set. A nil *Collector is valid and
// records nothing, so wiring metrics stays optional.
type Collector struct {
	eventsApplied   *prometheus.CounterVec
	eventsDropped   prometheus.Counter
	eventsUnknown   prometheus.Counter
	reconnects      prometheus.Counter
	reconciliations prometheus.Counter
	retryBatches    prometheus.Counter
	retryRequests   prometheus.Counter
	retryFailures   prometheus.Counter
	nodesTracked    prometheus.Gauge
}

// NewCollector creates and registers the metric set on reg. Passing nil
// registers on the default registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		eventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "missionwatch_events_applied_total",
			Help: "Stream events applied to the state store, by event type",
		}, []string{"type"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "missionwatch_events_dropped_total",
			Help: "Malformed stream frames dropped",
		}),
		eventsUnknown: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "missionwatch_events_unknown_total",
			Help: "Stream frames ignored because their type is unknown",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "missionwatch_reconnects_total",
			Help: "WebSocket reconnect attempts",
		}),
		reconciliations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "missionwatch_reconciliations_total",
			Help: "REST reconciliation fetches after reconnect",
		}),
		retryBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "missionwatch_retry_batches_total",
			Help: "Retry batches executed",
		}),
		retryRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "missionwatch_retry_requests_total",
			Help: "Individual node retry requests issued",
		}),
		retryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "missionwatch_retry_failures_total",
			Help: "Node retry requests rejected by the engine",
		}),
		nodesTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "missionwatch_nodes_tracked",
			Help: "Nodes currently tracked in the state store",
		}),
	}

	reg.MustRegister(
		c.eventsApplied,
		c.eventsDropped,
		c.eventsUnknown,
		c.reconnects,
		c.reconciliations,
		c.retryBatches,
		c.retryRequests,
		c.retryFailures,
		c.nodesTracked,
	)
	return c
}

// RecordEventApplied counts one applied stream event.
func (c *Collector) RecordEventApplied(eventType string) {
	if c == nil {
		return
	}
	c.eventsApplied.WithLabelValues(eventType).Inc()
}

// RecordEventDropped counts one malformed frame.
func (c *Collector) RecordEventDropped() {
	if c == nil {
		return
	}
	c.eventsDropped.Inc()
}

// RecordEventUnknown counts one frame with an unrecognized type.
func (c *Collector) RecordEventUnknown() {
	if c == nil {
		return
	}
	c.eventsUnknown.Inc()
}

// RecordReconnect counts one reconnect attempt.
func (c *Collector) RecordReconnect() {
	if c == nil {
		return
	}
	c.reconnects.Inc()
}

// RecordReconciliation counts one REST resync.
func (c *Collector) RecordReconciliation() {
	if c == nil {
		return
	}
	c.reconciliations.Inc()
}

// RecordRetryBatch counts one executed retry batch.
func (c *Collector) RecordRetryBatch() {
	if c == nil {
		return
	}
	c.retryBatches.Inc()
}

// RecordRetryRequest counts one issued node retry request.
func (c *Collector) RecordRetryRequest() {
	if c == nil {
		return
	}
	c.retryRequests.Inc()
}

// RecordRetryFailure counts one rejected node retry request.
func (c *Collector) RecordRetryFailure() {
	if c == nil {
		return
	}
	c.retryFailures.Inc()
}

// SetNodesTracked records the current node count.
func (c *Collector) SetNodesTracked(n int) {
	if c == nil {
		return
	}
	c.nodesTracked.Set(float64(n))
}
