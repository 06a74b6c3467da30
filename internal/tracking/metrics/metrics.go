// Package metrics holds the Prometheus instruments for the tracking hub.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the hub's instruments. A nil *Metrics is a valid no-op.
type Metrics struct {
	ConnectionsActive   prometheus.Gauge
	ConnectsTotal       *prometheus.CounterVec
	DisconnectsTotal    *prometheus.CounterVec
	EventsPublished     *prometheus.CounterVec
	FramesDelivered     prometheus.Counter
	DeadConnections     prometheus.Counter
	ReapQueueDropped    prometheus.Counter
	InboundFrames       *prometheus.CounterVec
	InboundErrors       *prometheus.CounterVec
	LocationReports     *prometheus.CounterVec
	StoreLatency        *prometheus.HistogramVec
	CircuitOpen         prometheus.Gauge
	FeedEventsConsumed  *prometheus.CounterVec
	BackplaneForwarded  prometheus.Counter
	BackplaneDelivered  prometheus.Counter
	BroadcastFanoutSize prometheus.Histogram
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ConnectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "trackhub_connections_active",
			Help: "Current number of live websocket connections",
		}),
		ConnectsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trackhub_connects_total",
			Help: "Total number of accepted connections by role and client platform",
		}, []string{"role", "platform"}),
		DisconnectsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trackhub_disconnects_total",
			Help: "Total number of disconnects by reason",
		}, []string{"reason"}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trackhub_events_published_total",
			Help: "Total number of tracking events published by kind",
		}, []string{"kind"}),
		FramesDelivered: f.NewCounter(prometheus.CounterOpts{
			Name: "trackhub_frames_delivered_total",
			Help: "Total number of broadcast frames enqueued to connections",
		}),
		DeadConnections: f.NewCounter(prometheus.CounterOpts{
			Name: "trackhub_dead_connections_total",
			Help: "Total number of connections found dead during delivery",
		}),
		ReapQueueDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "trackhub_reap_queue_dropped_total",
			Help: "Reap requests dropped because the reap queue was full",
		}),
		InboundFrames: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trackhub_inbound_frames_total",
			Help: "Total number of client frames received by type",
		}, []string{"type"}),
		InboundErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trackhub_inbound_errors_total",
			Help: "Total number of client operations that failed, by type and error code",
		}, []string{"type", "code"}),
		LocationReports: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trackhub_location_reports_total",
			Help: "Total number of position reports by outcome",
		}, []string{"outcome"}),
		StoreLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trackhub_location_store_duration_seconds",
			Help:    "Latency of location store calls",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 3},
		}, []string{"operation"}),
		CircuitOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "trackhub_location_store_circuit_open",
			Help: "1 when the location store circuit breaker is open",
		}),
		FeedEventsConsumed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trackhub_feed_events_total",
			Help: "Total number of events consumed from external feeds by source and outcome",
		}, []string{"source", "outcome"}),
		BackplaneForwarded: f.NewCounter(prometheus.CounterOpts{
			Name: "trackhub_backplane_forwarded_total",
			Help: "Total number of events forwarded to peer instances",
		}),
		BackplaneDelivered: f.NewCounter(prometheus.CounterOpts{
			Name: "trackhub_backplane_received_total",
			Help: "Total number of events received from peer instances",
		}),
		BroadcastFanoutSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trackhub_broadcast_fanout",
			Help:    "Number of target connections per broadcast",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
}

func (m *Metrics) IncrementConnects(role, platform string) {
	if m == nil {
		return
	}
	m.ConnectsTotal.WithLabelValues(role, platform).Inc()
	m.ConnectionsActive.Inc()
}

func (m *Metrics) IncrementDisconnects(reason string) {
	if m == nil {
		return
	}
	m.DisconnectsTotal.WithLabelValues(reason).Inc()
	m.ConnectionsActive.Dec()
}

func (m *Metrics) IncrementEventsPublished(kind string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(kind).Inc()
}

// ObserveBroadcast records one fan-out: targets resolved, frames enqueued and
// connections found dead.
func (m *Metrics) ObserveBroadcast(targets, delivered, dead int) {
	if m == nil {
		return
	}
	m.BroadcastFanoutSize.Observe(float64(targets))
	m.FramesDelivered.Add(float64(delivered))
	m.DeadConnections.Add(float64(dead))
}

func (m *Metrics) IncrementReapDropped() {
	if m == nil {
		return
	}
	m.ReapQueueDropped.Inc()
}

func (m *Metrics) IncrementInbound(frameType string) {
	if m == nil {
		return
	}
	m.InboundFrames.WithLabelValues(frameType).Inc()
}

func (m *Metrics) IncrementInboundError(frameType, code string) {
	if m == nil {
		return
	}
	m.InboundErrors.WithLabelValues(frameType, code).Inc()
}

func (m *Metrics) IncrementLocationReports(outcome string) {
	if m == nil {
		return
	}
	m.LocationReports.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveStoreLatency(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.StoreLatency.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) SetCircuitOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CircuitOpen.Set(1)
		return
	}
	m.CircuitOpen.Set(0)
}

func (m *Metrics) IncrementFeedEvents(source, outcome string) {
	if m == nil {
		return
	}
	m.FeedEventsConsumed.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) IncrementBackplaneForwarded() {
	if m == nil {
		return
	}
	m.BackplaneForwarded.Inc()
}

func (m *Metrics) IncrementBackplaneReceived() {
	if m == nil {
		return
	}
	m.BackplaneDelivered.Inc()
}
