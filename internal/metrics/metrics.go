// Package metrics provides Prometheus metrics for the sensegrid hub.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "sensegrid"
)

// Rejection reasons used as label values on FramesRejected.
const (
	ReasonMalformed   = "malformed"
	ReasonUnknownNode = "unknown_node"
	ReasonReplay      = "replay"
	ReasonNoKey       = "no_key"
	ReasonAuthFailed  = "auth_failed"
)

// Metrics contains all Prometheus metrics for the hub.
type Metrics struct {
	// Ingest metrics
	FramesIngested prometheus.Counter
	FramesAccepted *prometheus.CounterVec
	FramesRejected *prometheus.CounterVec
	FrameBytes     prometheus.Counter

	// Node state metrics
	ValvePercent *prometheus.GaugeVec
	NodeLastSeen *prometheus.GaugeVec
	NodesTracked prometheus.Gauge

	// Gateway metrics
	GatewaysConnected prometheus.Gauge
	GatewaysTotal     prometheus.Counter
	GatewayDrops      *prometheus.CounterVec

	// Counter state metrics
	CounterCommits   prometheus.Counter
	CounterConflicts prometheus.Counter
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		// Ingest metrics
		FramesIngested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_ingested_total",
			Help:      "Total frames received from gateways",
		}),
		FramesAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_accepted_total",
			Help:      "Total frames that passed authentication by frame type",
		}, []string{"frame_type"}),
		FramesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_rejected_total",
			Help:      "Total frames rejected by reason",
		}, []string{"reason"}),
		FrameBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_bytes_total",
			Help:      "Total frame bytes received from gateways",
		}),

		// Node state metrics
		ValvePercent: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "valve_percent",
			Help:      "Last reported valve opening per node (0-100)",
		}, []string{"node_id"}),
		NodeLastSeen: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "node_last_seen_timestamp_seconds",
			Help:      "Unix timestamp of the last authenticated frame per node",
		}, []string{"node_id"}),
		NodesTracked: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes_tracked",
			Help:      "Number of nodes with at least one authenticated frame",
		}),

		// Gateway metrics
		GatewaysConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateways_connected",
			Help:      "Number of currently connected gateways",
		}),
		GatewaysTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateways_total",
			Help:      "Total gateway connections established",
		}),
		GatewayDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_drops_total",
			Help:      "Total gateway disconnections by reason",
		}, []string{"reason"}),

		// Counter state metrics
		CounterCommits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_commits_total",
			Help:      "Total successful message counter advances",
		}),
		CounterConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_conflicts_total",
			Help:      "Total counter commits lost to a concurrent frame",
		}),
	}

	return m
}

// RecordFrameIngested records a raw frame arriving from a gateway.
func (m *Metrics) RecordFrameIngested(size int) {
	m.FramesIngested.Inc()
	m.FrameBytes.Add(float64(size))
}

// RecordFrameAccepted records an authenticated frame.
func (m *Metrics) RecordFrameAccepted(frameType string) {
	m.FramesAccepted.WithLabelValues(frameType).Inc()
}

// RecordFrameRejected records a rejected frame.
func (m *Metrics) RecordFrameRejected(reason string) {
	m.FramesRejected.WithLabelValues(reason).Inc()
}

// RecordValvePercent records the last reported valve opening for a node.
func (m *Metrics) RecordValvePercent(nodeID string, percent int) {
	m.ValvePercent.WithLabelValues(nodeID).Set(float64(percent))
}

// RecordNodeSeen records an authenticated frame from a node.
func (m *Metrics) RecordNodeSeen(nodeID string, unixSeconds float64) {
	m.NodeLastSeen.WithLabelValues(nodeID).Set(unixSeconds)
}

// SetNodesTracked sets the number of known-active nodes.
func (m *Metrics) SetNodesTracked(count int) {
	m.NodesTracked.Set(float64(count))
}

// RecordGatewayConnect records a new gateway connection.
func (m *Metrics) RecordGatewayConnect() {
	m.GatewaysConnected.Inc()
	m.GatewaysTotal.Inc()
}

// RecordGatewayDisconnect records a gateway disconnection.
func (m *Metrics) RecordGatewayDisconnect(reason string) {
	m.GatewaysConnected.Dec()
	m.GatewayDrops.WithLabelValues(reason).Inc()
}

// RecordCounterCommit records a successful counter advance.
func (m *Metrics) RecordCounterCommit() {
	m.CounterCommits.Inc()
}

// RecordCounterConflict records a counter commit lost to a concurrent frame.
func (m *Metrics) RecordCounterConflict() {
	m.CounterConflicts.Inc()
}
