package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the server
type Metrics struct {
	// Connection metrics
	activeSessions    prometheus.Gauge
	connectionsOpened prometheus.Counter
	connectionsClosed prometheus.Counter
	sessionsSignedIn  prometheus.Counter

	// Frame metrics
	framesReceived *prometheus.CounterVec // by command
	framesSent     *prometheus.CounterVec // by frame type

	// Message and fan-out metrics
	messagesCreated  prometheus.Counter
	fanoutDelivered  prometheus.Counter
	fanoutSkipped    prometheus.Counter
	fanoutRecipients prometheus.Histogram
}

// NewMetrics creates a new metrics instance. Call at most once per process;
// collectors register themselves globally.
func NewMetrics() *Metrics {
	return &Metrics{
		activeSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "driftchat_active_sessions",
				Help: "Current number of signed-in sessions",
			},
		),
		connectionsOpened: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "driftchat_connections_opened_total",
				Help: "Total number of WebSocket connections accepted",
			},
		),
		connectionsClosed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "driftchat_connections_closed_total",
				Help: "Total number of WebSocket connections closed",
			},
		),
		sessionsSignedIn: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "driftchat_sessions_signed_in_total",
				Help: "Total number of successful sign-ins",
			},
		),
		framesReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftchat_frames_received_total",
				Help: "Total number of frames received from clients by command",
			},
			[]string{"command"},
		),
		framesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftchat_frames_sent_total",
				Help: "Total number of frames sent to clients by type",
			},
			[]string{"type"},
		),
		messagesCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "driftchat_messages_created_total",
				Help: "Total number of messages persisted and announced",
			},
		),
		fanoutDelivered: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "driftchat_fanout_delivered_total",
				Help: "Total number of DISCUSSION_UPDATED frames pushed to local connections",
			},
		),
		fanoutSkipped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "driftchat_fanout_skipped_total",
				Help: "Total number of fan-out deliveries skipped (stale handle or dead transport)",
			},
		),
		fanoutRecipients: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "driftchat_fanout_recipients",
				Help:    "Number of local connections that received each broadcast event",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
		),
	}
}

// RecordActiveSessions updates the signed-in session count
func (m *Metrics) RecordActiveSessions(count int) {
	m.activeSessions.Set(float64(count))
}

// RecordConnectionOpened increments the accepted-connection counter
func (m *Metrics) RecordConnectionOpened() {
	m.connectionsOpened.Inc()
}

// RecordConnectionClosed increments the closed-connection counter
func (m *Metrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

// RecordSessionSignedIn increments the sign-in counter
func (m *Metrics) RecordSessionSignedIn() {
	m.sessionsSignedIn.Inc()
}

// RecordFrameReceived increments the received counter for a command
func (m *Metrics) RecordFrameReceived(command string) {
	m.framesReceived.WithLabelValues(command).Inc()
}

// RecordFrameSent increments the sent counter for a frame type
func (m *Metrics) RecordFrameSent(frameType string) {
	m.framesSent.WithLabelValues(frameType).Inc()
}

// RecordMessageCreated increments the message creation counter
func (m *Metrics) RecordMessageCreated() {
	m.messagesCreated.Inc()
}

// RecordFanout records the outcome of one fan-out pass
func (m *Metrics) RecordFanout(delivered, skipped int) {
	m.fanoutDelivered.Add(float64(delivered))
	m.fanoutSkipped.Add(float64(skipped))
	m.fanoutRecipients.Observe(float64(delivered))
}
