package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the SFU. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// Room metrics
	ActiveRooms prometheus.Gauge
	ActivePeers prometheus.Gauge
	Joins       prometheus.Counter
	RoomFull    prometheus.Counter
	PeersLeft   prometheus.Counter

	// Signaling metrics
	SignalingMessages *prometheus.CounterVec
	SignalingErrors   *prometheus.CounterVec

	// Media metrics
	ForwardedPackets *prometheus.CounterVec
	ForwardedBytes   *prometheus.CounterVec
	Renegotiations   prometheus.Counter
	KeyframeRequests prometheus.Counter

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveRooms: f.NewGauge(prometheus.GaugeOpts{
			Name: "huddle_active_rooms",
			Help: "Current number of rooms with at least one peer",
		}),
		ActivePeers: f.NewGauge(prometheus.GaugeOpts{
			Name: "huddle_active_peers",
			Help: "Current number of peers across all rooms",
		}),
		Joins: f.NewCounter(prometheus.CounterOpts{
			Name: "huddle_joins_total",
			Help: "Total number of successful room joins",
		}),
		RoomFull: f.NewCounter(prometheus.CounterOpts{
			Name: "huddle_room_full_total",
			Help: "Total number of joins rejected because the room was full",
		}),
		PeersLeft: f.NewCounter(prometheus.CounterOpts{
			Name: "huddle_peers_left_total",
			Help: "Total number of peers removed from rooms",
		}),

		SignalingMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_signaling_messages_total",
			Help: "Signaling messages received, by event",
		}, []string{"event"}),
		SignalingErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_signaling_errors_total",
			Help: "Signaling messages that failed to apply, by event",
		}, []string{"event"}),

		ForwardedPackets: f.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_forwarded_rtp_packets_total",
			Help: "RTP packets forwarded by the SFU, by media kind",
		}, []string{"kind"}),
		ForwardedBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_forwarded_rtp_bytes_total",
			Help: "RTP bytes forwarded by the SFU, by media kind",
		}, []string{"kind"}),
		Renegotiations: f.NewCounter(prometheus.CounterOpts{
			Name: "huddle_renegotiations_total",
			Help: "Server initiated offers sent to peers",
		}),
		KeyframeRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "huddle_keyframe_requests_total",
			Help: "PLI packets sent to publishers",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_http_requests_total",
			Help: "HTTP requests served, by method, endpoint and status",
		}, []string{"method", "endpoint", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "huddle_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordSignal counts an inbound signaling message.
func (m *Metrics) RecordSignal(event string) {
	if m == nil {
		return
	}
	m.SignalingMessages.WithLabelValues(event).Inc()
}

// RecordSignalError counts a signaling message that could not be applied.
func (m *Metrics) RecordSignalError(event string) {
	if m == nil {
		return
	}
	m.SignalingErrors.WithLabelValues(event).Inc()
}

// RecordJoin counts a successful join.
func (m *Metrics) RecordJoin() {
	if m == nil {
		return
	}
	m.Joins.Inc()
	m.ActivePeers.Inc()
}

// RecordLeave counts a removed peer.
func (m *Metrics) RecordLeave() {
	if m == nil {
		return
	}
	m.PeersLeft.Inc()
	m.ActivePeers.Dec()
}

// RecordRoomFull counts a rejected join.
func (m *Metrics) RecordRoomFull() {
	if m == nil {
		return
	}
	m.RoomFull.Inc()
}

// SetActiveRooms reports the current room count.
func (m *Metrics) SetActiveRooms(n int) {
	if m == nil {
		return
	}
	m.ActiveRooms.Set(float64(n))
}

// RecordForward counts one forwarded RTP packet.
func (m *Metrics) RecordForward(kind string, bytes int) {
	if m == nil {
		return
	}
	m.ForwardedPackets.WithLabelValues(kind).Inc()
	m.ForwardedBytes.WithLabelValues(kind).Add(float64(bytes))
}

// RecordRenegotiation counts a server offer.
func (m *Metrics) RecordRenegotiation() {
	if m == nil {
		return
	}
	m.Renegotiations.Inc()
}

// RecordKeyframeRequest counts a PLI.
func (m *Metrics) RecordKeyframeRequest() {
	if m == nil {
		return
	}
	m.KeyframeRequests.Inc()
}

// RecordHTTPRequest records a served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, status).Inc()
	m.HTTPDuration.WithLabelValues(method, endpoint).Observe(seconds)
}
