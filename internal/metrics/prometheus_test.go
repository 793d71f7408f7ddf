package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordSignal("join")
	m.RecordSignalError("offer")
	m.RecordJoin()
	m.RecordLeave()
	m.RecordRoomFull()
	m.SetActiveRooms(3)
	m.RecordForward("video", 1200)
	m.RecordRenegotiation()
	m.RecordKeyframeRequest()
	m.RecordHTTPRequest("GET", "/health", "200", 0.01)
}

func TestRecordJoinLeave(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordJoin()
	m.RecordJoin()
	m.RecordLeave()
	m.RecordForward("video", 1000)
	m.RecordForward("video", 500)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	values := map[string]float64{}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			switch {
			case metric.GetGauge() != nil:
				values[f.GetName()] = metric.GetGauge().GetValue()
			case metric.GetCounter() != nil:
				values[f.GetName()] += metric.GetCounter().GetValue()
			}
		}
	}

	checks := map[string]float64{
		"huddle_joins_total":                 2,
		"huddle_peers_left_total":            1,
		"huddle_active_peers":                1,
		"huddle_forwarded_rtp_packets_total": 2,
		"huddle_forwarded_rtp_bytes_total":   1500,
	}
	for name, want := range checks {
		if got := values[name]; got != want {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}
}
