package webrtc

import (
	"strings"
	"testing"
	"time"

	pion "github.com/pion/webrtc/v4"

	"github.com/BioHazard786/huddle/internal/config"
)

func iceWithTURN(relay bool) config.ICEConfig {
	return config.ICEConfig{
		STUNServer: config.DefaultSTUN,
		TURNServer: "turn.example.com",
		TURNUser:   "user",
		TURNPass:   "pass",
		ForceRelay: relay,
	}
}

func TestPeerConnectionConfigRelay(t *testing.T) {
	cfg := PeerConnectionConfig(iceWithTURN(true))
	if cfg.ICETransportPolicy != pion.ICETransportPolicyRelay {
		t.Errorf("policy = %s, want relay", cfg.ICETransportPolicy)
	}
	if len(cfg.ICEServers) != 2 {
		t.Fatalf("len(ICEServers) = %d, want 2", len(cfg.ICEServers))
	}
	if cfg.ICEServers[1].Username != "user" {
		t.Errorf("TURN username = %q", cfg.ICEServers[1].Username)
	}

	cfg = PeerConnectionConfig(iceWithTURN(false))
	if cfg.ICETransportPolicy != pion.ICETransportPolicyAll {
		t.Errorf("policy = %s, want all", cfg.ICETransportPolicy)
	}
}

func TestRelayNeedsTURN(t *testing.T) {
	cfg := PeerConnectionConfig(config.ICEConfig{STUNServer: config.DefaultSTUN, ForceRelay: true})
	if cfg.ICETransportPolicy != pion.ICETransportPolicyAll {
		t.Errorf("policy = %s, want all without a TURN server", cfg.ICETransportPolicy)
	}
	if len(cfg.ICEServers) != 1 {
		t.Errorf("len(ICEServers) = %d, want 1", len(cfg.ICEServers))
	}
}

func TestNoICEServers(t *testing.T) {
	if got := ICEServers(config.ICEConfig{}); len(got) != 0 {
		t.Errorf("ICEServers = %v, want none", got)
	}
}

func TestNewAPIOnlyVP8AndOpus(t *testing.T) {
	api, err := NewAPI(3*time.Second, nil)
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
	pc, err := api.NewPeerConnection(pion.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	defer pc.Close()

	if _, err := pc.AddTransceiverFromKind(pion.RTPCodecTypeVideo); err != nil {
		t.Fatalf("AddTransceiverFromKind: %v", err)
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if !strings.Contains(offer.SDP, "VP8/90000") {
		t.Error("offer lacks VP8")
	}
	for _, codec := range []string{"H264", "VP9", "AV1"} {
		if strings.Contains(offer.SDP, codec) {
			t.Errorf("offer unexpectedly offers %s", codec)
		}
	}
}
