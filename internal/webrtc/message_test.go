package webrtc

import "testing"

func TestControlRoundTrip(t *testing.T) {
	msg, err := NewControl(ControlMediaState, MediaState{Kind: "audio", Enabled: false})
	if err != nil {
		t.Fatalf("NewControl: %v", err)
	}
	msg.PeerID = "p1"

	b, err := msg.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := UnmarshalControl(b)
	if err != nil {
		t.Fatalf("UnmarshalControl: %v", err)
	}
	if got.Type != ControlMediaState || got.PeerID != "p1" {
		t.Fatalf("got %+v", got)
	}

	var state MediaState
	if err := got.DecodePayload(&state); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if state.Kind != "audio" || state.Enabled {
		t.Errorf("state = %+v", state)
	}
}

func TestUnmarshalControlGarbage(t *testing.T) {
	if _, err := UnmarshalControl([]byte{0xc1}); err == nil {
		t.Error("expected error for invalid msgpack")
	}
}

func TestControlStateKey(t *testing.T) {
	mustControl := func(typ string, payload any) ControlMessage {
		t.Helper()
		m, err := NewControl(typ, payload)
		if err != nil {
			t.Fatalf("NewControl: %v", err)
		}
		return m
	}

	tests := []struct {
		name string
		msg  ControlMessage
		want string
	}{
		{"hello", mustControl(ControlHello, Hello{DisplayName: "Ada"}), "hello"},
		{"audio", mustControl(ControlMediaState, MediaState{Kind: "audio"}), "media-state/audio"},
		{"video", mustControl(ControlMediaState, MediaState{Kind: "video", Enabled: true}), "media-state/video"},
		{"no kind", mustControl(ControlMediaState, MediaState{}), ""},
		{"other", mustControl("chat", "hi"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.StateKey(); got != tt.want {
				t.Errorf("StateKey = %q, want %q", got, tt.want)
			}
		})
	}
}
