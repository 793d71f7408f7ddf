package call

import (
	"reflect"
	"testing"
)

type closeCounter struct{ n int }

func (c *closeCounter) Close() error {
	c.n++
	return nil
}

func TestRegistryLabels(t *testing.T) {
	r := NewRegistry()

	label, created := r.AddTrack("stream-a", "video-a", "video")
	if !created || label != "Peer 1" {
		t.Errorf("first stream: label=%q created=%v", label, created)
	}
	label, created = r.AddTrack("stream-a", "audio-a", "audio")
	if created || label != "Peer 1" {
		t.Errorf("second track of same stream: label=%q created=%v", label, created)
	}
	label, created = r.AddTrack("stream-b", "video-b", "video")
	if !created || label != "Peer 2" {
		t.Errorf("second stream: label=%q created=%v", label, created)
	}

	s, ok := r.Get("stream-a")
	if !ok {
		t.Fatal("stream-a missing")
	}
	if s.PeerID != "a" {
		t.Errorf("PeerID = %q, want a", s.PeerID)
	}
	if want := []string{"audio", "video"}; !reflect.DeepEqual(s.Kinds, want) {
		t.Errorf("Kinds = %v, want %v", s.Kinds, want)
	}
}

func TestRegistryRemoveByPeerID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		ok   bool
	}{
		{"exact stream id", "stream-p1", true},
		{"peer id", "p1", true},
		{"unknown", "p9", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			r.AddTrack("stream-p1", "v", "video")

			label, ok := r.Remove(tt.id)
			if ok != tt.ok {
				t.Fatalf("Remove(%q) ok = %v, want %v", tt.id, ok, tt.ok)
			}
			if ok && label != "Peer 1" {
				t.Errorf("label = %q", label)
			}
			if want := 1; ok {
				want = 0
				if r.Len() != want {
					t.Errorf("Len = %d, want %d", r.Len(), want)
				}
			}
		})
	}
}

func TestRegistryRemoveTrackRemovesStreamWhenEmpty(t *testing.T) {
	r := NewRegistry()
	sink := &closeCounter{}
	r.AddTrack("stream-x", "video-x", "video")
	r.AddTrack("stream-x", "audio-x", "audio")
	if !r.AttachCloser("stream-x", sink) {
		t.Fatal("AttachCloser failed")
	}

	if _, removed := r.RemoveTrack("stream-x", "video-x"); removed {
		t.Fatal("stream removed while a track remains")
	}
	label, removed := r.RemoveTrack("stream-x", "audio-x")
	if !removed || label != "Peer 1" {
		t.Errorf("RemoveTrack last = %q, %v", label, removed)
	}
	if sink.n != 1 {
		t.Errorf("sink closed %d times, want 1", sink.n)
	}
	if _, removed := r.RemoveTrack("stream-x", "audio-x"); removed {
		t.Error("RemoveTrack on missing stream reported removal")
	}
}

func TestRegistryClearAll(t *testing.T) {
	r := NewRegistry()
	sinks := []*closeCounter{{}, {}}
	r.AddTrack("stream-1", "v1", "video")
	r.AddTrack("stream-2", "v2", "video")
	r.AttachCloser("stream-1", sinks[0])
	r.AttachCloser("stream-2", sinks[1])

	labels := r.ClearAll()
	if want := []string{"Peer 1", "Peer 2"}; !reflect.DeepEqual(labels, want) {
		t.Errorf("labels = %v, want %v", labels, want)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d after ClearAll", r.Len())
	}
	for i, s := range sinks {
		if s.n != 1 {
			t.Errorf("sink %d closed %d times", i, s.n)
		}
	}
}

func TestRegistryMediaState(t *testing.T) {
	r := NewRegistry()
	r.AddTrack("stream-p1", "v", "video")

	if !r.SetMediaState("p1", "audio", false, false) {
		t.Fatal("SetMediaState for known peer = false")
	}
	r.SetMediaState("p1", "video", true, true)
	r.SetDisplayName("p1", "Ada")

	s, _ := r.Get("stream-p1")
	if !s.AudioMuted || s.VideoMuted || !s.Sharing || s.DisplayName != "Ada" {
		t.Errorf("state = %+v", s)
	}
	if r.SetMediaState("nobody", "audio", false, false) {
		t.Error("SetMediaState for unknown peer = true")
	}
}

func TestRegistryKeepsStateAnnouncedBeforeTracks(t *testing.T) {
	r := NewRegistry()

	if r.SetDisplayName("p2", "Grace") {
		t.Error("SetDisplayName before any track = true")
	}
	r.SetMediaState("p2", "audio", false, false)
	r.SetMediaState("p2", "video", true, true)
	r.SetMediaState("p2", "audio", true, false)
	r.SetDisplayName("gone", "Linus")

	if _, created := r.AddTrack("stream-p2", "a", "audio"); !created {
		t.Fatal("AddTrack did not create the stream")
	}
	s, _ := r.Get("stream-p2")
	if s.DisplayName != "Grace" || s.AudioMuted || s.VideoMuted || !s.Sharing {
		t.Errorf("state = %+v", s)
	}

	r.Remove("gone")
	r.AddTrack("stream-gone", "a", "audio")
	if s, _ := r.Get("stream-gone"); s.DisplayName != "" {
		t.Errorf("state of a departed peer was applied: %+v", s)
	}
}

func TestRegistryLabelUsesCurrentSize(t *testing.T) {
	r := NewRegistry()
	r.AddTrack("stream-1", "v1", "video")
	r.AddTrack("stream-2", "v2", "video")
	r.Remove("stream-1")

	label, _ := r.AddTrack("stream-3", "v3", "video")
	if label != "Peer 2" {
		t.Errorf("label = %q, want Peer 2", label)
	}
	snap := r.Snapshot()
	if len(snap) != 2 || snap[0].ID != "stream-2" || snap[1].ID != "stream-3" {
		t.Errorf("snapshot order = %+v", snap)
	}
}
