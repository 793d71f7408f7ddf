package sfu

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pion/transport/v3/test"
	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/huddle/internal/protocol"
	rtc "github.com/BioHazard786/huddle/internal/webrtc"
)

type fakeSignaler struct {
	msgs   chan *protocol.Message
	closed chan struct{}
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{
		msgs:   make(chan *protocol.Message, 128),
		closed: make(chan struct{}, 1),
	}
}

func (f *fakeSignaler) Signal(msg *protocol.Message) error {
	select {
	case f.msgs <- msg:
	default:
	}
	return nil
}

func (f *fakeSignaler) Close() error {
	select {
	case f.closed <- struct{}{}:
	default:
	}
	return nil
}

// waitFor returns the first message with event, skipping others.
func (f *fakeSignaler) waitFor(t *testing.T, event protocol.Event) *protocol.Message {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg := <-f.msgs:
			if msg.Event == event {
				return msg
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", event)
			return nil
		}
	}
}

func newTestManager(t *testing.T, capacity int) *Manager {
	t.Helper()
	api, err := rtc.NewAPI(0, nil)
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
	m := NewManager(api, Config{Capacity: capacity}, nil)
	t.Cleanup(m.Close)
	return m
}

func newClientOffer(t *testing.T) (*webrtc.PeerConnection, webrtc.SessionDescription) {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	t.Cleanup(func() { _ = pc.Close() })

	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "local")
	if err != nil {
		t.Fatalf("NewTrackLocalStaticSample: %v", err)
	}
	if _, err := pc.AddTrack(video); err != nil {
		t.Fatalf("AddTrack: %v", err)
	}
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "local")
	if err != nil {
		t.Fatalf("NewTrackLocalStaticSample: %v", err)
	}
	if _, err := pc.AddTrack(audio); err != nil {
		t.Fatalf("AddTrack: %v", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription: %v", err)
	}
	return pc, offer
}

func TestJoinCapacity(t *testing.T) {
	m := newTestManager(t, 2)

	a := NewPeer(uuid.Nil, "a", newFakeSignaler())
	b := NewPeer(uuid.Nil, "b", newFakeSignaler())
	c := NewPeer(uuid.Nil, "c", newFakeSignaler())

	if _, err := m.Join("lobby", a); err != nil {
		t.Fatalf("join a: %v", err)
	}
	if _, err := m.Join("lobby", a); !errors.Is(err, ErrPeerExists) {
		t.Errorf("rejoin a: got %v, want ErrPeerExists", err)
	}
	if _, err := m.Join("lobby", b); err != nil {
		t.Fatalf("join b: %v", err)
	}
	if _, err := m.Join("lobby", c); !errors.Is(err, ErrRoomFull) {
		t.Errorf("join c: got %v, want ErrRoomFull", err)
	}
	if got := m.Get("lobby").Len(); got != 2 {
		t.Errorf("Len = %d, want 2", got)
	}
}

func TestNewPeerKeepsID(t *testing.T) {
	id := uuid.New()
	if p := NewPeer(id, "", newFakeSignaler()); p.ID != id {
		t.Errorf("ID = %s, want %s", p.ID, id)
	}
	if p := NewPeer(uuid.Nil, "", newFakeSignaler()); p.ID == uuid.Nil {
		t.Error("expected a generated id")
	}
}

func TestHandleOfferSendsAnswer(t *testing.T) {
	defer test.TimeOut(20 * time.Second).Stop()

	m := newTestManager(t, 4)
	sig := newFakeSignaler()
	p := NewPeer(uuid.Nil, "", sig)
	r, err := m.Join("lobby", p)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	client, offer := newClientOffer(t)
	if err := r.HandleOffer(p, offer.SDP); err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}

	msg := sig.waitFor(t, protocol.EventAnswer)
	sdp, err := msg.String()
	if err != nil {
		t.Fatalf("decode answer: %v", err)
	}
	if err := client.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		t.Fatalf("SetRemoteDescription: %v", err)
	}
	if client.SignalingState() != webrtc.SignalingStateStable {
		t.Errorf("client signaling state = %s, want stable", client.SignalingState())
	}
}

func TestCandidateQueuedUntilOffer(t *testing.T) {
	defer test.TimeOut(20 * time.Second).Stop()

	m := newTestManager(t, 4)
	p := NewPeer(uuid.Nil, "", newFakeSignaler())
	r, err := m.Join("lobby", p)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	c := protocol.Candidate{
		Candidate: "candidate:1 1 udp 2130706431 192.0.2.1 50000 typ host",
		SDPMid:    "0",
	}
	if err := r.HandleCandidate(p, c); err != nil {
		t.Fatalf("HandleCandidate: %v", err)
	}
	p.mu.Lock()
	queued := len(p.pendingCandidates)
	p.mu.Unlock()
	if queued != 1 {
		t.Fatalf("queued = %d, want 1", queued)
	}

	_, offer := newClientOffer(t)
	if err := r.HandleOffer(p, offer.SDP); err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	p.mu.Lock()
	queued = len(p.pendingCandidates)
	p.mu.Unlock()
	if queued != 0 {
		t.Errorf("queued after offer = %d, want 0", queued)
	}
}

func TestAnswerInStableStateIgnored(t *testing.T) {
	m := newTestManager(t, 4)
	p := NewPeer(uuid.Nil, "", newFakeSignaler())
	r, err := m.Join("lobby", p)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := r.HandleAnswer(p, "v=0"); err != nil {
		t.Errorf("HandleAnswer in stable state: %v", err)
	}
}

func TestHandleBeforeJoin(t *testing.T) {
	m := newTestManager(t, 4)
	r := m.GetOrCreate("lobby")
	p := NewPeer(uuid.Nil, "", newFakeSignaler())

	if err := r.HandleOffer(p, "v=0"); !errors.Is(err, ErrPeerNotFound) {
		t.Errorf("HandleOffer: got %v, want ErrPeerNotFound", err)
	}
	if err := r.HandleAnswer(p, "v=0"); !errors.Is(err, ErrPeerNotFound) {
		t.Errorf("HandleAnswer: got %v, want ErrPeerNotFound", err)
	}
	if err := r.HandleCandidate(p, protocol.Candidate{}); !errors.Is(err, ErrPeerNotFound) {
		t.Errorf("HandleCandidate: got %v, want ErrPeerNotFound", err)
	}
}

func TestRemovePeerBroadcastsLeavingID(t *testing.T) {
	m := newTestManager(t, 4)

	sigA, sigB := newFakeSignaler(), newFakeSignaler()
	a := NewPeer(uuid.Nil, "a", sigA)
	b := NewPeer(uuid.Nil, "b", sigB)
	if _, err := m.Join("lobby", a); err != nil {
		t.Fatalf("join a: %v", err)
	}
	if _, err := m.Join("lobby", b); err != nil {
		t.Fatalf("join b: %v", err)
	}

	if !m.Leave("lobby", a) {
		t.Fatal("Leave(a) = false, want true")
	}
	if m.Leave("lobby", a) {
		t.Error("second Leave(a) = true, want false")
	}

	msg := sigB.waitFor(t, protocol.EventPeerLeft)
	id, err := msg.String()
	if err != nil {
		t.Fatalf("decode peer-left: %v", err)
	}
	if id != a.ID.String() {
		t.Errorf("peer-left id = %s, want %s", id, a.ID)
	}

	select {
	case <-a.Done():
	default:
		t.Error("done channel of removed peer is open")
	}

	if m.Get("lobby") == nil {
		t.Fatal("room deleted while b is still in it")
	}
	m.Leave("lobby", b)
	if m.Get("lobby") != nil {
		t.Error("empty room was not deleted")
	}
}

func TestDeleteKeepsOccupiedRoom(t *testing.T) {
	m := newTestManager(t, 4)
	p := NewPeer(uuid.Nil, "", newFakeSignaler())
	if _, err := m.Join("lobby", p); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if m.Delete("lobby") {
		t.Error("Delete of occupied room = true")
	}
	if !m.Delete("missing") {
		t.Error("Delete of missing room = false")
	}
}

func TestRoomsSnapshot(t *testing.T) {
	m := newTestManager(t, 3)
	for _, room := range []string{"beta", "alpha"} {
		if _, err := m.Join(room, NewPeer(uuid.Nil, "guest", newFakeSignaler())); err != nil {
			t.Fatalf("Join %s: %v", room, err)
		}
	}

	rooms := m.Rooms()
	if len(rooms) != 2 {
		t.Fatalf("len(Rooms) = %d, want 2", len(rooms))
	}
	if rooms[0].ID != "alpha" || rooms[1].ID != "beta" {
		t.Errorf("rooms not sorted: %s, %s", rooms[0].ID, rooms[1].ID)
	}
	if rooms[0].Capacity != 3 || len(rooms[0].Peers) != 1 || rooms[0].Peers[0].DisplayName != "guest" {
		t.Errorf("unexpected room info %+v", rooms[0])
	}
}

func TestOpErrorUnwrap(t *testing.T) {
	p := NewPeer(uuid.Nil, "", newFakeSignaler())
	err := opErr("set remote offer", p, ErrPeerClosed)
	if !errors.Is(err, ErrPeerClosed) {
		t.Error("errors.Is failed through OpError")
	}
	var op *OpError
	if !errors.As(err, &op) || op.Op != "set remote offer" {
		t.Errorf("errors.As = %+v", op)
	}
}

func TestRelayControlKeepsLatestState(t *testing.T) {
	m := newTestManager(t, 4)
	a := NewPeer(uuid.Nil, "a", newFakeSignaler())
	room, err := m.Join("lobby", a)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	send := func(typ string, payload any) {
		t.Helper()
		msg, err := rtc.NewControl(typ, payload)
		if err != nil {
			t.Fatalf("NewControl: %v", err)
		}
		msg.PeerID = "forged"
		b, err := msg.Marshal()
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		room.relayControl(a, b)
	}
	send(rtc.ControlHello, rtc.Hello{DisplayName: "Ada"})
	send(rtc.ControlMediaState, rtc.MediaState{Kind: "audio", Enabled: true})
	send(rtc.ControlMediaState, rtc.MediaState{Kind: "audio", Enabled: false})
	send("chat", "not kept")
	room.relayControl(a, []byte{0xc1})

	frames := a.announcements()
	if len(frames) != 2 {
		t.Fatalf("kept %d frames, want 2", len(frames))
	}
	for _, b := range frames {
		msg, err := rtc.UnmarshalControl(b)
		if err != nil {
			t.Fatalf("UnmarshalControl: %v", err)
		}
		if msg.PeerID != a.ID.String() {
			t.Errorf("frame stamped %q, want %s", msg.PeerID, a.ID)
		}
		if msg.Type == rtc.ControlMediaState {
			var st rtc.MediaState
			if err := msg.DecodePayload(&st); err != nil || st.Enabled {
				t.Errorf("kept media state %+v (%v), want the latest mute", st, err)
			}
		}
	}
}
