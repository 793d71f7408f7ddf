package sfu

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/huddle/internal/protocol"
	rtc "github.com/BioHazard786/huddle/internal/webrtc"
)

// Signaler delivers signaling messages to the connection that owns a peer.
type Signaler interface {
	Signal(msg *protocol.Message) error
	Close() error
}

// Peer is one participant of a room as seen by the SFU.
type Peer struct {
	ID          uuid.UUID
	DisplayName string

	signaler Signaler
	room     *Room
	pc       *webrtc.PeerConnection
	log      *slog.Logger

	// mu serializes negotiation with the peer and guards the fields below.
	mu                sync.Mutex
	senders           map[string]*webrtc.RTPSender
	pendingCandidates []webrtc.ICECandidateInit
	awaitingAnswer    bool
	offerPending      bool
	control           *webrtc.DataChannel
	announced         map[string][]byte // last stamped frame per control key
	closed            bool

	done      chan struct{}
	closeOnce sync.Once
}

// NewPeer creates a peer that signals through s. A nil id draws a new UUID.
func NewPeer(id uuid.UUID, displayName string, s Signaler) *Peer {
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &Peer{
		ID:          id,
		DisplayName: displayName,
		signaler:    s,
		senders:     make(map[string]*webrtc.RTPSender),
		announced:   make(map[string][]byte),
		done:        make(chan struct{}),
		log:         slog.With("peerId", id.String()),
	}
}

// Done is closed once the peer has been removed from its room.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// Room returns the room the peer joined, or nil.
func (p *Peer) Room() *Room {
	return p.room
}

// open creates the PeerConnection and installs its handlers.
func (p *Peer) open(r *Room) error {
	pc, err := r.manager.api.NewPeerConnection(r.manager.cfg.PeerConnection)
	if err != nil {
		return opErr("create peer connection", p, err)
	}
	p.room = r
	p.pc = pc
	p.log = p.log.With("roomId", r.ID)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		payload := protocol.Candidate{Candidate: init.Candidate}
		if init.SDPMid != nil {
			payload.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			payload.SDPMLineIndex = *init.SDPMLineIndex
		}
		p.signal(protocol.EventICECandidate, payload)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Info("Peer connection state changed", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			if r.manager.Leave(r.ID, p) {
				_ = p.signaler.Close()
			}
		}
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		p.log.Info("Received remote track", "kind", remote.Kind().String(), "codec", remote.Codec().MimeType)
		r.publish(p, remote, receiver)
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != rtc.ControlChannelLabel {
			p.log.Debug("Ignoring data channel", "label", dc.Label())
			return
		}
		p.mu.Lock()
		p.control = dc
		p.mu.Unlock()
		dc.OnOpen(func() {
			r.replayControl(p)
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			r.relayControl(p, msg.Data)
		})
	})

	return nil
}

// signal encodes v and hands it to the signaler, logging failures.
func (p *Peer) signal(event protocol.Event, v any) {
	msg, err := protocol.NewMessage(event, v)
	if err != nil {
		p.log.Error("Error encoding signal", "event", event, "error", err)
		return
	}
	if err := p.signaler.Signal(msg); err != nil {
		p.log.Warn("Error signaling peer", "event", event, "error", err)
	}
}

// handleOffer answers an offer from the client. Forwarding tracks in want are
// attached before the remote description is applied so the answer can carry
// them on the client's m-lines.
func (p *Peer) handleOffer(sdp string, want map[string]*forwardTrack) error {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return opErr("handle offer", p, ErrPeerClosed)
	}

	// Glare: our renegotiation offer is outstanding. The client wins, ours is
	// sent again once this exchange completes.
	if p.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		if err := p.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			p.mu.Unlock()
			return opErr("rollback offer", p, err)
		}
		p.awaitingAnswer = false
		p.offerPending = true
	}

	p.applyTracksLocked(want)

	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		p.mu.Unlock()
		return opErr("set remote offer", p, err)
	}
	p.flushCandidatesLocked()

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		p.mu.Unlock()
		return opErr("create answer", p, err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		p.mu.Unlock()
		return opErr("set local answer", p, err)
	}
	p.signal(protocol.EventAnswer, answer.SDP)

	again := p.offerPending || p.hasUnnegotiatedSendersLocked()
	p.offerPending = false
	p.mu.Unlock()

	if again {
		p.renegotiate()
	}
	return nil
}

// handleAnswer applies the client's answer to a server offer.
func (p *Peer) handleAnswer(sdp string) error {
	p.mu.Lock()

	if p.pc.SignalingState() == webrtc.SignalingStateStable {
		p.mu.Unlock()
		p.log.Warn("Received answer but signaling state is stable")
		return nil
	}
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		p.mu.Unlock()
		return opErr("set remote answer", p, err)
	}
	p.awaitingAnswer = false
	p.flushCandidatesLocked()

	again := p.offerPending
	p.offerPending = false
	p.mu.Unlock()

	if again {
		p.renegotiate()
	}
	return nil
}

// handleCandidate adds a remote candidate, queueing it until a remote
// description exists.
func (p *Peer) handleCandidate(c protocol.Candidate) error {
	init := webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        &c.SDPMid,
		SDPMLineIndex: &c.SDPMLineIndex,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return opErr("add candidate", p, ErrPeerClosed)
	}
	if p.pc.RemoteDescription() == nil {
		p.pendingCandidates = append(p.pendingCandidates, init)
		return nil
	}
	if err := p.pc.AddICECandidate(init); err != nil {
		return opErr("add candidate", p, err)
	}
	return nil
}

func (p *Peer) flushCandidatesLocked() {
	for _, c := range p.pendingCandidates {
		if err := p.pc.AddICECandidate(c); err != nil {
			p.log.Warn("Error adding queued candidate", "error", err)
		}
	}
	p.pendingCandidates = nil
}

// syncTracks makes the peer's senders match want and renegotiates when
// anything changed.
func (p *Peer) syncTracks(want map[string]*forwardTrack) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	changed := p.applyTracksLocked(want)
	p.mu.Unlock()

	if changed {
		p.renegotiate()
	}
}

// applyTracksLocked adds a sender for every track in want the peer lacks and
// removes senders whose track is gone. It reports whether anything changed.
func (p *Peer) applyTracksLocked(want map[string]*forwardTrack) bool {
	changed := false

	for id, sender := range p.senders {
		if _, ok := want[id]; ok {
			continue
		}
		if err := p.pc.RemoveTrack(sender); err != nil {
			p.log.Warn("Error removing forwarded track", "trackId", id, "error", err)
		}
		delete(p.senders, id)
		changed = true
	}

	for id, ft := range want {
		if _, ok := p.senders[id]; ok {
			continue
		}
		sender, err := p.pc.AddTrack(ft.local)
		if err != nil {
			p.log.Error("Error adding forwarded track", "trackId", id, "error", err)
			continue
		}
		p.senders[id] = sender
		go p.readSenderRTCP(sender, ft)
		changed = true
	}

	return changed
}

// hasUnnegotiatedSendersLocked reports senders that did not fit into the
// client's offer and need a server offer.
func (p *Peer) hasUnnegotiatedSendersLocked() bool {
	for _, t := range p.pc.GetTransceivers() {
		if t.Sender() != nil && t.Sender().Track() != nil && t.Mid() == "" {
			return true
		}
	}
	return false
}

// renegotiate sends a server offer, or marks one as pending when an exchange
// is already in flight.
func (p *Peer) renegotiate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	if p.awaitingAnswer || p.pc.SignalingState() != webrtc.SignalingStateStable {
		p.offerPending = true
		return
	}
	// Nothing to renegotiate until the client's first offer arrived.
	if p.pc.RemoteDescription() == nil {
		return
	}

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		p.log.Error("Error creating renegotiation offer", "error", err)
		return
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		p.log.Error("Error setting renegotiation offer", "error", err)
		return
	}
	p.awaitingAnswer = true
	p.room.manager.metrics.RecordRenegotiation()
	p.signal(protocol.EventOffer, offer.SDP)
}

// readSenderRTCP drains RTCP for a forwarded track and relays key frame
// requests from the subscriber to the publisher.
func (p *Peer) readSenderRTCP(sender *webrtc.RTPSender, ft *forwardTrack) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				ft.requestKeyframe()
			}
		}
	}
}

// sendControl writes a control frame on the peer's data channel when open.
func (p *Peer) sendControl(b []byte) {
	p.mu.Lock()
	dc := p.control
	p.mu.Unlock()

	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return
	}
	if err := dc.Send(b); err != nil {
		p.log.Debug("Error sending control message", "error", err)
	}
}

// announce keeps b as the latest frame p sent under key.
func (p *Peer) announce(key string, b []byte) {
	p.mu.Lock()
	p.announced[key] = b
	p.mu.Unlock()
}

// announcements returns the frames kept by announce.
func (p *Peer) announcements() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([][]byte, 0, len(p.announced))
	for _, b := range p.announced {
		out = append(out, b)
	}
	return out
}

// close stops the peer's goroutines and closes its PeerConnection.
func (p *Peer) close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		close(p.done)
		if p.pc != nil {
			if err := p.pc.Close(); err != nil && !errors.Is(err, webrtc.ErrConnectionClosed) {
				p.log.Warn("Error closing peer connection", "error", err)
			}
		}
	})
}
