package sfu

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/huddle/internal/protocol"
	rtc "github.com/BioHazard786/huddle/internal/webrtc"
)

// Room is a set of peers whose media is forwarded to each other.
type Room struct {
	ID        string
	Capacity  int
	CreatedAt time.Time

	manager *Manager
	log     *slog.Logger

	mu     sync.RWMutex
	peers  map[uuid.UUID]*Peer
	tracks map[string]*forwardTrack
}

func newRoom(id string, capacity int, m *Manager) *Room {
	return &Room{
		ID:        id,
		Capacity:  capacity,
		CreatedAt: time.Now(),
		manager:   m,
		log:       slog.With("roomId", id),
		peers:     make(map[uuid.UUID]*Peer),
		tracks:    make(map[string]*forwardTrack),
	}
}

// Join adds p to the room and creates its PeerConnection.
func (r *Room) Join(p *Peer) error {
	if err := r.reserve(p); err != nil {
		return err
	}
	return r.attach(p)
}

// reserve claims a seat for p.
func (r *Room) reserve(p *Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[p.ID]; ok {
		return ErrPeerExists
	}
	if len(r.peers) >= r.Capacity {
		r.log.Warn("Room is full", "peerId", p.ID.String(), "capacity", r.Capacity)
		return ErrRoomFull
	}
	r.peers[p.ID] = p
	return nil
}

// attach creates the PeerConnection of a peer holding a seat.
func (r *Room) attach(p *Peer) error {
	if err := p.open(r); err != nil {
		r.mu.Lock()
		delete(r.peers, p.ID)
		r.mu.Unlock()
		return err
	}

	r.manager.metrics.RecordJoin()
	r.log.Info("Peer joined room", "peerId", p.ID.String(), "peers", r.Len())
	return nil
}

// HandleOffer answers the peer's offer, attaching every track the other
// peers publish.
func (r *Room) HandleOffer(p *Peer, sdp string) error {
	if !r.has(p) {
		return ErrPeerNotFound
	}
	if p.pc == nil {
		return ErrPeerConnectionNil
	}
	return p.handleOffer(sdp, r.tracksFor(p))
}

// HandleAnswer applies the peer's answer to a server offer.
func (r *Room) HandleAnswer(p *Peer, sdp string) error {
	if !r.has(p) {
		return ErrPeerNotFound
	}
	if p.pc == nil {
		return ErrPeerConnectionNil
	}
	return p.handleAnswer(sdp)
}

// HandleCandidate adds a remote ICE candidate for p.
func (r *Room) HandleCandidate(p *Peer, c protocol.Candidate) error {
	if !r.has(p) {
		return ErrPeerNotFound
	}
	if p.pc == nil {
		return ErrPeerConnectionNil
	}
	return p.handleCandidate(c)
}

// RemovePeer removes p, detaches its tracks from the others and tells them
// it left. It reports whether p was in the room.
func (r *Room) RemovePeer(p *Peer) bool {
	r.mu.Lock()
	if _, ok := r.peers[p.ID]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.peers, p.ID)
	for id, ft := range r.tracks {
		if ft.publisher == p {
			delete(r.tracks, id)
		}
	}
	others := r.snapshotLocked()
	r.mu.Unlock()

	p.close()
	r.manager.metrics.RecordLeave()
	r.log.Info("Peer removed from room", "peerId", p.ID.String(), "peers", len(others))

	for _, o := range others {
		o.signal(protocol.EventPeerLeft, p.ID.String())
	}
	r.syncAll()
	return true
}

// Len returns the number of peers in the room.
func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Peers returns a snapshot of the room's peers.
func (r *Room) Peers() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Room) snapshotLocked() []*Peer {
	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	return peers
}

func (r *Room) has(p *Peer) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.peers[p.ID]
	return ok
}

// tracksFor returns the forwarding tracks p should receive.
func (r *Room) tracksFor(p *Peer) map[string]*forwardTrack {
	r.mu.RLock()
	defer r.mu.RUnlock()
	want := make(map[string]*forwardTrack, len(r.tracks))
	for id, ft := range r.tracks {
		if ft.publisher != p {
			want[id] = ft
		}
	}
	return want
}

// publishedBy counts the tracks p publishes.
func (r *Room) publishedBy(p *Peer) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, ft := range r.tracks {
		if ft.publisher == p {
			n++
		}
	}
	return n
}

// syncAll brings every peer's senders in line with the room's tracks.
func (r *Room) syncAll() {
	for _, p := range r.Peers() {
		p.syncTracks(r.tracksFor(p))
	}
}

// publish starts forwarding a remote track of p to the rest of the room.
func (r *Room) publish(p *Peer, remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	ft, err := newForwardTrack(p, remote)
	if err != nil {
		p.log.Error("Error publishing track", "error", err)
		return
	}

	r.mu.Lock()
	if _, ok := r.peers[p.ID]; !ok {
		r.mu.Unlock()
		return
	}
	r.tracks[ft.id] = ft
	r.mu.Unlock()

	tap, err := dialTap(r.manager.cfg.DebugRTPAddr)
	if err != nil {
		p.log.Warn("Debug RTP tap unavailable", "addr", r.manager.cfg.DebugRTPAddr, "error", err)
	}

	go func() {
		if tap != nil {
			defer tap.Close()
		}
		ft.pump(tap)
		r.unpublish(ft)
	}()

	r.syncAll()
	ft.requestKeyframe()
}

// unpublish drops a track whose remote side ended.
func (r *Room) unpublish(ft *forwardTrack) {
	r.mu.Lock()
	_, ok := r.tracks[ft.id]
	delete(r.tracks, ft.id)
	r.mu.Unlock()

	if ok {
		r.log.Info("Remote track ended", "trackId", ft.id)
		r.syncAll()
	}
}

// relayControl stamps a control frame from p with its id and sends it to
// every other peer. Hello and media-state frames are kept for peers whose
// control channel opens later.
func (r *Room) relayControl(p *Peer, data []byte) {
	msg, err := rtc.UnmarshalControl(data)
	if err != nil {
		p.log.Debug("Dropping malformed control message", "error", err)
		return
	}
	msg.PeerID = p.ID.String()
	b, err := msg.Marshal()
	if err != nil {
		p.log.Error("Error encoding control message", "error", err)
		return
	}
	if key := msg.StateKey(); key != "" {
		p.announce(key, b)
	}
	for _, o := range r.Peers() {
		if o != p {
			o.sendControl(b)
		}
	}
}

// replayControl sends p what every other peer announced so far.
func (r *Room) replayControl(p *Peer) {
	for _, o := range r.Peers() {
		if o == p {
			continue
		}
		for _, b := range o.announcements() {
			p.sendControl(b)
		}
	}
}
