package call

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/BioHazard786/huddle/internal/protocol"
)

// RemoteStream is a snapshot of one remote participant's stream.
type RemoteStream struct {
	ID          string
	PeerID      string
	Label       string
	DisplayName string
	Kinds       []string
	AudioMuted  bool
	VideoMuted  bool
	Sharing     bool
}

type streamEntry struct {
	RemoteStream
	seq     int
	tracks  map[string]string // track id -> kind
	closers []io.Closer
}

// peerState is what a peer announced on the control channel before any of
// its tracks arrived.
type peerState struct {
	displayName *string
	audioMuted  *bool
	videoMuted  *bool
	sharing     bool
}

func (p *peerState) applyTo(e *streamEntry) {
	if p.displayName != nil {
		e.DisplayName = *p.displayName
	}
	if p.audioMuted != nil {
		e.AudioMuted = *p.audioMuted
	}
	if p.videoMuted != nil {
		e.VideoMuted = *p.videoMuted
		e.Sharing = p.sharing
	}
}

// Registry maps stream ids to remote streams. It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	streams map[string]*streamEntry
	pending map[string]*peerState // peer id -> state held until its first track
	seq     int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		streams: make(map[string]*streamEntry),
		pending: make(map[string]*peerState),
	}
}

// AddTrack records a track of streamID. The first track of a stream creates
// the entry, labelled "Peer N" with N the registry size after insertion, and
// applies any state its peer announced earlier.
func (r *Registry) AddTrack(streamID, trackID, kind string) (label string, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.streams[streamID]
	if !ok {
		peerID, _ := protocol.PeerIDFromStream(streamID)
		r.seq++
		e = &streamEntry{
			RemoteStream: RemoteStream{
				ID:     streamID,
				PeerID: peerID,
				Label:  fmt.Sprintf("Peer %d", len(r.streams)+1),
			},
			seq:    r.seq,
			tracks: make(map[string]string),
		}
		if st, ok := r.pending[peerID]; ok && peerID != "" {
			st.applyTo(e)
			delete(r.pending, peerID)
		}
		r.streams[streamID] = e
		created = true
	}
	e.tracks[trackID] = kind
	return e.Label, created
}

// AttachCloser registers c to be closed when streamID is removed. It reports
// false, leaving c open, when the stream is unknown.
func (r *Registry) AttachCloser(streamID string, c io.Closer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.streams[streamID]
	if !ok {
		return false
	}
	e.closers = append(e.closers, c)
	return true
}

// RemoveTrack forgets one track. When it was the last track of its stream the
// stream is removed and its label returned with removed set.
func (r *Registry) RemoveTrack(streamID, trackID string) (label string, removed bool) {
	r.mu.Lock()
	e, ok := r.streams[streamID]
	if !ok {
		r.mu.Unlock()
		return "", false
	}
	delete(e.tracks, trackID)
	if len(e.tracks) > 0 {
		r.mu.Unlock()
		return "", false
	}
	delete(r.streams, streamID)
	r.mu.Unlock()

	closeAll(e.closers)
	return e.Label, true
}

// Remove deletes the stream with the given id. id may be a stream id or a
// peer id; the exact id is tried first, then the stream id of that peer.
func (r *Registry) Remove(id string) (label string, ok bool) {
	r.mu.Lock()
	key := id
	e, found := r.streams[key]
	if !found {
		key = protocol.StreamID(id)
		e, found = r.streams[key]
	}
	delete(r.pending, id)
	if !found {
		r.mu.Unlock()
		return "", false
	}
	delete(r.streams, key)
	if e.PeerID != "" {
		delete(r.pending, e.PeerID)
	}
	r.mu.Unlock()

	closeAll(e.closers)
	return e.Label, true
}

// ClearAll removes every stream and returns their labels in creation order.
func (r *Registry) ClearAll() []string {
	r.mu.Lock()
	entries := r.sortedLocked()
	r.streams = make(map[string]*streamEntry)
	r.pending = make(map[string]*peerState)
	r.mu.Unlock()

	labels := make([]string, 0, len(entries))
	for _, e := range entries {
		closeAll(e.closers)
		labels = append(labels, e.Label)
	}
	return labels
}

// SetMediaState records a remote peer's mute or share state. It reports
// whether the peer has a stream; otherwise the state is kept until the
// peer's first track arrives.
func (r *Registry) SetMediaState(peerID, kind string, enabled, sharing bool) bool {
	if peerID == "" || (kind != KindAudio && kind != KindVideo) {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	muted := !enabled
	st := &peerState{sharing: sharing}
	if kind == KindAudio {
		st.audioMuted = &muted
	} else {
		st.videoMuted = &muted
	}

	if e, ok := r.streams[protocol.StreamID(peerID)]; ok {
		st.applyTo(e)
		return true
	}
	r.pendingLocked(peerID).merge(st)
	return false
}

// SetDisplayName records the display name a remote peer announced, holding
// it like SetMediaState when the peer has no stream yet.
func (r *Registry) SetDisplayName(peerID, name string) bool {
	if peerID == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.streams[protocol.StreamID(peerID)]; ok {
		e.DisplayName = name
		return true
	}
	r.pendingLocked(peerID).displayName = &name
	return false
}

func (r *Registry) pendingLocked(peerID string) *peerState {
	st, ok := r.pending[peerID]
	if !ok {
		st = &peerState{}
		r.pending[peerID] = st
	}
	return st
}

func (p *peerState) merge(o *peerState) {
	if o.displayName != nil {
		p.displayName = o.displayName
	}
	if o.audioMuted != nil {
		p.audioMuted = o.audioMuted
	}
	if o.videoMuted != nil {
		p.videoMuted = o.videoMuted
		p.sharing = o.sharing
	}
}

// Get returns a snapshot of one stream.
func (r *Registry) Get(streamID string) (RemoteStream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.streams[streamID]
	if !ok {
		return RemoteStream{}, false
	}
	return e.snapshot(), true
}

// Snapshot returns all streams in creation order.
func (r *Registry) Snapshot() []RemoteStream {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.sortedLocked()
	out := make([]RemoteStream, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	return out
}

// Len returns the number of streams.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

func (r *Registry) sortedLocked() []*streamEntry {
	entries := make([]*streamEntry, 0, len(r.streams))
	for _, e := range r.streams {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return entries
}

func (e *streamEntry) snapshot() RemoteStream {
	s := e.RemoteStream
	s.Kinds = make([]string, 0, len(e.tracks))
	seen := make(map[string]bool)
	for _, kind := range e.tracks {
		if !seen[kind] {
			seen[kind] = true
			s.Kinds = append(s.Kinds, kind)
		}
	}
	sort.Strings(s.Kinds)
	return s
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			slog.Warn("Error closing stream sink", "error", err)
		}
	}
}
