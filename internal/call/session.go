// Package call implements a headless participant of a huddle room: it
// signals over the WebSocket, negotiates one PeerConnection with the SFU,
// publishes local media and tracks the remote streams.
package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	pionlog "github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"

	"github.com/BioHazard786/huddle/internal/config"
	"github.com/BioHazard786/huddle/internal/protocol"
	rtc "github.com/BioHazard786/huddle/internal/webrtc"
)

const localStreamID = "local"

// EventKind classifies session events.
type EventKind int

const (
	EventJoined EventKind = iota
	EventStreamAdded
	EventStreamRemoved
	EventStreamUpdated
	EventLocalState
	EventNotice
	EventError
	EventClosed
)

// Event is delivered on Session.Events.
type Event struct {
	Kind    EventKind
	Stream  RemoteStream
	Message string
	Err     error
}

// LocalState describes the local side of the call.
type LocalState struct {
	PeerID  string
	RoomID  string
	Mic     bool
	Camera  bool
	Sharing bool
}

// Options configure a Session.
type Options struct {
	ServerURL   string
	DisplayName string
	ICE         config.ICEConfig

	// AudioFile and VideoFile select looping file sources. Empty means a
	// generated source unless the matching No flag is set.
	AudioFile string
	VideoFile string
	NoAudio   bool
	NoVideo   bool

	// RecordDir, when set, receives one file per remote track.
	RecordDir string

	LoggerFactory pionlog.LoggerFactory
}

// Session is one participant in a room.
type Session struct {
	opts     Options
	api      *pion.API
	signal   *SignalClient
	registry *Registry
	events   chan Event
	log      *slog.Logger

	mu                sync.Mutex
	pc                *pion.PeerConnection
	control           *pion.DataChannel
	peerID            string
	roomID            string
	joined            bool
	joinResult        chan error
	pendingCandidates []pion.ICECandidateInit
	audio             *LocalSource
	video             *LocalSource
	videoSender       *pion.RTPSender
	share             *LocalSource
	stopShare         context.CancelFunc
	recordings        []string
	mediaCtx          context.Context
	stopMedia         context.CancelFunc

	leaving   atomic.Bool
	done      chan struct{}
	leaveOnce sync.Once
}

// NewSession prepares a session; nothing is dialed until Connect.
func NewSession(opts Options) (*Session, error) {
	api, err := rtc.NewAPI(0, opts.LoggerFactory)
	if err != nil {
		return nil, NewError("create webrtc api", err)
	}
	mediaCtx, stopMedia := context.WithCancel(context.Background())
	return &Session{
		opts:      opts,
		api:       api,
		signal:    NewSignalClient(opts.ServerURL),
		registry:  NewRegistry(),
		events:    make(chan Event, 64),
		log:       slog.With("component", "call"),
		mediaCtx:  mediaCtx,
		stopMedia: stopMedia,
		done:      make(chan struct{}),
	}, nil
}

// Events returns session events for a UI. Events are dropped when the
// consumer falls behind.
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed once the session has left.
func (s *Session) Done() <-chan struct{} { return s.done }

// Registry returns the remote streams of the call.
func (s *Session) Registry() *Registry { return s.registry }

// Recordings returns the files remote tracks were recorded to, in the order
// they were opened.
func (s *Session) Recordings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.recordings...)
}

// State returns a snapshot of the local side.
func (s *Session) State() LocalState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() LocalState {
	st := LocalState{PeerID: s.peerID, RoomID: s.roomID, Sharing: s.share != nil}
	if s.audio != nil {
		st.Mic = s.audio.Enabled()
	}
	if s.video != nil {
		st.Camera = s.video.Enabled()
	}
	return st
}

// Connect dials the signaling server and starts dispatching its messages.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.signal.Connect(ctx); err != nil {
		return err
	}
	go s.dispatch()
	return nil
}

// Join enters roomID: it waits for the server to assign a peer id, then
// publishes local media and sends the first offer.
func (s *Session) Join(ctx context.Context, roomID string) error {
	s.mu.Lock()
	if s.joined {
		s.mu.Unlock()
		return NewError("join", ErrAlreadyJoined)
	}
	s.joined = true
	s.roomID = roomID
	result := make(chan error, 1)
	s.joinResult = result
	s.mu.Unlock()

	err := s.signal.SendEvent(protocol.EventJoin, protocol.JoinPayload{
		RoomID:      roomID,
		DisplayName: s.opts.DisplayName,
	})
	if err != nil {
		return NewError("join", err)
	}

	select {
	case err := <-result:
		if err != nil {
			return NewError("join", err)
		}
	case <-ctx.Done():
		s.Leave()
		return WrapError("join", ErrTimeout, ctx.Err().Error())
	case <-s.done:
		return NewError("join", ErrNotConnected)
	}

	if err := s.startPeer(); err != nil {
		s.Leave()
		return err
	}
	return nil
}

func (s *Session) startPeer() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pc, err := newPeerConnection(s.api, s.opts.ICE)
	if err != nil {
		return err
	}
	s.pc = pc
	s.installHandlers(pc)

	if !s.opts.NoAudio {
		if s.audio, err = s.openSource(KindAudio, s.opts.AudioFile); err != nil {
			return err
		}
		sender, err := pc.AddTrack(s.audio.Track())
		if err != nil {
			return NewError("add audio track", err)
		}
		go drainRTCP(sender)
	}
	if !s.opts.NoVideo {
		if s.video, err = s.openSource(KindVideo, s.opts.VideoFile); err != nil {
			return err
		}
		if s.videoSender, err = pc.AddTrack(s.video.Track()); err != nil {
			return NewError("add video track", err)
		}
		go drainRTCP(s.videoSender)
	}

	if s.control, err = createControlChannel(pc); err != nil {
		return err
	}
	s.installControl(s.control)

	offer, err := createOffer(pc)
	if err != nil {
		return err
	}
	if err := s.signal.SendEvent(protocol.EventOffer, offer.SDP); err != nil {
		return NewError("send offer", err)
	}

	for _, src := range []*LocalSource{s.audio, s.video} {
		if src != nil {
			go src.Run(s.mediaCtx)
		}
	}
	return nil
}

func (s *Session) openSource(kind, path string) (*LocalSource, error) {
	reader, err := OpenSource(kind, path, true)
	if err != nil {
		return nil, WrapError("open "+kind+" source", err, path)
	}
	src, err := NewLocalSource(kind, localStreamID, reader)
	if err != nil {
		reader.Close()
		return nil, NewError("open "+kind+" source", err)
	}
	return src, nil
}

func (s *Session) installHandlers(pc *pion.PeerConnection) {
	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		if err := s.signal.SendEvent(protocol.EventICECandidate, toCandidate(c)); err != nil {
			s.log.Debug("Dropping local candidate", "error", err)
		}
	})

	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		s.log.Debug("Connection state changed", "state", state.String())
		if state == pion.PeerConnectionStateFailed {
			s.emit(Event{Kind: EventError, Err: NewError("connect media", fmt.Errorf("peer connection failed"))})
		}
	})

	pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		s.handleTrack(track)
	})
}

func (s *Session) handleTrack(track *pion.TrackRemote) {
	streamID := track.StreamID()
	label, created := s.registry.AddTrack(streamID, track.ID(), track.Kind().String())
	s.log.Info("Remote track", "stream", streamID, "kind", track.Kind().String(), "label", label)

	var w rtpWriter
	if s.opts.RecordDir != "" {
		rec, path, err := newRecorder(s.opts.RecordDir, streamID, track.Codec())
		if err != nil {
			s.log.Warn("Not recording track", "stream", streamID, "error", err)
		} else if s.registry.AttachCloser(streamID, rec) {
			s.log.Info("Recording track", "stream", streamID, "path", path)
			s.mu.Lock()
			s.recordings = append(s.recordings, path)
			s.mu.Unlock()
			w = rec
		} else {
			rec.Close()
		}
	}

	if stream, ok := s.registry.Get(streamID); ok {
		kind := EventStreamUpdated
		if created {
			kind = EventStreamAdded
		}
		s.emit(Event{Kind: kind, Stream: stream})
	}

	go func() {
		consumeTrack(track, w)
		if label, removed := s.registry.RemoveTrack(streamID, track.ID()); removed {
			s.emit(Event{Kind: EventStreamRemoved, Stream: RemoteStream{ID: streamID, Label: label}})
		}
	}()
}

func (s *Session) installControl(dc *pion.DataChannel) {
	dc.OnOpen(func() {
		s.sendControl(rtc.ControlHello, rtc.Hello{DisplayName: s.opts.DisplayName})
		st := s.State()
		if s.hasSource(KindAudio) {
			s.sendControl(rtc.ControlMediaState, rtc.MediaState{Kind: KindAudio, Enabled: st.Mic})
		}
		if s.hasSource(KindVideo) {
			s.sendControl(rtc.ControlMediaState, rtc.MediaState{Kind: KindVideo, Enabled: st.Camera || st.Sharing, Sharing: st.Sharing})
		}
	})

	dc.OnMessage(func(msg pion.DataChannelMessage) {
		ctrl, err := rtc.UnmarshalControl(msg.Data)
		if err != nil {
			s.log.Warn("Dropping malformed control frame", "error", err)
			return
		}
		s.handleControl(ctrl)
	})
}

func (s *Session) handleControl(ctrl rtc.ControlMessage) {
	switch ctrl.Type {
	case rtc.ControlMediaState:
		var st rtc.MediaState
		if err := ctrl.DecodePayload(&st); err != nil {
			s.log.Warn("Bad media-state payload", "error", err)
			return
		}
		if !s.registry.SetMediaState(ctrl.PeerID, st.Kind, st.Enabled, st.Sharing) {
			return
		}

	case rtc.ControlHello:
		var hello rtc.Hello
		if err := ctrl.DecodePayload(&hello); err != nil {
			s.log.Warn("Bad hello payload", "error", err)
			return
		}
		if !s.registry.SetDisplayName(ctrl.PeerID, hello.DisplayName) {
			return
		}

	default:
		return
	}

	if stream, ok := s.registry.Get(protocol.StreamID(ctrl.PeerID)); ok {
		s.emit(Event{Kind: EventStreamUpdated, Stream: stream})
	}
}

func (s *Session) sendControl(t string, payload any) {
	s.mu.Lock()
	dc := s.control
	s.mu.Unlock()
	if dc == nil || dc.ReadyState() != pion.DataChannelStateOpen {
		return
	}

	ctrl, err := rtc.NewControl(t, payload)
	if err != nil {
		s.log.Warn("Encode control message", "type", t, "error", err)
		return
	}
	b, err := ctrl.Marshal()
	if err != nil {
		s.log.Warn("Encode control message", "type", t, "error", err)
		return
	}
	if err := dc.Send(b); err != nil {
		s.log.Debug("Send control message", "type", t, "error", err)
	}
}

func (s *Session) hasSource(kind string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kind == KindAudio {
		return s.audio != nil
	}
	return s.video != nil
}

// dispatch handles signaling messages in arrival order until the connection
// ends.
func (s *Session) dispatch() {
	for msg := range s.signal.Incoming() {
		s.handle(msg)
	}

	if !s.leaving.Load() {
		s.emit(Event{Kind: EventNotice, Message: "Disconnected from server."})
		s.Leave()
	}
}

func (s *Session) handle(msg *protocol.Message) {
	var err error
	switch msg.Event {
	case protocol.EventPeerID:
		err = s.handlePeerID(msg)
	case protocol.EventOffer:
		err = s.handleOffer(msg)
	case protocol.EventAnswer:
		err = s.handleAnswer(msg)
	case protocol.EventICECandidate:
		err = s.handleCandidate(msg)
	case protocol.EventPeerLeft, protocol.EventRemovePeer:
		err = s.handlePeerLeft(msg)
	case protocol.EventRoomFull:
		s.handleRoomFull(msg)
	case protocol.EventError:
		s.handleError(msg)
	default:
		s.log.Debug("Ignoring signaling event", "event", msg.Event)
	}
	if err != nil {
		s.log.Error("Error handling signaling message", "event", msg.Event, "error", err)
		s.emit(Event{Kind: EventError, Err: err})
	}
}

func (s *Session) handlePeerID(msg *protocol.Message) error {
	id, err := msg.String()
	if err != nil {
		return NewError("peer-id", err)
	}

	s.mu.Lock()
	s.peerID = id
	result := s.joinResult
	s.joinResult = nil
	s.mu.Unlock()

	s.log.Info("Joined room", "peer_id", id)
	s.emit(Event{Kind: EventJoined, Message: id})
	if result != nil {
		result <- nil
	}
	return nil
}

func (s *Session) handleOffer(msg *protocol.Message) error {
	sdp, err := msg.String()
	if err != nil {
		return NewError("offer", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pc == nil {
		return NewError("offer", ErrPeerConnectionNil)
	}
	// The server yields on glare and re-offers once our offer is answered.
	if s.pc.SignalingState() == pion.SignalingStateHaveLocalOffer {
		s.log.Debug("Ignoring offer while our offer is pending")
		return nil
	}

	answer, err := createAnswer(s.pc, sdp)
	if err != nil {
		return err
	}
	s.flushCandidatesLocked()

	if err := s.signal.SendEvent(protocol.EventAnswer, answer.SDP); err != nil {
		return NewError("send answer", err)
	}
	return nil
}

func (s *Session) handleAnswer(msg *protocol.Message) error {
	sdp, err := msg.String()
	if err != nil {
		return NewError("answer", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pc == nil {
		return NewError("answer", ErrPeerConnectionNil)
	}
	if s.pc.SignalingState() != pion.SignalingStateHaveLocalOffer {
		s.log.Warn("Ignoring answer without a pending offer", "state", s.pc.SignalingState().String())
		return nil
	}
	if err := s.pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: sdp}); err != nil {
		return NewError("set remote description", err)
	}
	s.flushCandidatesLocked()
	return nil
}

func (s *Session) handleCandidate(msg *protocol.Message) error {
	var c protocol.Candidate
	if err := msg.Decode(&c); err != nil {
		return NewError("ice candidate", err)
	}
	init := fromCandidate(c)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pc == nil || s.pc.RemoteDescription() == nil {
		s.pendingCandidates = append(s.pendingCandidates, init)
		return nil
	}
	if err := s.pc.AddICECandidate(init); err != nil {
		return NewError("add ICE candidate", err)
	}
	return nil
}

func (s *Session) flushCandidatesLocked() {
	for _, c := range s.pendingCandidates {
		if err := s.pc.AddICECandidate(c); err != nil {
			s.log.Warn("Error adding queued candidate", "error", err)
		}
	}
	s.pendingCandidates = nil
}

func (s *Session) handlePeerLeft(msg *protocol.Message) error {
	id, err := msg.String()
	if err != nil {
		return NewError(string(msg.Event), err)
	}

	label, ok := s.registry.Remove(id)
	if !ok {
		s.log.Debug("Peer left without a stream", "peer_id", id)
		return nil
	}
	s.emit(Event{Kind: EventStreamRemoved, Stream: RemoteStream{ID: protocol.StreamID(id), PeerID: id, Label: label}})
	s.emit(Event{Kind: EventNotice, Message: fmt.Sprintf("%s has left the room.", label)})
	return nil
}

func (s *Session) handleRoomFull(msg *protocol.Message) {
	reason, err := msg.String()
	if err != nil || reason == "" {
		reason = ErrRoomFull.Error()
	}

	s.mu.Lock()
	result := s.joinResult
	s.joinResult = nil
	s.mu.Unlock()

	s.emit(Event{Kind: EventNotice, Message: "Room is full."})
	s.emit(Event{Kind: EventError, Err: WrapError("join", ErrRoomFull, reason)})
	if result != nil {
		result <- ErrRoomFull
	}
	go s.Leave()
}

func (s *Session) handleError(msg *protocol.Message) {
	var payload protocol.ErrorPayload
	reason := "unknown error"
	if err := msg.Decode(&payload); err == nil && payload.Error != "" {
		reason = payload.Error
	}
	err := WrapError("server", ErrSignalingError, reason)
	s.log.Warn("Signaling server error", "error", reason)

	s.mu.Lock()
	result := s.joinResult
	s.joinResult = nil
	s.mu.Unlock()

	if result != nil {
		result <- err
		return
	}
	s.emit(Event{Kind: EventError, Err: err})
}

// ToggleMic flips the microphone and returns its new state.
func (s *Session) ToggleMic() (bool, error) {
	return s.toggle(KindAudio)
}

// ToggleCamera flips the camera and returns its new state.
func (s *Session) ToggleCamera() (bool, error) {
	return s.toggle(KindVideo)
}

func (s *Session) toggle(kind string) (bool, error) {
	s.mu.Lock()
	src := s.audio
	if kind == KindVideo {
		src = s.video
	}
	sharing := s.share != nil
	if src == nil {
		s.mu.Unlock()
		return false, NewError("toggle "+kind, ErrNoLocalMedia)
	}
	enabled := !src.Enabled()
	src.SetEnabled(enabled)
	s.mu.Unlock()

	s.sendControl(rtc.ControlMediaState, rtc.MediaState{Kind: kind, Enabled: enabled || sharing, Sharing: sharing})
	s.emit(Event{Kind: EventLocalState})
	return enabled, nil
}

// ShareScreen replaces the outgoing video with reader until StopShare or
// until reader ends.
func (s *Session) ShareScreen(reader SampleReader) error {
	src, err := NewLocalSource(KindVideo, localStreamID, reader)
	if err != nil {
		reader.Close()
		return NewError("share screen", err)
	}

	s.mu.Lock()
	if s.pc == nil {
		s.mu.Unlock()
		reader.Close()
		return NewError("share screen", ErrNotJoined)
	}
	if s.videoSender == nil {
		s.mu.Unlock()
		reader.Close()
		return NewError("share screen", ErrNoLocalMedia)
	}
	if err := s.videoSender.ReplaceTrack(src.Track()); err != nil {
		s.mu.Unlock()
		reader.Close()
		return NewError("replace track", err)
	}
	if s.stopShare != nil {
		s.stopShare()
	}
	ctx, cancel := context.WithCancel(s.mediaCtx)
	s.share = src
	s.stopShare = cancel
	s.mu.Unlock()

	go src.Run(ctx)
	go func() {
		<-src.Ended()
		if err := s.revertShare(src); err == nil {
			s.emit(Event{Kind: EventNotice, Message: "Screen share ended."})
		}
	}()

	s.sendControl(rtc.ControlMediaState, rtc.MediaState{Kind: KindVideo, Enabled: true, Sharing: true})
	s.emit(Event{Kind: EventLocalState})
	return nil
}

// StopShare puts the camera back on the video sender.
func (s *Session) StopShare() error {
	s.mu.Lock()
	src := s.share
	s.mu.Unlock()
	if src == nil {
		return NewError("stop share", ErrNotSharing)
	}
	return s.revertShare(src)
}

// revertShare restores the camera if src is still the active share.
func (s *Session) revertShare(src *LocalSource) error {
	s.mu.Lock()
	if s.share != src {
		s.mu.Unlock()
		return ErrNotSharing
	}
	s.share = nil
	s.stopShare()
	s.stopShare = nil

	var camera pion.TrackLocal
	cameraOn := false
	if s.video != nil {
		camera = s.video.Track()
		cameraOn = s.video.Enabled()
	}
	var err error
	if s.videoSender != nil && s.pc != nil {
		err = s.videoSender.ReplaceTrack(camera)
	}
	s.mu.Unlock()

	if err != nil {
		return NewError("replace track", err)
	}
	s.sendControl(rtc.ControlMediaState, rtc.MediaState{Kind: KindVideo, Enabled: cameraOn})
	s.emit(Event{Kind: EventLocalState})
	return nil
}

// Leave closes the media connection and the signaling connection, sending
// leave first, and clears all remote streams. It is safe to call repeatedly.
func (s *Session) Leave() {
	s.leaveOnce.Do(func() {
		s.leaving.Store(true)

		s.mu.Lock()
		joined := s.joined && s.peerID != ""
		pc := s.pc
		sources := []*LocalSource{s.audio, s.video}
		s.pc = nil
		s.control = nil
		s.share = nil
		s.stopShare = nil
		s.pendingCandidates = nil
		s.mu.Unlock()

		if joined {
			if err := s.signal.SendEvent(protocol.EventLeave, nil); err != nil {
				s.log.Debug("Could not send leave", "error", err)
			}
		}

		s.stopMedia()
		for _, src := range sources {
			if src != nil {
				src.Close()
			}
		}
		if pc != nil {
			if err := pc.Close(); err != nil {
				s.log.Warn("Error closing peer connection", "error", err)
			}
		}
		s.signal.Close()

		for _, label := range s.registry.ClearAll() {
			s.log.Debug("Removed remote stream", "label", label)
		}
		s.emit(Event{Kind: EventClosed})
		close(s.done)
	})
}

func (s *Session) emit(e Event) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.events <- e:
	default:
		s.log.Debug("Dropping session event", "kind", e.Kind)
	}
}
