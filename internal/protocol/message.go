// Package protocol defines the JSON envelope exchanged over the signaling
// WebSocket by the SFU and its clients.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event names a signaling message.
type Event string

// Client to server events.
const (
	EventJoin  Event = "join"
	EventLeave Event = "leave"
)

// Events sent in both directions.
const (
	EventOffer        Event = "offer"
	EventAnswer       Event = "answer"
	EventICECandidate Event = "iceCandidate"
)

// Server to client events.
const (
	EventPeerID     Event = "peer-id"
	EventPeerLeft   Event = "peer-left"
	EventRemovePeer Event = "remove-peer" // older servers send this instead of peer-left
	EventRoomFull   Event = "room-full"
	EventError      Event = "error"
)

// StreamIDPrefix prefixes the stream id of every track the SFU forwards for a peer.
const StreamIDPrefix = "stream-"

// Message is the envelope for every signaling frame.
type Message struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Candidate is the ICE candidate payload of an iceCandidate message.
type Candidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

// JoinPayload is the payload of a join message.
type JoinPayload struct {
	RoomID      string `json:"roomId"`
	PeerID      string `json:"peerId,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// ErrorPayload is the payload of an error message.
type ErrorPayload struct {
	Error string `json:"error"`
}

// NewMessage encodes v as the data of a new message. A nil v produces a
// message without data.
func NewMessage(event Event, v any) (*Message, error) {
	msg := &Message{Event: event}
	if v == nil {
		return msg, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	msg.Data = data
	return msg, nil
}

// MustMessage is NewMessage for payloads that cannot fail to encode
// (strings, the payload structs of this package).
func MustMessage(event Event, v any) *Message {
	msg, err := NewMessage(event, v)
	if err != nil {
		panic(err)
	}
	return msg
}

// Decode unmarshals the message data into v.
func (m *Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("decode %s payload: empty data", m.Event)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Event, err)
	}
	return nil
}

// String decodes a message whose data is a JSON string (SDP, peer ids, reasons).
func (m *Message) String() (string, error) {
	var s string
	if err := m.Decode(&s); err != nil {
		return "", err
	}
	return s, nil
}

// StreamID returns the stream id the SFU uses for the tracks of peerID.
func StreamID(peerID string) string {
	return StreamIDPrefix + peerID
}

// PeerIDFromStream is the inverse of StreamID. ok is false when streamID does not
// carry the prefix.
func PeerIDFromStream(streamID string) (peerID string, ok bool) {
	return strings.CutPrefix(streamID, StreamIDPrefix)
}
