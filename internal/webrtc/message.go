package webrtc

import "github.com/vmihailenco/msgpack/v5"

// ControlChannelLabel is the label of the data channel clients open for
// media state updates.
const ControlChannelLabel = "control"

// Control message types.
const (
	ControlMediaState = "media-state"
	ControlHello      = "hello"
)

// ControlMessage is a data channel frame on the control channel.
type ControlMessage struct {
	Type    string             `msgpack:"type"`
	PeerID  string             `msgpack:"peerId,omitempty"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// MediaState tells other peers that a sender enabled or disabled a source.
type MediaState struct {
	Kind    string `msgpack:"kind"` // "audio" or "video"
	Enabled bool   `msgpack:"enabled"`
	Sharing bool   `msgpack:"sharing,omitempty"`
}

// Hello announces a peer's display name.
type Hello struct {
	DisplayName string `msgpack:"displayName"`
}

// NewControl encodes payload into a control message of type t.
func NewControl(t string, payload any) (ControlMessage, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return ControlMessage{}, err
	}
	return ControlMessage{Type: t, Payload: b}, nil
}

// DecodePayload decodes the message payload into v.
func (m ControlMessage) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

// Marshal encodes the whole control message.
func (m ControlMessage) Marshal() ([]byte, error) {
	return msgpack.Marshal(m)
}

// StateKey names the piece of sender state m replaces: "hello", or
// "media-state/<kind>". Other messages return "".
func (m ControlMessage) StateKey() string {
	switch m.Type {
	case ControlHello:
		return ControlHello
	case ControlMediaState:
		var st MediaState
		if err := m.DecodePayload(&st); err != nil || st.Kind == "" {
			return ""
		}
		return ControlMediaState + "/" + st.Kind
	}
	return ""
}

// UnmarshalControl decodes a control message frame.
func UnmarshalControl(b []byte) (ControlMessage, error) {
	var m ControlMessage
	err := msgpack.Unmarshal(b, &m)
	return m, err
}
