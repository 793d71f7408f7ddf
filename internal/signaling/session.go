package signaling

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/BioHazard786/huddle/internal/protocol"
	"github.com/BioHazard786/huddle/internal/sfu"
)

var (
	ErrNotJoined     = errors.New("not joined to a room")
	ErrAlreadyJoined = errors.New("already joined to a room")
	ErrMissingRoomID = errors.New("missing room id")
)

// work applies the client's messages in order until the hub closes the
// inbox, then removes the client's peer and closes its send channel.
func (c *Client) work() {
	defer func() {
		c.leave()
		c.closeSend()
	}()

	for msg := range c.inbox {
		if err := c.dispatch(msg); err != nil {
			c.Hub.metrics.RecordSignalError(string(msg.Event))
			c.log.Error("Error handling message", "event", msg.Event, "error", err)
			c.sendError(errorReason(err))
		}
	}
}

func (c *Client) dispatch(msg *protocol.Message) error {
	switch msg.Event {
	case protocol.EventJoin:
		return c.handleJoin(msg)

	case protocol.EventOffer:
		if c.peer == nil {
			return fmt.Errorf("offer: %w", ErrNotJoined)
		}
		sdp, err := msg.String()
		if err != nil {
			return err
		}
		return c.room.HandleOffer(c.peer, sdp)

	case protocol.EventAnswer:
		if c.peer == nil {
			return fmt.Errorf("answer: %w", ErrNotJoined)
		}
		sdp, err := msg.String()
		if err != nil {
			return err
		}
		return c.room.HandleAnswer(c.peer, sdp)

	case protocol.EventICECandidate:
		if c.peer == nil {
			return fmt.Errorf("iceCandidate: %w", ErrNotJoined)
		}
		var cand protocol.Candidate
		if err := msg.Decode(&cand); err != nil {
			return err
		}
		return c.room.HandleCandidate(c.peer, cand)

	case protocol.EventLeave:
		c.leave()
		return nil

	default:
		c.log.Warn("Unknown message event", "event", msg.Event)
		return nil
	}
}

func (c *Client) handleJoin(msg *protocol.Message) error {
	if c.peer != nil {
		return ErrAlreadyJoined
	}

	var payload protocol.JoinPayload
	if err := msg.Decode(&payload); err != nil {
		return err
	}
	roomID := strings.TrimSpace(payload.RoomID)
	if roomID == "" {
		return ErrMissingRoomID
	}

	// Ids are always assigned here; a client supplied peerId is ignored.
	peer := sfu.NewPeer(uuid.Nil, payload.DisplayName, c)
	room, err := c.Hub.manager.Join(roomID, peer)
	if errors.Is(err, sfu.ErrRoomFull) {
		c.log.Warn("Room is full", "roomId", roomID)
		c.signal(protocol.EventRoomFull, sfu.ErrRoomFull.Error())
		return nil
	}
	if err != nil {
		return err
	}

	c.room, c.peer = room, peer
	c.log = c.log.With("roomId", roomID, "peerId", peer.ID.String())
	c.signal(protocol.EventPeerID, peer.ID.String())
	c.log.Info("Peer joined room", "peers", room.Len())
	return nil
}

// leave removes the client's peer from its room, if any.
func (c *Client) leave() {
	if c.peer == nil {
		return
	}
	c.Hub.manager.Leave(c.room.ID, c.peer)
	c.log.Info("Peer left room")
	c.room, c.peer = nil, nil
}

// errorReason is the text sent to the client in an error message.
func errorReason(err error) string {
	switch {
	case errors.Is(err, ErrNotJoined):
		return "join a room first"
	case errors.Is(err, ErrAlreadyJoined):
		return ErrAlreadyJoined.Error()
	case errors.Is(err, ErrMissingRoomID):
		return ErrMissingRoomID.Error()
	default:
		return err.Error()
	}
}
