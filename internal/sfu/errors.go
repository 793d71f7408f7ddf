package sfu

import (
	"errors"
	"fmt"
)

var (
	ErrRoomFull          = errors.New("room is full")
	ErrPeerExists        = errors.New("peer already in room")
	ErrPeerNotFound      = errors.New("peer not in room")
	ErrPeerConnectionNil = errors.New("peer connection is nil")
	ErrPeerClosed        = errors.New("peer closed")
)

// OpError records the SFU operation that failed for a peer.
type OpError struct {
	Op     string
	PeerID string
	Err    error
}

func (e *OpError) Error() string {
	if e.PeerID != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.PeerID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func opErr(op string, p *Peer, err error) error {
	return &OpError{Op: op, PeerID: p.ID.String(), Err: err}
}
