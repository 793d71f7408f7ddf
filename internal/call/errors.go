package call

import (
	"errors"
	"fmt"
)

var (
	ErrRoomFull          = errors.New("room is full")
	ErrNotJoined         = errors.New("not joined to a room")
	ErrAlreadyJoined     = errors.New("already joined to a room")
	ErrNotConnected      = errors.New("not connected to signaling server")
	ErrPeerConnectionNil = errors.New("peer connection is nil")
	ErrNoLocalMedia      = errors.New("no local media source")
	ErrSignalingError    = errors.New("signaling server error")
	ErrTimeout           = errors.New("timeout")
	ErrNotSharing        = errors.New("not sharing a screen")
)

// OpError records the call operation that failed.
type OpError struct {
	Op      string
	Err     error
	Details string
}

func (e *OpError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *OpError {
	return &OpError{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *OpError {
	return &OpError{Op: op, Err: err, Details: details}
}
