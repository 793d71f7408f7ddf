package call

import (
	"errors"
	"testing"
)

func TestOpError(t *testing.T) {
	tests := []struct {
		err  *OpError
		want string
	}{
		{NewError("join", ErrRoomFull), "join: room is full"},
		{WrapError("signal", ErrSignalingError, "join a room first"), "signal: signaling server error (join a room first)"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}

	if !errors.Is(NewError("join", ErrRoomFull), ErrRoomFull) {
		t.Error("errors.Is did not unwrap OpError")
	}
}
