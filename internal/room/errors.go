package room

import (
	"errors"
	"fmt"
)

var ErrInvalidRoomID = errors.New("room id must not be empty")

// RoomFullError means the room already holds two participants. Capacity is
// a hard limit; callers abandon the session.
type RoomFullError struct {
	RoomID string
	Count  int64
}

func (e *RoomFullError) Error() string {
	return fmt.Sprintf("room %s is full (%d participants)", e.RoomID, e.Count)
}

// ChannelUnavailableError wraps a failed read or write on the signaling
// channel. No room state was changed, so the whole join may be retried.
type ChannelUnavailableError struct {
	Op     string
	RoomID string
	Err    error
}

func (e *ChannelUnavailableError) Error() string {
	return fmt.Sprintf("%s room %s: %v", e.Op, e.RoomID, e.Err)
}

func (e *ChannelUnavailableError) Unwrap() error {
	return e.Err
}
