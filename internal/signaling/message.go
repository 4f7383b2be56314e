package signaling

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Frame represents every websocket message between a client and the
// document server. Frames travel as binary msgpack.
type Frame struct {
	Type    string `msgpack:"type"`
	ID      string `msgpack:"id,omitempty"`
	RoomID  string `msgpack:"room_id,omitempty"`
	Version uint64 `msgpack:"version,omitempty"`
	Fields  Fields `msgpack:"fields,omitempty"`
	SubID   string `msgpack:"sub,omitempty"`
	Code    string `msgpack:"code,omitempty"`
	Error   string `msgpack:"error,omitempty"`
}

// Request frame types (client to server).
const (
	FrameTypeGet         = "get"
	FrameTypeSet         = "set"
	FrameTypeMerge       = "merge"
	FrameTypeCAS         = "cas"
	FrameTypeSubscribe   = "subscribe"
	FrameTypeUnsubscribe = "unsubscribe"
)

// Response frame types (server to client).
const (
	FrameTypeResult   = "result"
	FrameTypeError    = "error"
	FrameTypeSnapshot = "snapshot"
)

// Error codes carried in error frames.
const (
	CodeNotFound    = "not_found"
	CodeConflict    = "conflict"
	CodeBadRequest  = "bad_request"
	CodeUnavailable = "unavailable"
)

// EncodeFrame marshals f for the wire.
func EncodeFrame(f *Frame) ([]byte, error) {
	b, err := msgpack.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	return b, nil
}

// DecodeFrame unmarshals a frame received from the wire.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return &f, nil
}

// CodeFor maps an error to its wire code.
func CodeFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrVersionConflict):
		return CodeConflict
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrClosed):
		return CodeUnavailable
	default:
		return CodeBadRequest
	}
}

// ErrorFor maps a wire error frame back to a sentinel-wrapped error.
func ErrorFor(f *Frame) error {
	switch f.Code {
	case CodeNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, f.RoomID)
	case CodeConflict:
		return fmt.Errorf("%w: %s", ErrVersionConflict, f.RoomID)
	case CodeUnavailable:
		return fmt.Errorf("%w: %s", ErrUnavailable, f.Error)
	default:
		return fmt.Errorf("server rejected request: %s", f.Error)
	}
}
