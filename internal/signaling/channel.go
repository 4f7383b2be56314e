package signaling

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrVersionConflict = errors.New("document version conflict")
	ErrUnavailable     = errors.New("signaling channel unavailable")
	ErrClosed          = errors.New("signaling channel closed")
)

// Fields is the field set of a room document. In a merge, a nil value
// deletes the field.
type Fields map[string]any

// Clone returns a deep copy of f. Nested lists and maps are copied so the
// result never aliases the caller's values.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Document is one full snapshot of a room document.
type Document struct {
	RoomID  string `json:"room_id" msgpack:"room_id"`
	Version uint64 `json:"version" msgpack:"version"`
	Fields  Fields `json:"fields" msgpack:"fields"`
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	return &Document{RoomID: d.RoomID, Version: d.Version, Fields: d.Fields.Clone()}
}

// Subscription streams full document snapshots. Updates never closes on its
// own; it closes after Close or when the underlying transport goes away.
type Subscription interface {
	Updates() <-chan *Document
	Close() error
}

// Channel is a shared, versioned document store keyed by room identifier.
type Channel interface {
	// Get returns the current document or ErrNotFound.
	Get(ctx context.Context, roomID string) (*Document, error)

	// Set replaces the whole document.
	Set(ctx context.Context, roomID string, fields Fields) error

	// Merge applies a partial update, creating the document if absent.
	Merge(ctx context.Context, roomID string, fields Fields) error

	// CompareAndSwap merges fields only if the current version equals
	// version. Version 0 requires that the document does not exist yet.
	// A mismatch returns ErrVersionConflict.
	CompareAndSwap(ctx context.Context, roomID string, version uint64, fields Fields) error

	// Subscribe delivers the current document, if any, and then every change.
	Subscribe(ctx context.Context, roomID string) (Subscription, error)
}

// MalformedMessageError reports a document field that failed shape
// validation. The field is dropped; the rest of the document stays usable.
type MalformedMessageError struct {
	Field  string
	Reason string
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("malformed field %q: %s", e.Field, e.Reason)
}

// Int reads an integer field. Numeric values decoded from msgpack or JSON
// arrive with varying Go types.
func Int(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > 1<<62 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case float32:
		if n != float32(int64(n)) {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}
