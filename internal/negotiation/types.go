package negotiation

import (
	"context"
	"fmt"
)

// DescriptionKind tells an offer from an answer.
type DescriptionKind int

const (
	KindOffer DescriptionKind = iota + 1
	KindAnswer
)

func (k DescriptionKind) String() string {
	switch k {
	case KindOffer:
		return "offer"
	case KindAnswer:
		return "answer"
	default:
		return "unknown"
	}
}

// SessionDescription is an offer or answer with its opaque SDP payload.
type SessionDescription struct {
	Kind DescriptionKind
	SDP  string
}

// Candidate is a network reachability candidate. Candidates are immutable.
type Candidate struct {
	Candidate     string `json:"candidate" msgpack:"candidate"`
	SDPMid        string `json:"sdpMid" msgpack:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex" msgpack:"sdpMLineIndex"`
}

func (c Candidate) key() string {
	return fmt.Sprintf("%s|%d|%s", c.SDPMid, c.SDPMLineIndex, c.Candidate)
}

// State is the negotiation progress of one session.
type State int

const (
	StateIdle State = iota
	StateLocalDescriptionPending
	StateLocalDescriptionReady
	StatePublished
	StateAnswerSent
	StateRemoteDescriptionApplied
	StateCandidatesFlushed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLocalDescriptionPending:
		return "local-description-pending"
	case StateLocalDescriptionReady:
		return "local-description-ready"
	case StatePublished:
		return "published"
	case StateAnswerSent:
		return "answer-sent"
	case StateRemoteDescriptionApplied:
		return "remote-description-applied"
	case StateCandidatesFlushed:
		return "candidates-flushed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MessageKind tags a SignalingMessage.
type MessageKind int

const (
	MessageOffer MessageKind = iota + 1
	MessageAnswer
	MessageOffererCandidates
	MessageAnswererCandidates
)

func (k MessageKind) String() string {
	switch k {
	case MessageOffer:
		return "offer"
	case MessageAnswer:
		return "answer"
	case MessageOffererCandidates:
		return "offerer-candidates"
	case MessageAnswererCandidates:
		return "answerer-candidates"
	default:
		return "unknown"
	}
}

// Message is one inbound signaling message: a description for Offer and
// Answer, a candidate batch for the candidate kinds.
type Message struct {
	Kind        MessageKind
	Description SessionDescription
	Candidates  []Candidate
}

// Task is one unit of work on a serialized worker.
type Task func(ctx context.Context) error

// Engine is the media engine capability set the state machine drives.
// Every call is made from the negotiation worker, one at a time.
type Engine interface {
	CreateOffer(ctx context.Context) (SessionDescription, error)
	CreateAnswer(ctx context.Context) (SessionDescription, error)
	SetLocalDescription(ctx context.Context, d SessionDescription) error
	SetRemoteDescription(ctx context.Context, d SessionDescription) error
	AddCandidate(c Candidate) error

	// OnCandidateGathered registers the callback for locally discovered
	// candidates. It may be invoked from any goroutine.
	OnCandidateGathered(fn func(Candidate))

	Close() error
}

// Outbox performs document writes on behalf of the machine. Writes are
// applied in call order and done runs once each completes.
type Outbox interface {
	// Merge writes value under field.
	Merge(field string, value any, done func(error))

	// Clear deletes field if the document is still at version.
	Clear(field string, version uint64, done func(error))
}
