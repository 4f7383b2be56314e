package negotiation

import (
	"fmt"

	"github.com/BioHazard786/warpcall/internal/room"
)

// DuplicateDescriptionError is a second local description for the same
// session. The first one stays in effect.
type DuplicateDescriptionError struct {
	Existing SessionDescription
	Rejected SessionDescription
}

func (e *DuplicateDescriptionError) Error() string {
	return fmt.Sprintf("local %s already created, ignoring new %s", e.Existing.Kind, e.Rejected.Kind)
}

// EngineOperationError is an operation the media engine rejected. The
// engine state is unknown afterwards, so the session cannot continue.
type EngineOperationError struct {
	Op  string
	Err error
}

func (e *EngineOperationError) Error() string {
	return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
}

func (e *EngineOperationError) Unwrap() error {
	return e.Err
}

// ProtocolError is a message or operation that does not fit the session's
// role or state. It is ignored.
type ProtocolError struct {
	Role   room.Role
	State  State
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s in state %s: %s", e.Role, e.State, e.Reason)
}

// CandidateRejectedError is a remote candidate the engine refused.
type CandidateRejectedError struct {
	Candidate Candidate
	Err       error
}

func (e *CandidateRejectedError) Error() string {
	return fmt.Sprintf("add candidate %q: %v", e.Candidate.Candidate, e.Err)
}

func (e *CandidateRejectedError) Unwrap() error {
	return e.Err
}
