package negotiation

import (
	"fmt"
	"math"

	"github.com/BioHazard786/warpcall/internal/room"
	"github.com/BioHazard786/warpcall/internal/signaling"
)

// Room document fields written during negotiation.
const (
	FieldSDPOffer  = "sdpOffer"
	FieldSDPAnswer = "sdpAnswer"
	FieldICEOffer  = "iceOffer"
	FieldICEAnswer = "iceAnswer"
)

// descriptionField is where role publishes its description.
func descriptionField(r room.Role) string {
	if r == room.Offerer {
		return FieldSDPOffer
	}
	return FieldSDPAnswer
}

// candidateField is where role publishes its candidates.
func candidateField(r room.Role) string {
	if r == room.Offerer {
		return FieldICEOffer
	}
	return FieldICEAnswer
}

// OwnFields lists the fields a session of role r writes during negotiation.
func OwnFields(r room.Role) []string {
	return []string{descriptionField(r), candidateField(r)}
}

func descriptionKind(r room.Role) DescriptionKind {
	if r == room.Offerer {
		return KindOffer
	}
	return KindAnswer
}

func descriptionMessage(r room.Role) MessageKind {
	if r == room.Offerer {
		return MessageOffer
	}
	return MessageAnswer
}

func candidateMessage(r room.Role) MessageKind {
	if r == room.Offerer {
		return MessageOffererCandidates
	}
	return MessageAnswererCandidates
}

// sender returns the role that authors messages of kind k.
func (k MessageKind) sender() room.Role {
	switch k {
	case MessageOffer, MessageOffererCandidates:
		return room.Offerer
	case MessageAnswer, MessageAnswererCandidates:
		return room.Answerer
	default:
		return 0
	}
}

func encodeCandidates(list []Candidate) []any {
	out := make([]any, len(list))
	for i, c := range list {
		out[i] = map[string]any{
			"candidate":     c.Candidate,
			"sdpMid":        c.SDPMid,
			"sdpMLineIndex": int64(c.SDPMLineIndex),
		}
	}
	return out
}

func decodeDescription(field string, v any) (string, error) {
	sdp, ok := v.(string)
	if !ok {
		return "", &signaling.MalformedMessageError{Field: field, Reason: fmt.Sprintf("want string, got %T", v)}
	}
	if sdp == "" {
		return "", &signaling.MalformedMessageError{Field: field, Reason: "empty description"}
	}
	return sdp, nil
}

// decodeCandidates validates a whole candidate list. One bad entry
// invalidates the field.
func decodeCandidates(field string, v any) ([]Candidate, error) {
	var entries []any
	switch t := v.(type) {
	case []any:
		entries = t
	case []map[string]any:
		entries = make([]any, len(t))
		for i, e := range t {
			entries[i] = e
		}
	default:
		return nil, &signaling.MalformedMessageError{Field: field, Reason: fmt.Sprintf("want list, got %T", v)}
	}

	out := make([]Candidate, 0, len(entries))
	for i, e := range entries {
		c, err := decodeCandidate(e)
		if err != nil {
			return nil, &signaling.MalformedMessageError{Field: field, Reason: fmt.Sprintf("entry %d: %v", i, err)}
		}
		out = append(out, c)
	}
	return out, nil
}

func decodeCandidate(v any) (Candidate, error) {
	var m map[string]any
	switch t := v.(type) {
	case map[string]any:
		m = t
	case map[any]any:
		m = make(map[string]any, len(t))
		for k, e := range t {
			ks, ok := k.(string)
			if !ok {
				return Candidate{}, fmt.Errorf("non-string key %v", k)
			}
			m[ks] = e
		}
	default:
		return Candidate{}, fmt.Errorf("want object, got %T", v)
	}

	cand, ok := m["candidate"].(string)
	if !ok || cand == "" {
		return Candidate{}, fmt.Errorf("candidate must be a non-empty string")
	}
	mid, ok := m["sdpMid"].(string)
	if !ok {
		return Candidate{}, fmt.Errorf("sdpMid must be a string")
	}
	idx, ok := signaling.Int(m["sdpMLineIndex"])
	if !ok || idx < 0 || idx > math.MaxUint16 {
		return Candidate{}, fmt.Errorf("sdpMLineIndex must be an integer in [0, %d]", math.MaxUint16)
	}
	return Candidate{Candidate: cand, SDPMid: mid, SDPMLineIndex: int(idx)}, nil
}
