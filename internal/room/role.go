package room

// Role is fixed once per session at admission time.
type Role int

const (
	// Offerer created the room and publishes the offer.
	Offerer Role = iota + 1
	// Answerer joined an existing room and publishes the answer.
	Answerer
)

func (r Role) String() string {
	switch r {
	case Offerer:
		return "offerer"
	case Answerer:
		return "answerer"
	default:
		return "unknown"
	}
}

// Peer returns the opposite role.
func (r Role) Peer() Role {
	switch r {
	case Offerer:
		return Answerer
	case Answerer:
		return Offerer
	default:
		return 0
	}
}

// Valid reports whether r is Offerer or Answerer.
func (r Role) Valid() bool {
	return r == Offerer || r == Answerer
}
