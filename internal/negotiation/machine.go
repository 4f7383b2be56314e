package negotiation

import (
	"context"
	"errors"
	"fmt"

	"github.com/BioHazard786/warpcall/internal/room"
	"github.com/BioHazard786/warpcall/internal/signaling"
	"github.com/rs/zerolog"
)

// Ops reported in *room.ChannelUnavailableError by the machine.
const (
	OpPublishDescription = "publish description"
	OpPublishCandidates  = "publish candidates"
	OpAcknowledge        = "acknowledge candidates"
	OpSubscribe          = "subscribe"
)

// MachineDeps are the collaborators of a Machine.
type MachineDeps struct {
	RoomID string
	Engine Engine
	Outbox Outbox

	// Schedule queues a continuation on the worker that runs the machine.
	// It reports false when the session is gone.
	Schedule func(Task) bool

	// OnState observes every state transition.
	OnState func(State)

	Logger zerolog.Logger
}

// fieldState is what has been consumed from one peer-authored field.
type fieldState struct {
	last     string
	consumed map[string]struct{}
	acking   bool
}

// Machine is the negotiation state of one session. It is not safe for
// concurrent use: every method must run on the session's worker.
type Machine struct {
	role room.Role
	deps MachineDeps
	log  zerolog.Logger

	state    State
	local    *SessionDescription
	remote   *SessionDescription
	localSet bool
	flushed  bool

	queue *CandidateQueue

	outbound     []Candidate
	outboundSeen map[string]struct{}

	lastVersion uint64
	fields      map[string]*fieldState
}

// NewMachine creates an idle machine for role.
func NewMachine(role room.Role, deps MachineDeps) *Machine {
	return &Machine{
		role: role,
		deps: deps,
		log: deps.Logger.With().
			Str("module", "negotiation").
			Str("room", deps.RoomID).
			Str("role", role.String()).
			Logger(),
		queue:        NewCandidateQueue(),
		outboundSeen: make(map[string]struct{}),
		fields:       make(map[string]*fieldState),
	}
}

func (m *Machine) Role() room.Role { return m.role }
func (m *Machine) State() State    { return m.state }

// RemoteApplied reports whether a remote description has been set.
func (m *Machine) RemoteApplied() bool { return m.queue.IsReady() }

// Local returns the local description, if one was created.
func (m *Machine) Local() (SessionDescription, bool) {
	if m.local == nil {
		return SessionDescription{}, false
	}
	return *m.local, true
}

// Remote returns the applied remote description, if any.
func (m *Machine) Remote() (SessionDescription, bool) {
	if m.remote == nil {
		return SessionDescription{}, false
	}
	return *m.remote, true
}

// Queued returns how many remote candidates wait for the remote description.
func (m *Machine) Queued() int { return m.queue.Len() }

// Outbound returns a copy of the locally gathered candidates.
func (m *Machine) Outbound() []Candidate {
	return append([]Candidate(nil), m.outbound...)
}

func (m *Machine) setState(s State) {
	if s == m.state {
		return
	}
	m.log.Debug().Str("from", m.state.String()).Str("to", s.String()).Msg("state changed")
	m.state = s
	if m.deps.OnState != nil {
		m.deps.OnState(s)
	}
}

func (m *Machine) schedule(t Task) {
	if !m.deps.Schedule(t) {
		m.log.Debug().Msg("continuation dropped, session closed")
	}
}

// resume turns a write completion into a continuation on the worker.
func (m *Machine) resume(fn func(context.Context, error) error) func(error) {
	return func(err error) {
		m.schedule(func(ctx context.Context) error { return fn(ctx, err) })
	}
}

func (m *Machine) protocol(format string, args ...any) error {
	return &ProtocolError{Role: m.role, State: m.state, Reason: fmt.Sprintf(format, args...)}
}

// BeginAsOfferer asks the engine for an offer.
func (m *Machine) BeginAsOfferer(ctx context.Context) error {
	if m.role != room.Offerer {
		return m.protocol("only the offerer creates an offer")
	}
	if m.state != StateIdle || m.local != nil {
		return m.protocol("negotiation already started")
	}
	m.setState(StateLocalDescriptionPending)

	offer, err := m.deps.Engine.CreateOffer(ctx)
	if err != nil {
		return &EngineOperationError{Op: "create offer", Err: err}
	}
	m.schedule(func(ctx context.Context) error { return m.OnLocalDescriptionCreated(ctx, offer) })
	return nil
}

// BeginAsAnswerer applies offer as the remote description and asks the
// engine for an answer.
func (m *Machine) BeginAsAnswerer(ctx context.Context, offer SessionDescription) error {
	if m.role != room.Answerer {
		return m.protocol("only the answerer accepts an offer")
	}
	if offer.Kind != KindOffer {
		return m.protocol("expected offer, got %s", offer.Kind)
	}
	if m.state != StateIdle || m.local != nil || m.remote != nil {
		return m.protocol("offer received after negotiation started")
	}

	if err := m.deps.Engine.SetRemoteDescription(ctx, offer); err != nil {
		return &EngineOperationError{Op: "set remote description", Err: err}
	}
	m.remote = &offer
	m.queue.MarkReady()
	m.log.Info().Msg("offer applied")
	m.setState(StateLocalDescriptionPending)

	answer, err := m.deps.Engine.CreateAnswer(ctx)
	if err != nil {
		return &EngineOperationError{Op: "create answer", Err: err}
	}
	m.schedule(func(ctx context.Context) error { return m.OnLocalDescriptionCreated(ctx, answer) })
	return nil
}

// OnLocalDescriptionCreated stores desc and asks the engine to set it
// locally. Only the first description of a session is kept.
func (m *Machine) OnLocalDescriptionCreated(ctx context.Context, desc SessionDescription) error {
	if m.local != nil {
		return &DuplicateDescriptionError{Existing: *m.local, Rejected: desc}
	}
	if desc.Kind != descriptionKind(m.role) {
		return m.protocol("engine created %s, want %s", desc.Kind, descriptionKind(m.role))
	}
	m.local = &desc
	m.setState(StateLocalDescriptionReady)

	if err := m.deps.Engine.SetLocalDescription(ctx, desc); err != nil {
		return &EngineOperationError{Op: "set local description", Err: err}
	}
	m.schedule(m.OnLocalDescriptionSet)
	return nil
}

// OnLocalDescriptionSet publishes the local description and flushes queued
// candidates once the remote description is in place.
func (m *Machine) OnLocalDescriptionSet(ctx context.Context) error {
	if m.local == nil || m.localSet {
		return m.protocol("local description set without a pending one")
	}
	m.localSet = true

	switch m.role {
	case room.Offerer:
		if m.queue.IsReady() {
			m.log.Info().Msg("answer already applied, skipping offer publication")
			m.flush()
			return nil
		}
		m.publishDescription()
		m.setState(StatePublished)

	case room.Answerer:
		m.publishDescription()
		m.setState(StateAnswerSent)
		m.setState(StateRemoteDescriptionApplied)
		m.flush()
	}
	return nil
}

func (m *Machine) publishDescription() {
	field := descriptionField(m.role)
	m.log.Info().Str("field", field).Msg("publishing local description")
	m.deps.Outbox.Merge(field, m.local.SDP, m.resume(func(_ context.Context, err error) error {
		if err != nil {
			return &room.ChannelUnavailableError{Op: OpPublishDescription, RoomID: m.deps.RoomID, Err: err}
		}
		m.log.Debug().Str("field", field).Msg("local description published")
		return nil
	}))
}

// OnRemoteMessage dispatches one inbound message. Self-authored messages
// are ignored.
func (m *Machine) OnRemoteMessage(ctx context.Context, msg Message) error {
	if msg.Kind.sender() == m.role {
		m.log.Debug().Str("kind", msg.Kind.String()).Msg("ignoring self-authored message")
		return nil
	}

	switch msg.Kind {
	case MessageOffer:
		return m.BeginAsAnswerer(ctx, msg.Description)
	case MessageAnswer:
		return m.applyAnswer(ctx, msg.Description)
	case MessageOffererCandidates, MessageAnswererCandidates:
		return m.addRemoteCandidates(msg.Candidates)
	default:
		return m.protocol("unknown message kind %d", int(msg.Kind))
	}
}

func (m *Machine) applyAnswer(ctx context.Context, answer SessionDescription) error {
	if answer.Kind != KindAnswer {
		return m.protocol("expected answer, got %s", answer.Kind)
	}
	if m.remote != nil {
		return m.protocol("answer already applied")
	}
	if m.local == nil {
		return m.protocol("answer received before an offer was created")
	}

	if err := m.deps.Engine.SetRemoteDescription(ctx, answer); err != nil {
		return &EngineOperationError{Op: "set remote description", Err: err}
	}
	m.remote = &answer
	m.queue.MarkReady()
	m.log.Info().Msg("answer applied")
	m.setState(StateRemoteDescriptionApplied)

	if m.localSet {
		m.flush()
	}
	return nil
}

func (m *Machine) addRemoteCandidates(list []Candidate) error {
	var errs []error
	for _, c := range list {
		if !m.queue.IsReady() {
			m.queue.Enqueue(c)
			continue
		}
		if err := m.addCandidate(c); err != nil {
			errs = append(errs, err)
		}
	}
	if !m.queue.IsReady() && len(list) > 0 {
		m.log.Debug().Int("count", len(list)).Int("queued", m.queue.Len()).Msg("queued remote candidates")
	}
	return errors.Join(errs...)
}

func (m *Machine) addCandidate(c Candidate) error {
	if err := m.deps.Engine.AddCandidate(c); err != nil {
		return &CandidateRejectedError{Candidate: c, Err: err}
	}
	return nil
}

// flush drains the queue into the engine. It runs once per session.
func (m *Machine) flush() {
	if m.flushed {
		return
	}
	m.flushed = true

	pending := m.queue.Drain()
	for _, c := range pending {
		if err := m.addCandidate(c); err != nil {
			m.log.Warn().Err(err).Msg("queued candidate rejected")
		}
	}
	m.log.Info().Int("count", len(pending)).Msg("flushed queued candidates")
	m.setState(StateCandidatesFlushed)
}

// OnLocalCandidateGathered republishes the full list of local candidates.
func (m *Machine) OnLocalCandidateGathered(_ context.Context, c Candidate) error {
	k := c.key()
	if _, dup := m.outboundSeen[k]; dup {
		return nil
	}
	m.outboundSeen[k] = struct{}{}
	m.outbound = append(m.outbound, c)

	field := candidateField(m.role)
	total := len(m.outbound)
	m.deps.Outbox.Merge(field, encodeCandidates(m.outbound), m.resume(func(_ context.Context, err error) error {
		if err != nil {
			return &room.ChannelUnavailableError{Op: OpPublishCandidates, RoomID: m.deps.RoomID, Err: err}
		}
		m.log.Debug().Int("total", total).Msg("local candidates published")
		return nil
	}))
	return nil
}

func (m *Machine) field(name string) *fieldState {
	fs, ok := m.fields[name]
	if !ok {
		fs = &fieldState{consumed: make(map[string]struct{})}
		m.fields[name] = fs
	}
	return fs
}

// OnSnapshot reconciles a full room document against what this session
// has already consumed and feeds only new peer-authored content to
// OnRemoteMessage. Replaying a snapshot is a no-op.
func (m *Machine) OnSnapshot(ctx context.Context, doc *signaling.Document) error {
	if doc == nil {
		return nil
	}
	if doc.Version != 0 && doc.Version <= m.lastVersion {
		m.log.Debug().Uint64("version", doc.Version).Uint64("last", m.lastVersion).Msg("ignoring stale snapshot")
		return nil
	}
	m.lastVersion = doc.Version

	peer := m.role.Peer()
	// Description before candidates so a batch arriving with it is applied directly.
	descErr := m.reconcileDescription(ctx, doc, peer)
	candErr := m.reconcileCandidates(ctx, doc, peer)
	return errors.Join(descErr, candErr)
}

func (m *Machine) reconcileDescription(ctx context.Context, doc *signaling.Document, peer room.Role) error {
	field := descriptionField(peer)
	v, ok := doc.Fields[field]
	if !ok || v == nil {
		return nil
	}
	sdp, err := decodeDescription(field, v)
	if err != nil {
		return err
	}
	fs := m.field(field)
	if sdp == fs.last {
		return nil
	}
	fs.last = sdp
	return m.OnRemoteMessage(ctx, Message{
		Kind:        descriptionMessage(peer),
		Description: SessionDescription{Kind: descriptionKind(peer), SDP: sdp},
	})
}

func (m *Machine) reconcileCandidates(ctx context.Context, doc *signaling.Document, peer room.Role) error {
	field := candidateField(peer)
	v, ok := doc.Fields[field]
	if !ok || v == nil {
		return nil
	}
	list, err := decodeCandidates(field, v)
	if err != nil {
		return err
	}

	fs := m.field(field)
	var fresh []Candidate
	for _, c := range list {
		k := c.key()
		if _, seen := fs.consumed[k]; seen {
			continue
		}
		fs.consumed[k] = struct{}{}
		fresh = append(fresh, c)
	}

	var consumeErr error
	if len(fresh) > 0 {
		consumeErr = m.OnRemoteMessage(ctx, Message{Kind: candidateMessage(peer), Candidates: fresh})
	}
	m.acknowledge(field, fs, doc.Version)
	return consumeErr
}

// acknowledge clears a consumed candidate field, conditioned on the
// snapshot version so candidates the peer appended since are not erased.
// One clear per field is in flight at a time.
func (m *Machine) acknowledge(field string, fs *fieldState, version uint64) {
	if fs.acking {
		return
	}
	fs.acking = true
	m.deps.Outbox.Clear(field, version, m.resume(func(_ context.Context, err error) error {
		fs.acking = false
		switch {
		case err == nil:
			m.log.Debug().Str("field", field).Uint64("version", version).Msg("acknowledged candidates")
			return nil
		case errors.Is(err, signaling.ErrVersionConflict):
			m.log.Debug().Str("field", field).Msg("document moved on, acknowledging on a later snapshot")
			return nil
		default:
			return &room.ChannelUnavailableError{Op: OpAcknowledge, RoomID: m.deps.RoomID, Err: err}
		}
	}))
}
