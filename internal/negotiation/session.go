package negotiation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BioHazard786/warpcall/internal/room"
	"github.com/BioHazard786/warpcall/internal/signaling"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// leaveTimeout bounds the teardown write that releases the room slot.
const leaveTimeout = 5 * time.Second

// Leaver releases a room slot on teardown. *room.Coordinator implements it.
type Leaver interface {
	Leave(ctx context.Context, roomID string, role room.Role, fields ...string) error
}

// Hooks deliver negotiation progress. They run on the session worker and
// must not call Close.
type Hooks struct {
	StateChanged func(State)
	Warning      func(error)
	Failed       func(error)
}

// SessionConfig holds everything a Session needs.
type SessionConfig struct {
	RoomID  string
	Role    room.Role
	Channel signaling.Channel
	Engine  Engine

	// Leaver is optional.
	Leaver Leaver
	Hooks  Hooks
	Logger zerolog.Logger
}

// Session runs one negotiation: a Machine on a serialized worker, fed by
// the room subscription and by engine callbacks, with writes going out
// through a Publisher.
type Session struct {
	id   string
	cfg  SessionConfig
	log  zerolog.Logger
	hook Hooks

	machine *Machine
	worker  *Worker
	pub     *Publisher

	sub      signaling.Subscription
	cancel   context.CancelFunc
	pumpDone chan struct{}

	state   atomic.Int32
	started atomic.Bool
	closing atomic.Bool

	failOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// NewSession creates a session. Nothing happens until Start.
func NewSession(cfg SessionConfig) *Session {
	s := &Session{
		id:   uuid.NewString(),
		cfg:  cfg,
		hook: cfg.Hooks,
		done: make(chan struct{}),
	}
	s.log = cfg.Logger.With().
		Str("module", "negotiation").
		Str("session", s.id).
		Str("room", cfg.RoomID).
		Str("role", cfg.Role.String()).
		Logger()

	s.worker = NewWorker("negotiation", s.handle, s.log)
	s.pub = NewPublisher(cfg.Channel, cfg.RoomID, cfg.Logger)
	s.machine = NewMachine(cfg.Role, MachineDeps{
		RoomID:   cfg.RoomID,
		Engine:   cfg.Engine,
		Outbox:   s.pub,
		Schedule: s.worker.Submit,
		OnState:  s.onState,
		Logger:   cfg.Logger,
	})
	return s
}

func (s *Session) ID() string { return s.id }

// State returns the last state the machine reported. Safe from any goroutine.
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed after Close has finished.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start subscribes to the room and begins negotiating. The offerer creates
// its offer right away; the answerer waits for the offer to show up in the
// room document.
func (s *Session) Start(ctx context.Context) error {
	if !s.cfg.Role.Valid() {
		return &ProtocolError{Role: s.cfg.Role, Reason: "session started without a role"}
	}
	if !s.started.CompareAndSwap(false, true) {
		return &ProtocolError{Role: s.cfg.Role, State: s.State(), Reason: "session already started"}
	}

	sub, err := s.cfg.Channel.Subscribe(ctx, s.cfg.RoomID)
	if err != nil {
		return &room.ChannelUnavailableError{Op: OpSubscribe, RoomID: s.cfg.RoomID, Err: err}
	}
	s.sub = sub

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.pumpDone = make(chan struct{})

	go s.worker.Run(runCtx)
	go s.pub.Run(runCtx)
	go s.pump(sub)

	s.cfg.Engine.OnCandidateGathered(func(c Candidate) {
		s.worker.Submit(func(ctx context.Context) error {
			return s.machine.OnLocalCandidateGathered(ctx, c)
		})
	})

	if s.cfg.Role == room.Offerer {
		s.worker.Submit(s.machine.BeginAsOfferer)
	}
	s.log.Info().Msg("negotiation started")
	return nil
}

// pump turns room snapshots into worker tasks until the subscription closes.
// A stream that ends before Close means the channel went away: fatal while
// negotiating, a warning once candidates are flushed.
func (s *Session) pump(sub signaling.Subscription) {
	defer close(s.pumpDone)
	for doc := range sub.Updates() {
		s.worker.Submit(func(ctx context.Context) error {
			return s.machine.OnSnapshot(ctx, doc)
		})
	}
	if s.closing.Load() {
		s.log.Debug().Msg("subscription closed")
		return
	}

	lost := &room.ChannelUnavailableError{Op: OpSubscribe, RoomID: s.cfg.RoomID, Err: signaling.ErrClosed}
	s.worker.Submit(func(context.Context) error {
		if s.machine.State() != StateCandidatesFlushed {
			return lost
		}
		s.log.Warn().Err(lost).Msg("signaling lost after negotiation finished")
		if s.hook.Warning != nil {
			s.hook.Warning(lost)
		}
		return nil
	})
}

func (s *Session) onState(st State) {
	s.state.Store(int32(st))
	if s.hook.StateChanged != nil {
		s.hook.StateChanged(st)
	}
}

// handle applies the severity policy to every error a task returned.
func (s *Session) handle(err error) {
	for _, e := range flatten(err) {
		if Fatal(e) {
			s.log.Error().Err(e).Msg("negotiation failed")
			s.fail(e)
			continue
		}
		s.log.Warn().Err(e).Msg("negotiation warning")
		if s.hook.Warning != nil {
			s.hook.Warning(e)
		}
	}
}

func flatten(err error) []error {
	if err == nil {
		return nil
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range j.Unwrap() {
			out = append(out, flatten(e)...)
		}
		return out
	}
	return []error{err}
}

// Fatal reports whether err ends the session. Duplicate descriptions,
// malformed fields, rejected candidates, out-of-place messages and failed
// candidate writes are survivable. Engine failures, a lost description
// write and a lost subscription are not.
func Fatal(err error) bool {
	var (
		dup       *DuplicateDescriptionError
		malformed *signaling.MalformedMessageError
		rejected  *CandidateRejectedError
		proto     *ProtocolError
		engine    *EngineOperationError
		channel   *room.ChannelUnavailableError
	)
	switch {
	case errors.As(err, &dup), errors.As(err, &malformed), errors.As(err, &rejected), errors.As(err, &proto):
		return false
	case errors.As(err, &engine):
		return true
	case errors.As(err, &channel):
		return channel.Op == OpPublishDescription || channel.Op == OpSubscribe
	default:
		return true
	}
}

func (s *Session) fail(err error) {
	s.failOnce.Do(func() {
		if s.hook.Failed != nil {
			s.hook.Failed(err)
		}
		go s.Close()
	})
}

// Close tears the session down: queued tasks and writes are dropped, the
// subscription and engine are closed and the room slot is handed to the
// Leaver. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		defer close(s.done)
		s.closing.Store(true)
		var errs []error

		if s.cancel != nil {
			s.cancel()
			<-s.worker.Done()
			<-s.pub.Done()
		}
		if s.sub != nil {
			if err := s.sub.Close(); err != nil {
				errs = append(errs, err)
			}
			<-s.pumpDone
		}
		if err := s.cfg.Engine.Close(); err != nil {
			errs = append(errs, &EngineOperationError{Op: "close", Err: err})
		}
		if s.cfg.Leaver != nil && s.started.Load() {
			ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
			err := s.cfg.Leaver.Leave(ctx, s.cfg.RoomID, s.cfg.Role, OwnFields(s.cfg.Role)...)
			cancel()
			if err != nil {
				errs = append(errs, err)
			}
		}

		s.closeErr = errors.Join(errs...)
		if s.closeErr != nil {
			s.log.Warn().Err(s.closeErr).Msg("session closed with errors")
		} else {
			s.log.Info().Str("state", s.State().String()).Msg("session closed")
		}
	})
	return s.closeErr
}
