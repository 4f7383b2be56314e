package room

import (
	"context"
	"errors"
	"fmt"

	"github.com/BioHazard786/warpcall/internal/signaling"
	"github.com/rs/zerolog"
)

// FieldParticipantCount is the admission counter in the room document.
const FieldParticipantCount = "participantCount"

// Capacity is the maximum number of participants in a room.
const Capacity = 2

// Coordinator performs room admission and assigns the session role.
type Coordinator struct {
	ch  signaling.Channel
	log zerolog.Logger

	atomic         bool
	releaseOnLeave bool
	attempts       int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithAtomicAdmission makes every admission write conditional on the
// document version that was read. Without it two concurrent joiners can
// both observe a free slot.
func WithAtomicAdmission(enabled bool) Option {
	return func(c *Coordinator) { c.atomic = enabled }
}

// WithReleaseOnLeave makes Leave give up the participant slot.
func WithReleaseOnLeave(enabled bool) Option {
	return func(c *Coordinator) { c.releaseOnLeave = enabled }
}

// WithJoinAttempts bounds how often a conflicting conditional write is retried.
func WithJoinAttempts(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// NewCoordinator creates a Coordinator on ch. Atomic admission is on by default.
func NewCoordinator(ch signaling.Channel, logger zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		ch:       ch,
		log:      logger.With().Str("module", "room").Logger(),
		atomic:   true,
		attempts: 5,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Join admits the caller to roomID. A missing room is created and the
// caller becomes the Offerer, as does the first caller into a room whose
// participants have all left; a room with one participant is joined as the
// Answerer. A full room yields *RoomFullError and no write.
func (c *Coordinator) Join(ctx context.Context, roomID string) (Role, error) {
	if roomID == "" {
		return 0, ErrInvalidRoomID
	}
	log := c.log.With().Str("room", roomID).Logger()

	attempts := 1
	if c.atomic {
		attempts = c.attempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		role, err := c.tryJoin(ctx, roomID)
		if err == nil {
			log.Info().Str("role", role.String()).Int("attempt", attempt).Msg("joined room")
			return role, nil
		}
		if !errors.Is(err, signaling.ErrVersionConflict) {
			c.logJoinError(log, err)
			return 0, err
		}
		log.Debug().Int("attempt", attempt).Msg("admission raced with another client, retrying")
		lastErr = err
	}

	err := &ChannelUnavailableError{Op: "join", RoomID: roomID, Err: fmt.Errorf("gave up after %d attempts: %w", attempts, lastErr)}
	log.Error().Err(err).Msg("admission failed")
	return 0, err
}

func (c *Coordinator) logJoinError(log zerolog.Logger, err error) {
	var full *RoomFullError
	if errors.As(err, &full) {
		log.Warn().Int64("count", full.Count).Msg("room is full")
		return
	}
	log.Error().Err(err).Msg("admission failed")
}

// tryJoin performs one read-check-write round. A version conflict from a
// conditional write is returned unwrapped so Join can retry.
func (c *Coordinator) tryJoin(ctx context.Context, roomID string) (Role, error) {
	doc, err := c.ch.Get(ctx, roomID)
	switch {
	case errors.Is(err, signaling.ErrNotFound):
		return Offerer, c.create(ctx, roomID)
	case err != nil:
		return 0, &ChannelUnavailableError{Op: "read", RoomID: roomID, Err: err}
	}

	count, err := ParticipantCount(doc)
	if err != nil {
		return 0, err
	}
	if count >= Capacity {
		return 0, &RoomFullError{RoomID: roomID, Count: count}
	}

	// A room everyone has left is reused as if it were new.
	role := Answerer
	if count == 0 {
		role = Offerer
	}

	fields := signaling.Fields{FieldParticipantCount: count + 1}
	if c.atomic {
		err = c.ch.CompareAndSwap(ctx, roomID, doc.Version, fields)
	} else {
		err = c.ch.Merge(ctx, roomID, fields)
	}
	if err != nil {
		return 0, c.writeError(roomID, err)
	}
	return role, nil
}

func (c *Coordinator) create(ctx context.Context, roomID string) error {
	fields := signaling.Fields{FieldParticipantCount: int64(1)}
	var err error
	if c.atomic {
		err = c.ch.CompareAndSwap(ctx, roomID, 0, fields)
	} else {
		err = c.ch.Set(ctx, roomID, fields)
	}
	if err != nil {
		return c.writeError(roomID, err)
	}
	return nil
}

func (c *Coordinator) writeError(roomID string, err error) error {
	if errors.Is(err, signaling.ErrVersionConflict) {
		return err
	}
	return &ChannelUnavailableError{Op: "write", RoomID: roomID, Err: err}
}

// Leave is the teardown counterpart of Join. When release is enabled the
// participant count is decremented and the given fields, the leaver's own
// published values, are cleared. Otherwise the slot stays taken.
func (c *Coordinator) Leave(ctx context.Context, roomID string, role Role, fields ...string) error {
	log := c.log.With().Str("room", roomID).Str("role", role.String()).Logger()
	if !c.releaseOnLeave {
		log.Debug().Msg("leaving room without releasing slot")
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		doc, err := c.ch.Get(ctx, roomID)
		if errors.Is(err, signaling.ErrNotFound) {
			return nil
		}
		if err != nil {
			return &ChannelUnavailableError{Op: "read", RoomID: roomID, Err: err}
		}

		count, err := ParticipantCount(doc)
		if err != nil {
			log.Warn().Err(err).Msg("cannot release slot")
			return err
		}
		update := signaling.Fields{FieldParticipantCount: max(count-1, 0)}
		for _, f := range fields {
			update[f] = nil
		}

		err = c.ch.CompareAndSwap(ctx, roomID, doc.Version, update)
		if err == nil {
			log.Info().Int64("count", max(count-1, 0)).Msg("released room slot")
			return nil
		}
		if !errors.Is(err, signaling.ErrVersionConflict) {
			return &ChannelUnavailableError{Op: "write", RoomID: roomID, Err: err}
		}
		lastErr = err
	}
	return &ChannelUnavailableError{Op: "leave", RoomID: roomID, Err: lastErr}
}

// ParticipantCount reads and validates the admission counter of doc.
func ParticipantCount(doc *signaling.Document) (int64, error) {
	v, ok := doc.Fields[FieldParticipantCount]
	if !ok {
		return 0, &signaling.MalformedMessageError{Field: FieldParticipantCount, Reason: "missing"}
	}
	n, ok := signaling.Int(v)
	if !ok {
		return 0, &signaling.MalformedMessageError{Field: FieldParticipantCount, Reason: fmt.Sprintf("not an integer: %T", v)}
	}
	if n < 0 {
		return 0, &signaling.MalformedMessageError{Field: FieldParticipantCount, Reason: fmt.Sprintf("negative: %d", n)}
	}
	return n, nil
}
