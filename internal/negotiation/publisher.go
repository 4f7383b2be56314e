package negotiation

import (
	"context"

	"github.com/BioHazard786/warpcall/internal/signaling"
	"github.com/rs/zerolog"
)

// Publisher is the Outbox of a session. Writes run on their own worker, in
// call order, so a slow channel never stalls negotiation and full-list
// republishes cannot overtake each other.
type Publisher struct {
	ch     signaling.Channel
	roomID string
	w      *Worker
	log    zerolog.Logger
}

// NewPublisher creates a publisher for roomID. Call Run to start it.
func NewPublisher(ch signaling.Channel, roomID string, logger zerolog.Logger) *Publisher {
	log := logger.With().Str("module", "negotiation").Str("room", roomID).Logger()
	return &Publisher{
		ch:     ch,
		roomID: roomID,
		w:      NewWorker("publisher", nil, log),
		log:    log,
	}
}

// Run performs writes until ctx is done. Writes still queued then are dropped.
func (p *Publisher) Run(ctx context.Context) {
	p.w.Run(ctx)
}

// Done is closed once Run has returned.
func (p *Publisher) Done() <-chan struct{} {
	return p.w.Done()
}

// Merge implements Outbox.
func (p *Publisher) Merge(field string, value any, done func(error)) {
	p.enqueue(field, done, func(ctx context.Context) error {
		return p.ch.Merge(ctx, p.roomID, signaling.Fields{field: value})
	})
}

// Clear implements Outbox.
func (p *Publisher) Clear(field string, version uint64, done func(error)) {
	p.enqueue(field, done, func(ctx context.Context) error {
		return p.ch.CompareAndSwap(ctx, p.roomID, version, signaling.Fields{field: nil})
	})
}

func (p *Publisher) enqueue(field string, done func(error), write Task) {
	ok := p.w.Submit(func(ctx context.Context) error {
		err := write(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if done != nil {
			done(err)
		}
		return nil
	})
	if !ok {
		p.log.Debug().Str("field", field).Msg("write dropped, publisher stopped")
	}
}
