package docstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/BioHazard786/warpcall/internal/signaling"
	"github.com/rs/zerolog"
)

type opKind int

const (
	opGet opKind = iota
	opSet
	opMerge
	opCAS
	opSubscribe
	opUnsubscribe
	opList
)

func (k opKind) String() string {
	switch k {
	case opGet:
		return "get"
	case opSet:
		return "set"
	case opMerge:
		return "merge"
	case opCAS:
		return "cas"
	case opSubscribe:
		return "subscribe"
	case opUnsubscribe:
		return "unsubscribe"
	case opList:
		return "list"
	default:
		return "unknown"
	}
}

type op struct {
	kind    opKind
	roomID  string
	version uint64
	fields  signaling.Fields
	sub     *subscription
	reply   chan opResult
}

type opResult struct {
	doc  *signaling.Document
	docs []*signaling.Document
	err  error
}

// room is one stored document plus the subscriptions watching it.
type room struct {
	id          string
	version     uint64
	fields      signaling.Fields
	subscribers map[*subscription]struct{}
}

func (r *room) exists() bool {
	return r.version > 0
}

func (r *room) snapshot() *signaling.Document {
	return &signaling.Document{RoomID: r.id, Version: r.version, Fields: r.fields.Clone()}
}

// Hub is the central owner of every room document. All state is touched
// only by the Run goroutine; callers talk to it through ops. Hub implements
// signaling.Channel for in-process use.
type Hub struct {
	rooms map[string]*room
	ops   chan *op
	done  chan struct{}
	log   zerolog.Logger
}

// NewHub creates a new Hub instance.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms: make(map[string]*room),
		ops:   make(chan *op),
		done:  make(chan struct{}),
		log:   logger.With().Str("module", "docstore").Logger(),
	}
}

// Run processes ops until ctx is cancelled. On exit every subscription's
// update stream is closed.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for _, r := range h.rooms {
			for sub := range r.subscribers {
				close(sub.updates)
			}
			r.subscribers = nil
		}
	}()

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Int("rooms", len(h.rooms)).Msg("hub stopped")
			return

		case o := <-h.ops:
			o.reply <- h.apply(o)
		}
	}
}

func (h *Hub) room(id string) *room {
	r, ok := h.rooms[id]
	if !ok {
		r = &room{id: id, subscribers: make(map[*subscription]struct{})}
		h.rooms[id] = r
	}
	return r
}

func (h *Hub) apply(o *op) opResult {
	// Reads never create a room entry.
	switch o.kind {
	case opList:
		return opResult{docs: h.list()}

	case opGet:
		r, ok := h.rooms[o.roomID]
		if !ok || !r.exists() {
			return opResult{err: fmt.Errorf("%w: %s", signaling.ErrNotFound, o.roomID)}
		}
		return opResult{doc: r.snapshot()}

	case opUnsubscribe:
		r, ok := h.rooms[o.roomID]
		if !ok {
			return opResult{}
		}
		if _, ok := r.subscribers[o.sub]; ok {
			delete(r.subscribers, o.sub)
			close(o.sub.updates)
		}
		h.release(r)
		return opResult{}
	}

	r := h.room(o.roomID)
	defer h.release(r)

	switch o.kind {
	case opSet:
		r.fields = withoutNil(o.fields.Clone())
		h.commit(r, o.kind)
		return opResult{doc: r.snapshot()}

	case opMerge:
		h.merge(r, o.fields)
		h.commit(r, o.kind)
		return opResult{doc: r.snapshot()}

	case opCAS:
		if r.version != o.version {
			h.log.Debug().Str("room", o.roomID).Uint64("have", r.version).Uint64("want", o.version).Msg("cas conflict")
			return opResult{err: fmt.Errorf("%w: %s at version %d", signaling.ErrVersionConflict, o.roomID, r.version)}
		}
		h.merge(r, o.fields)
		h.commit(r, o.kind)
		return opResult{doc: r.snapshot()}

	case opSubscribe:
		r.subscribers[o.sub] = struct{}{}
		if r.exists() {
			o.sub.deliver(r.snapshot())
		}
		h.log.Debug().Str("room", o.roomID).Int("subscribers", len(r.subscribers)).Msg("subscribed")
		return opResult{}
	}

	return opResult{err: fmt.Errorf("unsupported op %s", o.kind)}
}

// release forgets a room that was never written and has no subscribers.
func (h *Hub) release(r *room) {
	if !r.exists() && len(r.subscribers) == 0 {
		delete(h.rooms, r.id)
	}
}

func (h *Hub) merge(r *room, fields signaling.Fields) {
	if r.fields == nil {
		r.fields = make(signaling.Fields, len(fields))
	}
	for k, v := range fields {
		if v == nil {
			delete(r.fields, k)
			continue
		}
		r.fields[k] = v
	}
}

// commit bumps the version and fans the new snapshot out to subscribers.
func (h *Hub) commit(r *room, kind opKind) {
	r.version++
	h.log.Debug().Str("room", r.id).Str("op", kind.String()).Uint64("version", r.version).Msg("document updated")
	for sub := range r.subscribers {
		sub.deliver(r.snapshot())
	}
}

func (h *Hub) list() []*signaling.Document {
	docs := make([]*signaling.Document, 0, len(h.rooms))
	for _, r := range h.rooms {
		if r.exists() {
			docs = append(docs, r.snapshot())
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].RoomID < docs[j].RoomID })
	return docs
}

func (h *Hub) do(ctx context.Context, o *op) opResult {
	o.reply = make(chan opResult, 1)
	select {
	case h.ops <- o:
	case <-ctx.Done():
		return opResult{err: fmt.Errorf("%w: %s %s: %v", signaling.ErrUnavailable, o.kind, o.roomID, ctx.Err())}
	case <-h.done:
		return opResult{err: fmt.Errorf("%w: hub stopped", signaling.ErrClosed)}
	}
	return <-o.reply
}

// Get implements signaling.Channel.
func (h *Hub) Get(ctx context.Context, roomID string) (*signaling.Document, error) {
	res := h.do(ctx, &op{kind: opGet, roomID: roomID})
	return res.doc, res.err
}

// Set implements signaling.Channel.
func (h *Hub) Set(ctx context.Context, roomID string, fields signaling.Fields) error {
	return h.do(ctx, &op{kind: opSet, roomID: roomID, fields: fields.Clone()}).err
}

// Merge implements signaling.Channel.
func (h *Hub) Merge(ctx context.Context, roomID string, fields signaling.Fields) error {
	return h.do(ctx, &op{kind: opMerge, roomID: roomID, fields: fields.Clone()}).err
}

// CompareAndSwap implements signaling.Channel.
func (h *Hub) CompareAndSwap(ctx context.Context, roomID string, version uint64, fields signaling.Fields) error {
	return h.do(ctx, &op{kind: opCAS, roomID: roomID, version: version, fields: fields.Clone()}).err
}

// Subscribe implements signaling.Channel.
func (h *Hub) Subscribe(ctx context.Context, roomID string) (signaling.Subscription, error) {
	sub := &subscription{hub: h, roomID: roomID, updates: make(chan *signaling.Document, 1)}
	if err := h.do(ctx, &op{kind: opSubscribe, roomID: roomID, sub: sub}).err; err != nil {
		return nil, err
	}
	return sub, nil
}

// List returns every existing document ordered by room ID.
func (h *Hub) List(ctx context.Context) ([]*signaling.Document, error) {
	res := h.do(ctx, &op{kind: opList})
	return res.docs, res.err
}

// subscription is written to only by the Run goroutine.
type subscription struct {
	hub     *Hub
	roomID  string
	updates chan *signaling.Document
}

func (s *subscription) Updates() <-chan *signaling.Document {
	return s.updates
}

// deliver replaces an unconsumed snapshot with the newer one. Snapshots are
// complete, so dropping an intermediate one loses nothing.
func (s *subscription) deliver(doc *signaling.Document) {
	select {
	case s.updates <- doc:
	default:
		select {
		case <-s.updates:
		default:
		}
		s.updates <- doc
	}
}

func (s *subscription) Close() error {
	// A stopped hub has already closed the stream.
	s.hub.do(context.Background(), &op{kind: opUnsubscribe, roomID: s.roomID, sub: s})
	return nil
}

func withoutNil(f signaling.Fields) signaling.Fields {
	for k, v := range f {
		if v == nil {
			delete(f, k)
		}
	}
	return f
}
