package negotiation

import (
	"context"
	"sync"
	"testing"

	"github.com/BioHazard786/warpcall/internal/room"
	"github.com/rs/zerolog"
)

type fakeEngine struct {
	name string

	mu         sync.Mutex
	calls      []string
	local      *SessionDescription
	remote     *SessionDescription
	added      []Candidate
	premature  int
	gather     []Candidate
	onGathered func(Candidate)
	errs       map[string]error
	closed     bool
}

func newFakeEngine(name string) *fakeEngine {
	return &fakeEngine{name: name, errs: make(map[string]error)}
}

func (e *fakeEngine) fail(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs[op] = err
}

func (e *fakeEngine) record(op string) error {
	e.calls = append(e.calls, op)
	return e.errs[op]
}

func (e *fakeEngine) CreateOffer(context.Context) (SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("create-offer"); err != nil {
		return SessionDescription{}, err
	}
	return SessionDescription{Kind: KindOffer, SDP: "v=0 offer " + e.name}, nil
}

func (e *fakeEngine) CreateAnswer(context.Context) (SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("create-answer"); err != nil {
		return SessionDescription{}, err
	}
	return SessionDescription{Kind: KindAnswer, SDP: "v=0 answer " + e.name}, nil
}

func (e *fakeEngine) SetLocalDescription(_ context.Context, d SessionDescription) error {
	e.mu.Lock()
	if err := e.record("set-local"); err != nil {
		e.mu.Unlock()
		return err
	}
	e.local = &d
	gather, cb := e.gather, e.onGathered
	e.mu.Unlock()

	if cb != nil {
		for _, c := range gather {
			cb(c)
		}
	}
	return nil
}

func (e *fakeEngine) SetRemoteDescription(_ context.Context, d SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.record("set-remote"); err != nil {
		return err
	}
	e.remote = &d
	return nil
}

func (e *fakeEngine) AddCandidate(c Candidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.remote == nil {
		e.premature++
	}
	if err := e.record("add-candidate"); err != nil {
		return err
	}
	e.added = append(e.added, c)
	return nil
}

func (e *fakeEngine) OnCandidateGathered(fn func(Candidate)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onGathered = fn
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeEngine) snapshot() (local, remote *SessionDescription, added []Candidate, premature int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.local, e.remote, append([]Candidate(nil), e.added...), e.premature
}

func (e *fakeEngine) count(op string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if c == op {
			n++
		}
	}
	return n
}

type outWrite struct {
	field   string
	value   any
	clear   bool
	version uint64
}

// fakeOutbox records writes. With hold set, completions wait for release.
type fakeOutbox struct {
	writes   []outWrite
	mergeErr error
	clearErr error
	hold     bool
	pending  []func()
}

func (o *fakeOutbox) Merge(field string, value any, done func(error)) {
	o.writes = append(o.writes, outWrite{field: field, value: value})
	o.finish(done, o.mergeErr)
}

func (o *fakeOutbox) Clear(field string, version uint64, done func(error)) {
	o.writes = append(o.writes, outWrite{field: field, clear: true, version: version})
	o.finish(done, o.clearErr)
}

func (o *fakeOutbox) finish(done func(error), err error) {
	if o.hold {
		o.pending = append(o.pending, func() { done(err) })
		return
	}
	done(err)
}

func (o *fakeOutbox) release() {
	pending := o.pending
	o.pending = nil
	for _, fn := range pending {
		fn()
	}
}

func (o *fakeOutbox) find(field string, clear bool) []outWrite {
	var out []outWrite
	for _, w := range o.writes {
		if w.field == field && w.clear == clear {
			out = append(out, w)
		}
	}
	return out
}

// harness runs a Machine on the test goroutine. Continuations are queued
// and run by do or step, in order.
type harness struct {
	t      *testing.T
	m      *Machine
	eng    *fakeEngine
	out    *fakeOutbox
	tasks  []Task
	states []State
}

func newHarness(t *testing.T, role room.Role) *harness {
	t.Helper()
	h := &harness{t: t, eng: newFakeEngine(role.String()), out: &fakeOutbox{}}
	h.m = NewMachine(role, MachineDeps{
		RoomID:   "ABC1",
		Engine:   h.eng,
		Outbox:   h.out,
		Schedule: func(task Task) bool { h.tasks = append(h.tasks, task); return true },
		OnState:  func(s State) { h.states = append(h.states, s) },
		Logger:   zerolog.Nop(),
	})
	h.eng.OnCandidateGathered(func(c Candidate) {
		h.tasks = append(h.tasks, func(ctx context.Context) error {
			return h.m.OnLocalCandidateGathered(ctx, c)
		})
	})
	return h
}

// do runs task and then every continuation it produced.
func (h *harness) do(task Task) []error {
	errs := flatten(task(context.Background()))
	for len(h.tasks) > 0 {
		errs = append(errs, h.step()...)
	}
	return errs
}

// step runs the next queued continuation.
func (h *harness) step() []error {
	h.t.Helper()
	if len(h.tasks) == 0 {
		h.t.Fatal("no queued task")
	}
	next := h.tasks[0]
	h.tasks = h.tasks[1:]
	return flatten(next(context.Background()))
}

func (h *harness) mustDo(task Task) {
	h.t.Helper()
	if errs := h.do(task); len(errs) > 0 {
		h.t.Fatalf("unexpected errors: %v", errs)
	}
}

func (h *harness) reached(s State) bool {
	for _, st := range h.states {
		if st == s {
			return true
		}
	}
	return false
}
