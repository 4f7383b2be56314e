package negotiation

import "sync"

// CandidateQueue holds remote candidates until the remote description has
// been applied.
type CandidateQueue struct {
	mu    sync.Mutex
	items []Candidate
	ready bool
}

func NewCandidateQueue() *CandidateQueue {
	return &CandidateQueue{}
}

// Enqueue appends c.
func (q *CandidateQueue) Enqueue(c Candidate) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, c)
}

// Drain returns every queued candidate in enqueue order and empties the
// queue. Draining an empty queue returns an empty slice.
func (q *CandidateQueue) Drain() []Candidate {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	if out == nil {
		out = []Candidate{}
	}
	q.items = nil
	return out
}

// IsReady reports whether candidates may go straight to the engine. It
// turns true once the remote description has been applied.
func (q *CandidateQueue) IsReady() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready
}

// MarkReady records that the remote description is applied. Candidates
// already queued stay queued until Drain.
func (q *CandidateQueue) MarkReady() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready = true
}

func (q *CandidateQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
