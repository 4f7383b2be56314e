package negotiation

import "testing"

func TestDrainEmptyQueue(t *testing.T) {
	q := NewCandidateQueue()
	got := q.Drain()
	if got == nil || len(got) != 0 {
		t.Fatalf("Drain on empty queue = %#v, want empty slice", got)
	}
	if q.Len() != 0 || q.IsReady() {
		t.Fatal("draining an empty queue must not change it")
	}
}

func TestDrainKeepsEnqueueOrder(t *testing.T) {
	q := NewCandidateQueue()
	for _, c := range []Candidate{c3, c1, c2} {
		q.Enqueue(c)
	}
	if q.Len() != 3 {
		t.Fatalf("Len = %d", q.Len())
	}

	sameCandidates(t, q.Drain(), []Candidate{c3, c1, c2})
	if q.Len() != 0 {
		t.Fatal("queue not empty after Drain")
	}
	if got := q.Drain(); len(got) != 0 {
		t.Fatalf("second Drain returned %v", got)
	}
}

func TestMarkReady(t *testing.T) {
	q := NewCandidateQueue()
	q.Enqueue(c1)
	q.MarkReady()
	if !q.IsReady() {
		t.Fatal("IsReady after MarkReady = false")
	}
	if q.Len() != 1 {
		t.Fatalf("MarkReady changed the queue, Len = %d", q.Len())
	}
}
