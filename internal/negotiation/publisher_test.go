package negotiation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BioHazard786/warpcall/internal/docstore"
	"github.com/BioHazard786/warpcall/internal/signaling"
	"github.com/rs/zerolog"
)

func startHub(t *testing.T) *docstore.Hub {
	t.Helper()
	hub := docstore.NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

func wait(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("write did not complete")
		return nil
	}
}

func TestPublisherWritesInOrder(t *testing.T) {
	hub := startHub(t)
	ctx := context.Background()
	if err := hub.Set(ctx, "ABC1", signaling.Fields{"participantCount": 1}); err != nil {
		t.Fatal(err)
	}

	p := NewPublisher(hub, "ABC1", zerolog.Nop())
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go p.Run(runCtx)

	done := make(chan error, 3)
	p.Merge(FieldICEOffer, encodeCandidates([]Candidate{c1}), func(err error) { done <- err })
	p.Merge(FieldICEOffer, encodeCandidates([]Candidate{c1, c2}), func(err error) { done <- err })
	p.Merge(FieldSDPOffer, "v=0", func(err error) { done <- err })
	for range 3 {
		if err := wait(t, done); err != nil {
			t.Fatal(err)
		}
	}

	d, err := hub.Get(ctx, "ABC1")
	if err != nil {
		t.Fatal(err)
	}
	list, err := decodeCandidates(FieldICEOffer, d.Fields[FieldICEOffer])
	if err != nil {
		t.Fatal(err)
	}
	sameCandidates(t, list, []Candidate{c1, c2})
	if d.Version != 4 {
		t.Fatalf("version = %d, want 4", d.Version)
	}
}

func TestPublisherClearIsConditional(t *testing.T) {
	hub := startHub(t)
	ctx := context.Background()
	if err := hub.Set(ctx, "ABC1", signaling.Fields{FieldICEAnswer: encodeCandidates([]Candidate{c1})}); err != nil {
		t.Fatal(err)
	}

	p := NewPublisher(hub, "ABC1", zerolog.Nop())
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go p.Run(runCtx)

	done := make(chan error, 1)
	p.Clear(FieldICEAnswer, 7, func(err error) { done <- err })
	if err := wait(t, done); !errors.Is(err, signaling.ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}

	p.Clear(FieldICEAnswer, 1, func(err error) { done <- err })
	if err := wait(t, done); err != nil {
		t.Fatal(err)
	}
	d, _ := hub.Get(ctx, "ABC1")
	if _, ok := d.Fields[FieldICEAnswer]; ok {
		t.Fatal("field not cleared")
	}
}
