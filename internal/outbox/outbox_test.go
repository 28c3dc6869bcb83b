package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestQueue_DrainPreservesOrder(t *testing.T) {
	q := New(zerolog.Nop(), 1, time.Millisecond, nil)

	var mu sync.Mutex
	var applied []string
	for _, kind := range []string{"deduct", "holding", "transaction"} {
		kind := kind
		q.Enqueue(Mutation{UserID: 1, Kind: kind, Apply: func(ctx context.Context) error {
			mu.Lock()
			applied = append(applied, kind)
			mu.Unlock()
			return nil
		}})
	}

	q.Drain(context.Background())

	if len(applied) != 3 {
		t.Fatalf("expected 3 applied mutations, got %d", len(applied))
	}
	for i, want := range []string{"deduct", "holding", "transaction"} {
		if applied[i] != want {
			t.Errorf("position %d: got %s, want %s", i, applied[i], want)
		}
	}
	if q.Pending() != 0 {
		t.Errorf("queue not empty after drain: %d pending", q.Pending())
	}
}

func TestQueue_RetriesTransientFailures(t *testing.T) {
	q := New(zerolog.Nop(), 5, time.Millisecond, nil)

	attempts := 0
	q.Enqueue(Mutation{UserID: 1, Kind: "flaky", Apply: func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}})

	q.Drain(context.Background())

	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if len(q.Parked()) != 0 {
		t.Error("successful mutation was parked")
	}
}

func TestQueue_ParksAndNotifiesAfterExhaustion(t *testing.T) {
	var notified []Mutation
	var notifiedErr error
	q := New(zerolog.Nop(), 3, time.Millisecond, func(m Mutation, err error) {
		notified = append(notified, m)
		notifiedErr = err
	})

	permanent := errors.New("store down")
	attempts := 0
	q.Enqueue(Mutation{UserID: 7, Kind: "doomed", Apply: func(ctx context.Context) error {
		attempts++
		return permanent
	}})
	// A later mutation still drains after the parked one.
	applied := false
	q.Enqueue(Mutation{UserID: 7, Kind: "fine", Apply: func(ctx context.Context) error {
		applied = true
		return nil
	}})

	q.Drain(context.Background())

	if attempts != 3 {
		t.Errorf("expected 3 attempts before parking, got %d", attempts)
	}
	parked := q.Parked()
	if len(parked) != 1 || parked[0].Kind != "doomed" {
		t.Fatalf("expected doomed mutation parked, got %+v", parked)
	}
	if len(notified) != 1 || !errors.Is(notifiedErr, permanent) {
		t.Error("notifier not invoked with the final error")
	}
	if !applied {
		t.Error("queue stopped draining after a parked mutation")
	}
}

func TestQueue_RunDrainsOnEnqueue(t *testing.T) {
	q := New(zerolog.Nop(), 1, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	done := make(chan struct{})
	q.Enqueue(Mutation{UserID: 1, Kind: "async", Apply: func(ctx context.Context) error {
		close(done)
		return nil
	}})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never applied the mutation")
	}
}
