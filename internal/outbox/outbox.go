// Package outbox queues persistence mutations produced by the in-memory
// ledger so the durable account store eventually agrees with it. Callers
// apply the local state change first and enqueue the matching store mutation
// behind it; a single worker drains the queue with retry, so a slow or
// failing store never blocks or rolls back the ledger.
package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Mutation is one intended change to the durable store.
type Mutation struct {
	UserID int
	Kind   string
	Apply  func(ctx context.Context) error
}

// Notifier is called when a mutation exhausts its retries. Implementations
// surface the failure to the user; the mutation itself is parked, never
// silently dropped.
type Notifier func(m Mutation, err error)

// Queue is a FIFO of pending mutations with a single drain worker. Enqueue
// order is preserved, so a user's deduct always lands before the matching
// holding update.
type Queue struct {
	log         zerolog.Logger
	maxAttempts int
	baseDelay   time.Duration
	notify      Notifier

	mu     sync.Mutex
	items  []Mutation
	parked []Mutation
	wake   chan struct{}
}

// New creates a queue. notify may be nil.
func New(log zerolog.Logger, maxAttempts int, baseDelay time.Duration, notify Notifier) *Queue {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Queue{
		log:         log,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		notify:      notify,
		wake:        make(chan struct{}, 1),
	}
}

// Enqueue appends a mutation and wakes the worker. It never blocks.
func (q *Queue) Enqueue(m Mutation) {
	q.mu.Lock()
	q.items = append(q.items, m)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run drains the queue until the context is cancelled.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}
		q.Drain(ctx)
	}
}

// Drain applies every queued mutation in order. Mutations that fail after
// all retries are parked and reported; draining continues with the next one.
func (q *Queue) Drain(ctx context.Context) {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		m := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		if err := q.apply(ctx, m); err != nil {
			q.log.Error().
				Err(err).
				Int("user_id", m.UserID).
				Str("kind", m.Kind).
				Msg("persistence mutation failed; parking")
			q.mu.Lock()
			q.parked = append(q.parked, m)
			q.mu.Unlock()
			if q.notify != nil {
				q.notify(m, err)
			}
			continue
		}
		q.log.Debug().Int("user_id", m.UserID).Str("kind", m.Kind).Msg("persisted")
	}
}

// apply runs the mutation with exponential backoff between attempts,
// respecting context cancellation while waiting.
func (q *Queue) apply(ctx context.Context, m Mutation) error {
	var err error
	delay := q.baseDelay

	for attempt := 0; attempt < q.maxAttempts; attempt++ {
		err = m.Apply(ctx)
		if err == nil {
			return nil
		}
		if attempt < q.maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return err
}

// Pending returns the number of queued mutations.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Parked returns the mutations that exhausted their retries.
func (q *Queue) Parked() []Mutation {
	q.mu.Lock()
	defer q.mu.Unlock()
	parked := make([]Mutation, len(q.parked))
	copy(parked, q.parked)
	return parked
}
