package analyzer

import (
	"context"
	"errors"
	"sync"
)

// Lazy is a single-flight, memoized async value: the first caller runs
// the computation, concurrent callers attach to the same in-flight run,
// and the settled value or failure is replayed to everyone after. A run
// that ends in cancellation settles nothing, so a later caller computes
// again.
type Lazy[T any] struct {
	compute func(ctx context.Context) (T, error)

	mu      sync.Mutex
	flight  chan struct{} // non-nil while a run is in progress
	settled bool
	val     T
	err     error
}

// NewLazy wraps compute. The function is invoked at most once per
// settled outcome, never twice concurrently.
func NewLazy[T any](compute func(ctx context.Context) (T, error)) *Lazy[T] {
	return &Lazy[T]{compute: compute}
}

// Resolved returns a Lazy already settled with val.
func Resolved[T any](val T) *Lazy[T] {
	return &Lazy[T]{settled: true, val: val}
}

// Get returns the settled value, joining or starting a flight as
// needed. Cancellation of the caller's ctx abandons the wait without
// disturbing the flight other callers may be attached to.
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	var zero T
	for {
		l.mu.Lock()
		if l.settled {
			val, err := l.val, l.err
			l.mu.Unlock()
			return val, err
		}

		if l.flight == nil {
			flight := make(chan struct{})
			l.flight = flight
			l.mu.Unlock()

			val, err := l.compute(ctx)

			l.mu.Lock()
			l.flight = nil
			if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
				// A cancelled or timed-out run leaves no residue; the
				// next caller starts fresh.
				close(flight)
				l.mu.Unlock()
				return zero, err
			}
			l.val, l.err, l.settled = val, err, true
			close(flight)
			l.mu.Unlock()
			return val, err
		}

		flight := l.flight
		l.mu.Unlock()

		select {
		case <-flight:
			// Flight finished; loop to read the outcome or retry.
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Settled reports whether a value or failure has been cached.
func (l *Lazy[T]) Settled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.settled
}
