// Package queue serializes analysis work onto a single dispatcher
// goroutine. Turns run strictly in submission order, each under its
// submitter's context, so queue-owned state (the reuse-constraint
// store, the locale cache) needs no locking inside a turn.
package queue

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"hotpatch/internal/errors"
	"hotpatch/internal/identity"
	"hotpatch/internal/logging"
)

// FaultPolicy controls what a panic inside a turn does to the queue.
// It is decided per submission: Submit uses the queue's configured
// policy, SubmitNoReply always suppresses.
type FaultPolicy int

const (
	// PropagateFaults treats a panicking turn as fatal: the queue shuts
	// down and every later submission is rejected.
	PropagateFaults FaultPolicy = iota
	// SuppressAndLog logs the fault, fails the one submission, and
	// keeps the queue running.
	SuppressAndLog
)

// ErrQueueUnavailable rejects submissions after the queue has shut
// down or died to a fault.
var ErrQueueUnavailable = errors.Newf(errors.QueueUnavailable, "execution queue unavailable")

// DefaultLocale is used when no provider is configured or the provider
// fails.
const DefaultLocale = "en-US"

// LocaleProvider resolves the locale requested by the host. It is
// consulted once, before the first turn; the outcome, including a
// failure's fallback, is cached for the life of the queue.
type LocaleProvider interface {
	TryGetRequestedLocale() (string, error)
}

// Turn is the per-turn view handed to queued work. Constraints is the
// queue-owned store; it must not escape the turn.
type Turn struct {
	RequestID   string
	Locale      string
	Constraints *identity.ConstraintStore
}

// Work is one unit of queued work.
type Work func(ctx context.Context, turn *Turn) (any, error)

// Config configures an ExecutionQueue.
type Config struct {
	FaultPolicy FaultPolicy
	Locales     LocaleProvider
	// Backlog is the submission channel depth; 0 means a small default.
	Backlog int
	Logger  *logging.Logger
}

// Stats is a point-in-time snapshot of queue counters.
type Stats struct {
	Submitted uint64
	Completed uint64
	Faulted   uint64
	Cancelled uint64
}

type submission struct {
	id     string
	ctx    context.Context
	work   Work
	faults FaultPolicy
	reply  chan outcome
}

type outcome struct {
	val any
	err error
}

// ExecutionQueue runs submissions one at a time, in order.
type ExecutionQueue struct {
	cfg      Config
	logger   *logging.Logger
	requests chan submission
	stop     chan struct{} // closed by Shutdown
	done     chan struct{} // closed when the dispatcher exits
	store    *identity.ConstraintStore

	stopOnce sync.Once
	fatal    atomic.Bool

	locale    string
	localeSet bool

	submitted atomic.Uint64
	completed atomic.Uint64
	faulted   atomic.Uint64
	cancelled atomic.Uint64
}

// New starts a queue with its dispatcher running.
func New(cfg Config) *ExecutionQueue {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	backlog := cfg.Backlog
	if backlog <= 0 {
		backlog = 64
	}
	q := &ExecutionQueue{
		cfg:      cfg,
		logger:   cfg.Logger,
		requests: make(chan submission, backlog),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		store:    identity.NewConstraintStore(),
	}
	go q.dispatch()
	return q
}

// Submit enqueues work and waits for its outcome. The context cancels
// only this submission: a turn that has not started yet is skipped, a
// waiting caller stops waiting, and other submissions are untouched.
func (q *ExecutionQueue) Submit(ctx context.Context, work Work) (any, error) {
	return q.submit(ctx, work, q.cfg.FaultPolicy)
}

// submit enqueues work under an explicit fault policy for its turn.
func (q *ExecutionQueue) submit(ctx context.Context, work Work, faults FaultPolicy) (any, error) {
	if q.fatal.Load() {
		return nil, ErrQueueUnavailable
	}
	sub := submission{
		id:     uuid.NewString(),
		ctx:    ctx,
		work:   work,
		faults: faults,
		reply:  make(chan outcome, 1),
	}
	q.submitted.Add(1)

	select {
	case q.requests <- sub:
	case <-ctx.Done():
		q.cancelled.Add(1)
		return nil, ctx.Err()
	case <-q.done:
		return nil, ErrQueueUnavailable
	}

	select {
	case out := <-sub.reply:
		return out.val, out.err
	case <-ctx.Done():
		// The dispatcher sees the same context and abandons or skips
		// the turn; the buffered reply is simply dropped.
		return nil, ctx.Err()
	case <-q.done:
		// Drained during shutdown without running.
		select {
		case out := <-sub.reply:
			return out.val, out.err
		default:
			return nil, ErrQueueUnavailable
		}
	}
}

// SubmitNoReply enqueues work whose outcome nobody waits for. Failures
// and faults are logged and suppressed regardless of the queue's
// configured policy: a fire-and-forget notification must never take
// the queue down.
func (q *ExecutionQueue) SubmitNoReply(work Work) error {
	_, err := q.submit(context.Background(), work, SuppressAndLog)
	if stderrors.Is(err, ErrQueueUnavailable) {
		return err
	}
	if err != nil {
		q.logger.Warn("queued work failed", map[string]any{
			"error": err.Error(),
		})
	}
	return nil
}

// Shutdown stops accepting work and waits for in-flight and backlogged
// turns to finish, or for ctx to expire.
func (q *ExecutionQueue) Shutdown(ctx context.Context) error {
	q.stopOnce.Do(func() { close(q.stop) })
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current counters.
func (q *ExecutionQueue) Stats() Stats {
	return Stats{
		Submitted: q.submitted.Load(),
		Completed: q.completed.Load(),
		Faulted:   q.faulted.Load(),
		Cancelled: q.cancelled.Load(),
	}
}

func (q *ExecutionQueue) dispatch() {
	defer close(q.done)
	for {
		select {
		case sub := <-q.requests:
			if !q.turn(sub) {
				return
			}
		case <-q.stop:
			q.drain(false)
			return
		}
	}
}

// drain empties the backlog. When reject is true pending submissions
// fail with ErrQueueUnavailable; otherwise they still get their turn.
func (q *ExecutionQueue) drain(reject bool) {
	for {
		select {
		case sub := <-q.requests:
			if reject {
				sub.reply <- outcome{err: ErrQueueUnavailable}
				continue
			}
			if !q.turn(sub) {
				reject = true
			}
		default:
			return
		}
	}
}

// turn runs one submission. It returns false when a fault has killed
// the queue.
func (q *ExecutionQueue) turn(sub submission) (alive bool) {
	if err := sub.ctx.Err(); err != nil {
		q.cancelled.Add(1)
		sub.reply <- outcome{err: err}
		return true
	}

	turn := &Turn{
		RequestID:   sub.id,
		Locale:      q.resolveLocale(),
		Constraints: q.store,
	}

	alive = true
	var out outcome
	func() {
		defer func() {
			if p := recover(); p != nil {
				q.faulted.Add(1)
				fault := errors.Newf(errors.Internal, "turn %s faulted: %v", sub.id, p)
				if sub.faults == SuppressAndLog {
					q.logger.Error("turn faulted, queue continues", map[string]any{
						"request": sub.id,
						"panic":   fmt.Sprint(p),
					})
					out = outcome{err: fault}
					return
				}
				q.logger.Error("turn faulted, queue shutting down", map[string]any{
					"request": sub.id,
					"panic":   fmt.Sprint(p),
				})
				q.fatal.Store(true)
				out = outcome{err: fault}
				alive = false
			}
		}()
		val, err := sub.work(sub.ctx, turn)
		if err != nil {
			if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
				q.cancelled.Add(1)
			}
			out = outcome{err: err}
			return
		}
		q.completed.Add(1)
		out = outcome{val: val}
	}()

	sub.reply <- out
	if !alive {
		q.drain(true)
	}
	return alive
}

// resolveLocale consults the provider on the first turn only. A failed
// or empty resolution falls back to DefaultLocale, and that fallback is
// cached too.
func (q *ExecutionQueue) resolveLocale() string {
	if q.localeSet {
		return q.locale
	}
	loc := DefaultLocale
	if q.cfg.Locales != nil {
		got, err := q.cfg.Locales.TryGetRequestedLocale()
		switch {
		case err != nil:
			q.logger.Warn("locale resolution failed, using default", map[string]any{
				"error":  err.Error(),
				"locale": DefaultLocale,
			})
		case got != "":
			loc = got
		}
	}
	q.locale = loc
	q.localeSet = true
	return loc
}
