package analyzer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLazySingleFlight(t *testing.T) {
	var calls atomic.Int64
	release := make(chan struct{})
	l := NewLazy(func(ctx context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	})

	const waiters = 8
	results := make(chan int, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := l.Get(context.Background())
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			results <- v
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for v := range results {
		if v != 42 {
			t.Fatalf("got %d, want 42", v)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("compute ran %d times, want 1", n)
	}
	if !l.Settled() {
		t.Fatal("lazy not settled after successful run")
	}
}

func TestLazyResolved(t *testing.T) {
	l := Resolved("ready")
	v, err := l.Get(context.Background())
	if err != nil || v != "ready" {
		t.Fatalf("got (%q, %v)", v, err)
	}
	if !l.Settled() {
		t.Fatal("resolved lazy must report settled")
	}
}

func TestLazyMemoizesFailure(t *testing.T) {
	var calls atomic.Int64
	boom := errors.New("boom")
	l := NewLazy(func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, boom
	})

	for i := 0; i < 3; i++ {
		if _, err := l.Get(context.Background()); !errors.Is(err, boom) {
			t.Fatalf("attempt %d: got %v, want boom", i, err)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("compute ran %d times, want 1", n)
	}
}

func TestLazyWaiterCancellation(t *testing.T) {
	release := make(chan struct{})
	l := NewLazy(func(ctx context.Context) (int, error) {
		<-release
		return 7, nil
	})

	started := make(chan struct{})
	go func() {
		close(started)
		l.Get(context.Background())
	}()
	<-started
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Get(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled waiter got %v", err)
	}

	// The flight the waiter abandoned still settles for everyone else.
	close(release)
	v, err := l.Get(context.Background())
	if err != nil || v != 7 {
		t.Fatalf("got (%d, %v), want (7, nil)", v, err)
	}
}

func TestLazyCancelledRunLeavesNoResidue(t *testing.T) {
	var calls atomic.Int64
	l := NewLazy(func(ctx context.Context) (int, error) {
		calls.Add(1)
		if calls.Load() == 1 {
			return 0, context.Canceled
		}
		return 99, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Get(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("first run: got %v", err)
	}
	if l.Settled() {
		t.Fatal("cancelled run must not settle")
	}

	v, err := l.Get(context.Background())
	if err != nil || v != 99 {
		t.Fatalf("retry: got (%d, %v), want (99, nil)", v, err)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("compute ran %d times, want 2", n)
	}
}

func TestLazyTimedOutRunLeavesNoResidue(t *testing.T) {
	var calls atomic.Int64
	l := NewLazy(func(ctx context.Context) (int, error) {
		calls.Add(1)
		if calls.Load() == 1 {
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return 7, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.Get(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("first run: got %v", err)
	}
	if l.Settled() {
		t.Fatal("timed-out run must not settle")
	}

	// A later caller with a healthy context recomputes.
	v, err := l.Get(context.Background())
	if err != nil || v != 7 {
		t.Fatalf("retry: got (%d, %v), want (7, nil)", v, err)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("compute ran %d times, want 2", n)
	}
}
