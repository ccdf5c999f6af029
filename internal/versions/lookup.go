package versions

import (
	"context"
	"errors"
	"sync"
	"time"
)

type State string

const (
	StateIdle      State = "idle"
	StateFetching  State = "fetching"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// failedRetryAfter caps how long a failed lookup serves its fallback before fetching again.
const failedRetryAfter = 30 * time.Second

var errFetchPanicked = errors.New("fetch panicked")

// Lookup runs one remote fetch through idle -> fetching -> succeeded|failed. A failed
// lookup resolves to its fallback value; the error is kept for logging only.
type Lookup[T any] struct {
	mu        sync.Mutex
	state     State
	done      chan struct{}
	value     T
	err       error
	fallback  T
	settledAt time.Time
	ttl       time.Duration
	now       func() time.Time
}

func NewLookup[T any](fallback T) *Lookup[T] {
	return &Lookup[T]{state: StateIdle, fallback: fallback, now: time.Now}
}

// RefreshAfter makes a settled lookup fetch again once it is older than ttl. Failures
// are retried sooner. A zero ttl keeps the first result forever.
func (l *Lookup[T]) RefreshAfter(ttl time.Duration) *Lookup[T] {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ttl = ttl
	return l
}

// Run performs fetch once. Callers arriving while the fetch is in flight wait for it;
// later calls return the settled value until it goes stale. A panicking fetch settles
// the lookup as failed before the panic continues.
func (l *Lookup[T]) Run(ctx context.Context, fetch func(context.Context) (T, error)) T {
	l.mu.Lock()
	switch l.state {
	case StateSucceeded, StateFailed:
		if !l.stale() {
			defer l.mu.Unlock()
			return l.resolved()
		}
	case StateFetching:
		done := l.done
		l.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return l.fallback
		}
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.resolved()
	}

	l.state = StateFetching
	l.done = make(chan struct{})
	l.mu.Unlock()

	settled := false
	defer func() {
		if !settled {
			var zero T
			l.settle(zero, errFetchPanicked)
		}
	}()

	value, err := fetch(ctx)
	settled = true
	return l.settle(value, err)
}

func (l *Lookup[T]) settle(value T, err error) T {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.state = StateFailed
		l.err = err
	} else {
		l.state = StateSucceeded
		l.value = value
		l.err = nil
	}
	l.settledAt = l.now()
	close(l.done)
	return l.resolved()
}

func (l *Lookup[T]) stale() bool {
	if l.ttl <= 0 {
		return false
	}
	ttl := l.ttl
	if l.state == StateFailed {
		ttl = min(ttl, failedRetryAfter)
	}
	return l.now().Sub(l.settledAt) >= ttl
}

func (l *Lookup[T]) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Err is the fetch error of a failed lookup.
func (l *Lookup[T]) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *Lookup[T]) resolved() T {
	if l.state == StateSucceeded {
		return l.value
	}
	return l.fallback
}
