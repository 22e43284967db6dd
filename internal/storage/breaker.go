// breaker.go - circuit breaker around a Store.

package storage

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitState is the state of a Breaker.
type CircuitState int

const (
	// StateClosed: calls flow normally.
	StateClosed CircuitState = iota
	// StateOpen: calls fail fast with ErrUnavailable.
	StateOpen
	// StateHalfOpen: one probe call is let through.
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker wraps a Store with a circuit breaker. ErrNotFound and caller
// cancellation are answers, not failures, and never trip it.
type Breaker struct {
	next Store

	mu          sync.Mutex
	maxFailures int
	timeout     time.Duration
	state       CircuitState
	failures    int
	openedAt    time.Time
	probing     bool
	now         func() time.Time
	onChange    func(from, to CircuitState)
}

// BreakerStats is a snapshot for health reporting.
type BreakerStats struct {
	State    string `json:"state"`
	Failures int    `json:"failures"`
}

// NewBreaker opens after maxFailures consecutive failures and probes again
// after timeout.
func NewBreaker(next Store, maxFailures int, timeout time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{next: next, maxFailures: maxFailures, timeout: timeout, now: time.Now}
}

// OnStateChange registers a hook called on every transition, under the lock.
func (b *Breaker) OnStateChange(fn func(from, to CircuitState)) { b.onChange = fn }

func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{State: b.state.String(), Failures: b.failures}
}

func (b *Breaker) setState(s CircuitState) {
	if s == b.state {
		return
	}
	from := b.state
	b.state = s
	if b.onChange != nil {
		b.onChange(from, s)
	}
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.timeout {
			return ErrUnavailable
		}
		b.setState(StateHalfOpen)
		b.probing = true
	case StateHalfOpen:
		if b.probing {
			return ErrUnavailable
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) after(ctx context.Context, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false

	switch {
	case err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrMetadataTooLarge):
		b.failures = 0
		b.setState(StateClosed)
		return
	case errors.Is(ctx.Err(), context.Canceled):
		// The caller went away; the call says nothing about the backend.
		return
	}
	// Deadline overruns count: a hung backend is the failure to detect.
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.maxFailures {
		b.openedAt = b.now()
		b.setState(StateOpen)
	}
}

func (b *Breaker) do(ctx context.Context, fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(ctx, err)
	return err
}

func (b *Breaker) Stat(ctx context.Context, key string) (info ObjectInfo, err error) {
	err = b.do(ctx, func() error {
		info, err = b.next.Stat(ctx, key)
		return err
	})
	return info, err
}

func (b *Breaker) Get(ctx context.Context, key string) (obj *Object, err error) {
	err = b.do(ctx, func() error {
		obj, err = b.next.Get(ctx, key)
		return err
	})
	return obj, err
}

func (b *Breaker) Put(ctx context.Context, in PutInput) error {
	return b.do(ctx, func() error { return b.next.Put(ctx, in) })
}

func (b *Breaker) List(ctx context.Context, in ListInput) (page ListPage, err error) {
	err = b.do(ctx, func() error {
		page, err = b.next.List(ctx, in)
		return err
	})
	return page, err
}

func (b *Breaker) Delete(ctx context.Context, key string) error {
	return b.do(ctx, func() error { return b.next.Delete(ctx, key) })
}

func (b *Breaker) Exists(ctx context.Context, key string) (ok bool, err error) {
	err = b.do(ctx, func() error {
		ok, err = b.next.Exists(ctx, key)
		return err
	})
	return ok, err
}

// Ping bypasses the breaker so health checks see the real backend.
func (b *Breaker) Ping(ctx context.Context) error { return b.next.Ping(ctx) }
