package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// State is a circuit breaker state.
type State int

const (
	// StateClosed lets calls through.
	StateClosed State = iota
	// StateOpen rejects calls until the reset timeout elapses.
	StateOpen
	// StateHalfOpen lets a single probe call through at a time.
	StateHalfOpen
)

func (s State) String() string {
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

// ErrCircuitOpen is returned when a call is rejected by an open breaker.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerConfig controls when a Breaker opens and recovers.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMaxProbes is the number of consecutive successful probes
	// needed to close the circuit again. Default: 1.
	HalfOpenMaxProbes int

	// Trips decides whether an error counts as a failure. Nil counts every
	// error except context cancellation by the caller.
	Trips func(err error) bool

	// OnStateChange observes transitions.
	OnStateChange func(from, to State)
}

// BreakerFromConfig builds a BreakerConfig from plain config values.
func BreakerFromConfig(failureThreshold, resetTimeoutSecs int) BreakerConfig {
	return BreakerConfig{
		FailureThreshold: failureThreshold,
		ResetTimeout:     time.Duration(resetTimeoutSecs) * time.Second,
	}
}

// Breaker fails fast while the guarded dependency keeps failing.
type Breaker struct {
	cfg BreakerConfig

	mu                sync.Mutex
	state             State
	failures          int
	openedAt          time.Time
	probing           bool
	halfOpenSuccesses int

	now func() time.Time
}

// NewBreaker creates a closed Breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxProbes <= 0 {
		cfg.HalfOpenMaxProbes = 1
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Execute runs fn unless the circuit is open.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	probe, err := b.allow()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.record(err, probe)
	return err
}

// ExecuteVal is Execute for functions returning a value.
func ExecuteVal[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	probe, err := b.allow()
	if err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	b.record(err, probe)
	return val, err
}

// State returns the current state, reporting half-open once an open
// circuit's reset timeout has passed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// allow admits a call. While half-open only one probe runs at a time; probe
// reports whether the admitted call is that probe.
func (b *Breaker) allow() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		b.halfOpenSuccesses = 0
		b.transition(StateHalfOpen)
	case StateHalfOpen:
		if b.probing {
			return false, ErrCircuitOpen
		}
	default:
		return false, nil
	}
	b.probing = true
	return true, nil
}

func (b *Breaker) record(err error, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
	}
	if b.state == StateHalfOpen && !probe {
		return
	}

	if !b.trips(err) {
		if err != nil && b.state == StateHalfOpen {
			return
		}
		b.failures = 0
		if b.state == StateHalfOpen {
			b.halfOpenSuccesses++
			if b.halfOpenSuccesses >= b.cfg.HalfOpenMaxProbes {
				b.transition(StateClosed)
			}
		}
		return
	}

	b.failures++
	switch {
	case b.state == StateHalfOpen:
		b.open()
	case b.state == StateClosed && b.failures >= b.cfg.FailureThreshold:
		b.open()
	}
}

func (b *Breaker) trips(err error) bool {
	if err == nil {
		return false
	}
	if b.cfg.Trips != nil {
		return b.cfg.Trips(err)
	}
	return !errors.Is(err, context.Canceled)
}

func (b *Breaker) open() {
	b.openedAt = b.now()
	b.transition(StateOpen)
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if from != to && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}
