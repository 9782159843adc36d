package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state.
type BreakerState int

const (
	// StateClosed allows all calls through.
	StateClosed BreakerState = iota
	// StateOpen rejects calls until the open timeout elapses.
	StateOpen
	// StateHalfOpen lets a single trial call through.
	StateHalfOpen
)

var stateNames = [...]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open"}

func (s BreakerState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// ErrCircuitBreakerOpen is returned when the circuit breaker rejects a call.
var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

const (
	defaultMaxFailures = 5
	defaultOpenTimeout = 30 * time.Second
)

// BreakerOption customizes a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithFailurePredicate decides which errors count against the breaker. Errors
// it rejects are returned to the caller and treated like a success.
func WithFailurePredicate(isFailure func(error) bool) BreakerOption {
	return func(cb *CircuitBreaker) {
		if isFailure != nil {
			cb.isFailure = isFailure
		}
	}
}

// WithStateChange registers a callback invoked after every transition. It runs
// without the breaker lock held.
func WithStateChange(fn func(from, to BreakerState)) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.onChange = fn
	}
}

// CircuitBreaker stops calling a failing dependency after maxFailures
// consecutive failures and lets one trial call through once openTimeout has elapsed.
type CircuitBreaker struct {
	maxFailures int
	openTimeout time.Duration
	now         func() time.Time
	isFailure   func(error) bool
	onChange    func(from, to BreakerState)

	mu       sync.Mutex
	state    BreakerState
	failures int
	trial    bool
	openedAt time.Time
}

// NewCircuitBreaker creates a closed breaker. Non-positive values fall back to
// 5 failures and 30 seconds.
func NewCircuitBreaker(maxFailures int, openTimeout time.Duration, opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		maxFailures: maxFailures,
		openTimeout: openTimeout,
		now:         time.Now,
		isFailure:   func(err error) bool { return err != nil },
	}
	if cb.maxFailures <= 0 {
		cb.maxFailures = defaultMaxFailures
	}
	if cb.openTimeout <= 0 {
		cb.openTimeout = defaultOpenTimeout
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Execute runs fn when the breaker allows it. Context cancellation of the
// caller is not counted as a dependency failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !cb.acquire() {
		return ErrCircuitBreakerOpen
	}

	err := fn(ctx)
	switch {
	case err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()):
		cb.update(func() { cb.trial = false })
	case err == nil || !cb.isFailure(err):
		cb.update(cb.close)
	default:
		cb.update(func() {
			cb.failures++
			if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
				cb.open()
			}
		})
	}
	return err
}

func (cb *CircuitBreaker) acquire() bool {
	allowed := false
	cb.update(func() {
		if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.openTimeout {
			cb.state = StateHalfOpen
		}
		switch cb.state {
		case StateClosed:
			allowed = true
		case StateHalfOpen:
			allowed = !cb.trial
			cb.trial = true
		}
	})
	return allowed
}

// update applies fn under the lock and reports any resulting transition.
func (cb *CircuitBreaker) update(fn func()) {
	cb.mu.Lock()
	from := cb.state
	fn()
	to := cb.state
	cb.mu.Unlock()

	if from != to && cb.onChange != nil {
		cb.onChange(from, to)
	}
}

// open and close must be called with mu held.
func (cb *CircuitBreaker) open() {
	cb.state = StateOpen
	cb.failures = 0
	cb.trial = false
	cb.openedAt = cb.now()
}

func (cb *CircuitBreaker) close() {
	cb.state = StateClosed
	cb.failures = 0
	cb.trial = false
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive failure count while closed.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset closes the breaker.
func (cb *CircuitBreaker) Reset() {
	cb.update(cb.close)
}
