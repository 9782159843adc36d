package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(maxFailures int, openTimeout time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker(maxFailures, openTimeout)
	cb.now = clock.Now
	return cb, clock
}

var errDependency = errors.New("dependency failed")

func failing(context.Context) error { return errDependency }

func succeeding(context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, failing); !errors.Is(err, errDependency) {
			t.Fatalf("attempt %d: expected dependency error, got %v", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %v", cb.State())
	}
	if err := cb.Execute(ctx, succeeding); !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Fatalf("expected ErrCircuitBreakerOpen, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Second)
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	_ = cb.Execute(ctx, succeeding)
	_ = cb.Execute(ctx, failing)

	if cb.State() != StateClosed {
		t.Fatalf("expected closed, got %v", cb.State())
	}
	if cb.Failures() != 1 {
		t.Fatalf("expected 1 failure, got %d", cb.Failures())
	}
}

func TestCircuitBreaker_HalfOpenTrial(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Second)
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	clock.Advance(time.Second)

	if err := cb.Execute(ctx, failing); !errors.Is(err, errDependency) {
		t.Fatalf("expected trial call to run, got %v", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("failed trial must reopen, got %v", cb.State())
	}

	clock.Advance(time.Second)
	if err := cb.Execute(ctx, succeeding); err != nil {
		t.Fatalf("expected successful trial, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("successful trial must close, got %v", cb.State())
	}
}

func TestCircuitBreaker_CallerCancellationIsNotAFailure(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed, got %v", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Hour)
	_ = cb.Execute(context.Background(), failing)
	cb.Reset()
	if cb.State() != StateClosed || cb.Failures() != 0 {
		t.Fatalf("expected closed breaker without failures, got %v/%d", cb.State(), cb.Failures())
	}
}

func TestCircuitBreaker_FailurePredicate(t *testing.T) {
	errRejected := errors.New("rejected by caller")
	cb := NewCircuitBreaker(1, time.Hour, WithFailurePredicate(func(err error) bool {
		return !errors.Is(err, errRejected)
	}))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, func(context.Context) error { return errRejected }); !errors.Is(err, errRejected) {
			t.Fatalf("expected caller error to be returned, got %v", err)
		}
	}
	if cb.State() != StateClosed || cb.Failures() != 0 {
		t.Fatalf("ignored errors must not count, got %v/%d", cb.State(), cb.Failures())
	}

	_ = cb.Execute(ctx, failing)
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %v", cb.State())
	}
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(1, time.Second, WithStateChange(func(from, to BreakerState) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}))
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb.now = clock.Now
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	_ = cb.Execute(ctx, succeeding)
	clock.Advance(time.Second)
	_ = cb.Execute(ctx, succeeding)
	_ = cb.Execute(ctx, succeeding)

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", transitions, want)
		}
	}
}

func TestBreakerState_String(t *testing.T) {
	cases := map[BreakerState]string{
		StateClosed:      "closed",
		StateOpen:        "open",
		StateHalfOpen:    "half-open",
		BreakerState(42): "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}

func TestProperty_CircuitBreakerOpensExactlyAtThreshold(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("breaker stays closed below threshold and opens at it", prop.ForAll(
		func(maxFailures int) bool {
			cb, _ := newTestBreaker(maxFailures, time.Minute)
			ctx := context.Background()
			for i := 0; i < maxFailures-1; i++ {
				_ = cb.Execute(ctx, failing)
				if cb.State() != StateClosed {
					return false
				}
			}
			_ = cb.Execute(ctx, failing)
			return cb.State() == StateOpen && errors.Is(cb.Execute(ctx, succeeding), ErrCircuitBreakerOpen)
		},
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}
