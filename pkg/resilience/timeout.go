// Package resilience holds the timeout and circuit-breaking helpers used around
// job processors and outbound mail delivery.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

var (
	// ErrTimeout is returned when an operation exceeds its timeout.
	ErrTimeout = errors.New("operation timed out")
	// ErrPanic matches a *PanicError.
	ErrPanic = errors.New("operation panicked")
)

// PanicError carries a value recovered from a guarded function.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v; stack=%s", e.Value, e.Stack)
}

func (e *PanicError) Unwrap() error { return ErrPanic }

// Guard runs fn and converts a panic into a *PanicError.
func Guard(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{Value: rec, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}

// WithTimeout runs fn through Guard with a context bounded by timeout. When the
// deadline passes first it returns an error matching ErrTimeout; when the parent
// is cancelled first it returns the parent's error. fn is not waited for in
// either case and must honour its context. A non-positive timeout runs fn inline.
func WithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return Guard(ctx, fn)
	}

	expired := fmt.Errorf("%w after %s", ErrTimeout, timeout)
	timeoutCtx, cancel := context.WithTimeoutCause(ctx, timeout, expired)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Guard(timeoutCtx, fn)
	}()

	select {
	case err := <-done:
		if err != nil && ctx.Err() == nil && errors.Is(context.Cause(timeoutCtx), ErrTimeout) {
			return context.Cause(timeoutCtx)
		}
		return err
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return context.Cause(timeoutCtx)
	}
}
