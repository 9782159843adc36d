package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithTimeout_Success(t *testing.T) {
	err := WithTimeout(context.Background(), 100*time.Millisecond, func(ctx context.Context) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestWithTimeout_Timeout(t *testing.T) {
	err := WithTimeout(context.Background(), 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestWithTimeout_FunctionError(t *testing.T) {
	expectedErr := errors.New("function error")
	err := WithTimeout(context.Background(), 100*time.Millisecond, func(ctx context.Context) error {
		return expectedErr
	})
	if !errors.Is(err, expectedErr) {
		t.Errorf("expected function error, got %v", err)
	}
}

func TestWithTimeout_ParentCancellationIsNotTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithTimeout(ctx, time.Second, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if errors.Is(err, ErrTimeout) {
		t.Fatal("parent cancellation must not be reported as ErrTimeout")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWithTimeout_ZeroTimeoutRunsInline(t *testing.T) {
	called := false
	err := WithTimeout(context.Background(), 0, func(ctx context.Context) error {
		called = true
		if _, ok := ctx.Deadline(); ok {
			t.Error("expected no deadline for zero timeout")
		}
		return nil
	})
	if err != nil || !called {
		t.Fatalf("expected inline call without error, called=%v err=%v", called, err)
	}
}

func TestWithTimeout_ReportsConfiguredDuration(t *testing.T) {
	err := WithTimeout(context.Background(), 15*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if err.Error() != "operation timed out after 15ms" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestWithTimeout_RecoversPanics(t *testing.T) {
	for _, timeout := range []time.Duration{0, time.Second} {
		err := WithTimeout(context.Background(), timeout, func(context.Context) error {
			panic("boom")
		})
		var panicErr *PanicError
		if !errors.As(err, &panicErr) || !errors.Is(err, ErrPanic) {
			t.Fatalf("timeout %s: expected *PanicError, got %v", timeout, err)
		}
		if panicErr.Value != "boom" || len(panicErr.Stack) == 0 {
			t.Fatalf("timeout %s: unexpected panic error %+v", timeout, panicErr)
		}
	}
}

func TestGuard_PassesThroughErrors(t *testing.T) {
	want := errors.New("rejected")
	if err := Guard(context.Background(), func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected passthrough error, got %v", err)
	}
}
