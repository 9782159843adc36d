package email

import (
	"context"
	"errors"
	"time"

	"github.com/nimburion/mailqueue/pkg/observability/logger"
	"github.com/nimburion/mailqueue/pkg/resilience"
)

// BreakerProvider stops calling a failing provider until its open timeout
// elapses. Invalid messages never count as provider failures.
type BreakerProvider struct {
	next    Provider
	breaker *resilience.CircuitBreaker
}

// NewBreakerProvider wraps next. Non-positive values select the breaker defaults.
func NewBreakerProvider(next Provider, maxFailures int, openTimeout time.Duration, log logger.Logger) *BreakerProvider {
	if log == nil {
		log = logger.NewNop()
	}
	return &BreakerProvider{
		next: next,
		breaker: resilience.NewCircuitBreaker(maxFailures, openTimeout,
			resilience.WithFailurePredicate(func(err error) bool {
				return !errors.Is(err, ErrInvalidMessage)
			}),
			resilience.WithStateChange(func(from, to resilience.BreakerState) {
				if to == resilience.StateOpen {
					log.Warn("email provider circuit opened", "from", from.String(), "open_timeout", openTimeout)
					return
				}
				log.Info("email provider circuit changed", "from", from.String(), "to", to.String())
			}),
		),
	}
}

func (p *BreakerProvider) Send(ctx context.Context, message Message) error {
	return p.breaker.Execute(ctx, func(ctx context.Context) error {
		return p.next.Send(ctx, message)
	})
}

// State reports the breaker state.
func (p *BreakerProvider) State() resilience.BreakerState {
	return p.breaker.State()
}

func (p *BreakerProvider) Close() error {
	return p.next.Close()
}
