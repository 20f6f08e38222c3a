package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

var ErrOpen = errors.New("circuit breaker is open")

// Breaker stops calling a failing dependency for resetTimeout after maxFailures
// consecutive failures. Errors matched by the ignore func do not count, and a
// single trial call is let through while half-open.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

func New(name string, maxFailures uint32, resetTimeout time.Duration, ignore func(error) bool) *Breaker {
	if ignore == nil {
		ignore = func(error) bool { return false }
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     resetTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || ignore(err)
		},
	})}
}

func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s: %v", ErrOpen, b.cb.Name(), err)
	}
	return err
}

func (b *Breaker) State() gobreaker.State { return b.cb.State() }
