package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/insider-one/notification-engine/internal/domain"
)

// BreakerConfig tunes a per-channel circuit breaker.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls uint32
}

// Breaker wraps gobreaker.CircuitBreaker, translating its open-circuit
// rejection into a domain.DeliveryError so callers never special-case the
// breaker library directly.
type Breaker struct {
	cb       *gobreaker.CircuitBreaker
	rejected atomic.Int64
}

// NewBreaker builds a breaker that opens after FailureThreshold consecutive
// failures and probes again after RecoveryTimeout.
func NewBreaker(cfg BreakerConfig) *Breaker {
	st := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenMaxCalls,
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(st)}
}

// Execute runs fn under circuit-breaker protection. If the circuit is open,
// fn is not called and a circuit_open DeliveryError is returned.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) (domain.DeliveryResult, error)) (domain.DeliveryResult, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		r, innerErr := fn(ctx)
		if innerErr != nil {
			return r, innerErr
		}
		if r.Err != nil {
			return r, r.Err
		}
		return r, nil
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			b.rejected.Add(1)
			return domain.DeliveryResult{
				Success: false,
				Err:     domain.NewDeliveryError(domain.ErrorKindCircuitOpen, "circuit breaker open, delivery deferred", err),
			}, nil
		}
		if dr, ok := res.(domain.DeliveryResult); ok {
			return dr, nil
		}
		return domain.DeliveryResult{
			Success: false,
			Err:     domain.NewDeliveryError(domain.ErrorKindUnexpected, "delivery failed", err),
		}, nil
	}

	dr, _ := res.(domain.DeliveryResult)
	return dr, nil
}

// Rejected reports how many calls were short-circuited by an open or
// half-open-exhausted breaker without ever reaching fn.
func (b *Breaker) Rejected() int64 {
	return b.rejected.Load()
}

// State reports the breaker's current gobreaker state as a domain-friendly string.
func (b *Breaker) State() string {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}
