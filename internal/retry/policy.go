// Package retry implements backoff scheduling and circuit-breaker protection
// for channel delivery attempts.
package retry

import (
	"math/rand"
	"time"
)

// Strategy selects how the base delay grows across attempts.
type Strategy string

const (
	StrategyFixed       Strategy = "fixed_delay"
	StrategyLinear      Strategy = "linear_backoff"
	StrategyExponential Strategy = "exponential_backoff"
	StrategyFibonacci   Strategy = "fibonacci_backoff"
)

// Policy is a configurable retry schedule with optional jitter.
type Policy struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	Strategy          Strategy
	Jitter            bool
	JitterFraction    float64
	BackoffMultiplier float64
}

// Delay computes the wait before the given attempt (1-based: the delay
// preceding attempt N, i.e. after attempt N-1 failed).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	var delay time.Duration
	switch p.Strategy {
	case StrategyFixed:
		delay = p.BaseDelay
	case StrategyLinear:
		delay = p.BaseDelay * time.Duration(attempt)
	case StrategyFibonacci:
		delay = p.BaseDelay * time.Duration(fibonacci(attempt))
	case StrategyExponential:
		fallthrough
	default:
		mult := p.BackoffMultiplier
		if mult <= 0 {
			mult = 2.0
		}
		delay = time.Duration(float64(p.BaseDelay) * pow(mult, attempt-1))
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if p.Jitter {
		frac := p.JitterFraction
		if frac <= 0 {
			frac = 0.1
		}
		jitterAmount := float64(delay) * frac
		offset := (rand.Float64()*2 - 1) * jitterAmount
		delay = time.Duration(float64(delay) + offset)
		if delay < 100*time.Millisecond {
			delay = 100 * time.Millisecond
		}
	}

	return delay
}

// CanRetry reports whether another attempt is permitted given the attempt
// count already made and whether the last error was retryable.
func (p Policy) CanRetry(attemptsMade int, retryable bool) bool {
	if attemptsMade >= p.MaxAttempts {
		return false
	}
	return retryable
}

func fibonacci(n int) int {
	if n <= 1 {
		return 1
	}
	if n == 2 {
		return 1
	}
	a, b := 1, 1
	for i := 2; i < n; i++ {
		a, b = b, a+b
	}
	return b
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// Default named profiles, matched to delivery scenarios.
var (
	Default = Policy{
		MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second,
		Strategy: StrategyExponential, Jitter: true, JitterFraction: 0.1, BackoffMultiplier: 2.0,
	}
	Aggressive = Policy{
		MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 60 * time.Second,
		Strategy: StrategyExponential, Jitter: true, JitterFraction: 0.1, BackoffMultiplier: 2.5,
	}
	Conservative = Policy{
		MaxAttempts: 2, BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second,
		Strategy: StrategyLinear, Jitter: true, JitterFraction: 0.1, BackoffMultiplier: 1,
	}
	Email = Policy{
		MaxAttempts: 4, BaseDelay: 2 * time.Second, MaxDelay: 120 * time.Second,
		Strategy: StrategyExponential, Jitter: true, JitterFraction: 0.1, BackoffMultiplier: 3.0,
	}
	Webhook = Policy{
		MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second,
		Strategy: StrategyExponential, Jitter: true, JitterFraction: 0.1, BackoffMultiplier: 2.0,
	}
)

// ForChannel returns the named profile appropriate for a channel string,
// falling back to Default.
func ForChannel(channel string) Policy {
	switch channel {
	case "email":
		return Email
	case "webhook":
		return Webhook
	default:
		return Default
	}
}
