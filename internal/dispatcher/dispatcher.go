// Package dispatcher routes a notification to its recipients' channels,
// wraps each attempt in retry + circuit-breaker protection, and aggregates
// the outcomes into a notification-level status update.
package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/insider-one/notification-engine/internal/channel"
	"github.com/insider-one/notification-engine/internal/domain"
	"github.com/insider-one/notification-engine/internal/preference"
	"github.com/insider-one/notification-engine/internal/retry"
)

// Mode selects how channels are attempted per recipient.
//
// fire_and_forget always attempts every chosen channel concurrently and
// never short-circuits on first success, so outcomes are consistent across
// recipients within one notification. confirmed_delivery attempts channels
// sequentially in preference order and stops at the first success.
type Mode string

const (
	ModeFireAndForget    Mode = "fire_and_forget"
	ModeConfirmedDelivery Mode = "confirmed_delivery"
)

// Metrics is the subset of the Prometheus metrics surface the dispatcher
// exercises directly, kept as a narrow interface so this package doesn't
// depend on the handler package that defines the concrete type.
type Metrics interface {
	RecordNotificationSent(channel string)
	RecordNotificationFailed(channel, reason string)
	RecordProcessingLatency(channel string, latency time.Duration)
}

// ChannelRuntime bundles everything needed to execute one channel's
// delivery attempts: its adapter, retry policy, breaker and per-call timeout.
type ChannelRuntime struct {
	Policy  retry.Policy
	Breaker *retry.Breaker
	Timeout time.Duration
}

// RecipientOutcome is the aggregated result of attempting every channel for
// one recipient.
type RecipientOutcome struct {
	Recipient     domain.Recipient
	Success       bool
	ChannelErrors map[domain.Channel]*domain.DeliveryError
	Attempts      []domain.DeliveryAttempt
}

// Result is what Dispatch returns: aggregated across every recipient, plus
// the status the notification should transition to.
type Result struct {
	Outcomes      []RecipientOutcome
	NextStatus    domain.Status
	NextRetryAt   *time.Time
}

// Dispatcher routes notifications to recipients and wraps every channel
// attempt in retry and breaker protection. Escalation is a separate deferred
// mechanism layered on top: see escalation.go.
type Dispatcher struct {
	registry    *channel.Registry
	evaluator   *preference.Evaluator
	prefs       domain.PreferenceRepository
	runtimes    map[domain.Channel]ChannelRuntime
	deadLetter  *DeadLetterQueue
	escalations *EscalationQueue
	metrics     Metrics
	logger      *slog.Logger
}

func New(registry *channel.Registry, evaluator *preference.Evaluator, prefs domain.PreferenceRepository, runtimes map[domain.Channel]ChannelRuntime, dlq *DeadLetterQueue, escalations *EscalationQueue, metrics Metrics, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry:    registry,
		evaluator:   evaluator,
		prefs:       prefs,
		runtimes:    runtimes,
		deadLetter:  dlq,
		escalations: escalations,
		metrics:     metrics,
		logger:      logger,
	}
}

// Dispatch routes n to every recipient and returns the aggregated outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, n *domain.Notification, mode Mode, now time.Time) Result {
	outcomes := make([]RecipientOutcome, len(n.Recipients))

	var wg sync.WaitGroup
	for i, recipient := range n.Recipients {
		i, recipient := i, recipient
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = d.dispatchToRecipient(ctx, n, recipient, mode, now)
		}()
	}
	wg.Wait()

	return Result{
		Outcomes:   outcomes,
		NextStatus: d.aggregateStatus(n, outcomes),
	}
}

func (d *Dispatcher) dispatchToRecipient(ctx context.Context, n *domain.Notification, recipient domain.Recipient, mode Mode, now time.Time) RecipientOutcome {
	prefs, err := d.prefs.Get(ctx, recipient.UserID)
	if err != nil || prefs == nil {
		prefs = domain.DefaultPreferences(recipient.UserID)
	}

	channels := d.evaluator.Evaluate(ctx, n, prefs, now)
	outcome := RecipientOutcome{
		Recipient:     recipient,
		ChannelErrors: make(map[domain.Channel]*domain.DeliveryError),
	}
	if len(channels) == 0 {
		return outcome
	}

	routable := make([]domain.Channel, 0, len(channels))
	for _, c := range channels {
		if _, ok := d.registry.Get(c); ok && d.registry.IsHealthy(c) {
			routable = append(routable, c)
		}
	}
	if len(routable) == 0 {
		return outcome
	}

	switch mode {
	case ModeConfirmedDelivery:
		d.runSequential(ctx, n, recipient, routable, &outcome)
	default:
		d.runConcurrent(ctx, n, recipient, routable, &outcome)
	}

	if !outcome.Success && len(outcome.ChannelErrors) > 0 {
		d.deadLetter.Push(DeadLetterEntry{
			NotificationID: n.ID,
			RecipientID:    recipient.UserID,
			ChannelErrors:  outcome.ChannelErrors,
			FailedAt:       now,
		})
		d.scheduleEscalation(n, recipient, prefs, now)
	}

	return outcome
}

func (d *Dispatcher) runSequential(ctx context.Context, n *domain.Notification, recipient domain.Recipient, channels []domain.Channel, outcome *RecipientOutcome) {
	for _, c := range channels {
		attempts, err := d.attempt(ctx, n, recipient, c)
		outcome.Attempts = append(outcome.Attempts, attempts...)
		if err == nil {
			outcome.Success = true
			return
		}
		outcome.ChannelErrors[c] = err
	}
}

func (d *Dispatcher) runConcurrent(ctx context.Context, n *domain.Notification, recipient domain.Recipient, channels []domain.Channel, outcome *RecipientOutcome) {
	type res struct {
		channel  domain.Channel
		attempts []domain.DeliveryAttempt
		err      *domain.DeliveryError
	}
	results := make(chan res, len(channels))

	var wg sync.WaitGroup
	for _, c := range channels {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			attempts, err := d.attempt(ctx, n, recipient, c)
			results <- res{channel: c, attempts: attempts, err: err}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		outcome.Attempts = append(outcome.Attempts, r.attempts...)
		if r.err == nil {
			outcome.Success = true
		} else {
			outcome.ChannelErrors[r.channel] = r.err
		}
	}
}

// attempt runs the full retry+breaker loop for one channel, returning one
// attempt record per try (numbered 1..N) plus the terminal error, if any.
func (d *Dispatcher) attempt(ctx context.Context, n *domain.Notification, recipient domain.Recipient, c domain.Channel) ([]domain.DeliveryAttempt, *domain.DeliveryError) {
	adapter, _ := d.registry.Get(c)
	rt, ok := d.runtimes[c]
	if !ok {
		rt = ChannelRuntime{Policy: retry.ForChannel(string(c)), Timeout: 30 * time.Second}
	}

	var attempts []domain.DeliveryAttempt
	var lastErr *domain.DeliveryError
	var lastResult domain.DeliveryResult

	for attemptNum := 1; attemptNum <= rt.Policy.MaxAttempts; attemptNum++ {
		callCtx, cancel := context.WithTimeout(ctx, rt.Timeout)

		dctx := domain.DeliveryContext{Notification: n, Recipient: recipient, Attempt: attemptNum, CorrelationID: n.CorrelationID}

		var result domain.DeliveryResult
		if rt.Breaker != nil {
			result, _ = rt.Breaker.Execute(callCtx, func(ctx context.Context) (domain.DeliveryResult, error) {
				return adapter.Send(ctx, dctx), nil
			})
		} else {
			result = adapter.Send(callCtx, dctx)
		}
		cancel()

		lastResult = result
		record := domain.DeliveryAttempt{
			NotificationID: n.ID,
			RecipientID:    recipient.UserID,
			Channel:        c,
			AttemptNumber:  attemptNum,
			Outcome:        domain.OutcomeSuccess,
			ProviderRef:    result.ProviderRef,
			DurationMs:     result.DurationMs,
			AttemptedAt:    time.Now().UTC(),
		}
		if result.Err != nil {
			k := result.Err.Kind
			record.Outcome = domain.OutcomeFailure
			record.ErrorKind = &k
			record.ErrorMessage = result.Err.Message
		}
		attempts = append(attempts, record)

		if result.Err == nil {
			lastErr = nil
			break
		}
		lastErr = result.Err

		if result.Err.Kind == domain.ErrorKindCircuitOpen {
			break
		}
		if attemptNum >= rt.Policy.MaxAttempts || !result.Err.Retryable() {
			break
		}
		time.Sleep(rt.Policy.Delay(attemptNum + 1))
	}

	if d.metrics != nil {
		if lastErr == nil {
			d.metrics.RecordNotificationSent(string(c))
			d.metrics.RecordProcessingLatency(string(c), time.Duration(lastResult.DurationMs)*time.Millisecond)
		} else {
			d.metrics.RecordNotificationFailed(string(c), string(lastErr.Kind))
		}
	}

	if lastErr == nil {
		return attempts, nil
	}
	return attempts, lastErr
}

// BreakerRejections reports, per channel, how many delivery attempts were
// short-circuited by an open circuit breaker without reaching the adapter.
func (d *Dispatcher) BreakerRejections() map[domain.Channel]int64 {
	out := make(map[domain.Channel]int64, len(d.runtimes))
	for c, rt := range d.runtimes {
		if rt.Breaker != nil {
			out[c] = rt.Breaker.Rejected()
		}
	}
	return out
}

// aggregateStatus derives the notification-level status from the
// per-recipient outcomes.
func (d *Dispatcher) aggregateStatus(n *domain.Notification, outcomes []RecipientOutcome) domain.Status {
	allSucceeded := true
	anySucceeded := false
	anyRetryable := false

	for _, o := range outcomes {
		if o.Success {
			anySucceeded = true
		} else {
			allSucceeded = false
		}
		for _, err := range o.ChannelErrors {
			// circuit_open is deferred rather than terminal: the notification
			// stays pending and is retried once the breaker recovers.
			if err.Retryable() || err.Kind == domain.ErrorKindCircuitOpen {
				anyRetryable = true
			}
		}
	}

	switch {
	case allSucceeded:
		return domain.StatusDelivered
	case !anySucceeded && !anyRetryable:
		return domain.StatusFailed
	default:
		return domain.StatusPending
	}
}
