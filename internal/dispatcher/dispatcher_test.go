package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/insider-one/notification-engine/internal/channel"
	"github.com/insider-one/notification-engine/internal/domain"
	"github.com/insider-one/notification-engine/internal/retry"
)

// fakeAdapter is a minimal domain.ChannelAdapter whose Send outcome is
// scripted per test. When failuresBeforeSuccess is set, the first N calls
// fail with a retryable error and later calls succeed.
type fakeAdapter struct {
	channel domain.Channel
	result  domain.DeliveryResult

	failuresBeforeSuccess int
	calls                 int
}

func (a *fakeAdapter) Channel() domain.Channel             { return a.channel }
func (a *fakeAdapter) Capabilities() domain.Capabilities    { return domain.Capabilities{Channel: a.channel} }
func (a *fakeAdapter) Initialize(ctx context.Context) error { return nil }
func (a *fakeAdapter) HealthCheck(ctx context.Context) error { return nil }
func (a *fakeAdapter) Shutdown(ctx context.Context) error   { return nil }
func (a *fakeAdapter) Send(ctx context.Context, dctx domain.DeliveryContext) domain.DeliveryResult {
	a.calls++
	if a.failuresBeforeSuccess > 0 {
		if a.calls <= a.failuresBeforeSuccess {
			return domain.DeliveryResult{Err: domain.NewDeliveryError(domain.ErrorKindNetwork, "connection refused", nil)}
		}
		return domain.DeliveryResult{Success: true}
	}
	return a.result
}

// fakeMetrics records every call made to it, standing in for
// handler.Metrics without importing the handler package.
type fakeMetrics struct {
	sent   []string
	failed []string
}

func (m *fakeMetrics) RecordNotificationSent(ch string)               { m.sent = append(m.sent, ch) }
func (m *fakeMetrics) RecordNotificationFailed(ch, reason string)      { m.failed = append(m.failed, ch) }
func (m *fakeMetrics) RecordProcessingLatency(ch string, _ time.Duration) {}

func newTestDispatcher(adapter domain.ChannelAdapter, rt ChannelRuntime, metrics Metrics) *Dispatcher {
	registry := channel.NewRegistry(nil)
	registry.Register(context.Background(), adapter)

	return &Dispatcher{
		registry: registry,
		runtimes: map[domain.Channel]ChannelRuntime{adapter.Channel(): rt},
		metrics:  metrics,
	}
}

func TestDispatcher_Attempt_RecordsSentMetric(t *testing.T) {
	adapter := &fakeAdapter{channel: domain.ChannelEmail, result: domain.DeliveryResult{Success: true}}
	metrics := &fakeMetrics{}
	d := newTestDispatcher(adapter, ChannelRuntime{Policy: retry.Policy{MaxAttempts: 1}, Timeout: time.Second}, metrics)

	n := domain.NewNotification(domain.TypeSystemAlert, domain.PriorityHigh, domain.Content{Subject: "s"}, []domain.Recipient{{UserID: "u1"}}, []domain.Channel{domain.ChannelEmail})

	attempts, err := d.attempt(context.Background(), n, domain.Recipient{UserID: "u1"}, domain.ChannelEmail)

	assert.Nil(t, err)
	assert.Len(t, attempts, 1)
	assert.Equal(t, []string{"email"}, metrics.sent)
	assert.Empty(t, metrics.failed)
}

func TestDispatcher_Attempt_RecordsFailedMetric(t *testing.T) {
	deliveryErr := domain.NewDeliveryError(domain.ErrorKindUnexpected, "boom", nil)
	adapter := &fakeAdapter{channel: domain.ChannelEmail, result: domain.DeliveryResult{Success: false, Err: deliveryErr}}
	metrics := &fakeMetrics{}
	d := newTestDispatcher(adapter, ChannelRuntime{Policy: retry.Policy{MaxAttempts: 1}, Timeout: time.Second}, metrics)

	n := domain.NewNotification(domain.TypeSystemAlert, domain.PriorityHigh, domain.Content{Subject: "s"}, []domain.Recipient{{UserID: "u1"}}, []domain.Channel{domain.ChannelEmail})

	attempts, err := d.attempt(context.Background(), n, domain.Recipient{UserID: "u1"}, domain.ChannelEmail)

	assert.NotNil(t, err)
	assert.Len(t, attempts, 1)
	assert.Empty(t, metrics.sent)
	assert.Equal(t, []string{"email"}, metrics.failed)
}

func TestDispatcher_Attempt_RetryThenSuccess(t *testing.T) {
	adapter := &fakeAdapter{channel: domain.ChannelEmail, failuresBeforeSuccess: 2}
	metrics := &fakeMetrics{}
	rt := ChannelRuntime{
		Policy:  retry.Policy{MaxAttempts: 4, BaseDelay: time.Millisecond, Strategy: retry.StrategyFixed},
		Timeout: time.Second,
	}
	d := newTestDispatcher(adapter, rt, metrics)

	n := domain.NewNotification(domain.TypeSystemAlert, domain.PriorityHigh, domain.Content{Subject: "s"}, []domain.Recipient{{UserID: "u1"}}, []domain.Channel{domain.ChannelEmail})

	attempts, err := d.attempt(context.Background(), n, domain.Recipient{UserID: "u1"}, domain.ChannelEmail)

	assert.Nil(t, err)
	assert.Equal(t, 3, adapter.calls)
	assert.Len(t, attempts, 3, "every try must produce its own history record")
	for i, attempt := range attempts {
		assert.Equal(t, i+1, attempt.AttemptNumber, "attempt numbers must be contiguous from 1")
	}
	assert.Equal(t, domain.OutcomeFailure, attempts[0].Outcome)
	assert.Equal(t, domain.OutcomeFailure, attempts[1].Outcome)
	assert.Equal(t, domain.OutcomeSuccess, attempts[2].Outcome)
	assert.Nil(t, attempts[2].ErrorKind)
	assert.Equal(t, []string{"email"}, metrics.sent)
	assert.Empty(t, metrics.failed)
}
