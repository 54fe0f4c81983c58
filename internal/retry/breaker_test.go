package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/insider-one/notification-engine/internal/domain"
)

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:             "test",
		FailureThreshold: 2,
		RecoveryTimeout:  50 * time.Millisecond,
		HalfOpenMaxCalls: 1,
	})

	failing := func(ctx context.Context) (domain.DeliveryResult, error) {
		return domain.DeliveryResult{}, errors.New("boom")
	}

	ctx := context.Background()
	_, _ = b.Execute(ctx, failing)
	_, _ = b.Execute(ctx, failing)

	assert.Equal(t, "open", b.State())

	result, err := b.Execute(ctx, func(ctx context.Context) (domain.DeliveryResult, error) {
		return domain.DeliveryResult{Success: true}, nil
	})

	assert.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, domain.ErrorKindCircuitOpen, result.Err.Kind)
}

func TestBreaker_CountsRejectedCalls(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		RecoveryTimeout:  time.Second,
		HalfOpenMaxCalls: 1,
	})

	ctx := context.Background()
	_, _ = b.Execute(ctx, func(ctx context.Context) (domain.DeliveryResult, error) {
		return domain.DeliveryResult{}, errors.New("boom")
	})
	assert.Equal(t, "open", b.State())
	assert.Equal(t, int64(0), b.Rejected())

	for i := 0; i < 3; i++ {
		_, _ = b.Execute(ctx, func(ctx context.Context) (domain.DeliveryResult, error) {
			return domain.DeliveryResult{Success: true}, nil
		})
	}

	assert.Equal(t, int64(3), b.Rejected())
}

func TestBreaker_ClosedOnSuccess(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", FailureThreshold: 3, RecoveryTimeout: time.Second, HalfOpenMaxCalls: 1})

	result, err := b.Execute(context.Background(), func(ctx context.Context) (domain.DeliveryResult, error) {
		return domain.DeliveryResult{Success: true, ProviderRef: "ref-1"}, nil
	})

	assert.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "closed", b.State())
}

func TestBreaker_RecoversAfterTimeout(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Millisecond,
		HalfOpenMaxCalls: 1,
	})

	ctx := context.Background()
	_, _ = b.Execute(ctx, func(ctx context.Context) (domain.DeliveryResult, error) {
		return domain.DeliveryResult{}, errors.New("boom")
	})
	assert.Equal(t, "open", b.State())

	time.Sleep(20 * time.Millisecond)

	result, err := b.Execute(ctx, func(ctx context.Context) (domain.DeliveryResult, error) {
		return domain.DeliveryResult{Success: true}, nil
	})

	assert.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "closed", b.State())
}
