package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/insider-one/notification-engine/internal/domain"
)

func TestDaemon_RetryDelay(t *testing.T) {
	d := &Daemon{cfg: DefaultConfig()}

	n := &domain.Notification{RetryMeta: domain.RetryMetadata{BackoffMultiplier: 2.0}}

	t.Run("first retry starts at the base delay", func(t *testing.T) {
		n.RetryMeta.CurrentAttempt = 0
		assert.Equal(t, 30*time.Second, d.retryDelay(n))
	})

	t.Run("delay grows with the record's backoff multiplier", func(t *testing.T) {
		n.RetryMeta.CurrentAttempt = 1
		assert.Equal(t, 60*time.Second, d.retryDelay(n))

		n.RetryMeta.CurrentAttempt = 2
		assert.Equal(t, 120*time.Second, d.retryDelay(n))
	})

	t.Run("delay is capped at ten minutes", func(t *testing.T) {
		n.RetryMeta.CurrentAttempt = 9
		assert.Equal(t, 10*time.Minute, d.retryDelay(n))
	})

	t.Run("a multiplier below one falls back to doubling", func(t *testing.T) {
		m := &domain.Notification{RetryMeta: domain.RetryMetadata{BackoffMultiplier: 0, CurrentAttempt: 1}}
		assert.Equal(t, 60*time.Second, d.retryDelay(m))
	})
}

func TestDaemon_PollDelay(t *testing.T) {
	d := &Daemon{cfg: DefaultConfig()}

	assert.Equal(t, d.cfg.PollingInterval, d.pollDelay())

	d.consecutiveBatchFailures = 2
	assert.Equal(t, d.cfg.PollingInterval, d.pollDelay())

	d.consecutiveBatchFailures = 3
	assert.Equal(t, 2*d.cfg.PollingInterval, d.pollDelay(), "repeated batch failures should double the poll interval")
}

func TestDaemon_StateStartsStopped(t *testing.T) {
	d := NewDaemon(DefaultConfig(), nil, nil, nil, nil, nil, nil, nil, nil, nil)
	assert.Equal(t, StateStopped, d.State())
}
