package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_Delay(t *testing.T) {
	t.Run("fixed delay strategy never grows", func(t *testing.T) {
		p := Policy{BaseDelay: time.Second, Strategy: StrategyFixed}
		assert.Equal(t, time.Second, p.Delay(1))
		assert.Equal(t, time.Second, p.Delay(5))
	})

	t.Run("linear backoff scales with attempt", func(t *testing.T) {
		p := Policy{BaseDelay: time.Second, Strategy: StrategyLinear}
		assert.Equal(t, 3*time.Second, p.Delay(3))
	})

	t.Run("exponential backoff doubles by default", func(t *testing.T) {
		p := Policy{BaseDelay: time.Second, Strategy: StrategyExponential, BackoffMultiplier: 2.0}
		assert.Equal(t, time.Second, p.Delay(1))
		assert.Equal(t, 2*time.Second, p.Delay(2))
		assert.Equal(t, 4*time.Second, p.Delay(3))
	})

	t.Run("delay is capped at MaxDelay", func(t *testing.T) {
		p := Policy{BaseDelay: time.Second, MaxDelay: 3 * time.Second, Strategy: StrategyExponential, BackoffMultiplier: 2.0}
		assert.Equal(t, 3*time.Second, p.Delay(10))
	})

	t.Run("attempt zero has no delay", func(t *testing.T) {
		p := Default
		assert.Equal(t, time.Duration(0), p.Delay(0))
	})

	t.Run("jitter keeps delay within bounds and above the floor", func(t *testing.T) {
		p := Policy{BaseDelay: 10 * time.Second, Strategy: StrategyFixed, Jitter: true, JitterFraction: 0.2}
		for i := 0; i < 20; i++ {
			d := p.Delay(1)
			assert.GreaterOrEqual(t, d, 100*time.Millisecond)
			assert.LessOrEqual(t, d, 12*time.Second)
		}
	})
}

func TestPolicy_CanRetry(t *testing.T) {
	p := Policy{MaxAttempts: 3}

	assert.True(t, p.CanRetry(1, true))
	assert.False(t, p.CanRetry(1, false))
	assert.False(t, p.CanRetry(3, true))
}

func TestForChannel(t *testing.T) {
	assert.Equal(t, Email, ForChannel("email"))
	assert.Equal(t, Webhook, ForChannel("webhook"))
	assert.Equal(t, Default, ForChannel("in_app"))
	assert.Equal(t, Default, ForChannel("unknown"))
}
