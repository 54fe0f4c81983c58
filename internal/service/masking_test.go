package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/insider-one/notification-engine/internal/domain"
)

func TestMaskingEngine_MaskString(t *testing.T) {
	t.Run("partial strategy keeps first and last two characters", func(t *testing.T) {
		m := NewMaskingEngine(domain.MaskPartial)
		masked := m.Mask("contact jane.doe@example.com about it")
		assert.Contains(t, masked, "ja")
		assert.NotContains(t, masked, "jane.doe@example.com")
	})

	t.Run("redact strategy replaces the whole match", func(t *testing.T) {
		m := NewMaskingEngine(domain.MaskRedact)
		masked := m.Mask("card 4111-1111-1111-1111 charged")
		assert.Contains(t, masked, "[REDACTED]")
		assert.NotContains(t, masked, "4111-1111-1111-1111")
	})

	t.Run("hash strategy is deterministic for the same input", func(t *testing.T) {
		m := NewMaskingEngine(domain.MaskHash)
		a := m.Mask("reach me at 555-123-4567")
		b := m.Mask("reach me at 555-123-4567")
		assert.Equal(t, a, b)
		assert.Contains(t, a, "[HASH:")
	})

	t.Run("preserve_format keeps the last four digits of a card number", func(t *testing.T) {
		m := NewMaskingEngine(domain.MaskPreserveFormat)
		masked := m.Mask("4111111111111111")
		assert.True(t, len(masked.(string)) > 0)
		assert.Contains(t, masked, "1111")
	})

	t.Run("empty strategy defaults to partial", func(t *testing.T) {
		m := NewMaskingEngine("")
		assert.Equal(t, domain.MaskPartial, m.strategy)
	})
}

func TestMaskingEngine_MaskMap(t *testing.T) {
	m := NewMaskingEngine(domain.MaskRedact)

	masked := m.Mask(map[string]any{
		"password": "hunter2-long-enough",
		"username": "jane",
	}).(map[string]any)

	assert.Equal(t, "[REDACTED]", masked["password"])
	assert.Equal(t, "jane", masked["username"])
}

func TestMaskingEngine_RedactsSensitiveKeysInNestedMaps(t *testing.T) {
	m := NewMaskingEngine(domain.MaskPartial)

	masked := m.Mask(map[string]any{
		"context": map[string]any{
			"api_key": "sk_live_abcd1234efgh5678",
			"trace":   "ok",
		},
	}).(map[string]any)

	nested := masked["context"].(map[string]any)
	assert.Equal(t, "[REDACTED]", nested["api_key"], "key-based redaction takes precedence over pattern strategy")
	assert.Equal(t, "ok", nested["trace"])
}
