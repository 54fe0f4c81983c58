package service

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/insider-one/notification-engine/internal/domain"
)

var sensitivePatterns = map[string]*regexp.Regexp{
	"email":          regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	"phone":          regexp.MustCompile(`\b\d{3}-?\d{3}-?\d{4}\b`),
	"ssn":            regexp.MustCompile(`\b\d{3}-?\d{2}-?\d{4}\b`),
	"credit_card":    regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`),
	"ip_address":     regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`),
	"api_key":        regexp.MustCompile(`(?i)(api[_-]?key|token|secret)["']?\s*[:=]\s*["']?([a-zA-Z0-9_-]{20,})["']?`),
	"password":       regexp.MustCompile(`(?i)(password|pwd)["']?\s*[:=]\s*["']?([^\s"']{8,})["']?`),
	"webhook_secret": regexp.MustCompile(`(?i)(webhook[_-]?secret|secret)["']?\s*[:=]\s*["']?([a-zA-Z0-9_-]{16,})["']?`),
}

// sensitivePatternOrder fixes iteration order so masking is deterministic
// across runs (Go map iteration is randomized).
var sensitivePatternOrder = []string{"email", "phone", "ssn", "credit_card", "ip_address", "api_key", "password", "webhook_secret"}

var sensitiveKeys = map[string]bool{
	"password": true, "api_key": true, "secret": true, "token": true,
	"webhook_secret": true, "auth_token": true, "private_key": true,
	"ssn": true, "credit_card": true, "phone": true, "email": true,
	"personal_info": true,
}

// MaskingEngine redacts PII and credentials from audit payloads before
// they're persisted, per the strategies named in domain.MaskingStrategy.
type MaskingEngine struct {
	strategy domain.MaskingStrategy
}

func NewMaskingEngine(strategy domain.MaskingStrategy) *MaskingEngine {
	if strategy == "" {
		strategy = domain.MaskPartial
	}
	return &MaskingEngine{strategy: strategy}
}

// Mask recursively masks strings, map keys/values, and slice elements.
func (m *MaskingEngine) Mask(data any) any {
	switch v := data.(type) {
	case string:
		return m.maskString(v)
	case map[string]any:
		return m.maskMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = m.Mask(item)
		}
		return out
	default:
		return data
	}
}

func (m *MaskingEngine) maskMap(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if isSensitiveKey(k) {
			if s, ok := v.(string); ok && s != "" {
				out[k] = "[REDACTED]"
				continue
			}
		}
		out[k] = m.Mask(v)
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for sensitive := range sensitiveKeys {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}

func (m *MaskingEngine) maskString(text string) string {
	masked := text
	for _, name := range sensitivePatternOrder {
		pattern := sensitivePatterns[name]
		masked = pattern.ReplaceAllStringFunc(masked, func(match string) string {
			return m.applyStrategy(match, name)
		})
	}
	return masked
}

func (m *MaskingEngine) applyStrategy(value, patternName string) string {
	switch m.strategy {
	case domain.MaskHash:
		return hashMask(value)
	case domain.MaskRedact:
		return "[REDACTED]"
	case domain.MaskPreserveFormat:
		return preserveFormatMask(value, patternName)
	default:
		return partialMask(value)
	}
}

func partialMask(value string) string {
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	return value[:2] + strings.Repeat("*", len(value)-4) + value[len(value)-2:]
}

func hashMask(value string) string {
	sum := sha256.Sum256([]byte(value))
	return "[HASH:" + hex.EncodeToString(sum[:])[:16] + "]"
}

var digitRe = regexp.MustCompile(`\d`)

func preserveFormatMask(value, patternName string) string {
	switch patternName {
	case "phone":
		return digitRe.ReplaceAllString(value, "*")
	case "credit_card":
		if len(value) <= 4 {
			return digitRe.ReplaceAllString(value, "*")
		}
		head := digitRe.ReplaceAllString(value[:len(value)-4], "*")
		return head + value[len(value)-4:]
	default:
		return partialMask(value)
	}
}
