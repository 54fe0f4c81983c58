// Package preference evaluates a recipient's notification preferences
// against an incoming notification to decide which channels, if any,
// should be attempted.
package preference

import (
	"context"
	"sort"
	"time"

	"github.com/insider-one/notification-engine/internal/domain"
)

// RateLimiter checks and records per-user per-channel hourly send counts.
type RateLimiter interface {
	// Allow reports whether one more send to (userID, channel) fits within
	// the configured hourly limit and, if so, records that send.
	Allow(ctx context.Context, userID string, channel domain.Channel, limitPerHour int) (bool, error)
}

// Evaluator implements the channel-selection algorithm.
type Evaluator struct {
	rateLimiter RateLimiter
}

func NewEvaluator(rateLimiter RateLimiter) *Evaluator {
	return &Evaluator{rateLimiter: rateLimiter}
}

// Evaluate returns the ordered list of channels to attempt for one
// recipient, or an empty slice if nothing should be sent.
func (e *Evaluator) Evaluate(ctx context.Context, n *domain.Notification, prefs *domain.Preferences, now time.Time) []domain.Channel {
	if prefs == nil {
		prefs = domain.DefaultPreferences("")
	}

	// Step 1
	if !prefs.GlobalEnabled {
		return nil
	}

	// Step 2
	typePref, hasTypePref := prefs.TypePref(n.Type)
	if hasTypePref && !typePref.Enabled {
		return nil
	}

	// Step 3
	channels := append([]domain.Channel(nil), n.Channels...)
	if hasTypePref && len(typePref.Channels) > 0 {
		channels = intersect(channels, typePref.Channels)
	}

	// Step 4
	channels = filterDisabled(channels, prefs)

	// Step 5
	channels = orderByPriority(channels, prefs)

	// Step 6
	if len(channels) == 0 {
		channels = filterDisabled(append([]domain.Channel(nil), prefs.DefaultChannels...), prefs)
	}
	if len(channels) == 0 {
		return nil
	}

	// Step 7
	if e.isSuppressedByQuietHours(n, prefs, now) {
		return nil
	}

	// Step 8
	channels = e.filterRateLimited(ctx, prefs.UserID, channels, prefs)

	return channels
}

func intersect(channels, allow []domain.Channel) []domain.Channel {
	allowed := make(map[domain.Channel]bool, len(allow))
	for _, c := range allow {
		allowed[c] = true
	}
	out := make([]domain.Channel, 0, len(channels))
	for _, c := range channels {
		if allowed[c] {
			out = append(out, c)
		}
	}
	return out
}

func filterDisabled(channels []domain.Channel, prefs *domain.Preferences) []domain.Channel {
	out := make([]domain.Channel, 0, len(channels))
	for _, c := range channels {
		if cp, ok := prefs.ChannelPref(c); ok && !cp.Enabled {
			continue
		}
		out = append(out, c)
	}
	return out
}

// orderByPriority sorts ascending by explicit per-channel priority (1 first);
// channels without an explicit priority keep their relative notification
// order and sort after every channel that has one.
func orderByPriority(channels []domain.Channel, prefs *domain.Preferences) []domain.Channel {
	type ranked struct {
		channel  domain.Channel
		priority int
		hasPrio  bool
		orig     int
	}
	ranks := make([]ranked, len(channels))
	for i, c := range channels {
		r := ranked{channel: c, orig: i}
		if cp, ok := prefs.ChannelPref(c); ok && cp.Priority > 0 {
			r.priority = cp.Priority
			r.hasPrio = true
		}
		ranks[i] = r
	}

	sort.SliceStable(ranks, func(i, j int) bool {
		a, b := ranks[i], ranks[j]
		if a.hasPrio && b.hasPrio {
			return a.priority < b.priority
		}
		if a.hasPrio != b.hasPrio {
			return a.hasPrio // explicit priorities sort before implicit ones
		}
		return a.orig < b.orig
	})

	out := make([]domain.Channel, len(ranks))
	for i, r := range ranks {
		out[i] = r.channel
	}
	return out
}

func (e *Evaluator) isSuppressedByQuietHours(n *domain.Notification, prefs *domain.Preferences, now time.Time) bool {
	if !prefs.QuietHours.IsQuietAt(now) {
		return false
	}

	for _, exempt := range prefs.QuietHours.ExemptTypes {
		if exempt == n.Type {
			return false
		}
	}

	if prefs.QuietHours.EmergencyOverride && (n.Priority == domain.PriorityUrgent || n.Priority == domain.PriorityCritical) {
		return false
	}

	return true
}

// filterRateLimited drops channels whose hourly budget for this recipient is
// already spent. Evaluate runs once per recipient, so only the preference
// owner's counter is consulted and charged.
func (e *Evaluator) filterRateLimited(ctx context.Context, userID string, channels []domain.Channel, prefs *domain.Preferences) []domain.Channel {
	if e.rateLimiter == nil {
		return channels
	}

	out := make([]domain.Channel, 0, len(channels))
	for _, c := range channels {
		cp, ok := prefs.ChannelPref(c)
		if !ok || cp.RateLimitPerHour <= 0 {
			out = append(out, c)
			continue
		}

		allowed, err := e.rateLimiter.Allow(ctx, userID, c, cp.RateLimitPerHour)
		if err != nil || allowed {
			out = append(out, c)
		}
	}
	return out
}
