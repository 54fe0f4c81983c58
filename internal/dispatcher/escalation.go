package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/insider-one/notification-engine/internal/domain"
)

// DefaultEscalationCapacity bounds the in-memory escalation queue the same
// way the dead-letter queue is bounded: oldest pending job evicted to make
// room for the newest.
const DefaultEscalationCapacity = 1000

// EscalationJob is a deferred re-delivery scheduled after a recipient's
// normal channels are exhausted, targeting an escalation rule's
// extra_channels and extra_recipient_ids once delay_minutes has elapsed.
type EscalationJob struct {
	ID              uuid.UUID
	NotificationID  uuid.UUID
	Recipient       domain.Recipient
	RuleName        string
	ExtraChannels   []domain.Channel
	ExtraRecipients []string
	RunAt           time.Time
	Executed        bool
}

// EscalationQueue holds pending escalation jobs and tracks, per notification,
// how many escalations have already been scheduled so max_escalations is
// enforced across repeated failures.
type EscalationQueue struct {
	mu       sync.Mutex
	jobs     []EscalationJob
	capacity int
	counts   map[uuid.UUID]int
}

func NewEscalationQueue(capacity int) *EscalationQueue {
	if capacity <= 0 {
		capacity = DefaultEscalationCapacity
	}
	return &EscalationQueue{capacity: capacity, counts: make(map[uuid.UUID]int)}
}

// Schedule enqueues a job if the notification hasn't already reached
// maxEscalations, returning false when the cap blocks it.
func (q *EscalationQueue) Schedule(job EscalationJob, maxEscalations int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if maxEscalations > 0 && q.counts[job.NotificationID] >= maxEscalations {
		return false
	}

	if len(q.jobs) >= q.capacity {
		q.jobs = q.jobs[1:]
	}
	q.jobs = append(q.jobs, job)
	q.counts[job.NotificationID]++
	return true
}

// Due pops and returns every unexecuted job scheduled at or before now.
func (q *EscalationQueue) Due(now time.Time) []EscalationJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []EscalationJob
	remaining := q.jobs[:0]
	for _, j := range q.jobs {
		if !j.Executed && !j.RunAt.After(now) {
			due = append(due, j)
			j.Executed = true
		}
		if !j.Executed {
			remaining = append(remaining, j)
		}
	}
	q.jobs = remaining
	return due
}

func (q *EscalationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// scheduleEscalation enqueues a deferred escalation job for a recipient whose
// normal channels were all exhausted, per the matching escalation rule
//. It is independent of the in-dispatch retry/fallback path: the job
// runs later, via RunEscalation, not inside this call.
func (d *Dispatcher) scheduleEscalation(n *domain.Notification, recipient domain.Recipient, prefs *domain.Preferences, now time.Time) {
	if d.escalations == nil {
		return
	}
	if prefs == nil {
		return
	}
	rule, ok := prefs.ShouldEscalate(n.Type, n.Priority)
	if !ok || (len(rule.ExtraChannels) == 0 && len(rule.ExtraRecipientIDs) == 0) {
		return
	}

	delay := time.Duration(rule.DelayMinutes) * time.Minute
	if delay <= 0 {
		delay = time.Minute
	}

	job := EscalationJob{
		ID:              uuid.New(),
		NotificationID:  n.ID,
		Recipient:       recipient,
		RuleName:        rule.Name,
		ExtraChannels:   rule.ExtraChannels,
		ExtraRecipients: rule.ExtraRecipientIDs,
		RunAt:           now.Add(delay),
	}

	if !d.escalations.Schedule(job, rule.MaxEscalations) {
		d.logger.Info("escalation cap reached, not scheduling further escalations",
			"notification_id", n.ID, "rule", rule.Name)
	}
}

// RunEscalation delivers one due escalation job to extra_channels ∪
// extra_recipients, reusing the same per-channel retry+breaker runtimes as
// normal delivery. It never re-enqueues another escalation; max_escalations
// bounds the count of jobs scheduled, not a recursive chain.
func (d *Dispatcher) RunEscalation(ctx context.Context, n *domain.Notification, job EscalationJob) []RecipientOutcome {
	targets := make([]domain.Recipient, 0, 1+len(job.ExtraRecipients))
	targets = append(targets, job.Recipient)
	for _, id := range job.ExtraRecipients {
		targets = append(targets, domain.Recipient{UserID: id})
	}

	outcomes := make([]RecipientOutcome, 0, len(targets))
	for _, recipient := range targets {
		outcome := RecipientOutcome{
			Recipient:     recipient,
			ChannelErrors: make(map[domain.Channel]*domain.DeliveryError),
		}
		for _, c := range job.ExtraChannels {
			if _, ok := d.registry.Get(c); !ok || !d.registry.IsHealthy(c) {
				continue
			}
			attempts, err := d.attempt(ctx, n, recipient, c)
			outcome.Attempts = append(outcome.Attempts, attempts...)
			if err == nil {
				outcome.Success = true
				break
			}
			outcome.ChannelErrors[c] = err
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}
