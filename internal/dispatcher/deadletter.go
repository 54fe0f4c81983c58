package dispatcher

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/insider-one/notification-engine/internal/domain"
)

// DefaultDeadLetterCapacity bounds the in-memory dead-letter queue; beyond
// this the oldest entry is evicted to make room for the newest.
const DefaultDeadLetterCapacity = 1000

// DeadLetterEntry captures full context for a notification that exhausted
// every primary and fallback channel for one recipient.
type DeadLetterEntry struct {
	NotificationID uuid.UUID
	RecipientID    string
	ChannelErrors  map[domain.Channel]*domain.DeliveryError
	FailedAt       time.Time
}

// DeadLetterQueue is a bounded, oldest-evicted ring of failed deliveries.
type DeadLetterQueue struct {
	mu       sync.Mutex
	entries  []DeadLetterEntry
	capacity int
}

func NewDeadLetterQueue(capacity int) *DeadLetterQueue {
	if capacity <= 0 {
		capacity = DefaultDeadLetterCapacity
	}
	return &DeadLetterQueue{capacity: capacity}
}

func (q *DeadLetterQueue) Push(entry DeadLetterEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.capacity {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, entry)
}

func (q *DeadLetterQueue) Entries() []DeadLetterEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetterEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

func (q *DeadLetterQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
