package dispatcher

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestDeadLetterQueue_EvictsOldestBeyondCapacity(t *testing.T) {
	q := NewDeadLetterQueue(2)

	first := DeadLetterEntry{NotificationID: uuid.New(), FailedAt: time.Now()}
	second := DeadLetterEntry{NotificationID: uuid.New(), FailedAt: time.Now()}
	third := DeadLetterEntry{NotificationID: uuid.New(), FailedAt: time.Now()}

	q.Push(first)
	q.Push(second)
	q.Push(third)

	entries := q.Entries()
	assert.Len(t, entries, 2)
	assert.Equal(t, second.NotificationID, entries[0].NotificationID)
	assert.Equal(t, third.NotificationID, entries[1].NotificationID)
	assert.Equal(t, 2, q.Len())
}

func TestDeadLetterQueue_DefaultsCapacityWhenNonPositive(t *testing.T) {
	q := NewDeadLetterQueue(0)
	assert.Equal(t, DefaultDeadLetterCapacity, q.capacity)
}
