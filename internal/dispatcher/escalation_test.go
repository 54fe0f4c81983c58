package dispatcher

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestEscalationQueue_ScheduleRespectsMaxEscalations(t *testing.T) {
	q := NewEscalationQueue(10)
	notificationID := uuid.New()

	job := func() EscalationJob {
		return EscalationJob{ID: uuid.New(), NotificationID: notificationID, RunAt: time.Now()}
	}

	assert.True(t, q.Schedule(job(), 2))
	assert.True(t, q.Schedule(job(), 2))
	assert.False(t, q.Schedule(job(), 2), "third escalation should be blocked by max_escalations")
	assert.Equal(t, 2, q.Len())
}

func TestEscalationQueue_Due(t *testing.T) {
	q := NewEscalationQueue(10)
	now := time.Now()

	due := EscalationJob{ID: uuid.New(), NotificationID: uuid.New(), RunAt: now.Add(-time.Minute)}
	notYetDue := EscalationJob{ID: uuid.New(), NotificationID: uuid.New(), RunAt: now.Add(time.Hour)}

	q.Schedule(due, 0)
	q.Schedule(notYetDue, 0)

	popped := q.Due(now)

	assert.Len(t, popped, 1)
	assert.Equal(t, due.ID, popped[0].ID)
	assert.Equal(t, 1, q.Len(), "only the not-yet-due job should remain queued")

	assert.Empty(t, q.Due(now), "a due job already popped must not be returned again")
}

func TestEscalationQueue_EvictsOldestBeyondCapacity(t *testing.T) {
	q := NewEscalationQueue(2)

	first := EscalationJob{ID: uuid.New(), NotificationID: uuid.New(), RunAt: time.Now()}
	second := EscalationJob{ID: uuid.New(), NotificationID: uuid.New(), RunAt: time.Now()}
	third := EscalationJob{ID: uuid.New(), NotificationID: uuid.New(), RunAt: time.Now()}

	q.Schedule(first, 0)
	q.Schedule(second, 0)
	q.Schedule(third, 0)

	assert.Equal(t, 2, q.Len())
	due := q.Due(time.Now().Add(time.Hour))
	ids := []uuid.UUID{due[0].ID, due[1].ID}
	assert.NotContains(t, ids, first.ID, "oldest job should have been evicted")
}
