package scheduler

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func entryAt(scheduleID string, startedAt time.Time, success bool) Entry {
	return Entry{
		ExecutionID: fmt.Sprintf("e-%d", startedAt.UnixNano()),
		ScheduleID:  scheduleID,
		StartedAt:   startedAt,
		Success:     success,
	}
}

func TestCountLimit(t *testing.T) {
	h := NewHistory(3, time.Hour)
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		h.Add(entryAt("s1", now.Add(time.Duration(i)*time.Second), true))
	}

	entries := h.Recent(0)
	assert.Len(t, entries, 3)
	// Newest three survive
	assert.Equal(t, now.Add(4*time.Second), entries[2].StartedAt)
	assert.Equal(t, now.Add(2*time.Second), entries[0].StartedAt)
}

func TestAgeLimit(t *testing.T) {
	h := NewHistory(100, time.Hour)
	now := time.Now().UTC()

	h.Add(entryAt("s1", now.Add(-2*time.Hour), true))
	h.Add(entryAt("s1", now.Add(-30*time.Minute), true))
	h.Add(entryAt("s1", now, true))

	assert.Len(t, h.Recent(0), 2, "entries older than the age limit are pruned on insert")
}

func TestQueryFilters(t *testing.T) {
	h := NewHistory(100, time.Hour)
	now := time.Now().UTC()

	h.Add(entryAt("s1", now.Add(-10*time.Minute), true))
	h.Add(entryAt("s1", now.Add(-5*time.Minute), false))
	h.Add(entryAt("s2", now.Add(-1*time.Minute), true))

	assert.Len(t, h.Query("s1", nil, time.Time{}), 2)

	failed := false
	byOutcome := h.Query("", &failed, time.Time{})
	assert.Len(t, byOutcome, 1)
	assert.Equal(t, "s1", byOutcome[0].ScheduleID)

	since := h.Query("", nil, now.Add(-3*time.Minute))
	assert.Len(t, since, 1)
	assert.Equal(t, "s2", since[0].ScheduleID)
}

func TestStats(t *testing.T) {
	h := NewHistory(100, time.Hour)
	now := time.Now().UTC()

	h.Add(entryAt("s1", now, true))
	h.Add(entryAt("s1", now, true))
	h.Add(entryAt("s1", now, false))

	s := h.Stats()
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Successful)
	assert.Equal(t, 1, s.Failed)
	assert.InDelta(t, 66.7, s.SuccessRate, 0.1)
}
