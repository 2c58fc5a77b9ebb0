package scheduler

import (
	"sync"
	"time"
)

// Entry is one schedule execution record
type Entry struct {
	ExecutionID  string    `json:"execution_id"`
	ScheduleID   string    `json:"schedule_id"`
	ScheduleName string    `json:"schedule_name"`
	WorkflowPath string    `json:"workflow_path"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at,omitempty"`
	Success      bool      `json:"success"`
	DurationMS   int64     `json:"duration_ms"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// HistoryStats summarizes the retained history
type HistoryStats struct {
	Total      int     `json:"total"`
	Successful int     `json:"successful"`
	Failed     int     `json:"failed"`
	SuccessRate float64 `json:"success_rate_percent"`
}

// History is the scheduler's bounded execution log. Two limits apply on
// every insert: a maximum entry count (newest kept) and a maximum age.
type History struct {
	mu         sync.Mutex
	entries    []Entry
	maxEntries int
	maxAge     time.Duration
}

// NewHistory creates a history with the given limits (defaults: 1000
// entries, 30 days).
func NewHistory(maxEntries int, maxAge time.Duration) *History {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	return &History{maxEntries: maxEntries, maxAge: maxAge}
}

// Add appends an entry and prunes by count and age
func (h *History) Add(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, e)

	cutoff := time.Now().UTC().Add(-h.maxAge)
	pruned := h.entries[:0]
	for _, entry := range h.entries {
		if entry.StartedAt.After(cutoff) {
			pruned = append(pruned, entry)
		}
	}
	h.entries = pruned

	if len(h.entries) > h.maxEntries {
		h.entries = h.entries[len(h.entries)-h.maxEntries:]
	}
}

// Query filters retained entries. scheduleID and success are optional
// (empty/nil match all); since bounds the start time.
func (h *History) Query(scheduleID string, success *bool, since time.Time) []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []Entry
	for _, e := range h.entries {
		if scheduleID != "" && e.ScheduleID != scheduleID {
			continue
		}
		if success != nil && e.Success != *success {
			continue
		}
		if !since.IsZero() && e.StartedAt.Before(since) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Recent returns up to limit newest entries, newest last
func (h *History) Recent(limit int) []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	if limit <= 0 || limit > len(h.entries) {
		limit = len(h.entries)
	}
	out := make([]Entry, limit)
	copy(out, h.entries[len(h.entries)-limit:])
	return out
}

// Stats summarizes everything currently retained
func (h *History) Stats() HistoryStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := HistoryStats{Total: len(h.entries)}
	for _, e := range h.entries {
		if e.Success {
			s.Successful++
		} else {
			s.Failed++
		}
	}
	if s.Total > 0 {
		s.SuccessRate = float64(s.Successful) / float64(s.Total) * 100
	}
	return s
}
