package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobTracking(t *testing.T) {
	c := NewCollector()

	c.StartJob("j1", "invoice-sync")
	c.RecordNode("j1", "a", "GoToURLNode", 20*time.Millisecond, true, false)
	c.RecordNode("j1", "b", "ClickElementNode", 10*time.Millisecond, true, false)
	c.EndJob("j1", true, "")

	s := c.GetSummary()
	assert.Equal(t, 1, s.TotalJobs)
	assert.Equal(t, 1, s.SuccessfulJobs)
	assert.Equal(t, 0, s.FailedJobs)
	assert.Equal(t, float64(100), s.SuccessRate)
	assert.Empty(t, s.CurrentJobs)
}

func TestFailedJobCountsError(t *testing.T) {
	c := NewCollector()

	c.StartJob("j1", "wf")
	c.EndJob("j1", false, "element not found")
	c.StartJob("j2", "wf")
	c.EndJob("j2", false, "element not found")
	c.StartJob("j3", "wf")
	c.EndJob("j3", false, "timeout")

	top := c.TopErrors(1)
	assert.Len(t, top, 1)
	assert.Equal(t, "element not found", top[0].Error)
	assert.Equal(t, 2, top[0].Count)
}

func TestEndJobUnknownIsNoop(t *testing.T) {
	c := NewCollector()
	c.EndJob("ghost", true, "")
	assert.Equal(t, 0, c.GetSummary().TotalJobs)
}

func TestNodeStats(t *testing.T) {
	c := NewCollector()
	c.StartJob("j1", "wf")

	c.RecordNode("j1", "a", "WaitNode", 100*time.Millisecond, true, false)
	c.RecordNode("j1", "b", "WaitNode", 300*time.Millisecond, false, true)

	stats := c.GetNodeStats()["WaitNode"]
	assert.Equal(t, 2, stats.TotalExecutions)
	assert.Equal(t, 1, stats.Successful)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Retries)
	assert.InDelta(t, 200, stats.AvgDurationMS, 1)
}

func TestSkippedNodes(t *testing.T) {
	c := NewCollector()
	c.StartJob("j1", "wf")
	c.RecordNodeSkipped("j1")
	c.RecordNodeSkipped("j1")
	c.EndJob("j1", true, "")

	recent := c.GetRecentJobs(1)
	assert.Len(t, recent, 1)
	assert.Equal(t, 2, recent[0].NodesSkipped)
}

func TestRestoreCounters(t *testing.T) {
	c := NewCollector()
	c.RestoreCounters(10, 8, 2, 5000)

	s := c.GetSummary()
	assert.Equal(t, 10, s.TotalJobs)
	assert.Equal(t, 8, s.SuccessfulJobs)
	assert.Equal(t, float64(80), s.SuccessRate)
}
