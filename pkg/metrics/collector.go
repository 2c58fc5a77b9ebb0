package metrics

import (
	"sort"
	"sync"
	"time"
)

// NodeStats aggregates executions per node type
type NodeStats struct {
	TotalExecutions int     `json:"total_executions"`
	Successful      int     `json:"successful"`
	Failed          int     `json:"failed"`
	Retries         int     `json:"retries"`
	TotalDurationMS int64   `json:"total_duration_ms"`
	AvgDurationMS   float64 `json:"average_duration_ms"`
}

// JobMetrics is one job's in-flight measurement record
type JobMetrics struct {
	JobID          string    `json:"job_id"`
	WorkflowName   string    `json:"workflow_name"`
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at,omitempty"`
	Success        bool      `json:"success"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	NodesExecuted  int       `json:"nodes_executed"`
	NodesSkipped   int       `json:"nodes_skipped"`
	NodesFailed    int       `json:"nodes_failed"`
	DurationMS     int64     `json:"duration_ms"`
}

// Summary is the aggregate view over all jobs this process has run
type Summary struct {
	TotalJobs       int     `json:"total_jobs"`
	SuccessfulJobs  int     `json:"successful_jobs"`
	FailedJobs      int     `json:"failed_jobs"`
	SuccessRate     float64 `json:"success_rate_percent"`
	AvgDurationMS   float64 `json:"average_duration_ms"`
	TotalDurationMS int64   `json:"total_duration_ms"`
	CurrentJobs     []string `json:"current_jobs,omitempty"`
}

// Collector tracks per-job and per-node execution measurements in memory
// and mirrors them into the prometheus registry. All methods are safe for
// concurrent use; several jobs may be tracked at once.
type Collector struct {
	mu sync.Mutex

	active      map[string]*JobMetrics
	recent      []*JobMetrics
	recentLimit int

	totalJobs       int
	successfulJobs  int
	failedJobs      int
	totalDurationMS int64

	nodeStats   map[string]*NodeStats
	errorCounts map[string]int
}

// NewCollector creates an empty collector
func NewCollector() *Collector {
	return &Collector{
		active:      make(map[string]*JobMetrics),
		nodeStats:   make(map[string]*NodeStats),
		errorCounts: make(map[string]int),
		recentLimit: 100,
	}
}

// StartJob begins tracking a job execution
func (c *Collector) StartJob(jobID, workflowName string) {
	c.mu.Lock()
	c.active[jobID] = &JobMetrics{
		JobID:        jobID,
		WorkflowName: workflowName,
		StartedAt:    time.Now().UTC(),
	}
	c.mu.Unlock()

	JobsRunning.Inc()
}

// EndJob finalizes a job's measurements
func (c *Collector) EndJob(jobID string, success bool, errMsg string) {
	c.mu.Lock()
	job, ok := c.active[jobID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.active, jobID)

	job.CompletedAt = time.Now().UTC()
	job.Success = success
	job.ErrorMessage = errMsg
	job.DurationMS = job.CompletedAt.Sub(job.StartedAt).Milliseconds()

	c.totalJobs++
	c.totalDurationMS += job.DurationMS
	if success {
		c.successfulJobs++
	} else {
		c.failedJobs++
		if errMsg != "" {
			c.errorCounts[errMsg]++
		}
	}

	c.recent = append(c.recent, job)
	if len(c.recent) > c.recentLimit {
		c.recent = c.recent[len(c.recent)-c.recentLimit:]
	}
	c.mu.Unlock()

	JobsRunning.Dec()
	JobDuration.Observe(float64(job.DurationMS) / 1000)
	if success {
		JobsTotal.WithLabelValues("completed").Inc()
	} else {
		JobsTotal.WithLabelValues("failed").Inc()
	}
}

// RecordNode records one node execution within a tracked job
func (c *Collector) RecordNode(jobID, nodeID, nodeType string, duration time.Duration, success bool, retried bool) {
	c.mu.Lock()
	stats, ok := c.nodeStats[nodeType]
	if !ok {
		stats = &NodeStats{}
		c.nodeStats[nodeType] = stats
	}
	stats.TotalExecutions++
	stats.TotalDurationMS += duration.Milliseconds()
	stats.AvgDurationMS = float64(stats.TotalDurationMS) / float64(stats.TotalExecutions)
	if success {
		stats.Successful++
	} else {
		stats.Failed++
	}
	if retried {
		stats.Retries++
	}

	if job, ok := c.active[jobID]; ok {
		job.NodesExecuted++
		if !success {
			job.NodesFailed++
		}
	}
	c.mu.Unlock()

	outcome := "success"
	if !success {
		outcome = "failure"
	}
	NodesExecuted.WithLabelValues(nodeType, outcome).Inc()
	NodeDuration.WithLabelValues(nodeType).Observe(duration.Seconds())
}

// RecordNodeSkipped records a node skipped during checkpoint resume
func (c *Collector) RecordNodeSkipped(jobID string) {
	c.mu.Lock()
	if job, ok := c.active[jobID]; ok {
		job.NodesSkipped++
	}
	c.mu.Unlock()

	NodesSkipped.Inc()
}

// GetSummary returns aggregate counters over all finished jobs
func (c *Collector) GetSummary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Summary{
		TotalJobs:       c.totalJobs,
		SuccessfulJobs:  c.successfulJobs,
		FailedJobs:      c.failedJobs,
		TotalDurationMS: c.totalDurationMS,
	}
	if c.totalJobs > 0 {
		s.SuccessRate = float64(c.successfulJobs) / float64(c.totalJobs) * 100
		s.AvgDurationMS = float64(c.totalDurationMS) / float64(c.totalJobs)
	}
	for id := range c.active {
		s.CurrentJobs = append(s.CurrentJobs, id)
	}
	sort.Strings(s.CurrentJobs)
	return s
}

// GetNodeStats returns per-node-type aggregates
func (c *Collector) GetNodeStats() map[string]NodeStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]NodeStats, len(c.nodeStats))
	for k, v := range c.nodeStats {
		out[k] = *v
	}
	return out
}

// GetRecentJobs returns up to limit most recently finished jobs
func (c *Collector) GetRecentJobs(limit int) []JobMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	if limit <= 0 || limit > len(c.recent) {
		limit = len(c.recent)
	}
	out := make([]JobMetrics, 0, limit)
	for _, j := range c.recent[len(c.recent)-limit:] {
		out = append(out, *j)
	}
	return out
}

// TopErrors returns the most frequent error messages, most common first
func (c *Collector) TopErrors(limit int) []ErrorCount {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]ErrorCount, 0, len(c.errorCounts))
	for msg, count := range c.errorCounts {
		out = append(out, ErrorCount{Error: msg, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Error < out[j].Error
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ErrorCount pairs an error message with its occurrence count
type ErrorCount struct {
	Error string `json:"error"`
	Count int    `json:"count"`
}

// RestoreCounters seeds aggregate counters from a persisted agent
// checkpoint so statistics survive restarts.
func (c *Collector) RestoreCounters(totalJobs, successful, failed int, totalDurationMS int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalJobs = totalJobs
	c.successfulJobs = successful
	c.failedJobs = failed
	c.totalDurationMS = totalDurationMS
}
