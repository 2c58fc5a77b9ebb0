package progress

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/casare-rpa/robot/pkg/backend"
	"github.com/casare-rpa/robot/pkg/connection"
	"github.com/casare-rpa/robot/pkg/log"
	"github.com/rs/zerolog"
)

// Stage is one phase of a job's reported lifecycle
type Stage string

const (
	StageQueued          Stage = "queued"
	StageStarting        Stage = "starting"
	StageLoadingWorkflow Stage = "loading_workflow"
	StageExecuting       Stage = "executing"
	StageCompleting      Stage = "completing"
	StageCompleted       Stage = "completed"
	StageFailed          Stage = "failed"
	StageCancelled       Stage = "cancelled"
)

// Update is one coalesced progress payload
type Update map[string]any

// Listener observes local progress updates synchronously
type Listener func(Update)

// Reporter coalesces progress updates into at most one backend write per
// flush interval. Terminal events (EndJob, ReportCancelled) bypass
// batching and flush immediately. Backend writes go through the
// connection manager WITHOUT retry — a failed progress update never fails
// the job it describes.
//
// One reporter tracks one job execution; the executor creates one per
// slot run.
type Reporter struct {
	robotID  string
	conn     *connection.Manager
	interval time.Duration
	logger   zerolog.Logger

	mu             sync.Mutex
	jobID          string
	stage          Stage
	totalNodes     int
	completedNodes int
	currentNode    string
	startedAt      time.Time
	pending        Update
	timer          *time.Timer
	listeners      map[int]Listener
	nextListener   int
}

// NewReporter creates a reporter flushing at the given interval
// (default 1s).
func NewReporter(robotID string, conn *connection.Manager, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = time.Second
	}
	return &Reporter{
		robotID:   robotID,
		conn:      conn,
		interval:  interval,
		logger:    log.WithComponent("progress"),
		listeners: make(map[int]Listener),
	}
}

// AddListener registers a local observer; the returned function removes it
func (r *Reporter) AddListener(l Listener) func() {
	r.mu.Lock()
	id := r.nextListener
	r.nextListener++
	r.listeners[id] = l
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// StartJob begins progress tracking for a job
func (r *Reporter) StartJob(jobID, workflowName string, totalNodes int) {
	r.mu.Lock()
	r.jobID = jobID
	r.stage = StageStarting
	r.totalNodes = totalNodes
	r.completedNodes = 0
	r.currentNode = ""
	r.startedAt = time.Now().UTC()
	r.mu.Unlock()

	r.send(Update{
		"stage":            string(StageStarting),
		"workflow_name":    workflowName,
		"total_nodes":      totalNodes,
		"completed_nodes":  0,
		"percent_complete": 0.0,
		"started_at":       r.startedAt.Format(time.RFC3339Nano),
	}, false)
}

// UpdateStage reports a stage transition
func (r *Reporter) UpdateStage(stage Stage, message string) {
	r.mu.Lock()
	r.stage = stage
	r.mu.Unlock()

	update := Update{"stage": string(stage)}
	if message != "" {
		update["message"] = message
	}
	r.send(update, false)
}

// ReportNodeStart reports a node beginning execution
func (r *Reporter) ReportNodeStart(nodeID, nodeType, nodeName string) {
	r.mu.Lock()
	r.currentNode = nodeID
	r.mu.Unlock()

	if nodeName == "" {
		nodeName = nodeType
	}
	r.send(Update{
		"stage":             string(StageExecuting),
		"current_node_id":   nodeID,
		"current_node_type": nodeType,
		"current_node_name": nodeName,
	}, false)
}

// ReportNodeComplete reports a node outcome and advances the percentage
func (r *Reporter) ReportNodeComplete(nodeID string, success bool, duration time.Duration, errMsg string) {
	r.mu.Lock()
	if success {
		r.completedNodes++
	}
	percent := r.percentLocked()
	completed := r.completedNodes
	r.mu.Unlock()

	update := Update{
		"completed_nodes":       completed,
		"percent_complete":      percent,
		"last_node_id":          nodeID,
		"last_node_success":     success,
		"last_node_duration_ms": duration.Milliseconds(),
	}
	if errMsg != "" {
		update["last_node_error"] = truncate(errMsg, 500)
	}
	r.send(update, false)
}

// EndJob reports the terminal outcome; flushes immediately
func (r *Reporter) EndJob(success bool, errMsg string) {
	r.mu.Lock()
	if r.jobID == "" {
		r.mu.Unlock()
		return
	}
	completedAt := time.Now().UTC()
	durationMS := completedAt.Sub(r.startedAt).Milliseconds()
	percent := r.percentLocked()
	r.mu.Unlock()

	stage := StageCompleted
	if !success {
		stage = StageFailed
	}
	if success {
		percent = 100
	}

	update := Update{
		"stage":            string(stage),
		"completed_at":     completedAt.Format(time.RFC3339Nano),
		"duration_ms":      durationMS,
		"success":          success,
		"percent_complete": percent,
	}
	if errMsg != "" {
		update["error_message"] = truncate(errMsg, 1000)
	}
	r.send(update, true)

	r.mu.Lock()
	r.jobID = ""
	r.stage = ""
	r.mu.Unlock()
}

// ReportCancelled reports cancellation; flushes immediately
func (r *Reporter) ReportCancelled(reason string) {
	update := Update{
		"stage":         string(StageCancelled),
		"cancelled_at":  time.Now().UTC().Format(time.RFC3339Nano),
		"cancel_reason": reason,
	}
	r.send(update, true)

	r.mu.Lock()
	r.jobID = ""
	r.stage = ""
	r.mu.Unlock()
}

// Percent returns the current completion percentage
func (r *Reporter) Percent() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.percentLocked()
}

func (r *Reporter) percentLocked() float64 {
	if r.totalNodes == 0 {
		return 0
	}
	return float64(int(float64(r.completedNodes)/float64(r.totalNodes)*1000)) / 10
}

// send merges the update into the pending map and schedules a flush, or
// flushes immediately for terminal events.
func (r *Reporter) send(update Update, force bool) {
	r.mu.Lock()
	jobID := r.jobID
	if jobID == "" {
		r.mu.Unlock()
		return
	}

	update["robot_id"] = r.robotID
	update["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	listeners := make([]Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		listeners = append(listeners, l)
	}

	if force {
		// Fold any pending fields under the terminal update
		merged := r.pending
		if merged == nil {
			merged = Update{}
		}
		for k, v := range update {
			merged[k] = v
		}
		r.pending = nil
		if r.timer != nil {
			r.timer.Stop()
			r.timer = nil
		}
		r.mu.Unlock()

		for _, l := range listeners {
			l(update)
		}
		r.push(jobID, merged)
		return
	}

	if r.pending == nil {
		r.pending = Update{}
	}
	for k, v := range update {
		r.pending[k] = v
	}
	if r.timer == nil {
		r.timer = time.AfterFunc(r.interval, r.flush)
	}
	r.mu.Unlock()

	for _, l := range listeners {
		l(update)
	}
}

// flush pushes the coalesced pending update
func (r *Reporter) flush() {
	r.mu.Lock()
	jobID := r.jobID
	pending := r.pending
	r.pending = nil
	r.timer = nil
	r.mu.Unlock()

	if jobID == "" || len(pending) == 0 {
		return
	}
	r.push(jobID, pending)
}

// push writes the progress field on the backend job row, without retry
func (r *Reporter) push(jobID string, update Update) {
	data, err := json.Marshal(update)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Failed to marshal progress update")
		return
	}

	err = r.conn.Execute(context.Background(), func(ctx context.Context, b backend.Backend) error {
		return b.UpdateProgress(ctx, jobID, data)
	}, false)
	if err != nil {
		r.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to send progress update")
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
