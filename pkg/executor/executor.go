package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/casare-rpa/robot/pkg/audit"
	"github.com/casare-rpa/robot/pkg/checkpoint"
	"github.com/casare-rpa/robot/pkg/connection"
	"github.com/casare-rpa/robot/pkg/log"
	"github.com/casare-rpa/robot/pkg/metrics"
	"github.com/casare-rpa/robot/pkg/progress"
	"github.com/casare-rpa/robot/pkg/store"
	"github.com/casare-rpa/robot/pkg/types"
	"github.com/casare-rpa/robot/pkg/workflow"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Status is the executor-side state of a submitted job
type Status string

const (
	StatusQueued    Status = "queued"
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// JobInfo tracks one submitted job through its slot lifecycle
type JobInfo struct {
	JobID        string           `json:"job_id"`
	WorkflowName string           `json:"workflow_name"`
	Status       Status           `json:"status"`
	StartedAt    time.Time        `json:"started_at,omitempty"`
	CompletedAt  time.Time        `json:"completed_at,omitempty"`
	Error        string           `json:"error,omitempty"`
	Result       *workflow.Result `json:"-"`
}

// CompletionFunc is invoked exactly once per executed job
type CompletionFunc func(jobID string, success bool, errMsg string)

// EngineFactory returns the engine for a job run; it is called once per run
// and may return a shared instance
type EngineFactory func() workflow.Engine

// Config tunes the executor
type Config struct {
	MaxConcurrentJobs    int           // slot count (default 3)
	JobTimeout           time.Duration // per-job cap (default 3600s)
	NodeTimeout          time.Duration // per-node cap (default 120s)
	CancellationInterval time.Duration // backend flag poll (default 2s)
	ProgressInterval     time.Duration // progress flush (default 1s)
	EnableCheckpointing  bool
	ResumeFromCheckpoint bool
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = 3
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 3600 * time.Second
	}
	if c.NodeTimeout <= 0 {
		c.NodeTimeout = 120 * time.Second
	}
	if c.CancellationInterval <= 0 {
		c.CancellationInterval = 2 * time.Second
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = time.Second
	}
	return c
}

// runState is the live machinery of one executing job
type runState struct {
	cancel   context.CancelFunc
	reporter *progress.Reporter
	sem      *semaphore.Weighted
}

// Executor runs up to MaxConcurrentJobs workflows concurrently. Submitted
// jobs enter an unbounded FIFO queue; a dispatcher loop acquires a slot
// and spawns each execution. Per job it wires together the engine,
// checkpoint capture, progress reporting, cancellation polling, metrics
// and the audit log, and finally fires the completion callback.
type Executor struct {
	robotID   string
	config    Config
	engines   EngineFactory
	conn      *connection.Manager
	store     store.Store
	audit     *audit.Logger
	collector *metrics.Collector
	onDone    CompletionFunc
	logger    zerolog.Logger

	mu      sync.Mutex
	sem     *semaphore.Weighted
	pending []*types.Job
	jobs    map[string]*JobInfo
	running map[string]*runState
	notify  chan struct{}
	stopped bool

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New creates an executor; Start must be called before Submit
func New(robotID string, config Config, engines EngineFactory, conn *connection.Manager,
	s store.Store, a *audit.Logger, collector *metrics.Collector, onDone CompletionFunc) *Executor {
	cfg := config.withDefaults()
	return &Executor{
		robotID:   robotID,
		config:    cfg,
		engines:   engines,
		conn:      conn,
		store:     s,
		audit:     a,
		collector: collector,
		onDone:    onDone,
		logger:    log.WithComponent("executor"),
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrentJobs)),
		jobs:      make(map[string]*JobInfo),
		running:   make(map[string]*runState),
		notify:    make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the dispatcher loop
func (e *Executor) Start() {
	e.wg.Add(1)
	go e.dispatch()
}

// Stop drains the executor. With cancelRunning, in-flight jobs are
// cancelled; otherwise they finish. Blocks until every execution task has
// returned or ctx expires.
func (e *Executor) Stop(ctx context.Context, cancelRunning bool) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.pending = nil
	if cancelRunning {
		for _, rs := range e.running {
			rs.cancel()
		}
	}
	e.mu.Unlock()
	close(e.stopCh)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executor drain timed out: %w", ctx.Err())
	}
}

// RunningCount returns the number of jobs in starting or running state
func (e *Executor) RunningCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.running)
}

// IsAtCapacity reports whether every slot is busy
func (e *Executor) IsAtCapacity() bool {
	return e.RunningCount() >= e.config.MaxConcurrentJobs
}

// Submit queues a job for execution. Duplicate job-ids currently queued
// or running are rejected.
func (e *Executor) Submit(job *types.Job) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return false
	}
	if info, ok := e.jobs[job.ID]; ok && !terminal(info.Status) {
		e.logger.Warn().Str("job_id", job.ID).Msg("Duplicate job submission rejected")
		return false
	}

	e.jobs[job.ID] = &JobInfo{
		JobID:        job.ID,
		WorkflowName: job.WorkflowName,
		Status:       StatusQueued,
	}
	e.pending = append(e.pending, job)
	select {
	case e.notify <- struct{}{}:
	default:
	}
	return true
}

// Cancel cancels a starting or running job. Returns false without side
// effects for jobs in any other state.
func (e *Executor) Cancel(jobID, reason string) bool {
	e.mu.Lock()
	info, ok := e.jobs[jobID]
	rs := e.running[jobID]
	if !ok || rs == nil || (info.Status != StatusStarting && info.Status != StatusRunning) {
		e.mu.Unlock()
		return false
	}
	info.Status = StatusCancelled
	info.Error = fmt.Sprintf("cancelled: %s", reason)
	e.mu.Unlock()

	rs.cancel()
	rs.reporter.ReportCancelled(reason)
	if e.audit != nil {
		e.audit.JobCancelled(jobID, reason)
	}
	e.logger.Info().Str("job_id", jobID).Str("reason", reason).Msg("Job cancelled")
	return true
}

// JobStatus returns a copy of the job's info, if known
func (e *Executor) JobStatus(jobID string) (JobInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	info, ok := e.jobs[jobID]
	if !ok {
		return JobInfo{}, false
	}
	return *info, true
}

// SetMaxConcurrent resizes the slot count for future acquisitions.
// In-flight jobs release into the semaphore they acquired from.
func (e *Executor) SetMaxConcurrent(n int) {
	if n <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config.MaxConcurrentJobs = n
	e.sem = semaphore.NewWeighted(int64(n))
}

// dispatch pops queued jobs and spawns executions as slots free up
func (e *Executor) dispatch() {
	defer e.wg.Done()

	for {
		e.mu.Lock()
		var job *types.Job
		if len(e.pending) > 0 {
			job = e.pending[0]
			e.pending = e.pending[1:]
		}
		sem := e.sem
		e.mu.Unlock()

		if job == nil {
			select {
			case <-e.notify:
				continue
			case <-e.stopCh:
				return
			}
		}

		acquireCtx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-e.stopCh:
				cancel()
			case <-acquireCtx.Done():
			}
		}()
		err := sem.Acquire(acquireCtx, 1)
		cancel()
		if err != nil {
			return
		}

		e.wg.Add(1)
		go func(j *types.Job, s *semaphore.Weighted) {
			defer e.wg.Done()
			defer s.Release(1)
			e.execute(j)
		}(job, sem)
	}
}

// execute runs one job end to end
func (e *Executor) execute(job *types.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), e.config.JobTimeout)
	defer cancel()

	reporter := progress.NewReporter(e.robotID, e.conn, e.config.ProgressInterval)
	checker := progress.NewCancellationChecker(e.conn, e.config.CancellationInterval)
	cpMgr := checkpoint.NewManager(e.store, e.audit)
	eng := e.engines()

	e.mu.Lock()
	info := e.jobs[job.ID]
	info.Status = StatusStarting
	info.StartedAt = time.Now().UTC()
	e.running[job.ID] = &runState{cancel: cancel, reporter: reporter, sem: e.sem}
	e.mu.Unlock()

	started := time.Now()
	e.collector.StartJob(job.ID, job.WorkflowName)

	finish := func(success bool, errMsg string, result *workflow.Result, cancelled bool) {
		duration := time.Since(started)

		e.collector.EndJob(job.ID, success, errMsg)
		if cancelled {
			reporter.ReportCancelled(errMsg)
			if e.audit != nil {
				e.audit.JobCancelled(job.ID, errMsg)
			}
		} else {
			reporter.EndJob(success, errMsg)
			if e.audit != nil {
				if success {
					e.audit.JobCompleted(job.ID, duration.Milliseconds())
				} else {
					e.audit.JobFailed(job.ID, errMsg, duration.Milliseconds())
				}
			}
		}

		// Checkpoints survive failure and cancellation for resume
		if success && e.config.EnableCheckpointing {
			if err := cpMgr.Clear(job.ID); err != nil {
				e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to clear checkpoints")
			}
		}
		cpMgr.EndJob()

		e.mu.Lock()
		info.CompletedAt = time.Now().UTC()
		info.Error = errMsg
		info.Result = result
		if cancelled {
			info.Status = StatusCancelled
		} else if success {
			info.Status = StatusCompleted
		} else {
			info.Status = StatusFailed
		}
		delete(e.running, job.ID)
		e.mu.Unlock()

		if e.onDone != nil {
			e.onDone(job.ID, success, errMsg)
		}
	}

	// Parse the document
	doc, err := workflow.Parse(job.WorkflowJSON)
	if err != nil {
		e.logger.Error().Err(err).Str("job_id", job.ID).Msg("Workflow document rejected")
		finish(false, err.Error(), nil, false)
		return
	}

	workflowName := job.WorkflowName
	if workflowName == "" {
		workflowName = doc.Metadata.Name
	}

	reporter.StartJob(job.ID, workflowName, doc.NodeCount())
	reporter.UpdateStage(progress.StageLoadingWorkflow, "")

	cpMgr.StartJob(job.ID, workflowName)

	// Seed variables and the skip set, resuming from a checkpoint if one
	// survives a previous attempt
	vars := make(map[string]types.Variable, len(job.Variables))
	for k, v := range job.Variables {
		vars[k] = v
	}
	for k, v := range doc.Variables {
		if _, ok := vars[k]; !ok {
			vars[k] = v
		}
	}
	skip := map[string]bool{}
	recovered := false
	if e.config.EnableCheckpointing && e.config.ResumeFromCheckpoint {
		state, err := cpMgr.Restore(job.ID)
		if err != nil {
			e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Checkpoint restore failed, starting fresh")
		} else if state != nil {
			recovered = true
			skip = cpMgr.ExecutedNodes()
			for k, v := range state.Variables {
				vars[k] = v
			}
			for range state.ExecutedNodes {
				e.collector.RecordNodeSkipped(job.ID)
			}
		}
	}

	hooks := workflow.Hooks{
		OnNodeStart: func(ev workflow.NodeEvent) {
			reporter.ReportNodeStart(ev.NodeID, ev.NodeType, ev.NodeName)
			if e.audit != nil {
				e.audit.NodeStarted(job.ID, ev.NodeID, ev.NodeType)
			}
		},
		OnNodeComplete: func(ev workflow.NodeEvent) {
			e.collector.RecordNode(job.ID, ev.NodeID, ev.NodeType, ev.Duration, true, false)
			reporter.ReportNodeComplete(ev.NodeID, true, ev.Duration, "")
			if e.audit != nil {
				e.audit.NodeCompleted(job.ID, ev.NodeID, ev.NodeType, ev.Duration.Milliseconds())
			}
			if e.config.EnableCheckpointing {
				if err := cpMgr.SaveCheckpoint(ev.NodeID, ev.Variables, eng.Browser()); err != nil {
					e.logger.Warn().Err(err).Str("job_id", job.ID).Str("node_id", ev.NodeID).
						Msg("Checkpoint save failed")
				}
			}
		},
		OnNodeFailed: func(ev workflow.NodeEvent) {
			errMsg := ""
			if ev.Err != nil {
				errMsg = ev.Err.Error()
			}
			e.collector.RecordNode(job.ID, ev.NodeID, ev.NodeType, ev.Duration, false, false)
			reporter.ReportNodeComplete(ev.NodeID, false, ev.Duration, errMsg)
			cpMgr.RecordError(ev.NodeID, errMsg)
			if e.audit != nil {
				e.audit.NodeFailed(job.ID, ev.NodeID, ev.NodeType, errMsg)
			}
		},
	}

	e.mu.Lock()
	if info.Status == StatusCancelled {
		// Cancelled between submit and start
		e.mu.Unlock()
		finish(false, "cancelled before start", nil, true)
		return
	}
	info.Status = StatusRunning
	e.mu.Unlock()

	reporter.UpdateStage(progress.StageExecuting, "")
	if e.audit != nil {
		e.audit.JobStarted(job.ID, doc.NodeCount())
	}
	if err := e.store.MarkInProgress(job.ID); err != nil {
		e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to mark cached job in progress")
	}

	checker.Start(job.ID)
	defer checker.Stop()

	// Run the engine; watch the cancellation latch while it runs
	type engineOutcome struct {
		result *workflow.Result
		err    error
	}
	resultCh := make(chan engineOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- engineOutcome{err: fmt.Errorf("workflow engine panic: %v", r)}
			}
		}()
		result, err := eng.Execute(ctx, doc, vars, workflow.RunOptions{
			SkipNodes:   skip,
			NodeTimeout: e.config.NodeTimeout,
			Hooks:       hooks,
		})
		resultCh <- engineOutcome{result: result, err: err}
	}()

	poll := time.NewTicker(e.config.CancellationInterval)
	defer poll.Stop()

	for {
		select {
		case out := <-resultCh:
			e.mu.Lock()
			wasCancelled := info.Status == StatusCancelled
			e.mu.Unlock()

			switch {
			case wasCancelled:
				finish(false, "job cancelled", out.result, true)
			case out.err != nil:
				if ctx.Err() == context.DeadlineExceeded {
					finish(false, "job timed out", out.result, false)
				} else {
					finish(false, out.err.Error(), out.result, false)
				}
			case out.result != nil && !out.result.Success:
				errMsg := out.result.Error
				if errMsg == "" {
					errMsg = "workflow execution failed"
				}
				finish(false, errMsg, out.result, false)
			default:
				if out.result != nil {
					out.result.Recovered = recovered
				}
				finish(true, "", out.result, false)
			}
			return

		case <-poll.C:
			if checker.IsCancelled() {
				e.mu.Lock()
				if info.Status == StatusRunning {
					info.Status = StatusCancelled
				}
				e.mu.Unlock()
				cancel()
				out := <-resultCh
				finish(false, "job cancelled by user", out.result, true)
				return
			}
		}
	}
}

func terminal(s Status) bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}
