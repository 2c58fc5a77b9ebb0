package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/casare-rpa/robot/pkg/audit"
	"github.com/casare-rpa/robot/pkg/backend"
	"github.com/casare-rpa/robot/pkg/breaker"
	"github.com/casare-rpa/robot/pkg/config"
	"github.com/casare-rpa/robot/pkg/connection"
	"github.com/casare-rpa/robot/pkg/executor"
	"github.com/casare-rpa/robot/pkg/log"
	"github.com/casare-rpa/robot/pkg/metrics"
	"github.com/casare-rpa/robot/pkg/scheduler"
	"github.com/casare-rpa/robot/pkg/store"
	"github.com/casare-rpa/robot/pkg/types"
	"github.com/casare-rpa/robot/pkg/workflow"
	"github.com/rs/zerolog"
)

// State is the agent lifecycle state
type State string

const (
	StateStopped      State = "stopped"
	StateStarting     State = "starting"
	StateRunning      State = "running"
	StatePaused       State = "paused"
	StateShuttingDown State = "shutting_down"
)

// claimPollCap bounds the adaptive idle poll interval
const claimPollCap = 2 * time.Second

// Agent is the robot's top-level lifecycle owner. It registers the robot,
// runs the claim loop through the circuit breaker, owns the heartbeat,
// presence and checkpoint-persistence loops, and glues every subsystem
// together for graceful shutdown.
type Agent struct {
	config  config.Config
	robotID string
	logger  zerolog.Logger

	backend   backend.Backend
	conn      *connection.Manager
	breakers  *breaker.Registry
	breaker   *breaker.Breaker
	store     store.Store
	audit     *audit.Logger
	collector *metrics.Collector
	resources *metrics.ResourceMonitor
	executor  *executor.Executor
	engines   executor.EngineFactory
	scheduler *scheduler.Scheduler

	mu          sync.Mutex
	state       State
	pauseGate   chan struct{}
	currentJobs map[string]*types.Job
	startedAt   time.Time

	wg         sync.WaitGroup
	shutdownCh chan struct{}
	drainedCh  chan struct{}
}

// New builds an agent from configuration and an engine factory. It resolves
// the robot id and applies Option functions, through which tests inject
// fakes; the remaining collaborators are constructed in Start.
func New(cfg config.Config, engines executor.EngineFactory, opts ...Option) (*Agent, error) {
	robotID, err := cfg.EnsureRobotID()
	if err != nil {
		return nil, err
	}

	a := &Agent{
		config:      cfg,
		robotID:     robotID,
		logger:      log.WithComponent("agent"),
		engines:     engines,
		state:       StateStopped,
		currentJobs: make(map[string]*types.Job),
		shutdownCh:  make(chan struct{}),
		drainedCh:   make(chan struct{}),
	}
	// Gate starts open (running)
	a.pauseGate = make(chan struct{})
	close(a.pauseGate)

	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Option customizes agent construction (used by tests to inject fakes)
type Option func(*Agent)

// WithBackend substitutes the backend client
func WithBackend(b backend.Backend) Option {
	return func(a *Agent) { a.backend = b }
}

// WithStore substitutes the offline store
func WithStore(s store.Store) Option {
	return func(a *Agent) { a.store = s }
}

// RobotID returns the persistent robot identity
func (a *Agent) RobotID() string {
	return a.robotID
}

// State returns the current lifecycle state
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	old := a.state
	a.state = s
	a.mu.Unlock()
	if old != s {
		a.logger.Info().Str("from", string(old)).Str("to", string(s)).Msg("Agent state changed")
	}
}

// CurrentJobCount returns the number of executing jobs
func (a *Agent) CurrentJobCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.currentJobs)
}

// Connected reports backend connectivity
func (a *Agent) Connected() bool {
	return a.conn != nil && a.conn.IsConnected()
}

// Breaker returns the agent's claim-path circuit breaker
func (a *Agent) Breaker() *breaker.Breaker {
	return a.breaker
}

// Start brings the agent to running: initialize subsystems, restore the
// self-checkpoint, register with the backend, and spawn the background
// loops. Returns only startup errors; runtime errors stay inside loops.
func (a *Agent) Start(ctx context.Context) error {
	a.setState(StateStarting)
	a.startedAt = time.Now().UTC()

	baseDir := a.config.BaseDir()
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// Audit log
	auditLog, err := audit.New(a.robotID, audit.Config{Dir: filepath.Join(baseDir, "logs", "audit")})
	if err != nil {
		return fmt.Errorf("failed to initialize audit log: %w", err)
	}
	a.audit = auditLog

	// Offline store: the agent refuses to run without one
	if a.store == nil {
		s, err := store.NewBoltStore(filepath.Join(baseDir, "offline_queue.db"))
		if err != nil {
			return err
		}
		a.store = s
	}

	// Metrics and resources
	a.collector = metrics.NewCollector()
	a.resources = metrics.NewResourceMonitor(60 * time.Second)
	a.resources.Start()

	// Restore aggregate statistics from the last self-checkpoint
	if cp, err := loadAgentCheckpoint(a.checkpointDir(), a.robotID); err == nil && cp != nil {
		a.collector.RestoreCounters(cp.Stats.TotalJobs, cp.Stats.JobsCompleted, cp.Stats.JobsFailed, cp.Stats.TotalExecutionMS)
		a.logger.Info().
			Str("checkpoint_id", cp.CheckpointID).
			Int("jobs_completed", cp.Stats.JobsCompleted).
			Msg("Restored agent checkpoint")
		if len(cp.CurrentJobIDs) > 0 {
			a.logger.Warn().
				Strs("job_ids", cp.CurrentJobIDs).
				Msg("Previous run died with jobs in flight; they resume from their checkpoints when reclaimed")
		}
	}

	// Backend and connection manager
	if a.backend == nil {
		a.backend = backend.NewPostgresBackend(a.config.PostgresURL, a.config.VisibilityTimeout)
	}
	a.conn = connection.NewManager(a.backend, connection.Config{
		InitialDelay:     a.config.ReconnectInitialDelay,
		MaxDelay:         a.config.ReconnectMaxDelay,
		Jitter:           true,
		OperationTimeout: 10 * time.Second,
	}, connection.Callbacks{
		OnConnected:    func() { a.audit.ConnectionEstablished() },
		OnDisconnected: func() { a.audit.ConnectionLost("") },
		OnReconnecting: func(attempt int) { a.audit.ConnectionReconnecting(attempt) },
	})

	// Circuit breaker, shared through the registry under robot-<id>
	a.breakers = breaker.NewRegistry()
	a.breaker = a.breakers.GetOrCreate("robot-"+a.robotID, breaker.DefaultConfig(),
		func(name string, from, to breaker.State) {
			a.audit.CircuitStateChanged(name, to.String())
		})

	// Executor with the completion callback closing the loop back here
	a.executor = executor.New(a.robotID, executor.Config{
		MaxConcurrentJobs:    a.config.MaxConcurrentJobs,
		JobTimeout:           a.config.JobTimeout,
		NodeTimeout:          a.config.NodeTimeout,
		CancellationInterval: a.config.CancellationInterval,
		ProgressInterval:     a.config.ProgressFlushInterval,
		EnableCheckpointing:  a.config.EnableCheckpointing,
		ResumeFromCheckpoint: a.config.EnableCheckpointing,
	}, a.engines, a.conn, a.store, a.audit, a.collector, a.onJobComplete)
	a.executor.Start()

	// Connect and register; a dead backend at startup is not fatal, the
	// claim loop reconnects
	if err := a.conn.Connect(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Backend unreachable at startup, continuing offline")
	} else if err := a.register(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Robot registration failed")
	}

	// Re-queue jobs that were in flight when the previous process died
	a.recoverInterrupted()

	// Scheduler: time-based triggers become queue submissions
	if a.config.SchedulesFile != "" {
		if err := a.startScheduler(); err != nil {
			return err
		}
	}

	// Background loops
	a.spawnLoop("claim", a.claimLoop)
	a.spawnLoop("heartbeat", a.heartbeatLoop)
	a.spawnLoop("presence", a.presenceLoop)
	a.spawnLoop("checkpoint", a.checkpointLoop)
	a.spawnLoop("sync", a.syncLoop)

	a.setState(StateRunning)
	a.audit.RobotStarted(map[string]any{
		"hostname":    hostname(),
		"environment": a.config.Environment,
		"max_jobs":    a.config.MaxConcurrentJobs,
	})
	a.logger.Info().Str("robot_id", a.robotID).Msg("Robot agent started")
	return nil
}

// Stop drains and shuts the agent down gracefully
func (a *Agent) Stop(reason string) {
	a.mu.Lock()
	if a.state == StateShuttingDown || a.state == StateStopped {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	a.setState(StateShuttingDown)
	close(a.shutdownCh)

	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	// Wait for current jobs to drain, bounded by the grace period
	a.waitForDrain(a.config.ShutdownGrace)

	// The final self-checkpoint lands after draining, before loop teardown
	if err := a.saveCheckpoint(); err != nil {
		a.logger.Error().Err(err).Msg("Failed to persist final checkpoint")
	}

	a.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.conn.IsConnected() {
		err := a.conn.Execute(ctx, func(ctx context.Context, b backend.Backend) error {
			return b.UpdateRobotStatus(ctx, a.robotID, types.RobotStatusOffline)
		}, false)
		if err != nil {
			a.logger.Warn().Err(err).Msg("Failed to mark robot offline")
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), a.config.ShutdownGrace)
	defer stopCancel()
	if err := a.executor.Stop(stopCtx, true); err != nil {
		a.logger.Warn().Err(err).Msg("Executor drain incomplete")
	}

	a.resources.Stop()
	a.conn.Disconnect()
	a.audit.RobotStopped(reason)
	a.audit.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Offline store close failed")
	}

	a.setState(StateStopped)
	a.logger.Info().Str("reason", reason).Msg("Robot agent stopped")
}

// Pause blocks job acquisition; executing jobs continue
func (a *Agent) Pause() {
	a.mu.Lock()
	if a.state != StateRunning {
		a.mu.Unlock()
		return
	}
	a.state = StatePaused
	a.pauseGate = make(chan struct{})
	a.mu.Unlock()

	a.audit.Log(audit.EventRobotPaused, audit.SeverityInfo, "Job acquisition paused")
	a.updateStatus(types.RobotStatusPaused)
}

// Resume re-opens the pause gate
func (a *Agent) Resume() {
	a.mu.Lock()
	if a.state != StatePaused {
		a.mu.Unlock()
		return
	}
	a.state = StateRunning
	close(a.pauseGate)
	a.mu.Unlock()

	a.audit.Log(audit.EventRobotResumed, audit.SeverityInfo, "Job acquisition resumed")
	a.updateStatus(types.RobotStatusOnline)
}

// CancelJob cancels one executing job
func (a *Agent) CancelJob(jobID string) bool {
	return a.executor.Cancel(jobID, "cancelled by operator")
}

func (a *Agent) spawnLoop(name string, loop func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Debug().Str("loop", name).Msg("Loop started")
		loop()
		a.logger.Debug().Str("loop", name).Msg("Loop stopped")
	}()
}

// claimLoop polls the backend queue for jobs through the circuit breaker.
// The poll interval adapts: it resets to the base on a successful claim
// and stretches toward the cap while the queue is empty.
func (a *Agent) claimLoop() {
	interval := a.config.PollInterval

	for {
		// The pause gate blocks here while paused
		a.mu.Lock()
		gate := a.pauseGate
		a.mu.Unlock()
		select {
		case <-gate:
		case <-a.shutdownCh:
			return
		}

		if a.executor.IsAtCapacity() || a.CurrentJobCount() >= a.config.MaxConcurrentJobs {
			if !a.sleep(a.config.PollInterval) {
				return
			}
			continue
		}

		if a.config.EnableCircuitBreaker && a.breaker.IsOpen() {
			metrics.ClaimsTotal.WithLabelValues("circuit_open").Inc()
			if !a.sleep(a.config.PollInterval) {
				return
			}
			continue
		}

		job, err := a.claimOne()
		switch {
		case err != nil:
			var openErr *breaker.OpenError
			if errors.As(err, &openErr) {
				metrics.ClaimsTotal.WithLabelValues("circuit_open").Inc()
				if !a.sleep(a.config.PollInterval) {
					return
				}
				continue
			}
			metrics.ClaimsTotal.WithLabelValues("error").Inc()
			a.logger.Error().Err(err).Msg("Claim attempt failed")
			if !a.sleep(5 * time.Second) {
				return
			}

		case job != nil:
			metrics.ClaimsTotal.WithLabelValues("claimed").Inc()
			a.acceptJob(job)
			interval = a.config.PollInterval

			// Fill the batch while capacity and queue allow
			for claimed := 1; claimed < a.config.BatchSize && !a.executor.IsAtCapacity(); claimed++ {
				extra, err := a.claimOne()
				if err != nil || extra == nil {
					break
				}
				metrics.ClaimsTotal.WithLabelValues("claimed").Inc()
				a.acceptJob(extra)
			}

		default:
			metrics.ClaimsTotal.WithLabelValues("empty").Inc()
			if !a.sleep(interval) {
				return
			}
			interval = time.Duration(float64(interval) * 1.5)
			if interval > claimPollCap {
				interval = claimPollCap
			}
		}
	}
}

// claimOne runs one claim through breaker → connection manager → backend
func (a *Agent) claimOne() (*types.Job, error) {
	var job *types.Job
	claim := func() error {
		return a.conn.Execute(context.Background(), func(ctx context.Context, b backend.Backend) error {
			var err error
			job, err = b.ClaimJob(ctx, a.robotID, a.config.Environment)
			return err
		}, true)
	}

	var err error
	if a.config.EnableCircuitBreaker {
		err = a.breaker.Call(claim)
	} else {
		err = claim()
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// acceptJob caches the claim locally and hands it to the executor
func (a *Agent) acceptJob(job *types.Job) {
	a.audit.JobClaimed(job.ID)
	if err := a.store.CacheJob(job.ID, job.WorkflowJSON, string(types.JobStatusPending)); err != nil {
		a.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to cache claimed job")
	}

	a.mu.Lock()
	a.currentJobs[job.ID] = job
	busy := len(a.currentJobs) >= a.config.MaxConcurrentJobs
	a.mu.Unlock()

	if !a.executor.Submit(job) {
		a.logger.Error().Str("job_id", job.ID).Msg("Executor rejected claimed job, releasing")
		a.mu.Lock()
		delete(a.currentJobs, job.ID)
		a.mu.Unlock()
		a.releaseJob(job.ID)
		return
	}

	if busy {
		a.updateStatus(types.RobotStatusBusy)
	}
	a.logger.Info().
		Str("job_id", job.ID).
		Str("workflow", job.WorkflowName).
		Int("priority", job.Priority).
		Msg("Job claimed")
}

// onJobComplete is the executor's completion callback: report the outcome
// to the backend, or leave it cached for the sync loop when unreachable.
func (a *Agent) onJobComplete(jobID string, success bool, errMsg string) {
	if err := a.store.MarkCompleted(jobID, success, nil, errMsg); err != nil {
		a.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to record outcome in offline store")
	}

	reported := a.reportOutcome(jobID, success, errMsg)
	if reported {
		if err := a.store.MarkSynced(jobID); err != nil {
			a.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to mark job synced")
		}
	} else {
		a.logger.Warn().Str("job_id", jobID).Msg("Backend unreachable, outcome queued for sync")
	}

	a.mu.Lock()
	delete(a.currentJobs, jobID)
	idle := len(a.currentJobs) == 0
	a.mu.Unlock()

	if idle {
		a.updateStatus(types.RobotStatusIdle)
		select {
		case a.drainedCh <- struct{}{}:
		default:
		}
	}
}

// reportOutcome pushes a completion to the backend; false means it stays
// queued in the offline store.
func (a *Agent) reportOutcome(jobID string, success bool, errMsg string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var info executor.JobInfo
	var result types.JobResult
	if ji, ok := a.executor.JobStatus(jobID); ok {
		info = ji
		if ji.Result != nil {
			result = types.JobResult{
				ExecutedNodes: ji.Result.ExecutedNodes,
				DurationMS:    ji.Result.Duration.Milliseconds(),
				Recovered:     ji.Result.Recovered,
			}
		}
	}

	err := a.conn.Execute(ctx, func(ctx context.Context, b backend.Backend) error {
		if success {
			return b.CompleteJob(ctx, jobID, result)
		}
		if info.Status == executor.StatusCancelled {
			return b.FailJob(ctx, jobID, "cancelled: "+errMsg)
		}
		return b.FailJob(ctx, jobID, errMsg)
	}, true)
	if err != nil {
		if incErr := a.store.IncrementSyncAttempts(jobID); incErr != nil {
			a.logger.Debug().Err(incErr).Str("job_id", jobID).Msg("Sync attempt bump failed")
		}
		return false
	}
	return true
}

func (a *Agent) releaseJob(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := a.conn.Execute(ctx, func(ctx context.Context, b backend.Backend) error {
		return b.ReleaseJob(ctx, jobID)
	}, false)
	if err != nil {
		a.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to release job")
	}
}

// heartbeatLoop extends the lease of every executing job
func (a *Agent) heartbeatLoop() {
	ticker := time.NewTicker(a.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.mu.Lock()
			jobIDs := make([]string, 0, len(a.currentJobs))
			for id := range a.currentJobs {
				jobIDs = append(jobIDs, id)
			}
			a.mu.Unlock()

			for _, jobID := range jobIDs {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				err := a.conn.Execute(ctx, func(ctx context.Context, b backend.Backend) error {
					return b.ExtendLease(ctx, jobID, a.config.VisibilityTimeout)
				}, false)
				cancel()
				if err != nil {
					// A missed extension never cancels the job
					a.logger.Warn().Err(err).Str("job_id", jobID).Msg("Lease extension failed")
				}
			}
		case <-a.shutdownCh:
			return
		}
	}
}

// presenceLoop pushes the liveness snapshot into the registration row
func (a *Agent) presenceLoop() {
	ticker := time.NewTicker(a.config.PresenceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			res := a.resources.Current()
			presence := types.Presence{
				Status:        a.robotStatus(),
				CurrentJobs:   a.CurrentJobCount(),
				Capacity:      a.config.MaxConcurrentJobs,
				CPUPercent:    res.CPUPercent,
				MemoryPercent: res.MemoryPercent,
				UpdatedAt:     time.Now().UTC(),
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := a.conn.Execute(ctx, func(ctx context.Context, b backend.Backend) error {
				return b.UpdatePresence(ctx, a.robotID, presence)
			}, false)
			cancel()
			if err != nil {
				a.logger.Debug().Err(err).Msg("Presence update failed")
			}
		case <-a.shutdownCh:
			return
		}
	}
}

// checkpointLoop persists the agent self-checkpoint periodically
func (a *Agent) checkpointLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := a.saveCheckpoint(); err != nil {
				a.logger.Warn().Err(err).Msg("Agent checkpoint save failed")
			}
			if err := pruneAgentCheckpoints(a.checkpointDir(), a.robotID, checkpointRetention); err != nil {
				a.logger.Debug().Err(err).Msg("Checkpoint pruning failed")
			}
		case <-a.shutdownCh:
			return
		}
	}
}

// syncLoop re-reports completed-but-unsynced outcomes once the backend is
// reachable, and prunes old synced cache rows.
func (a *Agent) syncLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !a.conn.IsConnected() {
				continue
			}
			jobs, err := a.store.JobsToSync()
			if err != nil {
				a.logger.Warn().Err(err).Msg("Offline sync scan failed")
				continue
			}
			for _, job := range jobs {
				if a.reportOutcome(job.JobID, job.Success, job.ErrorMessage) {
					if err := a.store.MarkSynced(job.JobID); err == nil {
						a.logger.Info().Str("job_id", job.JobID).Msg("Cached outcome synced to backend")
					}
				}
			}
			if _, err := a.store.CleanupOldSyncedJobs(7 * 24 * time.Hour); err != nil {
				a.logger.Debug().Err(err).Msg("Synced-job cleanup failed")
			}
		case <-a.shutdownCh:
			return
		}
	}
}

// recoverInterrupted re-submits jobs the previous process died holding
func (a *Agent) recoverInterrupted() {
	jobs, err := a.store.InProgressJobs()
	if err != nil {
		a.logger.Warn().Err(err).Msg("Crash recovery scan failed")
		return
	}
	for _, cached := range jobs {
		a.logger.Info().Str("job_id", cached.JobID).Msg("Recovering interrupted job")
		job := &types.Job{
			ID:           cached.JobID,
			WorkflowJSON: cached.WorkflowJSON,
			Status:       types.JobStatusRunning,
		}
		a.mu.Lock()
		a.currentJobs[job.ID] = job
		a.mu.Unlock()
		if !a.executor.Submit(job) {
			a.mu.Lock()
			delete(a.currentJobs, job.ID)
			a.mu.Unlock()
		}
	}
}

// register upserts the robot row
func (a *Agent) register(ctx context.Context) error {
	reg := &types.Registration{
		RobotID:     a.robotID,
		Name:        a.config.RobotDisplayName(),
		Hostname:    hostname(),
		Status:      types.RobotStatusOnline,
		Environment: a.config.Environment,
		Capabilities: types.Capabilities{
			Platform:    runtime.GOOS,
			Engines:     []string{"browser", "desktop"},
			CPUCount:    runtime.NumCPU(),
			Tags:        a.config.Tags,
			MaxJobs:     a.config.MaxConcurrentJobs,
			Environment: a.config.Environment,
		},
		LastHeartbeat: time.Now().UTC(),
	}
	return a.conn.Execute(ctx, func(ctx context.Context, b backend.Backend) error {
		return b.UpsertRegistration(ctx, reg)
	}, true)
}

func (a *Agent) updateStatus(status types.RobotStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := a.conn.Execute(ctx, func(ctx context.Context, b backend.Backend) error {
		return b.UpdateRobotStatus(ctx, a.robotID, status)
	}, false)
	if err != nil {
		a.logger.Debug().Err(err).Str("status", string(status)).Msg("Status update failed")
	}
}

func (a *Agent) robotStatus() types.RobotStatus {
	switch a.State() {
	case StatePaused:
		return types.RobotStatusPaused
	case StateShuttingDown, StateStopped:
		return types.RobotStatusOffline
	}
	if a.CurrentJobCount() >= a.config.MaxConcurrentJobs {
		return types.RobotStatusBusy
	}
	if a.CurrentJobCount() > 0 {
		return types.RobotStatusOnline
	}
	return types.RobotStatusIdle
}

// waitForDrain blocks until the current-jobs set empties or grace expires
func (a *Agent) waitForDrain(grace time.Duration) {
	if a.CurrentJobCount() == 0 || grace <= 0 {
		return
	}
	deadline := time.NewTimer(grace)
	defer deadline.Stop()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-a.drainedCh:
			return
		case <-ticker.C:
			if a.CurrentJobCount() == 0 {
				return
			}
		case <-deadline.C:
			a.logger.Warn().
				Int("remaining", a.CurrentJobCount()).
				Msg("Shutdown grace expired with jobs still running")
			return
		}
	}
}

// sleep waits d or until shutdown; false means shutdown
func (a *Agent) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-a.shutdownCh:
		return false
	}
}

func (a *Agent) checkpointDir() string {
	return filepath.Join(a.config.BaseDir(), "checkpoints")
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// EngineFor builds the default engine factory wiring; split out so the
// CLI can pass a real automation engine while tests pass stubs.
func EngineFor(e workflow.Engine) executor.EngineFactory {
	return func() workflow.Engine { return e }
}
