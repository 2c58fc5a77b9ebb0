package agent

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/casare-rpa/robot/pkg/backend"
	"github.com/casare-rpa/robot/pkg/config"
	"github.com/casare-rpa/robot/pkg/types"
	"github.com/casare-rpa/robot/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const agentDoc = `{
	"metadata": {"name": "wf"},
	"nodes": {
		"start": {"node_type": "StartNode"},
		"A": {"node_type": "WaitNode"},
		"B": {"node_type": "WaitNode"},
		"C": {"node_type": "WaitNode"}
	},
	"connections": [
		{"source_node": "start", "source_port": "exec_out", "target_node": "A", "target_port": "exec_in"},
		{"source_node": "A", "source_port": "exec_out", "target_node": "B", "target_port": "exec_in"},
		{"source_node": "B", "source_port": "exec_out", "target_node": "C", "target_port": "exec_in"}
	]
}`

// queueBackend serves a fixed queue of jobs and records everything
type queueBackend struct {
	mu          sync.Mutex
	queue       []*types.Job
	claimErr    error
	claims      int
	completed   map[string]types.JobResult
	failed      map[string]string
	statuses    []types.RobotStatus
	registered  bool
	leaseExtend map[string]int
}

func newQueueBackend(jobs ...*types.Job) *queueBackend {
	return &queueBackend{
		queue:       jobs,
		completed:   make(map[string]types.JobResult),
		failed:      make(map[string]string),
		leaseExtend: make(map[string]int),
	}
}

func (q *queueBackend) Connect(ctx context.Context) error { return nil }
func (q *queueBackend) Close()                            {}
func (q *queueBackend) Ping(ctx context.Context) error    { return nil }

func (q *queueBackend) ClaimJob(ctx context.Context, robotID, environment string) (*types.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.claims++
	if q.claimErr != nil {
		return nil, q.claimErr
	}
	if len(q.queue) == 0 {
		return nil, nil
	}
	job := q.queue[0]
	q.queue = q.queue[1:]
	job.ClaimedBy = robotID
	return job, nil
}

func (q *queueBackend) ExtendLease(ctx context.Context, jobID string, d time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.leaseExtend[jobID]++
	return nil
}
func (q *queueBackend) ReleaseJob(ctx context.Context, jobID string) error { return nil }

func (q *queueBackend) CompleteJob(ctx context.Context, jobID string, result types.JobResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed[jobID] = result
	return nil
}

func (q *queueBackend) FailJob(ctx context.Context, jobID, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed[jobID] = errMsg
	return nil
}

func (q *queueBackend) UpdateProgress(ctx context.Context, jobID string, progress json.RawMessage) error {
	return nil
}
func (q *queueBackend) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	return false, nil
}
func (q *queueBackend) SubmitJob(ctx context.Context, job *types.Job) error { return nil }

func (q *queueBackend) UpsertRegistration(ctx context.Context, reg *types.Registration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.registered = true
	return nil
}

func (q *queueBackend) UpdateRobotStatus(ctx context.Context, robotID string, status types.RobotStatus) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.statuses = append(q.statuses, status)
	return nil
}

func (q *queueBackend) UpdatePresence(ctx context.Context, robotID string, presence types.Presence) error {
	return nil
}

var _ backend.Backend = (*queueBackend)(nil)

func (q *queueBackend) claimCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.claims
}

func (q *queueBackend) completedJob(id string) (types.JobResult, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.completed[id]
	return r, ok
}

// stubEngine runs every non-skipped node instantly
type stubEngine struct{ nodes []string }

func (s *stubEngine) Execute(ctx context.Context, doc *workflow.Document, vars map[string]types.Variable, opts workflow.RunOptions) (*workflow.Result, error) {
	executed := 0
	for _, n := range s.nodes {
		if opts.SkipNodes[n] {
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		ev := workflow.NodeEvent{NodeID: n, NodeType: "WaitNode", Variables: map[string]types.Variable{}}
		if opts.Hooks.OnNodeStart != nil {
			opts.Hooks.OnNodeStart(ev)
		}
		if opts.Hooks.OnNodeComplete != nil {
			opts.Hooks.OnNodeComplete(ev)
		}
		executed++
	}
	return &workflow.Result{Success: true, ExecutedNodes: executed}, nil
}

func (s *stubEngine) Browser() workflow.BrowserState { return workflow.BrowserState{} }

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.PostgresURL = "postgres://test/test"
	cfg.PollInterval = 10 * time.Millisecond
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.PresenceInterval = 50 * time.Millisecond
	cfg.ShutdownGrace = 2 * time.Second
	cfg.CancellationInterval = 20 * time.Millisecond
	cfg.ProgressFlushInterval = 10 * time.Millisecond
	cfg.ReconnectInitialDelay = time.Millisecond
	cfg.ReconnectMaxDelay = 5 * time.Millisecond
	return cfg
}

func startAgent(t *testing.T, cfg config.Config, qb *queueBackend) *Agent {
	t.Helper()
	a, err := New(cfg, EngineFor(&stubEngine{nodes: []string{"A", "B", "C"}}), WithBackend(qb))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { a.Stop("test cleanup") })
	return a
}

func TestHappyPath(t *testing.T) {
	qb := newQueueBackend(&types.Job{ID: "j1", WorkflowName: "wf", WorkflowJSON: []byte(agentDoc)})
	cfg := testConfig(t)
	a := startAgent(t, cfg, qb)

	assert.Equal(t, StateRunning, a.State())

	// The job is claimed, executed and reported completed
	require.Eventually(t, func() bool {
		_, ok := qb.completedJob("j1")
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	result, _ := qb.completedJob("j1")
	assert.Equal(t, 3, result.ExecutedNodes)

	// The finished job leaves the current-job set
	assert.Eventually(t, func() bool { return a.CurrentJobCount() == 0 }, time.Second, 10*time.Millisecond)

	a.Stop("test")
	assert.Equal(t, StateStopped, a.State())

	// Registration went offline and the self-checkpoint records the run
	qb.mu.Lock()
	lastStatus := qb.statuses[len(qb.statuses)-1]
	qb.mu.Unlock()
	assert.Equal(t, types.RobotStatusOffline, lastStatus)

	cp, err := loadAgentCheckpoint(filepath.Join(cfg.DataDir, "checkpoints"), a.RobotID())
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 1, cp.Stats.JobsCompleted)
	assert.Equal(t, 0, cp.Stats.JobsFailed)
}

func TestPauseStopsClaims(t *testing.T) {
	qb := newQueueBackend()
	a := startAgent(t, testConfig(t), qb)

	require.Eventually(t, func() bool { return qb.claimCount() > 0 }, time.Second, 5*time.Millisecond)

	a.Pause()
	assert.Equal(t, StatePaused, a.State())
	time.Sleep(30 * time.Millisecond)

	before := qb.claimCount()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, qb.claimCount(), "paused agent must not claim")

	a.Resume()
	assert.Equal(t, StateRunning, a.State())
	assert.Eventually(t, func() bool { return qb.claimCount() > before }, time.Second, 5*time.Millisecond)
}

func TestCircuitOpenBlocksClaimRPC(t *testing.T) {
	qb := newQueueBackend()
	a := startAgent(t, testConfig(t), qb)

	require.Eventually(t, func() bool { return qb.claimCount() > 0 }, time.Second, 5*time.Millisecond)

	a.Breaker().ForceOpen()
	time.Sleep(30 * time.Millisecond)

	before := qb.claimCount()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, qb.claimCount(), "open circuit must not reach the backend")
}

func TestFailingClaimsOpenBreaker(t *testing.T) {
	qb := newQueueBackend()
	qb.mu.Lock()
	qb.claimErr = errors.New("backend down")
	qb.mu.Unlock()

	a := startAgent(t, testConfig(t), qb)

	// Five consecutive failures trip the default breaker; each failed claim
	// is followed by the claim loop's 5s error pause, so the fifth lands at ~20s
	require.Eventually(t, func() bool { return a.Breaker().IsOpen() }, 30*time.Second, 10*time.Millisecond)
}

func TestHeartbeatExtendsLeases(t *testing.T) {
	// A slow engine keeps the job executing across heartbeat ticks
	qb := newQueueBackend(&types.Job{ID: "j1", WorkflowName: "wf", WorkflowJSON: []byte(agentDoc)})
	cfg := testConfig(t)

	a, err := New(cfg, EngineFor(&slowEngine{delay: 300 * time.Millisecond}), WithBackend(qb))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { a.Stop("test cleanup") })

	require.Eventually(t, func() bool {
		qb.mu.Lock()
		defer qb.mu.Unlock()
		return qb.leaseExtend["j1"] > 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestShutdownWithZeroGraceStillCheckpoints(t *testing.T) {
	qb := newQueueBackend()
	cfg := testConfig(t)
	cfg.ShutdownGrace = 0

	a := startAgent(t, cfg, qb)
	a.Stop("immediate")

	cp, err := loadAgentCheckpoint(filepath.Join(cfg.DataDir, "checkpoints"), a.RobotID())
	require.NoError(t, err)
	assert.NotNil(t, cp)
}

func TestStatusFileRoundTrip(t *testing.T) {
	qb := newQueueBackend()
	cfg := testConfig(t)
	a := startAgent(t, cfg, qb)

	require.NoError(t, a.WriteStatusFile())

	s, err := ReadStatusFile(cfg.DataDir, a.RobotID())
	require.NoError(t, err)
	assert.Equal(t, a.RobotID(), s.RobotID)
	assert.Equal(t, StateRunning, s.State)
	assert.True(t, s.Connection.Connected)
}

func TestPIDFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WritePIDFile(dir, "r1"))

	pid, err := ReadPIDFile(dir, "r1")
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	RemovePIDFile(dir, "r1")
	pid, err = ReadPIDFile(dir, "r1")
	require.NoError(t, err)
	assert.Zero(t, pid)
}

// slowEngine delays long enough for heartbeats to fire mid-job
type slowEngine struct{ delay time.Duration }

func (s *slowEngine) Execute(ctx context.Context, doc *workflow.Document, vars map[string]types.Variable, opts workflow.RunOptions) (*workflow.Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.delay):
	}
	return &workflow.Result{Success: true, ExecutedNodes: 1}, nil
}

func (s *slowEngine) Browser() workflow.BrowserState { return workflow.BrowserState{} }
