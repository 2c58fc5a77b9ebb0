package executor

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/casare-rpa/robot/pkg/backend"
	"github.com/casare-rpa/robot/pkg/connection"
	"github.com/casare-rpa/robot/pkg/metrics"
	"github.com/casare-rpa/robot/pkg/store"
	"github.com/casare-rpa/robot/pkg/types"
	"github.com/casare-rpa/robot/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDoc = `{
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

// scriptEngine walks nodes A, B, C in order, firing hooks like the real
// engine would
type scriptEngine struct {
	nodes     []string
	failAt    string
	nodeDelay time.Duration
}

func (s *scriptEngine) Execute(ctx context.Context, doc *workflow.Document, vars map[string]types.Variable, opts workflow.RunOptions) (*workflow.Result, error) {
	executed := 0
	for _, n := range s.nodes {
		if opts.SkipNodes[n] {
			continue
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.nodeDelay):
		}

		ev := workflow.NodeEvent{NodeID: n, NodeType: "WaitNode", Variables: map[string]types.Variable{"last": types.Str(n)}}
		if opts.Hooks.OnNodeStart != nil {
			opts.Hooks.OnNodeStart(ev)
		}
		if n == s.failAt {
			ev.Err = errors.New("node exploded")
			if opts.Hooks.OnNodeFailed != nil {
				opts.Hooks.OnNodeFailed(ev)
			}
			return &workflow.Result{Success: false, Error: "node exploded", ExecutedNodes: executed}, nil
		}
		if opts.Hooks.OnNodeComplete != nil {
			opts.Hooks.OnNodeComplete(ev)
		}
		executed++
	}
	return &workflow.Result{Success: true, ExecutedNodes: executed}, nil
}

func (s *scriptEngine) Browser() workflow.BrowserState { return workflow.BrowserState{} }

// nullBackend satisfies backend.Backend with no-ops
type nullBackend struct {
	mu        sync.Mutex
	cancelled bool
}

func (n *nullBackend) Connect(ctx context.Context) error { return nil }
func (n *nullBackend) Close()                            {}
func (n *nullBackend) Ping(ctx context.Context) error    { return nil }
func (n *nullBackend) ClaimJob(ctx context.Context, robotID, environment string) (*types.Job, error) {
	return nil, nil
}
func (n *nullBackend) ExtendLease(ctx context.Context, jobID string, d time.Duration) error {
	return nil
}
func (n *nullBackend) ReleaseJob(ctx context.Context, jobID string) error { return nil }
func (n *nullBackend) CompleteJob(ctx context.Context, jobID string, result types.JobResult) error {
	return nil
}
func (n *nullBackend) FailJob(ctx context.Context, jobID, errMsg string) error { return nil }
func (n *nullBackend) UpdateProgress(ctx context.Context, jobID string, progress json.RawMessage) error {
	return nil
}
func (n *nullBackend) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cancelled, nil
}
func (n *nullBackend) SubmitJob(ctx context.Context, job *types.Job) error { return nil }
func (n *nullBackend) UpsertRegistration(ctx context.Context, reg *types.Registration) error {
	return nil
}
func (n *nullBackend) UpdateRobotStatus(ctx context.Context, robotID string, status types.RobotStatus) error {
	return nil
}
func (n *nullBackend) UpdatePresence(ctx context.Context, robotID string, presence types.Presence) error {
	return nil
}

var _ backend.Backend = (*nullBackend)(nil)

type testHarness struct {
	executor *Executor
	store    *store.BoltStore
	backend  *nullBackend

	mu          sync.Mutex
	completions []completionRecord
	done        chan string
}

type completionRecord struct {
	jobID   string
	success bool
	errMsg  string
}

func newHarness(t *testing.T, eng workflow.Engine, cfg Config) *testHarness {
	t.Helper()

	s, err := store.NewBoltStore(filepath.Join(t.TempDir(), "offline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	nb := &nullBackend{}
	conn := connection.NewManager(nb, connection.DefaultConfig(), connection.Callbacks{})
	require.NoError(t, conn.Connect(context.Background()))

	h := &testHarness{store: s, backend: nb, done: make(chan string, 16)}
	h.executor = New("robot-1", cfg, func() workflow.Engine { return eng }, conn, s, nil,
		metrics.NewCollector(), func(jobID string, success bool, errMsg string) {
			h.mu.Lock()
			h.completions = append(h.completions, completionRecord{jobID, success, errMsg})
			h.mu.Unlock()
			h.done <- jobID
		})
	h.executor.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.executor.Stop(ctx, true)
	})
	return h
}

func (h *testHarness) submit(t *testing.T, id string) {
	t.Helper()
	require.True(t, h.executor.Submit(&types.Job{ID: id, WorkflowName: "wf", WorkflowJSON: []byte(testDoc)}))
}

func (h *testHarness) waitDone(t *testing.T, id string) completionRecord {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-h.done:
			if got == id {
				h.mu.Lock()
				defer h.mu.Unlock()
				for _, c := range h.completions {
					if c.jobID == id {
						return c
					}
				}
			}
		case <-deadline:
			t.Fatalf("job %s did not complete", id)
		}
	}
}

func TestSuccessfulExecution(t *testing.T) {
	eng := &scriptEngine{nodes: []string{"A", "B", "C"}}
	h := newHarness(t, eng, Config{EnableCheckpointing: true})

	require.NoError(t, h.store.CacheJob("j1", []byte(testDoc), "pending"))
	h.submit(t, "j1")

	c := h.waitDone(t, "j1")
	assert.True(t, c.success)
	assert.Empty(t, c.errMsg)

	info, ok := h.executor.JobStatus("j1")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, info.Status)

	// Checkpoints are cleared after success
	count, err := h.store.CheckpointCount("j1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestFailedNodeFailsJob(t *testing.T) {
	eng := &scriptEngine{nodes: []string{"A", "B", "C"}, failAt: "B"}
	h := newHarness(t, eng, Config{EnableCheckpointing: true})

	require.NoError(t, h.store.CacheJob("j1", []byte(testDoc), "pending"))
	h.submit(t, "j1")

	c := h.waitDone(t, "j1")
	assert.False(t, c.success)
	assert.Contains(t, c.errMsg, "node exploded")

	// Checkpoints are retained after failure so the next attempt resumes
	count, err := h.store.CheckpointCount("j1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	latest, err := h.store.LatestCheckpoint("j1")
	require.NoError(t, err)
	assert.Equal(t, "A", latest.NodeID)
}

func TestDuplicateSubmitRejected(t *testing.T) {
	eng := &scriptEngine{nodes: []string{"A"}, nodeDelay: 200 * time.Millisecond}
	h := newHarness(t, eng, Config{})

	h.submit(t, "j1")
	assert.False(t, h.executor.Submit(&types.Job{ID: "j1", WorkflowJSON: []byte(testDoc)}))
	h.waitDone(t, "j1")
}

func TestCancelNotRunningReturnsFalse(t *testing.T) {
	eng := &scriptEngine{nodes: []string{"A"}}
	h := newHarness(t, eng, Config{})

	assert.False(t, h.executor.Cancel("ghost", "nope"))

	h.submit(t, "j1")
	h.waitDone(t, "j1")
	assert.False(t, h.executor.Cancel("j1", "already done"))
}

func TestExternalCancellation(t *testing.T) {
	eng := &scriptEngine{nodes: []string{"A", "B", "C"}, nodeDelay: 100 * time.Millisecond}
	h := newHarness(t, eng, Config{
		EnableCheckpointing:  true,
		CancellationInterval: 20 * time.Millisecond,
	})

	require.NoError(t, h.store.CacheJob("j1", []byte(testDoc), "pending"))
	h.submit(t, "j1")

	// Flip the backend flag while the job runs
	time.Sleep(50 * time.Millisecond)
	h.backend.mu.Lock()
	h.backend.cancelled = true
	h.backend.mu.Unlock()

	c := h.waitDone(t, "j1")
	assert.False(t, c.success)
	assert.Contains(t, c.errMsg, "cancel")

	info, _ := h.executor.JobStatus("j1")
	assert.Equal(t, StatusCancelled, info.Status)
}

func TestResumeSkipsExecutedNodes(t *testing.T) {
	eng := &scriptEngine{nodes: []string{"A", "B", "C", "D"}}
	h := newHarness(t, eng, Config{EnableCheckpointing: true, ResumeFromCheckpoint: true})

	// Simulate a prior attempt that died after B
	require.NoError(t, h.store.CacheJob("j2", []byte(testDoc), "pending"))
	state := map[string]any{
		"checkpoint_id":   "cp-prior",
		"job_id":          "j2",
		"current_node_id": "B",
		"execution_path":  []string{"A", "B"},
		"executed_nodes":  []string{"A", "B"},
		"variables":       map[string]any{"n": 1},
		"created_at":      time.Now().UTC(),
	}
	blob, err := json.Marshal(state)
	require.NoError(t, err)
	require.NoError(t, h.store.SaveCheckpoint("j2", "cp-prior", "B", blob))

	h.submit(t, "j2")
	c := h.waitDone(t, "j2")
	require.True(t, c.success)

	info, _ := h.executor.JobStatus("j2")
	require.NotNil(t, info.Result)
	// Only C and D actually ran
	assert.Equal(t, 2, info.Result.ExecutedNodes)
	assert.True(t, info.Result.Recovered)
}

func TestConcurrencyLimit(t *testing.T) {
	eng := &scriptEngine{nodes: []string{"A"}, nodeDelay: 150 * time.Millisecond}
	h := newHarness(t, eng, Config{MaxConcurrentJobs: 1})

	h.submit(t, "j1")
	h.submit(t, "j2")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.executor.RunningCount())

	h.waitDone(t, "j1")
	h.waitDone(t, "j2")
}
