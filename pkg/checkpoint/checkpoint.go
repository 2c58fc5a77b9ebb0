package checkpoint

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/casare-rpa/robot/pkg/audit"
	"github.com/casare-rpa/robot/pkg/log"
	"github.com/casare-rpa/robot/pkg/metrics"
	"github.com/casare-rpa/robot/pkg/store"
	"github.com/casare-rpa/robot/pkg/types"
	"github.com/casare-rpa/robot/pkg/workflow"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// NodeError is one entry in a checkpoint's error history
type NodeError struct {
	NodeID    string    `json:"node_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// BrowserHint is the diagnostic browser snapshot stored with each
// checkpoint. It is never used to restore a live browser.
type BrowserHint struct {
	HasBrowser bool   `json:"has_browser"`
	ActivePage string `json:"active_page,omitempty"`
	PageCount  int    `json:"page_count,omitempty"`
}

// State is the serializable execution snapshot taken after each node
type State struct {
	CheckpointID  string                    `json:"checkpoint_id"`
	JobID         string                    `json:"job_id"`
	WorkflowName  string                    `json:"workflow_name"`
	CurrentNodeID string                    `json:"current_node_id"`
	ExecutionPath []string                  `json:"execution_path"`
	ExecutedNodes []string                  `json:"executed_nodes"`
	Variables     map[string]types.Variable `json:"variables"`
	ErrorHistory  []NodeError               `json:"error_history,omitempty"`
	Browser       BrowserHint               `json:"browser"`
	CreatedAt     time.Time                 `json:"created_at"`
}

// Manager captures execution state after each node completion and
// restores it on startup so interrupted jobs resume mid-workflow.
//
// One manager tracks one job at a time; the executor serializes
// StartJob/EndJob around each execution slot's run.
type Manager struct {
	store  store.Store
	audit  *audit.Logger
	logger zerolog.Logger

	mu            sync.Mutex
	jobID         string
	workflowName  string
	executedNodes map[string]bool
	executionPath []string
	errorHistory  []NodeError
}

// NewManager creates a checkpoint manager over the offline store
func NewManager(s store.Store, a *audit.Logger) *Manager {
	return &Manager{
		store:  s,
		audit:  a,
		logger: log.WithComponent("checkpoint"),
	}
}

// StartJob begins tracking a job's execution state
func (m *Manager) StartJob(jobID, workflowName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.jobID = jobID
	m.workflowName = workflowName
	m.executedNodes = make(map[string]bool)
	m.executionPath = nil
	m.errorHistory = nil
}

// EndJob stops tracking
func (m *Manager) EndJob() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.jobID = ""
	m.workflowName = ""
	m.executedNodes = nil
	m.executionPath = nil
	m.errorHistory = nil
}

// SaveCheckpoint snapshots state after nodeID completed. Variables that
// fail serialization are replaced with the non-serializable placeholder
// rather than aborting the checkpoint.
func (m *Manager) SaveCheckpoint(nodeID string, vars map[string]types.Variable, browser workflow.BrowserState) error {
	m.mu.Lock()
	if m.jobID == "" {
		m.mu.Unlock()
		return fmt.Errorf("no job being tracked")
	}
	jobID := m.jobID

	m.executedNodes[nodeID] = true
	m.executionPath = append(m.executionPath, nodeID)

	state := &State{
		CheckpointID:  uuid.New().String(),
		JobID:         jobID,
		WorkflowName:  m.workflowName,
		CurrentNodeID: nodeID,
		ExecutionPath: append([]string(nil), m.executionPath...),
		ExecutedNodes: setToSlice(m.executedNodes),
		Variables:     sanitizeVariables(vars),
		ErrorHistory:  append([]NodeError(nil), m.errorHistory...),
		Browser: BrowserHint{
			HasBrowser: browser.HasBrowser,
			ActivePage: browser.ActivePage,
			PageCount:  browser.PageCount,
		},
		CreatedAt: time.Now().UTC(),
	}
	m.mu.Unlock()

	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}
	if err := m.store.SaveCheckpoint(jobID, state.CheckpointID, nodeID, blob); err != nil {
		return fmt.Errorf("failed to persist checkpoint: %w", err)
	}

	metrics.CheckpointsSaved.Inc()
	if m.audit != nil {
		m.audit.CheckpointSaved(jobID, nodeID, state.CheckpointID)
	}
	m.logger.Debug().
		Str("job_id", jobID).
		Str("node_id", nodeID).
		Str("checkpoint_id", state.CheckpointID).
		Msg("Checkpoint saved")
	return nil
}

// Restore loads the latest checkpoint for jobID, seeds the in-memory
// executed set and path, and returns the state with non-serializable
// placeholders stripped so they are never re-injected. Returns nil when
// no checkpoint exists.
func (m *Manager) Restore(jobID string) (*State, error) {
	rec, err := m.store.LatestCheckpoint(jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if rec == nil {
		return nil, nil
	}

	var state State
	if err := json.Unmarshal(rec.State, &state); err != nil {
		return nil, fmt.Errorf("corrupt checkpoint %s: %w", rec.CheckpointID, err)
	}

	restored := make(map[string]types.Variable, len(state.Variables))
	for k, v := range state.Variables {
		if v.IsOpaque() {
			continue
		}
		restored[k] = v
	}
	state.Variables = restored

	m.mu.Lock()
	m.jobID = jobID
	m.workflowName = state.WorkflowName
	m.executedNodes = make(map[string]bool, len(state.ExecutedNodes))
	for _, n := range state.ExecutedNodes {
		m.executedNodes[n] = true
	}
	m.executionPath = append([]string(nil), state.ExecutionPath...)
	m.errorHistory = append([]NodeError(nil), state.ErrorHistory...)
	m.mu.Unlock()

	metrics.CheckpointsRestored.Inc()
	if m.audit != nil {
		m.audit.CheckpointRestored(jobID, state.CheckpointID, state.CurrentNodeID)
	}
	m.logger.Info().
		Str("job_id", jobID).
		Str("restored_at_node", state.CurrentNodeID).
		Int("executed_nodes", len(state.ExecutedNodes)).
		Msg("Execution restored from checkpoint")
	return &state, nil
}

// Clear drops all checkpoints for the job. Called after successful
// completion is acknowledged, or on explicit cancellation cleanup — never
// on failure, so the next attempt can resume.
func (m *Manager) Clear(jobID string) error {
	return m.store.ClearCheckpoints(jobID)
}

// RecordError appends to the tracked job's error history
func (m *Manager) RecordError(nodeID, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.errorHistory = append(m.errorHistory, NodeError{
		NodeID:    nodeID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// ExecutedNodes returns a copy of the tracked executed-node set
func (m *Manager) ExecutedNodes() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]bool, len(m.executedNodes))
	for k := range m.executedNodes {
		out[k] = true
	}
	return out
}

// IsNodeExecuted reports whether the node already ran in this job
func (m *Manager) IsNodeExecuted(nodeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executedNodes[nodeID]
}

// sanitizeVariables re-checks serializability of every variable; values
// that fail become placeholders carrying their kind.
func sanitizeVariables(vars map[string]types.Variable) map[string]types.Variable {
	out := make(map[string]types.Variable, len(vars))
	for k, v := range vars {
		if _, err := json.Marshal(v); err != nil {
			out[k] = types.Opaque(fmt.Sprintf("kind-%d", v.Kind))
			continue
		}
		out[k] = v
	}
	return out
}

func setToSlice(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
