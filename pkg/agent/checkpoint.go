package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// checkpointRetention is how many timestamped self-checkpoints to keep
const checkpointRetention = 10

// CheckpointStats are the aggregate counters persisted across restarts
type CheckpointStats struct {
	TotalJobs        int   `json:"total_jobs"`
	JobsCompleted    int   `json:"jobs_completed"`
	JobsFailed       int   `json:"jobs_failed"`
	TotalExecutionMS int64 `json:"total_execution_ms"`
}

// Checkpoint is the agent's own restart snapshot: lifecycle state, the
// jobs it held, and its aggregate statistics.
type Checkpoint struct {
	CheckpointID  string          `json:"checkpoint_id"`
	RobotID       string          `json:"robot_id"`
	State         State           `json:"state"`
	CurrentJobIDs []string        `json:"current_job_ids"`
	LastHeartbeat time.Time       `json:"last_heartbeat"`
	Stats         CheckpointStats `json:"stats"`
	CreatedAt     time.Time       `json:"created_at"`
}

// saveCheckpoint writes the self-checkpoint: the canonical agent_<id>.json
// plus a timestamped copy for the retention window.
func (a *Agent) saveCheckpoint() error {
	summary := a.collector.GetSummary()

	a.mu.Lock()
	jobIDs := make([]string, 0, len(a.currentJobs))
	for id := range a.currentJobs {
		jobIDs = append(jobIDs, id)
	}
	state := a.state
	a.mu.Unlock()
	sort.Strings(jobIDs)

	cp := Checkpoint{
		CheckpointID:  uuid.New().String(),
		RobotID:       a.robotID,
		State:         state,
		CurrentJobIDs: jobIDs,
		LastHeartbeat: time.Now().UTC(),
		Stats: CheckpointStats{
			TotalJobs:        summary.TotalJobs,
			JobsCompleted:    summary.SuccessfulJobs,
			JobsFailed:       summary.FailedJobs,
			TotalExecutionMS: summary.TotalDurationMS,
		},
		CreatedAt: time.Now().UTC(),
	}

	dir := a.checkpointDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	data, err := json.MarshalIndent(&cp, "", "  ")
	if err != nil {
		return err
	}

	canonical := filepath.Join(dir, fmt.Sprintf("agent_%s.json", a.robotID))
	if err := writeFileAtomic(canonical, data); err != nil {
		return err
	}

	stamped := filepath.Join(dir, fmt.Sprintf("agent_%s_%d.json", a.robotID, cp.CreatedAt.UnixMilli()))
	return writeFileAtomic(stamped, data)
}

// loadAgentCheckpoint reads the canonical self-checkpoint, nil if absent
func loadAgentCheckpoint(dir, robotID string) (*Checkpoint, error) {
	data, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf("agent_%s.json", robotID)))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("corrupt agent checkpoint: %w", err)
	}
	return &cp, nil
}

// pruneAgentCheckpoints removes timestamped snapshots beyond keep
func pruneAgentCheckpoints(dir, robotID string, keep int) error {
	pattern := filepath.Join(dir, fmt.Sprintf("agent_%s_*.json", robotID))
	files, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}
	if len(files) <= keep {
		return nil
	}
	sort.Strings(files) // timestamps sort lexically within a robot's files
	for _, f := range files[:len(files)-keep] {
		if err := os.Remove(f); err != nil {
			return err
		}
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
