package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/casare-rpa/robot/pkg/breaker"
	"github.com/casare-rpa/robot/pkg/connection"
	"github.com/casare-rpa/robot/pkg/metrics"
)

// Status is the agent's externally visible snapshot, written to the
// status file and served by the CLI status command.
type Status struct {
	RobotID     string             `json:"robot_id"`
	State       State              `json:"state"`
	StartedAt   time.Time          `json:"started_at"`
	UptimeSecs  int64              `json:"uptime_seconds"`
	CurrentJobs []string           `json:"current_jobs"`
	Capacity    int                `json:"capacity"`
	Connection  connection.Status  `json:"connection"`
	Circuit     breaker.Status     `json:"circuit"`
	Summary     metrics.Summary    `json:"summary"`
	Resources   map[string]float64 `json:"resources"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// GetStatus builds the current snapshot
func (a *Agent) GetStatus() Status {
	a.mu.Lock()
	jobIDs := make([]string, 0, len(a.currentJobs))
	for id := range a.currentJobs {
		jobIDs = append(jobIDs, id)
	}
	state := a.state
	startedAt := a.startedAt
	a.mu.Unlock()

	res := a.resources.Current()
	return Status{
		RobotID:     a.robotID,
		State:       state,
		StartedAt:   startedAt,
		UptimeSecs:  int64(time.Since(startedAt).Seconds()),
		CurrentJobs: jobIDs,
		Capacity:    a.config.MaxConcurrentJobs,
		Connection:  a.conn.GetStatus(),
		Circuit:     a.breaker.GetStatus(),
		Summary:     a.collector.GetSummary(),
		Resources: map[string]float64{
			"cpu_percent":    res.CPUPercent,
			"memory_percent": res.MemoryPercent,
		},
		UpdatedAt: time.Now().UTC(),
	}
}

// WriteStatusFile persists the snapshot for the CLI status command
func (a *Agent) WriteStatusFile() error {
	data, err := json.MarshalIndent(a.GetStatus(), "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(StatusFilePath(a.config.BaseDir(), a.robotID), data)
}

// PID file handling shared between the agent and the CLI

// PIDFilePath returns the pid file location for a robot id
func PIDFilePath(baseDir, robotID string) string {
	return filepath.Join(baseDir, fmt.Sprintf("robot_%s.pid", robotID))
}

// StatusFilePath returns the status file location for a robot id
func StatusFilePath(baseDir, robotID string) string {
	return filepath.Join(baseDir, fmt.Sprintf("robot_%s_status.json", robotID))
}

// WritePIDFile records the current process id
func WritePIDFile(baseDir, robotID string) error {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(PIDFilePath(baseDir, robotID), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

// RemovePIDFile deletes the pid file; missing files are fine
func RemovePIDFile(baseDir, robotID string) {
	_ = os.Remove(PIDFilePath(baseDir, robotID))
}

// ReadPIDFile returns the recorded pid, or 0 if absent
func ReadPIDFile(baseDir, robotID string) (int, error) {
	data, err := os.ReadFile(PIDFilePath(baseDir, robotID))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pid file: %w", err)
	}
	return pid, nil
}

// ReadStatusFile loads the last written status snapshot
func ReadStatusFile(baseDir, robotID string) (*Status, error) {
	data, err := os.ReadFile(StatusFilePath(baseDir, robotID))
	if err != nil {
		return nil, err
	}
	var s Status
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("malformed status file: %w", err)
	}
	return &s, nil
}
