package types

import (
	"encoding/json"
	"time"
)

// Job represents one pending workflow execution claimed from the backend queue
type Job struct {
	ID            string
	WorkflowName  string
	WorkflowJSON  json.RawMessage // opaque workflow document
	Variables     map[string]Variable
	Priority      int // higher runs first
	RetryCount    int
	Environment   string
	Tenant        string
	ClaimedBy     string // robot-id, empty if unclaimed
	LeaseDeadline time.Time
	Status        JobStatus
	CreatedAt     time.Time
}

// JobStatus represents the backend-side state of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// RobotStatus represents the current state of a robot instance
type RobotStatus string

const (
	RobotStatusOnline  RobotStatus = "online"
	RobotStatusBusy    RobotStatus = "busy"
	RobotStatusIdle    RobotStatus = "idle"
	RobotStatusPaused  RobotStatus = "paused"
	RobotStatusOffline RobotStatus = "offline"
)

// Capabilities describes what a robot instance can execute
type Capabilities struct {
	Platform    string   `json:"platform"`
	Engines     []string `json:"engines"` // available automation engines
	CPUCount    int      `json:"cpu_count"`
	MemoryMB    uint64   `json:"memory_mb"`
	Tags        []string `json:"tags"`
	MaxJobs     int      `json:"max_jobs"`
	Environment string   `json:"environment"`
}

// Registration is one robot's row in the backend robots table
type Registration struct {
	RobotID       string         `json:"robot_id"`
	Name          string         `json:"name"`
	Hostname      string         `json:"hostname"`
	Status        RobotStatus    `json:"status"`
	Environment   string         `json:"environment"`
	Capabilities  Capabilities   `json:"capabilities"`
	LastHeartbeat time.Time      `json:"last_heartbeat"`
	Metrics       map[string]any `json:"metrics,omitempty"`
}

// Presence is the periodic liveness snapshot pushed into the registration row
type Presence struct {
	Status        RobotStatus `json:"status"`
	CurrentJobs   int         `json:"current_jobs"`
	Capacity      int         `json:"capacity"`
	CPUPercent    float64     `json:"cpu_percent"`
	MemoryPercent float64     `json:"memory_percent"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// JobResult is the outcome payload reported to the backend on completion
type JobResult struct {
	ExecutedNodes int   `json:"executed_nodes"`
	DurationMS    int64 `json:"duration_ms"`
	Recovered     bool  `json:"recovered"` // resumed from a checkpoint
}
