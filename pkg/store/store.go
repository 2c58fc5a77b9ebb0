package store

import (
	"encoding/json"
	"time"
)

// CacheStatus tracks a cached job through its offline lifecycle
type CacheStatus string

const (
	CacheStatusCached     CacheStatus = "cached"
	CacheStatusInProgress CacheStatus = "in_progress"
	CacheStatusCompleted  CacheStatus = "completed"
	CacheStatusFailed     CacheStatus = "failed"
	CacheStatusSynced     CacheStatus = "synced"
)

// CachedJob is one locally cached job record
type CachedJob struct {
	JobID          string          `json:"job_id"`
	WorkflowJSON   json.RawMessage `json:"workflow_json"`
	OriginalStatus string          `json:"original_status"`
	Status         CacheStatus     `json:"status"`
	StartedAt      time.Time       `json:"started_at,omitempty"`
	CompletedAt    time.Time       `json:"completed_at,omitempty"`
	Success        bool            `json:"success"`
	Result         json.RawMessage `json:"result,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	SyncAttempts   int             `json:"sync_attempts"`
	CachedAt       time.Time       `json:"cached_at"`
}

// CheckpointRecord is one serialized checkpoint blob for a job
type CheckpointRecord struct {
	CheckpointID string          `json:"checkpoint_id"`
	JobID        string          `json:"job_id"`
	NodeID       string          `json:"node_id"`
	State        json.RawMessage `json:"state"`
	CreatedAt    time.Time       `json:"created_at"`
}

// EventRecord is one append-only execution history entry
type EventRecord struct {
	JobID     string          `json:"job_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store is the narrow interface every other component uses to reach the
// offline store. All methods are safe for concurrent use.
type Store interface {
	// Cached job lifecycle
	CacheJob(jobID string, workflowJSON []byte, originalStatus string) error
	MarkInProgress(jobID string) error
	MarkCompleted(jobID string, success bool, result []byte, errMsg string) error
	MarkSynced(jobID string) error
	IncrementSyncAttempts(jobID string) error
	JobsToSync() ([]*CachedJob, error)
	InProgressJobs() ([]*CachedJob, error)
	CachedJobs() ([]*CachedJob, error)
	GetCachedJob(jobID string) (*CachedJob, error)
	CleanupOldSyncedJobs(maxAge time.Duration) (int, error)

	// Checkpoints
	SaveCheckpoint(jobID, checkpointID, nodeID string, state []byte) error
	LatestCheckpoint(jobID string) (*CheckpointRecord, error)
	ClearCheckpoints(jobID string) error
	CheckpointCount(jobID string) (int, error)

	// Execution history
	LogEvent(jobID, eventType string, payload []byte) error
	JobHistory(jobID string) ([]*EventRecord, error)

	QueueStats() (map[CacheStatus]int, error)
	Close() error
}
