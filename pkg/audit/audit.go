package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/casare-rpa/robot/pkg/log"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// EventType tags each audit entry with the lifecycle event it records
type EventType string

const (
	EventRobotStarted    EventType = "robot.started"
	EventRobotStopped    EventType = "robot.stopped"
	EventRobotPaused     EventType = "robot.paused"
	EventRobotResumed    EventType = "robot.resumed"
	EventConnEstablished EventType = "connection.established"
	EventConnLost        EventType = "connection.lost"
	EventConnReconnect   EventType = "connection.reconnecting"
	EventJobReceived     EventType = "job.received"
	EventJobClaimed      EventType = "job.claimed"
	EventJobStarted      EventType = "job.started"
	EventJobCompleted    EventType = "job.completed"
	EventJobFailed       EventType = "job.failed"
	EventJobCancelled    EventType = "job.cancelled"
	EventNodeStarted     EventType = "execution.node_started"
	EventNodeCompleted   EventType = "execution.node_completed"
	EventNodeFailed      EventType = "execution.node_failed"
	EventCheckpointSaved EventType = "checkpoint.saved"
	EventCheckpointRest  EventType = "checkpoint.restored"
	EventCircuitChanged  EventType = "circuit.state_changed"
	EventError           EventType = "error.logged"
)

// Severity classifies an audit entry
type Severity string

const (
	SeverityDebug   Severity = "debug"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Entry is one audit record; marshalled as a single JSONL line
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType EventType      `json:"event_type"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	RobotID   string         `json:"robot_id"`
	JobID     string         `json:"job_id,omitempty"`
	NodeID    string         `json:"node_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Config tunes the audit log
type Config struct {
	Dir         string
	MaxSizeMB   int // rotate after this many megabytes (default 10)
	MaxBackups  int // retained rotated files (default 5)
	RecentLimit int // in-memory query buffer size (default 1000)
}

// Logger is the append-only structured audit event stream. Writes go to a
// size-rotated JSONL file; a bounded in-memory ring serves recent-event
// queries without touching disk.
type Logger struct {
	robotID string
	out     *lumberjack.Logger
	logger  zerolog.Logger

	mu     sync.Mutex
	recent []Entry
	limit  int
}

// New creates the audit logger, writing audit_<date>.jsonl under dir
func New(robotID string, cfg Config) (*Logger, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("audit log directory not configured")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	maxSize := cfg.MaxSizeMB
	if maxSize == 0 {
		maxSize = 10
	}
	maxBackups := cfg.MaxBackups
	if maxBackups == 0 {
		maxBackups = 5
	}
	limit := cfg.RecentLimit
	if limit == 0 {
		limit = 1000
	}

	filename := fmt.Sprintf("audit_%s.jsonl", time.Now().UTC().Format("2006-01-02"))
	out := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, filename),
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}

	return &Logger{
		robotID: robotID,
		out:     out,
		logger:  log.WithComponent("audit"),
		limit:   limit,
	}, nil
}

// Close flushes and closes the backing file
func (l *Logger) Close() error {
	return l.out.Close()
}

// Log writes one audit entry
func (l *Logger) Log(eventType EventType, severity Severity, message string, opts ...Option) {
	entry := Entry{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Severity:  severity,
		Message:   message,
		RobotID:   l.robotID,
	}
	for _, opt := range opts {
		opt(&entry)
	}

	data, err := json.Marshal(&entry)
	if err != nil {
		l.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("Failed to marshal audit entry")
		return
	}

	l.mu.Lock()
	l.recent = append(l.recent, entry)
	if len(l.recent) > l.limit {
		l.recent = l.recent[len(l.recent)-l.limit:]
	}
	if _, err := l.out.Write(append(data, '\n')); err != nil {
		l.logger.Error().Err(err).Msg("Failed to write audit entry")
	}
	l.mu.Unlock()
}

// Option decorates an entry with contextual fields
type Option func(*Entry)

func WithJob(jobID string) Option {
	return func(e *Entry) { e.JobID = jobID }
}

func WithNode(nodeID string) Option {
	return func(e *Entry) { e.NodeID = nodeID }
}

func WithDetails(details map[string]any) Option {
	return func(e *Entry) { e.Details = details }
}

// Recent returns up to limit most recent entries, newest last
func (l *Logger) Recent(limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 || limit > len(l.recent) {
		limit = len(l.recent)
	}
	out := make([]Entry, limit)
	copy(out, l.recent[len(l.recent)-limit:])
	return out
}

// Query filters the in-memory buffer by event type, job id, and time
func (l *Logger) Query(eventType EventType, jobID string, since time.Time) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Entry
	for _, e := range l.recent {
		if eventType != "" && e.EventType != eventType {
			continue
		}
		if jobID != "" && e.JobID != jobID {
			continue
		}
		if !since.IsZero() && e.Timestamp.Before(since) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Convenience emitters for well-known lifecycle events

func (l *Logger) RobotStarted(details map[string]any) {
	l.Log(EventRobotStarted, SeverityInfo, "Robot agent started", WithDetails(details))
}

func (l *Logger) RobotStopped(reason string) {
	l.Log(EventRobotStopped, SeverityInfo, "Robot agent stopped", WithDetails(map[string]any{"reason": reason}))
}

func (l *Logger) ConnectionEstablished() {
	l.Log(EventConnEstablished, SeverityInfo, "Backend connection established")
}

func (l *Logger) ConnectionLost(reason string) {
	l.Log(EventConnLost, SeverityWarning, "Backend connection lost", WithDetails(map[string]any{"reason": reason}))
}

func (l *Logger) ConnectionReconnecting(attempt int) {
	l.Log(EventConnReconnect, SeverityWarning, fmt.Sprintf("Reconnecting to backend (attempt %d)", attempt),
		WithDetails(map[string]any{"attempt": attempt}))
}

func (l *Logger) JobClaimed(jobID string) {
	l.Log(EventJobClaimed, SeverityInfo, "Job claimed", WithJob(jobID))
}

func (l *Logger) JobStarted(jobID string, totalNodes int) {
	l.Log(EventJobStarted, SeverityInfo, "Job started", WithJob(jobID),
		WithDetails(map[string]any{"total_nodes": totalNodes}))
}

func (l *Logger) JobCompleted(jobID string, durationMS int64) {
	l.Log(EventJobCompleted, SeverityInfo, "Job completed", WithJob(jobID),
		WithDetails(map[string]any{"duration_ms": durationMS}))
}

func (l *Logger) JobFailed(jobID, errMsg string, durationMS int64) {
	l.Log(EventJobFailed, SeverityError, "Job failed", WithJob(jobID),
		WithDetails(map[string]any{"error": errMsg, "duration_ms": durationMS}))
}

func (l *Logger) JobCancelled(jobID, reason string) {
	l.Log(EventJobCancelled, SeverityWarning, "Job cancelled", WithJob(jobID),
		WithDetails(map[string]any{"reason": reason}))
}

func (l *Logger) NodeStarted(jobID, nodeID, nodeType string) {
	l.Log(EventNodeStarted, SeverityDebug, "Node started", WithJob(jobID), WithNode(nodeID),
		WithDetails(map[string]any{"node_type": nodeType}))
}

func (l *Logger) NodeCompleted(jobID, nodeID, nodeType string, durationMS int64) {
	l.Log(EventNodeCompleted, SeverityDebug, "Node completed", WithJob(jobID), WithNode(nodeID),
		WithDetails(map[string]any{"node_type": nodeType, "duration_ms": durationMS}))
}

func (l *Logger) NodeFailed(jobID, nodeID, nodeType, errMsg string) {
	l.Log(EventNodeFailed, SeverityError, "Node failed", WithJob(jobID), WithNode(nodeID),
		WithDetails(map[string]any{"node_type": nodeType, "error": errMsg}))
}

func (l *Logger) CheckpointSaved(jobID, nodeID, checkpointID string) {
	l.Log(EventCheckpointSaved, SeverityDebug, "Checkpoint saved", WithJob(jobID), WithNode(nodeID),
		WithDetails(map[string]any{"checkpoint_id": checkpointID}))
}

func (l *Logger) CheckpointRestored(jobID, checkpointID, nodeID string) {
	l.Log(EventCheckpointRest, SeverityInfo, "Execution restored from checkpoint", WithJob(jobID),
		WithDetails(map[string]any{"checkpoint_id": checkpointID, "restored_at_node": nodeID}))
}

func (l *Logger) CircuitStateChanged(circuitName, newState string) {
	l.Log(EventCircuitChanged, SeverityWarning, fmt.Sprintf("Circuit %s is now %s", circuitName, newState),
		WithDetails(map[string]any{"circuit": circuitName, "state": newState}))
}

func (l *Logger) ErrorLogged(category, errMsg string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	details["category"] = category
	details["error"] = errMsg
	l.Log(EventError, SeverityError, errMsg, WithDetails(details))
}
