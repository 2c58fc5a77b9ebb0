package backend

import (
	"context"
	"encoding/json"
	"time"

	"github.com/casare-rpa/robot/pkg/types"
)

// Backend is the orchestrator queue service as seen by the robot. One
// implementation talks Postgres; tests substitute fakes.
type Backend interface {
	Connect(ctx context.Context) error
	Close()
	Ping(ctx context.Context) error

	// Job queue operations
	ClaimJob(ctx context.Context, robotID, environment string) (*types.Job, error)
	ExtendLease(ctx context.Context, jobID string, d time.Duration) error
	ReleaseJob(ctx context.Context, jobID string) error
	CompleteJob(ctx context.Context, jobID string, result types.JobResult) error
	FailJob(ctx context.Context, jobID, errMsg string) error
	UpdateProgress(ctx context.Context, jobID string, progress json.RawMessage) error
	CancelRequested(ctx context.Context, jobID string) (bool, error)
	SubmitJob(ctx context.Context, job *types.Job) error

	// Robot registration operations
	UpsertRegistration(ctx context.Context, reg *types.Registration) error
	UpdateRobotStatus(ctx context.Context, robotID string, status types.RobotStatus) error
	UpdatePresence(ctx context.Context, robotID string, presence types.Presence) error
}
