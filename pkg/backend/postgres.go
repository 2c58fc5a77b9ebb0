package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/casare-rpa/robot/pkg/log"
	"github.com/casare-rpa/robot/pkg/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PostgresBackend implements Backend against the orchestrator's Postgres
// database. Claims use SKIP LOCKED so concurrent robots never double-claim.
type PostgresBackend struct {
	url        string
	visibility time.Duration
	pool       *pgxpool.Pool
	logger     zerolog.Logger
}

// NewPostgresBackend creates a backend client for the given connection
// URL. visibility is the lease duration attached to each claim.
func NewPostgresBackend(url string, visibility time.Duration) *PostgresBackend {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &PostgresBackend{
		url:        url,
		visibility: visibility,
		logger:     log.WithComponent("backend"),
	}
}

// Connect establishes the connection pool and verifies it with a ping
func (p *PostgresBackend) Connect(ctx context.Context) error {
	cfg, err := pgxpool.ParseConfig(p.url)
	if err != nil {
		return fmt.Errorf("invalid backend URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("backend unreachable: %w", err)
	}

	p.pool = pool
	return nil
}

// Close releases the connection pool
func (p *PostgresBackend) Close() {
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
}

// Ping is the minimal liveness probe used by health checks
func (p *PostgresBackend) Ping(ctx context.Context) error {
	if p.pool == nil {
		return errors.New("not connected")
	}
	return p.pool.Ping(ctx)
}

// ClaimJob atomically claims the highest-priority pending job for this
// robot's environment. Returns (nil, nil) when the queue is empty.
func (p *PostgresBackend) ClaimJob(ctx context.Context, robotID, environment string) (*types.Job, error) {
	const claimSQL = `
		UPDATE jobs SET
			status = 'running',
			claimed_by = $1,
			lease_deadline = now() + ($2 * interval '1 second'),
			lock_heartbeat = now()
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending'
			  AND claimed_by IS NULL
			  AND (environment = $3 OR environment IS NULL)
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, workflow_name, workflow_json, variables, priority,
		          retry_count, environment, tenant, lease_deadline, created_at`

	row := p.pool.QueryRow(ctx, claimSQL, robotID, p.visibility.Seconds(), environment)

	var (
		job       types.Job
		variables []byte
		env, ten  *string
	)
	err := row.Scan(&job.ID, &job.WorkflowName, &job.WorkflowJSON, &variables,
		&job.Priority, &job.RetryCount, &env, &ten, &job.LeaseDeadline, &job.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim failed: %w", err)
	}

	if env != nil {
		job.Environment = *env
	}
	if ten != nil {
		job.Tenant = *ten
	}
	if len(variables) > 0 {
		if err := json.Unmarshal(variables, &job.Variables); err != nil {
			return nil, fmt.Errorf("job %s has malformed variables: %w", job.ID, err)
		}
	}
	job.ClaimedBy = robotID
	job.Status = types.JobStatusRunning
	return &job, nil
}

// ExtendLease pushes the lease deadline forward and refreshes the lock
// heartbeat. A lease the orchestrator already reclaimed extends nothing;
// that is not an error.
func (p *PostgresBackend) ExtendLease(ctx context.Context, jobID string, d time.Duration) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE jobs SET
			lease_deadline = now() + ($2 * interval '1 second'),
			lock_heartbeat = now()
		WHERE id = $1 AND status = 'running'`,
		jobID, d.Seconds())
	if err != nil {
		return fmt.Errorf("lease extension failed: %w", err)
	}
	return nil
}

// ReleaseJob returns a claimed job to the pending queue
func (p *PostgresBackend) ReleaseJob(ctx context.Context, jobID string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE jobs SET
			status = 'pending',
			claimed_by = NULL,
			lease_deadline = NULL
		WHERE id = $1 AND status = 'running'`, jobID)
	if err != nil {
		return fmt.Errorf("release failed: %w", err)
	}
	return nil
}

// CompleteJob reports a successful outcome. Accepted even when the lease
// already expired and the job was handed elsewhere — the orchestrator
// resolves the race, the robot just reports.
func (p *PostgresBackend) CompleteJob(ctx context.Context, jobID string, result types.JobResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		UPDATE jobs SET
			status = 'completed',
			result = $2,
			completed_at = now()
		WHERE id = $1`, jobID, data)
	if err != nil {
		return fmt.Errorf("complete failed: %w", err)
	}
	return nil
}

// FailJob reports a failed outcome with its error message
func (p *PostgresBackend) FailJob(ctx context.Context, jobID, errMsg string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE jobs SET
			status = 'failed',
			error_message = $2,
			completed_at = now()
		WHERE id = $1`, jobID, errMsg)
	if err != nil {
		return fmt.Errorf("fail report failed: %w", err)
	}
	return nil
}

// UpdateProgress writes the progress JSONB field on the job row
func (p *PostgresBackend) UpdateProgress(ctx context.Context, jobID string, progress json.RawMessage) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE jobs SET progress = $2 WHERE id = $1`, jobID, progress)
	if err != nil {
		return fmt.Errorf("progress update failed: %w", err)
	}
	return nil
}

// CancelRequested reads the job's cancellation flag
func (p *PostgresBackend) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	var requested bool
	err := p.pool.QueryRow(ctx,
		`SELECT COALESCE(cancel_requested, false) FROM jobs WHERE id = $1`, jobID).Scan(&requested)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cancellation check failed: %w", err)
	}
	return requested, nil
}

// SubmitJob enqueues a new pending job (used by the scheduler)
func (p *PostgresBackend) SubmitJob(ctx context.Context, job *types.Job) error {
	variables, err := json.Marshal(job.Variables)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO jobs (id, workflow_name, workflow_json, variables, priority,
		                  retry_count, environment, tenant, status, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, 'pending', now())`,
		job.ID, job.WorkflowName, job.WorkflowJSON, variables,
		job.Priority, nullable(job.Environment), nullable(job.Tenant))
	if err != nil {
		return fmt.Errorf("job submission failed: %w", err)
	}
	return nil
}

// UpsertRegistration inserts or refreshes this robot's registration row,
// keyed by hostname.
func (p *PostgresBackend) UpsertRegistration(ctx context.Context, reg *types.Registration) error {
	caps, err := json.Marshal(reg.Capabilities)
	if err != nil {
		return err
	}
	metricsJSON, err := json.Marshal(reg.Metrics)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO robots (id, name, hostname, status, environment, capabilities, metrics, last_heartbeat)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (hostname) DO UPDATE SET
			id = EXCLUDED.id,
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			environment = EXCLUDED.environment,
			capabilities = EXCLUDED.capabilities,
			metrics = EXCLUDED.metrics,
			last_heartbeat = now()`,
		reg.RobotID, reg.Name, reg.Hostname, string(reg.Status), reg.Environment, caps, metricsJSON)
	if err != nil {
		return fmt.Errorf("registration upsert failed: %w", err)
	}
	return nil
}

// UpdateRobotStatus sets the registration row's status
func (p *PostgresBackend) UpdateRobotStatus(ctx context.Context, robotID string, status types.RobotStatus) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE robots SET status = $2, last_heartbeat = now() WHERE id = $1`,
		robotID, string(status))
	if err != nil {
		return fmt.Errorf("status update failed: %w", err)
	}
	return nil
}

// UpdatePresence pushes the periodic presence snapshot into the metrics
// JSONB column.
func (p *PostgresBackend) UpdatePresence(ctx context.Context, robotID string, presence types.Presence) error {
	data, err := json.Marshal(presence)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		UPDATE robots SET
			status = $2,
			metrics = $3,
			last_heartbeat = now()
		WHERE id = $1`,
		robotID, string(presence.Status), data)
	if err != nil {
		return fmt.Errorf("presence update failed: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
