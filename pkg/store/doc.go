/*
Package store implements the offline store: the robot's durable local cache
that survives backend outages and agent crashes.

A single BoltDB file holds three logical tables:

	┌──────────────────── OFFLINE STORE ────────────────────┐
	│                                                        │
	│  cached_jobs        job-id → CachedJob                 │
	│    claimed jobs, their outcomes, and sync state        │
	│                                                        │
	│  job_checkpoints    job-id → { seq → CheckpointRecord }│
	│    per-node execution snapshots, ordered by sequence   │
	│                                                        │
	│  execution_history  seq → EventRecord                  │
	│    append-only audit of job lifecycle events           │
	│                                                        │
	└────────────────────────────────────────────────────────┘

Cached jobs move through cached → in_progress → completed/failed → synced.
Jobs stuck at in_progress after a restart are crash survivors; the agent
resumes them from their latest checkpoint. Completed-but-unsynced jobs are
re-reported once the backend is reachable again.

Checkpoints for a job are keyed by a per-job insertion sequence, so the
latest checkpoint is always the bucket's last key regardless of clock
behavior. MarkCompleted is idempotent and ClearCheckpoints on an already
clean job is a no-op.

A backing file that cannot be opened refuses to initialize — the agent
must not run without a working offline store.
*/
package store
