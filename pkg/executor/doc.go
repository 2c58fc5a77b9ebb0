/*
Package executor runs claimed jobs with bounded concurrency.

A counting semaphore caps concurrent workflow executions; submissions
queue FIFO behind it and a dispatcher loop spawns one execution task per
admitted job. Each task owns the full per-job wiring:

	┌──────────────────── ONE JOB EXECUTION ────────────────────┐
	│                                                            │
	│  parse document ─▶ progress.StartJob ─▶ checkpoint.StartJob│
	│        │                                                   │
	│        ▼                                                   │
	│  workflow engine (black box)                               │
	│    node events ─▶ metrics, progress, audit,                │
	│                   checkpoint.SaveCheckpoint                │
	│        │                                                   │
	│  cancellation poller ──(latch set)──▶ cancel engine ctx    │
	│        │                                                   │
	│        ▼                                                   │
	│  outcome ─▶ metrics.EndJob ─▶ progress.EndJob ─▶ audit     │
	│           ─▶ clear checkpoints (success only)              │
	│           ─▶ completion callback                           │
	└────────────────────────────────────────────────────────────┘

Cancellation is distinguished from failure throughout: a cancelled job
reports the cancelled progress stage, emits the cancelled audit event, and
keeps its checkpoints. An engine panic is caught and converted into a job
failure rather than tearing down the agent.
*/
package executor
