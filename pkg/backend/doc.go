/*
Package backend is the robot's client for the orchestrator queue service.

The Backend interface names exactly the operations the agent relies on:
claim-job, extend-lease, release, complete, fail, update-progress, the
cancellation flag read, job submission (scheduler), and the robots
registration upserts. PostgresBackend implements it with pgx against the
orchestrator's jobs and robots tables.

Claiming uses FOR UPDATE SKIP LOCKED so a fleet of robots polling the
same queue never double-claims, and the claim, status transition and lease
assignment land in one statement. A claim implies a lease: the heartbeat
loop calls ExtendLease before the visibility timeout runs out, and a
crashed robot's jobs simply reappear as pending once their lease expires.

Completion reports are deliberately tolerant of lease expiry: a late
CompleteJob on a job the orchestrator already reassigned updates the row
without error, and the orchestrator arbitrates.
*/
package backend
