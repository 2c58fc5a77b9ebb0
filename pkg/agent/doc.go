/*
Package agent is the robot's top-level coordinator.

The Agent owns the whole lifecycle: it resolves the persistent robot
identity, brings up the audit log, offline store, metrics, connection
manager, circuit breaker and executor, registers the robot with the
backend, and runs the background loops:

	┌──────────────────── AGENT LOOPS ─────────────────────────┐
	│                                                           │
	│  claim      pause gate → capacity → breaker → claim job   │
	│             adaptive idle backoff up to 2s                │
	│  heartbeat  extend every executing job's lease            │
	│  presence   push status + CPU/memory into the robots row  │
	│  checkpoint persist the agent self-checkpoint, prune old  │
	│  sync       re-report cached outcomes after outages       │
	│                                                           │
	└───────────────────────────────────────────────────────────┘

The claim path is breaker-outside-retry: the circuit breaker wraps the
connection manager's Execute, so one breaker admission buys at most one
reconnect-and-retry underneath. A claimed job is cached in the offline
store before execution; its outcome is reported through the same path and
left queued for the sync loop when the backend is unreachable.

Shutdown order is fixed: drain current jobs (bounded by the grace
period), persist the final self-checkpoint, stop the loops, mark the
registration offline, then tear down the executor, resources, connection
and stores. Pause closes only the claim gate; executing jobs continue.
*/
package agent
