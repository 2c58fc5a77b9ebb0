/*
Package metrics tracks job and node execution measurements for the robot
agent.

Two layers cooperate:

  - Prometheus collectors (metrics.go) expose counters, gauges and
    histograms for jobs, nodes, claims, circuit breaker state, backend
    operations, checkpoints and host resources. They register into the
    default registry at init.

  - Collector (collector.go) keeps the in-memory per-job and per-node-type
    aggregates the agent's status surface and self-checkpoint need:
    success rates, duration totals, recent job records, and the most
    frequent error messages. Counters can be re-seeded from a persisted
    agent checkpoint so statistics survive restarts.

ResourceMonitor samples host CPU and memory through gopsutil on a fixed
interval, feeding both the prometheus gauges and the presence snapshots
pushed to the backend.
*/
package metrics
