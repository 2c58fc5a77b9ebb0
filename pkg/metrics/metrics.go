package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Job metrics
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casare_robot_jobs_total",
			Help: "Total number of jobs executed by outcome",
		},
		[]string{"outcome"},
	)

	JobsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "casare_robot_jobs_running",
			Help: "Number of jobs currently executing",
		},
	)

	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "casare_robot_job_duration_seconds",
			Help:    "Job execution duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	// Node metrics
	NodesExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casare_robot_nodes_executed_total",
			Help: "Total number of nodes executed by node type and outcome",
		},
		[]string{"node_type", "outcome"},
	)

	NodeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "casare_robot_node_duration_seconds",
			Help:    "Node execution duration in seconds by node type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"node_type"},
	)

	NodesSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "casare_robot_nodes_skipped_total",
			Help: "Total number of nodes skipped on checkpoint resume",
		},
	)

	// Claim loop metrics
	ClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casare_robot_claims_total",
			Help: "Total number of claim attempts by result",
		},
		[]string{"result"},
	)

	// Circuit breaker metrics
	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "casare_robot_circuit_state",
			Help: "Circuit breaker state (0 = closed, 1 = half-open, 2 = open)",
		},
		[]string{"circuit"},
	)

	CircuitOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casare_robot_circuit_opened_total",
			Help: "Total number of times a circuit opened",
		},
		[]string{"circuit"},
	)

	// Connection metrics
	ReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "casare_robot_reconnects_total",
			Help: "Total number of backend reconnect attempts",
		},
	)

	BackendOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casare_robot_backend_operations_total",
			Help: "Total number of backend operations by result",
		},
		[]string{"result"},
	)

	// Checkpoint metrics
	CheckpointsSaved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "casare_robot_checkpoints_saved_total",
			Help: "Total number of checkpoints written",
		},
	)

	CheckpointsRestored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "casare_robot_checkpoints_restored_total",
			Help: "Total number of executions resumed from a checkpoint",
		},
	)

	// Resource metrics
	CPUPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "casare_robot_cpu_percent",
			Help: "Host CPU utilization percent",
		},
	)

	MemoryPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "casare_robot_memory_percent",
			Help: "Host memory utilization percent",
		},
	)

	// Scheduler metrics
	ScheduleFires = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casare_robot_schedule_fires_total",
			Help: "Total number of schedule fires by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobsRunning)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(NodesExecuted)
	prometheus.MustRegister(NodeDuration)
	prometheus.MustRegister(NodesSkipped)
	prometheus.MustRegister(ClaimsTotal)
	prometheus.MustRegister(CircuitState)
	prometheus.MustRegister(CircuitOpenedTotal)
	prometheus.MustRegister(ReconnectsTotal)
	prometheus.MustRegister(BackendOperations)
	prometheus.MustRegister(CheckpointsSaved)
	prometheus.MustRegister(CheckpointsRestored)
	prometheus.MustRegister(CPUPercent)
	prometheus.MustRegister(MemoryPercent)
	prometheus.MustRegister(ScheduleFires)
}
