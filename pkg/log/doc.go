/*
Package log provides structured logging for the robot agent using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific child loggers, configurable log levels, and optional
size-rotated file output. All logs include timestamps and support filtering
by severity for production debugging.

# Usage

Initialize once at startup, then derive child loggers per component:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		FilePath:   "/home/user/.casare_rpa/logs/robot.log",
		Compress:   true,
	})

	logger := log.WithComponent("executor")
	logger.Info().Str("job_id", jobID).Msg("Job started")

File output is rotated by lumberjack: size-based rotation with a bounded
number of compressed backups and an age limit, so a long-running agent never
fills the disk with its own operational logs.

# Component Loggers

Child loggers attach a stable field so log lines can be filtered per
subsystem or per execution:

  - WithComponent("agent") — subsystem tag
  - WithRobotID(id) — this robot instance
  - WithJobID(id) — one workflow execution
  - WithNodeID(id) — one node within a workflow
*/
package log
