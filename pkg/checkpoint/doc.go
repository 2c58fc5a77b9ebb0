/*
Package checkpoint makes workflow execution resumable.

After every node completion the manager snapshots the execution path, the
executed-node set, and the serializable subset of workflow variables into
the offline store. On restart, the latest checkpoint for an interrupted
job seeds the engine's skip set so already-completed nodes are not re-run,
and restores every variable that is not a non-serializable placeholder.

Checkpoints are cleared only after a successful completion is acknowledged;
failed jobs keep theirs so the next attempt resumes where this one died.

Browser-state hints in checkpoints are diagnostic only. A resumed run
starts without a live browser; nodes that need one must re-acquire it.
*/
package checkpoint
