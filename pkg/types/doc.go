/*
Package types defines the wire-level data model shared across the robot
agent's subsystems.

Jobs, robot registrations, presence snapshots and job results are plain
structs mirroring the backend queue's rows. Workflow documents stay opaque
(json.RawMessage) — the agent never interprets node descriptors, it only
hands them to the external workflow engine.

# Workflow Variables

Workflow variables are heterogeneous. Variable is a tagged union over
{null, string, int64, float64, bool, list, map, opaque} and is the only
path through which variable values are serialized into checkpoints. A value
that cannot be JSON-encoded becomes an opaque placeholder string beginning
with NonSerializablePrefix; restore code recognizes the marker and never
injects such values back into a resumed execution.
*/
package types
