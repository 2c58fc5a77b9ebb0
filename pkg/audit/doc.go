/*
Package audit provides the robot's append-only structured event stream.

Every significant lifecycle event — robot start/stop, connection changes,
job claims and outcomes, node execution, checkpoint activity, circuit
breaker transitions — is written as one JSON line to a size-rotated
audit_<date>.jsonl file. Rotation keeps a bounded number of backups so the
audit trail survives long uptimes without unbounded growth.

A small in-memory ring of recent entries backs the Recent and Query
accessors; the file remains the durable record.
*/
package audit
