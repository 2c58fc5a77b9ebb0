/*
Package workflow defines the workflow document model and the boundary to
the external workflow engine.

The agent does not traverse workflow graphs itself. A Document is parsed
only far enough to validate its invariants (connections reference existing
nodes, a start node exists) and to count nodes for progress reporting; node
descriptors stay opaque. The Engine interface is the black box that
actually executes nodes, emitting per-node lifecycle events through Hooks
and returning a terminal Result.

Documents produced by the designer always contain a StartNode. Hand-written
documents without one get a hidden entry node auto-wired to every node
whose exec_in port is unconnected, the same normalization the designer
applies on load.
*/
package workflow
