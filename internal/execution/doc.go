// Package execution drives a traversal plan through its connectors. An
// Engine runs the access phase (gather every row tied to the subject) and
// the erasure phase (mask the policy-targeted fields of those rows) over a
// concurrent worker pool whose scheduling follows the plan's dependency
// structure: access flows with the data, erasure flows against it so no
// collection loses the values a downstream lookup still needs.
//
// A run halts as a whole when any node pauses for manual input or fails.
// A pause lets the connector calls already in flight finish and keeps
// their outputs; a failure cancels them. Either way the halt is
// checkpointed together with a snapshot of the executed graph,
// and a later run with FromPaused set resumes from the cached per-node
// outputs, re-running only what a graph change invalidated.
package execution
