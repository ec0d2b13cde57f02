// Package graph merges one or more dataset declarations into a single
// read-only directed graph of collection nodes connected by field-level
// edges. Declared references are resolved into edges at build time;
// self-references and references to undeclared targets fail the build with
// an InvalidGraphError carrying every fault found.
//
// The returned Graph is immutable and may drive any number of concurrent
// traversals.
package graph
