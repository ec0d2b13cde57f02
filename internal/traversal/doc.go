// Package traversal turns a merged dataset graph plus a map of seed identity
// values into an ordered, cycle-free execution plan. Expansion is
// breadth-first from the virtual root that holds the seeds: a collection is
// visited once every required upstream dependency (directed reference edges
// and `after` ordering constraints) is satisfied, or immediately when one of
// its identity fields is populated by a seed value.
//
// Collections the expansion never reaches are reported but only fail the
// traversal when an otherwise-runnable collection is blocked by an `after`
// constraint naming them.
package traversal
