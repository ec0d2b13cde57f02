package traversal

import (
	"fmt"

	"github.com/privacyrun/subjectgrid/internal/fieldaddr"
	"github.com/privacyrun/subjectgrid/internal/graph"
)

// Node wraps one collection inside one traversal run. It is created when the
// traversal first visits the collection and mutated as later visits resolve
// more edges; it lives for the duration of that traversal only.
type Node struct {
	Address fieldaddr.CollectionAddress
	// Graph is the underlying immutable graph node.
	Graph *graph.Node
	// IncomingEdges holds the resolved upstream edges grouped by upstream
	// collection. Seed-identity entries appear under the root sentinel.
	IncomingEdges map[fieldaddr.CollectionAddress][]graph.Edge
	// Children holds the resolved downstream edges grouped by downstream
	// collection.
	Children map[fieldaddr.CollectionAddress][]graph.Edge
	// IsTerminal marks a node with no resolved outgoing edge.
	IsTerminal bool
}

// UnreachableCollectionError reports a collection that could otherwise run
// but is permanently blocked by an `after` constraint naming a collection or
// dataset the traversal can never visit.
type UnreachableCollectionError struct {
	// Collection is the blocked collection.
	Collection fieldaddr.CollectionAddress
	// After is the unsatisfied `after` reference, either a
	// `dataset:collection` address or a bare dataset name.
	After string
}

// Error implements the error interface.
func (e *UnreachableCollectionError) Error() string {
	return fmt.Sprintf("collection %s can never run: after constraint %q is unsatisfiable", e.Collection, e.After)
}

// Traversal is the computed execution plan for one seed map over one graph.
type Traversal struct {
	// Graph is the immutable graph the plan was computed from.
	Graph *graph.Graph
	// Seeds are the identity values the expansion started from.
	Seeds map[string]any
	// Nodes holds one entry per reachable collection.
	Nodes map[fieldaddr.CollectionAddress]*Node
	// Order is the stable visit order. Among simultaneously-ready
	// collections the order is address-sorted; it never affects
	// correctness, only scheduling.
	Order []fieldaddr.CollectionAddress
	// EndNodes are the visited collections with no resolved outgoing edge.
	EndNodes []fieldaddr.CollectionAddress
	// Unreachable lists declared collections the expansion never visited.
	Unreachable []fieldaddr.CollectionAddress
}
