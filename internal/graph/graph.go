package graph

import (
	"github.com/privacyrun/subjectgrid/internal/dataset"
	"github.com/privacyrun/subjectgrid/internal/fieldaddr"
)

// Edge is a field-level link between two collections. A directed edge may
// only be traversed from From to To; a bidirectional edge is resolved to a concrete
// direction by the traversal, depending on which side is reached first.
type Edge struct {
	From          fieldaddr.FieldAddress
	To            fieldaddr.FieldAddress
	Bidirectional bool
}

// String renders the edge in the canonical `from->to` form used by the
// graph snapshot and diff engine.
func (e Edge) String() string {
	return e.From.String() + "->" + e.To.String()
}

// Touches reports whether either endpoint belongs to the given collection.
func (e Edge) Touches(addr fieldaddr.CollectionAddress) bool {
	return e.From.IsMemberOf(addr) || e.To.IsMemberOf(addr)
}

// Resolve orients the edge with the given collection as the upstream side.
// The second return value is false when the edge cannot be traversed out of
// that collection.
func (e Edge) Resolve(upstream fieldaddr.CollectionAddress) (Edge, bool) {
	if e.From.IsMemberOf(upstream) {
		return Edge{From: e.From, To: e.To}, true
	}
	if e.Bidirectional && e.To.IsMemberOf(upstream) {
		return Edge{From: e.To, To: e.From}, true
	}
	return Edge{}, false
}

// Node is one collection inside the merged graph, annotated with the
// execution-order constraints and the connector handle of its dataset.
type Node struct {
	Address    fieldaddr.CollectionAddress
	Collection *dataset.Collection
	// ConnectionKey resolves the connector serving this node's dataset.
	ConnectionKey string
	// AfterCollections must be fully visited before this node runs.
	AfterCollections []fieldaddr.CollectionAddress
	// AfterDatasets names datasets that must be fully visited before this
	// node runs.
	AfterDatasets []string
}

// Graph is the merged, read-only dataset graph.
type Graph struct {
	// Nodes holds every collection keyed by address.
	Nodes map[fieldaddr.CollectionAddress]*Node
	// Edges holds every resolved reference edge, deduplicated.
	Edges []Edge
	// IdentityKeys maps identity-bearing fields to the seed key that
	// populates them.
	IdentityKeys map[fieldaddr.FieldAddress]string

	// edgesByCollection indexes Edges by the collections they touch.
	edgesByCollection map[fieldaddr.CollectionAddress][]Edge
}

// EdgesTouching returns every edge with an endpoint in the given collection.
func (g *Graph) EdgesTouching(addr fieldaddr.CollectionAddress) []Edge {
	return g.edgesByCollection[addr]
}

// SeedableNodes returns the addresses of collections holding an identity
// field populated by the given seed map, in no particular order.
func (g *Graph) SeedableNodes(seeds map[string]any) map[fieldaddr.CollectionAddress][]fieldaddr.FieldAddress {
	out := make(map[fieldaddr.CollectionAddress][]fieldaddr.FieldAddress)
	for field, seedKey := range g.IdentityKeys {
		if v, ok := seeds[seedKey]; ok && v != nil {
			addr := field.CollectionAddress()
			out[addr] = append(out[addr], field)
		}
	}
	return out
}
