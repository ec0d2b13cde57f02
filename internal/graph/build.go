package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/privacyrun/subjectgrid/internal/ctxlog"
	"github.com/privacyrun/subjectgrid/internal/dataset"
	"github.com/privacyrun/subjectgrid/internal/fieldaddr"
)

// InvalidGraphError reports every declaration fault that prevented the
// merged graph from being built.
type InvalidGraphError struct {
	Faults error
}

// Error implements the error interface.
func (e *InvalidGraphError) Error() string {
	return fmt.Sprintf("invalid dataset graph: %v", e.Faults)
}

// Unwrap exposes the accumulated faults.
func (e *InvalidGraphError) Unwrap() error {
	return e.Faults
}

// Build merges all collections from all datasets into one immutable graph,
// resolving field references into edges.
func Build(ctx context.Context, datasets []*dataset.Dataset) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Build: starting graph construction.", "datasets", len(datasets))

	var faults *multierror.Error

	g := &Graph{
		Nodes:             make(map[fieldaddr.CollectionAddress]*Node),
		IdentityKeys:      make(map[fieldaddr.FieldAddress]string),
		edgesByCollection: make(map[fieldaddr.CollectionAddress][]Edge),
	}

	// First pass: create all nodes.
	datasetNames := make(map[string]struct{}, len(datasets))
	for _, ds := range datasets {
		if _, dup := datasetNames[ds.Name]; dup {
			faults = multierror.Append(faults, fmt.Errorf("duplicate dataset %q", ds.Name))
			continue
		}
		datasetNames[ds.Name] = struct{}{}

		// A dataset without an explicit connection key is served by the
		// connection named after it, matching the declaration loader.
		connectionKey := ds.ConnectionKey
		if connectionKey == "" {
			connectionKey = ds.Name
		}

		for _, c := range ds.Collections {
			addr := fieldaddr.NewCollectionAddress(ds.Name, c.Name)
			g.Nodes[addr] = &Node{
				Address:          addr,
				Collection:       c,
				ConnectionKey:    connectionKey,
				AfterCollections: c.After,
				AfterDatasets:    ds.After,
			}
			for path, seedKey := range c.Identities() {
				g.IdentityKeys[addr.Field(path)] = seedKey
			}
		}
	}
	logger.Debug("Build: node creation complete.", "nodes", len(g.Nodes))

	// Second pass: resolve references into edges. Opposite declarations of
	// the same field pair collapse into one edge.
	merged := make(map[[2]fieldaddr.FieldAddress]*Edge)
	for addr, node := range g.Nodes {
		for path, refs := range node.Collection.References() {
			declaring := addr.Field(path)
			for _, ref := range refs {
				if ref.Target.IsMemberOf(addr) {
					faults = multierror.Append(faults,
						fmt.Errorf("field %s references its own collection", declaring))
					continue
				}
				if _, ok := g.Nodes[ref.Target.CollectionAddress()]; !ok {
					faults = multierror.Append(faults,
						fmt.Errorf("field %s references undeclared collection %s",
							declaring, ref.Target.CollectionAddress()))
					continue
				}
				mergeEdge(merged, declaring, ref)
			}
		}
	}

	for _, e := range merged {
		g.Edges = append(g.Edges, *e)
	}
	// Stable edge order keeps snapshots and logs deterministic.
	sort.Slice(g.Edges, func(i, j int) bool { return g.Edges[i].String() < g.Edges[j].String() })

	if err := faults.ErrorOrNil(); err != nil {
		return nil, &InvalidGraphError{Faults: err}
	}

	for _, e := range g.Edges {
		g.edgesByCollection[e.From.CollectionAddress()] = append(g.edgesByCollection[e.From.CollectionAddress()], e)
		g.edgesByCollection[e.To.CollectionAddress()] = append(g.edgesByCollection[e.To.CollectionAddress()], e)
	}

	logger.Debug("Build: graph construction successful.",
		"nodes", len(g.Nodes), "edges", len(g.Edges), "identity_fields", len(g.IdentityKeys))
	return g, nil
}

// mergeEdge folds one declared reference into the deduplicated edge set.
// The map key is the unordered field pair; a pair declared from both sides
// without direction stays bidirectional, while any directed declaration
// pins the direction.
func mergeEdge(merged map[[2]fieldaddr.FieldAddress]*Edge, declaring fieldaddr.FieldAddress, ref dataset.Reference) {
	a, b := declaring, ref.Target
	key := [2]fieldaddr.FieldAddress{a, b}
	if b.Less(a) {
		key = [2]fieldaddr.FieldAddress{b, a}
	}

	var candidate Edge
	switch ref.Direction {
	case dataset.DirectionTo:
		candidate = Edge{From: declaring, To: ref.Target}
	case dataset.DirectionFrom:
		candidate = Edge{From: ref.Target, To: declaring}
	default:
		candidate = Edge{From: declaring, To: ref.Target, Bidirectional: true}
	}

	existing, ok := merged[key]
	if !ok {
		merged[key] = &candidate
		return
	}

	// A directed declaration wins over a bidirectional one. Two directed
	// declarations in opposite directions mean either side may lead, which
	// is exactly a bidirectional edge.
	switch {
	case existing.Bidirectional && !candidate.Bidirectional:
		*existing = candidate
	case !existing.Bidirectional && !candidate.Bidirectional && existing.From != candidate.From:
		existing.Bidirectional = true
	}
}
