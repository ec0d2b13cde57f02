// Package graphdiff compares the dataset graph a paused privacy request was
// executed against with the graph in effect when the request resumes.
// Datasets change between pause and resume; the diff tells the engine which
// cached node outputs are still trustworthy and which collections must run
// or re-run.
package graphdiff

import (
	"sort"

	"github.com/privacyrun/subjectgrid/internal/fieldaddr"
	"github.com/privacyrun/subjectgrid/internal/traversal"
)

// Repr is the persisted shape of one executed traversal: per collection,
// the incoming edge strings grouped by upstream collection. Seed entries
// appear under the root sentinel; terminal collections carry a terminator
// entry so end-node changes are visible to the diff.
type Repr struct {
	Collections map[string]map[string][]string `json:"collections"`
}

// BuildRepr snapshots a traversal into its persisted representation.
func BuildRepr(t *traversal.Traversal) *Repr {
	repr := &Repr{Collections: make(map[string]map[string][]string, len(t.Nodes))}
	for addr, node := range t.Nodes {
		upstreams := make(map[string][]string, len(node.IncomingEdges))
		for upstream, edges := range node.IncomingEdges {
			strs := make([]string, 0, len(edges))
			for _, e := range edges {
				strs = append(strs, e.String())
			}
			sort.Strings(strs)
			upstreams[upstream.String()] = strs
		}
		if node.IsTerminal {
			upstreams[fieldaddr.Terminator.String()] = []string{addr.String() + "->" + fieldaddr.Terminator.String()}
		}
		repr.Collections[addr.String()] = upstreams
	}
	return repr
}

// Summary is the outcome of comparing a previous run's graph with the
// current one, relative to the set of collections the previous run already
// processed.
type Summary struct {
	// AddedCollections are in the current graph only.
	AddedCollections []string
	// RemovedCollections were in the previous graph only.
	RemovedCollections []string
	// AddedEdges are in the current graph only.
	AddedEdges []string
	// RemovedEdges were in the previous graph only.
	RemovedEdges []string
	// AddedUpstreamEdges maps each already-processed collection that gained
	// an incoming edge, directly or through a downstream chain of processed
	// collections, to the added edges behind it. Cached outputs of these
	// collections are stale.
	AddedUpstreamEdges map[string][]string
	// RemainingCollections are current-graph collections the previous run
	// never processed.
	RemainingCollections []string
}

// Diff compares a previous run's graph representation with the current one.
// processed names the collections whose outputs the previous run completed.
// A nil or malformed previous representation yields a nil summary; the
// caller must then treat every cached output as stale.
func Diff(previous, current *Repr, processed map[string]bool) *Summary {
	if previous == nil || previous.Collections == nil || current == nil || current.Collections == nil {
		return nil
	}

	s := &Summary{AddedUpstreamEdges: make(map[string][]string)}

	for name := range current.Collections {
		if _, ok := previous.Collections[name]; !ok {
			s.AddedCollections = append(s.AddedCollections, name)
		}
		if !processed[name] {
			s.RemainingCollections = append(s.RemainingCollections, name)
		}
	}
	for name := range previous.Collections {
		if _, ok := current.Collections[name]; !ok {
			s.RemovedCollections = append(s.RemovedCollections, name)
		}
	}

	prevEdges := edgeSet(previous)
	currEdges := edgeSet(current)
	for edge := range currEdges {
		if !prevEdges[edge] {
			s.AddedEdges = append(s.AddedEdges, edge)
		}
	}
	for edge := range prevEdges {
		if !currEdges[edge] {
			s.RemovedEdges = append(s.RemovedEdges, edge)
		}
	}

	s.markStale(current, processed)

	sort.Strings(s.AddedCollections)
	sort.Strings(s.RemovedCollections)
	sort.Strings(s.AddedEdges)
	sort.Strings(s.RemovedEdges)
	sort.Strings(s.RemainingCollections)
	return s
}

// markStale finds the processed collections invalidated by added edges: a
// processed collection that directly gained an incoming edge is stale, and
// staleness flows downstream through whatever processed collections consume
// a stale one.
func (s *Summary) markStale(current *Repr, processed map[string]bool) {
	addedByTarget := make(map[string][]string)
	added := make(map[string]bool, len(s.AddedEdges))
	for _, edge := range s.AddedEdges {
		added[edge] = true
	}
	for name, upstreams := range current.Collections {
		for _, edges := range upstreams {
			for _, edge := range edges {
				if added[edge] {
					addedByTarget[name] = append(addedByTarget[name], edge)
				}
			}
		}
	}

	// Seed the walk with directly-invalidated processed collections, then
	// push staleness along current-graph edges.
	var queue []string
	for name, edges := range addedByTarget {
		if processed[name] {
			sort.Strings(edges)
			s.AddedUpstreamEdges[name] = edges
			queue = append(queue, name)
		}
	}
	for len(queue) > 0 {
		stale := queue[0]
		queue = queue[1:]
		for name, upstreams := range current.Collections {
			if _, already := s.AddedUpstreamEdges[name]; already || !processed[name] {
				continue
			}
			edges, ok := upstreams[stale]
			if !ok {
				continue
			}
			carried := append([]string(nil), edges...)
			sort.Strings(carried)
			s.AddedUpstreamEdges[name] = carried
			queue = append(queue, name)
		}
	}
}

func edgeSet(r *Repr) map[string]bool {
	set := make(map[string]bool)
	for _, upstreams := range r.Collections {
		for _, edges := range upstreams {
			for _, edge := range edges {
				set[edge] = true
			}
		}
	}
	return set
}
