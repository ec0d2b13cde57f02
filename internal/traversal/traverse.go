package traversal

import (
	"context"
	"sort"

	"github.com/privacyrun/subjectgrid/internal/ctxlog"
	"github.com/privacyrun/subjectgrid/internal/fieldaddr"
	"github.com/privacyrun/subjectgrid/internal/graph"
)

// Traverse computes the execution plan for the given seed identity values.
// The reachable set and every node's edge set are deterministic for a fixed
// graph and seed map.
func Traverse(ctx context.Context, g *graph.Graph, seeds map[string]any) (*Traversal, error) {
	logger := ctxlog.FromContext(ctx)

	t := &Traversal{
		Graph: g,
		Seeds: seeds,
		Nodes: make(map[fieldaddr.CollectionAddress]*Node),
	}
	seedable := g.SeedableNodes(seeds)
	logger.Debug("Traverse: starting expansion.", "collections", len(g.Nodes), "seedable", len(seedable))

	visited := make(map[fieldaddr.CollectionAddress]bool)

	// Stable candidate order keeps runs deterministic.
	candidates := make([]fieldaddr.CollectionAddress, 0, len(g.Nodes))
	for addr := range g.Nodes {
		candidates = append(candidates, addr)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Less(candidates[j]) })

	// Fixpoint expansion: each pass visits every collection that became
	// ready, until a pass makes no progress.
	for {
		progress := false
		for _, addr := range candidates {
			if visited[addr] {
				continue
			}
			if !t.afterSatisfied(addr, visited) {
				continue
			}
			seedFields := seedable[addr]
			if len(seedFields) == 0 && !t.edgeReady(addr, visited) {
				continue
			}

			t.visit(addr, seedFields, visited)
			visited[addr] = true
			progress = true
		}
		if !progress {
			break
		}
	}

	// Anything left unvisited is unreachable. That is fatal only when an
	// otherwise-runnable collection is starved by an after constraint.
	for _, addr := range candidates {
		if visited[addr] {
			continue
		}
		seedFields := seedable[addr]
		runnable := len(seedFields) > 0 || t.edgeReady(addr, visited)
		if runnable {
			if blocked := t.unsatisfiedAfter(addr, visited); blocked != "" {
				return nil, &UnreachableCollectionError{Collection: addr, After: blocked}
			}
		}
		logger.Warn("Collection is unreachable for this seed map.", "collection", addr.String())
		t.Unreachable = append(t.Unreachable, addr)
	}

	// Terminal nodes are those the expansion gave no children.
	for _, addr := range t.Order {
		node := t.Nodes[addr]
		if len(node.Children) == 0 {
			node.IsTerminal = true
			t.EndNodes = append(t.EndNodes, addr)
		}
	}

	logger.Debug("Traverse: expansion complete.",
		"visited", len(t.Order), "end_nodes", len(t.EndNodes), "unreachable", len(t.Unreachable))
	return t, nil
}

// edgeReady reports whether addr can be entered through its edges: every
// directed incoming edge's upstream collection is visited, and at least one
// edge arrives from a visited collection. Bidirectional edges never gate
// readiness; they resolve toward whichever side is visited first.
func (t *Traversal) edgeReady(addr fieldaddr.CollectionAddress, visited map[fieldaddr.CollectionAddress]bool) bool {
	hasEntry := false
	for _, e := range t.Graph.EdgesTouching(addr) {
		if e.Bidirectional {
			other := e.From.CollectionAddress()
			if other == addr {
				other = e.To.CollectionAddress()
			}
			if visited[other] {
				hasEntry = true
			}
			continue
		}
		if e.To.IsMemberOf(addr) {
			if !visited[e.From.CollectionAddress()] {
				return false
			}
			hasEntry = true
		}
	}
	return hasEntry
}

// afterSatisfied reports whether every collection and dataset named in the
// node's after constraints has been fully visited.
func (t *Traversal) afterSatisfied(addr fieldaddr.CollectionAddress, visited map[fieldaddr.CollectionAddress]bool) bool {
	return t.unsatisfiedAfter(addr, visited) == ""
}

// unsatisfiedAfter returns the first after reference of addr that is not yet
// fully visited, or the empty string when all are satisfied.
func (t *Traversal) unsatisfiedAfter(addr fieldaddr.CollectionAddress, visited map[fieldaddr.CollectionAddress]bool) string {
	node := t.Graph.Nodes[addr]
	for _, after := range node.AfterCollections {
		if !visited[after] {
			return after.String()
		}
	}
	for _, dsName := range node.AfterDatasets {
		for other := range t.Graph.Nodes {
			if other.Dataset == dsName && !visited[other] {
				return dsName
			}
		}
	}
	return ""
}

// visit creates the traversal node for addr, resolving its incoming edges
// from already-visited collections (and from the root sentinel for seeded
// identity fields), and registers it as a child of each upstream node.
func (t *Traversal) visit(addr fieldaddr.CollectionAddress, seedFields []fieldaddr.FieldAddress, visited map[fieldaddr.CollectionAddress]bool) {
	node := &Node{
		Address:       addr,
		Graph:         t.Graph.Nodes[addr],
		IncomingEdges: make(map[fieldaddr.CollectionAddress][]graph.Edge),
		Children:      make(map[fieldaddr.CollectionAddress][]graph.Edge),
	}

	// Seed identity values flow in as edges from the virtual root, as if
	// the root were a one-row collection whose fields are the seed keys.
	sort.Slice(seedFields, func(i, j int) bool { return seedFields[i].Less(seedFields[j]) })
	for _, field := range seedFields {
		seedKey := t.Graph.IdentityKeys[field]
		rootField := fieldaddr.Root.Field(fieldaddr.NewFieldPath(seedKey))
		node.IncomingEdges[fieldaddr.Root] = append(node.IncomingEdges[fieldaddr.Root],
			graph.Edge{From: rootField, To: field})
	}

	t.Nodes[addr] = node
	t.Order = append(t.Order, addr)

	edges := t.Graph.EdgesTouching(addr)
	for _, e := range edges {
		other := e.From.CollectionAddress()
		if other == addr {
			other = e.To.CollectionAddress()
		}
		if !visited[other] {
			continue
		}
		resolved, ok := e.Resolve(other)
		if !ok || !resolved.To.IsMemberOf(addr) {
			continue
		}
		node.IncomingEdges[other] = append(node.IncomingEdges[other], resolved)
		t.Nodes[other].Children[addr] = append(t.Nodes[other].Children[addr], resolved)
	}

	// A directed edge out of addr whose downstream was already entered
	// through its own seed still carries addr's values: attach it to the
	// earlier node late. Skipped when the downstream already feeds addr,
	// directly or not, as that would deadlock the execution ordering.
	for _, e := range edges {
		if e.Bidirectional {
			continue
		}
		other := e.To.CollectionAddress()
		if other == addr || !visited[other] {
			continue
		}
		resolved, ok := e.Resolve(addr)
		if !ok || !resolved.To.IsMemberOf(other) || t.dependsOn(addr, other) {
			continue
		}
		t.Nodes[other].IncomingEdges[addr] = append(t.Nodes[other].IncomingEdges[addr], resolved)
		node.Children[other] = append(node.Children[other], resolved)
	}
}

// dependsOn reports whether from consumes target's values, directly or
// through intermediate collections, in the traversal built so far.
func (t *Traversal) dependsOn(from, target fieldaddr.CollectionAddress) bool {
	seen := make(map[fieldaddr.CollectionAddress]bool)
	var walk func(addr fieldaddr.CollectionAddress) bool
	walk = func(addr fieldaddr.CollectionAddress) bool {
		if seen[addr] {
			return false
		}
		seen[addr] = true
		for upstream := range t.Nodes[addr].IncomingEdges {
			if upstream == target {
				return true
			}
			if upstream == fieldaddr.Root {
				continue
			}
			if _, ok := t.Nodes[upstream]; ok && walk(upstream) {
				return true
			}
		}
		return false
	}
	return walk(from)
}
