// Package projection narrows access-phase results to the data categories a
// policy rule targets. The graph's field declarations carry the category
// labels; projection keeps every field whose label falls under a target
// category and drops the rest, preserving the nested shape of the rows.
package projection

import (
	"github.com/privacyrun/subjectgrid/internal/dataset"
	"github.com/privacyrun/subjectgrid/internal/fieldaddr"
	"github.com/privacyrun/subjectgrid/internal/graph"
	"github.com/privacyrun/subjectgrid/internal/policy"
)

// FilterByDataCategories projects every collection's rows down to the
// fields labeled with (a descendant of) one of the target categories. Rows
// keep their nested structure: a matched sub-field survives inside its
// enclosing objects and arrays, unmatched siblings disappear. Collections
// with no matched field project to empty rows, preserving row counts.
//
// Projecting an already-projected result is a no-op.
func FilterByDataCategories(results map[fieldaddr.CollectionAddress][]dataset.Row, targets []string, g *graph.Graph) map[fieldaddr.CollectionAddress][]dataset.Row {
	out := make(map[fieldaddr.CollectionAddress][]dataset.Row, len(results))
	for addr, rows := range results {
		node, ok := g.Nodes[addr]
		if !ok {
			continue
		}
		tree := allowedTree(node, targets)
		projected := make([]dataset.Row, 0, len(rows))
		for _, row := range rows {
			projected = append(projected, projectRow(row, tree))
		}
		out[addr] = projected
	}
	return out
}

// pathTree is the trie of field paths to keep. A nil subtree marks a leaf:
// the whole value under it survives.
type pathTree map[string]pathTree

// allowedTree collects the collection's matched field paths into a trie.
func allowedTree(node *graph.Node, targets []string) pathTree {
	tree := make(pathTree)
	for category, paths := range node.Collection.FieldsByDataCategory() {
		for _, target := range targets {
			if !policy.MatchesCategory(target, category) {
				continue
			}
			for _, path := range paths {
				tree.insert(path.Segments())
			}
			break
		}
	}
	return tree
}

func (t pathTree) insert(segments []string) {
	if len(segments) == 0 {
		return
	}
	head := segments[0]
	if len(segments) == 1 {
		t[head] = nil
		return
	}
	sub, ok := t[head]
	if ok && sub == nil {
		// An ancestor leaf already keeps the whole subtree.
		return
	}
	if sub == nil {
		sub = make(pathTree)
		t[head] = sub
	}
	sub.insert(segments[1:])
}

// projectRow keeps the row's values at the trie's paths.
func projectRow(row dataset.Row, tree pathTree) dataset.Row {
	out := make(dataset.Row, len(tree))
	for name, sub := range tree {
		value, ok := row[name]
		if !ok {
			continue
		}
		if sub == nil {
			out[name] = value
			continue
		}
		if projected, ok := projectValue(value, sub); ok {
			out[name] = projected
		}
	}
	return out
}

// projectValue narrows a nested value. The bool is false when nothing under
// the value matched.
func projectValue(value any, tree pathTree) (any, bool) {
	switch v := value.(type) {
	case map[string]any:
		projected := projectRow(dataset.Row(v), tree)
		if len(projected) == 0 {
			return nil, false
		}
		return map[string]any(projected), true
	case []any:
		var out []any
		for _, elem := range v {
			if projected, ok := projectValue(elem, tree); ok {
				out = append(out, projected)
			}
		}
		if len(out) == 0 {
			return nil, false
		}
		return out, true
	default:
		return nil, false
	}
}
