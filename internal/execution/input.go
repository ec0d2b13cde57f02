package execution

import (
	"fmt"

	"github.com/privacyrun/subjectgrid/internal/connector"
	"github.com/privacyrun/subjectgrid/internal/dataset"
	"github.com/privacyrun/subjectgrid/internal/fieldaddr"
	"github.com/privacyrun/subjectgrid/internal/traversal"
)

// buildInput gathers the values flowing into a node: seed identities arrive
// over root-sentinel edges, everything else is extracted from the upstream
// nodes' output rows along the resolved edges. Values are deduplicated per
// destination field; fields that gathered nothing are omitted.
func buildInput(node *traversal.Node, seeds map[string]any, outputs func(fieldaddr.CollectionAddress) []dataset.Row) connector.InputData {
	input := make(connector.InputData)
	seen := make(map[fieldaddr.FieldPath]map[string]struct{})

	add := func(path fieldaddr.FieldPath, value any) {
		if value == nil {
			return
		}
		key := fmt.Sprint(value)
		if _, ok := seen[path]; !ok {
			seen[path] = make(map[string]struct{})
		}
		if _, dup := seen[path][key]; dup {
			return
		}
		seen[path][key] = struct{}{}
		input[path] = append(input[path], value)
	}

	for upstream, edges := range node.IncomingEdges {
		if upstream == fieldaddr.Root {
			for _, e := range edges {
				add(e.To.Path, seeds[string(e.From.Path)])
			}
			continue
		}
		rows := outputs(upstream)
		for _, e := range edges {
			for _, row := range rows {
				for _, value := range dataset.ExtractValues(row, e.From.Path) {
					add(e.To.Path, value)
				}
			}
		}
	}
	return input
}
