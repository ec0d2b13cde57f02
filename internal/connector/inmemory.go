package connector

import (
	"context"
	"fmt"
	"sync"

	"github.com/privacyrun/subjectgrid/internal/dataset"
	"github.com/privacyrun/subjectgrid/internal/datatype"
	"github.com/privacyrun/subjectgrid/internal/fieldaddr"
	"github.com/privacyrun/subjectgrid/internal/policy"
	"github.com/privacyrun/subjectgrid/internal/traversal"
)

// InMemory is a connector over rows held in process memory, keyed by
// collection address. It backs local runs and tests.
type InMemory struct {
	mu   sync.RWMutex
	data map[fieldaddr.CollectionAddress][]dataset.Row
}

// NewInMemory creates an in-memory connector over the given rows.
func NewInMemory(data map[fieldaddr.CollectionAddress][]dataset.Row) *InMemory {
	if data == nil {
		data = make(map[fieldaddr.CollectionAddress][]dataset.Row)
	}
	return &InMemory{data: data}
}

// Rows returns a copy of the stored rows of one collection, for assertions.
func (c *InMemory) Rows(addr fieldaddr.CollectionAddress) []dataset.Row {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]dataset.Row(nil), c.data[addr]...)
}

// RetrieveData implements Connector. A row matches when any input field
// holds any of the gathered values, compared after normalization through
// the field's declared data type.
func (c *InMemory) RetrieveData(_ context.Context, node *traversal.Node, _ *policy.Policy, _ RequestContext, input InputData) ([]dataset.Row, error) {
	if len(input) == 0 {
		return nil, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []dataset.Row
	for _, row := range c.data[node.Address] {
		if rowMatches(node, row, input) {
			out = append(out, row)
		}
	}
	return out, nil
}

// MaskData implements Connector. Stored rows matching the given rows by
// primary key have their policy-targeted fields overwritten with nil.
func (c *InMemory) MaskData(_ context.Context, node *traversal.Node, pol *policy.Policy, _ RequestContext, rows []dataset.Row, _ InputData) (int, error) {
	targets := MaskTargets(node, pol)
	pkPaths := node.Graph.Collection.PrimaryKeyPaths()
	if len(pkPaths) == 0 {
		return 0, fmt.Errorf("collection %s has no primary key", node.Address)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for _, stored := range c.data[node.Address] {
		for _, row := range rows {
			if !samePrimaryKey(stored, row, pkPaths) {
				continue
			}
			for _, path := range targets {
				maskPath(map[string]any(stored), path.Segments())
			}
			count++
			break
		}
	}
	return count, nil
}

// TestConnection implements Connector.
func (c *InMemory) TestConnection(context.Context) error {
	return nil
}

// rowMatches reports whether any input field value appears in the row.
func rowMatches(node *traversal.Node, row dataset.Row, input InputData) bool {
	for path, values := range input {
		rowValues := dataset.ExtractValues(row, path)
		if len(rowValues) == 0 {
			continue
		}
		converter := converterFor(node, path)
		for _, want := range values {
			for _, have := range rowValues {
				if equalValues(converter, want, have) {
					return true
				}
			}
		}
	}
	return false
}

// converterFor resolves the declared data type of a field, defaulting to
// the no-op converter.
func converterFor(node *traversal.Node, path fieldaddr.FieldPath) *datatype.Converter {
	if f, ok := node.Graph.Collection.FieldByPath(path); ok && f.Base().Type != nil {
		return f.Base().Type
	}
	return datatype.None
}

// equalValues compares two values after normalizing both through the
// field's converter. Values the converter rejects fall back to their
// printed form, so a type mismatch degrades to a miss rather than a crash.
func equalValues(c *datatype.Converter, a, b any) bool {
	ca, okA := c.Convert(a)
	cb, okB := c.Convert(b)
	if okA && okB {
		return fmt.Sprint(ca) == fmt.Sprint(cb)
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func samePrimaryKey(a, b dataset.Row, pkPaths []fieldaddr.FieldPath) bool {
	for _, path := range pkPaths {
		av := dataset.ExtractValues(a, path)
		bv := dataset.ExtractValues(b, path)
		if len(av) != 1 || len(bv) != 1 || fmt.Sprint(av[0]) != fmt.Sprint(bv[0]) {
			return false
		}
	}
	return true
}

// maskPath overwrites the addressed value with nil, descending through
// nested maps and masking array elements individually.
func maskPath(value any, segments []string) {
	if len(segments) == 0 || value == nil {
		return
	}
	switch v := value.(type) {
	case map[string]any:
		if len(segments) == 1 {
			if _, ok := v[segments[0]]; ok {
				v[segments[0]] = nil
			}
			return
		}
		maskPath(v[segments[0]], segments[1:])
	case []any:
		for _, elem := range v {
			maskPath(elem, segments)
		}
	}
}
