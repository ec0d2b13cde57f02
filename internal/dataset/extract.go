package dataset

import "github.com/privacyrun/subjectgrid/internal/fieldaddr"

// ExtractValues pulls every value addressed by path out of a row, descending
// through nested objects and flattening across array elements. Missing
// segments yield no values rather than an error.
func ExtractValues(row Row, path fieldaddr.FieldPath) []any {
	return extract(map[string]any(row), path.Segments())
}

func extract(value any, segments []string) []any {
	if value == nil {
		return nil
	}
	if len(segments) == 0 {
		return flatten(value)
	}

	switch v := value.(type) {
	case Row:
		return extract(map[string]any(v), segments)
	case map[string]any:
		next, ok := v[segments[0]]
		if !ok {
			return nil
		}
		return extract(next, segments[1:])
	case []any:
		var out []any
		for _, elem := range v {
			out = append(out, extract(elem, segments)...)
		}
		return out
	default:
		// A scalar cannot be descended into.
		return nil
	}
}

// flatten expands array values element-wise and drops nils, so a reference
// into an array field sees every element as a candidate value.
func flatten(value any) []any {
	switch v := value.(type) {
	case nil:
		return nil
	case []any:
		var out []any
		for _, elem := range v {
			out = append(out, flatten(elem)...)
		}
		return out
	default:
		return []any{value}
	}
}
