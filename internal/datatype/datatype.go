// Package datatype provides the registry of scalar type converters used to
// normalize values crossing connector boundaries. Converters never fail with
// an error: a value that cannot be represented in the target type yields
// (nil, false), leaving the "is absence fatal" decision to the caller.
package datatype

import (
	"fmt"
	"regexp"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Converter normalizes arbitrary values into one scalar Go representation.
type Converter struct {
	name string
	fn   func(v any) (any, bool)
}

// Name returns the registry name of the converter.
func (c *Converter) Name() string {
	return c.name
}

// Convert attempts to normalize v. The second return value reports whether
// the conversion succeeded; it is false for nil input or unrepresentable
// values, never an error.
func (c *Converter) Convert(v any) (any, bool) {
	if v == nil {
		return nil, false
	}
	return c.fn(v)
}

// objectIDPattern matches the 24-hex-digit form of a document-store object id.
var objectIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)

// toCty lifts a Go value into the cty type system so the shared conversion
// rules (string<->number, string<->bool, etc.) apply uniformly.
func toCty(v any) (cty.Value, bool) {
	ty, err := gocty.ImpliedType(v)
	if err != nil {
		return cty.NilVal, false
	}
	val, err := gocty.ToCtyValue(v, ty)
	if err != nil {
		return cty.NilVal, false
	}
	return val, true
}

// asPrimitive converts v to the given primitive cty type.
func asPrimitive(v any, target cty.Type) (cty.Value, bool) {
	val, ok := toCty(v)
	if !ok || !val.Type().IsPrimitiveType() {
		return cty.NilVal, false
	}
	out, err := convert.Convert(val, target)
	if err != nil || out.IsNull() {
		return cty.NilVal, false
	}
	return out, true
}

var (
	// String renders any primitive value as a string.
	String = &Converter{name: "string", fn: func(v any) (any, bool) {
		out, ok := asPrimitive(v, cty.String)
		if !ok {
			return nil, false
		}
		return out.AsString(), true
	}}

	// Integer converts numeric and numeric-string values to int64. Values
	// with a fractional part are rejected rather than truncated.
	Integer = &Converter{name: "integer", fn: func(v any) (any, bool) {
		out, ok := asPrimitive(v, cty.Number)
		if !ok {
			return nil, false
		}
		i, acc := out.AsBigFloat().Int64()
		if acc != 0 {
			return nil, false
		}
		return i, true
	}}

	// Float converts numeric and numeric-string values to float64.
	Float = &Converter{name: "float", fn: func(v any) (any, bool) {
		out, ok := asPrimitive(v, cty.Number)
		if !ok {
			return nil, false
		}
		f, _ := out.AsBigFloat().Float64()
		return f, true
	}}

	// Boolean converts bool and bool-string values to bool.
	Boolean = &Converter{name: "boolean", fn: func(v any) (any, bool) {
		out, ok := asPrimitive(v, cty.Bool)
		if !ok {
			return nil, false
		}
		return out.True(), true
	}}

	// ObjectID validates the canonical 24-hex-digit document id form and
	// yields it as a string.
	ObjectID = &Converter{name: "object_id", fn: func(v any) (any, bool) {
		out, ok := asPrimitive(v, cty.String)
		if !ok {
			return nil, false
		}
		s := out.AsString()
		if !objectIDPattern.MatchString(s) {
			return nil, false
		}
		return s, true
	}}

	// None passes values through untouched. It is the default for fields
	// that declare no data type.
	None = &Converter{name: "none", fn: func(v any) (any, bool) {
		return v, true
	}}
)

// registry is the fixed table of known converters. It is populated once and
// never mutated, so it is safe for concurrent lookup.
var registry = map[string]*Converter{
	String.name:   String,
	Integer.name:  Integer,
	Float.name:    Float,
	Boolean.name:  Boolean,
	ObjectID.name: ObjectID,
	None.name:     None,
}

// ByName resolves a converter by its registry name. The empty name resolves
// to the no-op converter.
func ByName(name string) (*Converter, error) {
	if name == "" {
		return None, nil
	}
	c, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown data type %q", name)
	}
	return c, nil
}
