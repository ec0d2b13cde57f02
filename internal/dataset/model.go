package dataset

import (
	"github.com/privacyrun/subjectgrid/internal/datatype"
	"github.com/privacyrun/subjectgrid/internal/fieldaddr"
)

// Row represents one retrieved record as a string-keyed map. Values may
// contain nested maps and slices mirroring object and array fields.
type Row map[string]any

// Direction restricts which way a declared reference may be traversed.
// The zero value leaves the edge bidirectional.
type Direction string

const (
	// DirectionNone declares no direction; either side may act as upstream
	// depending on which side is reached first during traversal.
	DirectionNone Direction = ""
	// DirectionFrom declares the referenced field as upstream of the
	// declaring field.
	DirectionFrom Direction = "from"
	// DirectionTo declares the declaring field as upstream of the
	// referenced field.
	DirectionTo Direction = "to"
)

// Reference is a typed cross-collection link from a declaring field to a
// target field.
type Reference struct {
	Target    fieldaddr.FieldAddress
	Direction Direction
}

// FieldKind discriminates the two concrete Field implementations.
type FieldKind int

const (
	// KindScalar marks a leaf field holding a single (or array) value.
	KindScalar FieldKind = iota
	// KindObject marks a field owning named sub-fields.
	KindObject
)

// Field is the polymorphic declaration of one collection field. The two
// implementations are ScalarField and ObjectField; dispatch is via Kind.
type Field interface {
	// Base exposes the attributes shared by all field kinds.
	Base() *FieldBase
	// Kind returns the concrete variant tag.
	Kind() FieldKind
}

// FieldBase holds the attributes common to every field kind.
type FieldBase struct {
	Name string
	// PrimaryKey marks a field whose values can safely identify rows for
	// mutation. Collections without any primary key are skipped by erasure.
	PrimaryKey bool
	// IsArray marks a field whose value is a list; an array field with no
	// references or identity is a pure leaf projected element-wise.
	IsArray bool
	// DataCategories are the taxonomy labels governing result projection.
	DataCategories []string
	// Identity names the seed-value key this field can be populated from,
	// making its collection a traversal entry point.
	Identity string
	// References are the declared outbound edges to fields in other
	// collections.
	References []Reference
	// Type normalizes values for this field when crossing connector
	// boundaries. Defaults to the no-op converter.
	Type *datatype.Converter
}

// ScalarField is a leaf field.
type ScalarField struct {
	FieldBase
}

// Base implements Field.
func (f *ScalarField) Base() *FieldBase { return &f.FieldBase }

// Kind implements Field.
func (f *ScalarField) Kind() FieldKind { return KindScalar }

// ObjectField is a field owning named sub-fields. Sub-fields may themselves
// be objects, nesting arbitrarily deep.
type ObjectField struct {
	FieldBase
	Fields map[string]Field
}

// Base implements Field.
func (f *ObjectField) Base() *FieldBase { return &f.FieldBase }

// Kind implements Field.
func (f *ObjectField) Kind() FieldKind { return KindObject }

// Dataset declares one data source: its collections, cross-dataset ordering
// constraints, and the opaque key resolving the connector that serves it.
type Dataset struct {
	Name string
	// Collections are unique by name within the dataset.
	Collections []*Collection
	// After names datasets that must be fully visited before any collection
	// of this dataset runs.
	After []string
	// ConnectionKey is the opaque handle to the external connector asked to
	// fetch or mutate this dataset's rows.
	ConnectionKey string
}

// Collection returns the named collection, or nil if it is not declared.
func (d *Dataset) Collection(name string) *Collection {
	for _, c := range d.Collections {
		if c.Name == name {
			return c
		}
	}
	return nil
}
