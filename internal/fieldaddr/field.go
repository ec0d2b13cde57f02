package fieldaddr

import "strings"

// FieldAddress identifies any field or nested sub-field anywhere in a merged
// dataset graph. The canonical string form is `dataset:collection:field.path`.
type FieldAddress struct {
	Collection CollectionAddress
	Path       FieldPath
}

// NewFieldAddress builds a FieldAddress from its components.
func NewFieldAddress(dataset, collection string, segments ...string) FieldAddress {
	return FieldAddress{
		Collection: NewCollectionAddress(dataset, collection),
		Path:       NewFieldPath(segments...),
	}
}

// ParseFieldAddress parses the canonical `dataset:collection:field.path` form.
func ParseFieldAddress(raw string) (FieldAddress, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return FieldAddress{}, &ParseError{Input: raw, Reason: "expected exactly 3 colon-separated segments"}
	}
	if parts[0] == "" || parts[1] == "" {
		return FieldAddress{}, &ParseError{Input: raw, Reason: "address contains empty segment"}
	}
	path, err := ParseFieldPath(parts[2])
	if err != nil {
		return FieldAddress{}, err
	}
	return FieldAddress{
		Collection: CollectionAddress{Dataset: parts[0], Collection: parts[1]},
		Path:       path,
	}, nil
}

// String serializes the address into its canonical string representation.
func (f FieldAddress) String() string {
	return f.Collection.String() + ":" + f.Path.String()
}

// Less defines a total order over field addresses by their canonical string
// form.
func (f FieldAddress) Less(other FieldAddress) bool {
	return f.String() < other.String()
}

// IsMemberOf reports whether the field belongs to the given collection.
func (f FieldAddress) IsMemberOf(addr CollectionAddress) bool {
	return f.Collection == addr
}

// CollectionAddress returns the address of the collection owning the field.
func (f FieldAddress) CollectionAddress() CollectionAddress {
	return f.Collection
}
