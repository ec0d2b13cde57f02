package fieldaddr

import (
	"fmt"
	"strings"
)

// sentinelName marks the two collection addresses that exist outside any
// real dataset and bound every traversal.
const (
	rootName       = "__ROOT__"
	terminatorName = "__TERMINATE__"
)

// Root is the virtual collection that holds the seed identity values of a
// traversal. Every traversal starts here.
var Root = CollectionAddress{Dataset: rootName, Collection: rootName}

// Terminator is the virtual collection every terminal traversal node points
// at. Every traversal ends here.
var Terminator = CollectionAddress{Dataset: terminatorName, Collection: terminatorName}

// ParseError reports a malformed address string.
type ParseError struct {
	Input  string
	Reason string
}

// Error implements the error interface for ParseError.
func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid address %q: %s", e.Input, e.Reason)
}

// CollectionAddress uniquely identifies one collection within one dataset.
// The canonical string form is `dataset:collection`.
type CollectionAddress struct {
	Dataset    string
	Collection string
}

// NewCollectionAddress builds a CollectionAddress from its two components.
func NewCollectionAddress(dataset, collection string) CollectionAddress {
	return CollectionAddress{Dataset: dataset, Collection: collection}
}

// ParseCollectionAddress parses the canonical `dataset:collection` form.
func ParseCollectionAddress(raw string) (CollectionAddress, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 2 {
		return CollectionAddress{}, &ParseError{Input: raw, Reason: "expected exactly 2 colon-separated segments"}
	}
	if parts[0] == "" || parts[1] == "" {
		return CollectionAddress{}, &ParseError{Input: raw, Reason: "address contains empty segment"}
	}
	return CollectionAddress{Dataset: parts[0], Collection: parts[1]}, nil
}

// String serializes the address into its canonical string representation.
func (a CollectionAddress) String() string {
	return a.Dataset + ":" + a.Collection
}

// Less defines a total order over collection addresses by their canonical
// string form.
func (a CollectionAddress) Less(other CollectionAddress) bool {
	return a.String() < other.String()
}

// IsSentinel reports whether the address is one of the two virtual traversal
// boundary collections.
func (a CollectionAddress) IsSentinel() bool {
	return a == Root || a == Terminator
}

// Field returns the address of a field inside this collection.
func (a CollectionAddress) Field(path FieldPath) FieldAddress {
	return FieldAddress{Collection: a, Path: path}
}
