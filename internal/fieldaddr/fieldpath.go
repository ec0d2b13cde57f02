package fieldaddr

import "strings"

// FieldPath addresses a field, or a sub-field nested inside object fields,
// as an ordered sequence of name segments. The canonical form is the
// dot-joined string, which also defines equality, hashing and ordering, so
// the type is string-backed and directly usable as a map key.
type FieldPath string

// NewFieldPath joins the given segments into a path.
func NewFieldPath(segments ...string) FieldPath {
	return FieldPath(strings.Join(segments, "."))
}

// ParseFieldPath parses a dot-joined path string, rejecting empty paths and
// empty segments.
func ParseFieldPath(raw string) (FieldPath, error) {
	if raw == "" {
		return "", &ParseError{Input: raw, Reason: "field path cannot be empty"}
	}
	for _, seg := range strings.Split(raw, ".") {
		if seg == "" {
			return "", &ParseError{Input: raw, Reason: "field path contains empty segment"}
		}
	}
	return FieldPath(raw), nil
}

// Segments returns the ordered name segments of the path.
func (p FieldPath) Segments() []string {
	if p == "" {
		return nil
	}
	return strings.Split(string(p), ".")
}

// Prepend returns a new path with segment added in front. Used when
// projecting the sub-fields of an object field back into collection scope.
func (p FieldPath) Prepend(segment string) FieldPath {
	if p == "" {
		return FieldPath(segment)
	}
	return FieldPath(segment + "." + string(p))
}

// Level returns the nesting depth of the path.
func (p FieldPath) Level() int {
	return len(p.Segments())
}

// String returns the canonical dot-joined form.
func (p FieldPath) String() string {
	return string(p)
}
