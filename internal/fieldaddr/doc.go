/*
Package fieldaddr provides structured, type-safe identifiers for datasets,
collections and fields, based on the canonical formats
`dataset:collection` and `dataset:collection:field.path`.

A field path is a dot-separated sequence of name segments; multi-level paths
address sub-fields nested inside object fields, e.g. `contact.email`.

This package enforces the identifier schema and centralizes all formatting
and parsing logic. All types are comparable values, safe to use as map keys;
ordering is defined by the canonical string form.
*/
package fieldaddr
