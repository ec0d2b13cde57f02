// Package dataset defines the declaration model for addressable data
// sources: datasets, their collections, and their (possibly nested) fields,
// including identity-seed bindings, data categories and typed cross-dataset
// references. Declarations are written in HCL and loaded through a
// block-schema translation into the format-agnostic model consumed by the
// graph builder.
package dataset
