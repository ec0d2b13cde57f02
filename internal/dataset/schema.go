package dataset

import "github.com/hashicorp/hcl/v2"

// --- HCL declaration schemas ---
//
// These structs mirror the on-disk block layout and exist only as a decode
// target. Translation into the model applies validation and defaulting.

// fileSchema is the top-level structure of one dataset declaration file.
type fileSchema struct {
	Datasets []*datasetSchema `hcl:"dataset,block"`
	Body     hcl.Body         `hcl:",remain"`
}

// datasetSchema represents a `dataset` block.
type datasetSchema struct {
	Name          string              `hcl:"name,label"`
	ConnectionKey string              `hcl:"connection_key,optional"`
	After         []string            `hcl:"after,optional"`
	Collections   []*collectionSchema `hcl:"collection,block"`
}

// collectionSchema represents a `collection` block.
type collectionSchema struct {
	Name   string         `hcl:"name,label"`
	After  []string       `hcl:"after,optional"`
	Fields []*fieldSchema `hcl:"field,block"`
}

// fieldSchema represents a `field` block. Nested `field` blocks turn the
// declaration into an object field.
type fieldSchema struct {
	Name           string             `hcl:"name,label"`
	PrimaryKey     bool               `hcl:"primary_key,optional"`
	IsArray        bool               `hcl:"is_array,optional"`
	DataCategories []string           `hcl:"data_categories,optional"`
	Identity       string             `hcl:"identity,optional"`
	DataType       string             `hcl:"data_type,optional"`
	References     []*referenceSchema `hcl:"references,block"`
	Fields         []*fieldSchema     `hcl:"field,block"`
}

// referenceSchema represents a `references` block inside a field.
type referenceSchema struct {
	// Field is the target in `dataset:collection:field.path` form.
	Field string `hcl:"field"`
	// Direction is "from", "to", or empty for bidirectional.
	Direction string `hcl:"direction,optional"`
}
