package dataset

import (
	"sync"

	"github.com/privacyrun/subjectgrid/internal/fieldaddr"
)

// Collection declares one addressable group of fields within a dataset.
// The derived views (FieldByPath, Identities, References,
// FieldsByDataCategory) are computed once on first use and cached; a
// Collection must not be mutated after it is handed to the graph builder.
type Collection struct {
	Name string
	// Fields is the ordered field list as declared.
	Fields []Field
	// After names collections that must be fully visited before this one
	// runs, as `dataset:collection` addresses.
	After []fieldaddr.CollectionAddress

	once         sync.Once
	fieldsByPath map[fieldaddr.FieldPath]Field
	identities   map[fieldaddr.FieldPath]string
	references   map[fieldaddr.FieldPath][]Reference
	byCategory   map[string][]fieldaddr.FieldPath
}

// buildViews walks the field tree once, flattening nested object fields into
// prefixed paths.
func (c *Collection) buildViews() {
	c.once.Do(func() {
		c.fieldsByPath = make(map[fieldaddr.FieldPath]Field)
		c.identities = make(map[fieldaddr.FieldPath]string)
		c.references = make(map[fieldaddr.FieldPath][]Reference)
		c.byCategory = make(map[string][]fieldaddr.FieldPath)

		var walk func(prefix fieldaddr.FieldPath, f Field)
		walk = func(prefix fieldaddr.FieldPath, f Field) {
			base := f.Base()
			path := fieldaddr.NewFieldPath(base.Name)
			if prefix != "" {
				path = fieldaddr.NewFieldPath(append(prefix.Segments(), base.Name)...)
			}

			c.fieldsByPath[path] = f
			if base.Identity != "" {
				c.identities[path] = base.Identity
			}
			if len(base.References) > 0 {
				c.references[path] = base.References
			}
			for _, category := range base.DataCategories {
				c.byCategory[category] = append(c.byCategory[category], path)
			}

			if obj, ok := f.(*ObjectField); ok {
				for _, sub := range obj.Fields {
					walk(path, sub)
				}
			}
		}
		for _, f := range c.Fields {
			walk("", f)
		}
	})
}

// FieldByPath resolves a field or nested sub-field by its path.
func (c *Collection) FieldByPath(path fieldaddr.FieldPath) (Field, bool) {
	c.buildViews()
	f, ok := c.fieldsByPath[path]
	return f, ok
}

// Identities maps each identity-bearing field path to the seed key it is
// populated from.
func (c *Collection) Identities() map[fieldaddr.FieldPath]string {
	c.buildViews()
	return c.identities
}

// References maps each referencing field path to its declared outbound
// references.
func (c *Collection) References() map[fieldaddr.FieldPath][]Reference {
	c.buildViews()
	return c.references
}

// FieldsByDataCategory maps each declared data category to the field paths
// carrying it. Used by the result projection pipeline.
func (c *Collection) FieldsByDataCategory() map[string][]fieldaddr.FieldPath {
	c.buildViews()
	return c.byCategory
}

// PrimaryKeyPaths returns the paths of all primary-key fields. An empty
// result means erasure cannot safely identify rows in this collection.
func (c *Collection) PrimaryKeyPaths() []fieldaddr.FieldPath {
	c.buildViews()
	var keys []fieldaddr.FieldPath
	for path, f := range c.fieldsByPath {
		if f.Base().PrimaryKey {
			keys = append(keys, path)
		}
	}
	return keys
}
