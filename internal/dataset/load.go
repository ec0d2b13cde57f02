package dataset

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/privacyrun/subjectgrid/internal/ctxlog"
	"github.com/privacyrun/subjectgrid/internal/datatype"
	"github.com/privacyrun/subjectgrid/internal/fieldaddr"
	"github.com/privacyrun/subjectgrid/internal/fsutil"
)

// LoadDir discovers every .hcl file under path (recursively) and loads all
// dataset declarations found in them.
func LoadDir(ctx context.Context, path string) ([]*Dataset, error) {
	logger := ctxlog.FromContext(ctx)

	filePaths, err := fsutil.FindFilesByExtension(path, ".hcl")
	if err != nil {
		return nil, fmt.Errorf("walking dataset path %q: %w", path, err)
	}
	if len(filePaths) == 0 {
		logger.Warn("No .hcl dataset files found in path.", "path", path)
		return nil, nil
	}
	logger.Debug("Found dataset declaration files.", "files", filePaths)

	return LoadFiles(ctx, filePaths...)
}

// LoadFiles parses the given HCL files and translates every dataset block
// into the model, validating names, data types and reference syntax.
func LoadFiles(ctx context.Context, filePaths ...string) ([]*Dataset, error) {
	logger := ctxlog.FromContext(ctx)
	parser := hclparse.NewParser()

	var datasets []*Dataset
	seen := make(map[string]string) // dataset name -> declaring file

	for _, filePath := range filePaths {
		hclFile, diags := parser.ParseHCLFile(filePath)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", filePath, diags)
		}

		var file fileSchema
		if diags := gohcl.DecodeBody(hclFile.Body, nil, &file); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode dataset file %s: %w", filePath, diags)
		}

		for _, ds := range file.Datasets {
			if prev, dup := seen[ds.Name]; dup {
				return nil, fmt.Errorf("dataset %q declared in both %s and %s", ds.Name, prev, filePath)
			}
			seen[ds.Name] = filePath

			translated, err := translateDataset(ds)
			if err != nil {
				return nil, fmt.Errorf("dataset %q (%s): %w", ds.Name, filePath, err)
			}
			datasets = append(datasets, translated)
		}
		logger.Debug("Loaded dataset declarations from file.", "file", filePath)
	}

	logger.Info("Dataset declarations loaded.", "datasets", len(datasets))
	return datasets, nil
}

// translateDataset converts the HCL-specific schema into the agnostic model.
func translateDataset(ds *datasetSchema) (*Dataset, error) {
	var errs *multierror.Error

	out := &Dataset{
		Name:          ds.Name,
		After:         ds.After,
		ConnectionKey: ds.ConnectionKey,
	}
	if out.ConnectionKey == "" {
		out.ConnectionKey = ds.Name
	}

	collectionNames := make(map[string]struct{})
	for _, cs := range ds.Collections {
		if _, dup := collectionNames[cs.Name]; dup {
			errs = multierror.Append(errs, fmt.Errorf("duplicate collection %q", cs.Name))
			continue
		}
		collectionNames[cs.Name] = struct{}{}

		collection, err := translateCollection(cs)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("collection %q: %w", cs.Name, err))
			continue
		}
		out.Collections = append(out.Collections, collection)
	}

	return out, errs.ErrorOrNil()
}

func translateCollection(cs *collectionSchema) (*Collection, error) {
	var errs *multierror.Error

	out := &Collection{Name: cs.Name}
	for _, raw := range cs.After {
		addr, err := fieldaddr.ParseCollectionAddress(raw)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("after %q: %w", raw, err))
			continue
		}
		out.After = append(out.After, addr)
	}

	fieldNames := make(map[string]struct{})
	for _, fs := range cs.Fields {
		if _, dup := fieldNames[fs.Name]; dup {
			errs = multierror.Append(errs, fmt.Errorf("duplicate field %q", fs.Name))
			continue
		}
		fieldNames[fs.Name] = struct{}{}

		field, err := translateField(fs)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("field %q: %w", fs.Name, err))
			continue
		}
		out.Fields = append(out.Fields, field)
	}

	return out, errs.ErrorOrNil()
}

func translateField(fs *fieldSchema) (Field, error) {
	converter, err := datatype.ByName(fs.DataType)
	if err != nil {
		return nil, err
	}

	base := FieldBase{
		Name:           fs.Name,
		PrimaryKey:     fs.PrimaryKey,
		IsArray:        fs.IsArray,
		DataCategories: fs.DataCategories,
		Identity:       fs.Identity,
		Type:           converter,
	}

	for _, rs := range fs.References {
		target, err := fieldaddr.ParseFieldAddress(rs.Field)
		if err != nil {
			return nil, fmt.Errorf("references %q: %w", rs.Field, err)
		}
		direction := Direction(rs.Direction)
		switch direction {
		case DirectionNone, DirectionFrom, DirectionTo:
		default:
			return nil, fmt.Errorf("references %q: invalid direction %q", rs.Field, rs.Direction)
		}
		base.References = append(base.References, Reference{Target: target, Direction: direction})
	}

	if len(fs.Fields) == 0 {
		return &ScalarField{FieldBase: base}, nil
	}

	obj := &ObjectField{FieldBase: base, Fields: make(map[string]Field, len(fs.Fields))}
	for _, sub := range fs.Fields {
		if _, dup := obj.Fields[sub.Name]; dup {
			return nil, fmt.Errorf("duplicate sub-field %q", sub.Name)
		}
		subField, err := translateField(sub)
		if err != nil {
			return nil, fmt.Errorf("sub-field %q: %w", sub.Name, err)
		}
		obj.Fields[sub.Name] = subField
	}
	return obj, nil
}
