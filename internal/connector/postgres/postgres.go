// Package postgres implements the connector for PostgreSQL-backed datasets.
// Field paths map to columns, so only top-level scalar fields participate
// in matching and masking; nested object fields are skipped with a warning.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"

	"github.com/privacyrun/subjectgrid/internal/connector"
	"github.com/privacyrun/subjectgrid/internal/ctxlog"
	"github.com/privacyrun/subjectgrid/internal/dataset"
	"github.com/privacyrun/subjectgrid/internal/policy"
	"github.com/privacyrun/subjectgrid/internal/traversal"
)

// Connector serves one PostgreSQL database. Collection names map directly
// to table names.
type Connector struct {
	db *sql.DB
}

// New wraps an open database handle.
func New(db *sql.DB) *Connector {
	return &Connector{db: db}
}

// Open connects with a lib/pq connection string and wraps the handle.
func Open(dsn string) (*Connector, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	return New(db), nil
}

// Close releases the underlying handle.
func (c *Connector) Close() error {
	return c.db.Close()
}

// RetrieveData implements connector.Connector.
func (c *Connector) RetrieveData(ctx context.Context, node *traversal.Node, _ *policy.Policy, _ connector.RequestContext, input connector.InputData) ([]dataset.Row, error) {
	query, args, ok := buildSelect(node.Address.Collection, columnFilters(ctx, input))
	if !ok {
		return nil, nil
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", node.Address, err)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("reading %s rows: %w", node.Address, err)
	}
	return out, nil
}

// MaskData implements connector.Connector.
func (c *Connector) MaskData(ctx context.Context, node *traversal.Node, pol *policy.Policy, _ connector.RequestContext, rows []dataset.Row, _ connector.InputData) (int, error) {
	logger := ctxlog.FromContext(ctx)

	var columns []string
	for _, path := range connector.MaskTargets(node, pol) {
		segments := path.Segments()
		if len(segments) != 1 {
			logger.Warn("Skipping non-column mask target.", "collection", node.Address.String(), "field", path.String())
			continue
		}
		columns = append(columns, segments[0])
	}
	if len(columns) == 0 {
		return 0, nil
	}

	pkPaths := node.Graph.Collection.PrimaryKeyPaths()
	if len(pkPaths) != 1 || len(pkPaths[0].Segments()) != 1 {
		return 0, fmt.Errorf("collection %s needs a single top-level primary key", node.Address)
	}
	pkColumn := pkPaths[0].Segments()[0]

	var keys []any
	for _, row := range rows {
		values := dataset.ExtractValues(row, pkPaths[0])
		if len(values) == 1 {
			keys = append(keys, values[0])
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}

	query := buildUpdate(node.Address.Collection, columns, pkColumn)
	result, err := c.db.ExecContext(ctx, query, pq.Array(keys))
	if err != nil {
		return 0, fmt.Errorf("masking %s: %w", node.Address, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading %s mask count: %w", node.Address, err)
	}
	return int(affected), nil
}

// TestConnection implements connector.Connector.
func (c *Connector) TestConnection(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging postgres: %w", err)
	}
	return nil
}

// columnFilter is one `column = ANY(values)` match term.
type columnFilter struct {
	column string
	values []any
}

// columnFilters reduces gathered input to column-addressable terms, in
// deterministic column order.
func columnFilters(ctx context.Context, input connector.InputData) []columnFilter {
	logger := ctxlog.FromContext(ctx)

	var filters []columnFilter
	for path, values := range input {
		if len(values) == 0 {
			continue
		}
		segments := path.Segments()
		if len(segments) != 1 {
			logger.Warn("Skipping non-column match field.", "field", path.String())
			continue
		}
		filters = append(filters, columnFilter{column: segments[0], values: values})
	}
	sort.Slice(filters, func(i, j int) bool { return filters[i].column < filters[j].column })
	return filters
}

// buildSelect renders the OR-joined lookup query. The bool is false when no
// filter term survived, in which case nothing must be fetched.
func buildSelect(table string, filters []columnFilter) (string, []any, bool) {
	if len(filters) == 0 {
		return "", nil, false
	}
	terms := make([]string, 0, len(filters))
	args := make([]any, 0, len(filters))
	for i, f := range filters {
		terms = append(terms, fmt.Sprintf("%s = ANY($%d)", pq.QuoteIdentifier(f.column), i+1))
		args = append(args, pq.Array(f.values))
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s", pq.QuoteIdentifier(table), strings.Join(terms, " OR "))
	return query, args, true
}

// buildUpdate renders the nulling update for the masked columns, keyed by
// primary key membership.
func buildUpdate(table string, columns []string, pkColumn string) string {
	assignments := make([]string, 0, len(columns))
	for _, column := range columns {
		assignments = append(assignments, pq.QuoteIdentifier(column)+" = NULL")
	}
	sort.Strings(assignments)
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = ANY($1)",
		pq.QuoteIdentifier(table), strings.Join(assignments, ", "), pq.QuoteIdentifier(pkColumn))
}

// scanRows reads every row into the generic row shape, converting byte
// slices to strings so downstream value matching sees comparable types.
func scanRows(rows *sql.Rows) ([]dataset.Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []dataset.Row
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}
		row := make(dataset.Row, len(columns))
		for i, column := range columns {
			if b, ok := values[i].([]byte); ok {
				row[column] = string(b)
				continue
			}
			row[column] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
