package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privacyrun/subjectgrid/internal/connector"
)

func TestBuildSelect(t *testing.T) {
	query, args, ok := buildSelect("users", []columnFilter{
		{column: "email", values: []any{"a@example.com"}},
		{column: "id", values: []any{int64(1), int64(2)}},
	})

	require.True(t, ok)
	assert.Equal(t, `SELECT * FROM "users" WHERE "email" = ANY($1) OR "id" = ANY($2)`, query)
	assert.Len(t, args, 2)
}

func TestBuildSelect_NoFilters(t *testing.T) {
	_, _, ok := buildSelect("users", nil)
	assert.False(t, ok)
}

func TestBuildUpdate(t *testing.T) {
	query := buildUpdate("users", []string{"name", "email"}, "id")

	assert.Equal(t, `UPDATE "users" SET "email" = NULL, "name" = NULL WHERE "id" = ANY($1)`, query)
}

func TestColumnFilters(t *testing.T) {
	input := connector.InputData{
		"id":            {int64(1)},
		"contact.phone": {"555"},
		"email":         {"a@example.com"},
		"empty":         {},
	}

	filters := columnFilters(context.Background(), input)

	require.Len(t, filters, 2)
	assert.Equal(t, "email", filters[0].column)
	assert.Equal(t, "id", filters[1].column)
}
