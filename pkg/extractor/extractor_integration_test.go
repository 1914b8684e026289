//go:build integration

package extractor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/querylens/schema-engine/pkg/testhelpers"
)

func TestFetchSections_FixtureSchema(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ex := New(testDB.Pool, 30, zap.NewNop())

	sections, err := ex.FetchSections(context.Background())
	require.NoError(t, err)
	require.Len(t, sections, 5)

	tables := sections[SectionTables]
	require.NotNil(t, tables)
	assert.Equal(t, []string{"table_schema", "table_name"}, tables.Columns)

	var names []string
	for _, row := range tables.Rows {
		names = append(names, row[0]+"."+row[1])
	}
	assert.Contains(t, names, "public.users")
	assert.Contains(t, names, "billing.invoices")

	// Every row has exactly one cell per label, NULL rendered as ""
	columns := sections[SectionColumns]
	for _, row := range columns.Rows {
		assert.Len(t, row, len(columns.Columns))
	}

	fks := sections[SectionForeignKeys]
	require.NotEmpty(t, fks.Rows)
	assert.Equal(t, "invoices", fks.Rows[0][1])
	assert.Equal(t, "users", fks.Rows[0][4])
}

func TestBuildSchemaContext_FixtureSchema(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ex := New(testDB.Pool, 30, zap.NewNop())

	schemaCtx, err := ex.BuildSchemaContext(context.Background())
	require.NoError(t, err)

	users := schemaCtx.Tables["public.users"]
	require.NotNil(t, users)
	require.NotNil(t, users.Description)
	assert.Equal(t, "Registered application users", *users.Description)

	var email *string
	for _, col := range users.Columns {
		if col.Name == "email" {
			email = col.Description
		}
	}
	require.NotNil(t, email)
	assert.Equal(t, "Unique login email", *email)

	require.NotEmpty(t, schemaCtx.ForeignKeys)
	fk := schemaCtx.ForeignKeys[0]
	assert.Equal(t, "billing.invoices", fk.From)
	assert.Equal(t, "public.users", fk.To)
}
