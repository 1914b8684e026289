package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestStringifyCell(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"nil becomes empty", nil, ""},
		{"string passthrough", "users", "users"},
		{"bytes decoded", []byte("orders"), "orders"},
		{"int formatted", 42, "42"},
		{"bool formatted", true, "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stringifyCell(tt.input))
		})
	}
}

func TestAssembleSchemaContext(t *testing.T) {
	ctx := assembleSchemaContext(
		[]tableRow{
			{Schema: "public", Name: "users"},
			{Schema: "billing", Name: "invoices"},
		},
		[]columnRow{
			{Schema: "public", Table: "users", OrdinalPosition: 1, Name: "id", DataType: "bigint", IsNullable: "NO", Default: strPtr("nextval('users_id_seq')")},
			{Schema: "public", Table: "users", OrdinalPosition: 2, Name: "email", DataType: "text", IsNullable: "YES"},
			{Schema: "billing", Table: "invoices", OrdinalPosition: 1, Name: "id", DataType: "bigint", IsNullable: "NO"},
		},
		[]tableCommentRow{
			{Schema: "public", Table: "users", Description: strPtr("Registered users")},
		},
		[]columnCommentRow{
			{Schema: "public", Table: "users", Column: "email", Description: strPtr("Login email")},
		},
		[]fkRow{
			{FromSchema: "billing", FromTable: "invoices", FromColumn: "user_id", ToSchema: "public", ToTable: "users", ToColumn: "id", Constraint: "invoices_user_id_fkey"},
		},
	)

	require.Len(t, ctx.Tables, 2)

	users := ctx.Tables["public.users"]
	require.NotNil(t, users)
	require.NotNil(t, users.Description)
	assert.Equal(t, "Registered users", *users.Description)
	require.Len(t, users.Columns, 2)

	id := users.Columns[0]
	assert.Equal(t, 1, id.OrdinalPosition)
	assert.False(t, id.Nullable)
	require.NotNil(t, id.Default)
	assert.Equal(t, "nextval('users_id_seq')", *id.Default)

	email := users.Columns[1]
	assert.True(t, email.Nullable)
	assert.Nil(t, email.Default)
	require.NotNil(t, email.Description)
	assert.Equal(t, "Login email", *email.Description)

	invoices := ctx.Tables["billing.invoices"]
	require.NotNil(t, invoices)
	assert.Nil(t, invoices.Description)

	require.Len(t, ctx.ForeignKeys, 1)
	fk := ctx.ForeignKeys[0]
	assert.Equal(t, "billing.invoices", fk.From)
	assert.Equal(t, "public.users", fk.To)
	assert.Equal(t, "invoices_user_id_fkey", fk.Constraint)
}

func TestAssembleSchemaContext_DropsOrphanColumns(t *testing.T) {
	ctx := assembleSchemaContext(
		[]tableRow{{Schema: "public", Name: "users"}},
		[]columnRow{
			{Schema: "public", Table: "users", OrdinalPosition: 1, Name: "id", DataType: "bigint", IsNullable: "NO"},
			// Table dropped between the two queries
			{Schema: "public", Table: "ghosts", OrdinalPosition: 1, Name: "id", DataType: "bigint", IsNullable: "NO"},
		},
		nil, nil, nil,
	)

	require.Len(t, ctx.Tables, 1)
	assert.NotContains(t, ctx.Tables, "public.ghosts")
	assert.Len(t, ctx.Tables["public.users"].Columns, 1)
}

func TestAssembleSchemaContext_Empty(t *testing.T) {
	ctx := assembleSchemaContext(nil, nil, nil, nil, nil)

	assert.Empty(t, ctx.Tables)
	assert.Empty(t, ctx.ForeignKeys)
}

func TestAssembleSchemaContext_TableWithoutColumns(t *testing.T) {
	ctx := assembleSchemaContext(
		[]tableRow{{Schema: "public", Name: "empty_table"}},
		nil, nil, nil, nil,
	)

	table := ctx.Tables["public.empty_table"]
	require.NotNil(t, table)
	assert.NotNil(t, table.Columns)
	assert.Empty(t, table.Columns)
}
