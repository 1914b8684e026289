package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/querylens/schema-engine/pkg/apperrors"
	"github.com/querylens/schema-engine/pkg/embedding"
	"github.com/querylens/schema-engine/pkg/models"
	"github.com/querylens/schema-engine/pkg/vectorstore"
)

// fakeSchemaSource is a configurable SchemaSource for testing.
type fakeSchemaSource struct {
	FetchSectionsFunc      func(ctx context.Context) (map[string]*models.Section, error)
	BuildSchemaContextFunc func(ctx context.Context) (*models.SchemaContext, error)

	FetchSectionsCalls      int
	BuildSchemaContextCalls int
}

func (f *fakeSchemaSource) FetchSections(ctx context.Context) (map[string]*models.Section, error) {
	f.FetchSectionsCalls++
	return f.FetchSectionsFunc(ctx)
}

func (f *fakeSchemaSource) BuildSchemaContext(ctx context.Context) (*models.SchemaContext, error) {
	f.BuildSchemaContextCalls++
	return f.BuildSchemaContextFunc(ctx)
}

func fixtureSource() *fakeSchemaSource {
	return &fakeSchemaSource{
		FetchSectionsFunc: func(ctx context.Context) (map[string]*models.Section, error) {
			return map[string]*models.Section{
				"tables": {
					Name:    "tables",
					Columns: []string{"table_schema", "table_name"},
					Rows:    [][]string{{"public", "users"}, {"public", "orders"}},
				},
				"columns": {
					Name:    "columns",
					Columns: []string{"table_schema", "table_name", "ordinal_position", "column_name", "data_type", "is_nullable", "column_default"},
					Rows: [][]string{
						{"public", "users", "1", "email", "text", "NO", ""},
						{"public", "orders", "1", "total", "numeric", "YES", ""},
					},
				},
				"foreign_keys": {
					Name:    "foreign_keys",
					Columns: []string{"from_schema", "from_table", "from_column", "to_schema", "to_table", "to_column", "constraint_name"},
					Rows:    [][]string{{"public", "orders", "user_id", "public", "users", "id", "orders_user_id_fkey"}},
				},
			}, nil
		},
		BuildSchemaContextFunc: func(ctx context.Context) (*models.SchemaContext, error) {
			return &models.SchemaContext{
				Tables: map[string]*models.SchemaTable{
					"public.users":    {Schema: "public", Name: "users", Columns: []models.SchemaColumn{{Name: "email", Type: "text"}}},
					"public.orders":   {Schema: "public", Name: "orders", Columns: []models.SchemaColumn{{Name: "total", Type: "numeric"}}},
					"public.payments": {Schema: "public", Name: "payments", Columns: []models.SchemaColumn{}},
				},
				ForeignKeys: []models.ForeignKeyEdge{
					{From: "public.orders", FromColumn: "user_id", To: "public.users", ToColumn: "id", Constraint: "orders_user_id_fkey"},
					{From: "public.payments", FromColumn: "order_id", To: "public.orders", ToColumn: "id", Constraint: "payments_order_id_fkey"},
				},
			}, nil
		},
	}
}

// topicEmbedder maps texts onto axis-aligned unit vectors by keyword so
// retrieval order in tests is fully controlled.
func topicEmbedder() *embedding.MockEmbedder {
	return &embedding.MockEmbedder{
		EmbedFunc: func(ctx context.Context, inputs []string) ([][]float32, error) {
			out := make([][]float32, len(inputs))
			for i, text := range inputs {
				lower := strings.ToLower(text)
				// The fk chunk names both tables; "orders" is checked first
				// so it lands on the orders axis.
				switch {
				case strings.Contains(lower, "orders"):
					out[i] = []float32{0, 1, 0}
				case strings.Contains(lower, "users"):
					out[i] = []float32{1, 0, 0}
				default:
					out[i] = []float32{0, 0, 1}
				}
			}
			return out, nil
		},
	}
}

func newTestSchemaRAG(source SchemaSource, embedder embedding.Embedder, store vectorstore.Store) SchemaRAGService {
	return NewSchemaRAGService(source, embedder, store, "schema_test", zap.NewNop())
}

func TestSchemaRAG_NotStartedGuards(t *testing.T) {
	svc := newTestSchemaRAG(fixtureSource(), topicEmbedder(), vectorstore.NewMemoryStore())
	ctx := context.Background()

	_, err := svc.QuerySchema(ctx, &models.QueryAnalysis{SearchQueries: []string{"users"}}, 5)
	assert.ErrorIs(t, err, apperrors.ErrNotStarted)

	err = svc.Update(ctx)
	assert.ErrorIs(t, err, apperrors.ErrNotStarted)
}

func TestSchemaRAG_StartIndexesAllChunks(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	svc := newTestSchemaRAG(fixtureSource(), topicEmbedder(), store)

	require.NoError(t, svc.Start(context.Background()))

	// 1 fk + 2 columns + 2 summaries (no table comments in fixture)
	assert.Equal(t, 5, store.Count("schema_test"))
}

func TestSchemaRAG_QuerySchemaFiltersToMatchedTables(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	source := fixtureSource()
	svc := newTestSchemaRAG(source, topicEmbedder(), store)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx))

	result, err := svc.QuerySchema(ctx, &models.QueryAnalysis{SearchQueries: []string{"how many users signed up?"}}, 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"public.users"}, result.MatchedTables)
	require.Contains(t, result.Tables, "public.users")
	assert.NotContains(t, result.Tables, "public.orders")
	assert.NotContains(t, result.Tables, "public.payments")

	// FK with either endpoint in the filtered set is kept
	require.Len(t, result.ForeignKeys, 1)
	assert.Equal(t, "orders_user_id_fkey", result.ForeignKeys[0].Constraint)

	// Content comes from fresh introspection
	assert.Equal(t, 1, source.BuildSchemaContextCalls)
	assert.Equal(t, "how many users signed up?", result.QueryText)
}

func TestSchemaRAG_FKChunkContributesSourceTable(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	svc := newTestSchemaRAG(fixtureSource(), topicEmbedder(), store)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx))

	// With topK=1 the stable tie-break returns the fk chunk alone; its
	// source endpoint is what lands in the matched set.
	result, err := svc.QuerySchema(ctx, &models.QueryAnalysis{SearchQueries: []string{"orders by amount"}}, 1)
	require.NoError(t, err)

	assert.Equal(t, []string{"public.orders"}, result.MatchedTables)
}

func TestSchemaRAG_EmptyAnalysisShortCircuits(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	embedder := topicEmbedder()
	source := fixtureSource()
	svc := newTestSchemaRAG(source, embedder, store)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx))
	callsAfterStart := embedder.EmbedCalls

	for _, analysis := range []*models.QueryAnalysis{
		nil,
		{},
		{SearchQueries: []string{""}, Entities: []models.AnalysisEntity{}},
	} {
		result, err := svc.QuerySchema(ctx, analysis, 5)
		require.NoError(t, err)
		assert.Empty(t, result.Tables)
		assert.Empty(t, result.MatchedTables)
		assert.Empty(t, result.ForeignKeys)
		assert.Equal(t, "", result.QueryText)
	}

	// No retrieval work was performed
	assert.Equal(t, callsAfterStart, embedder.EmbedCalls)
	assert.Equal(t, 0, source.BuildSchemaContextCalls)
}

func TestSchemaRAG_StaleIndexEntriesDropFromResult(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	source := fixtureSource()
	svc := newTestSchemaRAG(source, topicEmbedder(), store)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx))

	// The table behind the matched chunks no longer exists in the truth
	source.BuildSchemaContextFunc = func(ctx context.Context) (*models.SchemaContext, error) {
		return &models.SchemaContext{
			Tables:      map[string]*models.SchemaTable{},
			ForeignKeys: []models.ForeignKeyEdge{},
		}, nil
	}

	result, err := svc.QuerySchema(ctx, &models.QueryAnalysis{SearchQueries: []string{"users"}}, 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"public.users"}, result.MatchedTables)
	assert.Empty(t, result.Tables)
	assert.Empty(t, result.ForeignKeys)
}

func TestSchemaRAG_UpdateResetsAndRebuilds(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	source := fixtureSource()
	svc := newTestSchemaRAG(source, topicEmbedder(), store)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx))
	require.Equal(t, 5, store.Count("schema_test"))

	// Shrink the source to a single table; Update must not leave stale
	// chunks behind.
	source.FetchSectionsFunc = func(ctx context.Context) (map[string]*models.Section, error) {
		return map[string]*models.Section{
			"tables": {
				Name:    "tables",
				Columns: []string{"table_schema", "table_name"},
				Rows:    [][]string{{"public", "users"}},
			},
		}, nil
	}

	require.NoError(t, svc.Update(ctx))

	// just the users summary
	assert.Equal(t, 1, store.Count("schema_test"))
}

func TestPickQueryText(t *testing.T) {
	tests := []struct {
		name     string
		analysis *models.QueryAnalysis
		want     string
	}{
		{
			name:     "nil analysis",
			analysis: nil,
			want:     "",
		},
		{
			name:     "search query wins over everything",
			analysis: &models.QueryAnalysis{SearchQueries: []string{"top customers", "ignored"}, Intent: "ranking", Keywords: []string{"customers"}},
			want:     "top customers",
		},
		{
			name:     "blank first search query suppresses fallback",
			analysis: &models.QueryAnalysis{SearchQueries: []string{""}, Intent: "ranking", Keywords: []string{"customers"}},
			want:     "",
		},
		{
			name:     "intent keywords entities joined",
			analysis: &models.QueryAnalysis{Intent: "revenue report", Keywords: []string{"monthly", "revenue"}, Entities: []models.AnalysisEntity{{Type: "metric", Value: "revenue"}, {Type: "period", Value: "month"}}},
			want:     "revenue report | monthly revenue | metric:revenue period:month",
		},
		{
			name:     "intent only",
			analysis: &models.QueryAnalysis{Intent: "list users"},
			want:     "list users",
		},
		{
			name:     "keywords only",
			analysis: &models.QueryAnalysis{Keywords: []string{"orders", "status"}},
			want:     "orders status",
		},
		{
			name:     "empty everything",
			analysis: &models.QueryAnalysis{},
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pickQueryText(tt.analysis))
		})
	}
}
