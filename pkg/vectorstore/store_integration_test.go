//go:build integration

package vectorstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/querylens/schema-engine/pkg/testhelpers"
)

// unitVec pads a 3-dim direction out to the stored vector width.
func unitVec(x, y, z float32) []float32 {
	vec := make([]float32, 1536)
	vec[0], vec[1], vec[2] = x, y, z
	return vec
}

func TestPGStore_UpsertAndQuery(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	store := NewPGStore(engineDB.DB, zap.NewNop())
	ctx := context.Background()

	collection := "test_" + uuid.NewString()[:8]
	defer store.DeleteCollection(ctx, collection)

	a, b, c := uuid.NewString(), uuid.NewString(), uuid.NewString()
	require.NoError(t, store.Upsert(ctx, collection, []Item{
		{ID: a, Document: "alpha", Metadata: map[string]string{"kind": "x"}, Embedding: unitVec(1, 0, 0)},
		{ID: b, Document: "beta", Metadata: map[string]string{"kind": "y"}, Embedding: unitVec(0, 1, 0)},
		{ID: c, Document: "gamma", Metadata: map[string]string{"kind": "x"}, Embedding: unitVec(0.7071, 0.7071, 0)},
	}))

	results, err := store.Query(ctx, collection, unitVec(1, 0, 0), 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, a, results[0].ID)
	assert.Equal(t, "alpha", results[0].Document)
	assert.InDelta(t, 0.0, results[0].Distance, 1e-4)
	assert.Equal(t, c, results[1].ID)
	assert.Equal(t, b, results[2].ID)
	assert.InDelta(t, 1.0, results[2].Distance, 1e-4)
}

func TestPGStore_MetadataFilter(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	store := NewPGStore(engineDB.DB, zap.NewNop())
	ctx := context.Background()

	collection := "test_" + uuid.NewString()[:8]
	defer store.DeleteCollection(ctx, collection)

	a, b := uuid.NewString(), uuid.NewString()
	require.NoError(t, store.Upsert(ctx, collection, []Item{
		{ID: a, Document: "mine", Metadata: map[string]string{"db_fingerprint": "fp-1"}, Embedding: unitVec(1, 0, 0)},
		{ID: b, Document: "other", Metadata: map[string]string{"db_fingerprint": "fp-2"}, Embedding: unitVec(1, 0, 0)},
	}))

	results, err := store.Query(ctx, collection, unitVec(1, 0, 0), 10,
		map[string]string{"db_fingerprint": "fp-1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, a, results[0].ID)
	assert.Equal(t, "fp-1", results[0].Metadata["db_fingerprint"])
}

func TestPGStore_UpsertReplaces(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	store := NewPGStore(engineDB.DB, zap.NewNop())
	ctx := context.Background()

	collection := "test_" + uuid.NewString()[:8]
	defer store.DeleteCollection(ctx, collection)

	id := uuid.NewString()
	require.NoError(t, store.Upsert(ctx, collection, []Item{
		{ID: id, Document: "before", Embedding: unitVec(1, 0, 0)},
	}))
	require.NoError(t, store.Upsert(ctx, collection, []Item{
		{ID: id, Document: "after", Embedding: unitVec(0, 1, 0)},
	}))

	results, err := store.Query(ctx, collection, unitVec(0, 1, 0), 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "after", results[0].Document)
	assert.InDelta(t, 0.0, results[0].Distance, 1e-4)
}

func TestPGStore_DeleteCollection(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	store := NewPGStore(engineDB.DB, zap.NewNop())
	ctx := context.Background()

	collection := "test_" + uuid.NewString()[:8]
	require.NoError(t, store.Upsert(ctx, collection, []Item{
		{ID: uuid.NewString(), Document: "doomed", Embedding: unitVec(1, 0, 0)},
	}))

	require.NoError(t, store.DeleteCollection(ctx, collection))

	results, err := store.Query(ctx, collection, unitVec(1, 0, 0), 10, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}
