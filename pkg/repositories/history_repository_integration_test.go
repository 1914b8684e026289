//go:build integration

package repositories

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querylens/schema-engine/pkg/models"
	"github.com/querylens/schema-engine/pkg/testhelpers"
)

func intPtr(i int) *int { return &i }

func TestHistoryRepository_UpsertConverges(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	repo := NewHistoryRepository(engineDB.DB)
	ctx := context.Background()

	fingerprint := "pg-" + uuid.NewString()
	params := UpsertSuccessParams{
		DBFingerprint: fingerprint,
		UserQuery:     "total revenue this month?",
		SQL:           "SELECT sum(amount_cents) FROM billing.invoices",
		TablesUsed:    []string{"billing.invoices"},
		DurationMs:    intPtr(120),
		RowsCount:     intPtr(1),
	}

	first, err := repo.UpsertSuccess(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, 1, first.HitCount)
	assert.Equal(t, []string{"billing.invoices"}, first.TablesUsed)

	// Same logical event with incidental formatting differences converges
	params.UserQuery = "  Total   Revenue this month?  "
	params.DurationMs = intPtr(95)
	second, err := repo.UpsertSuccess(ctx, params)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.HitCount)
	assert.Equal(t, 95, *second.DurationMs)
	// First-writer fields unchanged
	assert.Equal(t, "total revenue this month?", second.UserQuery)
	assert.False(t, second.LastSeenAt.Before(first.LastSeenAt))

	// A different question is a new row
	params.UserQuery = "total revenue last month?"
	third, err := repo.UpsertSuccess(ctx, params)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
	assert.Equal(t, 1, third.HitCount)
}

func TestHistoryRepository_GetByIDs(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	repo := NewHistoryRepository(engineDB.DB)
	ctx := context.Background()

	fingerprint := "pg-" + uuid.NewString()
	record, err := repo.UpsertSuccess(ctx, UpsertSuccessParams{
		DBFingerprint: fingerprint,
		UserQuery:     "how many users?",
		SQL:           "SELECT count(*) FROM users",
	})
	require.NoError(t, err)

	missing := uuid.New()
	found, err := repo.GetByIDs(ctx, []uuid.UUID{record.ID, missing})
	require.NoError(t, err)

	require.Len(t, found, 1)
	assert.Equal(t, record.QueryHash, found[record.ID].QueryHash)
	assert.NotContains(t, found, missing)

	empty, err := repo.GetByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestHistoryRepository_ListFilters(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	repo := NewHistoryRepository(engineDB.DB)
	ctx := context.Background()

	fingerprint := "pg-" + uuid.NewString()
	for _, q := range []string{"first question", "second question", "third question"} {
		_, err := repo.UpsertSuccess(ctx, UpsertSuccessParams{
			DBFingerprint: fingerprint,
			UserQuery:     q,
			SQL:           "SELECT 1",
		})
		require.NoError(t, err)
	}

	records, err := repo.List(ctx, models.HistoryFilters{DBFingerprint: fingerprint})
	require.NoError(t, err)
	assert.Len(t, records, 3)

	limited, err := repo.List(ctx, models.HistoryFilters{DBFingerprint: fingerprint, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := repo.List(ctx, models.HistoryFilters{DBFingerprint: "pg-nonexistent"})
	require.NoError(t, err)
	assert.Empty(t, none)
}
