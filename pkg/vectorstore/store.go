// Package vectorstore provides a named-collection vector index over
// pgvector. Collections are rows partitioned by a collection column; cosine
// distance drives ranking.
package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/querylens/schema-engine/pkg/database"
)

// upsertBatchSize bounds peak memory during full index rebuilds.
const upsertBatchSize = 50

// Item is one row to index: an id, the raw text, identifying tags, and the
// text's embedding.
type Item struct {
	ID        string
	Document  string
	Metadata  map[string]string
	Embedding []float32
}

// Result is one nearest-neighbor hit with its cosine distance.
type Result struct {
	ID       string
	Document string
	Metadata map[string]string
	Distance float64
}

// Store is the vector index capability: a persistent, named collection
// supporting upsert, filtered nearest-neighbor query, and collection
// deletion. Deleting an absent collection is not an error.
type Store interface {
	Upsert(ctx context.Context, collection string, items []Item) error
	Query(ctx context.Context, collection string, vector []float32, n int, filter map[string]string) ([]Result, error)
	DeleteCollection(ctx context.Context, collection string) error
}

// PGStore implements Store on the engine database with pgvector.
type PGStore struct {
	db     *database.DB
	logger *zap.Logger
}

var _ Store = (*PGStore)(nil)

// NewPGStore creates a pgvector-backed store.
func NewPGStore(db *database.DB, logger *zap.Logger) *PGStore {
	return &PGStore{
		db:     db,
		logger: logger.Named("vectorstore"),
	}
}

// Upsert writes items into the collection in fixed-size batches. Existing
// ids are overwritten.
func (s *PGStore) Upsert(ctx context.Context, collection string, items []Item) error {
	const query = `
		INSERT INTO engine_chunks (collection, id, document, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (collection, id) DO UPDATE SET
			document = EXCLUDED.document,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding`

	for start := 0; start < len(items); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(items) {
			end = len(items)
		}

		batch := &pgx.Batch{}
		for _, item := range items[start:end] {
			metadata, err := json.Marshal(item.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata for %s: %w", item.ID, err)
			}
			batch.Queue(query, collection, item.ID, item.Document, metadata, pgvector.NewVector(item.Embedding))
		}

		results := s.db.SendBatch(ctx, batch)
		if err := results.Close(); err != nil {
			return fmt.Errorf("upsert batch into %s: %w", collection, err)
		}
	}

	s.logger.Debug("Upserted items",
		zap.String("collection", collection),
		zap.Int("count", len(items)))

	return nil
}

// Query returns the n nearest items to vector within the collection,
// optionally restricted to rows whose metadata contains every filter pair.
func (s *PGStore) Query(ctx context.Context, collection string, vector []float32, n int, filter map[string]string) ([]Result, error) {
	query := `
		SELECT id, document, metadata, embedding <=> $2 AS distance
		FROM engine_chunks
		WHERE collection = $1`
	args := []any{collection, pgvector.NewVector(vector)}

	if len(filter) > 0 {
		filterJSON, err := json.Marshal(filter)
		if err != nil {
			return nil, fmt.Errorf("marshal filter: %w", err)
		}
		query += " AND metadata @> $3::jsonb"
		args = append(args, filterJSON)
	}

	query += fmt.Sprintf(" ORDER BY embedding <=> $2 LIMIT %d", n)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query collection %s: %w", collection, err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var metadata []byte
		if err := rows.Scan(&r.ID, &r.Document, &metadata, &r.Distance); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata for %s: %w", r.ID, err)
			}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}

	return results, nil
}

// DeleteCollection removes every row of the collection. Idempotent; an
// absent collection deletes zero rows.
func (s *PGStore) DeleteCollection(ctx context.Context, collection string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM engine_chunks WHERE collection = $1`, collection)
	if err != nil {
		return fmt.Errorf("delete collection %s: %w", collection, err)
	}

	s.logger.Info("Deleted collection",
		zap.String("collection", collection),
		zap.Int64("rows", tag.RowsAffected()))

	return nil
}
