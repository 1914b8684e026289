package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/querylens/schema-engine/pkg/apperrors"
	"github.com/querylens/schema-engine/pkg/embedding"
	"github.com/querylens/schema-engine/pkg/logging"
	"github.com/querylens/schema-engine/pkg/models"
	"github.com/querylens/schema-engine/pkg/repositories"
	"github.com/querylens/schema-engine/pkg/vectorstore"
)

// HistorySearchParams tunes one history search call.
type HistorySearchParams struct {
	DBFingerprint string
	UserQuery     string
	// TopK is the result count returned to the caller.
	TopK int
	// PrefetchK candidates are over-fetched before re-ranking: the table
	// overlap signal is unknown to the vector index, which ranks on text
	// similarity alone.
	PrefetchK int
	// SchemaTopK is passed through to the schema resolver when deriving
	// matched tables.
	SchemaTopK int
	// TableBoost scales the overlap bonus.
	TableBoost float64
}

// HistoryRAGService ingests executed (question, SQL) pairs and searches them
// with vector similarity blended with schema table overlap.
type HistoryRAGService interface {
	// Start repopulates the history index from the relational store. Must
	// be called before Ingest or Search.
	Start(ctx context.Context) error

	// Ingest records one successful execution in the history table and the
	// history index, returning the record id. Convergent: replays of the
	// same logical event update the existing record.
	Ingest(ctx context.Context, params repositories.UpsertSuccessParams) (string, error)

	// Search returns up to TopK re-ranked matches for the question within
	// one database fingerprint.
	Search(ctx context.Context, params HistorySearchParams) ([]models.HistoryMatch, error)
}

type historyRAGService struct {
	repo       repositories.HistoryRepository
	schemaRAG  SchemaRAGService
	embedder   embedding.Embedder
	store      vectorstore.Store
	collection string
	logger     *zap.Logger
	started    atomic.Bool
}

// NewHistoryRAGService creates a new history retrieval service over the
// given collection.
func NewHistoryRAGService(
	repo repositories.HistoryRepository,
	schemaRAG SchemaRAGService,
	embedder embedding.Embedder,
	store vectorstore.Store,
	collection string,
	logger *zap.Logger,
) HistoryRAGService {
	return &historyRAGService{
		repo:       repo,
		schemaRAG:  schemaRAG,
		embedder:   embedder,
		store:      store,
		collection: collection,
		logger:     logger.Named("history-rag"),
	}
}

var _ HistoryRAGService = (*historyRAGService)(nil)

// docText is the indexed representation of a history record: the trimmed
// user question.
func docText(userQuery string) string {
	return strings.TrimSpace(userQuery)
}

func (s *historyRAGService) Start(ctx context.Context) error {
	records, err := s.repo.List(ctx, models.HistoryFilters{})
	if err != nil {
		return fmt.Errorf("load history records: %w", err)
	}

	for start := 0; start < len(records); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		texts := make([]string, len(batch))
		for i, r := range batch {
			texts[i] = docText(r.UserQuery)
		}

		vectors, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed history records: %w", err)
		}

		items := make([]vectorstore.Item, len(batch))
		for i, r := range batch {
			items[i] = vectorstore.Item{
				ID:       r.ID.String(),
				Document: texts[i],
				Metadata: map[string]string{
					"db_fingerprint": r.DBFingerprint,
				},
				Embedding: vectors[i],
			}
		}

		if err := s.store.Upsert(ctx, s.collection, items); err != nil {
			return fmt.Errorf("index history records: %w", err)
		}
	}

	s.logger.Info("Rebuilt history index", zap.Int("records", len(records)))
	s.started.Store(true)
	return nil
}

func (s *historyRAGService) Ingest(ctx context.Context, params repositories.UpsertSuccessParams) (string, error) {
	if !s.started.Load() {
		return "", apperrors.ErrNotStarted
	}

	record, err := s.repo.UpsertSuccess(ctx, params)
	if err != nil {
		return "", err
	}

	doc := docText(record.UserQuery)
	vectors, err := s.embedder.Embed(ctx, []string{doc})
	if err != nil {
		return "", fmt.Errorf("embed history record: %w", err)
	}

	err = s.store.Upsert(ctx, s.collection, []vectorstore.Item{{
		ID:       record.ID.String(),
		Document: doc,
		Metadata: map[string]string{
			"db_fingerprint": record.DBFingerprint,
		},
		Embedding: vectors[0],
	}})
	if err != nil {
		return "", fmt.Errorf("index history record: %w", err)
	}

	s.logger.Debug("Ingested history record",
		zap.String("history_id", record.ID.String()),
		zap.Int("hit_count", record.HitCount),
		zap.String("user_query", logging.SanitizeQuery(record.UserQuery)))

	return record.ID.String(), nil
}

func (s *historyRAGService) Search(ctx context.Context, params HistorySearchParams) ([]models.HistoryMatch, error) {
	if !s.started.Load() {
		return nil, apperrors.ErrNotStarted
	}

	// Matched tables from the schema resolver serve purely as a ranking
	// signal; the reconciled schema content is discarded here.
	analysis := &models.QueryAnalysis{SearchQueries: []string{params.UserQuery}}
	schemaRes, err := s.schemaRAG.QuerySchema(ctx, analysis, params.SchemaTopK)
	if err != nil {
		return nil, fmt.Errorf("resolve schema tables: %w", err)
	}
	matched := make(map[string]struct{}, len(schemaRes.MatchedTables))
	for _, fq := range schemaRes.MatchedTables {
		matched[fq] = struct{}{}
	}

	vectors, err := s.embedder.Embed(ctx, []string{docText(params.UserQuery)})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	n := params.PrefetchK
	if params.TopK > n {
		n = params.TopK
	}

	hits, err := s.store.Query(ctx, s.collection, vectors[0], n,
		map[string]string{"db_fingerprint": params.DBFingerprint})
	if err != nil {
		return nil, fmt.Errorf("query history index: %w", err)
	}
	if len(hits) == 0 {
		return []models.HistoryMatch{}, nil
	}

	ids := make([]uuid.UUID, 0, len(hits))
	for _, hit := range hits {
		id, err := uuid.Parse(hit.ID)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}

	records, err := s.repo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load candidate records: %w", err)
	}

	type scored struct {
		score  float64
		record *models.HistoryRecord
	}

	candidates := make([]scored, 0, len(hits))
	for _, hit := range hits {
		id, err := uuid.Parse(hit.ID)
		if err != nil {
			continue
		}
		record, ok := records[id]
		if !ok {
			// Index row without a backing record; skipped per-row.
			continue
		}

		score := 1.0 - hit.Distance
		if len(matched) > 0 {
			score += params.TableBoost * tablesOverlap(record.TablesUsed, matched)
		}
		candidates = append(candidates, scored{score: score, record: record})
	}

	// Stable sort keeps ties in prefetch (vector) order.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if len(candidates) > params.TopK {
		candidates = candidates[:params.TopK]
	}

	matches := make([]models.HistoryMatch, 0, len(candidates))
	for _, c := range candidates {
		matches = append(matches, models.HistoryMatch{
			Score:      math.Round(c.score*10000) / 10000,
			HistoryID:  c.record.ID.String(),
			UserQuery:  c.record.UserQuery,
			SQL:        c.record.SQL,
			TablesUsed: c.record.TablesUsed,
			CreatedAt:  c.record.CreatedAt.Format(time.RFC3339Nano),
			HitCount:   c.record.HitCount,
			DurationMs: c.record.DurationMs,
			RowsCount:  c.record.RowsCount,
		})
	}

	return matches, nil
}

// tablesOverlap is the asymmetric overlap ratio: the share of the record's
// used tables that appear in the matched set.
// A history row whose tables are a complete subset of the matched set scores
// 1.0 even when the matched set is far larger.
func tablesOverlap(used []string, matched map[string]struct{}) float64 {
	if len(used) == 0 || len(matched) == 0 {
		return 0
	}

	seen := make(map[string]struct{}, len(used))
	intersection := 0
	for _, t := range used {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := matched[t]; ok {
			intersection++
		}
	}

	return float64(intersection) / float64(len(seen))
}
