package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/querylens/schema-engine/pkg/apperrors"
	"github.com/querylens/schema-engine/pkg/chunker"
	"github.com/querylens/schema-engine/pkg/embedding"
	"github.com/querylens/schema-engine/pkg/models"
	"github.com/querylens/schema-engine/pkg/vectorstore"
)

// embedBatchSize bounds how many chunk texts go to the embedding endpoint
// per request during a rebuild.
const embedBatchSize = 50

// SchemaSource supplies introspection data. Satisfied by extractor.Extractor.
type SchemaSource interface {
	FetchSections(ctx context.Context) (map[string]*models.Section, error)
	BuildSchemaContext(ctx context.Context) (*models.SchemaContext, error)
}

// SchemaRAGService resolves natural-language analysis payloads to the slice
// of the live schema they concern. The vector index is only a selection key:
// returned schema content always comes from fresh introspection, so answers
// stay current even when the index is stale.
type SchemaRAGService interface {
	// Start builds the schema index. Must be called before QuerySchema.
	Start(ctx context.Context) error

	// Update resets the index and rebuilds it from live metadata. Safe to
	// call repeatedly; each call re-embeds everything.
	Update(ctx context.Context) error

	// QuerySchema retrieves the topK nearest chunks for the analysis and
	// returns the authoritative schema filtered to the matched tables.
	QuerySchema(ctx context.Context, analysis *models.QueryAnalysis, topK int) (*models.SchemaQueryResult, error)
}

type schemaRAGService struct {
	source     SchemaSource
	embedder   embedding.Embedder
	store      vectorstore.Store
	collection string
	logger     *zap.Logger
	started    atomic.Bool
}

// NewSchemaRAGService creates a new schema resolution service over the given
// collection.
func NewSchemaRAGService(
	source SchemaSource,
	embedder embedding.Embedder,
	store vectorstore.Store,
	collection string,
	logger *zap.Logger,
) SchemaRAGService {
	return &schemaRAGService{
		source:     source,
		embedder:   embedder,
		store:      store,
		collection: collection,
		logger:     logger.Named("schema-rag"),
	}
}

var _ SchemaRAGService = (*schemaRAGService)(nil)

func (s *schemaRAGService) Start(ctx context.Context) error {
	if err := s.rebuild(ctx); err != nil {
		return fmt.Errorf("build schema index: %w", err)
	}
	s.started.Store(true)
	return nil
}

func (s *schemaRAGService) Update(ctx context.Context) error {
	if !s.started.Load() {
		return apperrors.ErrNotStarted
	}

	// Readers querying between the reset and rebuild completion may see an
	// empty or partial index; accepted trade-off for duplicate-free rebuilds.
	if err := s.store.DeleteCollection(ctx, s.collection); err != nil {
		return fmt.Errorf("reset schema index: %w", err)
	}
	if err := s.rebuild(ctx); err != nil {
		return fmt.Errorf("rebuild schema index: %w", err)
	}
	return nil
}

// rebuild extracts live metadata, synthesizes chunks, embeds them, and
// upserts everything under fresh ids.
func (s *schemaRAGService) rebuild(ctx context.Context) error {
	sections, err := s.source.FetchSections(ctx)
	if err != nil {
		return err
	}

	chunks := chunker.BuildChunks(sections)
	s.logger.Info("Synthesized schema chunks", zap.Int("count", len(chunks)))

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		vectors, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed chunks: %w", err)
		}

		items := make([]vectorstore.Item, len(batch))
		for i, c := range batch {
			items[i] = vectorstore.Item{
				ID:        uuid.NewString(),
				Document:  c.Text,
				Metadata:  c.Metadata,
				Embedding: vectors[i],
			}
		}

		if err := s.store.Upsert(ctx, s.collection, items); err != nil {
			return err
		}
	}

	return nil
}

func (s *schemaRAGService) QuerySchema(ctx context.Context, analysis *models.QueryAnalysis, topK int) (*models.SchemaQueryResult, error) {
	if !s.started.Load() {
		return nil, apperrors.ErrNotStarted
	}

	queryText := pickQueryText(analysis)
	if queryText == "" {
		return emptySchemaResult(""), nil
	}

	vectors, err := s.embedder.Embed(ctx, []string{queryText})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.store.Query(ctx, s.collection, vectors[0], topK, nil)
	if err != nil {
		return nil, fmt.Errorf("query schema index: %w", err)
	}

	matched := matchedTableSet(hits)
	if len(matched) == 0 {
		return emptySchemaResult(queryText), nil
	}

	// Re-fetch the truth and filter it down to the matched selection. The
	// index may lag live metadata (a column added after the last rebuild);
	// table identifiers from it are never returned as content directly.
	full, err := s.source.BuildSchemaContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("build schema context: %w", err)
	}

	filteredTables := make(map[string]*models.SchemaTable, len(matched))
	for _, fq := range matched {
		if table, ok := full.Tables[fq]; ok {
			filteredTables[fq] = table
		}
	}

	filteredFKs := make([]models.ForeignKeyEdge, 0)
	for _, fk := range full.ForeignKeys {
		if _, ok := filteredTables[fk.From]; ok {
			filteredFKs = append(filteredFKs, fk)
			continue
		}
		if _, ok := filteredTables[fk.To]; ok {
			filteredFKs = append(filteredFKs, fk)
		}
	}

	s.logger.Debug("Resolved schema query",
		zap.String("query_text", queryText),
		zap.Int("matched_tables", len(matched)))

	return &models.SchemaQueryResult{
		Tables:        filteredTables,
		ForeignKeys:   filteredFKs,
		MatchedTables: matched,
		QueryText:     queryText,
	}, nil
}

// pickQueryText selects the search text from an analysis payload. A
// non-empty search_queries list always wins, even when its first entry is
// blank; otherwise intent, keywords, and entities are concatenated with
// " | " separators. An empty result means nothing to search for.
func pickQueryText(analysis *models.QueryAnalysis) string {
	if analysis == nil {
		return ""
	}

	if len(analysis.SearchQueries) > 0 {
		return analysis.SearchQueries[0]
	}

	var parts []string
	if analysis.Intent != "" {
		parts = append(parts, analysis.Intent)
	}
	if len(analysis.Keywords) > 0 {
		parts = append(parts, strings.Join(analysis.Keywords, " "))
	}
	if len(analysis.Entities) > 0 {
		ents := make([]string, len(analysis.Entities))
		for i, e := range analysis.Entities {
			ents[i] = e.Type + ":" + e.Value
		}
		parts = append(parts, strings.Join(ents, " "))
	}

	return strings.TrimSpace(strings.Join(parts, " | "))
}

// matchedTableSet collects the fully-qualified table behind each hit. FK
// chunks contribute their source endpoint. The result is deduplicated and
// sorted.
func matchedTableSet(hits []vectorstore.Result) []string {
	set := make(map[string]struct{})
	for _, hit := range hits {
		if fq := tableFQFromMetadata(hit.Metadata); fq != "" {
			set[fq] = struct{}{}
		}
	}

	matched := make([]string, 0, len(set))
	for fq := range set {
		matched = append(matched, fq)
	}
	sort.Strings(matched)
	return matched
}

func tableFQFromMetadata(metadata map[string]string) string {
	if s, t := metadata["schema_name"], metadata["table_name"]; s != "" && t != "" {
		return s + "." + t
	}
	if s, t := metadata["from_schema"], metadata["from_table"]; s != "" && t != "" {
		return s + "." + t
	}
	return ""
}

func emptySchemaResult(queryText string) *models.SchemaQueryResult {
	return &models.SchemaQueryResult{
		Tables:        map[string]*models.SchemaTable{},
		ForeignKeys:   []models.ForeignKeyEdge{},
		MatchedTables: []string{},
		QueryText:     queryText,
	}
}
