package models

import (
	"encoding/json"

	"github.com/querylens/schema-engine/pkg/jsonutil"
)

// Chunk type tags stored in chunk metadata under "chunk_type".
const (
	ChunkTypeColumn       = "column"
	ChunkTypeTableComment = "table_comment"
	ChunkTypeFK           = "fk"
	ChunkTypeTableSummary = "table_summary"
)

// Section is one normalized introspection result: a name, ordered column
// labels, and rows of stringified cells (NULL rendered as ""). Each row has
// exactly len(Columns) cells.
type Section struct {
	Name    string
	Columns []string
	Rows    [][]string
}

// ColIndex returns a label -> position map for a section's columns.
func (s *Section) ColIndex() map[string]int {
	idx := make(map[string]int, len(s.Columns))
	for i, name := range s.Columns {
		idx[name] = i
	}
	return idx
}

// Chunk is a single retrieval unit: text indexed for similarity search plus
// metadata tags identifying the table(s) it concerns.
type Chunk struct {
	Text     string
	Metadata map[string]string
}

// SchemaColumn describes one column of an introspected table.
type SchemaColumn struct {
	OrdinalPosition int     `json:"ordinal_position"`
	Name            string  `json:"name"`
	Type            string  `json:"type"`
	Nullable        bool    `json:"nullable"`
	Default         *string `json:"default"`
	Description     *string `json:"description"`
}

// SchemaTable describes one introspected table. The canonical identifier for
// a table everywhere in the engine is the fully-qualified "schema.table".
type SchemaTable struct {
	Schema      string         `json:"schema"`
	Name        string         `json:"name"`
	Description *string        `json:"description"`
	Columns     []SchemaColumn `json:"columns"`
}

// FQName returns the fully-qualified "schema.table" identifier.
func (t *SchemaTable) FQName() string {
	return t.Schema + "." + t.Name
}

// ForeignKeyEdge is one directional foreign-key constraint between two
// fully-qualified tables.
type ForeignKeyEdge struct {
	From       string `json:"from"`
	FromColumn string `json:"from_column"`
	To         string `json:"to"`
	ToColumn   string `json:"to_column"`
	Constraint string `json:"constraint"`
}

// SchemaContext is the authoritative schema snapshot assembled from live
// introspection: tables keyed by fully-qualified name plus a flat FK list.
type SchemaContext struct {
	Tables      map[string]*SchemaTable `json:"tables"`
	ForeignKeys []ForeignKeyEdge        `json:"foreign_keys"`
}

// AnalysisEntity is one recognized entity from upstream query analysis.
type AnalysisEntity struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// UnmarshalJSON tolerates non-string entity values (numbers, booleans)
// that analysis models sometimes emit.
func (e *AnalysisEntity) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type  json.RawMessage `json:"type"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Type = jsonutil.FlexibleStringValue(raw.Type)
	e.Value = jsonutil.FlexibleStringValue(raw.Value)
	return nil
}

// QueryAnalysis is the analysis payload consumed by the schema resolver.
// All fields are optional; see SchemaRAGService for the precedence rule
// selecting the search text.
type QueryAnalysis struct {
	SearchQueries []string         `json:"search_queries,omitempty"`
	Intent        string           `json:"intent,omitempty"`
	Keywords      []string         `json:"keywords,omitempty"`
	Entities      []AnalysisEntity `json:"entities,omitempty"`
}

// UnmarshalJSON tolerates bare scalars where the analysis model should
// have emitted arrays.
func (q *QueryAnalysis) UnmarshalJSON(data []byte) error {
	var raw struct {
		SearchQueries json.RawMessage  `json:"search_queries"`
		Intent        json.RawMessage  `json:"intent"`
		Keywords      json.RawMessage  `json:"keywords"`
		Entities      []AnalysisEntity `json:"entities"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	q.SearchQueries = jsonutil.FlexibleStringSlice(raw.SearchQueries)
	q.Intent = jsonutil.FlexibleStringValue(raw.Intent)
	q.Keywords = jsonutil.FlexibleStringSlice(raw.Keywords)
	q.Entities = raw.Entities
	return nil
}

// SchemaQueryResult is the resolver's answer: the authoritative schema
// filtered down to the tables matched by vector retrieval.
type SchemaQueryResult struct {
	Tables        map[string]*SchemaTable `json:"tables"`
	ForeignKeys   []ForeignKeyEdge        `json:"foreign_keys"`
	MatchedTables []string                `json:"matched_tables"`
	QueryText     string                  `json:"query_text"`
}
