// Package chunker turns normalized introspection sections into retrieval
// units at four granularities: column, table comment, foreign key, and table
// summary. A column-level question matches a column unit, a broad question
// matches the table summary, and relationship questions match fk units.
package chunker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/querylens/schema-engine/pkg/models"
)

// Summary truncation limits. Table summaries stay compact so a single unit
// cannot dominate the embedding token budget; truncation is silent.
const (
	maxSummaryColumns     = 25
	maxSummaryForeignKeys = 30
)

type tableKey struct {
	Schema string
	Table  string
}

type columnInfo struct {
	Name        string
	DataType    string
	Nullable    string
	Default     string
	Description string
}

type fkInfo struct {
	FromColumn string
	ToSchema   string
	ToTable    string
	ToColumn   string
	Constraint string
}

// BuildChunks is a pure, deterministic transformation of introspection
// sections into retrieval units.
func BuildChunks(sections map[string]*models.Section) []models.Chunk {
	var chunks []models.Chunk

	tableDesc := indexTableComments(sections["table_comments"])
	colDesc := indexColumnComments(sections["column_comments"])
	colsByTable := indexColumns(sections["columns"], colDesc)

	// FK units are emitted per row, in section order, while grouping edges
	// by source table. Target tables get an empty group registered so every
	// referenced table has an entry.
	fksByTable := make(map[tableKey][]fkInfo)
	if fkSection := sections["foreign_keys"]; fkSection != nil {
		idx := fkSection.ColIndex()
		for _, row := range fkSection.Rows {
			fromSchema := cell(row, colIdx(idx, "from_schema", 0))
			fromTable := cell(row, colIdx(idx, "from_table", 1))
			fromColumn := cell(row, colIdx(idx, "from_column", 2))
			toSchema := cell(row, colIdx(idx, "to_schema", 3))
			toTable := cell(row, colIdx(idx, "to_table", 4))
			toColumn := cell(row, colIdx(idx, "to_column", 5))
			constraint := cell(row, colIdx(idx, "constraint_name", 6))

			src := tableKey{fromSchema, fromTable}
			fksByTable[src] = append(fksByTable[src], fkInfo{
				FromColumn: fromColumn,
				ToSchema:   toSchema,
				ToTable:    toTable,
				ToColumn:   toColumn,
				Constraint: constraint,
			})

			dst := tableKey{toSchema, toTable}
			if _, ok := fksByTable[dst]; !ok {
				fksByTable[dst] = nil
			}

			chunks = append(chunks, models.Chunk{
				Text: fmt.Sprintf("Foreign key %s: %s.%s.%s -> %s.%s.%s",
					constraint, fromSchema, fromTable, fromColumn, toSchema, toTable, toColumn),
				Metadata: map[string]string{
					"chunk_type":      models.ChunkTypeFK,
					"from_schema":     fromSchema,
					"from_table":      fromTable,
					"from_column":     fromColumn,
					"to_schema":       toSchema,
					"to_table":        toTable,
					"to_column":       toColumn,
					"constraint_name": constraint,
				},
			})
		}
	}

	for _, key := range tableUniverse(sections["tables"], colsByTable) {
		desc := tableDesc[key]

		if desc != "" {
			chunks = append(chunks, models.Chunk{
				Text: fmt.Sprintf("Table %s.%s description: %s", key.Schema, key.Table, desc),
				Metadata: map[string]string{
					"chunk_type":  models.ChunkTypeTableComment,
					"schema_name": key.Schema,
					"table_name":  key.Table,
				},
			})
		}

		cols := colsByTable[key]
		for _, c := range cols {
			text := fmt.Sprintf("Column %s.%s.%s type=%s nullable=%t default=%s",
				key.Schema, key.Table, c.Name, c.DataType, c.Nullable == "YES", defaultOrNull(c.Default))
			if c.Description != "" {
				text += " description=" + c.Description
			}
			chunks = append(chunks, models.Chunk{
				Text: text,
				Metadata: map[string]string{
					"chunk_type":  models.ChunkTypeColumn,
					"schema_name": key.Schema,
					"table_name":  key.Table,
					"column_name": c.Name,
				},
			})
		}

		chunks = append(chunks, models.Chunk{
			Text: summaryText(key, desc, cols, fksByTable[key]),
			Metadata: map[string]string{
				"chunk_type":  models.ChunkTypeTableSummary,
				"schema_name": key.Schema,
				"table_name":  key.Table,
			},
		})
	}

	return chunks
}

// tableUniverse prefers the tables section's row order; when that section is
// absent it falls back to the sorted key set of the column map so the output
// order stays deterministic.
func tableUniverse(tables *models.Section, colsByTable map[tableKey][]columnInfo) []tableKey {
	if tables != nil {
		idx := tables.ColIndex()
		keys := make([]tableKey, 0, len(tables.Rows))
		for _, row := range tables.Rows {
			keys = append(keys, tableKey{
				Schema: cell(row, colIdx(idx, "table_schema", 0)),
				Table:  cell(row, colIdx(idx, "table_name", 1)),
			})
		}
		return keys
	}

	keys := make([]tableKey, 0, len(colsByTable))
	for key := range colsByTable {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Schema != keys[j].Schema {
			return keys[i].Schema < keys[j].Schema
		}
		return keys[i].Table < keys[j].Table
	})
	return keys
}

func summaryText(key tableKey, desc string, cols []columnInfo, fks []fkInfo) string {
	parts := []string{
		fmt.Sprintf("TABLE %s.%s", key.Schema, key.Table),
	}
	if desc != "" {
		parts = append(parts, "Description: "+desc)
	} else {
		parts = append(parts, "Description: (none)")
	}

	parts = append(parts, "Columns:")
	if len(cols) == 0 {
		parts = append(parts, "(no columns found)")
	} else {
		top := cols
		if len(top) > maxSummaryColumns {
			top = top[:maxSummaryColumns]
		}
		for _, c := range top {
			line := fmt.Sprintf("- %s (%s)", c.Name, c.DataType)
			if c.Description != "" {
				line += ": " + c.Description
			}
			parts = append(parts, line)
		}
	}

	parts = append(parts, "Foreign keys:")
	if len(fks) == 0 {
		parts = append(parts, "(no foreign keys found)")
	} else {
		top := fks
		if len(top) > maxSummaryForeignKeys {
			top = top[:maxSummaryForeignKeys]
		}
		for _, fk := range top {
			parts = append(parts, fmt.Sprintf("- %s: %s.%s.%s -> %s.%s.%s",
				fk.Constraint, key.Schema, key.Table, fk.FromColumn, fk.ToSchema, fk.ToTable, fk.ToColumn))
		}
	}

	return strings.Join(parts, "\n")
}

func indexTableComments(section *models.Section) map[tableKey]string {
	out := make(map[tableKey]string)
	if section == nil {
		return out
	}
	idx := section.ColIndex()
	for _, row := range section.Rows {
		key := tableKey{
			Schema: cell(row, colIdx(idx, "schema_name", 0)),
			Table:  cell(row, colIdx(idx, "table_name", 1)),
		}
		out[key] = cell(row, colIdx(idx, "table_description", 2))
	}
	return out
}

func indexColumnComments(section *models.Section) map[[3]string]string {
	out := make(map[[3]string]string)
	if section == nil {
		return out
	}
	idx := section.ColIndex()
	for _, row := range section.Rows {
		key := [3]string{
			cell(row, colIdx(idx, "schema_name", 0)),
			cell(row, colIdx(idx, "table_name", 1)),
			cell(row, colIdx(idx, "column_name", 2)),
		}
		out[key] = cell(row, colIdx(idx, "column_description", 3))
	}
	return out
}

func indexColumns(section *models.Section, colDesc map[[3]string]string) map[tableKey][]columnInfo {
	out := make(map[tableKey][]columnInfo)
	if section == nil {
		return out
	}
	idx := section.ColIndex()
	for _, row := range section.Rows {
		schema := cell(row, colIdx(idx, "table_schema", 0))
		table := cell(row, colIdx(idx, "table_name", 1))
		name := cell(row, colIdx(idx, "column_name", 3))

		key := tableKey{schema, table}
		out[key] = append(out[key], columnInfo{
			Name:        name,
			DataType:    cell(row, colIdx(idx, "data_type", 4)),
			Nullable:    cell(row, colIdx(idx, "is_nullable", 5)),
			Default:     cell(row, colIdx(idx, "column_default", 6)),
			Description: colDesc[[3]string{schema, table, name}],
		})
	}
	return out
}

func defaultOrNull(s string) string {
	if s == "" {
		return "NULL"
	}
	return s
}

func colIdx(idx map[string]int, name string, fallback int) int {
	if i, ok := idx[name]; ok {
		return i
	}
	return fallback
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
