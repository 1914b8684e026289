// Package extractor introspects the target database and produces both the
// normalized sections consumed by chunking and the authoritative schema
// context used to answer resolver queries.
package extractor

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/querylens/schema-engine/pkg/models"
)

// Section names, in the fixed order the introspection queries run.
const (
	SectionTables         = "tables"
	SectionColumns        = "columns"
	SectionTableComments  = "table_comments"
	SectionColumnComments = "column_comments"
	SectionForeignKeys    = "foreign_keys"
)

var sectionOrder = []string{
	SectionTables,
	SectionColumns,
	SectionTableComments,
	SectionColumnComments,
	SectionForeignKeys,
}

// The five fixed introspection queries. System schemas are excluded; user
// schemas are returned in deterministic order.
var introspectionQueries = map[string]string{
	SectionTables: `
		select table_schema, table_name
		from information_schema.tables
		where table_type = 'BASE TABLE'
		  and table_schema not in ('pg_catalog', 'information_schema')
		order by table_schema, table_name`,
	SectionColumns: `
		select
		  table_schema,
		  table_name,
		  ordinal_position,
		  column_name,
		  data_type,
		  is_nullable,
		  column_default
		from information_schema.columns
		where table_schema not in ('pg_catalog', 'information_schema')
		order by table_schema, table_name, ordinal_position`,
	SectionTableComments: `
		select
		  n.nspname as schema_name,
		  c.relname as table_name,
		  obj_description(c.oid, 'pg_class') as table_description
		from pg_class c
		join pg_namespace n on n.oid = c.relnamespace
		where c.relkind = 'r'
		  and n.nspname not in ('pg_catalog', 'information_schema')
		order by schema_name, table_name`,
	SectionColumnComments: `
		select
		  n.nspname as schema_name,
		  c.relname as table_name,
		  a.attname as column_name,
		  col_description(c.oid, a.attnum) as column_description
		from pg_class c
		join pg_namespace n on n.oid = c.relnamespace
		join pg_attribute a on a.attrelid = c.oid
		where c.relkind = 'r'
		  and n.nspname not in ('pg_catalog', 'information_schema')
		  and a.attnum > 0
		  and not a.attisdropped
		order by schema_name, table_name, a.attnum`,
	SectionForeignKeys: `
		select
		  n1.nspname as from_schema,
		  c1.relname as from_table,
		  a1.attname as from_column,
		  n2.nspname as to_schema,
		  c2.relname as to_table,
		  a2.attname as to_column,
		  con.conname as constraint_name
		from pg_constraint con
		join pg_class c1 on c1.oid = con.conrelid
		join pg_namespace n1 on n1.oid = c1.relnamespace
		join pg_class c2 on c2.oid = con.confrelid
		join pg_namespace n2 on n2.oid = c2.relnamespace
		join lateral unnest(con.conkey) with ordinality as k1(attnum, ord) on true
		join lateral unnest(con.confkey) with ordinality as k2(attnum, ord) on k1.ord = k2.ord
		join pg_attribute a1 on a1.attrelid = c1.oid and a1.attnum = k1.attnum
		join pg_attribute a2 on a2.attrelid = c2.oid and a2.attnum = k2.attnum
		where con.contype = 'f'
		  and n1.nspname not in ('pg_catalog', 'information_schema')
		order by from_schema, from_table, constraint_name`,
}

// Extractor runs introspection queries against the target database.
type Extractor struct {
	pool           *pgxpool.Pool
	timeoutSeconds int
	logger         *zap.Logger
}

// New creates an Extractor over the target pool. timeoutSeconds bounds each
// introspection statement.
func New(pool *pgxpool.Pool, timeoutSeconds int, logger *zap.Logger) *Extractor {
	return &Extractor{
		pool:           pool,
		timeoutSeconds: timeoutSeconds,
		logger:         logger.Named("extractor"),
	}
}

// withConn acquires one connection, applies the statement timeout, and runs
// fn on it. All five queries of a single extraction share the connection so
// the timeout applies uniformly.
func (e *Extractor) withConn(ctx context.Context, fn func(conn *pgxpool.Conn) error) error {
	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf("set statement_timeout = '%ds'", e.timeoutSeconds)); err != nil {
		return fmt.Errorf("set statement timeout: %w", err)
	}

	return fn(conn)
}

// FetchSections runs all five introspection queries and returns normalized
// sections keyed by name. Any query failure (including a statement timeout)
// aborts the whole extraction; partial schema data is never returned.
func (e *Extractor) FetchSections(ctx context.Context) (map[string]*models.Section, error) {
	sections := make(map[string]*models.Section, len(sectionOrder))

	err := e.withConn(ctx, func(conn *pgxpool.Conn) error {
		for _, name := range sectionOrder {
			section, err := fetchSection(ctx, conn, name, introspectionQueries[name])
			if err != nil {
				return fmt.Errorf("introspect %s: %w", name, err)
			}
			sections[name] = section
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Debug("Fetched introspection sections",
		zap.Int("tables", len(sections[SectionTables].Rows)),
		zap.Int("columns", len(sections[SectionColumns].Rows)),
		zap.Int("foreign_keys", len(sections[SectionForeignKeys].Rows)))

	return sections, nil
}

func fetchSection(ctx context.Context, conn *pgxpool.Conn, name, query string) (*models.Section, error) {
	rows, err := conn.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	labels := make([]string, len(fields))
	for i, f := range fields {
		labels[i] = f.Name
	}

	section := &models.Section{Name: name, Columns: labels}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		cells := make([]string, len(values))
		for i, v := range values {
			cells[i] = stringifyCell(v)
		}
		section.Rows = append(section.Rows, cells)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return section, nil
}

// stringifyCell renders an introspection cell as text; NULL becomes "".
func stringifyCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}

// BuildSchemaContext assembles the authoritative schema snapshot directly
// from live introspection. It is called fresh per resolver query so returned
// schema data is always current even when the vector index is stale.
func (e *Extractor) BuildSchemaContext(ctx context.Context) (*models.SchemaContext, error) {
	var (
		tables         []tableRow
		columns        []columnRow
		tableComments  []tableCommentRow
		columnComments []columnCommentRow
		fks            []fkRow
	)

	err := e.withConn(ctx, func(conn *pgxpool.Conn) error {
		var err error
		if tables, err = queryRows(ctx, conn, introspectionQueries[SectionTables], scanTableRow); err != nil {
			return fmt.Errorf("introspect tables: %w", err)
		}
		if columns, err = queryRows(ctx, conn, introspectionQueries[SectionColumns], scanColumnRow); err != nil {
			return fmt.Errorf("introspect columns: %w", err)
		}
		if tableComments, err = queryRows(ctx, conn, introspectionQueries[SectionTableComments], scanTableCommentRow); err != nil {
			return fmt.Errorf("introspect table comments: %w", err)
		}
		if columnComments, err = queryRows(ctx, conn, introspectionQueries[SectionColumnComments], scanColumnCommentRow); err != nil {
			return fmt.Errorf("introspect column comments: %w", err)
		}
		if fks, err = queryRows(ctx, conn, introspectionQueries[SectionForeignKeys], scanFKRow); err != nil {
			return fmt.Errorf("introspect foreign keys: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return assembleSchemaContext(tables, columns, tableComments, columnComments, fks), nil
}

type tableRow struct {
	Schema string
	Name   string
}

type columnRow struct {
	Schema          string
	Table           string
	OrdinalPosition int
	Name            string
	DataType        string
	IsNullable      string
	Default         *string
}

type tableCommentRow struct {
	Schema      string
	Table       string
	Description *string
}

type columnCommentRow struct {
	Schema      string
	Table       string
	Column      string
	Description *string
}

type fkRow struct {
	FromSchema string
	FromTable  string
	FromColumn string
	ToSchema   string
	ToTable    string
	ToColumn   string
	Constraint string
}

func queryRows[T any](ctx context.Context, conn *pgxpool.Conn, query string, scan func(pgx.Rows) (T, error)) ([]T, error) {
	rows, err := conn.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanTableRow(rows pgx.Rows) (tableRow, error) {
	var r tableRow
	err := rows.Scan(&r.Schema, &r.Name)
	return r, err
}

func scanColumnRow(rows pgx.Rows) (columnRow, error) {
	var r columnRow
	err := rows.Scan(&r.Schema, &r.Table, &r.OrdinalPosition, &r.Name, &r.DataType, &r.IsNullable, &r.Default)
	return r, err
}

func scanTableCommentRow(rows pgx.Rows) (tableCommentRow, error) {
	var r tableCommentRow
	err := rows.Scan(&r.Schema, &r.Table, &r.Description)
	return r, err
}

func scanColumnCommentRow(rows pgx.Rows) (columnCommentRow, error) {
	var r columnCommentRow
	err := rows.Scan(&r.Schema, &r.Table, &r.Column, &r.Description)
	return r, err
}

func scanFKRow(rows pgx.Rows) (fkRow, error) {
	var r fkRow
	err := rows.Scan(&r.FromSchema, &r.FromTable, &r.FromColumn, &r.ToSchema, &r.ToTable, &r.ToColumn, &r.Constraint)
	return r, err
}

// assembleSchemaContext joins the typed introspection results into the
// tables map and flat FK list. Columns whose table is missing from the
// tables result are dropped; the two queries run close together but are not
// a single snapshot.
func assembleSchemaContext(
	tables []tableRow,
	columns []columnRow,
	tableComments []tableCommentRow,
	columnComments []columnCommentRow,
	fks []fkRow,
) *models.SchemaContext {
	tableDesc := make(map[[2]string]*string, len(tableComments))
	for _, tc := range tableComments {
		tableDesc[[2]string{tc.Schema, tc.Table}] = tc.Description
	}

	columnDesc := make(map[[3]string]*string, len(columnComments))
	for _, cc := range columnComments {
		columnDesc[[3]string{cc.Schema, cc.Table, cc.Column}] = cc.Description
	}

	tablesMap := make(map[string]*models.SchemaTable, len(tables))
	for _, t := range tables {
		table := &models.SchemaTable{
			Schema:      t.Schema,
			Name:        t.Name,
			Description: tableDesc[[2]string{t.Schema, t.Name}],
			Columns:     []models.SchemaColumn{},
		}
		tablesMap[table.FQName()] = table
	}

	for _, c := range columns {
		fq := c.Schema + "." + c.Table
		table, ok := tablesMap[fq]
		if !ok {
			continue
		}
		table.Columns = append(table.Columns, models.SchemaColumn{
			OrdinalPosition: c.OrdinalPosition,
			Name:            c.Name,
			Type:            c.DataType,
			Nullable:        c.IsNullable == "YES",
			Default:         c.Default,
			Description:     columnDesc[[3]string{c.Schema, c.Table, c.Name}],
		})
	}

	foreignKeys := make([]models.ForeignKeyEdge, 0, len(fks))
	for _, fk := range fks {
		foreignKeys = append(foreignKeys, models.ForeignKeyEdge{
			From:       fk.FromSchema + "." + fk.FromTable,
			FromColumn: fk.FromColumn,
			To:         fk.ToSchema + "." + fk.ToTable,
			ToColumn:   fk.ToColumn,
			Constraint: fk.Constraint,
		})
	}

	return &models.SchemaContext{
		Tables:      tablesMap,
		ForeignKeys: foreignKeys,
	}
}
