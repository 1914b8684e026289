package repositories

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/querylens/schema-engine/pkg/database"
	"github.com/querylens/schema-engine/pkg/models"
)

var whitespaceRE = regexp.MustCompile(`\s+`)

// normalize trims, lowercases, and collapses internal whitespace so that
// incidental formatting differences never produce distinct hashes.
func normalize(s string) string {
	return whitespaceRE.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), " ")
}

// ComputeQueryHash derives the convergence key for a history record from the
// normalized fingerprint, question, and SQL.
func ComputeQueryHash(dbFingerprint, userQuery, sql string) string {
	base := normalize(dbFingerprint) + "|" + normalize(userQuery) + "|" + normalize(sql)
	sum := sha256.Sum256([]byte(base))
	return hex.EncodeToString(sum[:])
}

// UpsertSuccessParams carries one observed successful execution.
type UpsertSuccessParams struct {
	DBFingerprint string
	UserQuery     string
	SQL           string
	TablesUsed    []string
	DurationMs    *int
	RowsCount     *int
}

// HistoryRepository provides data access for the query history table.
type HistoryRepository interface {
	// UpsertSuccess records an execution. Repeats of the same logical event
	// (same query_hash) converge on one row with an incremented hit_count.
	UpsertSuccess(ctx context.Context, params UpsertSuccessParams) (*models.HistoryRecord, error)

	// GetByIDs batch-loads records; missing ids are simply absent.
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.HistoryRecord, error)

	// List returns records newest first, narrowed by the given filters.
	List(ctx context.Context, filters models.HistoryFilters) ([]*models.HistoryRecord, error)
}

type historyRepository struct {
	db *database.DB
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(db *database.DB) HistoryRepository {
	return &historyRepository{db: db}
}

var _ HistoryRepository = (*historyRepository)(nil)

const historyColumns = `id, db_fingerprint, user_query, sql, tables_used, duration_ms, rows_count, created_at, last_seen_at, hit_count, query_hash`

func (r *historyRepository) UpsertSuccess(ctx context.Context, params UpsertSuccessParams) (*models.HistoryRecord, error) {
	hash := ComputeQueryHash(params.DBFingerprint, params.UserQuery, params.SQL)

	tablesUsed, err := marshalTablesUsed(params.TablesUsed)
	if err != nil {
		return nil, err
	}

	// Single conditional write: the increment and field refresh happen in
	// the same statement, so concurrent ingestions of one hash cannot lose
	// updates. created_at, user_query, sql, and db_fingerprint are set only
	// on first insert.
	query := `
		INSERT INTO query_history (
			id, db_fingerprint, user_query, sql, tables_used, duration_ms, rows_count, query_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (query_hash) DO UPDATE SET
			last_seen_at = now(),
			hit_count = query_history.hit_count + 1,
			duration_ms = EXCLUDED.duration_ms,
			rows_count = EXCLUDED.rows_count,
			tables_used = EXCLUDED.tables_used
		RETURNING ` + historyColumns

	row := r.db.QueryRow(ctx, query,
		uuid.New(),
		params.DBFingerprint,
		params.UserQuery,
		params.SQL,
		tablesUsed,
		params.DurationMs,
		params.RowsCount,
		hash,
	)

	record, err := scanHistoryRecord(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert history record: %w", err)
	}

	return record, nil
}

func (r *historyRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.HistoryRecord, error) {
	result := make(map[uuid.UUID]*models.HistoryRecord, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query := `SELECT ` + historyColumns + ` FROM query_history WHERE id = ANY($1)`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get history records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		record, err := scanHistoryRecord(rows)
		if err != nil {
			return nil, err
		}
		result[record.ID] = record
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history records: %w", err)
	}

	return result, nil
}

func (r *historyRepository) List(ctx context.Context, filters models.HistoryFilters) ([]*models.HistoryRecord, error) {
	query := `SELECT ` + historyColumns + ` FROM query_history`
	var conditions []string
	var args []any

	if filters.DBFingerprint != "" {
		args = append(args, filters.DBFingerprint)
		conditions = append(conditions, fmt.Sprintf("db_fingerprint = $%d", len(args)))
	}
	if filters.DaysBack > 0 {
		args = append(args, time.Now().UTC().AddDate(0, 0, -filters.DaysBack))
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY created_at DESC"

	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
		args = append(args, filters.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history records: %w", err)
	}
	defer rows.Close()

	records := make([]*models.HistoryRecord, 0)
	for rows.Next() {
		record, err := scanHistoryRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history records: %w", err)
	}

	return records, nil
}

func scanHistoryRecord(row pgx.Row) (*models.HistoryRecord, error) {
	var record models.HistoryRecord
	var tablesUsed []byte

	err := row.Scan(
		&record.ID,
		&record.DBFingerprint,
		&record.UserQuery,
		&record.SQL,
		&tablesUsed,
		&record.DurationMs,
		&record.RowsCount,
		&record.CreatedAt,
		&record.LastSeenAt,
		&record.HitCount,
		&record.QueryHash,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan history record: %w", err)
	}

	if len(tablesUsed) > 0 {
		if err := json.Unmarshal(tablesUsed, &record.TablesUsed); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tables_used: %w", err)
		}
	}

	return &record, nil
}

func marshalTablesUsed(tables []string) ([]byte, error) {
	if tables == nil {
		return nil, nil
	}
	data, err := json.Marshal(tables)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tables_used: %w", err)
	}
	return data, nil
}
