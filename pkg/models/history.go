package models

import (
	"time"

	"github.com/google/uuid"
)

// HistoryRecord is one executed (question, SQL) interaction. Records converge
// on query_hash: replaying the same normalized (fingerprint, question, SQL)
// updates the existing row and bumps hit_count instead of inserting.
type HistoryRecord struct {
	ID            uuid.UUID `json:"id"`
	DBFingerprint string    `json:"db_fingerprint"`

	UserQuery string `json:"user_query"`
	SQL       string `json:"sql"`

	TablesUsed []string `json:"tables_used,omitempty"`
	DurationMs *int     `json:"duration_ms,omitempty"`
	RowsCount  *int     `json:"rows_count,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	HitCount   int       `json:"hit_count"`

	QueryHash string `json:"query_hash"`
}

// HistoryFilters narrows List queries over the history table. Zero values
// mean "no filter"; filters combine conjunctively.
type HistoryFilters struct {
	DBFingerprint string
	DaysBack      int
	Limit         int
	Offset        int
}

// HistoryMatch is one re-ranked history search hit. Produced per search
// call, never persisted.
type HistoryMatch struct {
	Score      float64  `json:"score"`
	HistoryID  string   `json:"history_id"`
	UserQuery  string   `json:"user_query"`
	SQL        string   `json:"sql"`
	TablesUsed []string `json:"tables_used,omitempty"`
	CreatedAt  string   `json:"created_at"`
	HitCount   int      `json:"hit_count"`
	DurationMs *int     `json:"duration_ms,omitempty"`
	RowsCount  *int     `json:"rows_count,omitempty"`
}
