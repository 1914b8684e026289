package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/querylens/schema-engine/pkg/apperrors"
	"github.com/querylens/schema-engine/pkg/config"
	"github.com/querylens/schema-engine/pkg/logging"
	"github.com/querylens/schema-engine/pkg/models"
	"github.com/querylens/schema-engine/pkg/repositories"
	"github.com/querylens/schema-engine/pkg/services"
)

// IngestRequest for POST /history/ingest.
type IngestRequest struct {
	DBFingerprint string   `json:"db_fingerprint"`
	UserQuery     string   `json:"user_query"`
	SQL           string   `json:"sql"`
	TablesUsed    []string `json:"tables_used"`
	DurationMs    *int     `json:"duration_ms"`
	RowsCount     *int     `json:"rows_count"`
}

// IngestResponse for POST /history/ingest.
type IngestResponse struct {
	OK        bool   `json:"ok"`
	HistoryID string `json:"history_id"`
}

// SearchRequest for POST /history/search.
type SearchRequest struct {
	DBFingerprint string `json:"db_fingerprint"`
	UserQuery     string `json:"user_query"`
	TopK          int    `json:"top_k"`
}

// SearchResponse for POST /history/search.
type SearchResponse struct {
	OK      bool                  `json:"ok"`
	Matches []models.HistoryMatch `json:"matches"`
}

// HistoryHandler handles query history ingestion and search requests.
type HistoryHandler struct {
	historyRAG services.HistoryRAGService
	retrieval  config.RetrievalConfig
	logger     *zap.Logger
}

// NewHistoryHandler creates a new history handler. The retrieval config
// supplies default top-k, prefetch and boost parameters for search.
func NewHistoryHandler(historyRAG services.HistoryRAGService, retrieval config.RetrievalConfig, logger *zap.Logger) *HistoryHandler {
	return &HistoryHandler{
		historyRAG: historyRAG,
		retrieval:  retrieval,
		logger:     logger,
	}
}

// RegisterRoutes registers the history handler's routes on the given mux.
func (h *HistoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /history/ingest", h.Ingest)
	mux.HandleFunc("POST /history/search", h.Search)
}

// Ingest handles POST /history/ingest requests: it records a successful
// query execution and makes it searchable.
func (h *HistoryHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if req.DBFingerprint == "" || req.UserQuery == "" || req.SQL == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "db_fingerprint, user_query and sql are required")
		return
	}

	historyID, err := h.historyRAG.Ingest(r.Context(), repositories.UpsertSuccessParams{
		DBFingerprint: req.DBFingerprint,
		UserQuery:     req.UserQuery,
		SQL:           req.SQL,
		TablesUsed:    req.TablesUsed,
		DurationMs:    req.DurationMs,
		RowsCount:     req.RowsCount,
	})
	if err != nil {
		h.writeServiceError(w, "history ingestion failed", err)
		return
	}

	response := IngestResponse{
		OK:        true,
		HistoryID: historyID,
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ingest response", zap.Error(err))
	}
}

// Search handles POST /history/search requests: it returns past queries
// semantically similar to the request, re-ranked by table overlap.
func (h *HistoryHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if req.DBFingerprint == "" || req.UserQuery == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "db_fingerprint and user_query are required")
		return
	}

	topK := req.TopK
	if topK <= 0 {
		topK = h.retrieval.HistoryTopK
	}

	matches, err := h.historyRAG.Search(r.Context(), services.HistorySearchParams{
		DBFingerprint: req.DBFingerprint,
		UserQuery:     req.UserQuery,
		TopK:          topK,
		PrefetchK:     h.retrieval.HistoryPrefetchK,
		SchemaTopK:    h.retrieval.SchemaTopK,
		TableBoost:    h.retrieval.TableBoost,
	})
	if err != nil {
		h.writeServiceError(w, "history search failed", err)
		return
	}

	response := SearchResponse{
		OK:      len(matches) > 0,
		Matches: matches,
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode search response", zap.Error(err))
	}
}

func (h *HistoryHandler) writeServiceError(w http.ResponseWriter, context string, err error) {
	if errors.Is(err, apperrors.ErrNotStarted) {
		_ = ErrorResponse(w, http.StatusServiceUnavailable, "not_started", "history service is not started")
		return
	}

	h.logger.Error(context, zap.Error(err))
	_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", logging.SanitizeError(err))
}
