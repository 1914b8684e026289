package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/querylens/schema-engine/pkg/apperrors"
	"github.com/querylens/schema-engine/pkg/logging"
	"github.com/querylens/schema-engine/pkg/models"
	"github.com/querylens/schema-engine/pkg/services"
)

// SchemaPayload is the filtered schema block of a resolution response.
type SchemaPayload struct {
	Tables      map[string]*models.SchemaTable `json:"tables"`
	ForeignKeys []models.ForeignKeyEdge        `json:"foreign_keys"`
}

// SchemaResponse for POST /schema.
type SchemaResponse struct {
	OK            bool          `json:"ok"`
	Error         string        `json:"error,omitempty"`
	QueryTextUsed string        `json:"query_text_used"`
	MatchedTables []string      `json:"matched_tables"`
	Schema        SchemaPayload `json:"schema"`
}

// UpdateResponse for POST /update.
type UpdateResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// SchemaHandler handles schema resolution and index rebuild requests.
type SchemaHandler struct {
	schemaRAG services.SchemaRAGService
	topK      int
	logger    *zap.Logger
}

// NewSchemaHandler creates a new schema handler. topK is the chunk count
// retrieved per resolution.
func NewSchemaHandler(schemaRAG services.SchemaRAGService, topK int, logger *zap.Logger) *SchemaHandler {
	return &SchemaHandler{
		schemaRAG: schemaRAG,
		topK:      topK,
		logger:    logger,
	}
}

// RegisterRoutes registers the schema handler's routes on the given mux.
func (h *SchemaHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /schema", h.QuerySchema)
	mux.HandleFunc("POST /update", h.Update)
}

// QuerySchema handles POST /schema requests: it resolves an analysis
// payload to the relevant slice of the live schema.
func (h *SchemaHandler) QuerySchema(w http.ResponseWriter, r *http.Request) {
	var analysis models.QueryAnalysis
	if err := json.NewDecoder(r.Body).Decode(&analysis); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	result, err := h.schemaRAG.QuerySchema(r.Context(), &analysis, h.topK)
	if err != nil {
		h.writeServiceError(w, "schema resolution failed", err)
		return
	}

	response := SchemaResponse{
		OK:            len(result.Tables) > 0,
		QueryTextUsed: result.QueryText,
		MatchedTables: result.MatchedTables,
		Schema: SchemaPayload{
			Tables:      result.Tables,
			ForeignKeys: result.ForeignKeys,
		},
	}
	if !response.OK {
		response.Error = "No relevant tables found for this request."
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode schema response", zap.Error(err))
	}
}

// Update handles POST /update requests: a full reset and rebuild of the
// schema index.
func (h *SchemaHandler) Update(w http.ResponseWriter, r *http.Request) {
	if err := h.schemaRAG.Update(r.Context()); err != nil {
		h.writeServiceError(w, "schema index rebuild failed", err)
		return
	}

	response := UpdateResponse{
		OK:      true,
		Message: "schema index rebuilt",
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode update response", zap.Error(err))
	}
}

func (h *SchemaHandler) writeServiceError(w http.ResponseWriter, context string, err error) {
	if errors.Is(err, apperrors.ErrNotStarted) {
		_ = ErrorResponse(w, http.StatusServiceUnavailable, "not_started", "schema service is not started")
		return
	}

	h.logger.Error(context, zap.Error(err))
	_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", logging.SanitizeError(err))
}
