package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/verdict/internal/pipeline"
)

// maxBatchSize bounds one synchronous batch request.
const maxBatchSize = 500

// processConversation handles POST /api/v1/conversations/{id}/process
func (s *Server) processConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	out := s.pipeline.ProcessConversation(r.Context(), id)
	if out.Failed() {
		respondJSON(w, http.StatusUnprocessableEntity, out)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

type batchRequest struct {
	ConversationIDs []string `json:"conversation_ids"`
}

type batchResponse struct {
	*pipeline.BatchResult
	Error string `json:"error,omitempty"`
}

// processBatch handles POST /api/v1/batches
func (s *Server) processBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	ids := make([]string, 0, len(req.ConversationIDs))
	for _, id := range req.ConversationIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		respondError(w, http.StatusBadRequest, "conversation_ids must not be empty")
		return
	}
	if len(ids) > maxBatchSize {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("at most %d conversation_ids per batch", maxBatchSize))
		return
	}

	res, err := s.pipeline.ProcessMany(r.Context(), ids)
	switch {
	case errors.Is(err, pipeline.ErrNoSuccessfulConversations):
		respondJSON(w, http.StatusUnprocessableEntity, batchResponse{BatchResult: res, Error: err.Error()})
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		respondJSON(w, http.StatusOK, batchResponse{BatchResult: res})
	}
}
