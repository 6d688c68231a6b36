package api

import (
	"net/http"
	"strconv"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		respondError(w, http.StatusServiceUnavailable, "run history requires DATABASE_URL")
		return
	}

	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := s.runs.RecentOutcomes(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}
