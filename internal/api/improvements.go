package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/MikeSquared-Agency/verdict/internal/approval"
	"github.com/MikeSquared-Agency/verdict/internal/pipeline"
)

type proposeRequest struct {
	ReportPath string `json:"report_path"`
}

// proposeImprovements handles POST /api/v1/improvements
func (s *Server) proposeImprovements(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if strings.TrimSpace(req.ReportPath) == "" {
		respondError(w, http.StatusBadRequest, "report_path is required")
		return
	}

	pending, err := s.pipeline.ProposeImprovements(r.Context(), req.ReportPath)
	switch {
	case errors.Is(err, pipeline.ErrNoImprovements):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		s.logger.Error("propose improvements failed", "report", req.ReportPath, "error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, pending)
}

// previewImprovements handles GET /preview-improvements?token=
func (s *Server) previewImprovements(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		respondError(w, http.StatusBadRequest, "token is required")
		return
	}

	res, err := s.pipeline.PreviewImprovements(r.Context(), token)
	if err != nil {
		s.tokenError(w, token, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// confirmImprovements handles GET /confirm-improvements?token=. It is
// reached from a mail link, so success renders a small page.
func (s *Server) confirmImprovements(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		respondError(w, http.StatusBadRequest, "token is required")
		return
	}

	res, err := s.pipeline.ConfirmImprovements(r.Context(), token)
	if err != nil {
		s.tokenError(w, token, err)
		return
	}

	var sb strings.Builder
	sb.WriteString("<h2>Assistant instructions updated</h2>\n")
	if res.NoOp {
		sb.WriteString("<p>All suggested improvements were already present.</p>\n")
	} else {
		sb.WriteString("<p>Added:</p>\n<ul>")
		for _, b := range res.Added {
			sb.WriteString("<li>" + html.EscapeString(b) + "</li>")
		}
		sb.WriteString("</ul>\n")
	}
	if len(res.Skipped) > 0 {
		fmt.Fprintf(&sb, "<p>Skipped %d duplicate(s).</p>\n", len(res.Skipped))
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(sb.String()))
}

func (s *Server) tokenError(w http.ResponseWriter, token string, err error) {
	if errors.Is(err, approval.ErrNotFound) {
		respondError(w, http.StatusNotFound, "invalid or already used token")
		return
	}
	s.logger.Error("improvement approval failed", "token", token, "error", err)
	respondError(w, http.StatusBadGateway, err.Error())
}

// cleanupImprovements handles POST /cleanup-improvements
func (s *Server) cleanupImprovements(w http.ResponseWriter, r *http.Request) {
	text, err := s.instructions.Cleanup(r.Context())
	if err != nil {
		s.logger.Error("instructions cleanup failed", "error", err)
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"instructions": text})
}

// assistantInstructions handles GET /assistant-instructions
func (s *Server) assistantInstructions(w http.ResponseWriter, r *http.Request) {
	text, err := s.instructions.Current(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(text))
}
