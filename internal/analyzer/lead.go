package analyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/verdict/internal/conversation"
	"github.com/MikeSquared-Agency/verdict/internal/llm"
)

// ClassifyLead assigns one of LeadStatuses to the conversation. Statuses
// outside the fixed set fall back to LeadUnclear.
func (a *Analyzer) ClassifyLead(ctx context.Context, conversationID string, turns []conversation.Turn) (*LeadAssessment, error) {
	if len(turns) == 0 {
		return nil, conversation.ErrNoTurns
	}

	raw, err := a.llm.Complete(ctx, llm.Request{
		System:      leadStatusSystemPrompt,
		Messages:    turnMessages(turns),
		Temperature: 0.2,
		JSON:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("llm lead status: %w", err)
	}

	var lead LeadAssessment
	if err := DecodeJSONObject(raw, &lead); err != nil {
		a.logger.Error("failed to parse lead status", "conversation_id", conversationID, "error", err, "raw", raw)
		return nil, err
	}
	lead.Status = canonicalLeadStatus(lead.Status)
	lead.KeyReason = strings.TrimSpace(lead.KeyReason)
	return &lead, nil
}

func canonicalLeadStatus(s string) string {
	s = strings.TrimSpace(s)
	for _, known := range LeadStatuses {
		if strings.EqualFold(s, known) {
			return known
		}
	}
	return LeadUnclear
}

// ExtractImprovements pulls actionable suggestions out of a team report.
func (a *Analyzer) ExtractImprovements(ctx context.Context, report string) ([]string, error) {
	raw, err := a.llm.Complete(ctx, llm.Request{
		System:      improvementsSystemPrompt,
		Messages:    []llm.Message{{Role: "user", Content: fmt.Sprintf(improvementsUserPrompt, report)}},
		Temperature: 0.1,
		JSON:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("llm improvements: %w", err)
	}

	var resp struct {
		Improvements []string `json:"improvements"`
	}
	if err := DecodeJSONObject(raw, &resp); err != nil {
		a.logger.Error("failed to parse improvements", "error", err, "raw", raw)
		return nil, err
	}
	return cleanList(resp.Improvements), nil
}
