package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/verdict/internal/analyzer"
	"github.com/MikeSquared-Agency/verdict/internal/llm"
)

// Narrator phrases analysis facts as short report prose.
type Narrator struct {
	llm    analyzer.Completer
	logger *slog.Logger
}

func NewNarrator(c analyzer.Completer, logger *slog.Logger) *Narrator {
	return &Narrator{llm: c, logger: logger}
}

// TeamNarrative is the prose for an internal team report.
type TeamNarrative struct {
	Outcome            string   `json:"outcome"`
	KeyTopics          []string `json:"keyTopics"`
	Strengths          []string `json:"strengths"`
	AreasToImprove     []string `json:"areasToImprove"`
	RecommendedActions []string `json:"recommendedActions"`
}

const teamSystemPrompt = `You write BRIEF internal sales team reports. You are given the facts of an already-analyzed conversation. Do not add facts that are not present in the input.

Respond with a single JSON object and nothing else:
{
  "outcome": "one line, under 10 words",
  "keyTopics": ["at most 3, under 6 words each"],
  "strengths": ["at most 2, under 10 words each"],
  "areasToImprove": ["at most 2, under 10 words each"],
  "recommendedActions": ["at most 3, under 10 words each"]
}`

type teamFacts struct {
	Client            string   `json:"client"`
	SuccessStatus     string   `json:"successStatus"`
	CustomerSentiment string   `json:"customerSentiment"`
	KeyPoints         []string `json:"keyPoints"`
	ImprovementAreas  []string `json:"improvementAreas"`
	NextSteps         []string `json:"nextSteps"`
	MessageCount      int      `json:"messageCount"`
}

// TeamNarrative runs the formatting call for one conversation.
func (n *Narrator) TeamNarrative(ctx context.Context, in Input) (*TeamNarrative, error) {
	facts, err := json.Marshal(teamFacts{
		Client:            in.Contact.Name,
		SuccessStatus:     in.Analysis.SuccessStatus,
		CustomerSentiment: in.Analysis.CustomerSentiment,
		KeyPoints:         in.Analysis.KeyPoints,
		ImprovementAreas:  in.Analysis.ImprovementAreas,
		NextSteps:         in.Analysis.NextSteps,
		MessageCount:      in.MessageCount(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal facts: %w", err)
	}

	raw, err := n.llm.Complete(ctx, llm.Request{
		System:      teamSystemPrompt,
		Messages:    []llm.Message{{Role: "user", Content: string(facts)}},
		Temperature: 0.3,
		JSON:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("llm team report: %w", err)
	}

	var tn TeamNarrative
	if err := analyzer.DecodeJSONObject(raw, &tn); err != nil {
		n.logger.Error("failed to parse team narrative", "conversation_id", in.ConversationID, "error", err, "raw", raw)
		return nil, err
	}
	return &tn, nil
}

// RenderTeamReport lays out the team report. Bullets are capped so the
// document stays within roughly fifteen lines.
func RenderTeamReport(in Input, tn TeamNarrative) string {
	var sb strings.Builder

	outcome := bullet(tn.Outcome)
	if outcome == "" {
		outcome = in.Analysis.SuccessStatus
	}

	sb.WriteString("# Conversation Summary\n")
	fmt.Fprintf(&sb, "- Client: %s\n", in.Contact.Name)
	fmt.Fprintf(&sb, "- Outcome: %s (%s)\n", outcome, in.Analysis.SuccessStatus)
	fmt.Fprintf(&sb, "- Key topics: %s\n", joinOr(bullets(tn.KeyTopics, 3), ", ", "none recorded"))

	sb.WriteString("\n# Performance Assessment\n")
	fmt.Fprintf(&sb, "- Strengths: %s\n", joinOr(bullets(tn.Strengths, 2), "; ", "none noted"))
	fmt.Fprintf(&sb, "- Areas to Improve: %s\n", joinOr(bullets(tn.AreasToImprove, 2), "; ", "none noted"))

	sb.WriteString("\n# Recommended Actions\n")
	actions := bullets(tn.RecommendedActions, 3)
	if len(actions) == 0 {
		actions = bullets(in.Analysis.NextSteps, 3)
	}
	if len(actions) == 0 {
		sb.WriteString("- No follow-up required\n")
	}
	for _, a := range actions {
		fmt.Fprintf(&sb, "- %s\n", a)
	}
	return sb.String()
}
