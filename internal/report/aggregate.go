package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/verdict/internal/analyzer"
	"github.com/MikeSquared-Agency/verdict/internal/llm"
)

// Stats are the counts behind the aggregate reports.
type Stats struct {
	Total    int
	ByStatus map[string]int
	ByLead   map[string]int
}

func Summarize(items []Input) Stats {
	s := Stats{Total: len(items), ByStatus: map[string]int{}, ByLead: map[string]int{}}
	for _, in := range items {
		s.ByStatus[in.Analysis.SuccessStatus]++
		status, _ := in.LeadStatus()
		s.ByLead[status]++
	}
	return s
}

func (s Stats) percent(n int) float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(n) * 100 / float64(s.Total)
}

// SuccessRate is the share of "yes" outcomes, in percent.
func (s Stats) SuccessRate() float64 {
	return s.percent(s.ByStatus[analyzer.StatusYes])
}

// RenderMergedLeadReport renders status counts and a per-lead table.
func RenderMergedLeadReport(items []Input, generatedAt time.Time) string {
	stats := Summarize(items)

	var sb strings.Builder
	sb.WriteString("# Merged Lead Status Report\n\n")
	fmt.Fprintf(&sb, "Generated: %s\n", generatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "Total Leads: %d\n\n", stats.Total)

	sb.WriteString("## Status Breakdown\n")
	for _, status := range analyzer.LeadStatuses {
		n := stats.ByLead[status]
		if n == 0 {
			continue
		}
		fmt.Fprintf(&sb, "- %s: %d (%.1f%%)\n", status, n, stats.percent(n))
	}

	sb.WriteString("\n## Leads\n")
	sb.WriteString("| Contact | Status | Key Reason |\n")
	sb.WriteString("|---|---|---|\n")
	for _, in := range items {
		status, reason := in.LeadStatus()
		fmt.Fprintf(&sb, "| %s | %s | %s |\n", tableCell(in.Contact.Name), tableCell(status), tableCell(reason))
	}
	return sb.String()
}

func tableCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.Join(strings.Fields(s), " ")
}

// MergedNarrative is the prose for a multi-conversation team report.
type MergedNarrative struct {
	Themes             []string `json:"themes"`
	Highlights         []string `json:"highlights"`
	RecommendedActions []string `json:"recommendedActions"`
}

const mergedSystemPrompt = `You write BRIEF merged sales team reports covering several already-analyzed conversations. Use only the facts given.

Respond with a single JSON object and nothing else:
{
  "themes": ["at most 3 common themes, under 8 words each"],
  "highlights": ["at most 3 performance highlights, under 10 words each"],
  "recommendedActions": ["at most 3 actions, under 10 words each"]
}`

type mergedFacts struct {
	Total         int            `json:"totalConversations"`
	SuccessRate   string         `json:"successRate"`
	ByStatus      map[string]int `json:"byStatus"`
	Conversations []teamFacts    `json:"conversations"`
}

// MergedNarrative runs the summarization call over successful conversations.
func (n *Narrator) MergedNarrative(ctx context.Context, items []Input) (*MergedNarrative, error) {
	stats := Summarize(items)
	facts := mergedFacts{
		Total:       stats.Total,
		SuccessRate: fmt.Sprintf("%.1f%%", stats.SuccessRate()),
		ByStatus:    stats.ByStatus,
	}
	for _, in := range items {
		facts.Conversations = append(facts.Conversations, teamFacts{
			Client:            in.Contact.Name,
			SuccessStatus:     in.Analysis.SuccessStatus,
			CustomerSentiment: in.Analysis.CustomerSentiment,
			KeyPoints:         in.Analysis.KeyPoints,
			ImprovementAreas:  in.Analysis.ImprovementAreas,
			NextSteps:         in.Analysis.NextSteps,
			MessageCount:      in.MessageCount(),
		})
	}
	body, err := json.Marshal(facts)
	if err != nil {
		return nil, fmt.Errorf("marshal facts: %w", err)
	}

	raw, err := n.llm.Complete(ctx, llm.Request{
		System:      mergedSystemPrompt,
		Messages:    []llm.Message{{Role: "user", Content: string(body)}},
		Temperature: 0.3,
		JSON:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("llm merged report: %w", err)
	}

	var mn MergedNarrative
	if err := analyzer.DecodeJSONObject(raw, &mn); err != nil {
		n.logger.Error("failed to parse merged narrative", "error", err, "raw", raw)
		return nil, err
	}
	return &mn, nil
}

// RenderMergedTeamReport lays out the merged team report with one insight
// line per client.
func RenderMergedTeamReport(items []Input, mn MergedNarrative, generatedAt time.Time) string {
	stats := Summarize(items)

	var sb strings.Builder
	sb.WriteString("# Merged Team Report\n\n")
	fmt.Fprintf(&sb, "Generated: %s\n\n", generatedAt.UTC().Format(time.RFC3339))

	sb.WriteString("## Overview\n")
	fmt.Fprintf(&sb, "- Conversations analyzed: %d\n", stats.Total)
	fmt.Fprintf(&sb, "- Success rate: %.1f%% (yes %d, partial %d, no %d)\n",
		stats.SuccessRate(),
		stats.ByStatus[analyzer.StatusYes],
		stats.ByStatus[analyzer.StatusPartial],
		stats.ByStatus[analyzer.StatusNo],
	)
	fmt.Fprintf(&sb, "- Common themes: %s\n", joinOr(bullets(mn.Themes, 3), "; ", "none identified"))

	sb.WriteString("\n## Performance Highlights\n")
	writeBullets(&sb, bullets(mn.Highlights, 3), "No highlights noted")

	sb.WriteString("\n## Client Insights\n")
	for _, in := range items {
		fmt.Fprintf(&sb, "- %s\n", clientInsight(in))
	}

	sb.WriteString("\n## Recommended Actions\n")
	writeBullets(&sb, bullets(mn.RecommendedActions, 3), "No actions recommended")
	return sb.String()
}

func clientInsight(in Input) string {
	line := fmt.Sprintf("%s: %s, %s", in.Contact.Name, in.Analysis.SuccessStatus, in.Analysis.CustomerSentiment)
	if len(in.Analysis.KeyPoints) > 0 {
		line += "; " + bullet(in.Analysis.KeyPoints[0])
	}
	return line
}

func writeBullets(sb *strings.Builder, items []string, empty string) {
	if len(items) == 0 {
		fmt.Fprintf(sb, "- %s\n", empty)
		return
	}
	for _, it := range items {
		fmt.Fprintf(sb, "- %s\n", it)
	}
}
