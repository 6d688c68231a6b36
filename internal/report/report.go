// Package report renders conversation analyses into Markdown and CSV.
// Renderers are pure; prose comes from a Narrator whose output is
// validated before it reaches a template.
package report

import (
	"strings"
	"time"

	"github.com/MikeSquared-Agency/verdict/internal/analyzer"
	"github.com/MikeSquared-Agency/verdict/internal/conversation"
)

// Input is everything known about one processed conversation.
type Input struct {
	ConversationID string
	Turns          []conversation.Turn
	Contact        conversation.Contact
	Analysis       analyzer.Result
	Lead           *analyzer.LeadAssessment
	ProcessedAt    time.Time
}

func (in Input) MessageCount() int { return len(in.Turns) }

// ConversationDate is the first turn's date, else the processing date.
func (in Input) ConversationDate() string {
	for _, t := range in.Turns {
		if ts := t.Time(); !ts.IsZero() {
			return ts.UTC().Format("2006-01-02")
		}
	}
	return in.ProcessedAt.UTC().Format("2006-01-02")
}

// LeadStatus returns the classified status or LeadUnclear when none exists.
func (in Input) LeadStatus() (status, reason string) {
	if in.Lead == nil {
		return analyzer.LeadUnclear, ""
	}
	return in.Lead.Status, in.Lead.KeyReason
}

const maxBulletWords = 12

// bullet trims an LLM-supplied line to a bounded single line.
func bullet(s string) string {
	s = strings.Join(strings.Fields(strings.TrimLeft(strings.TrimSpace(s), "-•*")), " ")
	words := strings.Fields(s)
	if len(words) > maxBulletWords {
		s = strings.Join(words[:maxBulletWords], " ") + "…"
	}
	return s
}

func bullets(items []string, limit int) []string {
	out := make([]string, 0, limit)
	for _, it := range items {
		if b := bullet(it); b != "" {
			out = append(out, b)
		}
		if len(out) == limit {
			break
		}
	}
	return out
}

func joinOr(items []string, sep, empty string) string {
	if len(items) == 0 {
		return empty
	}
	return strings.Join(items, sep)
}
