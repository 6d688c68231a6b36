package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/verdict/internal/conversation"
	"github.com/MikeSquared-Agency/verdict/internal/faults"
	"github.com/MikeSquared-Agency/verdict/internal/llm"
)

// Completer is the LLM call the analyzer needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

type Analyzer struct {
	llm        Completer
	logger     *slog.Logger
	maxRetries int
}

func New(c Completer, logger *slog.Logger) *Analyzer {
	return &Analyzer{llm: c, logger: logger, maxRetries: 1}
}

// Analyze asks the LLM to judge the conversation. Unparseable output is
// retried once; refusals and transport failures are not retried.
func (a *Analyzer) Analyze(ctx context.Context, conversationID string, turns []conversation.Turn) (*Result, error) {
	if len(turns) == 0 {
		return nil, conversation.ErrNoTurns
	}

	req := llm.Request{
		System:      analysisSystemPrompt,
		Messages:    turnMessages(turns),
		Temperature: 0.2,
		JSON:        true,
	}

	a.logger.Info("analyzing conversation",
		"conversation_id", conversationID,
		"turns", len(turns),
	)

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		raw, err := a.llm.Complete(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("llm analysis: %w", err)
		}

		res, err := ParseResult(raw)
		if err == nil {
			a.logger.Info("analysis complete",
				"conversation_id", conversationID,
				"success_status", res.SuccessStatus,
				"sentiment", res.CustomerSentiment,
			)
			return res, nil
		}

		a.logger.Error("failed to parse analysis response",
			"conversation_id", conversationID,
			"attempt", attempt+1,
			"error", err,
			"raw", raw,
		)
		lastErr = err
	}
	return nil, lastErr
}

// ParseResult validates LLM output against the analysis schema.
func ParseResult(raw string) (*Result, error) {
	obj := extractJSONObject(raw)
	if obj == "" {
		return nil, &faults.AnalysisParseError{Raw: raw, Err: errors.New("no JSON object in response")}
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &keys); err != nil {
		return nil, &faults.AnalysisParseError{Raw: raw, Err: err}
	}
	var missing []string
	for _, k := range requiredKeys {
		if v, ok := keys[k]; !ok || string(v) == "null" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return nil, &faults.AnalysisParseError{Raw: raw, Err: fmt.Errorf("missing keys: %s", strings.Join(missing, ", "))}
	}

	var res Result
	if err := json.Unmarshal([]byte(obj), &res); err != nil {
		return nil, &faults.AnalysisParseError{Raw: raw, Err: err}
	}

	res.SuccessStatus = strings.ToLower(strings.TrimSpace(res.SuccessStatus))
	switch res.SuccessStatus {
	case StatusYes, StatusNo, StatusPartial:
	default:
		return nil, &faults.AnalysisParseError{Raw: raw, Err: fmt.Errorf("invalid successStatus %q", res.SuccessStatus)}
	}
	res.CustomerSentiment = strings.ToLower(strings.TrimSpace(res.CustomerSentiment))
	switch res.CustomerSentiment {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
	default:
		return nil, &faults.AnalysisParseError{Raw: raw, Err: fmt.Errorf("invalid customerSentiment %q", res.CustomerSentiment)}
	}

	res.KeyPoints = cleanList(res.KeyPoints)
	res.ImprovementAreas = cleanList(res.ImprovementAreas)
	res.NextSteps = cleanList(res.NextSteps)
	return &res, nil
}

func turnMessages(turns []conversation.Turn) []llm.Message {
	msgs := make([]llm.Message, len(turns))
	for i, t := range turns {
		msgs[i] = llm.Message{Role: string(t.Role), Content: t.Content}
	}
	return msgs
}

// extractJSONObject returns the outermost {...} span, tolerating code fences
// or prose around it.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

// DecodeJSONObject unmarshals the JSON object embedded in model output into
// v. Failures are AnalysisParseError carrying the raw text.
func DecodeJSONObject(raw string, v any) error {
	obj := extractJSONObject(raw)
	if obj == "" {
		return &faults.AnalysisParseError{Raw: raw, Err: errors.New("no JSON object in response")}
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return &faults.AnalysisParseError{Raw: raw, Err: err}
	}
	return nil
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(it), "-•*"))
		if it != "" {
			out = append(out, it)
		}
	}
	return out
}
