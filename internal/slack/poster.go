package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

// maxListedFailures caps the failures listed in the thread reply.
const maxListedFailures = 20

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// Failure is one conversation that could not be processed.
type Failure struct {
	ConversationID string
	Kind           string
	Error          string
}

// BatchSummary is what a finished batch reports to the channel.
type BatchSummary struct {
	BatchID         string
	Total           int
	Succeeded       int
	Skipped         int
	SuccessfulDeals int
	Duration        time.Duration
	AggregatePaths  []string
	Failures        []Failure
}

// PostBatchSummary posts the batch outcome and, when anything failed, a
// threaded reply listing the failures. Returns the message timestamp.
func (p *Poster) PostBatchSummary(ctx context.Context, s BatchSummary) (string, error) {
	text := formatBatchSummary(s)

	body, err := json.Marshal(map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	ts, err := p.post(ctx, body)
	if err != nil {
		return "", err
	}
	p.logger.Info("posted batch summary to slack", "ts", ts, "batch_id", s.BatchID)

	if len(s.Failures) > 0 {
		if err := p.PostThread(ctx, ts, formatFailures(s.Failures)); err != nil {
			p.logger.Warn("failed to post failure thread", "error", err, "batch_id", s.BatchID)
		}
	}
	return ts, nil
}

// PostThread posts a threaded reply to a message.
func (p *Poster) PostThread(ctx context.Context, threadTS, text string) error {
	body, err := json.Marshal(map[string]any{
		"channel":   p.channel,
		"thread_ts": threadTS,
		"text":      text,
	})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	_, err = p.post(ctx, body)
	return err
}

func (p *Poster) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}
	return slackResp.TS, nil
}

func formatBatchSummary(s BatchSummary) string {
	var sb strings.Builder

	failed := len(s.Failures)
	fmt.Fprintf(&sb, "*Conversation batch %s finished* (%s)\n", s.BatchID, s.Duration.Round(time.Second))
	fmt.Fprintf(&sb, "Processed: %d | Succeeded: %d | Skipped: %d | Failed: %d\n", s.Total, s.Succeeded, s.Skipped, failed)
	if s.Succeeded > 0 {
		fmt.Fprintf(&sb, "Successful deals: %d (%.1f%%)\n", s.SuccessfulDeals, 100*float64(s.SuccessfulDeals)/float64(s.Succeeded))
	}

	if len(s.AggregatePaths) > 0 {
		sb.WriteString("\n*Aggregate reports:*\n")
		for _, path := range s.AggregatePaths {
			fmt.Fprintf(&sb, "• `%s`\n", path)
		}
	} else {
		sb.WriteString("\n_No aggregate reports: no conversation succeeded._")
	}

	return strings.TrimRight(sb.String(), "\n")
}

func formatFailures(failures []Failure) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*Failures: %d*\n", len(failures))
	for i, f := range failures {
		if i == maxListedFailures {
			fmt.Fprintf(&sb, "…and %d more", len(failures)-maxListedFailures)
			break
		}
		fmt.Fprintf(&sb, "%d. `%s` [%s] %s\n", i+1, f.ConversationID, f.Kind, f.Error)
	}
	return strings.TrimRight(sb.String(), "\n")
}
