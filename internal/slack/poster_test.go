package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFormatBatchSummary(t *testing.T) {
	msg := formatBatchSummary(BatchSummary{
		BatchID:         "b-1",
		Total:           3,
		Succeeded:       2,
		SuccessfulDeals: 1,
		Duration:        90 * time.Second,
		AggregatePaths:  []string{"reports/merged_team_report_x.md"},
		Failures:        []Failure{{ConversationID: "c3", Kind: "malformed_response", Error: "bad payload"}},
	})

	checks := []string{
		"batch b-1",
		"1m30s",
		"Processed: 3 | Succeeded: 2 | Skipped: 0 | Failed: 1",
		"Successful deals: 1 (50.0%)",
		"merged_team_report_x.md",
	}
	for _, check := range checks {
		if !strings.Contains(msg, check) {
			t.Errorf("expected message to contain %q, got:\n%s", check, msg)
		}
	}
}

func TestFormatBatchSummary_NoSuccess(t *testing.T) {
	msg := formatBatchSummary(BatchSummary{BatchID: "b-2", Total: 1, Failures: []Failure{{ConversationID: "c"}}})
	if !strings.Contains(msg, "No aggregate reports") {
		t.Errorf("expected no-aggregate note, got %q", msg)
	}
	if strings.Contains(msg, "Successful deals") {
		t.Error("success rate should be omitted without successes")
	}
}

func TestFormatFailures_Capped(t *testing.T) {
	var failures []Failure
	for i := 0; i < maxListedFailures+5; i++ {
		failures = append(failures, Failure{ConversationID: fmt.Sprintf("c%d", i), Kind: "transport", Error: "timeout"})
	}
	msg := formatFailures(failures)
	if !strings.Contains(msg, "and 5 more") {
		t.Errorf("expected overflow note, got %q", msg)
	}
	if strings.Contains(msg, "`c24`") {
		t.Error("expected entries beyond the cap to be omitted")
	}
}

func TestPostBatchSummary_PostsThreadOnFailures(t *testing.T) {
	var (
		mu       sync.Mutex
		payloads []map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer xoxb-test" {
			t.Errorf("expected Bearer xoxb-test, got %q", r.Header.Get("Authorization"))
		}

		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		json.Unmarshal(body, &payload)
		mu.Lock()
		payloads = append(payloads, payload)
		mu.Unlock()

		json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"ts": "1234567890.123456",
		})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	ts, err := p.PostBatchSummary(context.Background(), BatchSummary{
		BatchID:   "b-1",
		Total:     2,
		Succeeded: 1,
		Failures:  []Failure{{ConversationID: "c2", Kind: "transport", Error: "timeout"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts != "1234567890.123456" {
		t.Errorf("expected ts 1234567890.123456, got %q", ts)
	}

	if len(payloads) != 2 {
		t.Fatalf("expected summary and thread posts, got %d", len(payloads))
	}
	if payloads[0]["channel"] != "C123" {
		t.Errorf("expected channel C123, got %v", payloads[0]["channel"])
	}
	if payloads[1]["thread_ts"] != "1234567890.123456" {
		t.Errorf("expected thread reply, got %v", payloads[1])
	}
}

func TestPostBatchSummary_SlackError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"ok":    false,
			"error": "channel_not_found",
		})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	if _, err := p.PostBatchSummary(context.Background(), BatchSummary{BatchID: "b"}); err == nil {
		t.Fatal("expected error for slack error response")
	}
}
