package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/verdict/internal/analyzer"
	"github.com/MikeSquared-Agency/verdict/internal/approval"
	"github.com/MikeSquared-Agency/verdict/internal/conversation"
	"github.com/MikeSquared-Agency/verdict/internal/faults"
	"github.com/MikeSquared-Agency/verdict/internal/hermes"
	"github.com/MikeSquared-Agency/verdict/internal/instructions"
	"github.com/MikeSquared-Agency/verdict/internal/report"
	"github.com/MikeSquared-Agency/verdict/internal/reportstore"
	"github.com/MikeSquared-Agency/verdict/internal/slack"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const goodPayload = `{"messages":{"messages":[
	{"direction":"inbound","body":"Hi, I need a quote for 20 seats","dateAdded":"2024-03-01T10:00:00Z","contactId":"ct-1"},
	{"direction":"outbound","body":"Happy to help. Can we book a call?","dateAdded":"2024-03-01T10:01:00Z"},
	{"direction":"inbound","body":"Yes, Tuesday works","dateAdded":"2024-03-01T10:05:00Z"}
]}}`

const voiceOnlyPayload = `[
	{"direction":"inbound","body":"> Voice Note <","dateAdded":"2024-03-01T10:00:00Z"},
	{"direction":"inbound","body":"see attached","attachments":["https://cdn.example.com/a.png"],"dateAdded":"2024-03-01T10:01:00Z"}
]`

type fakeMessages struct {
	payloads map[string]string
	errs     map[string]error
}

func (f *fakeMessages) FetchMessages(_ context.Context, id string) (json.RawMessage, error) {
	if err, ok := f.errs[id]; ok {
		return nil, err
	}
	p, ok := f.payloads[id]
	if !ok {
		return nil, &faults.TransportError{Op: "fetch messages", Status: 404, Err: errors.New("not found")}
	}
	return json.RawMessage(p), nil
}

type fakeContacts struct{}

func (fakeContacts) Resolve(_ context.Context, p *conversation.Payload) conversation.Contact {
	return conversation.Contact{Name: "Jane Doe", Email: "jane@example.com", Phone: "555-0100", Country: "US"}
}

type fakeAnalyzer struct {
	analyzeCalls atomic.Int32
	leadErr      error
	improvements []string
}

func (f *fakeAnalyzer) Analyze(_ context.Context, id string, turns []conversation.Turn) (*analyzer.Result, error) {
	f.analyzeCalls.Add(1)
	status := analyzer.StatusYes
	if strings.HasSuffix(id, "-partial") {
		status = analyzer.StatusPartial
	}
	return &analyzer.Result{
		SuccessStatus:     status,
		KeyPoints:         []string{"Asked for a quote for 20 seats"},
		CustomerSentiment: analyzer.SentimentPositive,
		ImprovementAreas:  []string{"Share pricing earlier"},
		NextSteps:         []string{"Book Tuesday call"},
	}, nil
}

func (f *fakeAnalyzer) ClassifyLead(context.Context, string, []conversation.Turn) (*analyzer.LeadAssessment, error) {
	if f.leadErr != nil {
		return nil, f.leadErr
	}
	return &analyzer.LeadAssessment{Status: analyzer.LeadReady, KeyReason: "Agreed to a call"}, nil
}

func (f *fakeAnalyzer) ExtractImprovements(context.Context, string) ([]string, error) {
	return f.improvements, nil
}

type fakeNarrator struct {
	mergedItems int
}

func (f *fakeNarrator) TeamNarrative(_ context.Context, in report.Input) (*report.TeamNarrative, error) {
	return &report.TeamNarrative{
		Outcome:            "Lead agreed to a follow-up call",
		KeyTopics:          []string{"pricing"},
		Strengths:          []string{"fast reply"},
		AreasToImprove:     []string{"share pricing earlier"},
		RecommendedActions: []string{"send pricing sheet"},
	}, nil
}

func (f *fakeNarrator) MergedNarrative(_ context.Context, items []report.Input) (*report.MergedNarrative, error) {
	f.mergedItems = len(items)
	return &report.MergedNarrative{Themes: []string{"pricing"}, Highlights: []string{"quick replies"}, RecommendedActions: []string{"publish pricing"}}, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (r *recordingPublisher) Publish(subject string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	return nil
}

func (r *recordingPublisher) count(subject string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

type recordingSlack struct {
	summaries []slack.BatchSummary
}

func (r *recordingSlack) PostBatchSummary(_ context.Context, s slack.BatchSummary) (string, error) {
	r.summaries = append(r.summaries, s)
	return "1.0", nil
}

type harness struct {
	proc      *Processor
	messages  *fakeMessages
	analyzer  *fakeAnalyzer
	narrator  *fakeNarrator
	publisher *recordingPublisher
	slack     *recordingSlack
	reports   *reportstore.Store
}

func newHarness(t *testing.T, concurrency int) *harness {
	t.Helper()
	h := &harness{
		messages:  &fakeMessages{payloads: map[string]string{}, errs: map[string]error{}},
		analyzer:  &fakeAnalyzer{},
		narrator:  &fakeNarrator{},
		publisher: &recordingPublisher{},
		slack:     &recordingSlack{},
		reports:   reportstore.New(filepath.Join(t.TempDir(), "reports")),
	}
	h.proc = New(Deps{
		Messages:  h.messages,
		Contacts:  fakeContacts{},
		Analyzer:  h.analyzer,
		Narrator:  h.narrator,
		Reports:   h.reports,
		Publisher: h.publisher,
		Slack:     h.slack,
	}, concurrency, discardLogger())

	var tick atomic.Int64
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	h.proc.now = func() time.Time {
		return base.Add(time.Duration(tick.Add(1)) * time.Millisecond)
	}
	return h
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestProcessConversation_Success(t *testing.T) {
	h := newHarness(t, 1)
	h.messages.payloads["conv-1"] = goodPayload

	out := h.proc.ProcessConversation(context.Background(), "conv-1")
	if !out.Success {
		t.Fatalf("expected success, got %+v", out)
	}
	if !out.IsSuccessfulDeal || out.SuccessStatus != "yes" {
		t.Errorf("unexpected status %+v", out)
	}
	if out.MessageCount != 3 || out.ClientName != "Jane Doe" {
		t.Errorf("unexpected outcome %+v", out)
	}
	if out.LeadStatus != analyzer.LeadReady {
		t.Errorf("unexpected lead status %q", out.LeadStatus)
	}
	if len(out.ReportPaths) != 3 {
		t.Fatalf("expected 3 report paths, got %v", out.ReportPaths)
	}
	for i, prefix := range []string{"conversation_conv-1_", "team_report_conv-1_", "client_report_conv-1_"} {
		if !strings.HasPrefix(filepath.Base(out.ReportPaths[i]), prefix) {
			t.Errorf("path %d: expected prefix %s, got %s", i, prefix, out.ReportPaths[i])
		}
		if _, err := os.Stat(out.ReportPaths[i]); err != nil {
			t.Errorf("report missing: %v", err)
		}
	}

	if lines := readLines(t, filepath.Join(h.reports.Dir(), reportstore.TeamCSV)); len(lines) != 2 {
		t.Errorf("expected header and one row in team csv, got %d lines", len(lines))
	}
	if lines := readLines(t, filepath.Join(h.reports.Dir(), reportstore.ClientCSV)); len(lines) != 2 {
		t.Errorf("expected header and one row in client csv, got %d lines", len(lines))
	}
	if h.publisher.count(hermes.SubjectReportGenerated) != 1 {
		t.Errorf("expected one report event, got %v", h.publisher.subjects)
	}
}

func TestProcessConversation_NoTurnsSkipsAnalyzer(t *testing.T) {
	h := newHarness(t, 1)
	h.messages.payloads["voice"] = voiceOnlyPayload

	out := h.proc.ProcessConversation(context.Background(), "voice")
	if out.Success || !out.Skipped {
		t.Fatalf("expected skipped outcome, got %+v", out)
	}
	if out.Failed() {
		t.Error("a skipped conversation is not a failure")
	}
	if n := h.analyzer.analyzeCalls.Load(); n != 0 {
		t.Errorf("analyzer must not be called, got %d calls", n)
	}
	if len(out.ReportPaths) != 0 {
		t.Errorf("expected no reports, got %v", out.ReportPaths)
	}
}

func TestProcessConversation_Failures(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		fetchErr error
		wantKind string
	}{
		{"malformed payload", `{"data":{"items":[]}}`, nil, "malformed_response"},
		{"transport", "", &faults.TransportError{Op: "fetch messages", Err: context.DeadlineExceeded}, "transport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 1)
			if tt.fetchErr != nil {
				h.messages.errs["c"] = tt.fetchErr
			} else {
				h.messages.payloads["c"] = tt.payload
			}

			out := h.proc.ProcessConversation(context.Background(), "c")
			if !out.Failed() {
				t.Fatalf("expected failure, got %+v", out)
			}
			if out.ErrorKind != tt.wantKind {
				t.Errorf("expected kind %s, got %s (%s)", tt.wantKind, out.ErrorKind, out.Error)
			}
			if h.publisher.count(hermes.SubjectReportGenerated) != 0 {
				t.Error("no report event expected on failure")
			}
		})
	}
}

func TestProcessConversation_LeadFailureFallsBack(t *testing.T) {
	h := newHarness(t, 1)
	h.messages.payloads["c"] = goodPayload
	h.analyzer.leadErr = errors.New("boom")

	out := h.proc.ProcessConversation(context.Background(), "c")
	if !out.Success {
		t.Fatalf("expected success, got %+v", out)
	}
	if out.LeadStatus != analyzer.LeadUnclear {
		t.Errorf("expected fallback lead status, got %q", out.LeadStatus)
	}
}

func TestProcessMany_OneMalformed(t *testing.T) {
	h := newHarness(t, 1)
	h.messages.payloads["a"] = goodPayload
	h.messages.payloads["b"] = `{"unexpected":true}`
	h.messages.payloads["c-partial"] = goodPayload

	res, err := h.proc.ProcessMany(context.Background(), []string{"a", "b", "c-partial"})
	if err != nil {
		t.Fatalf("ProcessMany: %v", err)
	}
	if len(res.Outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(res.Outcomes))
	}
	failed := 0
	for _, o := range res.Outcomes {
		if !o.Success {
			failed++
		}
	}
	if failed != 1 || !res.Outcomes[1].Failed() || res.Outcomes[1].ErrorKind != "malformed_response" {
		t.Errorf("expected exactly outcome b to fail, got %+v", res.Outcomes)
	}
	if res.Succeeded != 2 || res.Failed != 1 {
		t.Errorf("unexpected counts %+v", res)
	}
	if h.narrator.mergedItems != 2 {
		t.Errorf("expected merged narrative over 2 items, got %d", h.narrator.mergedItems)
	}

	if len(res.AggregatePaths) != 3 {
		t.Fatalf("expected 3 aggregate files, got %v", res.AggregatePaths)
	}
	var leadReport string
	for _, p := range res.AggregatePaths {
		if strings.HasPrefix(filepath.Base(p), reportstore.KindMergedLeadReport) {
			data, _ := os.ReadFile(p)
			leadReport = string(data)
		}
	}
	if !strings.Contains(leadReport, "Total Leads: 2") {
		t.Errorf("expected lead report over 2 leads:\n%s", leadReport)
	}

	summary := readLines(t, filepath.Join(h.reports.Dir(), reportstore.SummaryCSV))
	if len(summary) != 4 {
		t.Errorf("expected header plus 3 summary rows, got %d", len(summary))
	}

	if len(h.slack.summaries) != 1 || len(h.slack.summaries[0].Failures) != 1 {
		t.Errorf("expected one slack summary with one failure, got %+v", h.slack.summaries)
	}
	if h.publisher.count(hermes.SubjectBatchCompleted) != 1 {
		t.Error("expected batch completed event")
	}
}

func TestProcessMany_NoSuccess(t *testing.T) {
	h := newHarness(t, 2)
	h.messages.payloads["x"] = `"nope"`
	h.messages.payloads["y"] = voiceOnlyPayload

	res, err := h.proc.ProcessMany(context.Background(), []string{"x", "y"})
	if !errors.Is(err, ErrNoSuccessfulConversations) {
		t.Fatalf("expected ErrNoSuccessfulConversations, got %v", err)
	}
	if res == nil || len(res.Outcomes) != 2 {
		t.Fatalf("expected outcomes despite failure, got %+v", res)
	}
	if len(res.AggregatePaths) != 0 {
		t.Errorf("expected no aggregates, got %v", res.AggregatePaths)
	}
	if res.Failed != 1 || res.Skipped != 1 {
		t.Errorf("unexpected counts %+v", res)
	}
	entries, _ := os.ReadDir(h.reports.Dir())
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "merged_") {
			t.Errorf("unexpected aggregate file %s", e.Name())
		}
	}
}

func TestProcessMany_ConcurrentPreservesOrder(t *testing.T) {
	h := newHarness(t, 4)
	var ids []string
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("conv-%02d", i)
		ids = append(ids, id)
		h.messages.payloads[id] = goodPayload
	}
	ids = append(ids, "conv-00")

	res, err := h.proc.ProcessMany(context.Background(), ids)
	if err != nil {
		t.Fatalf("ProcessMany: %v", err)
	}
	for i, o := range res.Outcomes {
		if o.ConversationID != ids[i] {
			t.Errorf("outcome %d: expected %s, got %s", i, ids[i], o.ConversationID)
		}
	}
	if res.Succeeded != len(ids) {
		t.Errorf("expected all %d to succeed, got %d (%+v)", len(ids), res.Succeeded, res.Outcomes)
	}

	lines := readLines(t, filepath.Join(h.reports.Dir(), reportstore.TeamCSV))
	if len(lines) != len(ids)+1 {
		t.Errorf("expected %d team csv lines, got %d", len(ids)+1, len(lines))
	}
	if strings.Count(strings.Join(lines, "\n"), lines[0]) != 1 {
		t.Error("expected exactly one header")
	}
}

func TestProcessMany_DuplicateIDsSameInstant(t *testing.T) {
	h := newHarness(t, 2)
	frozen := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	h.proc.now = func() time.Time { return frozen }
	h.messages.payloads["conv-1"] = goodPayload

	res, err := h.proc.ProcessMany(context.Background(), []string{"conv-1", "conv-1"})
	if err != nil {
		t.Fatalf("ProcessMany: %v", err)
	}
	if res.Succeeded != 2 || res.Failed != 0 {
		t.Fatalf("expected 2 successes, got %+v", res.Outcomes)
	}

	seen := make(map[string]bool)
	for _, o := range res.Outcomes {
		for _, p := range o.ReportPaths {
			if seen[p] {
				t.Errorf("report path %s written twice", p)
			}
			seen[p] = true
		}
	}
	if len(seen) != 6 {
		t.Errorf("expected 6 distinct report files, got %d", len(seen))
	}
}

func TestProcessMany_CanceledContext(t *testing.T) {
	h := newHarness(t, 1)
	h.messages.payloads["a"] = goodPayload
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.proc.ProcessMany(ctx, []string{"a", "a"})
	if !errors.Is(err, ErrNoSuccessfulConversations) {
		t.Fatalf("expected no successes, got %v", err)
	}
	for _, o := range res.Outcomes {
		if o.ErrorKind != "canceled" {
			t.Errorf("expected canceled outcome, got %+v", o)
		}
	}
}

type fakeEngine struct {
	commits   [][]string
	commitErr error
}

func (f *fakeEngine) Preview(_ context.Context, c []string) (*instructions.MergeResult, error) {
	return &instructions.MergeResult{Text: "preview", Added: c}, nil
}

func (f *fakeEngine) Commit(_ context.Context, c []string) (*instructions.MergeResult, error) {
	if f.commitErr != nil {
		return nil, f.commitErr
	}
	f.commits = append(f.commits, c)
	return &instructions.MergeResult{Text: "merged", Added: c, Changed: true}, nil
}

type recordingNotifier struct {
	proposals []approval.Pending
}

func (r *recordingNotifier) ClientReport(context.Context, string, conversation.Contact, string) error {
	return nil
}

func (r *recordingNotifier) TeamReport(context.Context, string, conversation.Contact, string) error {
	return nil
}

func (r *recordingNotifier) ImprovementProposal(_ context.Context, p approval.Pending, _ string) error {
	r.proposals = append(r.proposals, p)
	return nil
}

func TestImprovementLoop(t *testing.T) {
	h := newHarness(t, 1)
	engine := &fakeEngine{}
	notifier := &recordingNotifier{}
	h.proc.Engine = engine
	h.proc.Notifier = notifier
	h.proc.Approvals = approval.NewFileStore(filepath.Join(h.reports.Dir(), "pending.json"))
	h.analyzer.improvements = []string{"Share pricing earlier", "Confirm decision maker"}
	ctx := context.Background()

	path, err := h.reports.WriteReport(reportstore.KindTeamReport, "c1", time.Now(), "md", []byte("# Conversation Summary\n"))
	if err != nil {
		t.Fatal(err)
	}

	pending, err := h.proc.ProposeImprovements(ctx, path)
	if err != nil {
		t.Fatalf("ProposeImprovements: %v", err)
	}
	if len(notifier.proposals) != 1 || notifier.proposals[0].Token != pending.Token {
		t.Errorf("expected one proposal mail, got %+v", notifier.proposals)
	}
	if h.publisher.count(hermes.SubjectImprovementsPending) != 1 {
		t.Error("expected pending event")
	}

	preview, err := h.proc.PreviewImprovements(ctx, pending.Token)
	if err != nil || preview.Text != "preview" {
		t.Fatalf("PreviewImprovements: %v %+v", err, preview)
	}
	if len(engine.commits) != 0 {
		t.Error("preview must not commit")
	}

	engine.commitErr = errors.New("remote write failed")
	if _, err := h.proc.ConfirmImprovements(ctx, pending.Token); err == nil {
		t.Fatal("expected commit failure")
	}
	engine.commitErr = nil

	res, err := h.proc.ConfirmImprovements(ctx, pending.Token)
	if err != nil {
		t.Fatalf("ConfirmImprovements after failure should still work: %v", err)
	}
	if len(res.Added) != 2 || len(engine.commits) != 1 {
		t.Errorf("unexpected commit %+v %v", res, engine.commits)
	}

	if _, err := h.proc.ConfirmImprovements(ctx, pending.Token); !errors.Is(err, approval.ErrNotFound) {
		t.Errorf("expected token to be consumed, got %v", err)
	}
}

func TestProposeImprovements_NothingFound(t *testing.T) {
	h := newHarness(t, 1)
	h.proc.Approvals = approval.NewFileStore(filepath.Join(t.TempDir(), "pending.json"))
	path, err := h.reports.WriteReport(reportstore.KindTeamReport, "c1", time.Now(), "md", []byte("ok"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.proc.ProposeImprovements(context.Background(), path); !errors.Is(err, ErrNoImprovements) {
		t.Errorf("expected ErrNoImprovements, got %v", err)
	}
}

func TestProposeImprovements_RejectsOutsidePath(t *testing.T) {
	h := newHarness(t, 1)
	h.proc.Approvals = approval.NewFileStore(filepath.Join(t.TempDir(), "pending.json"))
	outside := filepath.Join(t.TempDir(), "secret.md")
	os.WriteFile(outside, []byte("x"), 0o644)

	if _, err := h.proc.ProposeImprovements(context.Background(), outside); err == nil {
		t.Error("expected rejection of a path outside the reports directory")
	}
}

func TestHandleConversationClosed(t *testing.T) {
	h := newHarness(t, 1)
	h.messages.payloads["conv-evt"] = goodPayload

	h.proc.HandleConversationClosed(hermes.SubjectConversationClosed, []byte(`{"conversation_id":"conv-evt"}`))
	if h.publisher.count(hermes.SubjectReportGenerated) != 1 {
		t.Errorf("expected the event to trigger processing, got %v", h.publisher.subjects)
	}

	h.proc.HandleConversationClosed(hermes.SubjectConversationClosed, []byte(`{}`))
	if n := h.analyzer.analyzeCalls.Load(); n != 1 {
		t.Errorf("invalid event must not trigger processing, got %d analyses", n)
	}
}
