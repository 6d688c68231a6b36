package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/verdict/internal/approval"
	"github.com/MikeSquared-Agency/verdict/internal/instructions"
	"github.com/MikeSquared-Agency/verdict/internal/pipeline"
)

const testToken = "secret-token"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePipeline struct {
	batchIDs  []string
	batchErr  error
	confirmed []string
	improvErr error
}

func (f *fakePipeline) ProcessConversation(_ context.Context, id string) pipeline.Outcome {
	if id == "bad" {
		return pipeline.Outcome{ConversationID: id, Error: "malformed", ErrorKind: "malformed_response"}
	}
	return pipeline.Outcome{ConversationID: id, Success: true, SuccessStatus: "yes"}
}

func (f *fakePipeline) ProcessMany(_ context.Context, ids []string) (*pipeline.BatchResult, error) {
	f.batchIDs = ids
	return &pipeline.BatchResult{BatchID: "b-1", Succeeded: len(ids)}, f.batchErr
}

func (f *fakePipeline) ProposeImprovements(_ context.Context, path string) (*approval.Pending, error) {
	if f.improvErr != nil {
		return nil, f.improvErr
	}
	return &approval.Pending{Token: "tok", Improvements: []string{"a"}, ReportPath: path}, nil
}

func (f *fakePipeline) PreviewImprovements(_ context.Context, token string) (*instructions.MergeResult, error) {
	if token != "tok" {
		return nil, approval.ErrNotFound
	}
	return &instructions.MergeResult{Text: "merged", Added: []string{"a"}, Changed: true}, nil
}

func (f *fakePipeline) ConfirmImprovements(_ context.Context, token string) (*instructions.MergeResult, error) {
	switch token {
	case "tok":
		f.confirmed = append(f.confirmed, token)
		return &instructions.MergeResult{Text: "merged", Added: []string{"<b>a</b>"}, Changed: true}, nil
	case "remote-down":
		return nil, errors.New("write instructions: 503")
	default:
		return nil, approval.ErrNotFound
	}
}

type fakeInstructions struct {
	text    string
	cleaned bool
}

func (f *fakeInstructions) Current(context.Context) (string, error) { return f.text, nil }

func (f *fakeInstructions) Cleanup(context.Context) (string, error) {
	f.cleaned = true
	return "Base\n\n" + instructions.SectionHeading, nil
}

func newTestServer(p *fakePipeline, ins *fakeInstructions) *Server {
	return NewServer(8760, testToken, p, ins, discardLogger())
}

func do(t *testing.T, srv *Server, method, path, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if auth {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(&fakePipeline{}, &fakeInstructions{})
	w := do(t, srv, "GET", "/health", "", false)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if decode(t, w)["status"] != "ok" {
		t.Error("expected status ok")
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(&fakePipeline{}, &fakeInstructions{})
	w := do(t, srv, "GET", "/api/v1/status", "", false)
	if body := decode(t, w); body["service"] != "verdict" {
		t.Errorf("expected service verdict, got %v", body)
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	srv := newTestServer(&fakePipeline{}, &fakeInstructions{})
	if w := do(t, srv, "GET", "/nonexistent", "", false); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		header     string
		want       int
	}{
		{"valid token", testToken, "Bearer " + testToken, http.StatusOK},
		{"wrong token", testToken, "Bearer nope", http.StatusUnauthorized},
		{"missing header", testToken, "", http.StatusUnauthorized},
		{"wrong scheme", testToken, "Basic " + testToken, http.StatusUnauthorized},
		{"no token configured", "", "Bearer ", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(0, tt.configured, &fakePipeline{}, &fakeInstructions{text: "hi"}, discardLogger())
			req := httptest.NewRequest("GET", "/assistant-instructions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestAssistantInstructions(t *testing.T) {
	srv := newTestServer(&fakePipeline{}, &fakeInstructions{text: "You are helpful."})
	w := do(t, srv, "GET", "/assistant-instructions", "", true)
	if w.Code != http.StatusOK || w.Body.String() != "You are helpful." {
		t.Errorf("unexpected response %d %q", w.Code, w.Body.String())
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("unexpected content type %q", w.Header().Get("Content-Type"))
	}
}

func TestCleanupImprovements(t *testing.T) {
	ins := &fakeInstructions{}
	srv := newTestServer(&fakePipeline{}, ins)
	w := do(t, srv, "POST", "/cleanup-improvements", "", true)
	if w.Code != http.StatusOK || !ins.cleaned {
		t.Fatalf("expected cleanup, got %d", w.Code)
	}
	if !strings.HasSuffix(decode(t, w)["instructions"].(string), instructions.SectionHeading) {
		t.Error("expected cleaned instructions in body")
	}
}

func TestPreviewImprovements(t *testing.T) {
	srv := newTestServer(&fakePipeline{}, &fakeInstructions{})

	if w := do(t, srv, "GET", "/preview-improvements", "", false); w.Code != http.StatusBadRequest {
		t.Errorf("missing token: expected 400, got %d", w.Code)
	}
	if w := do(t, srv, "GET", "/preview-improvements?token=unknown", "", false); w.Code != http.StatusNotFound {
		t.Errorf("unknown token: expected 404, got %d", w.Code)
	}
	w := do(t, srv, "GET", "/preview-improvements?token=tok", "", false)
	if w.Code != http.StatusOK || decode(t, w)["text"] != "merged" {
		t.Errorf("unexpected preview response %d", w.Code)
	}
}

func TestConfirmImprovements(t *testing.T) {
	p := &fakePipeline{}
	srv := newTestServer(p, &fakeInstructions{})

	w := do(t, srv, "GET", "/confirm-improvements?token=tok", "", false)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<li>&lt;b&gt;a&lt;/b&gt;</li>") {
		t.Errorf("expected escaped bullet, got %s", w.Body.String())
	}
	if len(p.confirmed) != 1 {
		t.Errorf("expected one confirmation, got %v", p.confirmed)
	}

	if w := do(t, srv, "GET", "/confirm-improvements?token=used", "", false); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for used token, got %d", w.Code)
	}
	w = do(t, srv, "GET", "/confirm-improvements?token=remote-down", "", false)
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502 when the remote write fails, got %d", w.Code)
	}
	if decode(t, w)["error"] == nil {
		t.Error("expected JSON error body")
	}
}

func TestProcessConversation(t *testing.T) {
	srv := newTestServer(&fakePipeline{}, &fakeInstructions{})

	w := do(t, srv, "POST", "/api/v1/conversations/conv-1/process", "", true)
	if w.Code != http.StatusOK || decode(t, w)["conversationId"] != "conv-1" {
		t.Errorf("unexpected response %d", w.Code)
	}
	w = do(t, srv, "POST", "/api/v1/conversations/bad/process", "", true)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for failed conversation, got %d", w.Code)
	}
	if w := do(t, srv, "POST", "/api/v1/conversations/conv-1/process", "", false); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}
}

func TestProcessBatch(t *testing.T) {
	p := &fakePipeline{}
	srv := newTestServer(p, &fakeInstructions{})

	w := do(t, srv, "POST", "/api/v1/batches", `{"conversation_ids":["a"," ","b","a"]}`, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.Join(p.batchIDs, ",") != "a,b,a" {
		t.Errorf("expected blanks dropped and duplicates kept, got %v", p.batchIDs)
	}
	if decode(t, w)["batchId"] != "b-1" {
		t.Error("expected batch id in response")
	}

	if w := do(t, srv, "POST", "/api/v1/batches", `{"conversation_ids":[]}`, true); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty batch, got %d", w.Code)
	}
	if w := do(t, srv, "POST", "/api/v1/batches", `not json`, true); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad JSON, got %d", w.Code)
	}

	p.batchErr = pipeline.ErrNoSuccessfulConversations
	w = do(t, srv, "POST", "/api/v1/batches", `{"conversation_ids":["x"]}`, true)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", w.Code)
	}
	body := decode(t, w)
	if body["error"] == nil || body["batchId"] != "b-1" {
		t.Errorf("expected outcomes alongside the error, got %v", body)
	}
}

func TestProposeImprovements(t *testing.T) {
	p := &fakePipeline{}
	srv := newTestServer(p, &fakeInstructions{})

	w := do(t, srv, "POST", "/api/v1/improvements", `{"report_path":"reports/team_report_c1.md"}`, true)
	if w.Code != http.StatusCreated || decode(t, w)["token"] != "tok" {
		t.Errorf("unexpected response %d", w.Code)
	}
	if w := do(t, srv, "POST", "/api/v1/improvements", `{}`, true); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without report_path, got %d", w.Code)
	}

	p.improvErr = pipeline.ErrNoImprovements
	if w := do(t, srv, "POST", "/api/v1/improvements", `{"report_path":"r.md"}`, true); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", w.Code)
	}
}
