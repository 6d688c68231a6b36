package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MikeSquared-Agency/verdict/internal/faults"
)

func TestAssistant_InstructionsRoundTrip(t *testing.T) {
	instructions := "You are a sales assistant."
	var modifyBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/assistants/asst_1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		switch r.Method {
		case http.MethodGet:
		case http.MethodPost:
			if err := json.NewDecoder(r.Body).Decode(&modifyBody); err != nil {
				t.Fatalf("decode modify body: %v", err)
			}
			instructions, _ = modifyBody["instructions"].(string)
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":           "asst_1",
			"object":       "assistant",
			"created_at":   1,
			"model":        "gpt-4o",
			"instructions": instructions,
			"tools":        []map[string]any{{"type": "file_search"}},
		})
	}))
	defer server.Close()

	a := newTestClient(server.URL).Assistant("asst_1")
	ctx := context.Background()

	got, err := a.Instructions(ctx)
	if err != nil {
		t.Fatalf("Instructions: %v", err)
	}
	if got != "You are a sales assistant." {
		t.Errorf("unexpected instructions %q", got)
	}

	if err := a.UpdateInstructions(ctx, "New text"); err != nil {
		t.Fatalf("UpdateInstructions: %v", err)
	}
	if modifyBody["model"] != "gpt-4o" {
		t.Errorf("expected model carried over, got %v", modifyBody["model"])
	}
	if tools, ok := modifyBody["tools"].([]any); !ok || len(tools) != 1 {
		t.Errorf("expected tools carried over, got %v", modifyBody["tools"])
	}

	got, err = a.Instructions(ctx)
	if err != nil {
		t.Fatalf("Instructions: %v", err)
	}
	if got != "New text" {
		t.Errorf("expected updated instructions, got %q", got)
	}
}

func TestAssistant_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "No assistant found", "type": "invalid_request_error"}})
	}))
	defer server.Close()

	err := newTestClient(server.URL).Assistant("asst_missing").UpdateInstructions(context.Background(), "x")
	var te *faults.TransportError
	if !errors.As(err, &te) || te.Status != http.StatusNotFound {
		t.Fatalf("expected 404 TransportError, got %v", err)
	}
}
