// Package training exports CRM conversations as chat fine-tuning examples.
package training

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

	"github.com/MikeSquared-Agency/verdict/internal/conversation"
)

// DefaultSystemPrompt opens every exported example.
const DefaultSystemPrompt = "You are a helpful sales assistant replying to a prospective customer."

// ErrNoExamples means no conversation yielded a user to assistant pair.
var ErrNoExamples = errors.New("no training examples found")

type Source interface {
	FetchMessages(ctx context.Context, conversationID string) (json.RawMessage, error)
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Example is one JSONL line in the chat fine-tuning format.
type Example struct {
	Messages []Message `json:"messages"`
}

type Stats struct {
	Conversations int `json:"conversations"`
	Examples      int `json:"examples"`
	Failed        int `json:"failed"`
}

// Pairs builds one example per user turn immediately answered by an
// assistant turn. Newlines inside a turn are flattened to spaces.
func Pairs(turns []conversation.Turn, system string) []Example {
	var out []Example
	for i := 0; i+1 < len(turns); i++ {
		if turns[i].Role != conversation.RoleUser || turns[i+1].Role != conversation.RoleAssistant {
			continue
		}
		msgs := make([]Message, 0, 3)
		if system != "" {
			msgs = append(msgs, Message{Role: "system", Content: system})
		}
		msgs = append(msgs,
			Message{Role: "user", Content: flatten(turns[i].Content)},
			Message{Role: "assistant", Content: flatten(turns[i+1].Content)},
		)
		out = append(out, Example{Messages: msgs})
	}
	return out
}

func flatten(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", " "), "\n", " "))
}

type Exporter struct {
	source Source
	system string
	logger *slog.Logger
}

func NewExporter(source Source, system string, logger *slog.Logger) *Exporter {
	return &Exporter{source: source, system: system, logger: logger}
}

// Export writes examples for ids to w. A conversation that cannot be
// fetched or parsed is logged and counted, never fatal.
func (e *Exporter) Export(ctx context.Context, ids []string, w io.Writer) (Stats, error) {
	var stats Stats
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Conversations++

		examples, err := e.examples(ctx, id)
		if err != nil {
			stats.Failed++
			e.logger.Warn("skipping conversation", "conversation_id", id, "error", err)
			continue
		}
		for _, ex := range examples {
			if err := enc.Encode(ex); err != nil {
				return stats, fmt.Errorf("write example: %w", err)
			}
		}
		stats.Examples += len(examples)
		e.logger.Info("conversation exported", "conversation_id", id, "examples", len(examples))
	}

	if stats.Examples == 0 {
		return stats, ErrNoExamples
	}
	return stats, nil
}

// ExportFile writes the JSONL file at path, replacing it only when at
// least one example was produced.
func (e *Exporter) ExportFile(ctx context.Context, ids []string, path string) (Stats, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Stats{}, fmt.Errorf("mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".training-*.jsonl")
	if err != nil {
		return Stats{}, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	stats, err := e.Export(ctx, ids, tmp)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close temp file: %w", cerr)
	}
	if err != nil {
		return stats, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return stats, fmt.Errorf("rename training file: %w", err)
	}
	return stats, nil
}

func (e *Exporter) examples(ctx context.Context, id string) ([]Example, error) {
	raw, err := e.source.FetchMessages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	payload, err := conversation.ParsePayload(raw)
	if err != nil {
		return nil, err
	}
	return Pairs(conversation.Normalize(payload.Messages), e.system), nil
}
