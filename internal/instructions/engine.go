package instructions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/MikeSquared-Agency/verdict/internal/instructions")

// SubjectMerged is published after instructions are written back.
const SubjectMerged = "verdict.instructions.merged"

// Store is the remote holder of the instructions text.
type Store interface {
	Instructions(ctx context.Context) (string, error)
	UpdateInstructions(ctx context.Context, text string) error
}

// Publisher announces committed changes. It may be nil.
type Publisher interface {
	Publish(subject string, data any) error
}

// MergeResult describes the outcome of merging candidates into a document.
// NoOp means no candidate was new; Changed means Text differs from the
// input, which can also happen when duplicate sections were collapsed.
type MergeResult struct {
	Text    string   `json:"text"`
	Added   []string `json:"added"`
	Skipped []string `json:"skipped"`
	NoOp    bool     `json:"no_op"`
	Changed bool     `json:"changed"`
}

// Merge folds candidates into text using d, collapsing every improvements
// section into one at the end.
func Merge(ctx context.Context, text string, candidates []string, d Deduper) (*MergeResult, error) {
	doc := Parse(text)

	added, skipped, err := d.Filter(ctx, doc.Bullets, candidates)
	if err != nil {
		return nil, fmt.Errorf("dedup candidates: %w", err)
	}

	doc.Bullets = append(doc.Bullets, added...)
	merged := doc.Render()
	return &MergeResult{
		Text:    merged,
		Added:   added,
		Skipped: skipped,
		NoOp:    len(added) == 0,
		Changed: merged != text,
	}, nil
}

type Engine struct {
	store  Store
	dedup  Deduper
	pub    Publisher
	logger *slog.Logger
}

func NewEngine(store Store, dedup Deduper, pub Publisher, logger *slog.Logger) *Engine {
	return &Engine{store: store, dedup: dedup, pub: pub, logger: logger}
}

// Current returns the remote instructions text.
func (e *Engine) Current(ctx context.Context) (string, error) {
	text, err := e.store.Instructions(ctx)
	if err != nil {
		return "", fmt.Errorf("read instructions: %w", err)
	}
	return text, nil
}

// Preview computes a merge without writing it.
func (e *Engine) Preview(ctx context.Context, candidates []string) (*MergeResult, error) {
	text, err := e.Current(ctx)
	if err != nil {
		return nil, err
	}
	return Merge(ctx, text, candidates, e.dedup)
}

// Commit merges candidates and writes the result back in a single update.
// Nothing is written when the text would not change.
func (e *Engine) Commit(ctx context.Context, candidates []string) (*MergeResult, error) {
	ctx, span := tracer.Start(ctx, "instructions.commit")
	defer span.End()
	span.SetAttributes(attribute.Int("candidates", len(candidates)))

	res, err := e.Preview(ctx, candidates)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("added", len(res.Added)), attribute.Bool("changed", res.Changed))

	if !res.Changed {
		e.logger.Info("instructions merge is a no-op", "skipped", len(res.Skipped))
		return res, nil
	}

	if err := e.store.UpdateInstructions(ctx, res.Text); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("write instructions: %w", err)
	}

	e.logger.Info("instructions updated",
		"added", len(res.Added),
		"skipped", len(res.Skipped),
	)
	e.publish("merge", res.Added)
	return res, nil
}

// Cleanup strips every improvements section and writes back the base text
// with a single empty section.
func (e *Engine) Cleanup(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "instructions.cleanup")
	defer span.End()

	text, err := e.Current(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	cleaned := Document{Base: Parse(text).Base}.Render()
	if err := e.store.UpdateInstructions(ctx, cleaned); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("write instructions: %w", err)
	}

	e.logger.Info("instructions cleaned up")
	e.publish("cleanup", nil)
	return cleaned, nil
}

func (e *Engine) publish(action string, added []string) {
	if e.pub == nil {
		return
	}
	if err := e.pub.Publish(SubjectMerged, map[string]any{
		"action":    action,
		"added":     added,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		e.logger.Warn("failed to publish instructions event", "error", err)
	}
}
