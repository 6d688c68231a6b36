package instructions

import (
	"context"
	"fmt"
	"math"
	"sync"
)

const DefaultThreshold = 0.8

// Deduper splits candidates into those to add and those that duplicate an
// existing bullet or an earlier accepted candidate. Order is preserved.
type Deduper interface {
	Filter(ctx context.Context, existing, candidates []string) (accepted, rejected []string, err error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NewDeduper returns the deduper for mode "exact" or "semantic".
func NewDeduper(mode string, embedder Embedder, threshold float64) (Deduper, error) {
	switch mode {
	case "exact":
		return ExactDeduper{}, nil
	case "semantic":
		if embedder == nil {
			return nil, fmt.Errorf("semantic dedup needs an embedder")
		}
		return NewSemanticDeduper(embedder, threshold), nil
	default:
		return nil, fmt.Errorf("unknown dedup mode %q", mode)
	}
}

// ExactDeduper treats a candidate as a duplicate iff the identical bullet exists.
type ExactDeduper struct{}

func (ExactDeduper) Filter(_ context.Context, existing, candidates []string) ([]string, []string, error) {
	seen := make(map[string]bool, len(existing)+len(candidates))
	for _, e := range existing {
		seen[NormalizeBullet(e)] = true
	}
	var accepted, rejected []string
	for _, c := range candidates {
		c = NormalizeBullet(c)
		if c == "" {
			continue
		}
		if seen[c] {
			rejected = append(rejected, c)
			continue
		}
		seen[c] = true
		accepted = append(accepted, c)
	}
	return accepted, rejected, nil
}

// SemanticDeduper treats a candidate as a duplicate when its cosine
// similarity to any kept bullet is strictly above the threshold. Embeddings
// are cached by text for the life of the deduper.
type SemanticDeduper struct {
	embedder  Embedder
	threshold float64

	mu    sync.Mutex
	cache map[string][]float32
}

func NewSemanticDeduper(embedder Embedder, threshold float64) *SemanticDeduper {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &SemanticDeduper{embedder: embedder, threshold: threshold, cache: make(map[string][]float32)}
}

func (d *SemanticDeduper) Filter(ctx context.Context, existing, candidates []string) ([]string, []string, error) {
	accepted, rejected, _ := ExactDeduper{}.Filter(ctx, existing, candidates)

	var kept [][]float32
	for _, e := range existing {
		v, err := d.embed(ctx, NormalizeBullet(e))
		if err != nil {
			return nil, nil, err
		}
		kept = append(kept, v)
	}

	var out []string
	for _, c := range accepted {
		v, err := d.embed(ctx, c)
		if err != nil {
			return nil, nil, err
		}
		dup := false
		for _, k := range kept {
			if cosineSimilarity(v, k) > d.threshold {
				dup = true
				break
			}
		}
		if dup {
			rejected = append(rejected, c)
			continue
		}
		kept = append(kept, v)
		out = append(out, c)
	}
	return out, rejected, nil
}

func (d *SemanticDeduper) embed(ctx context.Context, text string) ([]float32, error) {
	d.mu.Lock()
	v, ok := d.cache[text]
	d.mu.Unlock()
	if ok {
		return v, nil
	}

	v, err := d.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed %q: %w", text, err)
	}

	d.mu.Lock()
	d.cache[text] = v
	d.mu.Unlock()
	return v, nil
}

// cosineSimilarity returns 0 for mismatched, empty or zero vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := 0; i < len(a); i++ {
		x, y := float64(a[i]), float64(b[i])
		dotProduct += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0.0 || normB == 0.0 {
		return 0.0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
