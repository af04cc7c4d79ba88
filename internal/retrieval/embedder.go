package retrieval

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/tabchat/internal/engine"
	"github.com/kalambet/tabchat/internal/errdefs"
)

// Embedder wraps an Engine to generate text embeddings.
type Embedder struct {
	engine      engine.Engine
	model       string
	concurrency int
}

// NewEmbedder creates an Embedder using the given Engine and model name.
// concurrency bounds EmbedBatch; values below 1 mean sequential.
func NewEmbedder(e engine.Engine, model string, concurrency int) *Embedder {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Embedder{engine: e, model: model, concurrency: concurrency}
}

// Model returns the embedding model name.
func (e *Embedder) Model() string { return e.model }

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, errdefs.External("embedding text", err)
	}
	if len(vec) == 0 {
		return nil, errdefs.External("embedding text", fmt.Errorf("empty vector"))
	}
	return vec, nil
}

// EmbedBatch embeds texts with bounded concurrency. The result is index
// aligned with texts and every vector has the same dimension; any failure
// fails the whole batch. Returns nil (not error) for empty input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.engine.Embed(gCtx, e.model, text)
			if err != nil {
				return errdefs.External(fmt.Sprintf("embedding text %d", i), err)
			}
			if len(vec) == 0 {
				return errdefs.External(fmt.Sprintf("embedding text %d", i), fmt.Errorf("empty vector"))
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	dim := len(results[0])
	for i, v := range results {
		if len(v) != dim {
			return nil, errdefs.External("embedding batch",
				fmt.Errorf("text %d has dimension %d, want %d", i, len(v), dim))
		}
	}
	return results, nil
}
