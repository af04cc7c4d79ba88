package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/tabchat/internal/errdefs"
)

// Match is a retrieved document with its similarity score.
type Match struct {
	ID       string            `json:"id"`
	Document string            `json:"document"`
	Metadata map[string]string `json:"metadata"`
	Score    float32           `json:"score"`
}

// Retriever combines embedding and vector search to find relevant rows.
type Retriever struct {
	embedder *Embedder
	store    VectorStore
}

// NewRetriever creates a Retriever backed by the given Embedder and VectorStore.
func NewRetriever(embedder *Embedder, store VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve embeds query and returns the topK closest documents in collection.
// A missing collection is reported before any embedding call.
func (r *Retriever) Retrieve(ctx context.Context, collection, query string, topK int) ([]Match, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is empty: %w", errdefs.ErrInvalidInput)
	}
	if _, err := r.store.GetCollection(ctx, collection); err != nil {
		return nil, err
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scored, err := r.store.Query(ctx, collection, vec, topK)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, len(scored))
	for i, s := range scored {
		matches[i] = Match{ID: s.ID, Document: s.Document, Metadata: s.Metadata, Score: s.Score}
	}
	return matches, nil
}
