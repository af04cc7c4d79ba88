package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/tabchat/internal/engine"
	"github.com/kalambet/tabchat/internal/errdefs"
	"github.com/kalambet/tabchat/internal/retrieval"
)

const VectorToolName = "vector_search"

// Retriever finds the rows most similar to a query.
type Retriever interface {
	Retrieve(ctx context.Context, collection, query string, topK int) ([]retrieval.Match, error)
}

// VectorTool searches an embedded collection of table rows.
type VectorTool struct {
	retriever  Retriever
	collection string
	topK       int
}

// NewVectorTool creates the vector_search tool with the default collection
// and result count.
func NewVectorTool(r Retriever, collection string, topK int) *VectorTool {
	if topK <= 0 {
		topK = 2
	}
	return &VectorTool{retriever: r, collection: collection, topK: topK}
}

type vectorInput struct {
	Query      string `json:"query"`
	Collection string `json:"collection"`
	TopK       int    `json:"top_k"`
}

func (t *VectorTool) Name() string { return VectorToolName }

func (t *VectorTool) Description() string {
	return "Find table rows semantically similar to a question. " +
		"Use for fuzzy or descriptive questions about the embedded rows."
}

func (t *VectorTool) Schema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"query":      {Type: "string", Description: "Text to search for"},
			"collection": {Type: "string", Description: "Collection to search"},
			"top_k":      {Type: "integer", Description: "Number of rows to return"},
		},
		Required: []string{"query"},
	}
}

func (t *VectorTool) Invoke(ctx context.Context, input json.RawMessage) (any, error) {
	var in vectorInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Query) == "" {
		return nil, fmt.Errorf("query is required: %w", errdefs.ErrInvalidInput)
	}
	collection := in.Collection
	if collection == "" {
		collection = t.collection
	}
	topK := in.TopK
	if topK <= 0 {
		topK = t.topK
	}
	return t.retriever.Retrieve(ctx, collection, in.Query, topK)
}
