package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/tabchat/internal/engine"
	"github.com/kalambet/tabchat/internal/errdefs"
	"github.com/kalambet/tabchat/internal/search"
)

const WebToolName = "web_search"

// Searcher runs a web search.
type Searcher interface {
	Search(ctx context.Context, query string) ([]search.Result, error)
}

// WebTool searches the web for current information.
type WebTool struct {
	searcher Searcher
}

// NewWebTool creates the web_search tool.
func NewWebTool(s Searcher) *WebTool {
	return &WebTool{searcher: s}
}

type webInput struct {
	Query string `json:"query"`
}

func (t *WebTool) Name() string { return WebToolName }

func (t *WebTool) Description() string {
	return "Search the web for recent or general information that is not in the tables."
}

func (t *WebTool) Schema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"query": {Type: "string", Description: "Search query"},
		},
		Required: []string{"query"},
	}
}

func (t *WebTool) Invoke(ctx context.Context, input json.RawMessage) (any, error) {
	var in webInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Query) == "" {
		return nil, fmt.Errorf("query is required: %w", errdefs.ErrInvalidInput)
	}
	return t.searcher.Search(ctx, in.Query)
}
