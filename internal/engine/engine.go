package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Engine abstracts an inference backend (Ollama or any OpenAI-compatible
// server). The planner, synthesizer, SQL writer and embedder use this
// interface instead of depending on a concrete client.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's response.
	// When jsonSchema is non-nil, structured JSON output is requested.
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error)

	// Embed returns the embedding vector for the given text using the specified model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of the models the backend serves.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}

const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"

	DefaultOllamaURL = "http://localhost:11434"
)

// Options selects and configures a backend.
type Options struct {
	Backend string
	BaseURL string
	APIKey  string
	// Timeout bounds each Chat and Embed call. Zero means no bound.
	Timeout time.Duration
}

// New returns the engine named by opts.Backend.
func New(opts Options) (Engine, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendOllama:
		if opts.BaseURL == "" {
			opts.BaseURL = DefaultOllamaURL
		}
		return NewOllamaEngine(opts.BaseURL, opts.Timeout), nil
	case BackendOpenAI:
		return NewOpenAIEngine(opts.BaseURL, opts.APIKey, opts.Timeout), nil
	}
	return nil, fmt.Errorf("unknown engine backend %q", opts.Backend)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
