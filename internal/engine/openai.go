package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIEngine serves chat and embeddings from an OpenAI-compatible API
// through langchaingo. Models are provisioned server side, so the model
// management methods only report what was requested of this engine.
type OpenAIEngine struct {
	baseURL string
	token   string
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	clients map[string]*openai.LLM
}

// NewOpenAIEngine creates an engine for baseURL. An empty token is sent as
// "none" for local servers that do not authenticate.
func NewOpenAIEngine(baseURL, token string, timeout time.Duration) *OpenAIEngine {
	if token == "" {
		token = "none"
	}
	return &OpenAIEngine{
		baseURL: baseURL,
		token:   token,
		timeout: timeout,
		logger:  slog.Default().With("component", "openai-engine"),
		clients: make(map[string]*openai.LLM),
	}
}

// client returns a cached langchaingo client bound to model for both chat
// and embeddings.
func (e *OpenAIEngine) client(model string) (*openai.LLM, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.clients[model]; ok {
		return c, nil
	}
	opts := []openai.Option{
		openai.WithToken(e.token),
		openai.WithModel(model),
		openai.WithEmbeddingModel(model),
	}
	if e.baseURL != "" {
		opts = append(opts, openai.WithBaseURL(e.baseURL))
	}
	c, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	e.clients[model] = c
	return c, nil
}

func (e *OpenAIEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	ctx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	c, err := e.client(model)
	if err != nil {
		return "", err
	}

	content := make([]llms.MessageContent, len(messages))
	for i, m := range messages {
		content[i] = llms.MessageContent{
			Role:  chatRole(m.Role),
			Parts: []llms.ContentPart{llms.TextPart(m.Content)},
		}
	}

	opts := []llms.CallOption{llms.WithTemperature(0.0)}
	if jsonSchema != nil {
		opts = append(opts, llms.WithJSONMode())
	}
	resp, err := c.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		e.logger.Warn("no choices returned from model", "model", model)
		return "", fmt.Errorf("chat: no choices returned")
	}
	return resp.Choices[0].Content, nil
}

func (e *OpenAIEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	ctx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	c, err := e.client(model)
	if err != nil {
		return nil, err
	}
	vecs, err := c.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embed: empty embeddings array")
	}
	return vecs[0], nil
}

// IsRunning reports whether a client can be constructed. Reachability is
// only known after the first call.
func (e *OpenAIEngine) IsRunning(_ context.Context) bool {
	_, err := e.client("")
	return err == nil
}

func (e *OpenAIEngine) ListModels(_ context.Context) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.clients))
	for m := range e.clients {
		if m != "" {
			names = append(names, m)
		}
	}
	return names, nil
}

// HasModel always reports true; the server rejects unknown models on use.
func (e *OpenAIEngine) HasModel(_ context.Context, _ string) bool { return true }

func (e *OpenAIEngine) PullModel(_ context.Context, name string, _ func(PullProgress)) error {
	return fmt.Errorf("model %s: pulling is not supported by the openai backend", name)
}

func chatRole(role string) llms.ChatMessageType {
	switch role {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
