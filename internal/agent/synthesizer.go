package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/tabchat/internal/engine"
	"github.com/kalambet/tabchat/internal/errdefs"
	"github.com/kalambet/tabchat/internal/memory"
	"github.com/kalambet/tabchat/internal/tools"
)

const (
	defaultMaxContextTokens = 4000

	DefaultSystemPrompt = `You are a helpful assistant that answers questions about the user's tabular data. ` +
		`Ground every answer in the tool results below when they are relevant. ` +
		`If a tool failed or returned nothing useful, say so briefly instead of guessing.`
)

// Synthesizer turns tool results into the single response of a turn.
type Synthesizer interface {
	Synthesize(ctx context.Context, message string, history []memory.Turn, results []tools.Result) (string, error)
}

// LLMSynthesizer writes the response with a chat model. Tool output injected
// into the system prompt is bounded by MaxContextTokens.
type LLMSynthesizer struct {
	engine           engine.Engine
	model            string
	systemPrompt     string
	MaxContextTokens int
}

// NewLLMSynthesizer creates a synthesizer. Empty systemPrompt selects
// DefaultSystemPrompt and maxContextTokens <= 0 selects 4000.
func NewLLMSynthesizer(e engine.Engine, model, systemPrompt string, maxContextTokens int) *LLMSynthesizer {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &LLMSynthesizer{engine: e, model: model, systemPrompt: systemPrompt, MaxContextTokens: maxContextTokens}
}

func (s *LLMSynthesizer) Synthesize(ctx context.Context, message string, history []memory.Turn, results []tools.Result) (string, error) {
	msgs := []engine.Message{{Role: engine.RoleSystem, Content: s.buildSystem(results)}}
	msgs = append(msgs, historyMessages(history)...)
	msgs = append(msgs, engine.Message{Role: engine.RoleUser, Content: message})

	out, err := s.engine.Chat(ctx, s.model, msgs, nil)
	if err != nil {
		return "", errdefs.External("synthesizing response", err)
	}
	return strings.TrimSpace(out), nil
}

// buildSystem appends tool results to the system prompt in invocation order,
// skipping any result that would overflow the token budget.
func (s *LLMSynthesizer) buildSystem(results []tools.Result) string {
	var sb strings.Builder
	sb.WriteString(s.systemPrompt)
	if len(results) == 0 {
		return sb.String()
	}

	header := "\n\n[Tool Results]\n"
	remaining := s.MaxContextTokens - EstimateTokens(header)
	var entries []string
	for _, r := range results {
		entry := formatResult(r)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		entries = append(entries, entry)
		remaining -= tokens
	}
	if len(entries) > 0 {
		sb.WriteString(header)
		for _, e := range entries {
			sb.WriteString(e)
		}
	}
	return sb.String()
}

func formatResult(r tools.Result) string {
	if !r.OK() {
		return fmt.Sprintf("(Tool: %s, Status: error)\n%s\n\n", r.Tool, r.Message)
	}
	data, err := json.Marshal(r.Data)
	if err != nil {
		data = []byte(fmt.Sprint(r.Data))
	}
	return fmt.Sprintf("(Tool: %s, Status: success)\n%s\n\n", r.Tool, data)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
