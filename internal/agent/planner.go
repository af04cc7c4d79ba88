package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/kalambet/tabchat/internal/engine"
	"github.com/kalambet/tabchat/internal/errdefs"
	"github.com/kalambet/tabchat/internal/memory"
	"github.com/kalambet/tabchat/internal/tools"
)

// Planner decides which tools to invoke for a message.
type Planner interface {
	Plan(ctx context.Context, message string, history []memory.Turn) ([]tools.Invocation, error)
}

// FixedPlanner always invokes one named tool with the message as its query.
// Profile, when set, scopes the query to that relational profile.
type FixedPlanner struct {
	Tool    string
	Profile string
}

func (p FixedPlanner) Plan(_ context.Context, message string, _ []memory.Turn) ([]tools.Invocation, error) {
	return []tools.Invocation{{Tool: p.Tool, Input: tools.ProfileQueryInput(message, p.Profile)}}, nil
}

const plannerPrompt = `You are the routing step of an assistant that answers questions about the user's tables. Decide which tools, if any, are needed to answer the latest user message. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Rules:
- Use sql_query for counts, sums, filters, rankings and exact lookups over the tables.
- Use vector_search for fuzzy or descriptive questions about individual rows.
- Use web_search only for information that cannot be in the tables.
- Return an empty "calls" list for greetings or questions answerable from the conversation.
- Each call's "query" restates what that tool should look up, in plain language.
- A sql_query call may set "profile" to pick the database; files the user uploaded are in the uploads profile. Leave it out for the default tables.

Available tools:
`

// LLMPlanner asks a chat model for a tool plan.
type LLMPlanner struct {
	engine   engine.Engine
	model    string
	specs    []tools.Spec
	maxCalls int
	profiles func() ([]string, error)
	logger   *slog.Logger
}

// NewLLMPlanner creates a planner that may choose among specs and returns at
// most maxCalls invocations.
func NewLLMPlanner(e engine.Engine, model string, specs []tools.Spec, maxCalls int) *LLMPlanner {
	if maxCalls <= 0 {
		maxCalls = 3
	}
	return &LLMPlanner{engine: e, model: model, specs: specs, maxCalls: maxCalls, logger: slog.Default()}
}

// WithProfiles lets sql_query calls name one of the profiles list returns.
// list is consulted on every Plan, so profiles created later are offered.
func (p *LLMPlanner) WithProfiles(list func() ([]string, error)) *LLMPlanner {
	p.profiles = list
	return p
}

type plannedCall struct {
	Tool    string `json:"tool"`
	Query   string `json:"query"`
	Profile string `json:"profile,omitempty"`
}

type plan struct {
	Calls []plannedCall `json:"calls"`
}

// Plan returns the tool calls for message. Calls naming unknown tools are
// dropped.
func (p *LLMPlanner) Plan(ctx context.Context, message string, history []memory.Turn) ([]tools.Invocation, error) {
	profiles := p.listProfiles()
	raw, err := p.engine.Chat(ctx, p.model, p.buildPrompt(message, history, profiles), p.schema(profiles))
	if err != nil {
		return nil, errdefs.External("planning", err)
	}

	var pl plan
	if err := json.Unmarshal([]byte(stripFence(raw)), &pl); err != nil {
		return nil, errdefs.External("planning", fmt.Errorf("malformed plan %q: %w", raw, err))
	}

	known := make(map[string]bool, len(p.specs))
	for _, s := range p.specs {
		known[s.Name] = true
	}
	var calls []tools.Invocation
	for _, c := range pl.Calls {
		if !known[c.Tool] {
			p.logger.Warn("planner chose unknown tool", "tool", c.Tool)
			continue
		}
		if len(calls) == p.maxCalls {
			p.logger.Debug("plan truncated", "max_calls", p.maxCalls, "planned", len(pl.Calls))
			break
		}
		q := strings.TrimSpace(c.Query)
		if q == "" {
			q = message
		}
		profile := ""
		if c.Tool == tools.SQLToolName && c.Profile != "" {
			if slices.Contains(profiles, c.Profile) {
				profile = c.Profile
			} else {
				p.logger.Warn("planner chose unknown profile", "profile", c.Profile)
			}
		}
		calls = append(calls, tools.Invocation{Tool: c.Tool, Input: tools.ProfileQueryInput(q, profile)})
	}
	return calls, nil
}

func (p *LLMPlanner) listProfiles() []string {
	if p.profiles == nil {
		return nil
	}
	profiles, err := p.profiles()
	if err != nil {
		p.logger.Warn("listing profiles for planning", "error", err)
		return nil
	}
	return profiles
}

func (p *LLMPlanner) buildPrompt(message string, history []memory.Turn, profiles []string) []engine.Message {
	var sb strings.Builder
	sb.WriteString(plannerPrompt)
	for _, s := range p.specs {
		fmt.Fprintf(&sb, "- %s: %s\n", s.Name, s.Description)
	}
	if len(profiles) > 0 {
		fmt.Fprintf(&sb, "\nRelational profiles: %s\n", strings.Join(profiles, ", "))
	}
	msgs := []engine.Message{{Role: engine.RoleSystem, Content: sb.String()}}
	msgs = append(msgs, historyMessages(history)...)
	return append(msgs, engine.Message{Role: engine.RoleUser, Content: message})
}

func (p *LLMPlanner) schema(profiles []string) *engine.Schema {
	names := make([]string, len(p.specs))
	for i, s := range p.specs {
		names[i] = s.Name
	}
	call := map[string]engine.SchemaProperty{
		"tool":  {Type: "string", Enum: names},
		"query": {Type: "string", Description: "What the tool should look up"},
	}
	if len(profiles) > 0 {
		call["profile"] = engine.SchemaProperty{Type: "string", Enum: profiles, Description: "Relational profile for sql_query"}
	}
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"calls": {
				Type:        "array",
				Description: "Tools to invoke, in order",
				Items: &engine.Schema{
					Type:       "object",
					Properties: call,
					Required:   []string{"tool", "query"},
				},
			},
		},
		Required: []string{"calls"},
	}
}

// stripFence strips a markdown fence some models wrap JSON in.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func historyMessages(history []memory.Turn) []engine.Message {
	msgs := make([]engine.Message, 0, 2*len(history))
	for _, t := range history {
		msgs = append(msgs,
			engine.Message{Role: engine.RoleUser, Content: t.UserMessage},
			engine.Message{Role: engine.RoleAssistant, Content: t.AgentResponse},
		)
	}
	return msgs
}
