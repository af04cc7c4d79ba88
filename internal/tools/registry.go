// Package tools exposes the query capabilities (SQL, vector similarity, web
// search) behind one invocation contract used by the orchestrator, the HTTP
// routes and the MCP server.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/tabchat/internal/engine"
	"github.com/kalambet/tabchat/internal/errdefs"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Tool is a single capability that can be invoked with JSON input.
type Tool interface {
	Name() string
	Description() string
	// Schema describes the JSON object accepted by Invoke.
	Schema() *engine.Schema
	Invoke(ctx context.Context, input json.RawMessage) (any, error)
}

// Invocation is a planned call to a named tool.
type Invocation struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input"`
}

// Result is the structured outcome of an invocation. Failures are reported
// through Status, Message and Code rather than a Go error.
type Result struct {
	Tool    string `json:"tool,omitempty"`
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// OK reports whether the invocation succeeded.
func (r Result) OK() bool { return r.Status == StatusSuccess }

// Spec describes a registered tool for planners and MCP listings.
type Spec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      *engine.Schema `json:"schema"`
}

// Registry holds the tools available to a conversation.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	order   []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. timeout bounds every invocation;
// zero means no bound beyond the caller's context.
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		timeout: timeout,
		logger:  slog.Default(),
	}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return errors.New("tool is nil")
	}
	name := t.Name()
	if name == "" {
		return errors.New("tool name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s: %w", name, errdefs.ErrDuplicateResource)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Has reports whether a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Specs lists the registered tools in registration order.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		specs = append(specs, Spec{Name: name, Description: t.Description(), Schema: t.Schema()})
	}
	return specs
}

type outcome struct {
	data any
	err  error
}

// Invoke runs the named tool. It never returns a Go error: unknown tools,
// invalid input, tool failures, panics and timeouts all become error results.
func (r *Registry) Invoke(ctx context.Context, name string, input json.RawMessage) Result {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return errorResult(name, fmt.Errorf("unknown tool %q: %w", name, errdefs.ErrResourceNotFound))
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("tool %s panicked: %v", name, p)}
			}
		}()
		data, err := t.Invoke(ctx, input)
		done <- outcome{data: data, err: err}
	}()

	var o outcome
	select {
	case o = <-done:
	case <-ctx.Done():
		o = outcome{err: fmt.Errorf("tool %s: %w", name, ctx.Err())}
	}

	if o.err != nil {
		r.logger.Warn("tool invocation failed", "tool", name, "error", o.err, "duration", time.Since(start))
		return errorResult(name, o.err)
	}
	r.logger.Debug("tool invoked", "tool", name, "duration", time.Since(start))
	return Result{Tool: name, Status: StatusSuccess, Data: o.data}
}

func errorResult(name string, err error) Result {
	return Result{Tool: name, Status: StatusError, Message: err.Error(), Code: errdefs.Code(err)}
}

// decodeInput unmarshals a tool's JSON input, mapping malformed input to
// errdefs.ErrInvalidInput.
func decodeInput(input json.RawMessage, v any) error {
	if len(input) == 0 {
		return fmt.Errorf("tool input is empty: %w", errdefs.ErrInvalidInput)
	}
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("decoding tool input: %v: %w", err, errdefs.ErrInvalidInput)
	}
	return nil
}

// QueryInput builds the {"query": q} input accepted by every built-in tool.
func QueryInput(q string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"query": q})
	return b
}

// ProfileQueryInput is QueryInput scoped to a relational profile.
func ProfileQueryInput(q, profile string) json.RawMessage {
	if profile == "" {
		return QueryInput(q)
	}
	b, _ := json.Marshal(map[string]string{"query": q, "profile": profile})
	return b
}
