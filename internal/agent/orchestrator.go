// Package agent answers user messages by planning tool calls, running them
// through the tool registry and synthesizing one response per turn. Every
// turn is appended to the thread's session memory.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/tabchat/internal/errdefs"
	"github.com/kalambet/tabchat/internal/memory"
	"github.com/kalambet/tabchat/internal/tools"
)

// DefaultThreadID is used when neither the caller nor the configuration
// names a thread.
const DefaultThreadID = "default"

type validationError struct{ msg string }

func (e validationError) Error() string { return e.msg }
func (e validationError) Unwrap() error { return errdefs.ErrInvalidInput }

// ErrEmptyMessage is returned for an empty or whitespace-only message.
var ErrEmptyMessage error = validationError{"Message cannot be empty."}

// Reply is the outcome of one turn.
type Reply struct {
	ThreadID    string         `json:"thread_id"`
	Response    string         `json:"response"`
	History     []memory.Turn  `json:"history"`
	Invocations []tools.Result `json:"invocations,omitempty"`
}

// Orchestrator runs conversation turns. Turns on the same thread are
// serialized; different threads proceed concurrently.
type Orchestrator struct {
	planner       Planner
	synthesizer   Synthesizer
	registry      *tools.Registry
	store         memory.Store
	defaultThread string
	logger        *slog.Logger

	locks    memory.Locks
	mu       sync.Mutex
	sessions map[string][]memory.Turn
}

// New creates an Orchestrator. An empty defaultThread selects DefaultThreadID.
func New(p Planner, s Synthesizer, reg *tools.Registry, store memory.Store, defaultThread string) *Orchestrator {
	if defaultThread == "" {
		defaultThread = DefaultThreadID
	}
	return &Orchestrator{
		planner:       p,
		synthesizer:   s,
		registry:      reg,
		store:         store,
		defaultThread: defaultThread,
		logger:        slog.Default(),
		sessions:      make(map[string][]memory.Turn),
	}
}

// Respond answers message on threadID. Nothing is appended when planning or
// synthesis fails; tool failures are passed to the synthesizer as error
// results.
func (o *Orchestrator) Respond(ctx context.Context, threadID, message string) (*Reply, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}
	if threadID == "" {
		threadID = o.defaultThread
	}
	if err := memory.ValidateThreadID(threadID); err != nil {
		return nil, err
	}

	unlock := o.locks.Lock(threadID)
	defer unlock()

	history, err := o.session(ctx, threadID)
	if err != nil {
		return nil, err
	}

	calls, err := o.planner.Plan(ctx, message, history)
	if err != nil {
		return nil, externalize("planning", err)
	}

	results := make([]tools.Result, 0, len(calls))
	for _, c := range calls {
		results = append(results, o.registry.Invoke(ctx, c.Tool, c.Input))
	}

	response, err := o.synthesizer.Synthesize(ctx, message, history, results)
	if err != nil {
		return nil, externalize("synthesizing", err)
	}

	turn := memory.Turn{UserMessage: message, AgentResponse: response, CreatedAt: time.Now().UTC()}
	if err := o.store.Append(ctx, threadID, turn); err != nil {
		return nil, err
	}

	o.mu.Lock()
	updated := append(o.sessions[threadID], turn)
	o.sessions[threadID] = updated
	o.mu.Unlock()

	o.logger.Info("turn completed", "thread_id", threadID, "tools", len(calls), "turns", len(updated))
	return &Reply{
		ThreadID:    threadID,
		Response:    response,
		History:     append([]memory.Turn(nil), updated...),
		Invocations: results,
	}, nil
}

// History returns the persisted turns of threadID.
func (o *Orchestrator) History(ctx context.Context, threadID string) ([]memory.Turn, error) {
	if threadID == "" {
		threadID = o.defaultThread
	}
	return o.store.History(ctx, threadID)
}

// session returns the cached history of threadID, loading it from the store
// on first use. The caller holds the thread lock.
func (o *Orchestrator) session(ctx context.Context, threadID string) ([]memory.Turn, error) {
	o.mu.Lock()
	h, ok := o.sessions[threadID]
	o.mu.Unlock()
	if ok {
		return h, nil
	}

	h, err := o.store.History(ctx, threadID)
	if err != nil {
		return nil, err
	}
	h = h[:len(h):len(h)]
	o.mu.Lock()
	o.sessions[threadID] = h
	o.mu.Unlock()
	return h, nil
}

func externalize(op string, err error) error {
	if errors.Is(err, errdefs.ErrExternalCapability) {
		return err
	}
	return errdefs.External(op, err)
}
