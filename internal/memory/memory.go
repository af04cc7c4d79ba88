// Package memory persists conversation turns per thread. Stores are
// append-only: a turn, once written, is never rewritten.
package memory

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/kalambet/tabchat/internal/errdefs"
)

// Turn is one user message and the agent's response to it.
type Turn struct {
	UserMessage   string    `json:"user_message"`
	AgentResponse string    `json:"agent_response"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store is a durable append-only log of turns keyed by thread id.
type Store interface {
	Append(ctx context.Context, threadID string, t Turn) error
	History(ctx context.Context, threadID string) ([]Turn, error)
}

var threadIDRe = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9._-]{0,127}$`)

// ValidateThreadID rejects ids that are not safe file names.
func ValidateThreadID(id string) error {
	if !threadIDRe.MatchString(id) {
		return fmt.Errorf("thread id %q: must match [A-Za-z0-9._-] and not start with a dot: %w", id, errdefs.ErrInvalidInput)
	}
	return nil
}

// Locks is a keyed mutex. Holders of different keys do not block each other.
type Locks struct {
	mu sync.Mutex
	m  map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the lock for key and returns the function releasing it.
func (l *Locks) Lock(key string) (unlock func()) {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*lockEntry)
	}
	e, ok := l.m[key]
	if !ok {
		e = &lockEntry{}
		l.m[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.m, key)
		}
		l.mu.Unlock()
	}
}

// Lister is implemented by stores that can enumerate their threads.
type Lister interface {
	Threads(ctx context.Context) ([]string, error)
}
