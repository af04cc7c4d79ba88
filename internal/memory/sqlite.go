package memory

import (
	"context"

	"github.com/kalambet/tabchat/internal/storage"
)

// SQLiteStore keeps turns in the application database.
type SQLiteStore struct {
	store *storage.Store
	locks Locks
}

// NewSQLiteStore wraps the turns table of s.
func NewSQLiteStore(s *storage.Store) *SQLiteStore {
	return &SQLiteStore{store: s}
}

func (s *SQLiteStore) Append(ctx context.Context, threadID string, t Turn) error {
	if err := ValidateThreadID(threadID); err != nil {
		return err
	}
	unlock := s.locks.Lock(threadID)
	defer unlock()
	_, err := s.store.AppendTurn(ctx, threadID, storage.Turn{
		UserMessage:   t.UserMessage,
		AgentResponse: t.AgentResponse,
		CreatedAt:     t.CreatedAt,
	})
	return err
}

func (s *SQLiteStore) History(ctx context.Context, threadID string) ([]Turn, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}
	rows, err := s.store.ListTurns(ctx, threadID)
	if err != nil {
		return nil, err
	}
	turns := make([]Turn, len(rows))
	for i, r := range rows {
		turns[i] = Turn{UserMessage: r.UserMessage, AgentResponse: r.AgentResponse, CreatedAt: r.CreatedAt}
	}
	return turns, nil
}

// Threads lists thread ids, most recently updated first.
func (s *SQLiteStore) Threads(ctx context.Context) ([]string, error) {
	threads, err := s.store.ListThreads(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(threads))
	for i, th := range threads {
		ids[i] = th.ID
	}
	return ids, nil
}
