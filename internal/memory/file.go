package memory

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kalambet/tabchat/internal/errdefs"
)

const maxLineBytes = 4 << 20

// FileStore keeps one JSON-lines file per thread under a directory.
type FileStore struct {
	dir   string
	locks Locks
}

// NewFileStore creates the directory if needed and returns a FileStore.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating memory directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the log file of threadID.
func (s *FileStore) Path(threadID string) string {
	return filepath.Join(s.dir, threadID+".jsonl")
}

// Append writes t as one line and syncs the file before returning.
func (s *FileStore) Append(ctx context.Context, threadID string, t Turn) error {
	if err := ValidateThreadID(threadID); err != nil {
		return err
	}
	unlock := s.locks.Lock(threadID)
	defer unlock()
	return s.appendLines(threadID, []Turn{t})
}

// History returns the turns of threadID in append order. An unknown thread
// has an empty history.
func (s *FileStore) History(ctx context.Context, threadID string) ([]Turn, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(threadID)
	defer unlock()
	return s.read(threadID)
}

// Threads lists the thread ids with a log file, sorted.
func (s *FileStore) Threads(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing memory directory: %w", err)
	}
	ids := []string{}
	for _, e := range entries {
		id, ok := strings.CutSuffix(e.Name(), ".jsonl")
		if !ok || !e.Type().IsRegular() || ValidateThreadID(id) != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// WriteHistory persists a full in-memory history. Turns already on disk must
// match the head of history; only the remainder is appended.
func (s *FileStore) WriteHistory(ctx context.Context, threadID string, history []Turn) error {
	if err := ValidateThreadID(threadID); err != nil {
		return err
	}
	unlock := s.locks.Lock(threadID)
	defer unlock()

	stored, err := s.read(threadID)
	if err != nil {
		return err
	}
	if len(history) < len(stored) {
		return fmt.Errorf("history has %d turns but %d are stored: %w", len(history), len(stored), errdefs.ErrInvalidInput)
	}
	for i, t := range stored {
		if t.UserMessage != history[i].UserMessage || t.AgentResponse != history[i].AgentResponse {
			return fmt.Errorf("history diverges from stored turn %d: %w", i, errdefs.ErrInvalidInput)
		}
	}
	if len(history) == len(stored) {
		return nil
	}
	return s.appendLines(threadID, history[len(stored):])
}

func (s *FileStore) appendLines(threadID string, turns []Turn) error {
	var buf bytes.Buffer
	for _, t := range turns {
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encoding turn: %w", err)
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}

	f, err := os.OpenFile(s.Path(threadID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("writing history: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing history: %w", err)
	}
	return f.Close()
}

func (s *FileStore) read(threadID string) ([]Turn, error) {
	f, err := os.Open(s.Path(threadID))
	if errors.Is(err, os.ErrNotExist) {
		return []Turn{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	defer f.Close()

	turns := []Turn{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for line := 1; sc.Scan(); line++ {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var t Turn
		if err := json.Unmarshal(sc.Bytes(), &t); err != nil {
			return nil, fmt.Errorf("decoding %s line %d: %w", filepath.Base(s.Path(threadID)), line, err)
		}
		turns = append(turns, t)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	return turns, nil
}
