package companion

import (
	"context"
	"sync"
)

// History log kinds used with SessionStore.AppendHistory.
const (
	HistorySwitches = "switches"
	HistoryChoices  = "choices"
	HistoryUnlocks  = "unlocks"
)

// SessionStore is the pluggable storage backend for sessions.
//
// Get returns (nil, nil) for an unknown id. Put replaces the stored session
// in one step; the orchestrator relies on this for its atomic commit.
// History logs are append-only JSON lines keyed by session and kind.
type SessionStore interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, sess *Session) error
	Delete(ctx context.Context, id string) error
	ListIDs(ctx context.Context) ([]string, error)

	AppendHistory(ctx context.Context, sessionID, kind, entry string) error
	History(ctx context.Context, sessionID, kind string, limit int) ([]string, error)
}

// InMemorySessionStore is a thread-safe in-memory SessionStore for
// development and tests. Data is lost on restart.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	history  map[string]map[string][]string
}

// NewInMemorySessionStore creates a new in-memory store.
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{
		sessions: make(map[string]*Session),
		history:  make(map[string]map[string][]string),
	}
}

func (s *InMemorySessionStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return sess.Clone(), nil
}

func (s *InMemorySessionStore) Put(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *InMemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	delete(s.history, id)
	return nil
}

func (s *InMemorySessionStore) ListIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *InMemorySessionStore) AppendHistory(_ context.Context, sessionID, kind, entry string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.history[sessionID] == nil {
		s.history[sessionID] = make(map[string][]string)
	}
	s.history[sessionID][kind] = append(s.history[sessionID][kind], entry)
	return nil
}

func (s *InMemorySessionStore) History(_ context.Context, sessionID, kind string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.history[sessionID][kind]
	if limit > 0 && limit < len(entries) {
		entries = entries[len(entries)-limit:]
	}
	out := make([]string, len(entries))
	copy(out, entries)
	return out, nil
}
