package memory

import (
	"context"
	"sync"
	"time"
)

// StateStore is the in-memory implementation of app.StateStore, used in tests
// and when Redis is not configured.
type StateStore struct {
	mu       sync.RWMutex
	orders   map[string][]string
	progress map[string]map[string]int
	starts   map[string]map[string]time.Time
	live     map[string]struct{}
}

func NewStateStore() *StateStore {
	return &StateStore{
		orders:   make(map[string][]string),
		progress: make(map[string]map[string]int),
		starts:   make(map[string]map[string]time.Time),
		live:     make(map[string]struct{}),
	}
}

func (s *StateStore) CacheQuestionOrder(_ context.Context, sessionID string, questionIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order := make([]string, len(questionIDs))
	copy(order, questionIDs)
	s.orders[sessionID] = order
	return nil
}

func (s *StateStore) QuestionOrder(_ context.Context, sessionID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[sessionID]
	if !ok {
		return nil, nil
	}
	out := make([]string, len(order))
	copy(out, order)
	return out, nil
}

func (s *StateStore) SetProgress(_ context.Context, sessionID, participantID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progress[sessionID] == nil {
		s.progress[sessionID] = make(map[string]int)
	}
	s.progress[sessionID][participantID] = index
	return nil
}

func (s *StateStore) Progress(_ context.Context, sessionID, participantID string) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	index, ok := s.progress[sessionID][participantID]
	return index, ok, nil
}

func (s *StateStore) MarkQuestionStart(_ context.Context, sessionID, participantID, questionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.starts[sessionID] == nil {
		s.starts[sessionID] = make(map[string]time.Time)
	}
	s.starts[sessionID][participantID+"|"+questionID] = at
	return nil
}

func (s *StateStore) QuestionStart(_ context.Context, sessionID, participantID, questionID string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.starts[sessionID][participantID+"|"+questionID]
	return at, ok, nil
}

func (s *StateStore) SetLive(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live[sessionID] = struct{}{}
	return nil
}

func (s *StateStore) Purge(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, sessionID)
	delete(s.progress, sessionID)
	delete(s.starts, sessionID)
	delete(s.live, sessionID)
	return nil
}

// IsLive reports the liveness flag; used by tests.
func (s *StateStore) IsLive(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.live[sessionID]
	return ok
}
