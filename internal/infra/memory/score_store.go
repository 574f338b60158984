package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"quiz-session-service/internal/domain"
)

// ScoreStore is the in-memory ranking.ScoreStore. Ties break by update
// sequence: the first participant to reach a score ranks higher.
type ScoreStore struct {
	mu     sync.RWMutex
	boards map[string]*board
}

type board struct {
	seq     uint64
	entries map[string]*scoreEntry
}

type scoreEntry struct {
	nickname string
	score    int
	seq      uint64
}

func NewScoreStore() *ScoreStore {
	return &ScoreStore{boards: make(map[string]*board)}
}

func (s *ScoreStore) UpdateScore(_ context.Context, sessionID, participantID, nickname string, score int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.boards[sessionID]
	if !ok {
		b = &board{entries: make(map[string]*scoreEntry)}
		s.boards[sessionID] = b
	}
	b.seq++
	if entry, ok := b.entries[participantID]; ok {
		// Keep the original sequence when the score is unchanged so a metadata
		// refresh does not demote the participant among ties.
		if entry.score != score {
			entry.seq = b.seq
		}
		entry.score = score
		entry.nickname = nickname
		return nil
	}
	b.entries[participantID] = &scoreEntry{nickname: nickname, score: score, seq: b.seq}
	return nil
}

func (s *ScoreStore) Range(_ context.Context, sessionID string, offset, limit int) ([]domain.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.boards[sessionID]
	if !ok {
		return nil, nil
	}

	type keyed struct {
		id    string
		entry *scoreEntry
	}
	all := make([]keyed, 0, len(b.entries))
	for id, entry := range b.entries {
		all = append(all, keyed{id: id, entry: entry})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].entry.score != all[j].entry.score {
			return all[i].entry.score > all[j].entry.score
		}
		return all[i].entry.seq < all[j].entry.seq
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit >= 0 && len(all) > limit {
		all = all[:limit]
	}

	entries := make([]domain.LeaderboardEntry, 0, len(all))
	for _, k := range all {
		entries = append(entries, domain.LeaderboardEntry{
			ParticipantID: k.id,
			Nickname:      k.entry.nickname,
			Score:         k.entry.score,
		})
	}
	return entries, nil
}

func (s *ScoreStore) Count(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.boards[sessionID]
	if !ok {
		return 0, nil
	}
	return len(b.entries), nil
}

// Freeze is a no-op in memory; nothing expires without Redis.
func (s *ScoreStore) Freeze(context.Context, string, time.Duration) error { return nil }

func (s *ScoreStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.boards, sessionID)
	return nil
}
