// Package ranking maintains the ranked view of a session's participants and
// classifies rank movement between score updates.
package ranking

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"quiz-session-service/internal/domain"
)

// ScoreStore is the sorted structure behind the leaderboard (Redis ZSET or
// in-memory). Range returns entries in descending-score order with ties
// broken by earliest update; limit < 0 means "to the end".
type ScoreStore interface {
	UpdateScore(ctx context.Context, sessionID, participantID, nickname string, score int) error
	Range(ctx context.Context, sessionID string, offset, limit int) ([]domain.LeaderboardEntry, error)
	Count(ctx context.Context, sessionID string) (int, error)
	// Freeze extends the leaderboard's retention after a session ends.
	Freeze(ctx context.Context, sessionID string, ttl time.Duration) error
	Clear(ctx context.Context, sessionID string) error
}

// ParticipantSource is the durable fallback: Participant.totalScore is
// authoritative, the score store is a cache.
type ParticipantSource interface {
	ActiveBySession(ctx context.Context, sessionID string) ([]domain.Participant, error)
}

// Service owns per-session rank state. Exactly one generation of previous
// ranks is kept per session for NEW/UP/DOWN/SAME classification.
type Service struct {
	store        ScoreStore
	participants ParticipantSource
	now          func() time.Time

	mu        sync.Mutex
	locks     map[string]*sync.Mutex
	prevRanks map[string]map[string]int
}

func NewService(store ScoreStore, participants ParticipantSource) *Service {
	return &Service{
		store:        store,
		participants: participants,
		now:          time.Now,
		locks:        make(map[string]*sync.Mutex),
		prevRanks:    make(map[string]map[string]int),
	}
}

func (s *Service) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	return lock
}

// UpdateScore writes a participant's new cumulative score (replace, not
// increment) and returns their resulting rank and rank delta. The previous
// generation snapshot is swapped atomically under a per-session lock, so
// concurrent updates each see a consistent (if slightly stale) baseline.
func (s *Service) UpdateScore(ctx context.Context, sessionID, participantID, nickname string, newScore int) (int, domain.RankDelta, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	before := s.rankMap(ctx, sessionID)

	if err := s.store.UpdateScore(ctx, sessionID, participantID, nickname, newScore); err != nil {
		return 0, "", err
	}

	after := s.rankMap(ctx, sessionID)

	s.mu.Lock()
	s.prevRanks[sessionID] = before
	s.mu.Unlock()

	rank, ok := after[participantID]
	if !ok {
		return 0, domain.DeltaNew, nil
	}
	return rank, classify(before, participantID, rank), nil
}

func classify(prev map[string]int, participantID string, current int) domain.RankDelta {
	old, ok := prev[participantID]
	switch {
	case !ok:
		return domain.DeltaNew
	case current < old:
		return domain.DeltaUp
	case current > old:
		return domain.DeltaDown
	default:
		return domain.DeltaSame
	}
}

func (s *Service) rankMap(ctx context.Context, sessionID string) map[string]int {
	entries, err := s.store.Range(ctx, sessionID, 0, -1)
	if err != nil {
		return map[string]int{}
	}
	ranks := make(map[string]int, len(entries))
	for i, e := range entries {
		ranks[e.ParticipantID] = i + 1
	}
	return ranks
}

// Window returns ranked entries in descending-score order, 1-indexed,
// flagging the viewer's own entry when viewerID is set. When the score store
// is empty or unavailable the leaderboard is rebuilt from durable rows.
func (s *Service) Window(ctx context.Context, sessionID string, limit, offset int, viewerID string) (domain.Leaderboard, error) {
	// An empty page triggers the rebuild at any offset: a lost cache and a
	// paginated read past the end look identical here, and rebuild re-slices
	// from the durable rows either way.
	entries, err := s.store.Range(ctx, sessionID, offset, limit)
	if err != nil || len(entries) == 0 {
		entries, err = s.rebuild(ctx, sessionID, limit, offset)
		if err != nil {
			return domain.Leaderboard{}, err
		}
	}

	s.mu.Lock()
	prev := s.prevRanks[sessionID]
	s.mu.Unlock()

	for i := range entries {
		entries[i].Rank = offset + i + 1
		entries[i].Change = classify(prev, entries[i].ParticipantID, entries[i].Rank)
		if viewerID != "" && entries[i].ParticipantID == viewerID {
			entries[i].IsViewer = true
		}
	}
	return domain.Leaderboard{SessionID: sessionID, Entries: entries, UpdatedAt: s.now()}, nil
}

// Podium returns the top three entries.
func (s *Service) Podium(ctx context.Context, sessionID string) (domain.Leaderboard, error) {
	return s.Window(ctx, sessionID, 3, 0, "")
}

// RankAround returns a window of 2*span+1 entries centered on the
// participant's rank, falling back to the absolute top window when the
// participant cannot be located.
func (s *Service) RankAround(ctx context.Context, sessionID, participantID string, span int) (domain.Leaderboard, error) {
	if span < 0 {
		span = 0
	}
	size := 2*span + 1

	full, err := s.Window(ctx, sessionID, -1, 0, participantID)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	center := -1
	for i, e := range full.Entries {
		if e.ParticipantID == participantID {
			center = i
			break
		}
	}
	if center < 0 {
		if len(full.Entries) > size {
			full.Entries = full.Entries[:size]
		}
		return full, nil
	}

	start := center - span
	if start < 0 {
		start = 0
	}
	end := start + size
	if end > len(full.Entries) {
		end = len(full.Entries)
	}
	full.Entries = full.Entries[start:end]
	return full, nil
}

// Freeze extends the leaderboard's retention; called once on session end.
func (s *Service) Freeze(ctx context.Context, sessionID string, ttl time.Duration) error {
	return s.store.Freeze(ctx, sessionID, ttl)
}

// Release drops the in-process rank history and lock for an ended session.
// The frozen leaderboard stays in the store under its retention TTL, so only
// the maps are cleared.
func (s *Service) Release(sessionID string) {
	s.mu.Lock()
	delete(s.prevRanks, sessionID)
	delete(s.locks, sessionID)
	s.mu.Unlock()
}

// Purge drops the session's cached leaderboard and in-process rank history.
func (s *Service) Purge(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.prevRanks, sessionID)
	delete(s.locks, sessionID)
	s.mu.Unlock()
	return s.store.Clear(ctx, sessionID)
}

// rebuild reconstructs the ranked view from durable participant rows and
// best-effort repopulates the score store.
func (s *Service) rebuild(ctx context.Context, sessionID string, limit, offset int) ([]domain.LeaderboardEntry, error) {
	participants, err := s.participants.ActiveBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(participants, func(i, j int) bool {
		if participants[i].TotalScore != participants[j].TotalScore {
			return participants[i].TotalScore > participants[j].TotalScore
		}
		return participants[i].JoinedAt.Before(participants[j].JoinedAt)
	})

	for _, p := range participants {
		if err := s.store.UpdateScore(ctx, sessionID, p.ID, p.Nickname, p.TotalScore); err != nil {
			log.Printf("leaderboard repopulate failed for session %s: %v", sessionID, err)
			break
		}
	}

	entries := make([]domain.LeaderboardEntry, 0, len(participants))
	for _, p := range participants {
		entries = append(entries, domain.LeaderboardEntry{
			ParticipantID: p.ID,
			Nickname:      p.Nickname,
			Score:         p.TotalScore,
		})
	}
	if offset >= len(entries) {
		return nil, nil
	}
	entries = entries[offset:]
	if limit >= 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
