package redis

import (
	"context"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"quiz-session-service/internal/domain"
)

// tieBreakDenom scales the per-session update sequence into the fractional
// part of a ZSET score. The integer part is the participant's score; the
// fraction orders ties so the first to reach a score ranks higher. Sequence
// numbers stay far below 2^40, and float64 keeps integer scores exact well
// past any realistic quiz total, so the encoding never flips integer order.
const tieBreakDenom = float64(1 << 40)

// ScoreStore implements ranking.ScoreStore on a Redis sorted set per session.
type ScoreStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewScoreStore(client *redis.Client, ttl time.Duration) *ScoreStore {
	return &ScoreStore{client: client, ttl: ttl}
}

func (s *ScoreStore) boardKey(sessionID string) string {
	return "session:" + sessionID + ":leaderboard"
}

func (s *ScoreStore) namesKey(sessionID string) string {
	return "session:" + sessionID + ":nicknames"
}

func (s *ScoreStore) seqKey(sessionID string) string {
	return "session:" + sessionID + ":lbseq"
}

func (s *ScoreStore) UpdateScore(ctx context.Context, sessionID, participantID, nickname string, score int) error {
	boardKey := s.boardKey(sessionID)

	// A pure metadata refresh must not demote the participant among ties, so
	// the sequence is only re-stamped when the integer score changes.
	existing, err := s.client.ZScore(ctx, boardKey, participantID).Result()
	if err == nil && int(math.Floor(existing)) == score {
		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, s.namesKey(sessionID), participantID, nickname)
		if s.ttl > 0 {
			pipe.Expire(ctx, s.namesKey(sessionID), s.ttl)
		}
		_, err := pipe.Exec(ctx)
		return err
	}
	if err != nil && err != redis.Nil {
		return err
	}

	seq, err := s.client.Incr(ctx, s.seqKey(sessionID)).Result()
	if err != nil {
		return err
	}

	encoded := float64(score) + (1 - float64(seq)/tieBreakDenom)
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, boardKey, redis.Z{Score: encoded, Member: participantID})
	pipe.HSet(ctx, s.namesKey(sessionID), participantID, nickname)
	if s.ttl > 0 {
		pipe.Expire(ctx, boardKey, s.ttl)
		pipe.Expire(ctx, s.namesKey(sessionID), s.ttl)
		pipe.Expire(ctx, s.seqKey(sessionID), s.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *ScoreStore) Range(ctx context.Context, sessionID string, offset, limit int) ([]domain.LeaderboardEntry, error) {
	stop := int64(-1)
	if limit >= 0 {
		stop = int64(offset + limit - 1)
	}
	members, err := s.client.ZRevRangeWithScores(ctx, s.boardKey(sessionID), int64(offset), stop).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	nicknames, err := s.client.HGetAll(ctx, s.namesKey(sessionID)).Result()
	if err != nil {
		nicknames = map[string]string{}
	}

	entries := make([]domain.LeaderboardEntry, 0, len(members))
	for _, member := range members {
		participantID, _ := member.Member.(string)
		entries = append(entries, domain.LeaderboardEntry{
			ParticipantID: participantID,
			Nickname:      nicknames[participantID],
			Score:         int(math.Floor(member.Score)),
		})
	}
	return entries, nil
}

func (s *ScoreStore) Count(ctx context.Context, sessionID string) (int, error) {
	n, err := s.client.ZCard(ctx, s.boardKey(sessionID)).Result()
	return int(n), err
}

// Freeze extends retention so the final leaderboard outlives the session.
func (s *ScoreStore) Freeze(ctx context.Context, sessionID string, ttl time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.Expire(ctx, s.boardKey(sessionID), ttl)
	pipe.Expire(ctx, s.namesKey(sessionID), ttl)
	pipe.Expire(ctx, s.seqKey(sessionID), ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *ScoreStore) Clear(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.boardKey(sessionID), s.namesKey(sessionID), s.seqKey(sessionID)).Err()
}
