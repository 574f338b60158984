package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateStore keeps the volatile gameplay state in Redis: the snapshotted
// question order, per-participant progress pointers, per-(participant,
// question) start stamps and a liveness flag. All keys share the session TTL
// and are purged together on session end.
type StateStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStateStore(client *redis.Client, ttl time.Duration) *StateStore {
	return &StateStore{client: client, ttl: ttl}
}

func (s *StateStore) questionsKey(sessionID string) string {
	return "session:" + sessionID + ":questions"
}

func (s *StateStore) progressKey(sessionID string) string {
	return "session:" + sessionID + ":progress"
}

func (s *StateStore) startsKey(sessionID string) string {
	return "session:" + sessionID + ":starts"
}

func (s *StateStore) liveKey(sessionID string) string {
	return "session:" + sessionID + ":live"
}

func (s *StateStore) CacheQuestionOrder(ctx context.Context, sessionID string, questionIDs []string) error {
	key := s.questionsKey(sessionID)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(questionIDs) > 0 {
		values := make([]interface{}, len(questionIDs))
		for i, id := range questionIDs {
			values[i] = id
		}
		pipe.RPush(ctx, key, values...)
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *StateStore) QuestionOrder(ctx context.Context, sessionID string) ([]string, error) {
	return s.client.LRange(ctx, s.questionsKey(sessionID), 0, -1).Result()
}

func (s *StateStore) SetProgress(ctx context.Context, sessionID, participantID string, index int) error {
	key := s.progressKey(sessionID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, participantID, index)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *StateStore) Progress(ctx context.Context, sessionID, participantID string) (int, bool, error) {
	raw, err := s.client.HGet(ctx, s.progressKey(sessionID), participantID).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	index, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, err
	}
	return index, true, nil
}

func (s *StateStore) MarkQuestionStart(ctx context.Context, sessionID, participantID, questionID string, at time.Time) error {
	key := s.startsKey(sessionID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, participantID+"|"+questionID, at.UnixMilli())
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *StateStore) QuestionStart(ctx context.Context, sessionID, participantID, questionID string) (time.Time, bool, error) {
	raw, err := s.client.HGet(ctx, s.startsKey(sessionID), participantID+"|"+questionID).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(millis), true, nil
}

func (s *StateStore) SetLive(ctx context.Context, sessionID string) error {
	return s.client.Set(ctx, s.liveKey(sessionID), "1", s.ttl).Err()
}

func (s *StateStore) Purge(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx,
		s.questionsKey(sessionID),
		s.progressKey(sessionID),
		s.startsKey(sessionID),
		s.liveKey(sessionID),
	).Err()
}
