package app

import (
	"context"
	"time"

	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/sched"
)

// SessionRepository is the durable store for session records.
type SessionRepository interface {
	Save(ctx context.Context, session *domain.Session) error
	Update(ctx context.Context, session *domain.Session) error
	ByID(ctx context.Context, id string) (domain.Session, error)
	ByCode(ctx context.Context, code string) (domain.Session, error)
	// CodeInUse reports whether a live (non-ended) session holds the code.
	CodeInUse(ctx context.Context, code string) (bool, error)
	// IncrementParticipants atomically adjusts the participant count. A
	// positive delta against a full session (max > 0) fails with
	// domain.ErrSessionFull; the count never drops below zero.
	IncrementParticipants(ctx context.Context, id string, delta, max int) error
}

// ParticipantRepository is the durable store for participant records.
// Participants are deactivated, never deleted, while a session lives.
// Save must reject an active duplicate nickname within the session with
// domain.ErrNicknameTaken; the service-level check is only a pre-check.
type ParticipantRepository interface {
	Save(ctx context.Context, participant *domain.Participant) error
	ByID(ctx context.Context, id string) (domain.Participant, error)
	ActiveBySession(ctx context.Context, sessionID string) ([]domain.Participant, error)
	NicknameTaken(ctx context.Context, sessionID, nickname string) (bool, error)
	UpdateScore(ctx context.Context, id string, totalScore int) error
	SetActive(ctx context.Context, id string, active bool) error
	SetConnected(ctx context.Context, id string, connected bool) error
}

// AnswerRepository is the durable store for scored answers. Insert must be an
// atomic check-and-insert on (participant, question): a losing concurrent
// submission gets domain.ErrAlreadyAnswered, never a silent overwrite.
type AnswerRepository interface {
	Insert(ctx context.Context, answer *domain.Answer) error
	Exists(ctx context.Context, participantID, questionID string) (bool, error)
	ByParticipantAndQuestion(ctx context.Context, participantID, questionID string) (domain.Answer, error)
	// Update is the explicit correction path; normal submissions never reach it.
	Update(ctx context.Context, answer *domain.Answer) error
}

// QuizRepository loads quiz content (from cache or backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// StateStore holds the volatile per-session gameplay state: the snapshotted
// question order, per-participant progress pointers, per-(participant,
// question) start stamps and a liveness flag. Everything here is
// reconstructible from durable storage.
type StateStore interface {
	CacheQuestionOrder(ctx context.Context, sessionID string, questionIDs []string) error
	QuestionOrder(ctx context.Context, sessionID string) ([]string, error)
	SetProgress(ctx context.Context, sessionID, participantID string, index int) error
	Progress(ctx context.Context, sessionID, participantID string) (int, bool, error)
	MarkQuestionStart(ctx context.Context, sessionID, participantID, questionID string, at time.Time) error
	QuestionStart(ctx context.Context, sessionID, participantID, questionID string) (time.Time, bool, error)
	SetLive(ctx context.Context, sessionID string) error
	// Purge removes every ephemeral key for the session.
	Purge(ctx context.Context, sessionID string) error
}

// Gateway fans events out to connected clients. Delivery is fire-and-forget
// for the caller: failures are logged downstream, never surfaced.
type Gateway interface {
	Broadcast(sessionID string, ev domain.Event)
	Unicast(sessionID, participantID string, ev domain.Event)
}

// RankingService is the leaderboard boundary used by the state machine.
type RankingService interface {
	UpdateScore(ctx context.Context, sessionID, participantID, nickname string, newScore int) (int, domain.RankDelta, error)
	Window(ctx context.Context, sessionID string, limit, offset int, viewerID string) (domain.Leaderboard, error)
	Podium(ctx context.Context, sessionID string) (domain.Leaderboard, error)
	RankAround(ctx context.Context, sessionID, participantID string, span int) (domain.Leaderboard, error)
	Freeze(ctx context.Context, sessionID string, ttl time.Duration) error
	// Release drops in-process rank bookkeeping without touching the store.
	Release(sessionID string)
	Purge(ctx context.Context, sessionID string) error
}

// Scheduler re-exports the keyed delayed-task contract for wiring.
type Scheduler = sched.Scheduler
