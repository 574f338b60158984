package memory

import (
	"context"
	"strings"
	"sync"

	"quiz-session-service/internal/domain"
)

// SessionRepository is the in-memory durable session store.
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[string]domain.Session)}
}

func (r *SessionRepository) Save(_ context.Context, session *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = *session
	return nil
}

func (r *SessionRepository) Update(ctx context.Context, session *domain.Session) error {
	return r.Save(ctx, session)
}

func (r *SessionRepository) ByID(_ context.Context, id string) (domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (r *SessionRepository) ByCode(_ context.Context, code string) (domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, session := range r.sessions {
		if session.Code == code && session.Status != domain.StatusEnded {
			return session, nil
		}
	}
	return domain.Session{}, domain.ErrSessionNotFound
}

func (r *SessionRepository) CodeInUse(_ context.Context, code string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, session := range r.sessions {
		if session.Code == code && session.Status != domain.StatusEnded {
			return true, nil
		}
	}
	return false, nil
}

func (r *SessionRepository) IncrementParticipants(_ context.Context, id string, delta, max int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if delta > 0 && max > 0 && session.TotalParticipants+delta > max {
		return domain.ErrSessionFull
	}
	session.TotalParticipants += delta
	if session.TotalParticipants < 0 {
		session.TotalParticipants = 0
	}
	r.sessions[id] = session
	return nil
}

// ParticipantRepository is the in-memory durable participant store.
type ParticipantRepository struct {
	mu           sync.RWMutex
	participants map[string]domain.Participant
}

func NewParticipantRepository() *ParticipantRepository {
	return &ParticipantRepository{participants: make(map[string]domain.Participant)}
}

// Save rejects an active duplicate nickname in the same session, mirroring
// the partial unique index of the Postgres schema.
func (r *ParticipantRepository) Save(_ context.Context, participant *domain.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if participant.IsActive {
		for _, p := range r.participants {
			if p.ID != participant.ID && p.SessionID == participant.SessionID &&
				p.IsActive && strings.EqualFold(p.Nickname, participant.Nickname) {
				return domain.ErrNicknameTaken
			}
		}
	}
	r.participants[participant.ID] = *participant
	return nil
}

func (r *ParticipantRepository) ByID(_ context.Context, id string) (domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	participant, ok := r.participants[id]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return participant, nil
}

func (r *ParticipantRepository) ActiveBySession(_ context.Context, sessionID string) ([]domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Participant
	for _, p := range r.participants {
		if p.SessionID == sessionID && p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *ParticipantRepository) NicknameTaken(_ context.Context, sessionID, nickname string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.participants {
		if p.SessionID == sessionID && p.IsActive && strings.EqualFold(p.Nickname, nickname) {
			return true, nil
		}
	}
	return false, nil
}

func (r *ParticipantRepository) UpdateScore(_ context.Context, id string, totalScore int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[id]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	p.TotalScore = totalScore
	r.participants[id] = p
	return nil
}

func (r *ParticipantRepository) SetActive(_ context.Context, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[id]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	p.IsActive = active
	r.participants[id] = p
	return nil
}

func (r *ParticipantRepository) SetConnected(_ context.Context, id string, connected bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[id]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	p.IsConnected = connected
	r.participants[id] = p
	return nil
}

// AnswerRepository is the in-memory durable answer store. Insert is an atomic
// check-and-insert under the repository lock, matching the unique
// (participant, question) constraint of the Postgres schema.
type AnswerRepository struct {
	mu      sync.Mutex
	answers map[string]domain.Answer // keyed participantID|questionID
}

func NewAnswerRepository() *AnswerRepository {
	return &AnswerRepository{answers: make(map[string]domain.Answer)}
}

func answerKey(participantID, questionID string) string {
	return participantID + "|" + questionID
}

func (r *AnswerRepository) Insert(_ context.Context, answer *domain.Answer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := answerKey(answer.ParticipantID, answer.QuestionID)
	if _, ok := r.answers[key]; ok {
		return domain.ErrAlreadyAnswered
	}
	r.answers[key] = *answer
	return nil
}

func (r *AnswerRepository) Exists(_ context.Context, participantID, questionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.answers[answerKey(participantID, questionID)]
	return ok, nil
}

func (r *AnswerRepository) ByParticipantAndQuestion(_ context.Context, participantID, questionID string) (domain.Answer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	answer, ok := r.answers[answerKey(participantID, questionID)]
	if !ok {
		return domain.Answer{}, domain.NewError(domain.KindNotFound, "answer not found")
	}
	return answer, nil
}

func (r *AnswerRepository) Update(_ context.Context, answer *domain.Answer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := answerKey(answer.ParticipantID, answer.QuestionID)
	if _, ok := r.answers[key]; !ok {
		return domain.NewError(domain.KindNotFound, "answer not found")
	}
	r.answers[key] = *answer
	return nil
}
