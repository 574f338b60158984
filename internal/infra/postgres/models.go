package postgres

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
	"quiz-session-service/internal/domain"
)

type sessionRow struct {
	bun.BaseModel `bun:"table:sessions"`

	ID                string     `bun:"id,pk"`
	Code              string     `bun:"code,notnull"`
	QuizID            string     `bun:"quiz_id,notnull"`
	HostID            string     `bun:"host_id,notnull"`
	Status            string     `bun:"status,notnull"`
	Mode              string     `bun:"mode,notnull"`
	CurrentQuestion   int        `bun:"current_question"`
	TotalQuestions    int        `bun:"total_questions"`
	TotalParticipants int        `bun:"total_participants"`
	Settings          []byte     `bun:"settings,type:jsonb"`
	CreatedAt         time.Time  `bun:"created_at,notnull"`
	StartedAt         *time.Time `bun:"started_at"`
	EndedAt           *time.Time `bun:"ended_at"`
}

type participantRow struct {
	bun.BaseModel `bun:"table:participants"`

	ID          string    `bun:"id,pk"`
	SessionID   string    `bun:"session_id,notnull"`
	UserID      string    `bun:"user_id"`
	Nickname    string    `bun:"nickname,notnull"`
	AvatarURL   string    `bun:"avatar_url"`
	TotalScore  int       `bun:"total_score"`
	IsActive    bool      `bun:"is_active"`
	IsConnected bool      `bun:"is_connected"`
	JoinedAt    time.Time `bun:"joined_at,notnull"`
}

type answerRow struct {
	bun.BaseModel `bun:"table:answers"`

	ID            string    `bun:"id,pk"`
	SessionID     string    `bun:"session_id,notnull"`
	ParticipantID string    `bun:"participant_id,notnull"`
	QuestionID    string    `bun:"question_id,notnull"`
	OptionID      string    `bun:"option_id"`
	Text          string    `bun:"answer_text"`
	Correct       bool      `bun:"is_correct"`
	PointsEarned  int       `bun:"points_earned"`
	TimeTaken     int       `bun:"time_taken"`
	AnsweredAt    time.Time `bun:"answered_at,notnull"`
}

func toSessionRow(s *domain.Session) *sessionRow {
	settings, _ := json.Marshal(s.Settings)
	return &sessionRow{
		ID:                s.ID,
		Code:              s.Code,
		QuizID:            s.QuizID,
		HostID:            s.HostID,
		Status:            string(s.Status),
		Mode:              string(s.Mode),
		CurrentQuestion:   s.CurrentQuestion,
		TotalQuestions:    s.TotalQuestions,
		TotalParticipants: s.TotalParticipants,
		Settings:          settings,
		CreatedAt:         s.CreatedAt,
		StartedAt:         s.StartedAt,
		EndedAt:           s.EndedAt,
	}
}

func (r *sessionRow) toDomain() domain.Session {
	var settings domain.SessionSettings
	_ = json.Unmarshal(r.Settings, &settings)
	return domain.Session{
		ID:                r.ID,
		Code:              r.Code,
		QuizID:            r.QuizID,
		HostID:            r.HostID,
		Status:            domain.SessionStatus(r.Status),
		Mode:              domain.SessionMode(r.Mode),
		CurrentQuestion:   r.CurrentQuestion,
		TotalQuestions:    r.TotalQuestions,
		TotalParticipants: r.TotalParticipants,
		Settings:          settings,
		CreatedAt:         r.CreatedAt,
		StartedAt:         r.StartedAt,
		EndedAt:           r.EndedAt,
	}
}

func toParticipantRow(p *domain.Participant) *participantRow {
	return &participantRow{
		ID:          p.ID,
		SessionID:   p.SessionID,
		UserID:      p.UserID,
		Nickname:    p.Nickname,
		AvatarURL:   p.AvatarURL,
		TotalScore:  p.TotalScore,
		IsActive:    p.IsActive,
		IsConnected: p.IsConnected,
		JoinedAt:    p.JoinedAt,
	}
}

func (r *participantRow) toDomain() domain.Participant {
	return domain.Participant{
		ID:          r.ID,
		SessionID:   r.SessionID,
		UserID:      r.UserID,
		Nickname:    r.Nickname,
		AvatarURL:   r.AvatarURL,
		TotalScore:  r.TotalScore,
		IsActive:    r.IsActive,
		IsConnected: r.IsConnected,
		JoinedAt:    r.JoinedAt,
	}
}

func toAnswerRow(a *domain.Answer) *answerRow {
	return &answerRow{
		ID:            a.ID,
		SessionID:     a.SessionID,
		ParticipantID: a.ParticipantID,
		QuestionID:    a.QuestionID,
		OptionID:      a.OptionID,
		Text:          a.Text,
		Correct:       a.Correct,
		PointsEarned:  a.PointsEarned,
		TimeTaken:     a.TimeTaken,
		AnsweredAt:    a.AnsweredAt,
	}
}

func (r *answerRow) toDomain() domain.Answer {
	return domain.Answer{
		ID:            r.ID,
		SessionID:     r.SessionID,
		ParticipantID: r.ParticipantID,
		QuestionID:    r.QuestionID,
		OptionID:      r.OptionID,
		Text:          r.Text,
		Correct:       r.Correct,
		PointsEarned:  r.PointsEarned,
		TimeTaken:     r.TimeTaken,
		AnsweredAt:    r.AnsweredAt,
	}
}
