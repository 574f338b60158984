package domain

import "time"

// EventType tags every message crossing the realtime gateway.
type EventType string

const (
	EventLobbyOpen         EventType = "lobbyOpen"
	EventParticipantJoined EventType = "participantJoined"
	EventParticipantLeft   EventType = "participantLeft"
	EventSessionStarted    EventType = "sessionStarted"
	EventSessionPaused     EventType = "sessionPaused"
	EventSessionResumed    EventType = "sessionResumed"
	EventSessionEnded      EventType = "sessionEnded"
	EventQuestion          EventType = "question"
	EventTimeUp            EventType = "timeUp"
	EventAnswerFeedback    EventType = "answerFeedback"
	EventLeaderboard       EventType = "leaderboard"
	EventCompleted         EventType = "completed"
	EventPodium            EventType = "podium"
)

// Event is the envelope delivered over broadcast and unicast channels.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// OptionView is an option stripped of the correctness flag for delivery.
type OptionView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// QuestionView is the client-safe shape of a delivered question.
type QuestionView struct {
	Number    int          `json:"number"` // 1-indexed position in the session order
	Total     int          `json:"total"`
	ID        string       `json:"id"`
	Prompt    string       `json:"prompt"`
	Type      QuestionType `json:"type"`
	Options   []OptionView `json:"options,omitempty"`
	Points    int          `json:"points"`
	TimeLimit int          `json:"timeLimit"`
}

// ViewOf strips answer information from a question for delivery.
func ViewOf(q Question, number, total, limit int) QuestionView {
	view := QuestionView{
		Number:    number,
		Total:     total,
		ID:        q.ID,
		Prompt:    q.Prompt,
		Type:      q.Type,
		Points:    q.DefaultPoints(),
		TimeLimit: limit,
	}
	for _, opt := range q.Options {
		view.Options = append(view.Options, OptionView{ID: opt.ID, Text: opt.Text})
	}
	return view
}

// AnswerFeedback is the per-participant result of a scored submission.
type AnswerFeedback struct {
	QuestionID      string    `json:"questionId"`
	Correct         bool      `json:"correct"`
	PointsEarned    int       `json:"pointsEarned"`
	TotalScore      int       `json:"totalScore"`
	TimeTaken       int       `json:"timeTaken"`
	Late            bool      `json:"late"`
	Rank            int       `json:"rank,omitempty"`
	Change          RankDelta `json:"change,omitempty"`
	CorrectOptionID string    `json:"correctOptionId,omitempty"` // only when the session shows correct answers
}

// TimeUpNotice tells one participant the timer elapsed; answering late is
// still possible for base points until their pointer moves on.
type TimeUpNotice struct {
	QuestionID string `json:"questionId"`
	Number     int    `json:"number"`
}

// SessionTimer reports remaining time for a participant's current question.
type SessionTimer struct {
	QuestionID string    `json:"questionId"`
	Number     int       `json:"number"`
	TimeLimit  int       `json:"timeLimit"`
	Remaining  int       `json:"remaining"` // seconds, clamped at zero
	StartedAt  time.Time `json:"startedAt"`
}
