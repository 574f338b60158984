package domain

import "time"

// SessionStatus is the lifecycle state of a live session.
// Transitions are monotonic except the PAUSED/IN_PROGRESS toggle; a session
// never re-enters WAITING.
type SessionStatus string

const (
	StatusWaiting    SessionStatus = "WAITING"
	StatusInProgress SessionStatus = "IN_PROGRESS"
	StatusPaused     SessionStatus = "PAUSED"
	StatusEnded      SessionStatus = "ENDED"
)

// SessionMode selects the pacing protocol.
type SessionMode string

const (
	// ModeSync is host-paced: one global question pointer, broadcast delivery.
	ModeSync SessionMode = "SYNC"
	// ModeAsync is self-paced: each participant advances independently.
	ModeAsync SessionMode = "ASYNC"
)

// QuestionType is a closed set; scoring switches over it exhaustively.
type QuestionType string

const (
	TypeSingleChoice QuestionType = "SINGLE_CHOICE"
	TypeTrueFalse    QuestionType = "TRUE_FALSE"
	TypeFillBlank    QuestionType = "FILL_BLANK"
)

// SessionSettings are the host-chosen feature flags for one session.
type SessionSettings struct {
	QuestionTimeLimit  int        `json:"questionTimeLimit"` // seconds, default when a question has none
	AllowLateJoin      bool       `json:"allowLateJoin"`
	ShuffleQuestions   bool       `json:"shuffleQuestions"`
	ShowCorrectAnswers bool       `json:"showCorrectAnswers"`
	MaxParticipants    int        `json:"maxParticipants"` // 0 means unlimited
	MaxAttempts        int        `json:"maxAttempts"`
	ScheduledStart     *time.Time `json:"scheduledStart,omitempty"`
	ScheduledEnd       *time.Time `json:"scheduledEnd,omitempty"`
}

// Session is one live run of a quiz.
type Session struct {
	ID                string          `json:"id"`
	Code              string          `json:"code"`
	QuizID            string          `json:"quizId"`
	HostID            string          `json:"hostId"`
	Status            SessionStatus   `json:"status"`
	Mode              SessionMode     `json:"mode"`
	CurrentQuestion   int             `json:"currentQuestion"` // meaningful in SYNC mode only
	TotalQuestions    int             `json:"totalQuestions"`
	TotalParticipants int             `json:"totalParticipants"`
	Settings          SessionSettings `json:"settings"`
	CreatedAt         time.Time       `json:"createdAt"`
	StartedAt         *time.Time      `json:"startedAt,omitempty"`
	EndedAt           *time.Time      `json:"endedAt,omitempty"`
}

// Participant is one joined player. Leaving deactivates it; rows are never
// hard-deleted mid-session so historical answers stay attributable.
type Participant struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	UserID      string    `json:"userId"`
	Nickname    string    `json:"nickname"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
	TotalScore  int       `json:"totalScore"`
	IsActive    bool      `json:"isActive"`
	IsConnected bool      `json:"isConnected"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// Option is one possible answer for a choice question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question is durable quiz content; the engine only reads it.
type Question struct {
	ID        string       `json:"id"`
	Prompt    string       `json:"prompt"`
	Type      QuestionType `json:"type"`
	Options   []Option     `json:"options,omitempty"`
	Accepted  []string     `json:"accepted,omitempty"` // fill-blank accepted answers
	Points    int          `json:"points"`             // defaults to 100 if zero
	TimeLimit int          `json:"timeLimit"`          // seconds; 0 falls back to the session default
}

// Quiz is an ordered collection of questions.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title,omitempty"`
	Questions []Question `json:"questions"`
}

// AnswerSubmission is the raw answer signal from a client.
type AnswerSubmission struct {
	QuestionID string
	OptionID   string // choice questions
	Text       string // fill-blank questions
}

// Answer is one participant's scored response. At most one exists per
// (participant, question) pair; a second submission is rejected.
type Answer struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"sessionId"`
	ParticipantID string    `json:"participantId"`
	QuestionID    string    `json:"questionId"`
	OptionID      string    `json:"optionId,omitempty"`
	Text          string    `json:"text,omitempty"`
	Correct       bool      `json:"correct"`
	PointsEarned  int       `json:"pointsEarned"`
	TimeTaken     int       `json:"timeTaken"` // seconds, participant-local
	AnsweredAt    time.Time `json:"answeredAt"`
}

// RankDelta classifies how a rank moved between two leaderboard generations.
type RankDelta string

const (
	DeltaNew  RankDelta = "NEW"
	DeltaUp   RankDelta = "UP"
	DeltaDown RankDelta = "DOWN"
	DeltaSame RankDelta = "SAME"
)

// LeaderboardEntry is a ranked view of one participant.
type LeaderboardEntry struct {
	ParticipantID string    `json:"participantId"`
	Nickname      string    `json:"nickname"`
	Score         int       `json:"score"`
	Rank          int       `json:"rank"` // 1-indexed
	Change        RankDelta `json:"change,omitempty"`
	IsViewer      bool      `json:"isViewer,omitempty"`
}

// Leaderboard captures the ordered scoreboard for a session.
type Leaderboard struct {
	SessionID string             `json:"sessionId"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// DefaultPoints applies the base-points fallback.
func (q Question) DefaultPoints() int {
	if q.Points <= 0 {
		return 100
	}
	return q.Points
}

// LimitOrDefault resolves the question's time limit against the session default.
func (q Question) LimitOrDefault(sessionDefault int) int {
	if q.TimeLimit > 0 {
		return q.TimeLimit
	}
	if sessionDefault > 0 {
		return sessionDefault
	}
	return 30
}
