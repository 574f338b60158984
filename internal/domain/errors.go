package domain

import "errors"

// Kind classifies an error so transports can map it without string matching.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNotFound covers unresolvable sessions, participants, questions and options.
	KindNotFound
	// KindConflict covers duplicate nicknames, duplicate answers and double starts.
	KindConflict
	// KindInvalidState covers actions not permitted in the current status or mode.
	KindInvalidState
	// KindValidation covers malformed input such as a scheduled time in the past.
	KindValidation
)

// Error is the service error type; all sentinels below are *Error values.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// NewError builds a classified error for ad-hoc validation messages.
func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// KindOf extracts the classification from an error chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

var (
	// ErrSessionNotFound is returned when no live or stored session matches.
	ErrSessionNotFound = NewError(KindNotFound, "session not found")
	// ErrParticipantNotFound is returned when a user acts before joining.
	ErrParticipantNotFound = NewError(KindNotFound, "participant not found in session")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = NewError(KindNotFound, "quiz not found")
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = NewError(KindNotFound, "question not found")
	// ErrOptionNotFound indicates a submitted option ID is invalid.
	ErrOptionNotFound = NewError(KindNotFound, "option not found")

	// ErrNicknameTaken enforces nickname uniqueness within a session.
	ErrNicknameTaken = NewError(KindConflict, "nickname already taken in this session")
	// ErrAlreadyAnswered rejects a second submission for the same question.
	ErrAlreadyAnswered = NewError(KindConflict, "question already answered")
	// ErrAlreadyStarted rejects starting a session that is not waiting.
	ErrAlreadyStarted = NewError(KindConflict, "session already started")
	// ErrSessionFull rejects joins beyond the participant cap.
	ErrSessionFull = NewError(KindConflict, "session is full")

	// ErrSessionEnded rejects mutations on a terminal session.
	ErrSessionEnded = NewError(KindInvalidState, "session has ended")
	// ErrSessionNotRunning rejects gameplay while the session is not in progress.
	ErrSessionNotRunning = NewError(KindInvalidState, "session is not in progress")
	// ErrLateJoinDisabled rejects joins after start when the host disallowed them.
	ErrLateJoinDisabled = NewError(KindInvalidState, "late join is not allowed")
	// ErrNotSyncMode rejects host advancement in self-paced sessions.
	ErrNotSyncMode = NewError(KindInvalidState, "advance is only valid in sync mode")
	// ErrQuestionNotDelivered rejects answers to a question the participant never received.
	ErrQuestionNotDelivered = NewError(KindInvalidState, "question was not delivered to participant")
)
