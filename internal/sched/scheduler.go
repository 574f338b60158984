// Package sched provides a delayed-task scheduler with cancel-by-key
// semantics. Tasks are keyed by (session, participant, question, kind) so a
// host advance or session end can cancel exactly the timers it obsoletes.
// Cancellation is best-effort: callers must re-validate state when a task
// fires, since a task may already be running when its key is cancelled.
package sched

import (
	"sync"
	"time"
)

// TaskKind distinguishes coexisting timers for the same question.
type TaskKind string

const (
	KindQuestionTimeout TaskKind = "questionTimeout"
	KindNextQuestion    TaskKind = "nextQuestion"
	KindScheduledStart  TaskKind = "scheduledStart"
	KindScheduledEnd    TaskKind = "scheduledEnd"
	KindCompletionCheck TaskKind = "completionCheck"
)

// TaskKey identifies one pending task. ParticipantID and QuestionID are empty
// for session-level tasks.
type TaskKey struct {
	SessionID     string
	ParticipantID string
	QuestionID    string
	Kind          TaskKind
}

// Scheduler runs functions after a delay and supports cancellation by key or
// by session.
type Scheduler interface {
	Schedule(key TaskKey, delay time.Duration, fn func())
	Cancel(key TaskKey)
	CancelSession(sessionID string)
}

// TimerScheduler is the production implementation backed by time.AfterFunc.
type TimerScheduler struct {
	mu      sync.Mutex
	pending map[TaskKey]*time.Timer
}

func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{pending: make(map[TaskKey]*time.Timer)}
}

// Schedule registers fn to run after delay. Re-scheduling an existing key
// replaces the pending task.
func (s *TimerScheduler) Schedule(key TaskKey, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.pending[key]; ok {
		timer.Stop()
	}
	s.pending[key] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.pending, key)
		s.mu.Unlock()
		fn()
	})
}

// Cancel stops the pending task for key if it has not fired yet.
func (s *TimerScheduler) Cancel(key TaskKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.pending[key]; ok {
		timer.Stop()
		delete(s.pending, key)
	}
}

// CancelSession stops every pending task belonging to a session.
func (s *TimerScheduler) CancelSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, timer := range s.pending {
		if key.SessionID == sessionID {
			timer.Stop()
			delete(s.pending, key)
		}
	}
}

// PendingCount reports the number of unfired tasks; used by tests.
func (s *TimerScheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
