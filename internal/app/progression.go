package app

import (
	"context"
	"log"
	"time"

	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/sched"
)

// AdvanceQuestion moves a SYNC session to its next question and broadcasts
// it. Only the host may advance. When the pointer moves past the last
// question the session ends instead, broadcasting the final podium.
//
// The global pointer is the 1-indexed number of the question currently on
// display; 0 means the session started but no question has been revealed yet.
func (s *SessionService) AdvanceQuestion(ctx context.Context, sessionID, callerID string) (domain.Session, error) {
	lock := s.controlLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.deps.Sessions.ByID(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if session.HostID != callerID {
		return domain.Session{}, domain.NewError(domain.KindInvalidState, "only the host can advance the session")
	}
	if session.Mode != domain.ModeSync {
		return domain.Session{}, domain.ErrNotSyncMode
	}
	switch session.Status {
	case domain.StatusEnded:
		return domain.Session{}, domain.ErrSessionEnded
	case domain.StatusWaiting, domain.StatusPaused:
		return domain.Session{}, domain.ErrSessionNotRunning
	}

	next := session.CurrentQuestion + 1
	if next > session.TotalQuestions {
		return s.endLocked(ctx, sessionID)
	}

	// Obsolete the previous question's timeout tasks before moving on.
	if session.CurrentQuestion >= 1 {
		s.cancelQuestionTimeouts(ctx, session, session.CurrentQuestion)
	}

	session.CurrentQuestion = next
	if err := s.deps.Sessions.Update(ctx, &session); err != nil {
		return domain.Session{}, err
	}

	question, limit, err := s.questionAt(ctx, session, next)
	if err != nil {
		return domain.Session{}, err
	}

	view := domain.ViewOf(question, next, session.TotalQuestions, limit)
	s.deps.Gateway.Broadcast(session.ID, domain.Event{Type: domain.EventQuestion, Payload: view})

	// The question reached everyone in one broadcast, but elapsed-time
	// bookkeeping and timeouts are per participant.
	participants, err := s.deps.Participants.ActiveBySession(ctx, session.ID)
	if err != nil {
		return domain.Session{}, err
	}
	now := s.now()
	for _, p := range participants {
		if err := s.deps.State.SetProgress(ctx, session.ID, p.ID, next); err != nil {
			log.Printf("session %s: progress write for %s: %v", session.ID, p.ID, err)
			continue
		}
		if err := s.deps.State.MarkQuestionStart(ctx, session.ID, p.ID, question.ID, now); err != nil {
			log.Printf("session %s: start stamp for %s: %v", session.ID, p.ID, err)
			continue
		}
		s.scheduleTimeout(session.ID, p.ID, question.ID, next, limit)
	}
	return session, nil
}

// sendNextQuestionToParticipant is the ASYNC progression primitive, invoked
// on start, on late join, and after each scored answer. number is 1-indexed;
// past the end of the order it marks the participant completed and checks
// whether the whole session is done.
func (s *SessionService) sendNextQuestionToParticipant(ctx context.Context, session domain.Session, participant domain.Participant, number int) error {
	if number > session.TotalQuestions {
		if err := s.deps.State.SetProgress(ctx, session.ID, participant.ID, session.TotalQuestions+1); err != nil {
			return err
		}
		s.deps.Gateway.Unicast(session.ID, participant.ID, domain.Event{Type: domain.EventCompleted, Payload: map[string]int{
			"answered": session.TotalQuestions,
		}})
		s.scheduleCompletionCheck(session.ID)
		return nil
	}

	question, limit, err := s.questionAt(ctx, session, number)
	if err != nil {
		return err
	}

	if err := s.deps.State.SetProgress(ctx, session.ID, participant.ID, number); err != nil {
		return err
	}
	if err := s.deps.State.MarkQuestionStart(ctx, session.ID, participant.ID, question.ID, s.now()); err != nil {
		return err
	}

	view := domain.ViewOf(question, number, session.TotalQuestions, limit)
	s.deps.Gateway.Unicast(session.ID, participant.ID, domain.Event{Type: domain.EventQuestion, Payload: view})

	s.scheduleTimeout(session.ID, participant.ID, question.ID, number, limit)
	return nil
}

// deliverCurrentToParticipant drops a SYNC late joiner onto the question the
// session is currently showing.
func (s *SessionService) deliverCurrentToParticipant(ctx context.Context, session domain.Session, participant domain.Participant) error {
	number := session.CurrentQuestion
	question, limit, err := s.questionAt(ctx, session, number)
	if err != nil {
		return err
	}
	if err := s.deps.State.SetProgress(ctx, session.ID, participant.ID, number); err != nil {
		return err
	}
	if err := s.deps.State.MarkQuestionStart(ctx, session.ID, participant.ID, question.ID, s.now()); err != nil {
		return err
	}
	view := domain.ViewOf(question, number, session.TotalQuestions, limit)
	s.deps.Gateway.Unicast(session.ID, participant.ID, domain.Event{Type: domain.EventQuestion, Payload: view})
	s.scheduleTimeout(session.ID, participant.ID, question.ID, number, limit)
	return nil
}

// questionAt resolves the 1-indexed question number through the cached order.
func (s *SessionService) questionAt(ctx context.Context, session domain.Session, number int) (domain.Question, int, error) {
	order, err := s.deps.State.QuestionOrder(ctx, session.ID)
	if err != nil {
		return domain.Question{}, 0, err
	}
	if len(order) == 0 {
		// Ephemeral state lost; rebuild the snapshot from quiz content.
		quiz, err := s.deps.Quizzes.GetQuiz(ctx, session.QuizID)
		if err != nil {
			return domain.Question{}, 0, err
		}
		order = make([]string, len(quiz.Questions))
		for i, q := range quiz.Questions {
			order[i] = q.ID
		}
		if err := s.deps.State.CacheQuestionOrder(ctx, session.ID, order); err != nil {
			log.Printf("session %s: question order rebuild: %v", session.ID, err)
		}
	}
	if number < 1 || number > len(order) {
		return domain.Question{}, 0, domain.ErrQuestionNotFound
	}

	question, err := s.questionByID(ctx, session.QuizID, order[number-1])
	if err != nil {
		return domain.Question{}, 0, err
	}
	return question, question.LimitOrDefault(session.Settings.QuestionTimeLimit), nil
}

func (s *SessionService) questionByID(ctx context.Context, quizID, questionID string) (domain.Question, error) {
	quiz, err := s.deps.Quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Question{}, err
	}
	for i := range quiz.Questions {
		if quiz.Questions[i].ID == questionID {
			return quiz.Questions[i], nil
		}
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}

// scheduleTimeout registers the per-participant timeout notice for a
// delivered question. Policy is notify-only: no blank answer is auto
// submitted and nobody is force-advanced, so a participant can still answer
// late for base points until their pointer moves on.
func (s *SessionService) scheduleTimeout(sessionID, participantID, questionID string, number, limitSec int) {
	delay := time.Duration(limitSec)*time.Second + s.cfg.NetworkBuffer
	key := sched.TaskKey{
		SessionID:     sessionID,
		ParticipantID: participantID,
		QuestionID:    questionID,
		Kind:          sched.KindQuestionTimeout,
	}
	s.deps.Scheduler.Schedule(key, delay, func() {
		s.questionTimedOut(sessionID, participantID, questionID, number)
	})
}

// questionTimedOut fires when a question's time (plus network buffer)
// elapses. Cancellation is best-effort, so everything is re-validated: the
// session may have ended or paused, and the participant may have answered.
func (s *SessionService) questionTimedOut(sessionID, participantID, questionID string, number int) {
	ctx := context.Background()

	session, err := s.deps.Sessions.ByID(ctx, sessionID)
	if err != nil || session.Status != domain.StatusInProgress {
		return
	}
	answered, err := s.deps.Answers.Exists(ctx, participantID, questionID)
	if err != nil {
		log.Printf("session %s: timeout answer check: %v", sessionID, err)
		return
	}
	if answered {
		return // participant beat the clock
	}

	s.deps.Gateway.Unicast(sessionID, participantID, domain.Event{
		Type:    domain.EventTimeUp,
		Payload: domain.TimeUpNotice{QuestionID: questionID, Number: number},
	})
}

func (s *SessionService) cancelQuestionTimeouts(ctx context.Context, session domain.Session, number int) {
	question, _, err := s.questionAt(ctx, session, number)
	if err != nil {
		return
	}
	participants, err := s.deps.Participants.ActiveBySession(ctx, session.ID)
	if err != nil {
		return
	}
	for _, p := range participants {
		s.deps.Scheduler.Cancel(sched.TaskKey{
			SessionID:     session.ID,
			ParticipantID: p.ID,
			QuestionID:    question.ID,
			Kind:          sched.KindQuestionTimeout,
		})
	}
}

// scheduleCompletionCheck defers the all-completed check so the completion
// message reaches the participant before a potential session-end broadcast.
func (s *SessionService) scheduleCompletionCheck(sessionID string) {
	key := sched.TaskKey{SessionID: sessionID, Kind: sched.KindCompletionCheck}
	s.deps.Scheduler.Schedule(key, s.cfg.CompletionCheckDelay, func() {
		s.checkAllCompleted(sessionID)
	})
}

// checkAllCompleted auto-ends an ASYNC session once every active participant
// has moved past the last question.
func (s *SessionService) checkAllCompleted(sessionID string) {
	ctx := context.Background()

	session, err := s.deps.Sessions.ByID(ctx, sessionID)
	if err != nil || session.Status != domain.StatusInProgress || session.Mode != domain.ModeAsync {
		return
	}
	participants, err := s.deps.Participants.ActiveBySession(ctx, sessionID)
	if err != nil {
		log.Printf("session %s: completion check: %v", sessionID, err)
		return
	}
	if len(participants) == 0 {
		return
	}
	for _, p := range participants {
		pointer, ok, err := s.deps.State.Progress(ctx, sessionID, p.ID)
		if err != nil || !ok || pointer <= session.TotalQuestions {
			return
		}
	}
	if _, err := s.EndSession(ctx, sessionID); err != nil {
		log.Printf("session %s: auto end: %v", sessionID, err)
	}
}
