package app

import (
	"context"
	"log"

	"github.com/google/uuid"
	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/sched"
	"quiz-session-service/internal/scoring"
)

// SubmitAnswer validates, scores and records one answer, then propagates the
// score through the leaderboard and fan-out gateway. The durable insert is an
// atomic check-and-insert, so concurrent duplicates lose cleanly with a
// conflict instead of corrupting the score.
func (s *SessionService) SubmitAnswer(ctx context.Context, sessionID, participantID string, submission domain.AnswerSubmission) (domain.AnswerFeedback, error) {
	session, err := s.deps.Sessions.ByID(ctx, sessionID)
	if err != nil {
		return domain.AnswerFeedback{}, err
	}
	switch session.Status {
	case domain.StatusEnded:
		return domain.AnswerFeedback{}, domain.ErrSessionEnded
	case domain.StatusWaiting, domain.StatusPaused:
		return domain.AnswerFeedback{}, domain.ErrSessionNotRunning
	}

	participant, err := s.deps.Participants.ByID(ctx, participantID)
	if err != nil {
		return domain.AnswerFeedback{}, err
	}
	if participant.SessionID != session.ID || !participant.IsActive {
		return domain.AnswerFeedback{}, domain.ErrParticipantNotFound
	}

	question, limit, number, err := s.openQuestion(ctx, session, participantID, submission.QuestionID)
	if err != nil {
		return domain.AnswerFeedback{}, err
	}

	// Without a start stamp there is nothing sane to compute timeTaken from:
	// the question was never delivered to this participant.
	startedAt, stamped, err := s.deps.State.QuestionStart(ctx, session.ID, participantID, question.ID)
	if err != nil {
		return domain.AnswerFeedback{}, err
	}
	if !stamped {
		return domain.AnswerFeedback{}, domain.ErrQuestionNotDelivered
	}

	if answered, err := s.deps.Answers.Exists(ctx, participantID, question.ID); err != nil {
		return domain.AnswerFeedback{}, err
	} else if answered {
		return domain.AnswerFeedback{}, domain.ErrAlreadyAnswered
	}

	correct, err := scoring.Evaluate(question, submission)
	if err != nil {
		return domain.AnswerFeedback{}, err
	}

	now := s.now()
	timeTaken := int(now.Sub(startedAt).Seconds())
	if timeTaken < 0 {
		timeTaken = 0
	}
	late := timeTaken > limit
	points := s.deps.Scorer.Score(correct, question.DefaultPoints(), timeTaken, limit)

	answer := domain.Answer{
		ID:            uuid.NewString(),
		SessionID:     session.ID,
		ParticipantID: participantID,
		QuestionID:    question.ID,
		OptionID:      submission.OptionID,
		Text:          submission.Text,
		Correct:       correct,
		PointsEarned:  points,
		TimeTaken:     timeTaken,
		AnsweredAt:    now,
	}
	if err := s.deps.Answers.Insert(ctx, &answer); err != nil {
		return domain.AnswerFeedback{}, err
	}

	newTotal := participant.TotalScore + points
	if err := s.deps.Participants.UpdateScore(ctx, participantID, newTotal); err != nil {
		return domain.AnswerFeedback{}, err
	}

	// Leaderboard and fan-out are best-effort from here on: the answer is
	// already durably scored, and the read path reconciles a stale cache.
	rank, delta, err := s.deps.Ranking.UpdateScore(ctx, session.ID, participantID, participant.Nickname, newTotal)
	if err != nil {
		log.Printf("session %s: leaderboard update for %s: %v", session.ID, participantID, err)
	}

	s.deps.Scheduler.Cancel(sched.TaskKey{
		SessionID:     session.ID,
		ParticipantID: participantID,
		QuestionID:    question.ID,
		Kind:          sched.KindQuestionTimeout,
	})

	feedback := domain.AnswerFeedback{
		QuestionID:   question.ID,
		Correct:      correct,
		PointsEarned: points,
		TotalScore:   newTotal,
		TimeTaken:    timeTaken,
		Late:         late,
		Rank:         rank,
		Change:       delta,
	}
	if session.Settings.ShowCorrectAnswers {
		feedback.CorrectOptionID = firstCorrectOption(question)
	}
	s.deps.Gateway.Unicast(session.ID, participantID, domain.Event{Type: domain.EventAnswerFeedback, Payload: feedback})

	if board, err := s.deps.Ranking.Window(ctx, session.ID, leaderboardBroadcastSize, 0, ""); err == nil {
		s.deps.Gateway.Broadcast(session.ID, domain.Event{Type: domain.EventLeaderboard, Payload: board})
	} else {
		log.Printf("session %s: leaderboard broadcast: %v", session.ID, err)
	}

	// Self-paced sessions move on after a short beat so the UI can show
	// feedback first; a late answer still triggers the next question.
	if session.Mode == domain.ModeAsync {
		s.scheduleNextDelivery(session.ID, participantID, question.ID, number+1)
	}
	return feedback, nil
}

// openQuestion checks the submission targets the participant's current
// question. The late-answer grace window closes exactly when the progress
// pointer moves past a question.
func (s *SessionService) openQuestion(ctx context.Context, session domain.Session, participantID, questionID string) (domain.Question, int, int, error) {
	pointer, ok, err := s.deps.State.Progress(ctx, session.ID, participantID)
	if err != nil {
		return domain.Question{}, 0, 0, err
	}
	if !ok || pointer < 1 {
		return domain.Question{}, 0, 0, domain.ErrQuestionNotDelivered
	}
	if pointer > session.TotalQuestions {
		return domain.Question{}, 0, 0, domain.NewError(domain.KindInvalidState, "participant already completed the quiz")
	}
	question, limit, err := s.questionAt(ctx, session, pointer)
	if err != nil {
		return domain.Question{}, 0, 0, err
	}
	if question.ID != questionID {
		return domain.Question{}, 0, 0, domain.NewError(domain.KindInvalidState, "question is no longer open")
	}
	return question, limit, pointer, nil
}

func firstCorrectOption(q domain.Question) string {
	for _, opt := range q.Options {
		if opt.Correct {
			return opt.ID
		}
	}
	return ""
}

// scheduleNextDelivery queues the participant's next ASYNC question. The task
// re-validates status when it fires; while paused it re-arms itself so the
// question arrives after resume.
func (s *SessionService) scheduleNextDelivery(sessionID, participantID, questionID string, nextNumber int) {
	key := sched.TaskKey{
		SessionID:     sessionID,
		ParticipantID: participantID,
		QuestionID:    questionID,
		Kind:          sched.KindNextQuestion,
	}
	s.deps.Scheduler.Schedule(key, s.cfg.FeedbackDelay, func() {
		ctx := context.Background()
		session, err := s.deps.Sessions.ByID(ctx, sessionID)
		if err != nil || session.Status == domain.StatusEnded {
			return
		}
		if session.Status == domain.StatusPaused {
			s.scheduleNextDelivery(sessionID, participantID, questionID, nextNumber)
			return
		}
		participant, err := s.deps.Participants.ByID(ctx, participantID)
		if err != nil || !participant.IsActive {
			return
		}
		if err := s.sendNextQuestionToParticipant(ctx, session, participant, nextNumber); err != nil {
			log.Printf("session %s: next question for %s: %v", sessionID, participantID, err)
		}
	})
}

// UpdateAnswer is the explicit correction path: it re-evaluates an existing
// answer and reconciles the participant's total and the leaderboard. Normal
// submissions can never overwrite; only this operation may.
func (s *SessionService) UpdateAnswer(ctx context.Context, sessionID, participantID string, submission domain.AnswerSubmission) (domain.Answer, error) {
	session, err := s.deps.Sessions.ByID(ctx, sessionID)
	if err != nil {
		return domain.Answer{}, err
	}
	participant, err := s.deps.Participants.ByID(ctx, participantID)
	if err != nil {
		return domain.Answer{}, err
	}
	if participant.SessionID != session.ID {
		return domain.Answer{}, domain.ErrParticipantNotFound
	}

	answer, err := s.deps.Answers.ByParticipantAndQuestion(ctx, participantID, submission.QuestionID)
	if err != nil {
		return domain.Answer{}, err
	}
	question, err := s.questionByID(ctx, session.QuizID, submission.QuestionID)
	if err != nil {
		return domain.Answer{}, err
	}

	correct, err := scoring.Evaluate(question, submission)
	if err != nil {
		return domain.Answer{}, err
	}
	limit := question.LimitOrDefault(session.Settings.QuestionTimeLimit)
	points := s.deps.Scorer.Score(correct, question.DefaultPoints(), answer.TimeTaken, limit)

	previousPoints := answer.PointsEarned
	answer.OptionID = submission.OptionID
	answer.Text = submission.Text
	answer.Correct = correct
	answer.PointsEarned = points
	if err := s.deps.Answers.Update(ctx, &answer); err != nil {
		return domain.Answer{}, err
	}

	newTotal := participant.TotalScore - previousPoints + points
	if err := s.deps.Participants.UpdateScore(ctx, participantID, newTotal); err != nil {
		return domain.Answer{}, err
	}
	if _, _, err := s.deps.Ranking.UpdateScore(ctx, session.ID, participantID, participant.Nickname, newTotal); err != nil {
		log.Printf("session %s: leaderboard reconcile for %s: %v", session.ID, participantID, err)
	}
	return answer, nil
}

// SessionTimer reports the remaining time on the viewer's current question.
func (s *SessionService) SessionTimer(ctx context.Context, sessionID, participantID string) (domain.SessionTimer, error) {
	session, err := s.deps.Sessions.ByID(ctx, sessionID)
	if err != nil {
		return domain.SessionTimer{}, err
	}
	pointer, ok, err := s.deps.State.Progress(ctx, sessionID, participantID)
	if err != nil {
		return domain.SessionTimer{}, err
	}
	if !ok || pointer < 1 || pointer > session.TotalQuestions {
		return domain.SessionTimer{}, domain.NewError(domain.KindNotFound, "no question in flight for participant")
	}
	question, limit, err := s.questionAt(ctx, session, pointer)
	if err != nil {
		return domain.SessionTimer{}, err
	}
	startedAt, stamped, err := s.deps.State.QuestionStart(ctx, sessionID, participantID, question.ID)
	if err != nil {
		return domain.SessionTimer{}, err
	}
	if !stamped {
		return domain.SessionTimer{}, domain.NewError(domain.KindNotFound, "no start stamp for current question")
	}

	remaining := limit - int(s.now().Sub(startedAt).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	return domain.SessionTimer{
		QuestionID: question.ID,
		Number:     pointer,
		TimeLimit:  limit,
		Remaining:  remaining,
		StartedAt:  startedAt,
	}, nil
}

// GetLeaderboard returns a ranked window for a session.
func (s *SessionService) GetLeaderboard(ctx context.Context, sessionID string, limit, offset int, viewerID string) (domain.Leaderboard, error) {
	return s.deps.Ranking.Window(ctx, sessionID, limit, offset, viewerID)
}

// GetPodium returns the top three.
func (s *SessionService) GetPodium(ctx context.Context, sessionID string) (domain.Leaderboard, error) {
	return s.deps.Ranking.Podium(ctx, sessionID)
}

// GetRankAround returns a window centered on one participant.
func (s *SessionService) GetRankAround(ctx context.Context, sessionID, participantID string, span int) (domain.Leaderboard, error) {
	return s.deps.Ranking.RankAround(ctx, sessionID, participantID, span)
}
