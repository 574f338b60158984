// Package app contains the session orchestration engine: lifecycle
// transitions, the two question-progression protocols, answer scoring and
// leaderboard propagation.
package app

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/sched"
	"quiz-session-service/internal/scoring"
)

// joinCodeAlphabet omits characters that read ambiguously on a projector.
const joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const leaderboardBroadcastSize = 10

// Config tunes the pacing and retention knobs of the engine.
type Config struct {
	// NetworkBuffer is added to a question's time limit before the timeout
	// notice fires, tolerating client/network jitter.
	NetworkBuffer time.Duration
	// FeedbackDelay is how long an ASYNC participant sees their answer
	// feedback before the next question is pushed.
	FeedbackDelay time.Duration
	// CompletionCheckDelay defers the all-participants-completed check so the
	// completion message lands first.
	CompletionCheckDelay time.Duration
	// LeaderboardHistoryTTL is how long the frozen leaderboard of an ended
	// session is retained.
	LeaderboardHistoryTTL time.Duration
	JoinCodeLength        int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		NetworkBuffer:         3 * time.Second,
		FeedbackDelay:         2 * time.Second,
		CompletionCheckDelay:  500 * time.Millisecond,
		LeaderboardHistoryTTL: 24 * time.Hour,
		JoinCodeLength:        6,
	}
}

// Deps are the collaborators of the session engine.
type Deps struct {
	Sessions     SessionRepository
	Participants ParticipantRepository
	Answers      AnswerRepository
	Quizzes      QuizRepository
	State        StateStore
	Ranking      RankingService
	Gateway      Gateway
	Scheduler    Scheduler
	Scorer       *scoring.Engine
}

// SessionService is the session state machine. Control operations (start,
// advance, pause, end) serialize on a per-session mutex; answer submissions
// within a session run in parallel.
type SessionService struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	rndMu sync.Mutex
	rnd   *rand.Rand

	ctlMu sync.Mutex
	ctl   map[string]*sync.Mutex
}

func NewSessionService(cfg Config, deps Deps) *SessionService {
	if cfg.JoinCodeLength <= 0 {
		cfg.JoinCodeLength = 6
	}
	return &SessionService{
		cfg:  cfg,
		deps: deps,
		now:  time.Now,
		rnd:  rand.New(rand.NewSource(time.Now().UnixNano())),
		ctl:  make(map[string]*sync.Mutex),
	}
}

// WithClock is test-only for deterministic timestamps.
func (s *SessionService) WithClock(now func() time.Time) *SessionService {
	s.now = now
	return s
}

// controlLock serializes session-level transitions for one session.
func (s *SessionService) controlLock(sessionID string) *sync.Mutex {
	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()
	lock, ok := s.ctl[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.ctl[sessionID] = lock
	}
	return lock
}

// CreateSession validates the quiz, snapshots its question order into the
// state store, seeds the leaderboard and opens the lobby.
func (s *SessionService) CreateSession(ctx context.Context, quizID, hostID string, mode domain.SessionMode, settings domain.SessionSettings) (domain.Session, error) {
	if mode != domain.ModeSync && mode != domain.ModeAsync {
		return domain.Session{}, domain.NewError(domain.KindValidation, "unknown session mode: "+string(mode))
	}
	if err := validateSchedule(settings, s.now()); err != nil {
		return domain.Session{}, err
	}

	quiz, err := s.deps.Quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Session{}, err
	}
	if len(quiz.Questions) == 0 {
		return domain.Session{}, domain.NewError(domain.KindValidation, "quiz has no questions")
	}

	code, err := s.generateJoinCode(ctx)
	if err != nil {
		return domain.Session{}, err
	}

	session := domain.Session{
		ID:             uuid.NewString(),
		Code:           code,
		QuizID:         quizID,
		HostID:         hostID,
		Status:         domain.StatusWaiting,
		Mode:           mode,
		TotalQuestions: len(quiz.Questions),
		Settings:       settings,
		CreatedAt:      s.now(),
	}

	order := make([]string, len(quiz.Questions))
	for i, q := range quiz.Questions {
		order[i] = q.ID
	}
	if settings.ShuffleQuestions {
		s.rndMu.Lock()
		s.rnd.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		s.rndMu.Unlock()
	}
	if err := s.deps.State.CacheQuestionOrder(ctx, session.ID, order); err != nil {
		return domain.Session{}, err
	}
	if err := s.deps.State.SetLive(ctx, session.ID); err != nil {
		log.Printf("session %s: liveness marker failed: %v", session.ID, err)
	}

	if err := s.deps.Sessions.Save(ctx, &session); err != nil {
		return domain.Session{}, err
	}

	s.deps.Gateway.Broadcast(session.ID, domain.Event{Type: domain.EventLobbyOpen, Payload: session})
	return session, nil
}

func validateSchedule(settings domain.SessionSettings, now time.Time) error {
	if settings.ScheduledStart != nil && settings.ScheduledStart.Before(now) {
		return domain.NewError(domain.KindValidation, "scheduled start is in the past")
	}
	if settings.ScheduledEnd != nil {
		if settings.ScheduledEnd.Before(now) {
			return domain.NewError(domain.KindValidation, "scheduled end is in the past")
		}
		if settings.ScheduledStart != nil && settings.ScheduledEnd.Before(*settings.ScheduledStart) {
			return domain.NewError(domain.KindValidation, "scheduled end is before scheduled start")
		}
	}
	return nil
}

func (s *SessionService) generateJoinCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		buf := make([]byte, s.cfg.JoinCodeLength)
		s.rndMu.Lock()
		for i := range buf {
			buf[i] = joinCodeAlphabet[s.rnd.Intn(len(joinCodeAlphabet))]
		}
		s.rndMu.Unlock()
		code := string(buf)

		inUse, err := s.deps.Sessions.CodeInUse(ctx, code)
		if err != nil {
			return "", err
		}
		if !inUse {
			return code, nil
		}
	}
	return "", domain.NewError(domain.KindConflict, "could not allocate a unique join code")
}

// StartSession moves a waiting session to IN_PROGRESS, or defers the
// transition when a scheduled start lies in the future.
func (s *SessionService) StartSession(ctx context.Context, sessionID string) (domain.Session, error) {
	lock := s.controlLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.deps.Sessions.ByID(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	switch session.Status {
	case domain.StatusEnded:
		return domain.Session{}, domain.ErrSessionEnded
	case domain.StatusInProgress, domain.StatusPaused:
		return domain.Session{}, domain.ErrAlreadyStarted
	}

	if at := session.Settings.ScheduledStart; at != nil && at.After(s.now()) {
		s.deps.Scheduler.Schedule(
			sched.TaskKey{SessionID: sessionID, Kind: sched.KindScheduledStart},
			at.Sub(s.now()),
			func() { s.startScheduled(sessionID) },
		)
		return session, nil
	}

	return s.startLocked(ctx, session)
}

// StartSessionWithSettings applies setting overrides before starting; used
// when the host finalizes pacing options from the lobby.
func (s *SessionService) StartSessionWithSettings(ctx context.Context, sessionID string, settings domain.SessionSettings) (domain.Session, error) {
	lock := s.controlLock(sessionID)
	lock.Lock()
	session, err := s.deps.Sessions.ByID(ctx, sessionID)
	if err != nil {
		lock.Unlock()
		return domain.Session{}, err
	}
	if session.Status != domain.StatusWaiting {
		lock.Unlock()
		if session.Status == domain.StatusEnded {
			return domain.Session{}, domain.ErrSessionEnded
		}
		return domain.Session{}, domain.ErrAlreadyStarted
	}
	if err := validateSchedule(settings, s.now()); err != nil {
		lock.Unlock()
		return domain.Session{}, err
	}
	session.Settings = settings
	if err := s.deps.Sessions.Update(ctx, &session); err != nil {
		lock.Unlock()
		return domain.Session{}, err
	}
	lock.Unlock()

	return s.StartSession(ctx, sessionID)
}

// startScheduled is the deferred start task. The session may have been
// cancelled or started manually while the delay elapsed, so it re-validates
// under the control lock before acting.
func (s *SessionService) startScheduled(sessionID string) {
	ctx := context.Background()
	lock := s.controlLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.deps.Sessions.ByID(ctx, sessionID)
	if err != nil {
		log.Printf("scheduled start: session %s: %v", sessionID, err)
		return
	}
	if session.Status != domain.StatusWaiting {
		return
	}
	if _, err := s.startLocked(ctx, session); err != nil {
		log.Printf("scheduled start: session %s: %v", sessionID, err)
	}
}

// startLocked performs the actual WAITING -> IN_PROGRESS transition. In SYNC
// mode the global pointer resets and the host's first advance reveals
// question 1; in ASYNC mode every active participant is pushed question 1
// immediately.
func (s *SessionService) startLocked(ctx context.Context, session domain.Session) (domain.Session, error) {
	now := s.now()
	session.Status = domain.StatusInProgress
	session.StartedAt = &now
	session.CurrentQuestion = 0
	if err := s.deps.Sessions.Update(ctx, &session); err != nil {
		return domain.Session{}, err
	}

	s.deps.Gateway.Broadcast(session.ID, domain.Event{Type: domain.EventSessionStarted, Payload: session})

	if session.Mode == domain.ModeAsync {
		participants, err := s.deps.Participants.ActiveBySession(ctx, session.ID)
		if err != nil {
			return domain.Session{}, err
		}
		g, gctx := errgroup.WithContext(ctx)
		for _, p := range participants {
			participant := p
			g.Go(func() error {
				return s.sendNextQuestionToParticipant(gctx, session, participant, 1)
			})
		}
		if err := g.Wait(); err != nil {
			log.Printf("session %s: first question delivery: %v", session.ID, err)
		}
	}

	if at := session.Settings.ScheduledEnd; at != nil && at.After(now) {
		s.deps.Scheduler.Schedule(
			sched.TaskKey{SessionID: session.ID, Kind: sched.KindScheduledEnd},
			at.Sub(now),
			func() { s.endScheduled(session.ID) },
		)
	}
	return session, nil
}

// PauseSession suspends gameplay. Timers keep running but their handlers
// check status before acting.
func (s *SessionService) PauseSession(ctx context.Context, sessionID string) (domain.Session, error) {
	lock := s.controlLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.deps.Sessions.ByID(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	switch session.Status {
	case domain.StatusPaused:
		return session, nil // idempotent
	case domain.StatusEnded:
		return domain.Session{}, domain.ErrSessionEnded
	case domain.StatusWaiting:
		return domain.Session{}, domain.ErrSessionNotRunning
	}

	session.Status = domain.StatusPaused
	if err := s.deps.Sessions.Update(ctx, &session); err != nil {
		return domain.Session{}, err
	}
	s.deps.Gateway.Broadcast(session.ID, domain.Event{Type: domain.EventSessionPaused, Payload: session})
	return session, nil
}

// ResumeSession reverses a pause.
func (s *SessionService) ResumeSession(ctx context.Context, sessionID string) (domain.Session, error) {
	lock := s.controlLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.deps.Sessions.ByID(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	switch session.Status {
	case domain.StatusInProgress:
		return session, nil // idempotent
	case domain.StatusEnded:
		return domain.Session{}, domain.ErrSessionEnded
	case domain.StatusWaiting:
		return domain.Session{}, domain.ErrSessionNotRunning
	}

	session.Status = domain.StatusInProgress
	if err := s.deps.Sessions.Update(ctx, &session); err != nil {
		return domain.Session{}, err
	}
	s.deps.Gateway.Broadcast(session.ID, domain.Event{Type: domain.EventSessionResumed, Payload: session})
	return session, nil
}

// EndSession is the terminal transition. Calling it on an already-ended
// session is a no-op. Ephemeral keys are purged; durable rows never are.
func (s *SessionService) EndSession(ctx context.Context, sessionID string) (domain.Session, error) {
	lock := s.controlLock(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return s.endLocked(ctx, sessionID)
}

func (s *SessionService) endLocked(ctx context.Context, sessionID string) (domain.Session, error) {
	session, err := s.deps.Sessions.ByID(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if session.Status == domain.StatusEnded {
		return session, nil
	}

	now := s.now()
	session.Status = domain.StatusEnded
	session.EndedAt = &now
	if err := s.deps.Sessions.Update(ctx, &session); err != nil {
		return domain.Session{}, err
	}

	s.deps.Scheduler.CancelSession(sessionID)

	if err := s.deps.Ranking.Freeze(ctx, sessionID, s.cfg.LeaderboardHistoryTTL); err != nil {
		log.Printf("session %s: leaderboard freeze: %v", sessionID, err)
	}

	podium, err := s.deps.Ranking.Podium(ctx, sessionID)
	if err != nil {
		log.Printf("session %s: podium read: %v", sessionID, err)
	}
	s.deps.Gateway.Broadcast(sessionID, domain.Event{Type: domain.EventSessionEnded, Payload: session})
	s.deps.Gateway.Broadcast(sessionID, domain.Event{Type: domain.EventPodium, Payload: podium})

	if err := s.deps.State.Purge(ctx, sessionID); err != nil {
		log.Printf("session %s: state purge: %v", sessionID, err)
	}

	// Terminal state: drop the per-session bookkeeping. The frozen
	// leaderboard stays in the score store under its history TTL; a late
	// caller gets a fresh mutex and the ENDED status check.
	s.deps.Ranking.Release(sessionID)
	s.ctlMu.Lock()
	delete(s.ctl, sessionID)
	s.ctlMu.Unlock()
	return session, nil
}

// endScheduled is the deferred end task; a manual end or re-scheduling can
// race it, so it re-checks that the session is still running.
func (s *SessionService) endScheduled(sessionID string) {
	ctx := context.Background()
	lock := s.controlLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.deps.Sessions.ByID(ctx, sessionID)
	if err != nil {
		log.Printf("scheduled end: session %s: %v", sessionID, err)
		return
	}
	if session.Status != domain.StatusInProgress && session.Status != domain.StatusPaused {
		return
	}
	if _, err := s.endLocked(ctx, sessionID); err != nil {
		log.Printf("scheduled end: session %s: %v", sessionID, err)
	}
}

// JoinSession registers a participant by join code. Nickname uniqueness is
// enforced per session; joining after start requires the allow-late-join flag.
func (s *SessionService) JoinSession(ctx context.Context, code, userID, nickname, avatarURL string) (domain.Session, domain.Participant, error) {
	session, err := s.deps.Sessions.ByCode(ctx, code)
	if err != nil {
		return domain.Session{}, domain.Participant{}, err
	}
	if session.Status != domain.StatusWaiting && !session.Settings.AllowLateJoin {
		return domain.Session{}, domain.Participant{}, domain.ErrLateJoinDisabled
	}
	// A duplicate nickname beats a full session: the would-be joiner is told
	// about the name clash even when no seat is left.
	taken, err := s.deps.Participants.NicknameTaken(ctx, session.ID, nickname)
	if err != nil {
		return domain.Session{}, domain.Participant{}, err
	}
	if taken {
		return domain.Session{}, domain.Participant{}, domain.ErrNicknameTaken
	}
	if max := session.Settings.MaxParticipants; max > 0 && session.TotalParticipants >= max {
		return domain.Session{}, domain.Participant{}, domain.ErrSessionFull
	}

	participant := domain.Participant{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		UserID:      userID,
		Nickname:    nickname,
		AvatarURL:   avatarURL,
		IsActive:    true,
		IsConnected: true,
		JoinedAt:    s.now(),
	}

	// Reserve the seat first: the conditional increment is the authoritative
	// capacity gate under concurrent joins, the check above only shapes the
	// error for the common sequential path.
	if err := s.deps.Sessions.IncrementParticipants(ctx, session.ID, 1, session.Settings.MaxParticipants); err != nil {
		return domain.Session{}, domain.Participant{}, err
	}
	if err := s.deps.Participants.Save(ctx, &participant); err != nil {
		// Usually a nickname collision that slipped past the pre-check; the
		// seat goes back either way.
		if rbErr := s.deps.Sessions.IncrementParticipants(ctx, session.ID, -1, 0); rbErr != nil {
			log.Printf("session %s: seat release after failed join: %v", session.ID, rbErr)
		}
		return domain.Session{}, domain.Participant{}, err
	}
	session.TotalParticipants++

	if _, _, err := s.deps.Ranking.UpdateScore(ctx, session.ID, participant.ID, participant.Nickname, 0); err != nil {
		log.Printf("session %s: leaderboard seed for %s: %v", session.ID, participant.ID, err)
	}

	s.deps.Gateway.Broadcast(session.ID, domain.Event{Type: domain.EventParticipantJoined, Payload: participant})

	// Late joiners enter the flow immediately: self-paced sessions start them
	// at question 1, host-paced sessions drop them on the current question.
	if session.Status == domain.StatusInProgress {
		switch session.Mode {
		case domain.ModeAsync:
			if err := s.sendNextQuestionToParticipant(ctx, session, participant, 1); err != nil {
				log.Printf("session %s: late-join delivery for %s: %v", session.ID, participant.ID, err)
			}
		case domain.ModeSync:
			if session.CurrentQuestion >= 1 {
				if err := s.deliverCurrentToParticipant(ctx, session, participant); err != nil {
					log.Printf("session %s: late-join delivery for %s: %v", session.ID, participant.ID, err)
				}
			}
		}
	}
	return session, participant, nil
}

// LeaveSession soft-deactivates a participant; answers stay attributable so
// rows are never deleted mid-session.
func (s *SessionService) LeaveSession(ctx context.Context, sessionID, participantID string) error {
	session, err := s.deps.Sessions.ByID(ctx, sessionID)
	if err != nil {
		return err
	}
	participant, err := s.deps.Participants.ByID(ctx, participantID)
	if err != nil {
		return err
	}
	if participant.SessionID != session.ID {
		return domain.ErrParticipantNotFound
	}

	if err := s.deps.Participants.SetActive(ctx, participantID, false); err != nil {
		return err
	}
	if err := s.deps.Participants.SetConnected(ctx, participantID, false); err != nil {
		return err
	}

	if err := s.deps.Sessions.IncrementParticipants(ctx, session.ID, -1, 0); err != nil {
		return err
	}

	s.deps.Gateway.Broadcast(session.ID, domain.Event{Type: domain.EventParticipantLeft, Payload: participant})

	// A departure can leave everyone else already finished.
	if session.Mode == domain.ModeAsync && session.Status == domain.StatusInProgress {
		s.scheduleCompletionCheck(session.ID)
	}
	return nil
}

// SetConnected flips the websocket liveness flag without leaving the session.
func (s *SessionService) SetConnected(ctx context.Context, participantID string, connected bool) error {
	return s.deps.Participants.SetConnected(ctx, participantID, connected)
}

// SessionByCode resolves a live session for transports.
func (s *SessionService) SessionByCode(ctx context.Context, code string) (domain.Session, error) {
	return s.deps.Sessions.ByCode(ctx, code)
}

// SessionByID resolves any session, ended ones included.
func (s *SessionService) SessionByID(ctx context.Context, id string) (domain.Session, error) {
	return s.deps.Sessions.ByID(ctx, id)
}
