package app_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/sched"
)

func TestCreateSessionOpensLobby(t *testing.T) {
	h := newHarness(t, twoQuestionQuiz())
	session := h.createSession(t, domain.ModeSync, domain.SessionSettings{})

	if session.Status != domain.StatusWaiting {
		t.Fatalf("status = %s, want WAITING", session.Status)
	}
	if session.TotalQuestions != 2 {
		t.Fatalf("total questions = %d, want 2", session.TotalQuestions)
	}
	if len(session.Code) != 6 {
		t.Fatalf("join code %q, want 6 characters", session.Code)
	}
	for _, c := range session.Code {
		if !strings.ContainsRune("ABCDEFGHJKLMNPQRSTUVWXYZ23456789", c) {
			t.Fatalf("join code %q contains ambiguous character %q", session.Code, c)
		}
	}

	order, err := h.state.QuestionOrder(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("question order: %v", err)
	}
	if len(order) != 2 || order[0] != "q1" || order[1] != "q2" {
		t.Fatalf("cached order = %v, want [q1 q2]", order)
	}
	if got := h.gateway.broadcastCount(domain.EventLobbyOpen); got != 1 {
		t.Fatalf("lobbyOpen broadcasts = %d, want 1", got)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	h := newHarness(t, twoQuestionQuiz())
	ctx := context.Background()

	_, err := h.service.CreateSession(ctx, "quiz-1", "host-1", "TURBO", domain.SessionSettings{})
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("unknown mode: kind = %v, want validation", domain.KindOf(err))
	}

	_, err = h.service.CreateSession(ctx, "missing", "host-1", domain.ModeSync, domain.SessionSettings{})
	if !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("missing quiz: err = %v, want ErrQuizNotFound", err)
	}

	past := h.clock.Now().Add(-time.Minute)
	_, err = h.service.CreateSession(ctx, "quiz-1", "host-1", domain.ModeSync, domain.SessionSettings{ScheduledStart: &past})
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("past scheduled start: kind = %v, want validation", domain.KindOf(err))
	}
}

func TestCreateSessionRejectsEmptyQuiz(t *testing.T) {
	h := newHarness(t, domain.Quiz{ID: "quiz-1"})

	_, err := h.service.CreateSession(context.Background(), "quiz-1", "host-1", domain.ModeSync, domain.SessionSettings{})
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("kind = %v, want validation", domain.KindOf(err))
	}
}

func TestStartRequiresWaiting(t *testing.T) {
	h := newHarness(t, twoQuestionQuiz())
	session := h.createSession(t, domain.ModeSync, domain.SessionSettings{})
	ctx := context.Background()

	h.start(t, session.ID)

	if _, err := h.service.StartSession(ctx, session.ID); !errors.Is(err, domain.ErrAlreadyStarted) {
		t.Fatalf("second start: err = %v, want ErrAlreadyStarted", err)
	}

	if _, err := h.service.EndSession(ctx, session.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := h.service.StartSession(ctx, session.ID); !errors.Is(err, domain.ErrSessionEnded) {
		t.Fatalf("start after end: err = %v, want ErrSessionEnded", err)
	}
}

func TestScheduledStartDefersTransition(t *testing.T) {
	h := newHarness(t, twoQuestionQuiz())
	at := h.clock.Now().Add(10 * time.Minute)
	session := h.createSession(t, domain.ModeSync, domain.SessionSettings{ScheduledStart: &at})

	got, err := h.service.StartSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got.Status != domain.StatusWaiting {
		t.Fatalf("status = %s, want WAITING until the scheduled time", got.Status)
	}
	if h.scheduler.pending(sched.KindScheduledStart) != 1 {
		t.Fatal("no scheduled-start task registered")
	}

	h.clock.Advance(10 * time.Minute)
	h.scheduler.fire(sched.KindScheduledStart, "")

	if status := h.sessionStatus(t, session.ID); status != domain.StatusInProgress {
		t.Fatalf("status after fire = %s, want IN_PROGRESS", status)
	}
}

func TestScheduledStartIsNoOpAfterManualStart(t *testing.T) {
	h := newHarness(t, twoQuestionQuiz())
	at := h.clock.Now().Add(10 * time.Minute)
	session := h.createSession(t, domain.ModeSync, domain.SessionSettings{ScheduledStart: &at})

	if _, err := h.service.StartSession(context.Background(), session.ID); err != nil {
		t.Fatalf("deferred start: %v", err)
	}

	// Host decides not to wait: clear the schedule and start now.
	if _, err := h.service.StartSessionWithSettings(context.Background(), session.ID, domain.SessionSettings{}); err != nil {
		t.Fatalf("manual start: %v", err)
	}
	started := h.gateway.broadcastCount(domain.EventSessionStarted)

	// The stale deferred task fires later and must re-validate instead of
	// starting twice.
	h.clock.Advance(10 * time.Minute)
	h.scheduler.fire(sched.KindScheduledStart, "")

	if got := h.gateway.broadcastCount(domain.EventSessionStarted); got != started {
		t.Fatalf("sessionStarted broadcasts = %d, want %d", got, started)
	}
}

func TestScheduledEndStopsSession(t *testing.T) {
	h := newHarness(t, twoQuestionQuiz())
	at := h.clock.Now().Add(30 * time.Minute)
	session := h.createSession(t, domain.ModeSync, domain.SessionSettings{ScheduledEnd: &at})

	h.start(t, session.ID)
	if h.scheduler.pending(sched.KindScheduledEnd) != 1 {
		t.Fatal("no scheduled-end task registered")
	}

	h.clock.Advance(30 * time.Minute)
	h.scheduler.fire(sched.KindScheduledEnd, "")

	if status := h.sessionStatus(t, session.ID); status != domain.StatusEnded {
		t.Fatalf("status = %s, want ENDED", status)
	}
}

func TestPauseResumeGuards(t *testing.T) {
	h := newHarness(t, twoQuestionQuiz())
	session := h.createSession(t, domain.ModeSync, domain.SessionSettings{})
	ctx := context.Background()

	if _, err := h.service.PauseSession(ctx, session.ID); !errors.Is(err, domain.ErrSessionNotRunning) {
		t.Fatalf("pause while waiting: err = %v, want ErrSessionNotRunning", err)
	}

	h.start(t, session.ID)

	if _, err := h.service.PauseSession(ctx, session.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	// Pausing a paused session is a no-op, not an error.
	if _, err := h.service.PauseSession(ctx, session.ID); err != nil {
		t.Fatalf("second pause: %v", err)
	}
	if got := h.gateway.broadcastCount(domain.EventSessionPaused); got != 1 {
		t.Fatalf("sessionPaused broadcasts = %d, want 1", got)
	}

	if _, err := h.service.ResumeSession(ctx, session.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if _, err := h.service.ResumeSession(ctx, session.ID); err != nil {
		t.Fatalf("second resume: %v", err)
	}
	if got := h.gateway.broadcastCount(domain.EventSessionResumed); got != 1 {
		t.Fatalf("sessionResumed broadcasts = %d, want 1", got)
	}

	if _, err := h.service.EndSession(ctx, session.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := h.service.PauseSession(ctx, session.ID); !errors.Is(err, domain.ErrSessionEnded) {
		t.Fatalf("pause after end: err = %v, want ErrSessionEnded", err)
	}
	if _, err := h.service.ResumeSession(ctx, session.ID); !errors.Is(err, domain.ErrSessionEnded) {
		t.Fatalf("resume after end: err = %v, want ErrSessionEnded", err)
	}
}

func TestEndSessionIsIdempotentAndPurges(t *testing.T) {
	h := newHarness(t, twoQuestionQuiz())
	session := h.createSession(t, domain.ModeSync, domain.SessionSettings{})
	h.join(t, session.Code, "u1", "ada")
	h.start(t, session.ID)
	ctx := context.Background()

	if _, err := h.service.EndSession(ctx, session.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := h.service.EndSession(ctx, session.ID); err != nil {
		t.Fatalf("second end: %v", err)
	}

	if got := h.gateway.broadcastCount(domain.EventSessionEnded); got != 1 {
		t.Fatalf("sessionEnded broadcasts = %d, want 1", got)
	}
	if got := h.gateway.broadcastCount(domain.EventPodium); got != 1 {
		t.Fatalf("podium broadcasts = %d, want 1", got)
	}

	order, err := h.state.QuestionOrder(ctx, session.ID)
	if err != nil {
		t.Fatalf("question order: %v", err)
	}
	if len(order) != 0 {
		t.Fatalf("ephemeral state survived purge: %v", order)
	}

	// Durable leaderboard data outlives the purge.
	board, err := h.service.GetLeaderboard(ctx, session.ID, 10, 0, "")
	if err != nil {
		t.Fatalf("leaderboard after end: %v", err)
	}
	if len(board.Entries) != 1 || board.Entries[0].Nickname != "ada" {
		t.Fatalf("frozen leaderboard entries = %+v, want ada", board.Entries)
	}
}

func TestJoinSessionGuards(t *testing.T) {
	h := newHarness(t, twoQuestionQuiz())
	session := h.createSession(t, domain.ModeSync, domain.SessionSettings{MaxParticipants: 1})
	ctx := context.Background()

	h.join(t, session.Code, "u1", "ada")

	if _, _, err := h.service.JoinSession(ctx, session.Code, "u2", "ADA", ""); !errors.Is(err, domain.ErrNicknameTaken) {
		t.Fatalf("duplicate nickname: err = %v, want ErrNicknameTaken", err)
	}
	if _, _, err := h.service.JoinSession(ctx, session.Code, "u2", "grace", ""); !errors.Is(err, domain.ErrSessionFull) {
		t.Fatalf("full session: err = %v, want ErrSessionFull", err)
	}
	if _, _, err := h.service.JoinSession(ctx, "ZZZZZZ", "u2", "grace", ""); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("unknown code: err = %v, want ErrSessionNotFound", err)
	}

	h.start(t, session.ID)
	if _, _, err := h.service.JoinSession(ctx, session.Code, "u3", "linus", ""); !errors.Is(err, domain.ErrLateJoinDisabled) {
		t.Fatalf("late join: err = %v, want ErrLateJoinDisabled", err)
	}
}

func TestConcurrentJoinsKeepNicknamesUniqueAndRespectCap(t *testing.T) {
	h := newHarness(t, twoQuestionQuiz())
	session := h.createSession(t, domain.ModeSync, domain.SessionSettings{MaxParticipants: 3})
	ctx := context.Background()

	// One nickname raced by many goroutines: exactly one join wins, the
	// losers return their reserved seat.
	const racers = 8
	var wg sync.WaitGroup
	errs := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := h.service.JoinSession(ctx, session.Code, "u1", "Ada", "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	joined := 0
	for err := range errs {
		if err == nil {
			joined++
		} else if !errors.Is(err, domain.ErrNicknameTaken) {
			t.Fatalf("unexpected join error: %v", err)
		}
	}
	if joined != 1 {
		t.Fatalf("%d joins succeeded for one nickname, want 1", joined)
	}
	refreshed, err := h.service.SessionByID(ctx, session.ID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if refreshed.TotalParticipants != 1 {
		t.Fatalf("count after nickname race = %d, want 1", refreshed.TotalParticipants)
	}

	// Distinct nicknames racing for the two remaining seats: the cap holds.
	errs = make(chan error, racers)
	for i := 0; i < racers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := h.service.JoinSession(ctx, session.Code, fmt.Sprintf("u%d", i+2), fmt.Sprintf("player-%d", i), "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	joined = 0
	for err := range errs {
		if err == nil {
			joined++
		} else if !errors.Is(err, domain.ErrSessionFull) {
			t.Fatalf("unexpected join error: %v", err)
		}
	}
	if joined != 2 {
		t.Fatalf("%d joins filled the remaining seats, want 2", joined)
	}
	refreshed, _ = h.service.SessionByID(ctx, session.ID)
	if refreshed.TotalParticipants != 3 {
		t.Fatalf("final count = %d, want the cap of 3", refreshed.TotalParticipants)
	}
}

func TestLateJoinReceivesFirstQuestionInSelfPacedSession(t *testing.T) {
	h := newHarness(t, twoQuestionQuiz())
	session := h.createSession(t, domain.ModeAsync, domain.SessionSettings{AllowLateJoin: true})
	h.join(t, session.Code, "u1", "ada")
	h.start(t, session.ID)

	late := h.join(t, session.Code, "u2", "grace")

	ev, ok := h.gateway.lastUnicast(late.ID, domain.EventQuestion)
	if !ok {
		t.Fatal("late joiner received no question")
	}
	view := ev.Payload.(domain.QuestionView)
	if view.Number != 1 || view.ID != "q1" {
		t.Fatalf("late joiner got question %d (%s), want 1 (q1)", view.Number, view.ID)
	}
}

func TestLateJoinLandsOnCurrentQuestionInHostPacedSession(t *testing.T) {
	h := newHarness(t, twoQuestionQuiz())
	session := h.createSession(t, domain.ModeSync, domain.SessionSettings{AllowLateJoin: true})
	h.join(t, session.Code, "u1", "ada")
	h.start(t, session.ID)
	ctx := context.Background()

	if _, err := h.service.AdvanceQuestion(ctx, session.ID, "host-1"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := h.service.AdvanceQuestion(ctx, session.ID, "host-1"); err != nil {
		t.Fatalf("advance: %v", err)
	}

	late := h.join(t, session.Code, "u2", "grace")

	ev, ok := h.gateway.lastUnicast(late.ID, domain.EventQuestion)
	if !ok {
		t.Fatal("late joiner received no question")
	}
	view := ev.Payload.(domain.QuestionView)
	if view.Number != 2 || view.ID != "q2" {
		t.Fatalf("late joiner got question %d (%s), want 2 (q2)", view.Number, view.ID)
	}
}

func TestLeaveSessionSoftDeactivates(t *testing.T) {
	h := newHarness(t, twoQuestionQuiz())
	session := h.createSession(t, domain.ModeSync, domain.SessionSettings{})
	participant := h.join(t, session.Code, "u1", "ada")
	ctx := context.Background()

	if err := h.service.LeaveSession(ctx, session.ID, participant.ID); err != nil {
		t.Fatalf("leave: %v", err)
	}

	got, err := h.participants.ByID(ctx, participant.ID)
	if err != nil {
		t.Fatalf("participant row deleted on leave: %v", err)
	}
	if got.IsActive || got.IsConnected {
		t.Fatalf("participant still active=%v connected=%v after leave", got.IsActive, got.IsConnected)
	}

	refreshed, err := h.service.SessionByID(ctx, session.ID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if refreshed.TotalParticipants != 0 {
		t.Fatalf("participant count = %d, want 0", refreshed.TotalParticipants)
	}
	if h.gateway.broadcastCount(domain.EventParticipantLeft) != 1 {
		t.Fatal("no participantLeft broadcast")
	}
}

func TestSetConnectedTogglesLiveness(t *testing.T) {
	h := newHarness(t, twoQuestionQuiz())
	session := h.createSession(t, domain.ModeSync, domain.SessionSettings{})
	participant := h.join(t, session.Code, "u1", "ada")
	ctx := context.Background()

	if err := h.service.SetConnected(ctx, participant.ID, false); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	got, err := h.participants.ByID(ctx, participant.ID)
	if err != nil {
		t.Fatalf("participant: %v", err)
	}
	if got.IsConnected {
		t.Fatal("still connected after disconnect")
	}
	if !got.IsActive {
		t.Fatal("disconnect must not deactivate the participant")
	}

	if err := h.service.SetConnected(ctx, participant.ID, true); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	got, _ = h.participants.ByID(ctx, participant.ID)
	if !got.IsConnected {
		t.Fatal("not connected after reconnect")
	}
}
