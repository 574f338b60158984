package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/infra/memory"
	"quiz-session-service/internal/ranking"
	"quiz-session-service/internal/sched"
	"quiz-session-service/internal/scoring"
)

// fakeClock makes elapsed-time computations deterministic.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeScheduler captures tasks so tests fire timers explicitly.
type fakeScheduler struct {
	mu    sync.Mutex
	tasks map[sched.TaskKey]func()
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{tasks: make(map[sched.TaskKey]func())}
}

func (f *fakeScheduler) Schedule(key sched.TaskKey, _ time.Duration, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[key] = fn
}

func (f *fakeScheduler) Cancel(key sched.TaskKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, key)
}

func (f *fakeScheduler) CancelSession(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.tasks {
		if key.SessionID == sessionID {
			delete(f.tasks, key)
		}
	}
}

// fire runs and removes every pending task matching kind (and participant if
// non-empty), returning how many ran.
func (f *fakeScheduler) fire(kind sched.TaskKind, participantID string) int {
	f.mu.Lock()
	var fns []func()
	for key, fn := range f.tasks {
		if key.Kind != kind {
			continue
		}
		if participantID != "" && key.ParticipantID != participantID {
			continue
		}
		fns = append(fns, fn)
		delete(f.tasks, key)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

func (f *fakeScheduler) pending(kind sched.TaskKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for key := range f.tasks {
		if key.Kind == kind {
			n++
		}
	}
	return n
}

// recordingGateway captures fan-out traffic for assertions.
type recordingGateway struct {
	mu         sync.Mutex
	broadcasts []domain.Event
	unicasts   map[string][]domain.Event
}

func newRecordingGateway() *recordingGateway {
	return &recordingGateway{unicasts: make(map[string][]domain.Event)}
}

func (g *recordingGateway) Broadcast(_ string, ev domain.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.broadcasts = append(g.broadcasts, ev)
}

func (g *recordingGateway) Unicast(_ string, participantID string, ev domain.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unicasts[participantID] = append(g.unicasts[participantID], ev)
}

func (g *recordingGateway) broadcastCount(eventType domain.EventType) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, ev := range g.broadcasts {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

func (g *recordingGateway) unicastsTo(participantID string) []domain.Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.Event, len(g.unicasts[participantID]))
	copy(out, g.unicasts[participantID])
	return out
}

func (g *recordingGateway) lastUnicast(participantID string, eventType domain.EventType) (domain.Event, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	events := g.unicasts[participantID]
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == eventType {
			return events[i], true
		}
	}
	return domain.Event{}, false
}

type harness struct {
	service      *app.SessionService
	sessions     *memory.SessionRepository
	participants *memory.ParticipantRepository
	answers      *memory.AnswerRepository
	state        *memory.StateStore
	gateway      *recordingGateway
	scheduler    *fakeScheduler
	clock        *fakeClock
}

func newHarness(t *testing.T, quiz domain.Quiz) *harness {
	t.Helper()

	h := &harness{
		sessions:     memory.NewSessionRepository(),
		participants: memory.NewParticipantRepository(),
		answers:      memory.NewAnswerRepository(),
		state:        memory.NewStateStore(),
		gateway:      newRecordingGateway(),
		scheduler:    newFakeScheduler(),
		clock:        newFakeClock(),
	}

	quizRepo := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{
		quiz.ID: quiz,
	}), 5*time.Minute)

	h.service = app.NewSessionService(app.DefaultConfig(), app.Deps{
		Sessions:     h.sessions,
		Participants: h.participants,
		Answers:      h.answers,
		Quizzes:      quizRepo,
		State:        h.state,
		Ranking:      ranking.NewService(memory.NewScoreStore(), h.participants),
		Gateway:      h.gateway,
		Scheduler:    h.scheduler,
		Scorer:       scoring.NewEngine(scoring.Config{BonusFraction: 0.5}),
	}).WithClock(h.clock.Now)
	return h
}

func (h *harness) createSession(t *testing.T, mode domain.SessionMode, settings domain.SessionSettings) domain.Session {
	t.Helper()
	session, err := h.service.CreateSession(context.Background(), "quiz-1", "host-1", mode, settings)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func (h *harness) join(t *testing.T, code, userID, nickname string) domain.Participant {
	t.Helper()
	_, participant, err := h.service.JoinSession(context.Background(), code, userID, nickname, "")
	if err != nil {
		t.Fatalf("join %s: %v", nickname, err)
	}
	return participant
}

func (h *harness) start(t *testing.T, sessionID string) domain.Session {
	t.Helper()
	session, err := h.service.StartSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	return session
}

func (h *harness) sessionStatus(t *testing.T, sessionID string) domain.SessionStatus {
	t.Helper()
	session, err := h.sessions.ByID(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	return session.Status
}

// twoQuestionQuiz matches the canonical scenario: 2 questions, 10s limit,
// 100 base points each.
func twoQuestionQuiz() domain.Quiz {
	return domain.Quiz{
		ID: "quiz-1",
		Questions: []domain.Question{
			{
				ID:     "q1",
				Prompt: "What is 2 + 2?",
				Type:   domain.TypeSingleChoice,
				Options: []domain.Option{
					{ID: "o1", Text: "3", Correct: false},
					{ID: "o2", Text: "4", Correct: true},
				},
				Points:    100,
				TimeLimit: 10,
			},
			{
				ID:     "q2",
				Prompt: "The capital of France is Paris.",
				Type:   domain.TypeTrueFalse,
				Options: []domain.Option{
					{ID: "true", Text: "True", Correct: true},
					{ID: "false", Text: "False", Correct: false},
				},
				Points:    100,
				TimeLimit: 10,
			},
		},
	}
}

func oneQuestionQuiz() domain.Quiz {
	quiz := twoQuestionQuiz()
	quiz.Questions = quiz.Questions[:1]
	return quiz
}
