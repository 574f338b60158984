package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"quiz-session-service/internal/domain"
)

func TestSessionRepositoryByCodeIgnoresEnded(t *testing.T) {
	repo := NewSessionRepository()
	ctx := context.Background()

	live := domain.Session{ID: "s1", Code: "ABC123", Status: domain.StatusWaiting}
	if err := repo.Save(ctx, &live); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := repo.ByCode(ctx, "ABC123")
	if err != nil || got.ID != "s1" {
		t.Fatalf("by code = %+v, %v", got, err)
	}
	inUse, err := repo.CodeInUse(ctx, "ABC123")
	if err != nil || !inUse {
		t.Fatalf("code in use = %v, %v; want true", inUse, err)
	}

	live.Status = domain.StatusEnded
	if err := repo.Update(ctx, &live); err != nil {
		t.Fatalf("update: %v", err)
	}

	// Ended sessions release their code for reuse.
	if _, err := repo.ByCode(ctx, "ABC123"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("by code after end: err = %v, want ErrSessionNotFound", err)
	}
	inUse, _ = repo.CodeInUse(ctx, "ABC123")
	if inUse {
		t.Fatal("ended session still holds its code")
	}

	// But the row itself stays reachable by ID.
	if _, err := repo.ByID(ctx, "s1"); err != nil {
		t.Fatalf("by id after end: %v", err)
	}
}

func TestParticipantRepositoryNicknameTaken(t *testing.T) {
	repo := NewParticipantRepository()
	ctx := context.Background()

	p := domain.Participant{ID: "p1", SessionID: "s1", Nickname: "Ada", IsActive: true}
	if err := repo.Save(ctx, &p); err != nil {
		t.Fatalf("save: %v", err)
	}

	taken, err := repo.NicknameTaken(ctx, "s1", "ada")
	if err != nil || !taken {
		t.Fatalf("case-insensitive match = %v, %v; want taken", taken, err)
	}
	taken, _ = repo.NicknameTaken(ctx, "s2", "ada")
	if taken {
		t.Fatal("nickname leaked across sessions")
	}

	// Leaving frees the nickname.
	if err := repo.SetActive(ctx, "p1", false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	taken, _ = repo.NicknameTaken(ctx, "s1", "ada")
	if taken {
		t.Fatal("inactive participant still holds the nickname")
	}
}

func TestSessionRepositoryIncrementParticipants(t *testing.T) {
	repo := NewSessionRepository()
	ctx := context.Background()

	session := domain.Session{ID: "s1", Status: domain.StatusWaiting}
	if err := repo.Save(ctx, &session); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := repo.IncrementParticipants(ctx, "missing", 1, 0); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("missing session: err = %v, want ErrSessionNotFound", err)
	}

	// With a cap of 2, concurrent joins must reserve at most 2 seats.
	const joiners = 8
	var wg sync.WaitGroup
	errs := make(chan error, joiners)
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.IncrementParticipants(ctx, "s1", 1, 2)
		}()
	}
	wg.Wait()
	close(errs)

	var ok int
	for err := range errs {
		if err == nil {
			ok++
		} else if !errors.Is(err, domain.ErrSessionFull) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 2 {
		t.Fatalf("%d increments succeeded, want exactly 2", ok)
	}
	got, _ := repo.ByID(ctx, "s1")
	if got.TotalParticipants != 2 {
		t.Fatalf("count = %d, want 2", got.TotalParticipants)
	}

	// Decrements clamp at zero rather than going negative.
	for i := 0; i < 4; i++ {
		if err := repo.IncrementParticipants(ctx, "s1", -1, 0); err != nil {
			t.Fatalf("decrement %d: %v", i, err)
		}
	}
	got, _ = repo.ByID(ctx, "s1")
	if got.TotalParticipants != 0 {
		t.Fatalf("count after decrements = %d, want 0", got.TotalParticipants)
	}
}

func TestParticipantRepositoryConcurrentSavesKeepOneNickname(t *testing.T) {
	repo := NewParticipantRepository()
	ctx := context.Background()

	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		id := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := domain.Participant{
				ID:        string(rune('a' + id)),
				SessionID: "s1",
				Nickname:  "Ada",
				IsActive:  true,
			}
			errs <- repo.Save(ctx, &p)
		}()
	}
	wg.Wait()
	close(errs)

	var ok int
	for err := range errs {
		if err == nil {
			ok++
		} else if !errors.Is(err, domain.ErrNicknameTaken) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("%d saves succeeded, want exactly 1", ok)
	}

	// Re-saving the winner (score update, deactivation) must not trip the
	// uniqueness check against itself.
	active, _ := repo.ActiveBySession(ctx, "s1")
	if len(active) != 1 {
		t.Fatalf("active participants = %d, want 1", len(active))
	}
	winner := active[0]
	winner.TotalScore = 50
	if err := repo.Save(ctx, &winner); err != nil {
		t.Fatalf("re-save winner: %v", err)
	}
}

func TestAnswerRepositoryInsertIsAtomic(t *testing.T) {
	repo := NewAnswerRepository()
	ctx := context.Background()

	answer := domain.Answer{ID: "a1", ParticipantID: "p1", QuestionID: "q1", PointsEarned: 100}
	if err := repo.Insert(ctx, &answer); err != nil {
		t.Fatalf("insert: %v", err)
	}

	dup := domain.Answer{ID: "a2", ParticipantID: "p1", QuestionID: "q1", PointsEarned: 999}
	if err := repo.Insert(ctx, &dup); !errors.Is(err, domain.ErrAlreadyAnswered) {
		t.Fatalf("duplicate insert: err = %v, want ErrAlreadyAnswered", err)
	}

	got, err := repo.ByParticipantAndQuestion(ctx, "p1", "q1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.ID != "a1" || got.PointsEarned != 100 {
		t.Fatalf("stored answer = %+v, want the first insert", got)
	}
}

func TestAnswerRepositoryConcurrentInsertsKeepOne(t *testing.T) {
	repo := NewAnswerRepository()
	ctx := context.Background()

	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			answer := domain.Answer{ParticipantID: "p1", QuestionID: "q1"}
			errs <- repo.Insert(ctx, &answer)
		}()
	}
	wg.Wait()
	close(errs)

	var ok int
	for err := range errs {
		if err == nil {
			ok++
		} else if !errors.Is(err, domain.ErrAlreadyAnswered) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("%d inserts succeeded, want exactly 1", ok)
	}
}

func TestAnswerRepositoryUpdateRequiresExisting(t *testing.T) {
	repo := NewAnswerRepository()
	ctx := context.Background()

	missing := domain.Answer{ParticipantID: "p1", QuestionID: "q1"}
	if err := repo.Update(ctx, &missing); domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("update missing: kind = %v, want not found", domain.KindOf(err))
	}

	answer := domain.Answer{ID: "a1", ParticipantID: "p1", QuestionID: "q1", Correct: false}
	if err := repo.Insert(ctx, &answer); err != nil {
		t.Fatalf("insert: %v", err)
	}
	answer.Correct = true
	answer.PointsEarned = 140
	if err := repo.Update(ctx, &answer); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := repo.ByParticipantAndQuestion(ctx, "p1", "q1")
	if !got.Correct || got.PointsEarned != 140 {
		t.Fatalf("updated answer = %+v", got)
	}
}
