package sched

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduleFires(t *testing.T) {
	s := NewTimerScheduler()
	fired := make(chan struct{})

	s.Schedule(TaskKey{SessionID: "s1", Kind: KindScheduledStart}, time.Millisecond, func() {
		close(fired)
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("task never fired")
	}
	if s.PendingCount() != 0 {
		t.Fatalf("expected pending map drained, got %d", s.PendingCount())
	}
}

func TestCancelPreventsFire(t *testing.T) {
	s := NewTimerScheduler()
	var fired atomic.Bool

	key := TaskKey{SessionID: "s1", ParticipantID: "p1", QuestionID: "q1", Kind: KindQuestionTimeout}
	s.Schedule(key, 20*time.Millisecond, func() { fired.Store(true) })
	s.Cancel(key)

	time.Sleep(50 * time.Millisecond)
	if fired.Load() {
		t.Fatalf("cancelled task fired")
	}
}

func TestRescheduleReplaces(t *testing.T) {
	s := NewTimerScheduler()
	var count atomic.Int32

	key := TaskKey{SessionID: "s1", Kind: KindScheduledEnd}
	s.Schedule(key, 10*time.Millisecond, func() { count.Add(1) })
	s.Schedule(key, 10*time.Millisecond, func() { count.Add(1) })

	time.Sleep(60 * time.Millisecond)
	if got := count.Load(); got != 1 {
		t.Fatalf("expected exactly one fire after reschedule, got %d", got)
	}
}

func TestCancelSessionOnlyTouchesThatSession(t *testing.T) {
	s := NewTimerScheduler()
	var s1Fired, s2Fired atomic.Bool

	s.Schedule(TaskKey{SessionID: "s1", ParticipantID: "p1", Kind: KindQuestionTimeout}, 20*time.Millisecond, func() { s1Fired.Store(true) })
	s.Schedule(TaskKey{SessionID: "s1", ParticipantID: "p2", Kind: KindQuestionTimeout}, 20*time.Millisecond, func() { s1Fired.Store(true) })
	s.Schedule(TaskKey{SessionID: "s2", ParticipantID: "p1", Kind: KindQuestionTimeout}, 20*time.Millisecond, func() { s2Fired.Store(true) })

	s.CancelSession("s1")

	time.Sleep(60 * time.Millisecond)
	if s1Fired.Load() {
		t.Fatalf("session s1 task fired after CancelSession")
	}
	if !s2Fired.Load() {
		t.Fatalf("session s2 task should have fired")
	}
}
