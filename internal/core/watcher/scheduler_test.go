package watcher

import (
	"testing"
	"time"

	"github.com/charleschow/chess-tv/internal/events"
)

func TestSchedulerDeliversAfterFire(t *testing.T) {
	out := make(chan Command, 4)
	timers := &fakeTimers{}
	s := newScheduler(time.Second, out, timers.after)

	if !s.Schedule("A") {
		t.Fatal("Schedule(A) = false")
	}
	if s.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", s.Pending())
	}
	select {
	case cmd := <-out:
		t.Fatalf("delivered %v before the timer fired", cmd)
	default:
	}

	timers.fireAll()
	if got := <-out; got != (ReplaceGame{ID: "A"}) {
		t.Errorf("got %v, want ReplaceGame{A}", got)
	}
	if s.Pending() != 0 {
		t.Errorf("Pending = %d after delivery", s.Pending())
	}

	// Once delivered the same game can be scheduled again.
	if !s.Schedule("A") {
		t.Error("re-Schedule(A) = false")
	}
	s.Stop()
}

func TestSchedulerStopCancelsAndRefuses(t *testing.T) {
	out := make(chan Command, 4)
	timers := &fakeTimers{}
	s := newScheduler(time.Second, out, timers.after)

	for _, id := range []events.GameID{"A", "B", "C"} {
		s.Schedule(id)
	}
	s.Stop()
	s.Stop()

	if timers.live() != 0 {
		t.Errorf("%d timers still armed after Stop", timers.live())
	}
	if s.Schedule("D") {
		t.Error("Schedule after Stop = true")
	}
	if len(out) != 0 {
		t.Errorf("%d commands delivered after Stop", len(out))
	}
}

func TestSchedulerStopUnblocksFullChannel(t *testing.T) {
	out := make(chan Command) // nobody reads
	timers := &fakeTimers{}
	s := newScheduler(time.Second, out, timers.after)
	s.Schedule("A")

	fired := make(chan struct{})
	go func() {
		timers.fireAll()
		close(fired)
	}()

	stopped := make(chan struct{})
	go func() {
		for s.Pending() != 0 {
			time.Sleep(time.Millisecond)
		}
		s.Stop()
		close(stopped)
	}()

	for _, ch := range []chan struct{}{fired, stopped} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatal("Stop did not release the blocked callback")
		}
	}
}

func TestSchedulerRealTimer(t *testing.T) {
	out := make(chan Command, 1)
	s := NewScheduler(30*time.Millisecond, out)
	defer s.Stop()

	start := time.Now()
	s.Schedule("A")
	select {
	case <-out:
		if el := time.Since(start); el < 30*time.Millisecond {
			t.Errorf("delivered after %s, before the delay", el)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("never delivered")
	}
}
