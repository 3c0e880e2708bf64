package watcher

import (
	"sync"
	"time"

	"github.com/charleschow/chess-tv/internal/events"
)

// afterFunc arms f to run once after d and returns a stop function with
// time.Timer.Stop semantics.
type afterFunc func(d time.Duration, f func()) (stop func() bool)

func realAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Scheduler delays replacement requests. Each pending replacement is a
// timer whose callback pushes a ReplaceGame onto the watcher's command
// channel. Timers are tracked so Stop can cancel them instead of leaving
// goroutines behind.
type Scheduler struct {
	delay time.Duration
	out   chan<- Command
	after afterFunc

	mu      sync.Mutex
	pending map[events.GameID]func() bool
	stopped bool
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewScheduler(delay time.Duration, out chan<- Command) *Scheduler {
	return newScheduler(delay, out, realAfterFunc)
}

func newScheduler(delay time.Duration, out chan<- Command, after afterFunc) *Scheduler {
	return &Scheduler{
		delay:   delay,
		out:     out,
		after:   after,
		pending: make(map[events.GameID]func() bool),
		done:    make(chan struct{}),
	}
}

// Schedule arms a replacement for id. It returns false if one is already
// pending for id or the scheduler has been stopped.
func (s *Scheduler) Schedule(id events.GameID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	if _, ok := s.pending[id]; ok {
		return false
	}

	s.wg.Add(1)
	s.pending[id] = s.after(s.delay, func() { s.fire(id) })
	return true
}

func (s *Scheduler) fire(id events.GameID) {
	defer s.wg.Done()

	s.mu.Lock()
	_, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if !ok {
		return
	}

	select {
	case s.out <- ReplaceGame{ID: id}:
	case <-s.done:
	}
}

// Pending reports how many replacements are armed but not yet delivered.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels every armed replacement and waits for callbacks that are
// already running. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.done)
	for id, stop := range s.pending {
		if stop() {
			s.wg.Done()
		}
		delete(s.pending, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
}
