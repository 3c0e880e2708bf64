package watcher

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/charleschow/chess-tv/internal/adapters/inbound/lichess_ws"
	"github.com/charleschow/chess-tv/internal/adapters/outbound/lichess_http"
	"github.com/charleschow/chess-tv/internal/events"
)

type fakeConn struct {
	mu         sync.Mutex
	sent       []lichess_ws.Envelope
	keepalives int
	sendErr    error
	closeErr   error
	closed     bool

	in chan lichess_ws.Inbound
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan lichess_ws.Inbound, 16)}
}

func (c *fakeConn) Send(env lichess_ws.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeConn) SendKeepalive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.keepalives++
	return nil
}

func (c *fakeConn) Inbound() <-chan lichess_ws.Inbound { return c.in }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.closeErr
}

func (c *fakeConn) frame(s string) { c.in <- lichess_ws.Inbound{Data: []byte(s)} }

func (c *fakeConn) sentEnvelopes() []lichess_ws.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]lichess_ws.Envelope(nil), c.sent...)
}

func (c *fakeConn) keepaliveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keepalives
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type replCall struct {
	Anchor  events.GameID
	Exclude []events.GameID
}

type fakeDir struct {
	mu      sync.Mutex
	live    []events.GameID
	liveErr error

	// Replacement pops from replies; an entry with a non-nil err fails.
	replies []reply
	calls   []replCall
}

type reply struct {
	id  events.GameID
	err error
}

func (d *fakeDir) LiveGames(_ context.Context, _ lichess_http.Category) ([]lichess_http.GameInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.liveErr != nil {
		return nil, d.liveErr
	}
	games := make([]lichess_http.GameInfo, len(d.live))
	for i, id := range d.live {
		games[i] = lichess_http.GameInfo{ID: id}
	}
	return games, nil
}

func (d *fakeDir) Replacement(_ context.Context, _ lichess_http.Category, anchor events.GameID, exclude []events.GameID) (events.GameID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, replCall{Anchor: anchor, Exclude: append([]events.GameID(nil), exclude...)})
	if len(d.replies) == 0 {
		return "", context.DeadlineExceeded
	}
	r := d.replies[0]
	d.replies = d.replies[1:]
	return r.id, r.err
}

func (d *fakeDir) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *fakeDir) replCalls() []replCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]replCall(nil), d.calls...)
}

// fakeTimers records armed callbacks and fires them on demand.
type fakeTimers struct {
	mu    sync.Mutex
	armed []*fakeTimer
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	done    bool
	stopped bool
}

func (ft *fakeTimers) after(d time.Duration, f func()) func() bool {
	t := &fakeTimer{d: d, f: f}
	ft.mu.Lock()
	ft.armed = append(ft.armed, t)
	ft.mu.Unlock()
	return func() bool {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		if t.done {
			return false
		}
		t.done, t.stopped = true, true
		return true
	}
}

// fireAll runs every live callback and returns how many ran.
func (ft *fakeTimers) fireAll() int {
	ft.mu.Lock()
	var due []*fakeTimer
	for _, t := range ft.armed {
		if !t.done {
			t.done = true
			due = append(due, t)
		}
	}
	ft.armed = nil
	ft.mu.Unlock()

	for _, t := range due {
		t.f()
	}
	return len(due)
}

func (ft *fakeTimers) live() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	n := 0
	for _, t := range ft.armed {
		if !t.done {
			n++
		}
	}
	return n
}

// newTestWatcher builds a watcher over fakes with deterministic timers.
func newTestWatcher(dir *fakeDir, opts Options) (*Watcher, *fakeConn, *events.Publisher, *fakeTimers) {
	pub := events.NewPublisher(100)
	w := New(dir, pub, opts)
	timers := &fakeTimers{}
	w.sched = newScheduler(w.opts.ReplaceCooldown, w.commands, timers.after)
	conn := newFakeConn()
	w.Attach(conn)
	return w, conn, pub, timers
}

func nextEvent(t *testing.T, pub *events.Publisher) events.Event {
	t.Helper()
	select {
	case e := <-pub.Events():
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a downstream event")
		return events.Event{}
	}
}

func snapshot(t *testing.T, e events.Event) events.WatchSet {
	t.Helper()
	if e.Type != events.EventWatchSetUpdated {
		t.Fatalf("event type = %s, want %s", e.Type, events.EventWatchSetUpdated)
	}
	return e.Payload.(events.WatchSetUpdate).Games
}

func expectNoEvent(t *testing.T, pub *events.Publisher, wait time.Duration) {
	t.Helper()
	select {
	case e := <-pub.Events():
		t.Fatalf("unexpected event %s %+v", e.Type, e.Payload)
	case <-time.After(wait):
	}
}

// runAsync starts Run and returns a function that cancels it and returns
// its error.
func runAsync(w *Watcher) (stop func() error, errc <-chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() { ch <- w.Run(ctx) }()
	return func() error {
		cancel()
		return <-ch
	}, ch
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// lockedBuffer collects log output written from any goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
