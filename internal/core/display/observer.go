package display

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charleschow/chess-tv/internal/events"
)

const (
	divider         = "========================================================================"
	defaultThrottle = time.Second
)

// Observer prints the watch set and game updates as they come off the bus.
// Move lines are throttled per game; watch-set changes and results are
// always printed.
type Observer struct {
	out      io.Writer
	tracker  *Tracker
	throttle time.Duration
	now      func() time.Time

	mu       sync.Mutex
	lastLine map[events.GameID]time.Time
}

func NewObserver(out io.Writer, throttle time.Duration) *Observer {
	if throttle < 0 {
		throttle = defaultThrottle
	}
	return &Observer{
		out:      out,
		tracker:  NewTracker(),
		throttle: throttle,
		now:      time.Now,
		lastLine: make(map[events.GameID]time.Time),
	}
}

// Register subscribes the observer to every downstream event type.
func (o *Observer) Register(bus *events.Bus) {
	bus.SubscribeAll(o.Handle)
}

func (o *Observer) Tracker() *Tracker { return o.tracker }

func (o *Observer) Handle(e events.Event) error {
	switch p := e.Payload.(type) {
	case events.WatchSetUpdate:
		o.tracker.SetOrder(p.Games)
		return o.printBoardList()
	case events.StateUpdate:
		s := o.tracker.Apply(p)
		if !o.due(p.ID) {
			return nil
		}
		_, err := fmt.Fprintf(o.out, "%s  %-8s %-6s %s  %s\n",
			o.now().Format("3:04:05 PM"), p.ID, s.LastMove, clocks(s), s.FEN)
		return err
	case events.Finish:
		s := o.tracker.Apply(p)
		_, err := fmt.Fprintf(o.out, "%s  %-8s finished %s\n", o.now().Format("3:04:05 PM"), p.ID, s.Result)
		return err
	default:
		return fmt.Errorf("display: unexpected payload %T", e.Payload)
	}
}

func (o *Observer) due(id events.GameID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()
	if last, ok := o.lastLine[id]; ok && now.Sub(last) < o.throttle {
		return false
	}
	o.lastLine[id] = now
	return true
}

func (o *Observer) printBoardList() error {
	var b strings.Builder
	b.WriteString(divider + "\n")
	slots := o.tracker.Slots()
	fmt.Fprintf(&b, "  watching %d games\n", len(slots))
	for _, s := range slots {
		status := "live"
		if s.State.Finished {
			status = s.State.Result
		}
		fmt.Fprintf(&b, "  [%2d] %-8s %-7s %s\n", s.Index, s.ID, status, clocks(s.State))
	}
	b.WriteString(divider + "\n")
	_, err := io.WriteString(o.out, b.String())
	return err
}

func clocks(s State) string {
	return fmt.Sprintf("%s | %s", clock(s.WhiteClock), clock(s.BlackClock))
}

func clock(sec uint32) string {
	return fmt.Sprintf("%d:%02d", sec/60, sec%60)
}
