package display

import (
	"sync"

	"github.com/charleschow/chess-tv/internal/events"
)

// State is the last thing we heard about one game.
type State struct {
	LastMove   string
	FEN        string
	WhiteClock uint32
	BlackClock uint32
	Finished   bool
	Result     string
}

// Tracker maps game ids to their display state and remembers the slot
// order from the latest watch-set snapshot.
type Tracker struct {
	mu     sync.Mutex
	order  events.WatchSet
	states map[events.GameID]*State
}

func NewTracker() *Tracker {
	return &Tracker{
		states: make(map[events.GameID]*State),
	}
}

// SetOrder installs a new slot order and forgets games no longer shown.
func (t *Tracker) SetOrder(ws events.WatchSet) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.order = ws.Clone()
	keep := make(map[events.GameID]*State, len(ws))
	for _, id := range ws {
		if s, ok := t.states[id]; ok {
			keep[id] = s
		} else {
			keep[id] = &State{}
		}
	}
	t.states = keep
}

// Apply records a game event and returns a copy of the resulting state.
func (t *Tracker) Apply(re events.RemoteEvent) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[re.Game()]
	if !ok {
		s = &State{}
		t.states[re.Game()] = s
	}
	switch e := re.(type) {
	case events.StateUpdate:
		s.LastMove = e.LastMove
		s.FEN = e.FEN
		s.WhiteClock = e.WhiteClock
		s.BlackClock = e.BlackClock
	case events.Finish:
		s.Finished = true
		s.Result = "1/2-1/2"
		if e.Win != nil {
			switch *e.Win {
			case "white", "w":
				s.Result = "1-0"
			case "black", "b":
				s.Result = "0-1"
			}
		}
	}
	return *s
}

// Slot is one row of the board list.
type Slot struct {
	Index int
	ID    events.GameID
	State State
}

// Slots returns the current rows in display order.
func (t *Tracker) Slots() []Slot {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Slot, len(t.order))
	for i, id := range t.order {
		out[i] = Slot{Index: i, ID: id}
		if s, ok := t.states[id]; ok {
			out[i].State = *s
		}
	}
	return out
}
