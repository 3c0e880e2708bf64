package events

import (
	"slices"
	"time"
)

// GameID identifies one lichess game.
type GameID string

// WatchSet is the ordered list of games currently subscribed over the
// socket. Only the watcher mutates it; everyone else gets a Clone.
type WatchSet []GameID

func (ws WatchSet) Clone() WatchSet {
	if ws == nil {
		return WatchSet{}
	}
	return slices.Clone(ws)
}

// Index returns the first position of id, or -1.
func (ws WatchSet) Index(id GameID) int {
	return slices.Index(ws, id)
}

func (ws WatchSet) Strings() []string {
	out := make([]string, len(ws))
	for i, id := range ws {
		out[i] = string(id)
	}
	return out
}

// RemoteEvent is a decoded inbound socket message.
type RemoteEvent interface {
	Game() GameID
	remoteEvent()
}

// Finish reports that a watched game ended. Win is the winning colour,
// nil on a draw or abort.
type Finish struct {
	ID  GameID  `json:"id"`
	Win *string `json:"win,omitempty"`
}

// StateUpdate reports a move in a watched game. FEN is passed through
// untouched; clocks are in seconds.
type StateUpdate struct {
	ID         GameID `json:"id"`
	LastMove   string `json:"lm"`
	FEN        string `json:"fen"`
	WhiteClock uint32 `json:"wc"`
	BlackClock uint32 `json:"bc"`
}

func (f Finish) Game() GameID      { return f.ID }
func (s StateUpdate) Game() GameID { return s.ID }
func (Finish) remoteEvent()        {}
func (StateUpdate) remoteEvent()   {}

// Event is the envelope delivered to downstream consumers.
type Event struct {
	Type      EventType
	GameID    GameID
	Timestamp time.Time
	Payload   any
}

type EventType string

const (
	EventWatchSetUpdated EventType = "watch_set_updated"
	EventGameState       EventType = "game_state"
	EventGameFinish      EventType = "game_finish"
)

// WatchSetUpdate carries a point-in-time copy of the watch set.
type WatchSetUpdate struct {
	Games WatchSet `json:"games"`
}

// NewWatchSetEvent snapshots ws into an event.
func NewWatchSetEvent(ws WatchSet) Event {
	return Event{
		Type:      EventWatchSetUpdated,
		Timestamp: time.Now(),
		Payload:   WatchSetUpdate{Games: ws.Clone()},
	}
}

// NewGameEvent wraps a remote event for downstream delivery.
func NewGameEvent(re RemoteEvent) Event {
	evt := Event{
		GameID:    re.Game(),
		Timestamp: time.Now(),
		Payload:   re,
	}
	switch re.(type) {
	case Finish:
		evt.Type = EventGameFinish
	default:
		evt.Type = EventGameState
	}
	return evt
}
