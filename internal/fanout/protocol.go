package fanout

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charleschow/chess-tv/internal/events"
)

// Envelope is the wire format for events sent to viewers.
type Envelope struct {
	Type      string          `json:"type"`
	GameID    events.GameID   `json:"game_id,omitempty"`
	Timestamp time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
}

// MarshalEvent serializes an Event into a JSON-encoded Envelope.
func MarshalEvent(evt events.Event) ([]byte, error) {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return json.Marshal(Envelope{
		Type:      string(evt.Type),
		GameID:    evt.GameID,
		Timestamp: evt.Timestamp,
		Payload:   payload,
	})
}

// UnmarshalEvent deserializes a JSON Envelope back into a typed Event.
func UnmarshalEvent(data []byte) (events.Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return events.Event{}, fmt.Errorf("unmarshal envelope: %w", err)
	}

	evt := events.Event{
		Type:      events.EventType(env.Type),
		GameID:    env.GameID,
		Timestamp: env.Timestamp,
	}

	switch evt.Type {
	case events.EventWatchSetUpdated:
		var ws events.WatchSetUpdate
		if err := json.Unmarshal(env.Payload, &ws); err != nil {
			return evt, fmt.Errorf("unmarshal %s: %w", env.Type, err)
		}
		evt.Payload = ws
	case events.EventGameState:
		var su events.StateUpdate
		if err := json.Unmarshal(env.Payload, &su); err != nil {
			return evt, fmt.Errorf("unmarshal %s: %w", env.Type, err)
		}
		evt.Payload = su
	case events.EventGameFinish:
		var f events.Finish
		if err := json.Unmarshal(env.Payload, &f); err != nil {
			return evt, fmt.Errorf("unmarshal %s: %w", env.Type, err)
		}
		evt.Payload = f
	default:
		return evt, fmt.Errorf("unknown event type: %s", env.Type)
	}

	return evt, nil
}
