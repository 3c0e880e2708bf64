package lichess_ws

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/charleschow/chess-tv/internal/events"
)

const (
	verbStartWatching = "startWatching"

	tagFen    = "fen"
	tagFinish = "finish"
)

var (
	ErrUnknownTag  = errors.New("lichess_ws: unknown message tag")
	ErrBinaryFrame = errors.New("lichess_ws: unexpected binary frame")
	ErrClosed      = errors.New("lichess_ws: connection closed")
)

// heartbeat is the server's no-op frame.
var heartbeat = []byte("0")

// keepalive is what we send to stop the server idling us out.
const keepalive = "null"

// Envelope is the two-field message format used in both directions.
type Envelope struct {
	T string `json:"t"`
	D string `json:"d"`
}

// StartWatching builds the subscribe command for ids. A single id is sent
// bare; several ids are sent as one payload with every id followed by a
// space ("a b c "), which is what the socket server expects.
func StartWatching(ids ...events.GameID) Envelope {
	if len(ids) == 1 {
		return Envelope{T: verbStartWatching, D: string(ids[0])}
	}
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(string(id))
		b.WriteByte(' ')
	}
	return Envelope{T: verbStartWatching, D: b.String()}
}

func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// inbound is the raw tagged frame; d stays raw until the tag is known.
type inbound struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d"`
}

// Decode turns a text frame into a RemoteEvent. Heartbeats report
// ok=false with no error.
func Decode(data []byte) (evt events.RemoteEvent, ok bool, err error) {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, heartbeat) {
		return nil, false, nil
	}

	var msg inbound
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, false, fmt.Errorf("lichess_ws: decode envelope: %w", err)
	}

	switch tag := strings.ToLower(msg.T); tag {
	case tagFen:
		var su events.StateUpdate
		if err := json.Unmarshal(msg.D, &su); err != nil {
			return nil, false, fmt.Errorf("lichess_ws: decode %s: %w", tag, err)
		}
		if su.ID == "" {
			return nil, false, fmt.Errorf("lichess_ws: decode %s: missing id", tag)
		}
		return su, true, nil
	case tagFinish:
		var f events.Finish
		if err := json.Unmarshal(msg.D, &f); err != nil {
			return nil, false, fmt.Errorf("lichess_ws: decode %s: %w", tag, err)
		}
		if f.ID == "" {
			return nil, false, fmt.Errorf("lichess_ws: decode %s: missing id", tag)
		}
		return f, true, nil
	default:
		return nil, false, fmt.Errorf("%w %q", ErrUnknownTag, msg.T)
	}
}
