package fanout

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/charleschow/chess-tv/internal/events"
	"github.com/charleschow/chess-tv/internal/retry"
	"github.com/charleschow/chess-tv/internal/telemetry"
)

// Client connects to a watcher's fanout server and republishes what it
// receives onto a local bus, so a viewer process can run the same display.
type Client struct {
	addr string
	bus  *events.Bus
}

func NewClient(addr string, bus *events.Bus) *Client {
	return &Client{addr: addr, bus: bus}
}

// ConnectWithRetry keeps a viewer session open until ctx is cancelled,
// redialing with the shared backoff after every failure.
func (c *Client) ConnectWithRetry(ctx context.Context) {
	for attempt := 1; ctx.Err() == nil; attempt++ {
		started := time.Now()
		err := c.connect(ctx)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > retry.StableConn {
			attempt = 1
		}

		wait := retry.Backoff(attempt, 0, 0)
		telemetry.Warnf("fanout: viewer session ended (attempt %d): %v, redialing in %s", attempt, err, wait)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// connect runs one viewer session and returns why it ended.
func (c *Client) connect(ctx context.Context) error {
	target := "ws://" + c.addr + "/ws"
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer ws.Close()
	defer context.AfterFunc(ctx, func() { ws.Close() })()

	telemetry.Infof("fanout: viewing %s", c.addr)
	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		evt, err := UnmarshalEvent(frame)
		if err != nil {
			telemetry.Metrics.DecodeErrors.Inc()
			telemetry.Warnf("fanout: skipping frame: %v", err)
			continue
		}
		c.bus.Publish(evt)
	}
}
