package lichess_ws

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/charleschow/chess-tv/internal/telemetry"
)

const (
	sriLength     = 12
	sriAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	socketPath    = "/socket/v5"
	writeDeadline = 5 * time.Second
	inboundBuffer = 64
)

// Inbound is one read result: a text frame, or the terminal error.
type Inbound struct {
	Data []byte
	Err  error
}

// Conn owns a single lichess socket.
//
// Gorilla/websocket supports one concurrent reader and one concurrent
// writer. The reader is the goroutine started by Dial; writes are
// serialized through mu.
type Conn struct {
	ws  *websocket.Conn
	sri string

	mu     sync.Mutex
	closed bool

	inbound chan Inbound
	done    chan struct{}
}

// NewSRI returns a random socket client id. It only needs to be unique.
func NewSRI() string {
	var b strings.Builder
	b.Grow(sriLength)
	for range sriLength {
		b.WriteByte(sriAlphabet[rand.IntN(len(sriAlphabet))])
	}
	return b.String()
}

// SocketURL appends the v5 socket path and sri to base.
func SocketURL(base, sri string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + socketPath)
	if err != nil {
		return "", fmt.Errorf("parse socket url: %w", err)
	}
	q := u.Query()
	q.Set("sri", sri)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial connects to base (e.g. wss://socket2.lichess.org) and starts reading.
func Dial(ctx context.Context, base string) (*Conn, error) {
	sri := NewSRI()
	target, err := SocketURL(base, sri)
	if err != nil {
		return nil, err
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	c := &Conn{
		ws:      ws,
		sri:     sri,
		inbound: make(chan Inbound, inboundBuffer),
		done:    make(chan struct{}),
	}

	ws.SetPingHandler(func(appData string) error {
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeDeadline))
	})

	telemetry.Infof("lichess_ws: connected sri=%s", sri)
	go c.readLoop()
	return c, nil
}

func (c *Conn) SRI() string { return c.sri }

// Inbound delivers text frames in arrival order. The first read failure is
// delivered as a final Inbound with Err set, then the channel is closed.
func (c *Conn) Inbound() <-chan Inbound {
	return c.inbound
}

func (c *Conn) readLoop() {
	defer close(c.inbound)

	for {
		kind, msg, err := c.ws.ReadMessage()
		if err != nil {
			c.deliver(Inbound{Err: classifyReadErr(err)})
			return
		}
		if kind != websocket.TextMessage {
			c.deliver(Inbound{Err: ErrBinaryFrame})
			return
		}
		if !c.deliver(Inbound{Data: msg}) {
			return
		}
	}
}

func (c *Conn) deliver(in Inbound) bool {
	select {
	case c.inbound <- in:
		return true
	case <-c.done:
		return false
	}
}

func classifyReadErr(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return fmt.Errorf("%w: %v", ErrClosed, ce)
	}
	return fmt.Errorf("read: %w", err)
}

// Send writes one envelope as a text frame.
func (c *Conn) Send(env Envelope) error {
	data, err := Encode(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.T, err)
	}
	return c.write(data)
}

// SendKeepalive writes the literal "null" frame.
func (c *Conn) SendKeepalive() error {
	return c.write([]byte(keepalive))
}

func (c *Conn) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Close tears down the socket and stops the reader.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()
	return c.ws.Close()
}
