package fanout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/charleschow/chess-tv/internal/events"
	"github.com/charleschow/chess-tv/internal/telemetry"
)

const (
	clientSendBuf = 256
	writeDeadline = 5 * time.Second
	pongWait      = 30 * time.Second
	pingInterval  = 20 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

type viewer struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// Server republishes downstream events to connected viewers. A slow viewer
// loses messages instead of stalling the bus, and every new viewer first
// receives the latest watch-set snapshot.
type Server struct {
	mu      sync.Mutex
	clients map[*viewer]struct{}
	latest  []byte
}

func NewServer(bus *events.Bus) *Server {
	s := &Server{
		clients: make(map[*viewer]struct{}),
	}
	bus.SubscribeAll(s.forward)
	return s
}

// forward is called on the bus goroutine. It serializes the event and
// enqueues it to every viewer (non-blocking).
func (s *Server) forward(evt events.Event) error {
	data, err := MarshalEvent(evt)
	if err != nil {
		return fmt.Errorf("fanout: marshal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.Type == events.EventWatchSetUpdated {
		s.latest = data
	}
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			telemetry.Metrics.FanoutDrops.Inc()
			telemetry.Warnf("fanout: dropping %s for slow viewer", evt.Type)
		}
	}
	return nil
}

// HandleWS is the HTTP handler for WebSocket upgrade requests.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		telemetry.Warnf("fanout: upgrade failed: %v", err)
		return
	}

	c := &viewer{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, clientSendBuf),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	if s.latest != nil {
		c.send <- s.latest
	}
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()

	telemetry.Infof("fanout: viewer %s connected from %s (%d total)", c.id, r.RemoteAddr, n)

	go s.writePump(c)
	go s.readPump(c)
}

func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// writePump drains the viewer's send channel and writes to the WS connection.
// It owns the viewer lifecycle: on exit it removes the viewer from the map
// (so forward never sends to a stale channel) and closes the connection.
func (s *Server) writePump(c *viewer) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.removeClient(c)
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				telemetry.Warnf("fanout: write error: %v", err)
				return
			}
		case <-c.done:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump keeps the connection alive by reading pongs / close frames.
// Viewers never send anything upstream. On exit it signals writePump via
// c.done (never closes c.send).
func (s *Server) readPump(c *viewer) {
	defer close(c.done)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(c *viewer) {
	s.mu.Lock()
	delete(s.clients, c)
	n := len(s.clients)
	s.mu.Unlock()
	telemetry.Infof("fanout: viewer %s disconnected (%d left)", c.id, n)
}

// ListenAndServe serves /ws on port until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           httpHandler(s),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	telemetry.Infof("fanout: listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func httpHandler(s *Server) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWS)
	return mux
}
