package process

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/charleschow/chess-tv/internal/config"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fakeLichess serves the TV list under /api, the replacement route from the
// site root and the socket. frames are written after the first subscribe.
func fakeLichess(t *testing.T, subscribes chan<- string, frames ...string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/tv/best", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{\"id\":\"aaaa1111\"}\n{\"id\":\"bbbb2222\"}\n"))
	})
	mux.HandleFunc("/games/best/replacement/bbbb2222", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"cccc3333","html":""}`))
	})
	mux.HandleFunc("/socket/v5", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		first := true
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if string(data) == "null" {
				continue
			}
			subscribes <- string(data)
			if !first {
				continue
			}
			first = false
			for _, f := range frames {
				ws.WriteMessage(websocket.TextMessage, []byte(f))
			}
		}
	})
	return httptest.NewServer(mux)
}

func TestWatchEndToEnd(t *testing.T) {
	subscribes := make(chan string, 8)
	srv := fakeLichess(t, subscribes,
		"0",
		`{"t":"fen","d":{"id":"aaaa1111","lm":"e2e4","fen":"rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR","wc":180,"bc":180}}`,
		`{"t":"finish","d":{"id":"bbbb2222","win":"white"}}`,
	)
	defer srv.Close()

	cfg := &config.Config{
		APIBaseURL:      srv.URL + "/api",
		SiteURL:         srv.URL,
		SocketURL:       "ws" + strings.TrimPrefix(srv.URL, "http"),
		Category:        "best",
		ListSize:        30,
		ReplaceCooldown: 10 * time.Millisecond,
		Keepalive:       time.Hour,
		PublishBuffer:   100,
		Reconnect:       false,
	}

	var out syncBuffer
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, cfg, &out) }()

	for _, want := range []string{
		`{"t":"startWatching","d":"aaaa1111 bbbb2222 "}`,
		`{"t":"startWatching","d":"cccc3333"}`,
	} {
		select {
		case got := <-subscribes:
			if got != want {
				t.Fatalf("subscribe = %s, want %s", got, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		s := out.String()
		if strings.Contains(s, "e2e4") && strings.Contains(s, "finished 1-0") && strings.Contains(s, "cccc3333") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("display output incomplete:\n%s", s)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Watch = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatchReturnsDirectoryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/socket/") {
			upgrader := websocket.Upgrader{}
			if ws, err := upgrader.Upgrade(w, r, nil); err == nil {
				defer ws.Close()
				ws.ReadMessage()
			}
			return
		}
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := &config.Config{
		APIBaseURL:    srv.URL + "/api",
		SiteURL:       srv.URL,
		SocketURL:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		Category:      "best",
		ListSize:      5,
		PublishBuffer: 10,
	}
	err := Watch(context.Background(), cfg, &syncBuffer{})
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("Watch = %v, want a 503 directory error", err)
	}
}

func TestWatchShowsBufferedEventsOnFatalError(t *testing.T) {
	subscribes := make(chan string, 8)
	srv := fakeLichess(t, subscribes, `{"t":"crowd","d":{}}`)
	defer srv.Close()

	cfg := &config.Config{
		APIBaseURL:    srv.URL + "/api",
		SiteURL:       srv.URL,
		Category:      "best",
		ListSize:      30,
		Keepalive:     time.Hour,
		PublishBuffer: 100,
	}

	var out syncBuffer
	err := Watch(context.Background(), cfg, &out)
	if err == nil || !strings.Contains(err.Error(), "unknown message tag") {
		t.Fatalf("Watch = %v, want an unknown tag decode error", err)
	}
	if s := out.String(); !strings.Contains(s, "watching 2 games") {
		t.Errorf("final snapshot not displayed before return:\n%s", s)
	}
}
