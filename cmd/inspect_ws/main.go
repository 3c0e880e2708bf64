package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charleschow/chess-tv/internal/adapters/inbound/lichess_ws"
	"github.com/charleschow/chess-tv/internal/config"
	"github.com/charleschow/chess-tv/internal/core/watcher"
	"github.com/charleschow/chess-tv/internal/events"
	"github.com/charleschow/chess-tv/internal/telemetry"
)

func main() {
	cfg := config.Load()
	ids := flag.String("ids", "", "comma-separated game ids to subscribe to")
	n := flag.Int("n", 0, "stop after this many non-heartbeat frames (0 = until interrupted)")
	pretty := flag.Bool("pretty", false, "pretty-print JSON")
	socket := flag.String("socket", cfg.SocketURL, "socket host")
	flag.Parse()

	if *ids == "" {
		fmt.Fprintln(os.Stderr, "usage: go run ./cmd/inspect_ws -ids <id1,id2,...> [-n 20] [-pretty]")
		os.Exit(1)
	}
	telemetry.Init(telemetry.ParseLogLevel(cfg.LogLevel))

	var games []events.GameID
	for _, id := range strings.Split(*ids, ",") {
		if id = strings.TrimSpace(id); id != "" {
			games = append(games, events.GameID(id))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := lichess_ws.Dial(ctx, *socket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := conn.Send(lichess_ws.StartWatching(games...)); err != nil {
		fmt.Fprintf(os.Stderr, "subscribe: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("(sri=%s, watching %d games)\n", conn.SRI(), len(games))

	every := cfg.Keepalive
	if every <= 0 {
		every = watcher.DefaultKeepalive
	}
	keepalive := time.NewTicker(every)
	defer keepalive.Stop()

	count, heartbeats := 0, 0
	for *n == 0 || count < *n {
		select {
		case <-ctx.Done():
			fmt.Printf("(%d frames, %d heartbeats)\n", count, heartbeats)
			return
		case <-keepalive.C:
			if err := conn.SendKeepalive(); err != nil {
				fmt.Fprintf(os.Stderr, "keepalive: %v\n", err)
				os.Exit(1)
			}
		case in, ok := <-conn.Inbound():
			if !ok {
				fmt.Fprintln(os.Stderr, "socket closed")
				os.Exit(1)
			}
			if in.Err != nil {
				fmt.Fprintf(os.Stderr, "read: %v\n", in.Err)
				os.Exit(1)
			}

			evt, isEvent, err := lichess_ws.Decode(in.Data)
			if err == nil && !isEvent {
				heartbeats++
				continue
			}
			count++

			raw := string(in.Data)
			if *pretty {
				var buf bytes.Buffer
				if json.Indent(&buf, in.Data, "", "  ") == nil {
					raw = buf.String()
				}
			}
			decoded := fmt.Sprintf("%T %+v", evt, evt)
			if err != nil {
				decoded = "error: " + err.Error()
			}
			fmt.Printf("--- %s bytes=%d %s ---\n%s\n\n", time.Now().Format("15:04:05.000"), len(in.Data), decoded, raw)
		}
	}
	fmt.Printf("(%d frames, %d heartbeats)\n", count, heartbeats)
}
