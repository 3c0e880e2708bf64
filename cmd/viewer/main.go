package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/charleschow/chess-tv/internal/config"
	"github.com/charleschow/chess-tv/internal/core/display"
	"github.com/charleschow/chess-tv/internal/events"
	"github.com/charleschow/chess-tv/internal/fanout"
	"github.com/charleschow/chess-tv/internal/telemetry"
)

func main() {
	cfg := config.Load()
	addr := flag.String("addr", cfg.FanoutAddr, "fanout server host:port")
	flag.Parse()

	telemetry.Init(telemetry.ParseLogLevel(cfg.LogLevel))
	telemetry.Infof("Viewer connecting to %s", *addr)

	bus := events.NewBus()
	bus.OnError(func(e events.Event, err error) {
		telemetry.Warnf("viewer: %s handler: %v", e.Type, err)
	})
	display.NewObserver(os.Stdout, cfg.DisplayThrottle).Register(bus)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fanout.NewClient(*addr, bus).ConnectWithRetry(ctx)
	telemetry.Infof("Viewer stopped")
}
