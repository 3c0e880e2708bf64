package process

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/charleschow/chess-tv/internal/adapters/inbound/lichess_ws"
	"github.com/charleschow/chess-tv/internal/adapters/outbound/lichess_http"
	"github.com/charleschow/chess-tv/internal/config"
	"github.com/charleschow/chess-tv/internal/core/display"
	"github.com/charleschow/chess-tv/internal/core/watcher"
	"github.com/charleschow/chess-tv/internal/events"
	"github.com/charleschow/chess-tv/internal/fanout"
	"github.com/charleschow/chess-tv/internal/telemetry"
)

// Run boots the watcher daemon from the environment and blocks until
// SIGINT/SIGTERM or a fatal watcher error.
func Run() {
	cfg := config.Load()
	telemetry.Init(telemetry.ParseLogLevel(cfg.LogLevel))

	if cfg.ProfilePath != "" {
		profile, err := config.LoadProfile(cfg.ProfilePath)
		if err != nil {
			telemetry.Errorf("Watch profile: %v", err)
			os.Exit(1)
		}
		profile.Apply(cfg)
		telemetry.Infof("Watch profile %q applied", cfg.ProfilePath)
	}

	telemetry.Plainf("chess-tv  category=%s  target=%d  cooldown=%s  fanout_port=%d",
		cfg.Category, cfg.WatchTarget, cfg.ReplaceCooldown, cfg.FanoutPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := Watch(ctx, cfg, os.Stdout)

	telemetry.Infof("Shutdown complete  frames=%d  heartbeats=%d  published=%d  replacements=%d  failed=%d  reconnects=%d  dir_p50=%s",
		telemetry.Metrics.FramesReceived.Value(),
		telemetry.Metrics.Heartbeats.Value(),
		telemetry.Metrics.EventsPublished.Value(),
		telemetry.Metrics.ReplacementsRequested.Value(),
		telemetry.Metrics.ReplacementFailures.Value(),
		telemetry.Metrics.Reconnects.Value(),
		telemetry.Metrics.DirectoryLatency.P50(),
	)

	if err != nil && !errors.Is(err, context.Canceled) {
		telemetry.Errorf("Watcher stopped: %v", err)
		os.Exit(1)
	}
}

// Watch wires the directory client, publisher, consumer bus, terminal
// display and optional fanout server around a supervised watcher, and
// runs it until ctx is cancelled or the watcher fails.
func Watch(ctx context.Context, cfg *config.Config, out io.Writer) error {
	telemetry.Infof("Starting %s TV watcher  api=%s  site=%s  socket=%s", cfg.Category, cfg.APIBaseURL, cfg.SiteURL, cfg.SocketURL)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// ── Directory ──────────────────────────────────────────────
	dir := lichess_http.NewClient(cfg.APIBaseURL, cfg.SiteURL, cfg.DirectoryRPS, cfg.ListSize)

	// ── Downstream ─────────────────────────────────────────────
	pub := events.NewPublisher(cfg.PublishBuffer)
	bus := events.NewBus()
	bus.OnError(func(e events.Event, err error) {
		telemetry.Warnf("bus: %s handler: %v", e.Type, err)
	})

	display.NewObserver(out, cfg.DisplayThrottle).Register(bus)

	var wg sync.WaitGroup
	if cfg.FanoutPort > 0 {
		srv := fanout.NewServer(bus)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(ctx, cfg.FanoutPort); err != nil {
				telemetry.Errorf("fanout: %v", err)
			}
		}()
	}

	// The bus outlives ctx: once the watcher stops the publisher is closed
	// and Drain returns after the last buffered event.
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		bus.Drain(context.WithoutCancel(ctx), pub.Events())
	}()

	// ── Watcher ────────────────────────────────────────────────
	w := watcher.New(dir, pub, watcher.Options{
		Category:        lichess_http.Category(cfg.Category),
		ReplaceCooldown: cfg.ReplaceCooldown,
		Keepalive:       cfg.Keepalive,
	})
	sup := &watcher.Supervisor{
		Watcher:   w,
		Dial:      socketDialer(cfg.SocketURL),
		Target:    cfg.WatchTarget,
		Reconnect: cfg.Reconnect,
	}

	err := sup.Run(ctx)
	pub.Close()
	<-drained
	cancel()
	wg.Wait()
	return err
}

func socketDialer(base string) watcher.Dialer {
	return func(ctx context.Context) (watcher.Connection, error) {
		conn, err := lichess_ws.Dial(ctx, base)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}
