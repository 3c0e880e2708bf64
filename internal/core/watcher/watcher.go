package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charleschow/chess-tv/internal/adapters/inbound/lichess_ws"
	"github.com/charleschow/chess-tv/internal/adapters/outbound/lichess_http"
	"github.com/charleschow/chess-tv/internal/events"
	"github.com/charleschow/chess-tv/internal/telemetry"
)

const (
	DefaultReplaceCooldown = 3 * time.Second
	DefaultKeepalive       = 5 * time.Second
	defaultCommandBuffer   = 32
)

var (
	// ErrTransport marks a socket failure. The connection is unusable; the
	// caller may dial again and Attach the new one.
	ErrTransport = errors.New("watcher: transport failure")
	// ErrDecode marks an inbound frame that is neither a heartbeat nor a
	// known event.
	ErrDecode = errors.New("watcher: undecodable frame")
	// ErrEmptyWatchSet is returned by PumpReplacementsUntilCount when there
	// is no game to anchor the replacement request on.
	ErrEmptyWatchSet = errors.New("watcher: watch set is empty")
	// ErrNoConnection is returned when an operation needs the socket before
	// Attach was called.
	ErrNoConnection = errors.New("watcher: no connection attached")
)

// Connection is the socket as the watcher sees it.
type Connection interface {
	Send(lichess_ws.Envelope) error
	SendKeepalive() error
	Inbound() <-chan lichess_ws.Inbound
	Close() error
}

// Directory supplies games to watch.
type Directory interface {
	LiveGames(ctx context.Context, category lichess_http.Category) ([]lichess_http.GameInfo, error)
	Replacement(ctx context.Context, category lichess_http.Category, anchor events.GameID, exclude []events.GameID) (events.GameID, error)
}

// Publisher receives everything the watcher reports downstream.
type Publisher interface {
	Publish(ctx context.Context, e events.Event) error
}

type Options struct {
	Category        lichess_http.Category
	ReplaceCooldown time.Duration
	Keepalive       time.Duration
	CommandBuffer   int
}

func (o *Options) setDefaults() {
	if o.Category == "" {
		o.Category = lichess_http.CategoryBest
	}
	if o.ReplaceCooldown <= 0 {
		o.ReplaceCooldown = DefaultReplaceCooldown
	}
	if o.Keepalive <= 0 {
		o.Keepalive = DefaultKeepalive
	}
	if o.CommandBuffer <= 0 {
		o.CommandBuffer = defaultCommandBuffer
	}
}

// Watcher keeps a set of lichess TV games subscribed over one socket and
// republishes their updates.
//
// The watch set, the connection and the directory calls are only touched
// from the goroutine driving the watcher (the caller of Run and of the
// StartWatching* methods). The scheduler's timers talk to it through the
// command channel.
type Watcher struct {
	conn  Connection
	dir   Directory
	pub   Publisher
	opts  Options
	sched *Scheduler

	commands chan Command
	watched  events.WatchSet
}

func New(dir Directory, pub Publisher, opts Options) *Watcher {
	opts.setDefaults()
	commands := make(chan Command, opts.CommandBuffer)
	return &Watcher{
		dir:      dir,
		pub:      pub,
		opts:     opts,
		commands: commands,
		sched:    NewScheduler(opts.ReplaceCooldown, commands),
		watched:  events.WatchSet{},
	}
}

// Attach hands the watcher a freshly dialed connection. Any previous
// connection is closed.
func (w *Watcher) Attach(conn Connection) {
	if w.conn != nil && w.conn != conn {
		if err := w.conn.Close(); err != nil {
			telemetry.Debugf("watcher: closing previous connection: %v", err)
		}
	}
	w.conn = conn
}

// WatchSet returns a copy of the games currently watched.
func (w *Watcher) WatchSet() events.WatchSet {
	return w.watched.Clone()
}

// PendingReplacements reports replacements waiting out their cool-down.
func (w *Watcher) PendingReplacements() int {
	return w.sched.Pending()
}

// Close cancels pending replacements and closes the connection.
func (w *Watcher) Close() error {
	w.sched.Stop()
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}

func (w *Watcher) send(env lichess_ws.Envelope) error {
	if w.conn == nil {
		return ErrNoConnection
	}
	if err := w.conn.Send(env); err != nil {
		return fmt.Errorf("%w: send %s: %w", ErrTransport, env.T, err)
	}
	telemetry.Metrics.SubscribesSent.Inc()
	return nil
}

func (w *Watcher) publishWatchSet(ctx context.Context) error {
	telemetry.Metrics.WatchedGames.Set(int64(len(w.watched)))
	return w.publish(ctx, events.NewWatchSetEvent(w.watched))
}

func (w *Watcher) publish(ctx context.Context, e events.Event) error {
	if err := w.pub.Publish(ctx, e); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	telemetry.Metrics.EventsPublished.Inc()
	return nil
}

// StartWatchingOne subscribes to id and appends it to the watch set.
func (w *Watcher) StartWatchingOne(ctx context.Context, id events.GameID) error {
	if err := w.send(lichess_ws.StartWatching(id)); err != nil {
		return err
	}
	w.watched = append(w.watched, id)
	telemetry.Debugf("watcher: watching %s (%d games)", id, len(w.watched))
	return w.publishWatchSet(ctx)
}

// StartWatchingOneInstead puts newID in oldID's slot, keeping display
// order. Only the first occurrence of oldID is replaced. If oldID is not
// watched nothing is sent, but the current set is still published so
// consumers resync.
func (w *Watcher) StartWatchingOneInstead(ctx context.Context, newID, oldID events.GameID) error {
	if i := w.watched.Index(oldID); i >= 0 {
		if err := w.send(lichess_ws.StartWatching(newID)); err != nil {
			return err
		}
		w.watched[i] = newID
		telemetry.Infof("watcher: slot %d %s -> %s", i, oldID, newID)
	} else {
		telemetry.Warnf("watcher: %s is not watched, no replacement sent", oldID)
	}
	return w.publishWatchSet(ctx)
}

// StartWatchingCurrentGames subscribes to the category's live games with a
// single combined command.
func (w *Watcher) StartWatchingCurrentGames(ctx context.Context) error {
	games, err := w.dir.LiveGames(ctx, w.opts.Category)
	if err != nil {
		return err
	}

	ids := make([]events.GameID, 0, len(games))
	for _, g := range games {
		ids = append(ids, g.ID)
		telemetry.Debugf("watcher: live %s  %s  %s", g.ID, g.Speed, g.Label())
	}

	// An empty batch would go out as a bare "startWatching" with an empty
	// payload, which the server does not define.
	if len(ids) > 0 {
		if err := w.send(lichess_ws.StartWatching(ids...)); err != nil {
			return err
		}
		w.watched = append(w.watched, ids...)
	} else {
		telemetry.Warnf("watcher: %s channel has no live games", w.opts.Category)
	}

	telemetry.Infof("watcher: watching %d %s games", len(w.watched), w.opts.Category)
	return w.publishWatchSet(ctx)
}

// PumpReplacementsUntilCount asks the directory for more games until the
// watch set holds target games. Replacements are anchored on the first
// watched game, so the set must not be empty.
func (w *Watcher) PumpReplacementsUntilCount(ctx context.Context, target int) error {
	if len(w.watched) >= target {
		return nil
	}
	if len(w.watched) == 0 {
		return ErrEmptyWatchSet
	}

	for len(w.watched) < target {
		id, err := w.dir.Replacement(ctx, w.opts.Category, w.watched[0], w.watched.Clone())
		if err != nil {
			return fmt.Errorf("pump to %d: %w", target, err)
		}
		if err := w.StartWatchingOne(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Resubscribe re-sends one combined subscribe for the whole watch set,
// used after Attach on a reconnect.
func (w *Watcher) Resubscribe(ctx context.Context) error {
	if len(w.watched) == 0 {
		return w.StartWatchingCurrentGames(ctx)
	}
	if err := w.send(lichess_ws.StartWatching(w.watched...)); err != nil {
		return err
	}
	telemetry.Infof("watcher: resubscribed %d games", len(w.watched))
	return w.publishWatchSet(ctx)
}

// Run services the socket, the command channel and the keepalive timer
// until one of them fails or ctx is cancelled. Only one of the three is
// handled at a time.
//
// Socket failures return an error wrapping ErrTransport; bad frames one
// wrapping ErrDecode. A failed replacement fetch does not stop the loop:
// it is retried after another cool-down.
func (w *Watcher) Run(ctx context.Context) error {
	if w.conn == nil {
		return ErrNoConnection
	}

	keepalive := time.NewTicker(w.opts.Keepalive)
	defer keepalive.Stop()

	inbound := w.conn.Inbound()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case in, ok := <-inbound:
			if !ok {
				return fmt.Errorf("%w: %w", ErrTransport, lichess_ws.ErrClosed)
			}
			if in.Err != nil {
				return fmt.Errorf("%w: %w", ErrTransport, in.Err)
			}
			if err := w.handleFrame(ctx, in.Data); err != nil {
				return err
			}

		case cmd := <-w.commands:
			if err := w.handleCommand(ctx, cmd); err != nil {
				return err
			}

		case <-keepalive.C:
			if err := w.conn.SendKeepalive(); err != nil {
				return fmt.Errorf("%w: keepalive: %w", ErrTransport, err)
			}
			telemetry.Metrics.KeepalivesSent.Inc()
		}
	}
}

func (w *Watcher) handleFrame(ctx context.Context, data []byte) error {
	telemetry.Metrics.FramesReceived.Inc()

	evt, ok, err := lichess_ws.Decode(data)
	if err != nil {
		telemetry.Metrics.DecodeErrors.Inc()
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if !ok {
		telemetry.Metrics.Heartbeats.Inc()
		return nil
	}

	if f, isFinish := evt.(events.Finish); isFinish {
		telemetry.Infof("watcher: %s finished (%s), replacing in %s", f.ID, winner(f), w.opts.ReplaceCooldown)
		w.sched.Schedule(f.ID)
	}
	return w.publish(ctx, events.NewGameEvent(evt))
}

func (w *Watcher) handleCommand(ctx context.Context, cmd Command) error {
	switch c := cmd.(type) {
	case ReplaceGame:
		return w.replaceGame(ctx, c.ID)
	default:
		telemetry.Warnf("watcher: ignoring unknown command %T", cmd)
		return nil
	}
}

func (w *Watcher) replaceGame(ctx context.Context, oldID events.GameID) error {
	telemetry.Metrics.ReplacementsRequested.Inc()

	newID, err := w.dir.Replacement(ctx, w.opts.Category, oldID, w.watched.Clone())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		telemetry.Metrics.ReplacementFailures.Inc()
		telemetry.Warnf("watcher: replacement for %s failed, retrying in %s: %v", oldID, w.opts.ReplaceCooldown, err)
		w.sched.Schedule(oldID)
		return nil
	}
	return w.StartWatchingOneInstead(ctx, newID, oldID)
}

func winner(f events.Finish) string {
	if f.Win == nil {
		return "draw"
	}
	return *f.Win + " wins"
}
