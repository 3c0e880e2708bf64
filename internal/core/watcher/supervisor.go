package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charleschow/chess-tv/internal/retry"
	"github.com/charleschow/chess-tv/internal/telemetry"
)

// Dialer opens a new socket.
type Dialer func(ctx context.Context) (Connection, error)

// Supervisor owns a Watcher for the life of the process: it dials, fills
// the watch set, runs the loop and, when Reconnect is set, redials after
// transport failures and resubscribes the same games.
type Supervisor struct {
	Watcher   *Watcher
	Dial      Dialer
	Target    int // pump to this many games after subscribing; 0 disables
	Reconnect bool

	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Run blocks until ctx is cancelled or a non-recoverable error occurs.
// Decode and directory failures are always returned; transport failures,
// including those while subscribing, are returned only when Reconnect is
// false. The first dial is not retried.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.Watcher.Close()

	conn, err := s.Dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: dial: %w", ErrTransport, err)
	}
	s.Watcher.Attach(conn)

	attempt := 0
	err = s.fill(ctx, s.Watcher.StartWatchingCurrentGames)
	for {
		if err == nil {
			connStart := time.Now()
			err = s.Watcher.Run(ctx)
			if time.Since(connStart) > retry.StableConn {
				attempt = 0
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !s.Reconnect || !errors.Is(err, ErrTransport) {
			return err
		}
		telemetry.Warnf("watcher: connection lost: %v", err)

		next, dialErr := s.redial(ctx, &attempt)
		if dialErr != nil {
			return dialErr
		}
		s.Watcher.Attach(next)
		telemetry.Metrics.Reconnects.Inc()

		err = s.fill(ctx, s.Watcher.Resubscribe)
	}
}

// fill subscribes, then tops the set up to Target. The pump also runs after
// a resubscribe, which covers a first list that came back empty and a pump
// cut short by a dropped connection.
func (s *Supervisor) fill(ctx context.Context, subscribe func(context.Context) error) error {
	if err := subscribe(ctx); err != nil {
		return err
	}
	if s.Target > 0 && len(s.Watcher.watched) > 0 {
		return s.Watcher.PumpReplacementsUntilCount(ctx, s.Target)
	}
	return nil
}

func (s *Supervisor) redial(ctx context.Context, attempt *int) (Connection, error) {
	for {
		*attempt++
		backoff := s.backoff(*attempt)
		telemetry.Warnf("watcher: reconnecting (attempt %d) in %s", *attempt, backoff)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		conn, err := s.Dial(ctx)
		if err == nil {
			telemetry.Infof("watcher: reconnected")
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		telemetry.Warnf("watcher: dial failed: %v", err)
	}
}

func (s *Supervisor) backoff(attempt int) time.Duration {
	return retry.Backoff(attempt, s.MinBackoff, s.MaxBackoff)
}
