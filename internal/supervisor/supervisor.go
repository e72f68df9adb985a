// Package supervisor implements the App FSM: it owns the ZooKeeper session
// lifecycle, wires the Server Watcher's output through a one-slot
// coalescing queue into the Reconciler and LB Manager, and restarts the
// whole session on a fatal error or session expiry via a
// signal.Notify-driven main loop.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/TritonDataCenter/muppet-sub000/internal/constants"
	"github.com/TritonDataCenter/muppet-sub000/internal/haproxystats"
	"github.com/TritonDataCenter/muppet-sub000/internal/lbmanager"
	"github.com/TritonDataCenter/muppet-sub000/internal/model"
	"github.com/TritonDataCenter/muppet-sub000/internal/reconcile"
	"github.com/TritonDataCenter/muppet-sub000/internal/watcher"
	"github.com/TritonDataCenter/muppet-sub000/internal/zk"
)

// socketExecutor is the capability the supervisor needs from the Socket
// Serializer to drive stats queries and the cheap reconcile path.
type socketExecutor interface {
	Execute(ctx context.Context, command string) ([]byte, error)
}

// Config wires the supervisor to its dependencies.
type Config struct {
	ZKServers       []string
	SessionTimeout  time.Duration
	BasePath        string
	WatcherOptions  watcher.Options
	Executor        socketExecutor
	LBManager       *lbmanager.Manager
	PeriodicRefresh time.Duration
	Logger          zerolog.Logger
}

// Supervisor runs the App FSM until its context is cancelled.
type Supervisor struct {
	cfg Config
}

// New builds a Supervisor.
func New(cfg Config) *Supervisor {
	if cfg.PeriodicRefresh == 0 {
		cfg.PeriodicRefresh = constants.DefaultPeriodicRefresh
	}
	return &Supervisor{cfg: cfg}
}

// Run drives the starting -> connecting -> running -> restart/stopping
// state machine until ctx is cancelled or SIGINT/SIGTERM is received.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = constants.ZKReconnectInitialInterval
	bo.MaxInterval = constants.ZKReconnectMaxInterval
	bo.MaxElapsedTime = 0 // unbounded retries: only ctx cancellation stops us

	for {
		if ctx.Err() != nil {
			return nil
		}

		s.cfg.Logger.Info().Strs("servers", s.cfg.ZKServers).Msg("supervisor: connecting")
		client, err := zk.Connect(s.cfg.ZKServers, s.cfg.SessionTimeout)
		if err != nil {
			wait := bo.NextBackOff()
			s.cfg.Logger.Warn().Err(err).Dur("retry_in", wait).Msg("supervisor: connect failed, restarting")
			if !sleepOrDone(ctx, wait) {
				return nil
			}
			continue
		}

		err = s.runSession(ctx, client)
		client.Close()

		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}

		wait := bo.NextBackOff()
		s.cfg.Logger.Error().Err(err).Dur("retry_in", wait).Msg("supervisor: session ended, restarting")
		if !sleepOrDone(ctx, wait) {
			return nil
		}
		bo.Reset()
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// runSession is the "connecting"/"running" portion of the App FSM: it
// holds one ZK session, one Server Watcher, and the reconcile loop that
// consumes the watcher's coalesced output. Any error it returns (other
// than context cancellation) is fatal to the session and triggers a
// reconnect with a fresh backoff state.
func (s *Supervisor) runSession(ctx context.Context, client zk.Client) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := watcher.New(client, s.cfg.BasePath, s.cfg.WatcherOptions, s.cfg.Logger)
	watcherOut := make(chan model.ServerSet)
	forwarded := make(chan model.ServerSet, 1)

	watcherErr := make(chan error, 1)
	go func() {
		watcherErr <- w.Run(sessionCtx, watcherOut)
	}()

	ticker := time.NewTicker(s.cfg.PeriodicRefresh)
	defer ticker.Stop()

	go forwardLatest(sessionCtx, watcherOut, ticker.C, forwarded)

	sessionEvents := client.SessionEvents()

	for {
		select {
		case <-sessionCtx.Done():
			return nil

		case err := <-watcherErr:
			if err != nil {
				return fmt.Errorf("supervisor: watcher stopped: %w", err)
			}
			watcherErr = nil

		case ev, ok := <-sessionEvents:
			if !ok {
				return fmt.Errorf("supervisor: zk session event channel closed")
			}
			if zk.SessionExpired(ev) {
				return fmt.Errorf("supervisor: zk session expired")
			}
			if zk.SessionDisconnected(ev) {
				s.cfg.Logger.Warn().Msg("supervisor: zk session disconnected, awaiting reconnect or expiry")
			}
			if zk.SessionEstablished(ev) {
				s.cfg.Logger.Debug().Msg("supervisor: zk session established")
			}

		case desired, ok := <-forwarded:
			if !ok {
				return nil
			}
			if err := s.reconcileOnce(sessionCtx, desired); err != nil {
				if errors.Is(err, reconcile.ErrUnmappedServer) {
					return fmt.Errorf("supervisor: %w", err)
				}
				s.cfg.Logger.Error().Err(err).Msg("supervisor: reconcile failed, will retry on next event")
			}
		}
	}
}

// reconcileOnce runs one pass of the Reconciler: classify the live stats
// against desired, take the expensive path (config
// regeneration and install) only when classification demands it, then
// always run the cheap admin-socket sync afterward so enable/disable
// state tracks desired even when no reload was needed.
func (s *Supervisor) reconcileOnce(ctx context.Context, desired model.ServerSet) error {
	reply, err := s.cfg.Executor.Execute(ctx, "show stat -1 4 -1")
	if err != nil {
		return fmt.Errorf("supervisor: reconcile: stats query: %w", err)
	}
	rows, err := haproxystats.Parse(reply)
	if err != nil {
		return fmt.Errorf("supervisor: reconcile: %w", err)
	}

	result := reconcile.CheckStats(desired, rows)
	if result.Reload {
		s.cfg.Logger.Info().Int("wrong", len(result.Wrong)).Msg("supervisor: reload required, regenerating config")
		if err := s.cfg.LBManager.Install(ctx, desired); err != nil {
			return fmt.Errorf("supervisor: install: %w", err)
		}
	}

	if err := reconcile.SyncServerState(ctx, s.cfg.Executor, s.cfg.Logger, desired); err != nil {
		return fmt.Errorf("supervisor: sync: %w", err)
	}
	return nil
}

// forwardLatest implements the bounded-capacity-1 overwrite queue between
// the watcher and the reconcile loop: while a reconcile is in flight,
// only the most recently observed desired set is kept pending, and a
// periodic tick re-delivers the last known set as a forced safety-net
// reconcile.
func forwardLatest(ctx context.Context, in <-chan model.ServerSet, tick <-chan time.Time, out chan<- model.ServerSet) {
	var pending *model.ServerSet
	var lastSeen *model.ServerSet

	for {
		if pending == nil {
			select {
			case v, ok := <-in:
				if !ok {
					return
				}
				cp := v
				pending, lastSeen = &cp, &cp
			case <-tick:
				if lastSeen != nil {
					cp := *lastSeen
					pending = &cp
				}
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case v, ok := <-in:
			if !ok {
				return
			}
			cp := v
			pending, lastSeen = &cp, &cp
		case <-tick:
			// already have something pending; the tick's job is done
		case out <- *pending:
			pending = nil
		case <-ctx.Done():
			return
		}
	}
}
