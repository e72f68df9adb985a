// Package watcher implements the Server Watcher: it keeps a
// canonical, de-duplicated model.ServerSet in sync with a ZooKeeper
// service-discovery directory, smearing bursts of child-change events into
// a single collection window and dampening flapping removals before they
// reach the Reconciler.
package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	zkgo "github.com/go-zookeeper/zk"
	"github.com/jinzhu/copier"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/TritonDataCenter/muppet-sub000/internal/constants"
	"github.com/TritonDataCenter/muppet-sub000/internal/helpers"
	"github.com/TritonDataCenter/muppet-sub000/internal/model"
	"github.com/TritonDataCenter/muppet-sub000/internal/zk"
)

// hostPayload is the JSON shape of a registration znode's data. Only
// entries with Type == "host" contribute a desired server; anything else,
// or a payload that fails to decode, is skipped and logged rather than
// treated as fatal.
type hostPayload struct {
	Type string `json:"type"`
	Host struct {
		Address string `json:"address"`
	} `json:"host"`
}

// Options configures the Server Watcher's timing and concurrency.
type Options struct {
	CollectionTimeout time.Duration // burst-smearing window (default 500ms)
	RemovalHoldTime   time.Duration // how long a disappeared id is dampened (default 30s)
	RemovalThreshold  float64       // fraction of the set that may vanish in one pass before it's suppressed (default 0.3)
	FetchConcurrency  int           // 0 means unbounded (one goroutine per child)
}

// DefaultOptions returns the default collection and dampening timing.
func DefaultOptions() Options {
	return Options{
		CollectionTimeout: constants.DefaultCollectionTimeout,
		RemovalHoldTime:   constants.DefaultRemovalHoldTime,
		RemovalThreshold:  constants.DefaultRemovalThreshold,
	}
}

// pendingRemoval tracks when an id was first observed missing, so the
// watcher can hold it present until RemovalHoldTime elapses.
type pendingRemoval struct {
	server  model.DesiredServer
	missing time.Time
}

// Watcher tracks basePath's children and emits canonical server sets.
type Watcher struct {
	client   zk.Client
	basePath string
	opts     Options
	logger   zerolog.Logger

	last     model.ServerSet
	removals map[string]pendingRemoval
}

// New builds a Watcher for basePath.
func New(client zk.Client, basePath string, opts Options, logger zerolog.Logger) *Watcher {
	return &Watcher{
		client:   client,
		basePath: basePath,
		opts:     opts,
		logger:   logger,
		last:     model.ServerSet{},
		removals: map[string]pendingRemoval{},
	}
}

// Run watches basePath until ctx is cancelled or a fatal ZK error occurs,
// sending a canonical model.ServerSet to out every time the emission rule
// decides the set actually changed. Run owns out and never
// closes it; the caller closes ctx to stop.
//
// A burst of near-simultaneous child changes is smeared into a single
// collection pass using the same per-key Debouncer the rest of the codebase
// uses for coalescing bursty events: every watch event resets a
// CollectionTimeout timer, and the actual re-fetch-and-emit only runs once
// the key goes quiet.
func (w *Watcher) Run(ctx context.Context, out chan<- model.ServerSet) error {
	if err := w.client.CreateIfMissing(w.basePath); err != nil {
		return fmt.Errorf("watcher: %w", err)
	}

	debouncer := helpers.NewDebouncer(w.opts.CollectionTimeout)
	defer debouncer.Stop()

	trigger := make(chan struct{}, 1)
	notify := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	children, changed, err := w.client.ChildrenW(w.basePath)
	if err != nil {
		return fmt.Errorf("watcher: childrenw %s: %w", w.basePath, err)
	}
	if err := w.collectAndEmit(ctx, children, out); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case _, ok := <-changed:
			if !ok {
				return fmt.Errorf("watcher: children watch channel closed for %s", w.basePath)
			}
			debouncer.Debounce(w.basePath, notify)

		case <-trigger:
			var newChildren []string
			var newChanged <-chan zkgo.Event
			newChildren, newChanged, err = w.client.ChildrenW(w.basePath)
			if err != nil {
				return fmt.Errorf("watcher: childrenw %s: %w", w.basePath, err)
			}
			changed = newChanged
			if err := w.collectAndEmit(ctx, newChildren, out); err != nil {
				return err
			}
		}
	}
}

func (w *Watcher) collectAndEmit(ctx context.Context, children []string, out chan<- model.ServerSet) error {
	fetched, err := w.fetchAll(ctx, children)
	if err != nil {
		return err
	}

	dampened := w.applyRemovalDampening(fetched)

	if dampened.Equal(w.last) {
		return nil
	}
	w.last = dampened.Clone()

	select {
	case out <- dampened:
	case <-ctx.Done():
		return nil
	}
	return nil
}

// fetchAll retrieves and decodes every child's payload, bounded by
// FetchConcurrency (0 = one goroutine per child). A child that has
// vanished (ErrNoNode), timed out on a ping, or whose payload is
// malformed or not a host registration is skipped and logged, never
// fatal. Any other fetch error escalates and fails the whole pass.
func (w *Watcher) fetchAll(ctx context.Context, children []string) (model.ServerSet, error) {
	results := make([]*model.DesiredServer, len(children))

	g, gctx := errgroup.WithContext(ctx)
	if w.opts.FetchConcurrency > 0 {
		g.SetLimit(w.opts.FetchConcurrency)
	}

	for i, child := range children {
		i, child := i, child
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			default:
			}
			server, ok, err := w.fetchOne(child)
			if err != nil {
				return err
			}
			if ok {
				results[i] = &server
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("watcher: fetch children of %s: %w", w.basePath, err)
	}

	set := make(model.ServerSet, len(children))
	for _, r := range results {
		if r != nil {
			set[r.ID] = *r
		}
	}
	return set, nil
}

// fetchOne fetches and decodes a single child's payload. The bool return
// is only meaningful when err is nil: false means the child was skipped
// for a non-fatal reason (vanished, ping timeout, malformed payload, or
// not a host registration) and should simply be absent from the set. A
// non-nil err is anything else Get returned, and escalates to the caller.
func (w *Watcher) fetchOne(child string) (model.DesiredServer, bool, error) {
	path := w.basePath + "/" + child
	data, err := w.client.Get(path)
	if err != nil {
		if zk.IsNoNode(err) {
			w.logger.Debug().Str("path", path).Msg("watcher: child vanished before fetch")
			return model.DesiredServer{}, false, nil
		}
		if zk.IsPingTimeout(err) {
			w.logger.Warn().Err(err).Str("path", path).Msg("watcher: ping timeout fetching child")
			return model.DesiredServer{}, false, nil
		}
		return model.DesiredServer{}, false, fmt.Errorf("watcher: fetch %s: %w", path, err)
	}

	var payload hostPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		w.logger.Warn().Err(err).Str("path", path).Msg("watcher: malformed registration payload")
		return model.DesiredServer{}, false, nil
	}
	if payload.Type != "host" {
		w.logger.Debug().Str("path", path).Str("type", payload.Type).Msg("watcher: skipping non-host registration")
		return model.DesiredServer{}, false, nil
	}
	if payload.Host.Address == "" {
		w.logger.Warn().Str("path", path).Msg("watcher: host registration missing address")
		return model.DesiredServer{}, false, nil
	}

	return model.DesiredServer{
		ID:      child,
		Kind:    payload.Type,
		Address: payload.Host.Address,
		Enabled: true,
	}, true, nil
}

// applyRemovalDampening holds ids that disappeared from fetched present a
// bit longer: an id missing from fetched but present in
// w.last is kept, staged under RemovalHoldTime, unless removing it would
// drop more than RemovalThreshold of the previous set's size at once, in
// which case the whole batch of removals is held and logged as a burst,
// each id until its own RemovalHoldTime has elapsed
// (this must not fire for small, legitimate changes).
func (w *Watcher) applyRemovalDampening(fetched model.ServerSet) model.ServerSet {
	// Snapshot w.last field-by-field before staging removals against it,
	// so a later mutation of a staged pendingRemoval.server never aliases
	// the set we just compared.
	snapshot := make(model.ServerSet, len(w.last))
	for id, d := range w.last {
		var copied model.DesiredServer
		if err := copier.Copy(&copied, &d); err != nil {
			copied = d
		}
		snapshot[id] = copied
	}

	now := time.Now()

	var missing []string
	for id := range snapshot {
		if _, ok := fetched[id]; !ok {
			missing = append(missing, id)
		}
	}

	if len(snapshot) > 0 && len(missing) > 0 {
		fraction := float64(len(missing)) / float64(len(snapshot))
		if fraction > w.opts.RemovalThreshold {
			w.logger.Warn().
				Int("missing", len(missing)).
				Int("previous_total", len(snapshot)).
				Msg("watcher: removal burst exceeds threshold, holding all removals this pass")
			for _, id := range missing {
				w.stageRemoval(id, snapshot[id], now)
				if now.Sub(w.removals[id].missing) < w.opts.RemovalHoldTime {
					fetched[id] = snapshot[id]
				} else {
					delete(w.removals, id)
				}
			}
			return fetched
		}
	}

	for _, id := range missing {
		w.stageRemoval(id, snapshot[id], now)
	}

	for id, pending := range w.removals {
		if _, stillMissing := fetched[id]; stillMissing {
			delete(w.removals, id)
			continue
		}
		if now.Sub(pending.missing) < w.opts.RemovalHoldTime {
			fetched[id] = pending.server
			continue
		}
		// Hold time elapsed: let the removal through and stop tracking it.
		delete(w.removals, id)
	}

	return fetched
}

func (w *Watcher) stageRemoval(id string, server model.DesiredServer, now time.Time) {
	if _, already := w.removals[id]; already {
		return
	}
	w.removals[id] = pendingRemoval{server: server, missing: now}
}
