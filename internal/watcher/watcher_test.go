package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	zkgo "github.com/go-zookeeper/zk"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TritonDataCenter/muppet-sub000/internal/model"
)

// fakeClient is an in-memory zk.Client used to drive the watcher from
// table-driven scripted child sets, without a real ZooKeeper ensemble.
type fakeClient struct {
	mu       sync.Mutex
	nodes    map[string][]byte
	errs     map[string]error
	children []string
	watch    chan zkgo.Event
}

func newFakeClient(children []string, nodes map[string][]byte) *fakeClient {
	return &fakeClient{
		children: children,
		nodes:    nodes,
		errs:     map[string]error{},
		watch:    make(chan zkgo.Event, 1),
	}
}

// setErr makes Get(path) return err instead of looking up nodes.
func (f *fakeClient) setErr(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[path] = err
}

func (f *fakeClient) CreateIfMissing(string) error { return nil }

func (f *fakeClient) ChildrenW(string) ([]string, <-chan zkgo.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	children := make([]string, len(f.children))
	copy(children, f.children)
	ch := make(chan zkgo.Event, 1)
	f.watch = ch
	return children, ch, nil
}

func (f *fakeClient) Get(path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[path]; ok {
		return nil, err
	}
	data, ok := f.nodes[path]
	if !ok {
		return nil, fmt.Errorf("zk: get %s: %w", path, zkgo.ErrNoNode)
	}
	return data, nil
}

func (f *fakeClient) SessionEvents() <-chan zkgo.Event { return make(chan zkgo.Event) }
func (f *fakeClient) Close()                           {}

// setChildren updates the scripted child set and fires the pending watch.
func (f *fakeClient) setChildren(children []string, nodes map[string][]byte) {
	f.mu.Lock()
	f.children = children
	for k, v := range nodes {
		f.nodes[k] = v
	}
	watch := f.watch
	f.mu.Unlock()
	watch <- zkgo.Event{Type: zkgo.EventNodeChildrenChanged}
}

func hostNode(address string) []byte {
	data, _ := json.Marshal(map[string]any{
		"type": "host",
		"host": map[string]string{"address": address},
	})
	return data
}

func TestWatcherEmitsInitialSet(t *testing.T) {
	client := newFakeClient([]string{"A"}, map[string][]byte{
		"/webapi/A": hostNode("10.0.0.1:80"),
	})
	w := New(client, "/webapi", DefaultOptions(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan model.ServerSet, 4)
	go func() { _ = w.Run(ctx, out) }()

	select {
	case set := <-out:
		require.Len(t, set, 1)
		assert.Equal(t, "10.0.0.1:80", set["A"].Address)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial set")
	}
}

// TestWatcherSmearsBurst verifies that several rapid child changes within
// the collection window collapse into a single emitted set reflecting only
// the final state.
func TestWatcherSmearsBurst(t *testing.T) {
	client := newFakeClient([]string{"A"}, map[string][]byte{
		"/webapi/A": hostNode("10.0.0.1:80"),
	})
	opts := DefaultOptions()
	opts.CollectionTimeout = 100 * time.Millisecond
	w := New(client, "/webapi", opts, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan model.ServerSet, 8)
	go func() { _ = w.Run(ctx, out) }()

	require.Len(t, <-out, 1) // initial set

	client.setChildren([]string{"A", "B"}, map[string][]byte{"/webapi/B": hostNode("10.0.0.2:80")})
	time.Sleep(20 * time.Millisecond)
	client.setChildren([]string{"A", "B", "C"}, map[string][]byte{"/webapi/C": hostNode("10.0.0.3:80")})

	select {
	case set := <-out:
		assert.Len(t, set, 3, "burst should collapse into one emission with the final membership")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for smeared emission")
	}

	select {
	case set := <-out:
		t.Fatalf("expected exactly one emission for the burst, got a second: %v", set)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherSuppressesDuplicateEmission(t *testing.T) {
	client := newFakeClient([]string{"A"}, map[string][]byte{
		"/webapi/A": hostNode("10.0.0.1:80"),
	})
	opts := DefaultOptions()
	opts.CollectionTimeout = 20 * time.Millisecond
	w := New(client, "/webapi", opts, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan model.ServerSet, 4)
	go func() { _ = w.Run(ctx, out) }()
	<-out

	// Same membership re-announced: the watch fires and the collection
	// window re-runs, but collectAndEmit's Equal check must swallow it.
	client.setChildren([]string{"A"}, nil)

	select {
	case set := <-out:
		t.Fatalf("expected no emission for an unchanged set, got %v", set)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherSkipsNonHostAndMalformedPayloads(t *testing.T) {
	otherType, _ := json.Marshal(map[string]any{"type": "tcp"})
	client := newFakeClient([]string{"A", "B", "C"}, map[string][]byte{
		"/webapi/A": hostNode("10.0.0.1:80"),
		"/webapi/B": otherType,
		"/webapi/C": []byte("not json"),
	})
	w := New(client, "/webapi", DefaultOptions(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan model.ServerSet, 4)
	go func() { _ = w.Run(ctx, out) }()

	select {
	case set := <-out:
		require.Len(t, set, 1)
		_, ok := set["A"]
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial set")
	}
}

// TestWatcherVanishedNodeIsNotFatal verifies that a child removed between
// the children listing and the Get (a genuine ErrNoNode) is skipped rather
// than escalated.
func TestWatcherVanishedNodeIsNotFatal(t *testing.T) {
	client := newFakeClient([]string{"A", "B"}, map[string][]byte{
		"/webapi/A": hostNode("10.0.0.1:80"),
	})
	w := New(client, "/webapi", DefaultOptions(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan model.ServerSet, 4)
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx, out) }()

	select {
	case set := <-out:
		require.Len(t, set, 1)
		_, ok := set["A"]
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial set")
	}
	cancel()
	require.NoError(t, <-errCh)
}

// TestWatcherFetchErrorEscalates verifies that a Get failure other than
// no-node or a ping timeout is not swallowed: it propagates out of Run so
// the supervisor can restart the session.
func TestWatcherFetchErrorEscalates(t *testing.T) {
	client := newFakeClient([]string{"A"}, map[string][]byte{
		"/webapi/A": hostNode("10.0.0.1:80"),
	})
	client.setErr("/webapi/A", errors.New("zk: connection reset"))
	w := New(client, "/webapi", DefaultOptions(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan model.ServerSet, 4)

	err := w.Run(ctx, out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestApplyRemovalDampeningHoldsBriefDisappearance(t *testing.T) {
	// One of two servers missing is a 0.5 fraction; a 0.5 threshold keeps
	// this below the burst path, so only RemovalHoldTime holds B.
	w := New(nil, "/webapi", Options{RemovalHoldTime: time.Hour, RemovalThreshold: 0.5}, zerolog.Nop())
	w.last = model.ServerSet{
		"A": {ID: "A", Kind: "host", Address: "10.0.0.1:80", Enabled: true},
		"B": {ID: "B", Kind: "host", Address: "10.0.0.2:80", Enabled: true},
	}

	fetched := model.ServerSet{
		"A": {ID: "A", Kind: "host", Address: "10.0.0.1:80", Enabled: true},
	}
	result := w.applyRemovalDampening(fetched)
	require.Len(t, result, 2, "B should be held present within RemovalHoldTime")
	assert.Equal(t, "10.0.0.2:80", result["B"].Address)
}

func TestApplyRemovalDampeningSuppressesLargeBurst(t *testing.T) {
	w := New(nil, "/webapi", Options{RemovalHoldTime: time.Hour, RemovalThreshold: 0.3}, zerolog.Nop())
	w.last = model.ServerSet{
		"A": {ID: "A", Address: "10.0.0.1:80", Enabled: true},
		"B": {ID: "B", Address: "10.0.0.2:80", Enabled: true},
		"C": {ID: "C", Address: "10.0.0.3:80", Enabled: true},
	}

	// All three vanish at once: well above the 0.3 threshold.
	result := w.applyRemovalDampening(model.ServerSet{})
	assert.Len(t, result, 3, "a removal burst above threshold must be held in full")
}

func TestApplyRemovalDampeningReleasesAfterHoldTime(t *testing.T) {
	w := New(nil, "/webapi", Options{RemovalHoldTime: time.Millisecond, RemovalThreshold: 0.3}, zerolog.Nop())
	w.last = model.ServerSet{
		"A": {ID: "A", Address: "10.0.0.1:80", Enabled: true},
	}
	w.applyRemovalDampening(model.ServerSet{})
	time.Sleep(5 * time.Millisecond)
	result := w.applyRemovalDampening(model.ServerSet{})
	assert.Empty(t, result, "once the hold time elapses the removal should go through")
}
