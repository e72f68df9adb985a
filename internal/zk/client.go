// Package zk wraps the subset of ZooKeeper operations the Server Watcher
// needs — session establishment, idempotent path creation, watched children
// enumeration, and data reads — behind a small interface. Callers depend on
// this capability set, not on *zk.Conn directly, so the
// watcher can be tested against a fake.
package zk

import (
	"errors"
	"fmt"
	"net"
	"time"

	zkgo "github.com/go-zookeeper/zk"
)

// Client is the capability set the Server Watcher depends on.
type Client interface {
	// CreateIfMissing creates path (and does nothing if it already exists).
	CreateIfMissing(path string) error
	// ChildrenW returns the current children of path and a channel that
	// fires once when the child set changes.
	ChildrenW(path string) ([]string, <-chan zkgo.Event, error)
	// Get returns the raw payload stored at path.
	Get(path string) ([]byte, error)
	// SessionEvents returns the channel of session-lifecycle events
	// delivered by the underlying connection.
	SessionEvents() <-chan zkgo.Event
	// Close tears down the session.
	Close()
}

// conn adapts *zkgo.Conn to Client.
type conn struct {
	c      *zkgo.Conn
	events <-chan zkgo.Event
}

// Connect establishes a new ZooKeeper session against servers with the
// given session timeout. The returned Client owns the connection; callers
// must Close it.
func Connect(servers []string, sessionTimeout time.Duration) (Client, error) {
	c, events, err := zkgo.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("zk: connect: %w", err)
	}
	return &conn{c: c, events: events}, nil
}

func (z *conn) CreateIfMissing(path string) error {
	_, err := z.c.Create(path, nil, 0, zkgo.WorldACL(zkgo.PermAll))
	if err != nil && !errors.Is(err, zkgo.ErrNodeExists) {
		return fmt.Errorf("zk: create %s: %w", path, err)
	}
	return nil
}

func (z *conn) ChildrenW(path string) ([]string, <-chan zkgo.Event, error) {
	children, _, events, err := z.c.ChildrenW(path)
	if err != nil {
		return nil, nil, fmt.Errorf("zk: childrenw %s: %w", path, err)
	}
	return children, events, nil
}

func (z *conn) Get(path string) ([]byte, error) {
	data, _, err := z.c.Get(path)
	if err != nil {
		return nil, fmt.Errorf("zk: get %s: %w", path, err)
	}
	return data, nil
}

func (z *conn) SessionEvents() <-chan zkgo.Event {
	return z.events
}

func (z *conn) Close() {
	z.c.Close()
}

// IsNoNode reports whether err corresponds to ZooKeeper's "no node" error,
// which the Server Watcher treats as a non-fatal, per-child fetch failure.
func IsNoNode(err error) bool {
	return errors.Is(err, zkgo.ErrNoNode)
}

// IsPingTimeout reports whether err is a network-level timeout (a ping or
// read deadline expiring on an otherwise healthy session), which the
// Server Watcher treats the same as IsNoNode: a transient, per-child
// fetch failure rather than an escalation-worthy error.
func IsPingTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// SessionExpired reports whether ev signals session expiry, which the App
// FSM treats as a trigger to tear down and reconnect.
func SessionExpired(ev zkgo.Event) bool {
	return ev.State == zkgo.StateExpired
}

// SessionDisconnected reports whether ev signals a disconnect.
func SessionDisconnected(ev zkgo.Event) bool {
	return ev.State == zkgo.StateDisconnected
}

// SessionEstablished reports whether ev signals a usable session.
func SessionEstablished(ev zkgo.Event) bool {
	return ev.State == zkgo.StateHasSession
}

// DomainToPath derives the ZK directory path from the service domain by
// reversing its dotted segments: "manta.example.com" ->
// "/com/example/manta".
func DomainToPath(domain string) string {
	segments := splitDomain(domain)
	path := ""
	for i := len(segments) - 1; i >= 0; i-- {
		path += "/" + segments[i]
	}
	return path
}

func splitDomain(domain string) []string {
	var segments []string
	start := 0
	for i := 0; i <= len(domain); i++ {
		if i == len(domain) || domain[i] == '.' {
			if i > start {
				segments = append(segments, domain[start:i])
			}
			start = i + 1
		}
	}
	return segments
}
