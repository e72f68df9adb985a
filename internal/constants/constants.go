package constants

import "time"

const (
	// HAProxy admin socket paths. MUPPET_TESTING=1 selects the test path.
	DefaultSocketPath = "/tmp/haproxy"
	TestSocketPath    = "/tmp/haproxy.test"

	HAProxyConfigFileName = "haproxy.cfg"

	EnvVarTesting = "MUPPET_TESTING"

	// EnvVarRefreshCommand overrides DefaultRefreshCommand so tests can
	// substitute a no-op in place of the real svcadm call.
	EnvVarRefreshCommand = "MUPPET_REFRESH_COMMAND"

	DefaultRefreshCommand = "svcadm refresh haproxy"

	// Socket Client timeouts.
	ConnectTimeout = 3 * time.Second
	CommandTimeout = 30 * time.Second

	// Server Watcher change-smearing defaults.
	DefaultCollectionTimeout = 500 * time.Millisecond
	DefaultRemovalHoldTime   = 30 * time.Second
	DefaultRemovalThreshold  = 0.3

	// App FSM ZK reconnect backoff envelope.
	ZKReconnectInitialInterval = 1 * time.Second
	ZKReconnectMaxInterval     = 30 * time.Second

	// Periodic forced reconcile, independent of watcher events.
	DefaultPeriodicRefresh = 5 * time.Minute
)
