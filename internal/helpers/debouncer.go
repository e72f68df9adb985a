package helpers

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DebounceFunc runs once a key's collection window elapses without a
// further reset.
type DebounceFunc func()

// Debouncer smears a burst of same-key resets into a single delayed call
// per key, the mechanism the Server Watcher uses to turn a storm of ZK
// child-change notifications on one path into a single collection pass.
type Debouncer struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	delay  time.Duration
	logger zerolog.Logger
}

// NewDebouncer builds a Debouncer that waits delay after the last
// Debounce call for a key before running that key's action.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{
		timers: make(map[string]*time.Timer),
		delay:  delay,
		logger: zerolog.Nop(),
	}
}

// WithLogger attaches logger to d and returns d for chaining.
func (d *Debouncer) WithLogger(logger zerolog.Logger) *Debouncer {
	d.logger = logger
	return d
}

// Debounce (re)starts key's window. If the window elapses with no further
// Debounce(key, ...) call, action runs exactly once.
func (d *Debouncer) Debounce(key string, action DebounceFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, ok := d.timers[key]; ok {
		timer.Stop()
	}

	d.timers[key] = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		delete(d.timers, key)
		d.mu.Unlock()

		d.logger.Trace().Str("key", key).Msg("debouncer: window elapsed, running action")
		action()
	})
}

// Stop cancels every pending window without running its action.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, timer := range d.timers {
		timer.Stop()
		delete(d.timers, key)
	}
}
