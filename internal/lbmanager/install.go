package lbmanager

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/TritonDataCenter/muppet-sub000/internal/model"
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	ConfigDir      string // directory the live haproxy.cfg lives in
	ConfigFileName string
	HAProxyBin     string // path to the haproxy binary, used for -c -f validation
	RefreshCommand string // e.g. "svcadm refresh haproxy"
	Generator      GeneratorConfig
	Logger         zerolog.Logger
}

// Manager owns config generation, validation, and atomic install, and
// serializes concurrent installs through a single mutex plus a one-deep
// deferred slot: while an install is running, at most one
// further request is held; any requests arriving after that overwrite the
// held one rather than queueing a third, so everyone waiting on a stale
// slot observes whatever desired set was most recently submitted.
type Manager struct {
	cfg ManagerConfig

	mu         sync.Mutex
	installing bool
	pending    *pendingInstall
}

type pendingInstall struct {
	desired model.ServerSet
	err     error
	done    chan struct{}
}

// NewManager builds a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{cfg: cfg}
}

// Install renders, validates, and installs desired. If an install is
// already running, desired is coalesced onto the pending slot and
// Install blocks until that slot's install completes — which may install
// a newer desired set than the one passed in, if a later caller overwrote
// the slot first.
func (m *Manager) Install(ctx context.Context, desired model.ServerSet) error {
	m.mu.Lock()
	if !m.installing {
		m.installing = true
		m.mu.Unlock()
		return m.runChain(desired)
	}

	if m.pending == nil {
		m.pending = &pendingInstall{desired: desired, done: make(chan struct{})}
	} else {
		m.pending.desired = desired
	}
	p := m.pending
	m.mu.Unlock()

	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runChain installs desired, then — if another request coalesced onto the
// pending slot while this install ran — hands that slot off to a fresh
// call of itself in the background, so the chain keeps draining one
// install at a time until the slot is empty.
func (m *Manager) runChain(desired model.ServerSet) error {
	err := m.installOnce(desired)

	m.mu.Lock()
	next := m.pending
	m.pending = nil
	if next == nil {
		m.installing = false
	}
	m.mu.Unlock()

	if next != nil {
		go func() {
			next.err = m.runChain(next.desired)
			close(next.done)
		}()
	}

	return err
}

func (m *Manager) installOnce(desired model.ServerSet) error {
	data, err := Render(m.cfg.Generator, desired)
	if err != nil {
		return fmt.Errorf("lbmanager: render: %w", err)
	}

	tmpPath := filepath.Join(m.cfg.ConfigDir, m.cfg.ConfigFileName+".tmp")
	if err := m.writeTemp(tmpPath, data); err != nil {
		return err
	}

	// A dry-run failure surfaces the error and leaves tmpPath on disk for
	// forensics; the refresh command must never run against
	// a config haproxy itself rejected.
	if err := m.validate(tmpPath); err != nil {
		return fmt.Errorf("lbmanager: validate: %w", err)
	}

	finalPath := filepath.Join(m.cfg.ConfigDir, m.cfg.ConfigFileName)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("lbmanager: install %s: %w", finalPath, err)
	}

	m.cfg.Logger.Info().Str("path", finalPath).Msg("lbmanager: installed new configuration")

	if err := m.refresh(); err != nil {
		return fmt.Errorf("lbmanager: refresh: %w", err)
	}
	return nil
}

func (m *Manager) writeTemp(tmpPath string, data []byte) error {
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("lbmanager: write temp config %s: %w", tmpPath, err)
	}
	return nil
}

// validate dry-runs the candidate config against the real haproxy binary
// never install a config that haproxy itself would reject.
func (m *Manager) validate(path string) error {
	cmd := exec.Command(m.cfg.HAProxyBin, "-c", "-f", path)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s -c -f %s: %w: %s", m.cfg.HAProxyBin, path, err, output)
	}
	return nil
}

func (m *Manager) refresh() error {
	cmd := exec.Command("/bin/sh", "-c", m.cfg.RefreshCommand)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", m.cfg.RefreshCommand, err, output)
	}
	return nil
}
