package lbmanager

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TritonDataCenter/muppet-sub000/internal/model"
)

// writeStubScript writes an executable shell script to dir/name that
// exits 0, standing in for the haproxy binary (-c -f validation) in tests.
func writeStubScript(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	return path
}

func testManager(t *testing.T) (*Manager, string) {
	dir := t.TempDir()
	bin := writeStubScript(t, dir, "fake-haproxy")
	cfg := ManagerConfig{
		ConfigDir:      dir,
		ConfigFileName: "haproxy.cfg",
		HAProxyBin:     bin,
		RefreshCommand: "true",
		Generator:      GeneratorConfig{Hostname: "lb0", TrustedIP: "10.1.1.1", NbThread: 2},
		Logger:         zerolog.Nop(),
	}
	return NewManager(cfg), dir
}

func sampleSet() model.ServerSet {
	return model.ServerSet{"A": {ID: "A", Kind: "host", Address: "10.0.0.1:80", Enabled: true}}
}

func TestInstallWritesConfigAtomically(t *testing.T) {
	m, dir := testManager(t)
	err := m.Install(context.Background(), sampleSet())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "haproxy.cfg"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "server A 10.0.0.1:80 check")

	_, statErr := os.Stat(filepath.Join(dir, "haproxy.cfg.tmp"))
	assert.True(t, os.IsNotExist(statErr), "the temp path is renamed away, not left behind, on success")
}

func TestInstallRejectsEmptySet(t *testing.T) {
	m, _ := testManager(t)
	err := m.Install(context.Background(), model.ServerSet{})
	assert.ErrorIs(t, err, ErrNoHosts)
}

func TestInstallValidationFailureDoesNotInstall(t *testing.T) {
	m, dir := testManager(t)
	badBin := filepath.Join(dir, "bad-haproxy")
	require.NoError(t, os.WriteFile(badBin, []byte("#!/bin/sh\necho invalid config >&2\nexit 1\n"), 0o755))
	m.cfg.HAProxyBin = badBin

	err := m.Install(context.Background(), sampleSet())
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "haproxy.cfg"))
	assert.True(t, os.IsNotExist(statErr), "a failed validation must never install the config")

	// The rejected candidate is left at the deterministic temp path for
	// forensics, not cleaned up.
	tmpData, tmpErr := os.ReadFile(filepath.Join(dir, "haproxy.cfg.tmp"))
	require.NoError(t, tmpErr, "a failed dry-run must leave its temp file in place for forensics")
	assert.Contains(t, string(tmpData), "server A 10.0.0.1:80 check")
}

// TestInstallCoalescesConcurrentRequests exercises the deferred-slot
// behavior: while one install is in flight, later callers share a single
// pending slot, so the final installed config reflects
// only the most recently submitted desired set, not every intermediate
// one.
func TestInstallCoalescesConcurrentRequests(t *testing.T) {
	m, dir := testManager(t)

	// Make the first install slow enough that the next two submissions
	// land while it's still running.
	slowBin := filepath.Join(dir, "slow-haproxy")
	require.NoError(t, os.WriteFile(slowBin, []byte("#!/bin/sh\nsleep 0.3\nexit 0\n"), 0o755))
	m.cfg.HAProxyBin = slowBin

	var wg sync.WaitGroup
	errs := make([]error, 3)
	sets := []model.ServerSet{
		{"A": {ID: "A", Address: "10.0.0.1:80", Enabled: true}},
		{"B": {ID: "B", Address: "10.0.0.2:80", Enabled: true}},
		{"C": {ID: "C", Address: "10.0.0.3:80", Enabled: true}},
	}

	for i := range sets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			time.Sleep(time.Duration(i) * 20 * time.Millisecond)
			errs[i] = m.Install(context.Background(), sets[i])
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "haproxy.cfg"))
	require.NoError(t, err)
	// The final installed config must be one of the submitted sets, not a
	// merge of all three — coalescing drops, it doesn't combine.
	count := 0
	for _, id := range []string{"A", "B", "C"} {
		if strings.Contains(string(data), "server "+id+" ") {
			count++
		}
	}
	assert.LessOrEqual(t, count, 2, "the last config installed should not contain every coalesced set")
	assert.Contains(t, string(data), "server C ", "the last config installed should be the most recently submitted set")
}
