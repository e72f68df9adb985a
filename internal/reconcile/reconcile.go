// Package reconcile implements the Reconciler: it compares the desired
// server set against HAProxy's live stats and decides between the cheap
// path (socket commands) and the expensive path (config rewrite),
// classifying every live row against a fixed reason table.
package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/TritonDataCenter/muppet-sub000/internal/haproxystats"
	"github.com/TritonDataCenter/muppet-sub000/internal/model"
)

// Reason codes for a classified live row.
const (
	ReasonNoServer     = "no-server"
	ReasonAddrMismatch = "addr-mismatch"
	ReasonWantEnabled  = "want-enabled"
	ReasonWantDisabled = "want-disabled"
)

// Wrong describes one live row that disagrees with the desired set.
type Wrong struct {
	PxName string
	SvName string
	Reason string
}

// CheckStatsResult is checkStats's output.
type CheckStatsResult struct {
	Reload bool
	Wrong  []Wrong
}

// CheckStats classifies each live row against the desired set.
// reload=true iff any row is no-server or addr-mismatch.
func CheckStats(desired model.ServerSet, liveRows []model.LiveRow) CheckStatsResult {
	var result CheckStatsResult

	for _, row := range liveRows {
		id := row.RegistrationID()
		d, ok := desired[id]
		switch {
		case !ok:
			result.Wrong = append(result.Wrong, Wrong{PxName: row.PxName, SvName: row.SvName, Reason: ReasonNoServer})
			result.Reload = true
		case d.Address != row.Addr:
			result.Wrong = append(result.Wrong, Wrong{PxName: row.PxName, SvName: row.SvName, Reason: ReasonAddrMismatch})
			result.Reload = true
		case d.Enabled && row.Status == model.StatusMaint:
			result.Wrong = append(result.Wrong, Wrong{PxName: row.PxName, SvName: row.SvName, Reason: ReasonWantEnabled})
		case !d.Enabled && row.Status != model.StatusMaint:
			result.Wrong = append(result.Wrong, Wrong{PxName: row.PxName, SvName: row.SvName, Reason: ReasonWantDisabled})
		}
	}

	return result
}

// ErrUnmappedServer indicates a live row has no corresponding desired
// server — the desired set and config file have drifted apart. Fatal:
// escalates to a supervisor restart.
var ErrUnmappedServer = fmt.Errorf("reconcile: unmapped server")

// ErrHAProxyUnexpectedOutput indicates a control command's reply was not
// whitespace-only.
var ErrHAProxyUnexpectedOutput = fmt.Errorf("reconcile: unexpected haproxy output")

// socketExecutor is the capability syncServerState needs from the Socket
// Serializer; satisfied by *socket.Serializer.
type socketExecutor interface {
	Execute(ctx context.Context, command string) ([]byte, error)
}

// SyncServerState is the cheap path: query "show stat -1 4 -1", classify
// rows, and issue admin-state commands in the order enables, then
// disables, then disconnects. Each command is a separate socket round-trip
// so failures are attributable. Idempotent: calling it twice with the same
// desired set issues zero commands the second time, since the
// classification no longer finds any row needing a state change.
func SyncServerState(ctx context.Context, executor socketExecutor, logger zerolog.Logger, desired model.ServerSet) error {
	reply, err := execWithRetry(ctx, executor, logger, "show stat -1 4 -1")
	if err != nil {
		return fmt.Errorf("reconcile: syncServerState: %w", err)
	}

	rows, err := haproxystats.Parse(reply)
	if err != nil {
		return fmt.Errorf("reconcile: syncServerState: %w", err)
	}

	var enables, disables, disconnects []model.LiveRow
	for _, row := range rows {
		id := row.RegistrationID()
		d, ok := desired[id]
		if !ok {
			return fmt.Errorf("%w: %s/%s", ErrUnmappedServer, row.PxName, row.SvName)
		}
		switch {
		case d.Enabled && row.Status == model.StatusMaint:
			enables = append(enables, row)
		case !d.Enabled && row.Status != model.StatusMaint:
			disables = append(disables, row)
			disconnects = append(disconnects, row)
		}
	}

	for _, row := range enables {
		if err := runCommand(ctx, executor, logger, fmt.Sprintf("enable server %s/%s", row.PxName, row.SvName)); err != nil {
			return err
		}
	}
	for _, row := range disables {
		if err := runCommand(ctx, executor, logger, fmt.Sprintf("disable server %s/%s", row.PxName, row.SvName)); err != nil {
			return err
		}
	}
	for _, row := range disconnects {
		if err := runCommand(ctx, executor, logger, fmt.Sprintf("shutdown sessions server %s/%s", row.PxName, row.SvName)); err != nil {
			return err
		}
	}

	return nil
}

func runCommand(ctx context.Context, executor socketExecutor, logger zerolog.Logger, command string) error {
	logger.Debug().Str("command", command).Msg("reconcile: issuing admin command")
	reply, err := executor.Execute(ctx, command)
	if err != nil {
		return fmt.Errorf("reconcile: %s: %w", command, err)
	}
	if strings.TrimSpace(string(reply)) != "" {
		return fmt.Errorf("%w: %s: %q", ErrHAProxyUnexpectedOutput, command, reply)
	}
	return nil
}

// execWithRetry retries a transient empty stats reply exactly once, to
// absorb a known lower-level EOF bug in the admin socket transport.
func execWithRetry(ctx context.Context, executor socketExecutor, logger zerolog.Logger, command string) ([]byte, error) {
	reply, err := executor.Execute(ctx, command)
	if err == nil && len(reply) > 0 {
		return reply, nil
	}
	if err != nil {
		logger.Warn().Err(err).Msg("reconcile: stats query failed, retrying once")
	} else {
		logger.Warn().Msg("reconcile: empty stats reply, retrying once")
	}
	reply, err = executor.Execute(ctx, command)
	if err != nil {
		return nil, err
	}
	if len(reply) == 0 {
		return nil, fmt.Errorf("reconcile: empty stats reply after retry")
	}
	return reply, nil
}
