// Package ports implements the pre-flight port handling run before any
// supervised process is spawned: inspecting which processes own a TCP port,
// terminating them, and the contention policy that ties the two together.
package ports

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/tunnelbar/tunnelbar/internal/execx"
)

// Inspector lists the process IDs owning a TCP port via lsof.
//
// Inspection failure is non-fatal by contract: an lsof spawn error is
// treated as "no contention detected", favoring availability, since a bind
// failure will surface loudly later anyway if that was wrong. With strict
// mode on, a spawn error instead falls back to the kernel connection table
// so contention is never silently assumed away.
type Inspector struct {
	runner execx.Runner
	strict bool

	// native resolves owners from the kernel connection table; swapped in
	// tests.
	native func(port int) ([]int, error)
}

// NewInspector creates an Inspector. strict selects the fallback behavior
// when the lsof invocation itself fails.
func NewInspector(runner execx.Runner, strict bool) *Inspector {
	return &Inspector{runner: runner, strict: strict, native: nativeOwners}
}

// Owners returns the pids listening on the TCP port, or an empty slice when
// none are found or inspection failed. It never returns an error.
func (i *Inspector) Owners(ctx context.Context, port int) []int {
	res, err := i.runner.Run(ctx, "lsof", "-ti", ":"+strconv.Itoa(port))
	if err != nil {
		if i.strict {
			pids, nerr := i.native(port)
			if nerr != nil {
				slog.Warn("port inspection failed, native fallback failed too", "port", port, "error", err, "fallback_error", nerr)
				return nil
			}
			slog.Debug("port inspection via native fallback", "port", port, "pids", pids)
			return pids
		}
		slog.Warn("port inspection failed, assuming port is free", "port", port, "error", err)
		return nil
	}
	// lsof exits 1 when nothing matches; the empty stdout already says so.
	return parsePids(res.Stdout)
}

// parsePids extracts one strictly positive pid per line.
func parsePids(out string) []int {
	var pids []int
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil || pid <= 0 {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}

// nativeOwners resolves listening pids from the kernel connection table.
func nativeOwners(port int) ([]int, error) {
	conns, err := psnet.Connections("tcp")
	if err != nil {
		return nil, err
	}
	seen := map[int32]struct{}{}
	var pids []int
	for _, conn := range conns {
		if conn.Laddr.Port != uint32(port) || conn.Status != "LISTEN" {
			continue
		}
		if conn.Pid <= 0 {
			continue
		}
		if _, ok := seen[conn.Pid]; ok {
			continue
		}
		seen[conn.Pid] = struct{}{}
		pids = append(pids, int(conn.Pid))
	}
	return pids, nil
}
