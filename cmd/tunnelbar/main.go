// Package main is the entry point for the tunnelbar binary.
//
// tunnelbar supervises a developer's local connectivity stack on macOS: a
// set of launchd services, an authenticated SOCKS tunnel, and an optional
// local HTTP proxy. It combines a TUI dashboard (built with Bubble Tea)
// and a CLI (built with Cobra).
//
// When invoked without arguments, it launches the interactive dashboard.
// With subcommands (e.g. "status", "service start", "tunnel up"), it runs
// the corresponding CLI operation and exits.
//
// The CLI is constructed in internal/cli and the TUI in internal/ui. This
// file wires them together, installs the logging setup, and handles
// top-level error reporting.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/tunnelbar/tunnelbar/internal/cli"
	"github.com/tunnelbar/tunnelbar/internal/logring"
	"github.com/tunnelbar/tunnelbar/internal/util"
)

func main() {
	setupLogging()

	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogging installs the default slog handler: structured text on
// stderr, mirrored into the bounded in-process ring so the most recent
// entries stay inspectable without scraping terminal output. TUNNELBAR_DEBUG
// lowers the level to debug.
func setupLogging() {
	level := slog.LevelInfo
	if os.Getenv("TUNNELBAR_DEBUG") != "" {
		level = slog.LevelDebug
	}
	ring := logring.New(util.LogRingCapacity)
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(logring.NewHandler(ring, inner)))
}
