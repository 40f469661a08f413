// Package util provides common utility functions and constants used across
// the tunnelbar application. This package is intentionally kept
// dependency-free (no imports from other internal/* packages) to serve as a
// shared foundation without introducing circular dependencies.
package util

import "strings"

// DefaultString returns the fallback value if v is empty or consists entirely
// of whitespace; otherwise it returns v unchanged.
func DefaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// EmptyDash returns "-" if s is empty or whitespace-only; otherwise s.
// Used by the CLI and TUI tables to display a placeholder for optional fields.
func EmptyDash(s string) string {
	return DefaultString(s, "-")
}
