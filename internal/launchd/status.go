// Package launchd queries and controls macOS launchd-managed services
// through the launchctl binary.
//
// launchctl's textual output is undocumented and has varied across OS
// releases, so status parsing is a graceful-degradation ladder: a fixed
// priority order of recognized pid patterns, falling through to stopped or
// unknown rather than hard-failing on an unrecognized-but-successful
// response.
package launchd

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tunnelbar/tunnelbar/internal/model"
)

// pidPatterns are tried in priority order; the first match carrying a
// strictly positive integer wins. Non-positive matches fall through to the
// next pattern.
var pidPatterns = []*regexp.Regexp{
	// Property-list style block: "PID" = 4821;
	regexp.MustCompile(`"PID"\s*=\s*(-?\d+);`),
	// Colon-delimited line: PID: 4821
	regexp.MustCompile(`(?im)^\s*PID\s*:\s*(-?\d+)\s*$`),
	// Legacy tab-delimited list line: the pid is the first column.
	regexp.MustCompile(`(?m)^\s*(-?\d+)\t`),
}

// ParseServiceStatus derives a service status from a launchctl list query.
//
// A nonzero exit means the label is not loaded, unconditionally. On a zero
// exit the output is scanned for a positive pid; absent one, non-empty
// output is read as a loaded-but-stopped service and empty output as
// unknown.
func ParseServiceStatus(output string, exitCode int) model.ServiceStatus {
	if exitCode != 0 {
		return model.NotLoaded()
	}
	for _, re := range pidPatterns {
		for _, m := range re.FindAllStringSubmatch(output, -1) {
			pid, err := strconv.Atoi(m[1])
			if err == nil && pid > 0 {
				return model.Running(pid)
			}
		}
	}
	if strings.TrimSpace(output) == "" {
		return model.UnknownStatus()
	}
	return model.Stopped()
}
