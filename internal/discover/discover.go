// Package discover scans the local launchd domain for services worth
// registering: labels reported by launchctl list, plus plist files sitting
// in the standard LaunchAgents/LaunchDaemons directories that aren't
// currently loaded. Parsing is tolerant: malformed lines become warnings,
// never errors, because the list format is undocumented and has drifted
// across OS releases.
package discover

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/tunnelbar/tunnelbar/internal/execx"
	"github.com/tunnelbar/tunnelbar/internal/model"
)

// Candidate is one discoverable service.
type Candidate struct {
	Label  string `json:"label"`
	PID    int    `json:"pid,omitempty"` // 0 when not running
	Loaded bool   `json:"loaded"`
	Source string `json:"source"` // "launchctl" or the plist path
}

// Result carries discovered candidates plus non-fatal parse warnings.
type Result struct {
	Candidates []Candidate
	Warnings   []string
}

// Scan queries launchctl list and the standard plist directories. Apple's
// own com.apple.* labels are filtered out; nobody registers those here.
func Scan(ctx context.Context, runner execx.Runner) (Result, error) {
	var res Result
	seen := map[string]struct{}{}

	out, err := runner.Run(ctx, "launchctl", "list")
	if err != nil {
		return Result{}, fmt.Errorf("launchctl list: %w", err)
	}
	if out.ExitCode != 0 {
		return Result{}, fmt.Errorf("launchctl list exited with code %d", out.ExitCode)
	}
	for _, c := range parseList(out.Stdout, &res.Warnings) {
		if strings.HasPrefix(c.Label, "com.apple.") {
			continue
		}
		if _, ok := seen[c.Label]; ok {
			continue
		}
		seen[c.Label] = struct{}{}
		res.Candidates = append(res.Candidates, c)
	}

	for _, dir := range plistDirs() {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !strings.HasSuffix(e.Name(), ".plist") {
				continue
			}
			label := strings.TrimSuffix(e.Name(), ".plist")
			if strings.HasPrefix(label, "com.apple.") {
				continue
			}
			if _, ok := seen[label]; ok {
				continue
			}
			seen[label] = struct{}{}
			res.Candidates = append(res.Candidates, Candidate{
				Label:  label,
				Source: filepath.Join(dir, e.Name()),
			})
		}
	}

	sort.Slice(res.Candidates, func(i, j int) bool {
		return res.Candidates[i].Label < res.Candidates[j].Label
	})
	return res, nil
}

// parseList reads launchctl list's tab-delimited output: pid (or "-"),
// last exit status (or "-"), label. The first line is a header.
func parseList(output string, warnings *[]string) []Candidate {
	var out []Candidate
	lines := strings.Split(output, "\n")
	for i, line := range lines {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			*warnings = append(*warnings, fmt.Sprintf("unrecognized list line %d: %q", i+1, strings.TrimSpace(line)))
			continue
		}
		c := Candidate{Label: fields[2], Loaded: true, Source: "launchctl"}
		if fields[0] != "-" {
			pid, err := strconv.Atoi(fields[0])
			if err != nil {
				*warnings = append(*warnings, fmt.Sprintf("unparsable pid on line %d: %q", i+1, fields[0]))
			} else if pid > 0 {
				c.PID = pid
			}
		}
		out = append(out, c)
	}
	return out
}

func plistDirs() []string {
	dirs := []string{"/Library/LaunchAgents", "/Library/LaunchDaemons"}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append([]string{filepath.Join(home, "Library", "LaunchAgents")}, dirs...)
	}
	return dirs
}

// Suggest turns candidates into registrable managed services, skipping
// labels already present in the settings. Suggestions arrive disabled so
// registration stays an explicit user choice.
func Suggest(res Result, existing []model.ManagedService) []model.ManagedService {
	registered := map[string]struct{}{}
	for _, svc := range existing {
		registered[svc.Label] = struct{}{}
	}
	var out []model.ManagedService
	for _, c := range res.Candidates {
		if _, ok := registered[c.Label]; ok {
			continue
		}
		out = append(out, model.ManagedService{
			Name:     displayName(c.Label),
			Label:    c.Label,
			Category: model.CategoryGeneral,
			Enabled:  false,
		})
	}
	return out
}

// displayName derives a readable name from a reverse-DNS label.
func displayName(label string) string {
	parts := strings.Split(label, ".")
	return parts[len(parts)-1]
}
