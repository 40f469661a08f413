package doctor

import (
	"context"
	"testing"

	"github.com/tunnelbar/tunnelbar/internal/appconfig"
	"github.com/tunnelbar/tunnelbar/internal/model"
)

// fakeProber returns a canned status per label, not-loaded for labels it
// doesn't know.
type fakeProber struct {
	statuses map[string]model.ServiceStatus
}

func (f *fakeProber) Probe(ctx context.Context, svc model.ManagedService) model.ServiceStatus {
	if st, ok := f.statuses[svc.Label]; ok {
		return st
	}
	return model.NotLoaded()
}

func findIssues(report Report, check string) []Issue {
	var out []Issue
	for _, is := range report.Issues {
		if is.Check == check {
			out = append(out, is)
		}
	}
	return out
}

func TestRunFlagsDuplicateLabels(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg := appconfig.Default()
	cfg.Services = []model.ManagedService{
		{ID: "a", Name: "postgres", Label: "homebrew.mxcl.postgresql", Port: 5432},
		{ID: "b", Name: "pg-clone", Label: "homebrew.mxcl.postgresql", Port: 5433},
	}
	if err := appconfig.Save(cfg); err != nil {
		t.Fatal(err)
	}

	report, err := Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	dups := findIssues(report, "duplicate-label")
	if len(dups) != 1 {
		t.Fatalf("duplicate-label issues = %+v, want 1", dups)
	}
	if dups[0].Severity != SeverityMedium || dups[0].Target != "homebrew.mxcl.postgresql" {
		t.Fatalf("issue = %+v", dups[0])
	}
}

// Enabled services that probe as not-loaded are a low-severity issue;
// disabled services are never probed.
func TestRunProbesEnabledServices(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg := appconfig.Default()
	cfg.Services = []model.ManagedService{
		{ID: "a", Name: "postgres", Label: "homebrew.mxcl.postgresql", Port: 5432, Enabled: true},
		{ID: "b", Name: "redis", Label: "io.redis.server", Port: 6379, Enabled: true},
		{ID: "c", Name: "mysql", Label: "oracle.mysql.server", Port: 3306, Enabled: false},
	}
	if err := appconfig.Save(cfg); err != nil {
		t.Fatal(err)
	}

	prober := &fakeProber{statuses: map[string]model.ServiceStatus{
		"homebrew.mxcl.postgresql": model.Running(4821),
	}}
	report, err := Run(context.Background(), prober)
	if err != nil {
		t.Fatal(err)
	}
	notLoaded := findIssues(report, "service-not-loaded")
	if len(notLoaded) != 1 || notLoaded[0].Target != "io.redis.server" {
		t.Fatalf("not-loaded issues = %+v", notLoaded)
	}
	if notLoaded[0].Severity != SeverityLow {
		t.Fatalf("not-loaded should be low: %+v", notLoaded[0])
	}
}

func TestRunSortsBySeverity(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	report, err := Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(report.Issues); i++ {
		if severityRank(report.Issues[i].Severity) > severityRank(report.Issues[i-1].Severity) {
			t.Fatalf("issues not sorted: %+v", report.Issues)
		}
	}
	// Default tunnel config is incomplete (no proxy/jump host), so the
	// doctor always has at least that to say on a fresh install.
	if len(findIssues(report, "tunnel-config")) != 1 {
		t.Fatalf("expected tunnel-config issue on defaults: %+v", report.Issues)
	}
}

// The default config ships with the HTTP proxy disabled; a disabled proxy
// is a valid state, not something the doctor should tell the user to fix.
func TestRunIgnoresDisabledProxy(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	report, err := Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := findIssues(report, "proxy-config"); len(got) != 0 {
		t.Fatalf("disabled proxy flagged: %+v", got)
	}

	cfg := appconfig.Default()
	cfg.HTTPProxy.Enabled = true
	cfg.HTTPProxy.BinaryPath = ""
	if err := appconfig.Save(cfg); err != nil {
		t.Fatal(err)
	}
	report, err = Run(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := findIssues(report, "proxy-config"); len(got) != 1 {
		t.Fatalf("enabled proxy with no binary should be flagged: %+v", report.Issues)
	}
}
