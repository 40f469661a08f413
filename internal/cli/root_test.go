package cli

import (
	"testing"

	"github.com/tunnelbar/tunnelbar/internal/appconfig"
	"github.com/tunnelbar/tunnelbar/internal/profile"
)

// run executes the root command with args against an isolated config home.
func run(t *testing.T, args ...string) error {
	t.Helper()
	root := NewRootCommand()
	root.SetArgs(args)
	return root.Execute()
}

func TestCommandTree(t *testing.T) {
	root := NewRootCommand()
	want := []string{"status", "login", "service", "tunnel", "proxy", "profile", "events", "doctor"}
	have := map[string]bool{}
	for _, c := range root.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Fatalf("missing subcommand %q", name)
		}
	}
}

func TestServiceAddListRemove(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	err := run(t, "service", "add", "postgres",
		"--label", "homebrew.mxcl.postgresql", "--port", "5432", "--category", "database")
	if err != nil {
		t.Fatal(err)
	}

	cfg, err := appconfig.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Services) != 1 || cfg.Services[0].Label != "homebrew.mxcl.postgresql" {
		t.Fatalf("services = %+v", cfg.Services)
	}
	if !cfg.Services[0].Enabled {
		t.Fatal("add without --disabled should enable the service")
	}

	if err := run(t, "service", "list"); err != nil {
		t.Fatal(err)
	}

	if err := run(t, "service", "remove", "postgres"); err != nil {
		t.Fatal(err)
	}
	cfg, _ = appconfig.Load()
	if len(cfg.Services) != 0 {
		t.Fatalf("services after remove = %+v", cfg.Services)
	}
}

func TestServiceAddMissingFlags(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := run(t, "service", "add", "postgres", "--port", "5432"); err == nil {
		t.Fatal("expected error without --label")
	}
	if err := run(t, "service", "add", "postgres", "--label", "x.y.z"); err == nil {
		t.Fatal("expected error without --port")
	}
}

func TestProfileCreateDelete(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := run(t, "service", "add", "postgres",
		"--label", "homebrew.mxcl.postgresql", "--port", "5432"); err != nil {
		t.Fatal(err)
	}

	if err := run(t, "profile", "create", "work", "--service", "postgres", "--tunnel"); err != nil {
		t.Fatal(err)
	}
	def, err := profile.Get("work")
	if err != nil {
		t.Fatal(err)
	}
	if !def.Tunnel || len(def.Services) != 1 {
		t.Fatalf("profile = %+v", def)
	}

	if err := run(t, "profile", "list"); err != nil {
		t.Fatal(err)
	}

	if err := run(t, "profile", "delete", "work"); err != nil {
		t.Fatal(err)
	}
	if _, err := profile.Get("work"); err == nil {
		t.Fatal("profile should be gone")
	}
}

// Profiles reference services by config entry; an unknown service is
// rejected at create time rather than failing at profile up.
func TestProfileCreateUnknownService(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := run(t, "profile", "create", "work", "--service", "ghost"); err == nil {
		t.Fatal("expected error for unknown service")
	}
}
