package profile

import (
	"testing"
)

func TestCreateGetDelete(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	def := Definition{Name: "work", Services: []string{"homebrew.mxcl.postgresql"}, Tunnel: true}
	if err := Create(def); err != nil {
		t.Fatal(err)
	}

	got, err := Get("work")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Tunnel || len(got.Services) != 1 {
		t.Fatalf("unexpected profile: %+v", got)
	}

	if err := Delete("work"); err != nil {
		t.Fatal(err)
	}
	if _, err := Get("work"); err == nil {
		t.Fatal("expected miss after delete")
	}
}

func TestCreateValidation(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := Create(Definition{Name: " "}); err == nil {
		t.Fatal("expected empty name rejection")
	}
	if err := Create(Definition{Name: "empty"}); err == nil {
		t.Fatal("expected empty target rejection")
	}
	if err := Create(Definition{Name: "bad", Services: []string{" "}}); err == nil {
		t.Fatal("expected blank service label rejection")
	}
}

// Creating an existing name replaces the definition; LoadAll sorts by name.
func TestCreateReplacesAndLoadAllSorts(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	_ = Create(Definition{Name: "b", Tunnel: true})
	_ = Create(Definition{Name: "a", HTTPProxy: true})
	_ = Create(Definition{Name: "b", HTTPProxy: true})

	defs, err := LoadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(defs) != 2 || defs[0].Name != "a" || defs[1].Name != "b" {
		t.Fatalf("unexpected profiles: %+v", defs)
	}
	if defs[1].Tunnel || !defs[1].HTTPProxy {
		t.Fatalf("replacement not applied: %+v", defs[1])
	}
}

func TestDeleteMissing(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	if err := Delete("ghost"); err == nil {
		t.Fatal("expected error for unknown profile")
	}
}
