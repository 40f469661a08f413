package history

import (
	"testing"

	"github.com/tunnelbar/tunnelbar/internal/model"
)

func TestTouchAndLastStarted(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := Touch("homebrew.mxcl.redis"); err != nil {
		t.Fatal(err)
	}
	got, err := LastStarted()
	if err != nil {
		t.Fatal(err)
	}
	if got["homebrew.mxcl.redis"] == 0 {
		t.Fatal("expected a recorded start timestamp")
	}
}

// TestSortServicesRecent verifies recently started services float to the
// top, with category rank and name ordering the never-started rest.
func TestSortServicesRecent(t *testing.T) {
	svcs := []model.ManagedService{
		{Name: "Zed", Label: "z", Category: model.CategoryGeneral},
		{Name: "Postgres", Label: "pg", Category: model.CategoryDatabase},
		{Name: "Dnsmasq", Label: "dns", Category: model.CategoryProxy},
	}
	last := map[string]int64{"z": 2000, "pg": 1000}

	got := SortServicesRecent(svcs, last)
	want := []string{"Zed", "Postgres", "Dnsmasq"}
	for i, name := range want {
		if got[i].Name != name {
			t.Fatalf("position %d: expected %s, got %s", i, name, got[i].Name)
		}
	}
	// Input order untouched.
	if svcs[0].Name != "Zed" || svcs[2].Name != "Dnsmasq" {
		t.Fatal("input slice must not be reordered")
	}
}

func TestSortServicesRecentNoHistory(t *testing.T) {
	svcs := []model.ManagedService{
		{Name: "Zed", Label: "z", Category: model.CategoryGeneral},
		{Name: "Dnsmasq", Label: "dns", Category: model.CategoryProxy},
	}
	got := SortServicesRecent(svcs, nil)
	if got[0].Name != "Dnsmasq" {
		t.Fatalf("expected category order without history, got %s first", got[0].Name)
	}
}
