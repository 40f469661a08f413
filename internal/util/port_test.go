package util

import (
	"testing"
	"time"
)

func TestValidatePort(t *testing.T) {
	for _, port := range []int{1, 1080, 65535} {
		if err := ValidatePort(port); err != nil {
			t.Fatalf("port %d: %v", port, err)
		}
	}
	for _, port := range []int{0, -1, 65536} {
		if err := ValidatePort(port); err == nil {
			t.Fatalf("port %d: expected error", port)
		}
	}
}

func TestParsePort(t *testing.T) {
	p, err := ParsePort(" 1080 ")
	if err != nil || p != 1080 {
		t.Fatalf("got %d, %v", p, err)
	}
	if _, err := ParsePort("socks"); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := ParsePort("70000"); err == nil {
		t.Fatal("expected range error")
	}
}

// The credential retry schedule is load-bearing: callers size their
// worst-case waits around it, so it is pinned here literally.
func TestCredentialRetrySchedule(t *testing.T) {
	want := []time.Duration{
		3 * time.Second,
		5 * time.Second,
		7 * time.Second,
		10 * time.Second,
		12 * time.Second,
		15 * time.Second,
	}
	got := CredentialRetryDelays()
	if len(got) != len(want) {
		t.Fatalf("expected %d attempts, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("attempt %d: expected %s, got %s", i+1, want[i], got[i])
		}
	}
}
