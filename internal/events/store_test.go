// Package events tests isolate the journal under a temp XDG config dir.
package events

import (
	"testing"
	"time"

	"github.com/tunnelbar/tunnelbar/internal/model"
)

func TestAppendRead(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	s := NewStore()

	evts := []Event{
		{Slot: "tunnel", EventType: "started", State: model.SlotRunning, PID: 10},
		{Slot: "http-proxy", EventType: "started", State: model.SlotRunning, PID: 11},
		{Slot: "tunnel", EventType: "exited", Message: "boom", PID: 10},
	}
	for _, evt := range evts {
		if err := s.Append(evt); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Read(Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	// Append order is preserved, and timestamps were assigned.
	if got[0].EventType != "started" || got[2].EventType != "exited" {
		t.Fatalf("unexpected order: %+v", got)
	}
	if got[0].Timestamp.IsZero() {
		t.Fatal("expected assigned timestamp")
	}
}

func TestReadFilters(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	s := NewStore()

	old := time.Now().Add(-time.Hour)
	_ = s.Append(Event{Timestamp: old, Slot: "tunnel", EventType: "started"})
	_ = s.Append(Event{Slot: "tunnel", EventType: "exited"})
	_ = s.Append(Event{Slot: "service", Service: "com.example.svc", EventType: "started"})

	bySlot, err := s.Read(Query{Slot: "tunnel"})
	if err != nil {
		t.Fatal(err)
	}
	if len(bySlot) != 2 {
		t.Fatalf("slot filter: expected 2, got %d", len(bySlot))
	}

	byType, _ := s.Read(Query{EventType: "started"})
	if len(byType) != 2 {
		t.Fatalf("type filter: expected 2, got %d", len(byType))
	}

	since, _ := s.Read(Query{Since: time.Now().Add(-time.Minute)})
	if len(since) != 2 {
		t.Fatalf("since filter: expected 2, got %d", len(since))
	}

	limited, _ := s.Read(Query{Limit: 1})
	if len(limited) != 1 || limited[0].Slot != "service" {
		t.Fatalf("limit must keep the most recent events: %+v", limited)
	}
}

// A missing journal file reads as no events, not an error.
func TestReadMissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	got, err := NewStore().Read(Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no events, got %d", len(got))
	}
}
