// Package logring keeps a bounded in-process log for the status surface.
//
// The ring holds the most recent entries (oldest evicted first) so the log
// viewer window can render recent activity without touching disk. A
// slog.Handler adapter mirrors application log records into the ring while
// still forwarding them to the process's normal handler.
package logring

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tunnelbar/tunnelbar/internal/model"
)

// Ring is a bounded append-only log buffer. Appends from any goroutine are
// safe; clearing is an explicit user action.
type Ring struct {
	mu      sync.Mutex
	entries []model.LogEntry
	max     int
}

// New creates a ring holding at most capacity entries.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{entries: make([]model.LogEntry, 0, capacity), max: capacity}
}

// Append adds one entry, evicting the oldest when full.
func (r *Ring) Append(e model.LogEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	if len(r.entries) > r.max {
		r.entries = r.entries[len(r.entries)-r.max:]
	}
}

// Entries returns a copy of the current contents, oldest first.
func (r *Ring) Entries() []model.LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.LogEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Tail returns up to n most recent entries, oldest first.
func (r *Ring) Tail(n int) []model.LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || len(r.entries) == 0 {
		return nil
	}
	start := 0
	if len(r.entries) > n {
		start = len(r.entries) - n
	}
	out := make([]model.LogEntry, len(r.entries)-start)
	copy(out, r.entries[start:])
	return out
}

// Clear empties the ring.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = r.entries[:0]
}

// Len reports the current number of entries.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Handler is a slog.Handler that mirrors records into a Ring and forwards
// them to an inner handler. A nil inner handler keeps records in-process
// only.
type Handler struct {
	ring  *Ring
	inner slog.Handler
	attrs []slog.Attr
}

// NewHandler wraps inner so every record also lands in ring.
func NewHandler(ring *Ring, inner slog.Handler) *Handler {
	return &Handler{ring: ring, inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.inner != nil {
		return h.inner.Enabled(ctx, level)
	}
	return true
}

func (h *Handler) Handle(ctx context.Context, rec slog.Record) error {
	var b strings.Builder
	b.WriteString(rec.Message)
	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}
	rec.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		return true
	})
	h.ring.Append(model.LogEntry{
		Timestamp: rec.Time,
		Level:     levelOf(rec.Level),
		Message:   b.String(),
	})
	if h.inner != nil {
		return h.inner.Handle(ctx, rec)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &Handler{ring: h.ring, attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...)}
	if h.inner != nil {
		next.inner = h.inner.WithAttrs(attrs)
	}
	return next
}

func (h *Handler) WithGroup(name string) slog.Handler {
	next := &Handler{ring: h.ring, attrs: h.attrs}
	if h.inner != nil {
		next.inner = h.inner.WithGroup(name)
	}
	return next
}

func levelOf(l slog.Level) model.LogLevel {
	switch {
	case l >= slog.LevelError:
		return model.LevelError
	case l >= slog.LevelWarn:
		return model.LevelWarn
	case l >= slog.LevelInfo:
		return model.LevelInfo
	}
	return model.LevelDebug
}
