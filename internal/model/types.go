// Package model provides core data types for tunnelbar's supervision core.
package model

import (
	"sort"
	"strings"
	"time"
)

// ServiceCategory groups managed services for display ordering.
type ServiceCategory string

const (
	CategoryProxy       ServiceCategory = "proxy"
	CategoryTunnel      ServiceCategory = "tunnel"
	CategoryDatabase    ServiceCategory = "database"
	CategoryDevelopment ServiceCategory = "development"
	CategoryGeneral     ServiceCategory = "general"
)

// SortRank returns the fixed display rank of a category. Unknown categories
// sort last, after general.
func (c ServiceCategory) SortRank() int {
	switch c {
	case CategoryProxy:
		return 0
	case CategoryTunnel:
		return 1
	case CategoryDatabase:
		return 2
	case CategoryDevelopment:
		return 3
	case CategoryGeneral:
		return 4
	}
	return 5
}

// ParseCategory normalizes user input into a known category, defaulting to
// general for empty or unrecognized values.
func ParseCategory(s string) ServiceCategory {
	switch ServiceCategory(strings.ToLower(strings.TrimSpace(s))) {
	case CategoryProxy:
		return CategoryProxy
	case CategoryTunnel:
		return CategoryTunnel
	case CategoryDatabase:
		return CategoryDatabase
	case CategoryDevelopment:
		return CategoryDevelopment
	}
	return CategoryGeneral
}

// ManagedService is a user-registered reference to a launchd-managed
// background service. The ID is assigned at creation and never changes;
// Enabled controls menu visibility only, not the underlying service state.
type ManagedService struct {
	ID          string          `yaml:"id" json:"id"`
	Name        string          `yaml:"name" json:"name"`
	Label       string          `yaml:"label" json:"label"`
	Port        int             `yaml:"port,omitempty" json:"port,omitempty"`
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
	Category    ServiceCategory `yaml:"category" json:"category"`
	Enabled     bool            `yaml:"enabled" json:"enabled"`
}

// SortServices orders services by category rank, then name, in place.
func SortServices(svcs []ManagedService) {
	sort.Slice(svcs, func(i, j int) bool {
		ri, rj := svcs[i].Category.SortRank(), svcs[j].Category.SortRank()
		if ri != rj {
			return ri < rj
		}
		return svcs[i].Name < svcs[j].Name
	})
}

// StatusKind is the derived run state of a managed service.
type StatusKind string

const (
	StatusRunning   StatusKind = "running"
	StatusStopped   StatusKind = "stopped"
	StatusNotLoaded StatusKind = "not-loaded"
	StatusUnknown   StatusKind = "unknown"
)

// ServiceStatus is an ephemeral probe result. PID is positive if and only if
// Kind is StatusRunning.
type ServiceStatus struct {
	Kind StatusKind `json:"kind"`
	PID  int        `json:"pid,omitempty"`
}

func Running(pid int) ServiceStatus  { return ServiceStatus{Kind: StatusRunning, PID: pid} }
func Stopped() ServiceStatus        { return ServiceStatus{Kind: StatusStopped} }
func NotLoaded() ServiceStatus      { return ServiceStatus{Kind: StatusNotLoaded} }
func UnknownStatus() ServiceStatus  { return ServiceStatus{Kind: StatusUnknown} }
func (s ServiceStatus) IsRunning() bool { return s.Kind == StatusRunning }

func (s ServiceStatus) String() string { return string(s.Kind) }

// SlotState is the lifecycle state of a supervised process slot
// (the tunnel or the HTTP proxy).
type SlotState string

const (
	SlotIdle                SlotState = "idle"
	SlotStarting            SlotState = "starting"
	SlotWaitingCredentials  SlotState = "waiting-credentials"
	SlotRunning             SlotState = "running"
	SlotStopping            SlotState = "stopping"
)

// SlotRuntime is a point-in-time snapshot of a supervised slot.
type SlotRuntime struct {
	Slot      string    `json:"slot"`
	State     SlotState `json:"state"`
	PID       int       `json:"pid,omitempty"`
	StartedAt time.Time `json:"-"`
	UptimeSec int64     `json:"uptime_seconds,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// LogLevel classifies in-process log entries.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogEntry is one record in the bounded in-process log ring.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
}
