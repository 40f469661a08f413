package supervisor

import (
	"log/slog"

	"github.com/tunnelbar/tunnelbar/internal/model"
)

// Notifier receives user-facing status notifications from a supervisor.
// The status surface (menu, banner area) implements this; the default
// implementation just logs.
type Notifier interface {
	Notify(level model.LogLevel, title, message string)
}

// LogNotifier routes notifications to the application log.
type LogNotifier struct{}

func (LogNotifier) Notify(level model.LogLevel, title, message string) {
	switch level {
	case model.LevelError:
		slog.Error(title, "detail", message)
	case model.LevelWarn:
		slog.Warn(title, "detail", message)
	default:
		slog.Info(title, "detail", message)
	}
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(level model.LogLevel, title, message string)

func (f NotifierFunc) Notify(level model.LogLevel, title, message string) {
	f(level, title, message)
}
