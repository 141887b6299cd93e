package mutation

import "github.com/rs/zerolog"

// Severity of a user-facing notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// Notifier receives fire-and-forget user notifications from the engine.
// The notification layer renders them; no acknowledgement is expected.
type Notifier interface {
	Notify(message string, severity Severity)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(message string, severity Severity)

func (f NotifierFunc) Notify(message string, severity Severity) {
	f(message, severity)
}

// LogNotifier writes notifications to a zerolog logger. Used where no
// notification surface is wired up, e.g. the CLI.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n LogNotifier) Notify(message string, severity Severity) {
	switch severity {
	case SeverityError:
		n.Log.Error().Msg(message)
	default:
		n.Log.Info().Str("severity", string(severity)).Msg(message)
	}
}
