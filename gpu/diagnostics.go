package gpu

import (
	"fmt"

	"golang.org/x/exp/slog"
)

type Severity int

const (
	SeverityVerbose Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityVerbose:
		return "verbose"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// DiagnosticSink receives validation and error messages from the backend.
// The return value is handed back to the backend: true asks it to abort the
// call that triggered the message.
type DiagnosticSink func(severity Severity, category string, message string) bool

// LogDiagnostics returns a sink that logs errors and drops everything less
// severe. It never asks the backend to abort the triggering call, and never
// lets a panic escape into the backend.
func LogDiagnostics(logger *slog.Logger) DiagnosticSink {
	return func(severity Severity, category string, message string) (abort bool) {
		defer func() {
			if r := recover(); r != nil {
				abort = false
			}
		}()

		if severity >= SeverityError {
			logger.Error(message, "severity", severity, "category", category)
		}
		return false
	}
}
