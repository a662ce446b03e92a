package log

import "strings"

// Level is the severity of a log event. Levels are ordered; higher values are
// more critical and survive stricter filtering.
type Level int8

const (
	// TraceLevel carries very detailed diagnostics such as per-document
	// serialization traces.
	TraceLevel Level = iota + 1

	// DebugLevel carries debugging information useful during development.
	DebugLevel

	// InfoLevel carries normal lifecycle messages: sink startup, config
	// reloads, flush summaries.
	InfoLevel

	// WarnLevel signals recoverable problems such as dropped documents or a
	// reconnecting agent connection.
	WarnLevel

	// ErrorLevel signals failed operations that need attention.
	ErrorLevel

	// FatalLevel terminates the application after the event is written.
	FatalLevel
)

// String returns the uppercase name of the level.
func (l Level) String() string {
	switch l {
	case TraceLevel:
		return "TRACE"
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	}
	return "UNKNOWN"
}

// ParseLevel converts a level name to its Level value, case-insensitively.
// Unrecognized input falls back to InfoLevel.
func ParseLevel(levelStr string) Level {
	switch strings.ToUpper(levelStr) {
	case "TRACE":
		return TraceLevel
	case "DEBUG":
		return DebugLevel
	case "INFO":
		return InfoLevel
	case "WARN":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	case "FATAL":
		return FatalLevel
	}
	return InfoLevel
}
