package log

import (
	"os"
)

// ConsoleAppender writes log entries unbuffered to standard error. Stdout is
// left free for sinks that emit EMF documents there; mixing diagnostics into
// that stream would corrupt it for downstream consumers.
type ConsoleAppender struct {
}

// NewConsoleAppender creates a stateless console appender. It is safe for
// concurrent use.
func NewConsoleAppender() *ConsoleAppender {
	return &ConsoleAppender{}
}

// Write writes the entry to stderr.
func (ca *ConsoleAppender) Write(buf []byte) (int, error) {
	return os.Stderr.Write(buf)
}

// Refresh is a no-op; writes are unbuffered.
func (ca *ConsoleAppender) Refresh() error {
	return nil
}

// Close is a no-op; there are no resources to release.
func (ca *ConsoleAppender) Close() error {
	return nil
}
