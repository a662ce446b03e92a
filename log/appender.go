package log

// LogAppender is the output destination for formatted log events. A logger
// fans each finished event out to every registered appender.
//
// Implementations must be safe for concurrent use; events arrive from any
// goroutine that logs.
type LogAppender interface {
	// Write outputs one formatted log entry, already newline-terminated.
	Write(buf []byte) (n int, err error)

	// Refresh forces buffered data out immediately. It blocks until pending
	// entries reach the underlying destination.
	Refresh() error

	// Close flushes buffered entries and releases resources. Called once at
	// shutdown.
	Close() error
}
