package log

import (
	"io"
	"sync"
)

// WriterAppender routes log entries to an arbitrary io.Writer. Tests inject a
// bytes.Buffer through it to capture output; a mutex serializes writes since
// io.Writer implementations are not required to be goroutine-safe.
type WriterAppender struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterAppender creates an appender backed by w.
func NewWriterAppender(w io.Writer) *WriterAppender {
	return &WriterAppender{w: w}
}

// Write writes the entry to the underlying writer.
func (wa *WriterAppender) Write(buf []byte) (int, error) {
	wa.mu.Lock()
	defer wa.mu.Unlock()
	return wa.w.Write(buf)
}

// Refresh is a no-op; entries are handed to the writer as they finish.
func (wa *WriterAppender) Refresh() error {
	return nil
}

// Close is a no-op; the writer's lifetime belongs to the caller.
func (wa *WriterAppender) Close() error {
	return nil
}
