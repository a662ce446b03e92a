package sink

import "sync"

// Process-wide default sink. Loggers built without an explicit sink fall
// back to it, and it falls back to NoopSink until something is installed.
var (
	_defaultSink   Sink
	_defaultSinkMu sync.RWMutex
)

// SetDefaultSink installs s as the process-wide fallback destination.
// Passing nil clears the registry. The registry does not own sink
// lifecycles: replacing a sink does not close the previous one.
func SetDefaultSink(s Sink) {
	_defaultSinkMu.Lock()
	_defaultSink = s
	_defaultSinkMu.Unlock()
}

// DefaultSink returns the registered fallback sink, or a NoopSink when
// nothing has been installed.
func DefaultSink() Sink {
	_defaultSinkMu.RLock()
	s := _defaultSink
	_defaultSinkMu.RUnlock()

	if s == nil {
		return NoopSink{}
	}
	return s
}
