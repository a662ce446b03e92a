// Package sink delivers serialized metric documents to their destination.
// The aggregation core never touches I/O; everything that leaves the
// process goes through a Sink. Implementations cover stdout (console),
// JSON-lines files with rotation, the CloudWatch agent socket, and a local
// Prometheus mirror for development.
package sink

// Sink consumes fully serialized embedded-metric documents. Each event is
// one self-contained JSON document without a trailing newline; Accept
// preserves their order.
type Sink interface {
	// Name identifies the sink implementation.
	Name() string

	// Accept takes ownership of the events and delivers them. Buffered
	// implementations may return before the data reaches its destination.
	Accept(events []string) error

	// Refresh blocks until events accepted so far are handed to the
	// underlying destination.
	Refresh() error

	// Close flushes buffered events and releases the sink. The sink must
	// not be used afterwards.
	Close() error
}

// NoopSink discards every event. It backs the default-sink registry before
// anything real is installed.
type NoopSink struct{}

// Name implements Sink.
func (NoopSink) Name() string { return "noop" }

// Accept implements Sink, dropping the events.
func (NoopSink) Accept([]string) error { return nil }

// Refresh implements Sink.
func (NoopSink) Refresh() error { return nil }

// Close implements Sink.
func (NoopSink) Close() error { return nil }
