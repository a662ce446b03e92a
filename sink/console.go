package sink

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// ConsoleSink writes each document on its own line. Lambda and local
// development deliver metrics this way: the platform scrapes stdout, so
// nothing else in the process may write there.
type ConsoleSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleSink returns a sink writing to stdout.
func NewConsoleSink() *ConsoleSink {
	return NewConsoleSinkWithWriter(os.Stdout)
}

// NewConsoleSinkWithWriter returns a sink writing to w.
func NewConsoleSinkWithWriter(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w}
}

// Name implements Sink.
func (s *ConsoleSink) Name() string { return "console" }

// FactoryName implements plugin.Plugin.
func (s *ConsoleSink) FactoryName() string { return "console" }

// Accept writes every event followed by a newline. Events of one call
// never interleave with another caller's.
func (s *ConsoleSink) Accept(events []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range events {
		if _, err := io.WriteString(s.w, ev); err != nil {
			return fmt.Errorf("console write: %w", err)
		}
		if _, err := io.WriteString(s.w, "\n"); err != nil {
			return fmt.Errorf("console write: %w", err)
		}
	}
	return nil
}

// Refresh implements Sink. Console output is unbuffered.
func (s *ConsoleSink) Refresh() error { return nil }

// Close implements Sink. The writer stays open; the sink does not own it.
func (s *ConsoleSink) Close() error { return nil }
