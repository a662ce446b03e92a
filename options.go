package emflog

import (
	"github.com/lcx/emflog/config"
	"github.com/lcx/emflog/sink"
)

// Option customizes a MetricsLogger at construction.
type Option func(*options)

type options struct {
	sink      sink.Sink
	namespace string
	cfg       *config.EnvConfig
	preserve  *bool
}

// WithSink pins the delivery sink, bypassing the default-sink registry and
// environment detection.
func WithSink(s sink.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithNamespace sets the metric namespace, overriding the configured one.
func WithNamespace(namespace string) Option {
	return func(o *options) { o.namespace = namespace }
}

// WithFlushPreserveDimensions overrides the configured preservation flag:
// true carries custom dimension sets across flushes.
func WithFlushPreserveDimensions(preserve bool) Option {
	return func(o *options) { o.preserve = &preserve }
}

// WithConfig supplies the configuration directly, skipping the config
// manager. The logger keeps its own copy.
func WithConfig(cfg *config.EnvConfig) Option {
	return func(o *options) { o.cfg = cfg }
}
