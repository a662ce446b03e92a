// Package emflog emits CloudWatch Embedded Metric Format documents. A
// MetricsLogger accumulates metrics, dimensions, and properties over one
// unit of work and flushes them as self-contained JSON documents to a sink:
//
//	logger, err := emflog.New()
//	if err != nil {
//		return err
//	}
//	defer logger.Close()
//
//	logger.PutDimension("Operation", "checkout")
//	logger.PutMetric("Latency", 42, metrics.UnitMilliseconds)
//	logger.Flush()
//
// The document model lives in the metrics package, delivery in the sink
// package; this package wires them to the environment configuration.
package emflog

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/lcx/emflog/config"
	"github.com/lcx/emflog/log"
	"github.com/lcx/emflog/metrics"
	"github.com/lcx/emflog/sink"
)

// MetricsLogger binds a metric context to a sink. All methods are safe for
// concurrent use.
type MetricsLogger struct {
	// mu guards the context swap on flush. Mutators hold it shared for the
	// duration of the mutation so a racing Flush cannot retire the context
	// under them.
	mu   sync.RWMutex
	ctx  *metrics.MetricsContext
	sink sink.Sink

	cfg      *config.EnvConfig
	preserve bool
}

// New builds a logger. Without WithConfig the environment configuration is
// loaded through the config manager, so config files and AWS_EMF_* variables
// apply. Without WithSink the delivery path is resolved: a sink registered
// with sink.SetDefaultSink wins, otherwise the runtime environment decides.
//
// Every document the logger emits carries the LogGroup, ServiceName, and
// ServiceType default dimensions from the configuration.
func New(opts ...Option) (*MetricsLogger, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	cfg := o.cfg
	if cfg == nil {
		loaded, err := config.LoadEnvConfig(config.GetInstance())
		if err != nil {
			return nil, fmt.Errorf("load env config: %w", err)
		}
		cfg = loaded
	}
	cfg = normalizeConfig(cfg)

	s := o.sink
	if s == nil {
		resolved, err := resolveSink(cfg)
		if err != nil {
			return nil, err
		}
		s = resolved
	}

	ctx := metrics.NewMetricsContext()

	namespace := o.namespace
	if namespace == "" {
		namespace = cfg.Namespace
	}
	if namespace != "" {
		if err := ctx.SetNamespace(namespace); err != nil {
			return nil, err
		}
	}

	defaults, err := defaultDimensions(cfg)
	if err != nil {
		return nil, err
	}
	ctx.SetDefaultDimensions(defaults)

	if env := os.Getenv("AWS_EXECUTION_ENV"); env != "" {
		if err := ctx.PutProperty("executionEnvironment", env); err != nil {
			return nil, err
		}
	}

	preserve := cfg.FlushPreserveDimensions
	if o.preserve != nil {
		preserve = *o.preserve
	}

	log.Debug().Str("sink", s.Name()).Str("namespace", ctx.Namespace()).
		Str("service", cfg.ServiceName).Msg("metrics logger created")

	return &MetricsLogger{ctx: ctx, sink: s, cfg: cfg, preserve: preserve}, nil
}

// normalizeConfig snapshots cfg so later caller mutations don't leak in, and
// fills the Unknown fallbacks the default dimensions rely on.
func normalizeConfig(cfg *config.EnvConfig) *config.EnvConfig {
	c := *cfg
	if c.ServiceName == "" {
		c.ServiceName = "Unknown"
	}
	if c.ServiceType == "" {
		c.ServiceType = "Unknown"
	}
	return &c
}

// resolveSink picks the delivery path when the caller did not supply one.
// Lambda and Local write to stdout, where the platform or the developer
// picks documents up; everything else ships to the CloudWatch agent.
func resolveSink(cfg *config.EnvConfig) (sink.Sink, error) {
	if s := sink.DefaultSink(); !isNoop(s) {
		return s, nil
	}

	switch config.DetectEnvironment(cfg) {
	case config.EnvironmentLocal, config.EnvironmentLambda:
		return sink.NewConsoleSink(), nil
	default:
		s, err := sink.NewAgentSink(&sink.AgentSinkCfg{Endpoint: cfg.AgentEndpoint})
		if err != nil {
			return nil, fmt.Errorf("build agent sink: %w", err)
		}
		return s, nil
	}
}

// isNoop reports whether s is the registry's nothing-registered fallback.
func isNoop(s sink.Sink) bool {
	_, ok := s.(sink.NoopSink)
	return ok
}

// defaultDimensions stamps the configured identity onto every document.
func defaultDimensions(cfg *config.EnvConfig) (*metrics.DimensionSet, error) {
	set := metrics.NewDimensionSet()
	pairs := [...]struct{ name, value string }{
		{"LogGroup", cfg.ResolveLogGroupName()},
		{"ServiceName", cfg.ServiceName},
		{"ServiceType", cfg.ServiceType},
	}
	for _, p := range pairs {
		if err := set.AddDimension(p.name, p.value); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// PutMetric records one sample for the named metric at standard resolution.
func (l *MetricsLogger) PutMetric(key string, value float64, unit metrics.Unit) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ctx.PutMetric(key, value, unit)
}

// PutMetricWithResolution records one sample for the named metric. The first
// registration of a key fixes its resolution for the current context.
func (l *MetricsLogger) PutMetricWithResolution(key string, value float64, unit metrics.Unit, resolution metrics.StorageResolution) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ctx.PutMetricWithResolution(key, value, unit, resolution)
}

// PutDimension adds a single-entry custom dimension set.
func (l *MetricsLogger) PutDimension(name, value string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ctx.PutDimension(name, value)
}

// PutDimensionSet appends a custom dimension set.
func (l *MetricsLogger) PutDimensionSet(set *metrics.DimensionSet) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ctx.PutDimensionSet(set)
}

// SetDimensions replaces the custom dimension sets wholesale; useDefault
// false suppresses the default set in later merges without clearing it.
func (l *MetricsLogger) SetDimensions(useDefault bool, sets ...*metrics.DimensionSet) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ctx.SetDimensions(useDefault, sets...)
}

// ResetDimensions clears the custom dimension sets; useDefault false also
// clears the default set.
func (l *MetricsLogger) ResetDimensions(useDefault bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.ctx.ResetDimensions(useDefault)
}

// SetNamespace replaces the metric namespace.
func (l *MetricsLogger) SetNamespace(namespace string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ctx.SetNamespace(namespace)
}

// SetTimestamp overrides the document timestamp.
func (l *MetricsLogger) SetTimestamp(t time.Time) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.ctx.SetTimestamp(t)
}

// PutProperty stores an arbitrary top-level field on the document.
func (l *MetricsLogger) PutProperty(name string, value any) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ctx.PutProperty(name, value)
}

// PutMetadata stores a write-once custom entry in the metadata block.
func (l *MetricsLogger) PutMetadata(key string, value any) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ctx.PutMetadata(key, value)
}

// Flush serializes the live context, hands every document to the sink in
// order, and retires the context. The replacement keeps the namespace,
// properties, and default dimensions; custom dimension sets survive only
// when flush preservation is on. A sink failure leaves the context in place
// so the caller can retry.
func (l *MetricsLogger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.ctx.Serialize()
	if err != nil {
		return err
	}
	if err := l.sink.Accept(events); err != nil {
		return fmt.Errorf("sink %s: %w", l.sink.Name(), err)
	}

	l.ctx = l.ctx.CreateCopyWithContext(l.preserve)
	return nil
}

// Close flushes once more, then drains and shuts the sink down. The logger
// owns its sink: callers sharing one sink across loggers should flush here
// and close the sink themselves instead.
func (l *MetricsLogger) Close() error {
	if err := l.Flush(); err != nil {
		return err
	}
	if err := l.sink.Refresh(); err != nil {
		return err
	}
	return l.sink.Close()
}
