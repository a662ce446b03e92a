// Plugin factories for the sink implementations. Importing this package
// makes "console", "file", "agent" and "prometheus" available to the
// plugin configuration:
//
//	sink:
//	  file:
//	    path: /var/log/service/metrics.emf
//	  agent_flush:
//	    endpoint: tcp://127.0.0.1:25888
//	    tag: flush
package sink

import (
	"errors"
	"fmt"

	"github.com/lcx/emflog/config"
	"github.com/lcx/emflog/plugin"
)

func init() {
	plugin.RegisterPlugin(&consoleFactory{})
	plugin.RegisterPlugin(&fileFactory{})
	plugin.RegisterPlugin(&agentFactory{})
	plugin.RegisterPlugin(&prometheusFactory{})
}

// Lookup fetches a plugin-managed sink instance.
func Lookup(factoryName, insName string) (Sink, error) {
	p, err := plugin.GetPlugin(string(plugin.Sink), factoryName, insName)
	if err != nil {
		return nil, err
	}
	s, ok := p.(Sink)
	if !ok {
		return nil, fmt.Errorf("plugin %s/%s is not a sink", factoryName, insName)
	}
	return s, nil
}

func closeSink(p plugin.Plugin) error {
	s, ok := p.(Sink)
	if !ok {
		return fmt.Errorf("plugin %T is not a sink", p)
	}
	return s.Close()
}

// consoleFactory builds console sinks.
type consoleFactory struct{}

// Type identifies the plugin as a sink implementation.
func (f *consoleFactory) Type() plugin.Type {
	return plugin.Sink
}

// Name returns the canonical plugin name.
func (f *consoleFactory) Name() string {
	return "console"
}

// Setup builds a new console sink; the configuration payload carries no
// settings beyond the instance tag.
func (f *consoleFactory) Setup(map[string]any) (plugin.Plugin, error) {
	return NewConsoleSink(), nil
}

// Destroy releases the sink.
func (f *consoleFactory) Destroy(p plugin.Plugin) error {
	return closeSink(p)
}

// Reload accepts any configuration; stdout is stdout.
func (f *consoleFactory) Reload(plugin.Plugin, map[string]any) error {
	return nil
}

// CanDelete reports whether the instance can be removed.
func (f *consoleFactory) CanDelete(plugin.Plugin) bool {
	return true
}

// fileFactory builds file sinks.
type fileFactory struct{}

// Type identifies the plugin as a sink implementation.
func (f *fileFactory) Type() plugin.Type {
	return plugin.Sink
}

// Name returns the canonical plugin name.
func (f *fileFactory) Name() string {
	return "file"
}

// Setup builds a new file sink from the configuration payload.
func (f *fileFactory) Setup(v map[string]any) (plugin.Plugin, error) {
	cfg := &FileSinkCfg{}
	if err := config.Decode(v, cfg); err != nil {
		return nil, err
	}
	return NewFileSink(cfg)
}

// Destroy flushes and closes the sink.
func (f *fileFactory) Destroy(p plugin.Plugin) error {
	return closeSink(p)
}

// Reload swaps rotation thresholds in place. Changes to the path or the
// async pipeline need a rebuild, which the error signals to the caller.
func (f *fileFactory) Reload(p plugin.Plugin, v map[string]any) error {
	fs, ok := p.(*FileSink)
	if !ok {
		return fmt.Errorf("plugin %T is not a file sink", p)
	}

	cfg := &FileSinkCfg{}
	if err := config.Decode(v, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	cur := fs.config()
	if cfg.Path != cur.Path || cfg.IsAsync != cur.IsAsync ||
		cfg.AsyncCacheSize != cur.AsyncCacheSize ||
		cfg.AsyncWriteMillSec != cur.AsyncWriteMillSec {
		return errors.New("file sink reload requires rebuild")
	}

	fs.updateRotation(cfg.FileSplitMB, cfg.FileSplitHour)
	return nil
}

// CanDelete reports whether the instance can be removed.
func (f *fileFactory) CanDelete(plugin.Plugin) bool {
	return true
}

// agentFactory builds agent sinks.
type agentFactory struct{}

// Type identifies the plugin as a sink implementation.
func (f *agentFactory) Type() plugin.Type {
	return plugin.Sink
}

// Name returns the canonical plugin name.
func (f *agentFactory) Name() string {
	return "agent"
}

// Setup builds a new agent sink from the configuration payload.
func (f *agentFactory) Setup(v map[string]any) (plugin.Plugin, error) {
	cfg := &AgentSinkCfg{}
	if err := config.Decode(v, cfg); err != nil {
		return nil, err
	}
	return NewAgentSink(cfg)
}

// Destroy drains and closes the sink.
func (f *agentFactory) Destroy(p plugin.Plugin) error {
	return closeSink(p)
}

// Reload swaps the rate limits in place when only they changed; endpoint
// or buffering changes need a rebuild.
func (f *agentFactory) Reload(p plugin.Plugin, v map[string]any) error {
	as, ok := p.(*AgentSink)
	if !ok {
		return fmt.Errorf("plugin %T is not an agent sink", p)
	}

	cfg := &AgentSinkCfg{}
	if err := config.Decode(v, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	return as.reloadLimits(cfg)
}

// CanDelete reports whether the instance can be removed.
func (f *agentFactory) CanDelete(plugin.Plugin) bool {
	return true
}

// prometheusFactory builds prometheus mirror sinks.
type prometheusFactory struct{}

// Type identifies the plugin as a sink implementation.
func (f *prometheusFactory) Type() plugin.Type {
	return plugin.Sink
}

// Name returns the canonical plugin name.
func (f *prometheusFactory) Name() string {
	return "prometheus"
}

// Setup builds a new prometheus sink from the configuration payload.
func (f *prometheusFactory) Setup(v map[string]any) (plugin.Plugin, error) {
	cfg := &PrometheusSinkCfg{}
	if err := config.Decode(v, cfg); err != nil {
		return nil, err
	}
	return NewPrometheusSink(cfg)
}

// Destroy stops the consumer and any listeners.
func (f *prometheusFactory) Destroy(p plugin.Plugin) error {
	return closeSink(p)
}

// Reload always requests a rebuild; the registry and listeners cannot be
// reshaped in place.
func (f *prometheusFactory) Reload(plugin.Plugin, map[string]any) error {
	return errors.New("prometheus sink reload requires rebuild")
}

// CanDelete reports whether the instance can be removed.
func (f *prometheusFactory) CanDelete(plugin.Plugin) bool {
	return true
}
