package log

import "fmt"

// LogCfg configures the diagnostic logger. It is loaded by the config
// manager under the name "logger" and supports hot-reload: level and caller
// settings apply to live loggers without restart.
type LogCfg struct {
	// LogLevel is the minimum level that will be written. Valid levels run
	// from TraceLevel (1) to FatalLevel (6).
	LogLevel Level `mapstructure:"log_level"`

	// CallerSkip adds stack frames to skip when resolving caller
	// information, for wrappers that log on behalf of their callers.
	CallerSkip int `mapstructure:"caller_skip"`

	// ConsoleAppender enables the stderr appender.
	ConsoleAppender bool `mapstructure:"console_appender"`

	// EnabledCallerInfo stamps each entry with file:line and function name.
	// Resolving callers costs a runtime.Caller per entry on new call sites.
	EnabledCallerInfo bool `mapstructure:"enabled_caller_info"`
}

// GetName returns the config name the manager files this under.
func (cfg *LogCfg) GetName() string {
	return "logger"
}

// Validate checks the configuration ranges.
func (cfg *LogCfg) Validate() error {
	if cfg.LogLevel < TraceLevel || cfg.LogLevel > FatalLevel {
		return fmt.Errorf("log level out of range: %d", cfg.LogLevel)
	}
	if cfg.CallerSkip < 0 {
		return fmt.Errorf("caller_skip must not be negative: %d", cfg.CallerSkip)
	}
	return nil
}

// getDefaultCfg returns a fresh default configuration. Callers may mutate
// the returned value, so it is never shared.
func getDefaultCfg() *LogCfg {
	return &LogCfg{
		LogLevel:        InfoLevel,
		ConsoleAppender: true,
	}
}
