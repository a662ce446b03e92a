// Package log implements the library's structured diagnostic logging: a
// fluent, pooled, level-filtered JSON logger writing to pluggable appenders.
// It is independent of the EMF document pipeline; sinks use it to report
// their own health, never to emit metric payloads.
package log

import (
	"github.com/lcx/emflog/config"
)

// Logger is the event-producing side of the logging API. Level methods
// return nil when the level is filtered, which the LogEvent methods tolerate.
type Logger interface {
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	Fatal() *LogEvent
	IgnoreCheckLevel() bool
	GetAppender() []LogAppender
	AddAppender(appender LogAppender)
	OnEventEnd(e *LogEvent)
}

var _defaultLogger *DiagLogger

func init() {
	_defaultLogger = NewLogger(nil)
}

// AddAppender adds an appender to the default logger.
func AddAppender(appender LogAppender) {
	_defaultLogger.AddAppender(appender)
}

// Refresh flushes all appenders of the default logger.
func Refresh() {
	_defaultLogger.Refresh()
}

// SetDefaultLogger replaces the default logger used by the package-level
// functions.
func SetDefaultLogger(logger *DiagLogger) {
	_defaultLogger = logger
}

// InitializeWithConfigManager rebuilds the default logger from the "logger"
// configuration and registers it for hot-reload. The defaults are used for
// any setting the configuration source does not provide.
func InitializeWithConfigManager(configManager config.ConfigManager) error {
	if configManager == nil {
		return nil
	}

	logCfg := getDefaultCfg()
	if err := configManager.LoadConfig("logger", logCfg); err != nil {
		return err
	}

	SetDefaultLogger(NewLoggerWithConfigManager(logCfg, configManager))
	return nil
}

// Initialize rebuilds the default logger from the singleton config manager.
func Initialize() error {
	return InitializeWithConfigManager(config.GetInstance())
}

// Debug creates a debug-level event on the default logger.
func Debug() *LogEvent {
	return _defaultLogger.Debug()
}

// Info creates an info-level event on the default logger.
func Info() *LogEvent {
	return _defaultLogger.Info()
}

// Warn creates a warn-level event on the default logger.
func Warn() *LogEvent {
	return _defaultLogger.Warn()
}

// Error creates an error-level event on the default logger.
func Error() *LogEvent {
	return _defaultLogger.Error()
}

// Fatal creates a fatal-level event on the default logger; completing it
// panics.
func Fatal() *LogEvent {
	return _defaultLogger.Fatal()
}
