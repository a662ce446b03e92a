package log

import (
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lcx/emflog/config"
)

// DiagLogger is the library's diagnostic logger: thread-safe, pooled events,
// level filtering with hot-reload, optional caller capture. Sinks and the
// config and plugin layers log through it; it never touches stdout, so EMF
// document streams stay clean.
//
// The logging path is lock-free: the minimum level is read atomically and
// events come from a sync.Pool. Configuration updates swap the level
// atomically and take a mutex only for the cold fields.
type DiagLogger struct {
	appenders         []LogAppender
	minLevel          atomic.Int32
	callerSkip        int
	eventPool         *sync.Pool
	callerCache       sync.Map
	enabledCallerInfo bool

	configMutex   sync.RWMutex
	currentConfig *LogCfg
}

// NewLogger creates a DiagLogger from cfg; nil selects the defaults (info
// level, console appender).
func NewLogger(cfg *LogCfg) *DiagLogger {
	if cfg == nil {
		cfg = getDefaultCfg()
	}

	logger := &DiagLogger{
		callerSkip:        cfg.CallerSkip,
		enabledCallerInfo: cfg.EnabledCallerInfo,
		currentConfig:     cfg,
	}
	logger.minLevel.Store(int32(cfg.LogLevel))

	logger.eventPool = &sync.Pool{
		New: func() any {
			return newEvent(logger)
		},
	}

	if cfg.ConsoleAppender {
		logger.AddAppender(NewConsoleAppender())
	}

	return logger
}

// NewLoggerWithConfigManager creates a DiagLogger registered for hot-reload:
// configuration changes published by the manager under the "logger" name
// apply to the running logger.
func NewLoggerWithConfigManager(cfg *LogCfg, configManager config.ConfigManager) *DiagLogger {
	logger := NewLogger(cfg)
	if configManager != nil {
		configManager.AddChangeListener(logger)
	}
	return logger
}

// OnConfigChanged implements config.ConfigChangeListener. Non-logger changes
// are ignored.
func (x *DiagLogger) OnConfigChanged(configName string, newConfig, oldConfig config.Config) error {
	if configName != "logger" {
		return nil
	}
	newCfg, ok := newConfig.(*LogCfg)
	if !ok {
		return nil
	}
	x.updateConfig(newCfg)
	return nil
}

func (x *DiagLogger) updateConfig(newCfg *LogCfg) {
	x.configMutex.Lock()
	defer x.configMutex.Unlock()

	x.minLevel.Store(int32(newCfg.LogLevel))
	x.callerSkip = newCfg.CallerSkip
	x.enabledCallerInfo = newCfg.EnabledCallerInfo
	x.currentConfig = newCfg

	x.Refresh()
}

// GetCurrentConfig returns the configuration currently in effect.
func (x *DiagLogger) GetCurrentConfig() *LogCfg {
	x.configMutex.RLock()
	defer x.configMutex.RUnlock()
	return x.currentConfig
}

// SetLevel changes the minimum level immediately.
func (x *DiagLogger) SetLevel(level Level) {
	x.minLevel.Store(int32(level))
}

func (x *DiagLogger) checkLevel(level Level) bool {
	return Level(x.minLevel.Load()) <= level
}

// AddAppender registers another output destination. Events already in
// flight keep the appender set they started with.
func (x *DiagLogger) AddAppender(appender LogAppender) {
	x.appenders = append(x.appenders, appender)
}

// GetAppender returns the registered appenders.
func (x *DiagLogger) GetAppender() []LogAppender {
	return x.appenders
}

// Refresh flushes every appender.
func (x *DiagLogger) Refresh() {
	for _, appender := range x.appenders {
		appender.Refresh()
	}
}

// IgnoreCheckLevel reports whether level filtering is bypassed; DiagLogger
// always filters.
func (x *DiagLogger) IgnoreCheckLevel() bool {
	return false
}

func (x *DiagLogger) newEvent() *LogEvent {
	e := x.eventPool.Get().(*LogEvent)
	e.Reset()
	return e
}

// OnEventEnd writes a finished event to every appender and returns it to the
// pool. A fatal event panics after it is written so the failure is visible
// in the log before the process dies.
func (x *DiagLogger) OnEventEnd(e *LogEvent) {
	for _, appender := range x.appenders {
		appender.Write(e.buf.Bytes())
	}

	if e.level == FatalLevel {
		panic("fatal log event")
	}

	x.eventPool.Put(e)
}

// Debug creates a debug-level event, or nil when filtered.
func (x *DiagLogger) Debug() *LogEvent {
	return x.log(DebugLevel)
}

// Info creates an info-level event, or nil when filtered.
func (x *DiagLogger) Info() *LogEvent {
	return x.log(InfoLevel)
}

// Warn creates a warn-level event, or nil when filtered.
func (x *DiagLogger) Warn() *LogEvent {
	return x.log(WarnLevel)
}

// Error creates an error-level event, or nil when filtered.
func (x *DiagLogger) Error() *LogEvent {
	return x.log(ErrorLevel)
}

// Fatal creates a fatal-level event; completing it panics.
func (x *DiagLogger) Fatal() *LogEvent {
	return x.log(FatalLevel)
}

// getCallerInfo resolves the logging call site, caching per program counter
// so repeated call sites cost one map load.
func (x *DiagLogger) getCallerInfo() *callerInfo {
	pc, file, line, ok := runtime.Caller(3 + x.callerSkip)
	if !ok {
		return _unknownCallerInfo
	}

	if cached, found := x.callerCache.Load(pc); found {
		return cached.(*callerInfo)
	}

	funcName := runtime.FuncForPC(pc).Name()
	function := funcName
	if dotIdx := strings.LastIndexByte(funcName, '.'); dotIdx != -1 {
		function = funcName[dotIdx+1:]
	}

	// Keep the last two path segments of the file for readable yet short
	// call sites.
	if lastSlash := strings.LastIndexByte(file, '/'); lastSlash > 0 {
		if secondLastSlash := strings.LastIndexByte(file[:lastSlash], '/'); secondLastSlash >= 0 {
			file = file[secondLastSlash+1:]
		}
	}

	c := newCallerInfo(file, function, line)
	x.callerCache.Store(pc, c)
	return c
}

// log stamps a new event with time, level, and optionally the caller.
func (x *DiagLogger) log(level Level) *LogEvent {
	if !x.IgnoreCheckLevel() && !x.checkLevel(level) {
		return nil
	}

	e := x.newEvent()
	e.level = level

	t := time.Now()
	e.Time("time", &t)
	e.Str("level", level.String())

	if x.enabledCallerInfo {
		e.Str("caller", x.getCallerInfo().String())
	}

	return e
}
