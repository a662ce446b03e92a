package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// _envPrefix is the environment variable prefix shared by every config. A
// mapstructure key "log_level" is overridden by AWS_EMF_LOG_LEVEL, the
// variable naming the CloudWatch EMF libraries use across languages.
const _envPrefix = "AWS_EMF"

// _reloadDebounce coalesces the burst of filesystem events editors and
// orchestrators produce for a single logical change.
const _reloadDebounce = 100 * time.Millisecond

// ConfigManager interface for configuration management
type ConfigManager interface {
	LoadConfig(configName string, config Config) error
	GetConfig(configName string) (Config, error)
	RegisterValidator(configName string, validator ValidatorFunc)
	RegisterHook(configName string, hook HookFunc)
	AddChangeListener(listener ConfigChangeListener)
	RemoveChangeListener(listener ConfigChangeListener)
	SetBasePath(path string)
	SetEnvironment(env string)
	Close() error
}

// ValidatorFunc configuration validation function
type ValidatorFunc func(Config) error

// HookFunc configuration change hook function
type HookFunc func(oldVal, newVal Config) error

// configManager implementation of ConfigManager interface
type configManager struct {
	mu         sync.RWMutex
	configs    map[string]Config
	watchers   map[string]*fsnotify.Watcher
	validators map[string]ValidatorFunc
	hooks      map[string][]HookFunc
	listeners  []ConfigChangeListener
	basePath   string
	env        string
}

// NewConfigManager creates a new configuration manager
func NewConfigManager() ConfigManager {
	return &configManager{
		configs:    make(map[string]Config),
		watchers:   make(map[string]*fsnotify.Watcher),
		validators: make(map[string]ValidatorFunc),
		hooks:      make(map[string][]HookFunc),
		basePath:   "./configs",
		env:        "development",
	}
}

// LoadConfig loads configuration from file and environment. The passed
// config carries the defaults: values it already holds survive unless the
// file or an AWS_EMF_* variable overrides them. A missing file is not an
// error, the config is then sourced from defaults and environment only and
// no watcher is installed.
func (cm *configManager) LoadConfig(configName string, config Config) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	v := cm.newViperFor(configName, config)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config failed: %w", err)
		}
	}

	// Unmarshal to struct
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("unmarshal config failed: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return fmt.Errorf("validate config failed: %w", err)
	}
	if validator, exists := cm.validators[configName]; exists {
		if err := validator(config); err != nil {
			return fmt.Errorf("validate config failed: %w", err)
		}
	}

	// Store configuration
	cm.configs[configName] = config

	// Set up file watching
	if err := cm.watchConfigFile(configName, v); err != nil {
		return fmt.Errorf("watch config file failed: %w", err)
	}

	return nil
}

// newViperFor builds the viper instance for one config name. LoadConfig and
// reload go through it so both see the same paths and environment bindings.
func (cm *configManager) newViperFor(configName string, config Config) *viper.Viper {
	v := viper.New()

	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)
	v.AddConfigPath(fmt.Sprintf("%s/%s", cm.basePath, cm.env))

	v.AutomaticEnv()
	v.SetEnvPrefix(_envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvKeys(v, config)

	return v
}

// bindEnvKeys binds each mapstructure key of config explicitly. AutomaticEnv
// alone resolves only keys viper already knows from a file, so without the
// explicit bindings a purely environment-provided value would not survive
// Unmarshal.
func bindEnvKeys(v *viper.Viper, config Config) {
	t := reflect.TypeOf(config)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return
	}

	for i := 0; i < t.NumField(); i++ {
		key := t.Field(i).Tag.Get("mapstructure")
		if key == "" || key == "-" {
			continue
		}
		_ = v.BindEnv(key)
	}
}

// GetConfig safely retrieves configuration by name
func (cm *configManager) GetConfig(configName string) (Config, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	config, exists := cm.configs[configName]
	if !exists {
		return nil, fmt.Errorf("config %s not found", configName)
	}

	return config, nil
}

// RegisterValidator registers configuration validator
func (cm *configManager) RegisterValidator(configName string, validator ValidatorFunc) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.validators[configName] = validator
}

// RegisterHook registers configuration change hook
func (cm *configManager) RegisterHook(configName string, hook HookFunc) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.hooks[configName] = append(cm.hooks[configName], hook)
}

// AddChangeListener registers a listener notified after every successful
// reload of any config.
func (cm *configManager) AddChangeListener(listener ConfigChangeListener) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.listeners = append(cm.listeners, listener)
}

// RemoveChangeListener unregisters a previously added listener.
func (cm *configManager) RemoveChangeListener(listener ConfigChangeListener) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	for i, l := range cm.listeners {
		if l == listener {
			cm.listeners = append(cm.listeners[:i], cm.listeners[i+1:]...)
			return
		}
	}
}

// SetBasePath sets base path for configuration files
func (cm *configManager) SetBasePath(path string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.basePath = path
}

// SetEnvironment sets environment for configuration
func (cm *configManager) SetEnvironment(env string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.env = env
}

// watchConfigFile watches configuration file for changes
func (cm *configManager) watchConfigFile(configName string, v *viper.Viper) error {
	configFile := v.ConfigFileUsed()
	if configFile == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	cm.watchers[configName] = watcher

	go func() {
		var debounce *time.Timer
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					if debounce != nil {
						debounce.Stop()
					}
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if debounce == nil {
					debounce = time.AfterFunc(_reloadDebounce, func() {
						cm.reloadConfig(configName)
					})
				} else {
					debounce.Reset(_reloadDebounce)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				fmt.Fprintf(os.Stderr, "config: watcher error for %s: %v\n", configName, err)
			}
		}
	}()

	return watcher.Add(configFile)
}

// reloadConfig reloads configuration when file changes
func (cm *configManager) reloadConfig(configName string) {
	newConfig, oldConfig, ok := cm.applyReload(configName)
	if !ok {
		return
	}

	for _, listener := range cm.snapshotListeners() {
		if err := listener.OnConfigChanged(configName, newConfig, oldConfig); err != nil {
			fmt.Fprintf(os.Stderr, "config: change listener for %s failed: %v\n", configName, err)
		}
	}
}

// applyReload re-reads, validates, and swaps in the new config value. Any
// failure keeps the old value in place.
func (cm *configManager) applyReload(configName string) (Config, Config, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	oldConfig, exists := cm.configs[configName]
	if !exists {
		return nil, nil, false
	}

	// Create new config instance (preserve original type via reflection)
	newConfig := reflect.New(reflect.TypeOf(oldConfig).Elem()).Interface().(Config)

	v := cm.newViperFor(configName, newConfig)

	if err := v.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "config: reload of %s failed to read: %v\n", configName, err)
		return nil, nil, false
	}

	if err := v.Unmarshal(newConfig); err != nil {
		fmt.Fprintf(os.Stderr, "config: reload of %s failed to unmarshal: %v\n", configName, err)
		return nil, nil, false
	}

	if err := newConfig.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: reload of %s rejected: %v\n", configName, err)
		return nil, nil, false
	}
	if validator, exists := cm.validators[configName]; exists {
		if err := validator(newConfig); err != nil {
			fmt.Fprintf(os.Stderr, "config: reload of %s rejected: %v\n", configName, err)
			return nil, nil, false
		}
	}

	// Execute hook functions
	if hooks, exists := cm.hooks[configName]; exists {
		for _, hook := range hooks {
			if err := hook(oldConfig, newConfig); err != nil {
				fmt.Fprintf(os.Stderr, "config: reload hook for %s failed: %v\n", configName, err)
				return nil, nil, false
			}
		}
	}

	cm.configs[configName] = newConfig
	return newConfig, oldConfig, true
}

func (cm *configManager) snapshotListeners() []ConfigChangeListener {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	listeners := make([]ConfigChangeListener, len(cm.listeners))
	copy(listeners, cm.listeners)
	return listeners
}

// Close closes the configuration manager
func (cm *configManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	var firstErr error
	for _, watcher := range cm.watchers {
		if err := watcher.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	cm.watchers = make(map[string]*fsnotify.Watcher)

	return firstErr
}
