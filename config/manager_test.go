package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestConfig test configuration structure
type TestConfig struct {
	Name     string `mapstructure:"name"`
	Port     int    `mapstructure:"port"`
	Host     string `mapstructure:"host"`
	MaxConns int    `mapstructure:"max_conns"`
}

func (c *TestConfig) GetName() string {
	return c.Name
}

func (c *TestConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

// TestChangeListener test configuration change listener
// This is used to track configuration changes in tests
type TestChangeListener struct {
	mu             sync.Mutex
	ChangeCount    atomic.Int32
	LastConfig     Config
	LastOldConfig  Config
	LastConfigName string
}

// OnConfigChanged implements ConfigChangeListener interface
func (l *TestChangeListener) OnConfigChanged(configName string, newConfig, oldConfig Config) error {
	l.mu.Lock()
	l.LastConfig = newConfig
	l.LastOldConfig = oldConfig
	l.LastConfigName = configName
	l.mu.Unlock()

	l.ChangeCount.Add(1)
	return nil
}

// writeConfigFile writes a YAML config file named <name>.yaml under dir
func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name+".yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

// waitFor polls cond until it holds or the timeout elapses
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

// TestNewConfigManager tests creating configuration manager
func TestNewConfigManager(t *testing.T) {
	cm := NewConfigManager()
	if cm == nil {
		t.Fatal("NewConfigManager() returned nil")
	}
}

// TestLoadConfig tests loading configuration from file
func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfigFile(t, tmpDir, "test", `
name: "test-server"
port: 8080
host: "localhost"
max_conns: 1000
`)

	cm := NewConfigManager()
	defer cm.Close()
	cm.SetBasePath(tmpDir)

	config := &TestConfig{}
	if err := cm.LoadConfig("test", config); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.Name != "test-server" {
		t.Errorf("Expected name 'test-server', got '%s'", config.Name)
	}
	if config.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", config.Port)
	}
	if config.MaxConns != 1000 {
		t.Errorf("Expected max_conns 1000, got %d", config.MaxConns)
	}
}

// TestLoadConfigMissingFile tests that a missing file falls back to the
// defaults carried by the passed config value
func TestLoadConfigMissingFile(t *testing.T) {
	cm := NewConfigManager()
	defer cm.Close()
	cm.SetBasePath(t.TempDir())

	config := &TestConfig{Name: "defaults", Port: 7}
	if err := cm.LoadConfig("absent", config); err != nil {
		t.Fatalf("LoadConfig with missing file should fall back to defaults, got: %v", err)
	}

	if config.Name != "defaults" || config.Port != 7 {
		t.Errorf("Defaults were not preserved: %+v", config)
	}

	stored, err := cm.GetConfig("absent")
	if err != nil {
		t.Fatalf("GetConfig failed: %v", err)
	}
	if stored != config {
		t.Error("Stored config should be the loaded value")
	}
}

// TestLoadConfigEnvOverride tests AWS_EMF_* environment variable overrides
func TestLoadConfigEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfigFile(t, tmpDir, "test", `
name: "file-server"
port: 8080
`)

	t.Setenv("AWS_EMF_PORT", "9001")
	t.Setenv("AWS_EMF_HOST", "override.example.com")

	cm := NewConfigManager()
	defer cm.Close()
	cm.SetBasePath(tmpDir)

	config := &TestConfig{}
	if err := cm.LoadConfig("test", config); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.Name != "file-server" {
		t.Errorf("Expected name from file, got '%s'", config.Name)
	}
	if config.Port != 9001 {
		t.Errorf("Expected env override port 9001, got %d", config.Port)
	}
	if config.Host != "override.example.com" {
		t.Errorf("Expected env override host, got '%s'", config.Host)
	}
}

// TestLoadConfigEnvOnly tests loading with no file at all, everything from
// environment variables
func TestLoadConfigEnvOnly(t *testing.T) {
	t.Setenv("AWS_EMF_NAME", "env-server")
	t.Setenv("AWS_EMF_PORT", "4242")

	cm := NewConfigManager()
	defer cm.Close()
	cm.SetBasePath(t.TempDir())

	config := &TestConfig{}
	if err := cm.LoadConfig("test", config); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.Name != "env-server" {
		t.Errorf("Expected name 'env-server', got '%s'", config.Name)
	}
	if config.Port != 4242 {
		t.Errorf("Expected port 4242, got %d", config.Port)
	}
}

// TestGetConfig tests retrieving configuration
func TestGetConfig(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfigFile(t, tmpDir, "app", `
name: "app-server"
port: 3000
`)

	cm := NewConfigManager()
	defer cm.Close()
	cm.SetBasePath(tmpDir)

	config := &TestConfig{}
	if err := cm.LoadConfig("app", config); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	retrieved, err := cm.GetConfig("app")
	if err != nil {
		t.Fatalf("GetConfig failed: %v", err)
	}

	testConfig, ok := retrieved.(*TestConfig)
	if !ok {
		t.Fatalf("GetConfig returned wrong type: %T", retrieved)
	}
	if testConfig.Name != "app-server" {
		t.Errorf("Expected name 'app-server', got '%s'", testConfig.Name)
	}
}

// TestGetConfigNotFound tests retrieving non-existent configuration
func TestGetConfigNotFound(t *testing.T) {
	cm := NewConfigManager()
	defer cm.Close()

	if _, err := cm.GetConfig("nonexistent"); err == nil {
		t.Error("Expected error for non-existent config")
	}
}

// TestValidateAfterDecode tests that the config's own Validate gates loading
func TestValidateAfterDecode(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfigFile(t, tmpDir, "bad", `
name: "bad-server"
port: 700000
`)

	cm := NewConfigManager()
	defer cm.Close()
	cm.SetBasePath(tmpDir)

	config := &TestConfig{}
	if err := cm.LoadConfig("bad", config); err == nil {
		t.Error("Expected validation error for out-of-range port")
	}
}

// TestConfigValidator tests registered validator rejection
func TestConfigValidator(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfigFile(t, tmpDir, "validated", `
name: "validated-server"
port: 9500
`)

	cm := NewConfigManager()
	defer cm.Close()
	cm.SetBasePath(tmpDir)
	cm.RegisterValidator("validated", func(c Config) error {
		tc := c.(*TestConfig)
		if tc.Port > 9000 {
			return fmt.Errorf("port %d exceeds maximum allowed value", tc.Port)
		}
		return nil
	})

	config := &TestConfig{}
	if err := cm.LoadConfig("validated", config); err == nil {
		t.Error("Expected registered validator to reject the config")
	}
}

// TestConfigChangeListener tests configuration change notification mechanism
func TestConfigChangeListener(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfigFile(t, tmpDir, "hook", `
name: "hook-server"
port: 8080
`)

	cm := NewConfigManager()
	defer cm.Close()
	cm.SetBasePath(tmpDir)

	listener := &TestChangeListener{}
	cm.AddChangeListener(listener)

	var hookOld, hookNew Config
	cm.RegisterHook("hook", func(oldVal, newVal Config) error {
		hookOld, hookNew = oldVal, newVal
		return nil
	})

	config := &TestConfig{}
	if err := cm.LoadConfig("hook", config); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	// Rewrite twice in quick succession; the debounce may fold both writes
	// into a single reload but the final value must win.
	writeConfigFile(t, tmpDir, "hook", `
name: "hook-server-updated"
port: 9090
`)
	writeConfigFile(t, tmpDir, "hook", `
name: "hook-server-final"
port: 9191
`)

	if !waitFor(5*time.Second, func() bool {
		if listener.ChangeCount.Load() == 0 {
			return false
		}
		current, err := cm.GetConfig("hook")
		return err == nil && current.(*TestConfig).Port == 9191
	}) {
		t.Fatalf("Config change was not observed, count=%d", listener.ChangeCount.Load())
	}

	listener.mu.Lock()
	defer listener.mu.Unlock()
	if listener.LastConfigName != "hook" {
		t.Errorf("Expected LastConfigName 'hook', got '%s'", listener.LastConfigName)
	}
	if listener.LastConfig == nil || listener.LastOldConfig == nil {
		t.Fatal("Listener did not receive config objects")
	}
	if listener.LastConfig.(*TestConfig).Name != "hook-server-final" {
		t.Errorf("Expected final config name, got '%s'", listener.LastConfig.(*TestConfig).Name)
	}
	if hookOld == nil || hookNew == nil {
		t.Error("Registered hook did not receive old and new configs")
	}
}

// TestRemoveChangeListener tests that removed listeners are no longer
// notified
func TestRemoveChangeListener(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfigFile(t, tmpDir, "remove", `
name: "remove-server"
port: 8080
`)

	cm := NewConfigManager()
	defer cm.Close()
	cm.SetBasePath(tmpDir)

	kept := &TestChangeListener{}
	removed := &TestChangeListener{}
	cm.AddChangeListener(kept)
	cm.AddChangeListener(removed)
	cm.RemoveChangeListener(removed)

	config := &TestConfig{}
	if err := cm.LoadConfig("remove", config); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	writeConfigFile(t, tmpDir, "remove", `
name: "remove-server-updated"
port: 9090
`)

	if !waitFor(5*time.Second, func() bool {
		return kept.ChangeCount.Load() > 0
	}) {
		t.Fatal("Kept listener was not notified")
	}

	// The fan-out that reached the kept listener has completed, so the
	// removed one would have been called by now if it were still present.
	if got := removed.ChangeCount.Load(); got != 0 {
		t.Errorf("Expected removed listener to stay at 0, got %d", got)
	}
}

// TestReloadRejectionKeepsOldConfig tests that invalid reloads and failing
// hooks leave the previous value in place
func TestReloadRejectionKeepsOldConfig(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfigFile(t, tmpDir, "sticky", `
name: "sticky-server"
port: 8080
`)

	cm := NewConfigManager()
	defer cm.Close()
	cm.SetBasePath(tmpDir)

	config := &TestConfig{}
	if err := cm.LoadConfig("sticky", config); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	// Out-of-range port fails validation during reload.
	writeConfigFile(t, tmpDir, "sticky", `
name: "sticky-server"
port: -5
`)

	time.Sleep(time.Second)

	current, err := cm.GetConfig("sticky")
	if err != nil {
		t.Fatalf("GetConfig failed: %v", err)
	}
	if current.(*TestConfig).Port != 8080 {
		t.Errorf("Expected old port 8080 to survive rejected reload, got %d", current.(*TestConfig).Port)
	}
}

// TestHookFailureKeepsOldConfig tests that a failing hook blocks the swap
func TestHookFailureKeepsOldConfig(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfigFile(t, tmpDir, "guarded", `
name: "guarded-server"
port: 8080
`)

	cm := NewConfigManager()
	defer cm.Close()
	cm.SetBasePath(tmpDir)
	cm.RegisterHook("guarded", func(oldVal, newVal Config) error {
		return fmt.Errorf("refusing change")
	})

	listener := &TestChangeListener{}
	cm.AddChangeListener(listener)

	config := &TestConfig{}
	if err := cm.LoadConfig("guarded", config); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	writeConfigFile(t, tmpDir, "guarded", `
name: "guarded-server-updated"
port: 9090
`)

	time.Sleep(time.Second)

	current, err := cm.GetConfig("guarded")
	if err != nil {
		t.Fatalf("GetConfig failed: %v", err)
	}
	if current.(*TestConfig).Port != 8080 {
		t.Errorf("Expected old config to survive hook failure, got port %d", current.(*TestConfig).Port)
	}
	if got := listener.ChangeCount.Load(); got != 0 {
		t.Errorf("Expected no listener notification after hook failure, got %d", got)
	}
}

// TestEnvironmentConfig tests environment-specific configuration directories
func TestEnvironmentConfig(t *testing.T) {
	tmpDir := t.TempDir()
	envDir := filepath.Join(tmpDir, "production")
	if err := os.MkdirAll(envDir, 0755); err != nil {
		t.Fatalf("Failed to create env dir: %v", err)
	}

	writeConfigFile(t, envDir, "svc", `
name: "production-server"
port: 80
`)

	cm := NewConfigManager()
	defer cm.Close()
	cm.SetBasePath(tmpDir)
	cm.SetEnvironment("production")

	config := &TestConfig{}
	if err := cm.LoadConfig("svc", config); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.Name != "production-server" {
		t.Errorf("Expected name 'production-server', got '%s'", config.Name)
	}
	if config.Port != 80 {
		t.Errorf("Expected port 80, got %d", config.Port)
	}
}

// TestConcurrentGetConfig tests concurrent configuration access
func TestConcurrentGetConfig(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfigFile(t, tmpDir, "concurrent", `
name: "concurrent-server"
port: 8080
`)

	cm := NewConfigManager()
	defer cm.Close()
	cm.SetBasePath(tmpDir)

	config := &TestConfig{}
	if err := cm.LoadConfig("concurrent", config); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				retrieved, err := cm.GetConfig("concurrent")
				if err != nil {
					t.Errorf("GetConfig failed: %v", err)
					return
				}
				if retrieved.(*TestConfig).Name == "" {
					t.Error("GetConfig returned empty config")
					return
				}
			}
		}()
	}
	wg.Wait()
}

// TestClose tests closing the configuration manager
func TestClose(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfigFile(t, tmpDir, "closing", `
name: "closing-server"
port: 8080
`)

	cm := NewConfigManager()
	cm.SetBasePath(tmpDir)

	config := &TestConfig{}
	if err := cm.LoadConfig("closing", config); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if err := cm.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := cm.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}
