package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lcx/emflog/config"
)

// writePluginYAML writes the "plugin" config file InitPlugins loads.
func writePluginYAML(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "plugin.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write plugin.yaml failed: %v", err)
	}
}

// newTestConfigManager points the singleton config manager at dir and
// restores the old singleton when the test ends.
func newTestConfigManager(t *testing.T, dir string) config.ConfigManager {
	t.Helper()
	cm := config.NewConfigManager()
	cm.SetBasePath(dir)
	config.SetInstanceForTesting(cm)
	t.Cleanup(func() {
		config.ResetInstance()
	})
	return cm
}

func TestInitPlugins_FromConfigFile(t *testing.T) {
	resetPluginState()

	dir := t.TempDir()
	writePluginYAML(t, dir, `sink:
  file:
    path: metrics.emf
  agent_flush:
    endpoint: tcp://127.0.0.1:25888
    tag: flush
`)
	newTestConfigManager(t, dir)

	fileFactory := &mockFactory{name: "file"}
	agentFactory := &mockFactory{name: "agent"}
	RegisterPlugin(fileFactory)
	RegisterPlugin(agentFactory)

	if err := InitPlugins(); err != nil {
		t.Fatalf("InitPlugins failed: %v", err)
	}

	ins, err := GetDefaultPlugin("sink", "file")
	if err != nil {
		t.Fatalf("file instance missing: %v", err)
	}
	if ins.(*mockPlugin).config["path"] != "metrics.emf" {
		t.Errorf("Expected file config from yaml, got %v", ins.(*mockPlugin).config)
	}

	ins, err = GetPlugin("sink", "agent", "flush")
	if err != nil {
		t.Fatalf("agent instance missing: %v", err)
	}
	if ins.(*mockPlugin).config["endpoint"] != "tcp://127.0.0.1:25888" {
		t.Errorf("Expected agent endpoint from yaml, got %v", ins.(*mockPlugin).config)
	}

	listed := ListPlugins()
	if len(listed["sink/file"]) != 1 || len(listed["sink/agent"]) != 1 {
		t.Errorf("Unexpected plugin listing: %v", listed)
	}
}

func TestInitPlugins_UnknownFactory(t *testing.T) {
	resetPluginState()

	dir := t.TempDir()
	writePluginYAML(t, dir, `sink:
  kafka:
    brokers: localhost:9092
`)
	newTestConfigManager(t, dir)

	RegisterPlugin(&mockFactory{name: "file"})

	err := InitPlugins()
	if err == nil {
		t.Fatal("Expected error for unknown factory")
	}
	if !strings.Contains(err.Error(), "plugin factory [sink/kafka] not found") {
		t.Errorf("Unexpected error: %v", err)
	}
	if !strings.Contains(err.Error(), "file") {
		t.Errorf("Expected available factories in error, got: %v", err)
	}
}

func TestInitPlugins_RollbackOnSetupFailure(t *testing.T) {
	resetPluginState()

	dir := t.TempDir()
	writePluginYAML(t, dir, `sink:
  console:
    tag: stdout
  agent:
    endpoint: tcp://127.0.0.1:25888
`)
	newTestConfigManager(t, dir)

	consoleFactory := &mockFactory{name: "console"}
	agentFactory := &mockFactory{name: "agent", setupError: errors.New("dial failed")}
	RegisterPlugin(consoleFactory)
	RegisterPlugin(agentFactory)

	err := InitPlugins()
	if err == nil {
		t.Fatal("Expected setup failure")
	}
	if !strings.Contains(err.Error(), "setup failed") {
		t.Errorf("Unexpected error: %v", err)
	}

	// Whatever was set up before the failure must be destroyed again.
	// Config sections come out of a map, so the order is not fixed.
	if consoleFactory.destroyCount != consoleFactory.setupCount {
		t.Errorf("Expected every console setup rolled back: setup=%d destroy=%d",
			consoleFactory.setupCount, consoleFactory.destroyCount)
	}

	_pluginLock.RLock()
	defer _pluginLock.RUnlock()
	if len(_pluginMgr.insMap) != 0 {
		t.Errorf("Expected empty registry after rollback, got %v", _pluginMgr.insMap)
	}
}

func TestInitPlugins_DuplicateDefaultInstance(t *testing.T) {
	resetPluginState()

	dir := t.TempDir()
	// Two sections of the same factory, neither tagged: both claim the
	// default instance name.
	writePluginYAML(t, dir, `sink:
  file:
    path: a.emf
  file_second:
    path: b.emf
`)
	newTestConfigManager(t, dir)

	RegisterPlugin(&mockFactory{name: "file"})

	err := InitPlugins()
	if err == nil {
		t.Fatal("Expected duplicate default instance error")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestInitPlugins_MissingConfig(t *testing.T) {
	resetPluginState()

	newTestConfigManager(t, t.TempDir())

	RegisterPlugin(&mockFactory{name: "file"})

	err := InitPlugins()
	if err == nil {
		t.Fatal("Expected error when plugin config is absent")
	}
	if !strings.Contains(err.Error(), "load plugin config failed") {
		t.Errorf("Unexpected error: %v", err)
	}
}

// TestPluginHotReload_ThroughConfigFile exercises the whole chain: file
// change, watcher, debounce, listener, plugin reload.
func TestPluginHotReload_ThroughConfigFile(t *testing.T) {
	resetPluginState()

	dir := t.TempDir()
	writePluginYAML(t, dir, `sink:
  file:
    path: before.emf
`)
	newTestConfigManager(t, dir)

	fileFactory := &mockFactory{name: "file"}
	RegisterPlugin(fileFactory)

	if err := InitPlugins(); err != nil {
		t.Fatalf("InitPlugins failed: %v", err)
	}

	ins, err := GetDefaultPlugin("sink", "file")
	if err != nil {
		t.Fatalf("file instance missing: %v", err)
	}
	if ins.(*mockPlugin).config["path"] != "before.emf" {
		t.Fatalf("Unexpected initial config: %v", ins.(*mockPlugin).config)
	}

	writePluginYAML(t, dir, `sink:
  file:
    path: after.emf
`)

	// Wait out fsnotify delivery and the reload debounce.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, err := GetDefaultPlugin("sink", "file")
		if err == nil && got.(*mockPlugin).config["path"] == "after.emf" {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("Expected hot reload to deliver the new file path")
}
