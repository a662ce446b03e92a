package config

import "sync"

var (
	_instanceMu sync.Mutex
	_instance   ConfigManager
)

// GetInstance returns the process-wide configuration manager, creating it on
// first use. Libraries that need configuration without explicit wiring call
// this instead of threading a manager through every constructor.
func GetInstance() ConfigManager {
	_instanceMu.Lock()
	defer _instanceMu.Unlock()

	if _instance == nil {
		_instance = NewConfigManager()
	}
	return _instance
}

// ResetInstance closes and discards the process-wide manager. The next
// GetInstance call creates a fresh one. Primarily for tests.
func ResetInstance() {
	_instanceMu.Lock()
	defer _instanceMu.Unlock()

	if _instance != nil {
		_ = _instance.Close()
	}
	_instance = nil
}

// SetInstanceForTesting replaces the process-wide manager, so tests can
// inject a prepared or mock manager.
func SetInstanceForTesting(cm ConfigManager) {
	_instanceMu.Lock()
	defer _instanceMu.Unlock()
	_instance = cm
}
