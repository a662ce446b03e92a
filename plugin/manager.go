package plugin

import (
	"fmt"
	"sync"
)

// pluginMgr is the process-wide instance registry. Instances live in a
// three-level map keyed by plugin type, factory name, and instance name
// (e.g. insMap["sink"]["file"]["audit"]). The manager also implements
// config.ConfigChangeListener so edits to the "plugin" configuration
// section reshape this map in place.
type pluginMgr struct {
	insMap map[string]map[string]map[string]Plugin
}

var (
	// _pluginMgr is the singleton instance registry.
	_pluginMgr = &pluginMgr{
		insMap: make(map[string]map[string]map[string]Plugin),
	}

	// _pluginLock protects _factoryMap and _pluginMgr.insMap.
	_pluginLock sync.RWMutex
)

// registerPluginIns registers one plugin instance under its
// type/factory/instance triple. Fails if the instance name is already
// taken so two config sections cannot silently shadow each other.
// Thread-safe: callers must not hold _pluginLock.
func registerPluginIns(ft, fn, pn string, ins Plugin) error {
	_pluginLock.Lock()
	defer _pluginLock.Unlock()
	return registerPluginInsLocked(ft, fn, pn, ins)
}

// registerPluginInsLocked is the core of registerPluginIns.
// Caller must hold _pluginLock for writing.
func registerPluginInsLocked(ft, fn, pn string, ins Plugin) error {
	typeMap, ok := _pluginMgr.insMap[ft]
	if !ok {
		typeMap = make(map[string]map[string]Plugin)
		_pluginMgr.insMap[ft] = typeMap
	}

	factoryMap, ok := typeMap[fn]
	if !ok {
		factoryMap = make(map[string]Plugin)
		typeMap[fn] = factoryMap
	}

	if _, ok := factoryMap[pn]; ok {
		return fmt.Errorf("plugin %s already exists", pn)
	}

	factoryMap[pn] = ins
	return nil
}

// getPluginLocked resolves one instance.
// Caller must hold _pluginLock (read or write).
func getPluginLocked(ft, fn, pn string) (Plugin, error) {
	typeMap, ok := _pluginMgr.insMap[ft]
	if !ok {
		return nil, fmt.Errorf("plugin type [%s] not registered", ft)
	}

	factoryMap, ok := typeMap[fn]
	if !ok {
		return nil, fmt.Errorf("plugin factory [%s/%s] not found", ft, fn)
	}

	ins, ok := factoryMap[pn]
	if !ok {
		return nil, fmt.Errorf("plugin instance [%s/%s/%s] not found", ft, fn, pn)
	}

	return ins, nil
}

// lookupFactoryLocked resolves a factory by type and name, nil when absent.
// Caller must hold _pluginLock (read or write).
func lookupFactoryLocked(ft, fn string) Factory {
	return _factoryMap[fmt.Sprintf("%s_%s", ft, fn)]
}

// SetPluginForTesting force-registers an instance, replacing any existing
// one. Tests inject fakes through it without going through a config file.
func SetPluginForTesting(ft, fn, pn string, ins Plugin) {
	_pluginLock.Lock()
	defer _pluginLock.Unlock()

	if _pluginMgr.insMap[ft] == nil {
		_pluginMgr.insMap[ft] = make(map[string]map[string]Plugin)
	}
	if _pluginMgr.insMap[ft][fn] == nil {
		_pluginMgr.insMap[ft][fn] = make(map[string]Plugin)
	}
	_pluginMgr.insMap[ft][fn][pn] = ins
}
