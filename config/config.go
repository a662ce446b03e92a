package config

// Config interface defines the basic configuration contract
type Config interface {
	GetName() string
	Validate() error
}

// ConfigChangeListener receives hot-reload notifications. A listener is
// called once per successful reload with the config name, the freshly
// loaded value, and the value it replaced.
type ConfigChangeListener interface {
	OnConfigChanged(configName string, newConfig, oldConfig Config) error
}
