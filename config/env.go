package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment classifies where the process runs; the façade picks its
// default sink from it.
type Environment int

const (
	// EnvironmentLocal emits documents to stdout for a human or a dev
	// tail to read.
	EnvironmentLocal Environment = iota
	// EnvironmentAgent ships documents to a CloudWatch agent socket.
	EnvironmentAgent
	// EnvironmentLambda emits documents to stdout, which Lambda forwards
	// to CloudWatch Logs.
	EnvironmentLambda
)

// String returns the environment name used in configuration.
func (e Environment) String() string {
	switch e {
	case EnvironmentLocal:
		return "Local"
	case EnvironmentAgent:
		return "Agent"
	case EnvironmentLambda:
		return "Lambda"
	default:
		return "Unknown"
	}
}

// EnvConfig is the library's own configuration, loaded by the manager under
// the name "env". Every field is reachable as AWS_EMF_<KEY> in the
// environment, e.g. AWS_EMF_SERVICE_NAME or AWS_EMF_AGENT_ENDPOINT.
type EnvConfig struct {
	// ServiceName identifies the emitting service; stamped as a default
	// dimension on every document.
	ServiceName string `mapstructure:"service_name"`

	// ServiceType describes the runtime flavor, "Unknown" when nothing
	// better is known.
	ServiceType string `mapstructure:"service_type"`

	// LogGroupName is the CloudWatch log group metrics are delivered to.
	// Empty selects "<service_name>-metrics".
	LogGroupName string `mapstructure:"log_group_name"`

	// LogStreamName is the log stream within the group; the agent picks
	// one when empty.
	LogStreamName string `mapstructure:"log_stream_name"`

	// Namespace overrides the metric namespace. Empty keeps the
	// serializer default, aws-embedded-metrics.
	Namespace string `mapstructure:"namespace"`

	// AgentEndpoint is the CloudWatch agent address as a URL,
	// tcp://host:port or udp://host:port. Empty selects the agent sink
	// default.
	AgentEndpoint string `mapstructure:"agent_endpoint"`

	// EnvironmentOverride pins environment detection to Local, Agent, or
	// Lambda. Empty lets DetectEnvironment decide.
	EnvironmentOverride string `mapstructure:"environment"`

	// FlushPreserveDimensions keeps custom dimension sets across flushes.
	// Default dimensions always survive a flush.
	FlushPreserveDimensions bool `mapstructure:"flush_preserve_dimensions"`
}

// NewEnvConfig returns the defaults: the service is named after the
// executable and everything else is resolved lazily.
func NewEnvConfig() *EnvConfig {
	return &EnvConfig{
		ServiceName: executableName(),
		ServiceType: "Unknown",
	}
}

// GetName returns the config name the manager files this under.
func (c *EnvConfig) GetName() string {
	return "env"
}

// Validate checks the configuration values.
func (c *EnvConfig) Validate() error {
	switch strings.ToLower(c.EnvironmentOverride) {
	case "", "local", "agent", "lambda":
	default:
		return fmt.Errorf("unknown environment override: %q", c.EnvironmentOverride)
	}
	return nil
}

// ResolveLogGroupName returns the configured log group, or the
// "<service>-metrics" convention when none is set.
func (c *EnvConfig) ResolveLogGroupName() string {
	if c.LogGroupName != "" {
		return c.LogGroupName
	}
	return c.ServiceName + "-metrics"
}

// DetectEnvironment resolves the runtime environment. An explicit override
// wins; otherwise a Lambda runtime is recognized by its function-name
// variable, and everything else is assumed to have an agent nearby.
func DetectEnvironment(c *EnvConfig) Environment {
	if c != nil {
		switch strings.ToLower(c.EnvironmentOverride) {
		case "local":
			return EnvironmentLocal
		case "agent":
			return EnvironmentAgent
		case "lambda":
			return EnvironmentLambda
		}
	}

	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		return EnvironmentLambda
	}

	return EnvironmentAgent
}

// LoadEnvConfig loads the "env" config through cm on top of the defaults. A
// missing file leaves the defaults and environment variables in charge.
func LoadEnvConfig(cm ConfigManager) (*EnvConfig, error) {
	cfg := NewEnvConfig()
	if err := cm.LoadConfig("env", cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func executableName() string {
	exe, err := os.Executable()
	if err != nil {
		return "Unknown"
	}
	base := filepath.Base(exe)
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "Unknown"
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}
