package config

import "fmt"

// APIConfig configures the HTTP API server.
type APIConfig struct {
	Host        string   `yaml:"host" json:"host" jsonschema:"description=Listen address"`
	Port        int      `yaml:"port" json:"port" jsonschema:"description=Listen port"`
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins" jsonschema:"description=CORS allowed origins"`
}

func (c *APIConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8765
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"*"}
	}
}

func (c *APIConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("api port must be in 1-65535, got %d", c.Port)
	}
	return nil
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error,description=Log level"`
	File   string `yaml:"file" json:"file,omitempty" jsonschema:"description=Log file path (empty = stderr)"`
	Format string `yaml:"format" json:"format" jsonschema:"enum=simple,enum=verbose,description=Log format"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

// ObservabilityConfig toggles tracing and metrics.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate"`
	ServiceName  string  `yaml:"service_name" json:"service_name"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

func (c *ObservabilityConfig) SetDefaults() {
	if c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = 1.0
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "swarm"
	}
}
