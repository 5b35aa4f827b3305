// Package config defines the YAML configuration model for the swarm
// orchestrator. Every type carries SetDefaults and Validate; the loader
// expands ${VAR} and ${VAR:-default} references before parsing.
package config

import (
	"github.com/invopop/jsonschema"
)

// Config is the root configuration model.
type Config struct {
	Swarm         SwarmConfig         `yaml:"swarm" json:"swarm"`
	API           APIConfig           `yaml:"api" json:"api"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

func (c *Config) SetDefaults() {
	c.Swarm.SetDefaults()
	c.API.SetDefaults()
	c.Logging.SetDefaults()
	c.Observability.SetDefaults()
}

func (c *Config) Validate() error {
	if err := c.Swarm.Validate(); err != nil {
		return err
	}
	if err := c.API.Validate(); err != nil {
		return err
	}
	return nil
}

// GenerateSchema returns the JSON Schema for the root config, used by the
// `swarm schema` command.
func GenerateSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: false,
	}
	return reflector.Reflect(&Config{})
}
