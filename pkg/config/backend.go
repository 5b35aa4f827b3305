package config

import "fmt"

// Backend types.
const (
	BackendTypeClaude = "claude"
	BackendTypeOllama = "ollama"
	BackendTypeOpenAI = "openai"
)

// BackendConfig describes a single inference endpoint (Ollama instance,
// Claude API, OpenAI-compatible server).
type BackendConfig struct {
	Name          string   `yaml:"name" json:"name" jsonschema:"required,description=Unique name for this backend"`
	Type          string   `yaml:"type" json:"type" jsonschema:"enum=claude,enum=ollama,enum=openai,description=Backend type"`
	URL           string   `yaml:"url" json:"url" jsonschema:"description=Backend base URL"`
	Models        []string `yaml:"models" json:"models" jsonschema:"description=Models advertised by this backend"`
	APIKey        string   `yaml:"api_key" json:"api_key,omitempty" jsonschema:"description=API key for remote backends"`
	MaxConcurrent int      `yaml:"max_concurrent" json:"max_concurrent" jsonschema:"description=Max concurrent requests"`
	Priority      int      `yaml:"priority" json:"priority" jsonschema:"description=Higher is preferred when scores tie"`
	Enabled       *bool    `yaml:"enabled" json:"enabled" jsonschema:"description=Whether this backend is active"`
}

func (c *BackendConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = BackendTypeOllama
	}
	if c.URL == "" && c.Type == BackendTypeOllama {
		c.URL = "http://localhost:11434"
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 1
	}
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
}

func (c *BackendConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("backend name is required")
	}
	switch c.Type {
	case BackendTypeClaude, BackendTypeOllama, BackendTypeOpenAI:
	default:
		return fmt.Errorf("backend '%s': unknown type '%s'", c.Name, c.Type)
	}
	if c.Type != BackendTypeClaude && c.URL == "" {
		return fmt.Errorf("backend '%s': url is required for type '%s'", c.Name, c.Type)
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("backend '%s': max_concurrent must be at least 1", c.Name)
	}
	return nil
}

func (c *BackendConfig) IsEnabled() bool {
	return BoolValue(c.Enabled, true)
}
