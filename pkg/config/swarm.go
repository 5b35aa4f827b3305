package config

import "fmt"

// ModelsConfig holds model selection preferences for the router.
type ModelsConfig struct {
	Preferred  []string `yaml:"preferred" json:"preferred" jsonschema:"description=Preferred models in priority order"`
	Fallback   string   `yaml:"fallback" json:"fallback" jsonschema:"description=Fallback model if preferred unavailable"`
	AutoSelect *bool    `yaml:"auto_select" json:"auto_select" jsonschema:"description=Let the router pick the best model per task"`
}

func (c *ModelsConfig) SetDefaults() {
	if len(c.Preferred) == 0 {
		c.Preferred = []string{"qwen2.5:14b", "devstral:24b"}
	}
	if c.Fallback == "" {
		c.Fallback = "qwen2.5:7b"
	}
	if c.AutoSelect == nil {
		c.AutoSelect = BoolPtr(true)
	}
}

// SwarmConfig configures the orchestrator.
type SwarmConfig struct {
	MaxInstances   int              `yaml:"max_instances" json:"max_instances" jsonschema:"description=Maximum concurrent agent instances"`
	DefaultTimeout int              `yaml:"default_timeout" json:"default_timeout" jsonschema:"description=Default task timeout in seconds"`
	WorkspaceRoot  string           `yaml:"workspace_root" json:"workspace_root" jsonschema:"description=Root workspace directory"`
	MaxIterations  int              `yaml:"max_iterations" json:"max_iterations" jsonschema:"description=Agent loop iteration cap"`
	Backend        string           `yaml:"backend" json:"backend" jsonschema:"enum=claude,enum=ollama,description=Default execution backend"`
	OllamaURL      string           `yaml:"ollama_url" json:"ollama_url" jsonschema:"description=Ollama API URL for the synthesized default backend"`
	OllamaModel    string           `yaml:"ollama_model" json:"ollama_model" jsonschema:"description=Default Ollama model"`
	Models         ModelsConfig     `yaml:"models" json:"models"`
	Backends       []*BackendConfig `yaml:"backends" json:"backends"`
}

func (c *SwarmConfig) SetDefaults() {
	if c.MaxInstances == 0 {
		c.MaxInstances = 10
	}
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = 300
	}
	if c.WorkspaceRoot == "" {
		c.WorkspaceRoot = "."
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 10
	}
	if c.Backend == "" {
		c.Backend = BackendTypeOllama
	}
	if c.OllamaURL == "" {
		c.OllamaURL = "http://localhost:11434"
	}
	if c.OllamaModel == "" {
		c.OllamaModel = "devstral:24b"
	}
	c.Models.SetDefaults()

	// When no backends are listed, synthesize one from the legacy
	// single-backend fields.
	if len(c.Backends) == 0 {
		switch c.Backend {
		case BackendTypeClaude:
			c.Backends = []*BackendConfig{{
				Name:          "claude",
				Type:          BackendTypeClaude,
				Models:        []string{"claude"},
				MaxConcurrent: 2,
			}}
		default:
			c.Backends = []*BackendConfig{{
				Name:          "local",
				Type:          BackendTypeOllama,
				URL:           c.OllamaURL,
				Models:        []string{c.OllamaModel},
				MaxConcurrent: 1,
			}}
		}
	}

	for _, backend := range c.Backends {
		backend.SetDefaults()
	}
}

func (c *SwarmConfig) Validate() error {
	if c.MaxInstances < 1 {
		return fmt.Errorf("max_instances must be at least 1")
	}
	if c.DefaultTimeout < 1 {
		return fmt.Errorf("default_timeout must be at least 1 second")
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1")
	}

	seen := make(map[string]bool)
	for _, backend := range c.Backends {
		if err := backend.Validate(); err != nil {
			return err
		}
		if seen[backend.Name] {
			return fmt.Errorf("duplicate backend name '%s'", backend.Name)
		}
		seen[backend.Name] = true
	}
	return nil
}

// EnabledBackends returns the configured backends that are active.
func (c *SwarmConfig) EnabledBackends() []*BackendConfig {
	var enabled []*BackendConfig
	for _, backend := range c.Backends {
		if backend.IsEnabled() {
			enabled = append(enabled, backend)
		}
	}
	return enabled
}
