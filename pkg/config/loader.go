package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// LoadConfig reads a YAML config file, expands environment variable
// references, applies defaults, and validates the result. An empty path
// yields the default configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		expanded := ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ExpandEnv replaces ${VAR} and ${VAR:-default} references with environment
// values. Unset variables without a default expand to the empty string.
func ExpandEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name := groups[1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		if groups[2] != "" {
			return groups[3]
		}
		return ""
	})
}

// LoadDotEnv loads a .env file from the working directory if present.
func LoadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	return godotenv.Load()
}

// LoadDotEnvForConfig loads a .env file sitting next to the config file.
func LoadDotEnvForConfig(configPath string) error {
	if configPath == "" {
		return LoadDotEnv()
	}
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err != nil {
		return nil
	}
	return godotenv.Load(envPath)
}

// WriteExample writes a commented starter config to the given path.
func WriteExample(path string) error {
	example := strings.TrimLeft(`
swarm:
  max_instances: 10
  default_timeout: 300
  workspace_root: .
  models:
    preferred: ["qwen2.5:14b", "devstral:24b"]
    fallback: qwen2.5:7b
  backends:
    - name: local
      type: ollama
      url: http://localhost:11434
      max_concurrent: 2
      priority: 1
api:
  host: 0.0.0.0
  port: 8765
logging:
  level: info
`, "\n")
	return os.WriteFile(path, []byte(example), 0644)
}
