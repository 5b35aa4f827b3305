package main

import (
	"fmt"

	"github.com/kadirpekel/swarm/pkg/config"
)

// ValidateCmd validates a configuration file.
type ValidateCmd struct {
	Example string `help:"Write a commented starter config to the given path instead of validating." type:"path"`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	if c.Example != "" {
		if err := config.WriteExample(c.Example); err != nil {
			return fmt.Errorf("failed to write example config: %w", err)
		}
		fmt.Printf("Wrote example config to %s\n", c.Example)
		return nil
	}

	if cli.Config == "" {
		return fmt.Errorf("--config is required for validate command")
	}

	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}

	fmt.Printf("Configuration valid: %s\n", cli.Config)
	fmt.Printf("  Max instances:   %d\n", cfg.Swarm.MaxInstances)
	fmt.Printf("  Default timeout: %ds\n", cfg.Swarm.DefaultTimeout)
	fmt.Printf("  API:             %s:%d\n", cfg.API.Host, cfg.API.Port)
	fmt.Printf("  Backends:\n")
	for _, bc := range cfg.Swarm.Backends {
		state := "enabled"
		if !bc.IsEnabled() {
			state = "disabled"
		}
		fmt.Printf("    - %s (%s) %s [%s]\n", bc.Name, bc.Type, bc.URL, state)
	}
	if len(cfg.Swarm.Models.Preferred) > 0 {
		fmt.Printf("  Preferred models: %v\n", cfg.Swarm.Models.Preferred)
	}
	return nil
}
