package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kadirpekel/swarm/pkg/config"
)

// SchemaCmd generates JSON Schema from the config structs. Output goes to
// stdout so it can be redirected.
type SchemaCmd struct {
	Compact bool `help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run(cli *CLI) error {
	schema := config.GenerateSchema()
	schema.Title = "Swarm Configuration Schema"
	schema.Description = "Configuration schema for the swarm orchestrator"

	encoder := json.NewEncoder(os.Stdout)
	if !c.Compact {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(schema); err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	return nil
}
