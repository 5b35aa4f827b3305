// Command swarm orchestrates coding tasks across local and remote LLM
// backends.
//
// Usage:
//
//	swarm serve --config swarm.yaml
//	swarm task "review the error handling in pkg/server" --wait
//	swarm workflow release-check.yaml
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/swarm/pkg/config"
	"github.com/kadirpekel/swarm/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version   VersionCmd   `cmd:"" help:"Show version information."`
	Serve     ServeCmd     `cmd:"" help:"Start the orchestrator and REST API."`
	Task      TaskCmd      `cmd:"" aliases:"submit" help:"Submit a task to a local orchestrator."`
	Tasks     TasksCmd     `cmd:"" help:"List tasks."`
	Instances InstancesCmd `cmd:"" help:"List instances."`
	Spawn     SpawnCmd     `cmd:"" help:"Spawn instances."`
	Status    StatusCmd    `cmd:"" help:"Show swarm status."`
	Workflow  WorkflowCmd  `cmd:"" help:"Execute a workflow YAML file."`
	Validate  ValidateCmd  `cmd:"" help:"Validate a configuration file."`
	Schema    SchemaCmd    `cmd:"" help:"Generate JSON Schema for the configuration."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// loadConfig reads the config file named by --config, falling back to
// defaults when no file is given.
func (cli *CLI) loadConfig() (*config.Config, error) {
	if cli.Config != "" {
		_ = config.LoadDotEnvForConfig(cli.Config)
	}
	cfg, err := config.LoadConfig(cli.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func initLogger(cli *CLI) (func(), error) {
	level, _ := logger.ParseLevel(cli.LogLevel)

	output := os.Stderr
	cleanup := func() {}
	if cli.LogFile != "" {
		file, closeFile, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		cleanup = closeFile
	}

	logger.Init(level, output, cli.LogFormat)
	return cleanup, nil
}

func main() {
	_ = config.LoadDotEnv()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("swarm"),
		kong.Description("swarm - task orchestration across local and remote LLM backends"),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(&cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
