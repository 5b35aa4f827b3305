package main

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/kadirpekel/swarm/pkg/orchestrator"
	"github.com/kadirpekel/swarm/pkg/task"
)

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("swarm version %s\n", version)
	return nil
}

// withOrchestrator runs fn against a locally started orchestrator and shuts
// it down afterwards. Used by the one-shot commands; `swarm serve` manages
// its own lifecycle.
func withOrchestrator(cli *CLI, initialInstances int, fn func(ctx context.Context, orch *orchestrator.Orchestrator) error) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch := orchestrator.New(cfg)
	orch.Start(ctx, initialInstances)
	defer orch.Stop()

	return fn(ctx, orch)
}

// TaskCmd submits a task, optionally waiting for the result.
type TaskCmd struct {
	Prompt    string `arg:"" help:"The prompt to execute."`
	Name      string `short:"n" help:"Task name."`
	Dir       string `short:"d" help:"Working directory." type:"path"`
	Priority  string `short:"p" help:"Priority (low/normal/high/critical)." default:"normal"`
	Wait      bool   `short:"w" help:"Wait for the task to complete."`
	Model     string `help:"Preferred model for routing."`
	Timeout   int    `help:"Task timeout in seconds."`
	Instances int    `help:"Initial number of instances." default:"1"`
}

func (c *TaskCmd) Run(cli *CLI) error {
	return withOrchestrator(cli, c.Instances, func(ctx context.Context, orch *orchestrator.Orchestrator) error {
		taskID := orch.SubmitTask(orchestrator.SubmitRequest{
			Prompt:           c.Prompt,
			Name:             c.Name,
			WorkingDirectory: c.Dir,
			Priority:         parsePriority(c.Priority),
			TimeoutSecs:      c.Timeout,
			PreferredModel:   c.Model,
		})
		fmt.Printf("Task submitted: %s\n", taskID)

		if !c.Wait {
			return nil
		}

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			info, ok := orch.GetTaskStatus(taskID)
			if !ok {
				return fmt.Errorf("task %s disappeared", taskID)
			}
			switch info.Status {
			case task.StatusCompleted, task.StatusFailed, task.StatusCancelled:
				fmt.Printf("\nStatus: %s\n", info.Status)
				if info.Error != "" {
					fmt.Printf("Error: %s\n", info.Error)
				}
				if info.Result != nil {
					if output, ok := info.Result["output"].(string); ok && output != "" {
						fmt.Printf("\n%s\n", output)
					}
				}
				return nil
			}
		}
	})
}

// TasksCmd lists tasks known to a local orchestrator.
type TasksCmd struct {
	Status string `short:"s" help:"Filter by status."`
	Limit  int    `short:"l" help:"Maximum number of tasks to show." default:"50"`
}

func (c *TasksCmd) Run(cli *CLI) error {
	return withOrchestrator(cli, 0, func(ctx context.Context, orch *orchestrator.Orchestrator) error {
		infos := orch.ListTasks(task.Status(c.Status), c.Limit)
		fmt.Printf("Tasks (%d)\n", len(infos))
		for _, info := range infos {
			fmt.Printf("  %-8.8s  %-30.30s  %-10s  p%d  %s\n",
				info.ID, info.Name, info.Status, info.Priority,
				info.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	})
}

// InstancesCmd lists instances.
type InstancesCmd struct{}

func (c *InstancesCmd) Run(cli *CLI) error {
	return withOrchestrator(cli, 0, func(ctx context.Context, orch *orchestrator.Orchestrator) error {
		infos := orch.ListInstances()
		fmt.Printf("Instances (%d)\n", len(infos))
		for _, info := range infos {
			fmt.Printf("  %-8.8s  %-8s  model=%s  tasks=%d  errors=%d  %s\n",
				info.ID, info.Status, info.Model,
				info.CompletedTasks, info.ErrorCount, info.WorkingDirectory)
		}
		return nil
	})
}

// SpawnCmd spawns instances.
type SpawnCmd struct {
	Count int    `short:"n" help:"Number of instances to spawn." default:"1"`
	Dir   string `short:"d" help:"Working directory." type:"path"`
}

func (c *SpawnCmd) Run(cli *CLI) error {
	return withOrchestrator(cli, 0, func(ctx context.Context, orch *orchestrator.Orchestrator) error {
		spawned := orch.Instances().SpawnMultiple(ctx, c.Count, c.Dir)
		fmt.Printf("Spawned %d instance(s)\n", len(spawned))
		for _, inst := range spawned {
			info := inst.GetInfo()
			fmt.Printf("  %-8.8s  %-8s  %s\n", info.ID, info.Status, info.WorkingDirectory)
		}
		return nil
	})
}

// StatusCmd shows swarm status.
type StatusCmd struct{}

func (c *StatusCmd) Run(cli *CLI) error {
	return withOrchestrator(cli, 0, func(ctx context.Context, orch *orchestrator.Orchestrator) error {
		status := orch.GetStatus()

		fmt.Println("Swarm Status")
		fmt.Printf("Running: %v\n", status.Running)
		fmt.Printf("Workers: %d\n", status.Workers)

		fmt.Printf("\nInstances (%d)\n", status.Instances.TotalInstances)
		for name, count := range status.Instances.ByStatus {
			fmt.Printf("  %s: %d\n", name, count)
		}

		fmt.Printf("\nTasks (%d)\n", status.Tasks.TotalTasks)
		for name, count := range status.Tasks.ByStatus {
			fmt.Printf("  %s: %d\n", name, count)
		}

		fmt.Printf("\nBackends (%d)\n", len(status.Backends))
		for _, b := range status.Backends {
			fmt.Printf("  %s (%s) health=%s slots=%d/%d\n",
				b.Name, b.Type, b.Health, b.AvailableSlots, b.MaxConcurrent)
		}
		return nil
	})
}

// WorkflowCmd executes a workflow YAML file.
type WorkflowCmd struct {
	Path string `arg:"" help:"Path to workflow YAML file." type:"path"`
	Wait bool   `short:"w" help:"Wait for all workflow tasks to finish."`
}

func (c *WorkflowCmd) Run(cli *CLI) error {
	return withOrchestrator(cli, 1, func(ctx context.Context, orch *orchestrator.Orchestrator) error {
		result, err := orch.ExecuteWorkflow(ctx, c.Path)
		if err != nil {
			return err
		}

		fmt.Printf("Workflow submitted: %s\n", result.WorkflowName)
		fmt.Printf("Tasks created: %d\n", len(result.TaskIDs))
		for name, taskID := range result.TaskMapping {
			fmt.Printf("  - %s: %.8s\n", name, taskID)
		}

		if !c.Wait {
			return nil
		}
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			done := 0
			for _, taskID := range result.TaskIDs {
				info, ok := orch.GetTaskStatus(taskID)
				if !ok {
					continue
				}
				switch info.Status {
				case task.StatusCompleted, task.StatusFailed, task.StatusCancelled:
					done++
				}
			}
			if done == len(result.TaskIDs) {
				fmt.Println("Workflow finished")
				return nil
			}
		}
	})
}

func parsePriority(raw string) task.Priority {
	switch raw {
	case "low":
		return task.PriorityLow
	case "high":
		return task.PriorityHigh
	case "critical":
		return task.PriorityCritical
	default:
		return task.PriorityNormal
	}
}
