package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultCommandTimeout = 30
	maxCommandOutput      = 20_000
)

// blockedPatterns are destructive command fragments that are always refused.
var blockedPatterns = []string{"rm -rf /", "mkfs", "dd if=", ":(){", "fork bomb"}

type RunCommandTool struct{}

func NewRunCommandTool() *RunCommandTool {
	return &RunCommandTool{}
}

func (t *RunCommandTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "run_command",
		Description: "Execute a shell command and return its output.",
		Parameters: []ToolParameter{
			{
				Name:        "command",
				Type:        "string",
				Description: "Shell command to execute",
				Required:    true,
			},
			{
				Name:        "cwd",
				Type:        "string",
				Description: "Working directory (default '.')",
				Required:    false,
				Default:     ".",
			},
			{
				Name:        "timeout",
				Type:        "integer",
				Description: "Timeout in seconds (default 30)",
				Required:    false,
				Default:     defaultCommandTimeout,
			},
		},
	}
}

func (t *RunCommandTool) GetName() string {
	return "run_command"
}

func (t *RunCommandTool) GetDescription() string {
	return "Execute a shell command with timeout and output capture"
}

func (t *RunCommandTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	command := stringArg(args, "command", "")
	if command == "" {
		return errorResult(t.GetName(), "command parameter is required", start),
			fmt.Errorf("command parameter is required")
	}
	cwd := stringArg(args, "cwd", ".")
	timeout := intArg(args, "timeout", defaultCommandTimeout)

	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), nil
	}
	if info, err := os.Stat(cwdAbs); err != nil || !info.IsDir() {
		return errorResult(t.GetName(), fmt.Sprintf("Working directory not found: %s", cwd), start), nil
	}

	cmdLower := strings.ToLower(command)
	for _, pattern := range blockedPatterns {
		if strings.Contains(cmdLower, pattern) {
			return errorResult(t.GetName(),
				fmt.Sprintf("Blocked dangerous command pattern: %s", pattern), start), nil
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", command)
	cmd.Dir = cwdAbs

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return errorResult(t.GetName(),
			fmt.Sprintf("Command timed out after %ds", timeout), start), nil
	}

	stdoutText := strings.TrimSpace(stdout.String())
	stderrText := strings.TrimSpace(stderr.String())

	if len(stdoutText) > maxCommandOutput {
		stdoutText = stdoutText[:maxCommandOutput] + "\n... (truncated)"
	}

	output := stdoutText
	if stderrText != "" {
		if output != "" {
			output += "\n\nSTDERR:\n" + stderrText
		} else {
			output = "STDERR:\n" + stderrText
		}
	}
	if output == "" {
		output = "(no output)"
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return errorResult(t.GetName(), runErr.Error(), start), nil
		}
	}

	result := ToolResult{
		Success:       exitCode == 0,
		Output:        output,
		ToolName:      t.GetName(),
		ExecutionTime: time.Since(start),
		Metadata: map[string]interface{}{
			"return_code": exitCode,
		},
	}
	if exitCode != 0 {
		result.Error = stderrText
	}
	return result, nil
}
