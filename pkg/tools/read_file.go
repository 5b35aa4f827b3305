package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const defaultMaxLines = 500

type ReadFileTool struct{}

func NewReadFileTool() *ReadFileTool {
	return &ReadFileTool{}
}

func (t *ReadFileTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "read_file",
		Description: "Read the contents of a file. Returns numbered lines.",
		Parameters: []ToolParameter{
			{
				Name:        "path",
				Type:        "string",
				Description: "Path to the file to read",
				Required:    true,
			},
			{
				Name:        "max_lines",
				Type:        "integer",
				Description: "Maximum lines to read (default 500)",
				Required:    false,
				Default:     defaultMaxLines,
			},
		},
	}
}

func (t *ReadFileTool) GetName() string {
	return "read_file"
}

func (t *ReadFileTool) GetDescription() string {
	return "Read file contents with numbered lines"
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	path := stringArg(args, "path", "")
	if path == "" {
		return errorResult(t.GetName(), "path parameter is required", start),
			fmt.Errorf("path parameter is required")
	}
	maxLines := intArg(args, "max_lines", defaultMaxLines)

	abs, err := filepath.Abs(path)
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), nil
	}

	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return errorResult(t.GetName(), fmt.Sprintf("File not found: %s", path), start), nil
	}
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), nil
	}
	if info.IsDir() {
		return errorResult(t.GetName(), fmt.Sprintf("Not a file: %s", path), start), nil
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), nil
	}

	lines := strings.Split(strings.TrimSuffix(string(content), "\n"), "\n")
	total := len(lines)
	truncated := total > maxLines
	if truncated {
		lines = lines[:maxLines]
	}

	var output strings.Builder
	for i, line := range lines {
		output.WriteString(fmt.Sprintf("%5d | %s\n", i+1, line))
	}
	text := strings.TrimSuffix(output.String(), "\n")
	if truncated {
		text += fmt.Sprintf("\n\n... (truncated at %d lines, %d total)", maxLines, total)
	}

	return ToolResult{
		Success:       true,
		Output:        text,
		ToolName:      t.GetName(),
		ExecutionTime: time.Since(start),
		Metadata: map[string]interface{}{
			"path":      abs,
			"lines":     len(lines),
			"truncated": truncated,
		},
	}, nil
}

func errorResult(toolName, msg string, start time.Time) ToolResult {
	return ToolResult{
		Success:       false,
		Error:         msg,
		ToolName:      toolName,
		ExecutionTime: time.Since(start),
	}
}
