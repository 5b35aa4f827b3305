package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const maxDirEntries = 200

type ListDirectoryTool struct{}

func NewListDirectoryTool() *ListDirectoryTool {
	return &ListDirectoryTool{}
}

func (t *ListDirectoryTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "list_directory",
		Description: "List files and directories. Supports glob patterns.",
		Parameters: []ToolParameter{
			{
				Name:        "path",
				Type:        "string",
				Description: "Directory path (default '.')",
				Required:    false,
				Default:     ".",
			},
			{
				Name:        "pattern",
				Type:        "string",
				Description: "Glob pattern filter (default '*')",
				Required:    false,
				Default:     "*",
			},
		},
	}
}

func (t *ListDirectoryTool) GetName() string {
	return "list_directory"
}

func (t *ListDirectoryTool) GetDescription() string {
	return "List directory contents with optional glob filter"
}

func (t *ListDirectoryTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	path := stringArg(args, "path", ".")
	pattern := stringArg(args, "pattern", "*")

	abs, err := filepath.Abs(path)
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), nil
	}

	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return errorResult(t.GetName(), fmt.Sprintf("Directory not found: %s", path), start), nil
	}
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), nil
	}
	if !info.IsDir() {
		return errorResult(t.GetName(), fmt.Sprintf("Not a directory: %s", path), start), nil
	}

	entries, err := filepath.Glob(filepath.Join(abs, pattern))
	if err != nil {
		return errorResult(t.GetName(), fmt.Sprintf("Invalid pattern: %v", err), start), nil
	}
	sort.Strings(entries)

	total := len(entries)
	shown := entries
	if total > maxDirEntries {
		shown = entries[:maxDirEntries]
	}

	var lines []string
	for _, entry := range shown {
		stat, err := os.Stat(entry)
		if err != nil {
			continue
		}
		if stat.IsDir() {
			lines = append(lines, fmt.Sprintf("  DIR   %s", filepath.Base(entry)))
		} else {
			lines = append(lines, fmt.Sprintf("  FILE  %s (%d bytes)", filepath.Base(entry), stat.Size()))
		}
	}

	header := fmt.Sprintf("Directory: %s\n%d entries", abs, total)
	if total > maxDirEntries {
		header += fmt.Sprintf(" (showing first %d)", maxDirEntries)
	}

	return ToolResult{
		Success:       true,
		Output:        header + "\n" + strings.Join(lines, "\n"),
		ToolName:      t.GetName(),
		ExecutionTime: time.Since(start),
		Metadata: map[string]interface{}{
			"path":  abs,
			"count": total,
		},
	}, nil
}
