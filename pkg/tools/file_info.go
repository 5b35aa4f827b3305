package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type FileInfoTool struct{}

func NewFileInfoTool() *FileInfoTool {
	return &FileInfoTool{}
}

func (t *FileInfoTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "get_file_info",
		Description: "Get metadata about a file or directory (size, dates, type).",
		Parameters: []ToolParameter{
			{
				Name:        "path",
				Type:        "string",
				Description: "Path to inspect",
				Required:    true,
			},
		},
	}
}

func (t *FileInfoTool) GetName() string {
	return "get_file_info"
}

func (t *FileInfoTool) GetDescription() string {
	return "Inspect file or directory metadata"
}

func (t *FileInfoTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	path := stringArg(args, "path", "")
	if path == "" {
		return errorResult(t.GetName(), "path parameter is required", start),
			fmt.Errorf("path parameter is required")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), nil
	}

	stat, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return errorResult(t.GetName(), fmt.Sprintf("Path not found: %s", path), start), nil
	}
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), nil
	}

	kind := "file"
	if stat.IsDir() {
		kind = "directory"
	}

	metadata := map[string]interface{}{
		"path":       abs,
		"name":       filepath.Base(abs),
		"type":       kind,
		"size_bytes": stat.Size(),
		"modified":   stat.ModTime().Format(time.RFC3339),
	}

	lines := []string{
		fmt.Sprintf("  path: %s", abs),
		fmt.Sprintf("  name: %s", filepath.Base(abs)),
		fmt.Sprintf("  type: %s", kind),
		fmt.Sprintf("  size_bytes: %d", stat.Size()),
		fmt.Sprintf("  modified: %s", stat.ModTime().Format(time.RFC3339)),
	}

	if !stat.IsDir() {
		ext := filepath.Ext(abs)
		metadata["extension"] = ext
		metadata["size_human"] = humanSize(stat.Size())
		lines = append(lines,
			fmt.Sprintf("  extension: %s", ext),
			fmt.Sprintf("  size_human: %s", humanSize(stat.Size())),
		)
	}

	return ToolResult{
		Success:       true,
		Output:        strings.Join(lines, "\n"),
		ToolName:      t.GetName(),
		ExecutionTime: time.Since(start),
		Metadata:      metadata,
	}, nil
}

func humanSize(n int64) string {
	size := float64(n)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if size < 1024 {
			return fmt.Sprintf("%.1f %s", size, unit)
		}
		size /= 1024
	}
	return fmt.Sprintf("%.1f TB", size)
}
