package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type WriteFileTool struct{}

func NewWriteFileTool() *WriteFileTool {
	return &WriteFileTool{}
}

func (t *WriteFileTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "write_file",
		Description: "Write content to a file. Creates parent directories if needed.",
		Parameters: []ToolParameter{
			{
				Name:        "path",
				Type:        "string",
				Description: "Path to write to",
				Required:    true,
			},
			{
				Name:        "content",
				Type:        "string",
				Description: "Content to write",
				Required:    true,
			},
		},
	}
}

func (t *WriteFileTool) GetName() string {
	return "write_file"
}

func (t *WriteFileTool) GetDescription() string {
	return "Write or create a file, overwriting existing content"
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	path := stringArg(args, "path", "")
	if path == "" {
		return errorResult(t.GetName(), "path parameter is required", start),
			fmt.Errorf("path parameter is required")
	}
	content, ok := args["content"].(string)
	if !ok {
		return errorResult(t.GetName(), "content parameter is required", start),
			fmt.Errorf("content parameter is required")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), nil
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return errorResult(t.GetName(), err.Error(), start), nil
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		return errorResult(t.GetName(), err.Error(), start), nil
	}

	return ToolResult{
		Success:       true,
		Output:        fmt.Sprintf("Wrote %d bytes to %s", len(content), abs),
		ToolName:      t.GetName(),
		ExecutionTime: time.Since(start),
		Metadata: map[string]interface{}{
			"path":  abs,
			"bytes": len(content),
		},
	}, nil
}
