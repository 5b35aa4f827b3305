package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.txt")
	require.NoError(t, os.WriteFile(path, []byte("alpha\nbeta\ngamma\n"), 0644))

	tool := NewReadFileTool()
	result, err := tool.Execute(context.Background(), map[string]interface{}{"path": path})
	require.NoError(t, err)
	require.True(t, result.Success)

	assert.Contains(t, result.Output, "1 | alpha")
	assert.Contains(t, result.Output, "3 | gamma")
	assert.Equal(t, false, result.Metadata["truncated"])
}

func TestReadFileTruncation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.txt")

	var content strings.Builder
	for i := 0; i < 600; i++ {
		fmt.Fprintf(&content, "line %d\n", i)
	}
	require.NoError(t, os.WriteFile(path, []byte(content.String()), 0644))

	tool := NewReadFileTool()
	result, err := tool.Execute(context.Background(), map[string]interface{}{"path": path})
	require.NoError(t, err)
	require.True(t, result.Success)

	assert.Contains(t, result.Output, "truncated at 500 lines, 600 total")
	assert.Equal(t, true, result.Metadata["truncated"])
	assert.Equal(t, 500, result.Metadata["lines"])
}

func TestReadFileNotFound(t *testing.T) {
	tool := NewReadFileTool()
	result, err := tool.Execute(context.Background(), map[string]interface{}{"path": "/does/not/exist"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "File not found")
	assert.Contains(t, result.Text(), "Error:")
}

func TestReadFileMissingArg(t *testing.T) {
	tool := NewReadFileTool()
	result, err := tool.Execute(context.Background(), map[string]interface{}{})
	require.Error(t, err)
	assert.False(t, result.Success)
}

func TestListDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))

	tool := NewListDirectoryTool()
	result, err := tool.Execute(context.Background(), map[string]interface{}{"path": dir})
	require.NoError(t, err)
	require.True(t, result.Success)

	assert.Contains(t, result.Output, "3 entries")
	assert.Contains(t, result.Output, "DIR   sub")
	assert.Contains(t, result.Output, "FILE  a.go")

	// Glob filter
	result, err = tool.Execute(context.Background(), map[string]interface{}{"path": dir, "pattern": "*.go"})
	require.NoError(t, err)
	assert.Contains(t, result.Output, "1 entries")
}

func TestListDirectoryNotADirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	tool := NewListDirectoryTool()
	result, err := tool.Execute(context.Background(), map[string]interface{}{"path": path})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "Not a directory")
}

func TestSearchFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"),
		[]byte("package main\n\nfunc main() {\n\tprintln(\"TODO: fix\")\n}\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"),
		[]byte("nothing here\n"), 0644))

	tool := NewSearchFilesTool()
	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":    dir,
		"pattern": "todo",
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	assert.Contains(t, result.Output, "1 matches")
	assert.Contains(t, result.Output, "main.go:4")
}

func TestSearchFilesNoMatches(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello\n"), 0644))

	tool := NewSearchFilesTool()
	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":    dir,
		"pattern": "absent",
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Contains(t, result.Output, "No matches found")
}

func TestSearchFilesInvalidRegex(t *testing.T) {
	tool := NewSearchFilesTool()
	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":    t.TempDir(),
		"pattern": "([unclosed",
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "Invalid regex")
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "deep", "out.txt")

	tool := NewWriteFileTool()
	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":    path,
		"content": "hello world",
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	assert.Contains(t, result.Output, "Wrote 11 bytes")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestRunCommand(t *testing.T) {
	tool := NewRunCommandTool()
	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"command": "echo hello",
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "hello", result.Output)
	assert.Equal(t, 0, result.Metadata["return_code"])
}

func TestRunCommandNonZeroExit(t *testing.T) {
	tool := NewRunCommandTool()
	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"command": "echo oops >&2; exit 3",
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 3, result.Metadata["return_code"])
	assert.Contains(t, result.Output, "STDERR")
	assert.Contains(t, result.Error, "oops")
}

func TestRunCommandBlockedPattern(t *testing.T) {
	tool := NewRunCommandTool()
	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"command": "rm -rf / --no-preserve-root",
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "Blocked dangerous command pattern")
}

func TestRunCommandTimeout(t *testing.T) {
	tool := NewRunCommandTool()
	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"command": "sleep 5",
		"timeout": float64(1),
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "timed out after 1s")
}

func TestGetFileInfo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "info.go")
	require.NoError(t, os.WriteFile(path, []byte("package info"), 0644))

	tool := NewFileInfoTool()
	result, err := tool.Execute(context.Background(), map[string]interface{}{"path": path})
	require.NoError(t, err)
	require.True(t, result.Success)

	assert.Contains(t, result.Output, "type: file")
	assert.Contains(t, result.Output, "extension: .go")
	assert.Equal(t, "12.0 B", result.Metadata["size_human"])
}

func TestBuiltinRegistry(t *testing.T) {
	r := NewBuiltinRegistry()

	infos := r.ListTools()
	require.Len(t, infos, 6)

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{
		"get_file_info", "list_directory", "read_file",
		"run_command", "search_files", "write_file",
	}, names)
}

func TestExecuteToolUnknown(t *testing.T) {
	r := NewBuiltinRegistry()

	result, err := r.ExecuteTool(context.Background(), "no_such_tool", nil)
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "not found")
}

func TestExecuteToolRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\n"), 0644))

	r := NewBuiltinRegistry()
	result, err := r.ExecuteTool(context.Background(), "read_file", map[string]interface{}{"path": path})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "read_file", result.ToolName)
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "512.0 B", humanSize(512))
	assert.Equal(t, "1.0 KB", humanSize(1024))
	assert.Equal(t, "1.5 MB", humanSize(1024*1024*3/2))
}
