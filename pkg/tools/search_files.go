package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	maxSearchMatches  = 100
	maxSearchFiles    = 500
	maxSearchFileSize = 1_000_000
)

type SearchFilesTool struct{}

func NewSearchFilesTool() *SearchFilesTool {
	return &SearchFilesTool{}
}

func (t *SearchFilesTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "search_files",
		Description: "Search file contents using a regex pattern. Like grep -rn.",
		Parameters: []ToolParameter{
			{
				Name:        "path",
				Type:        "string",
				Description: "Root directory to search (default '.')",
				Required:    false,
				Default:     ".",
			},
			{
				Name:        "pattern",
				Type:        "string",
				Description: "Regex pattern to search for",
				Required:    true,
			},
			{
				Name:        "file_glob",
				Type:        "string",
				Description: "Glob to filter files (e.g. '*.go')",
				Required:    false,
				Default:     "*",
			},
		},
	}
}

func (t *SearchFilesTool) GetName() string {
	return "search_files"
}

func (t *SearchFilesTool) GetDescription() string {
	return "Recursive regex search over file contents"
}

func (t *SearchFilesTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	pattern := stringArg(args, "pattern", "")
	if pattern == "" {
		return errorResult(t.GetName(), "pattern parameter is required", start),
			fmt.Errorf("pattern parameter is required")
	}
	root := stringArg(args, "path", ".")
	fileGlob := stringArg(args, "file_glob", "*")

	abs, err := filepath.Abs(root)
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), nil
	}
	rootInfo, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return errorResult(t.GetName(), fmt.Sprintf("Path not found: %s", root), start), nil
	}
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), nil
	}

	regex, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return errorResult(t.GetName(), fmt.Sprintf("Invalid regex: %v", err), start), nil
	}

	var targets []string
	if !rootInfo.IsDir() {
		targets = []string{abs}
	} else {
		_ = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if ok, _ := filepath.Match(fileGlob, d.Name()); !ok {
				return nil
			}
			targets = append(targets, path)
			if len(targets) >= maxSearchFiles {
				return filepath.SkipAll
			}
			return nil
		})
	}

	var matches []string
	filesSearched := 0
	for _, fp := range targets {
		stat, err := os.Stat(fp)
		if err != nil || stat.Size() > maxSearchFileSize {
			continue
		}
		filesSearched++

		content, err := os.ReadFile(fp)
		if err != nil {
			continue
		}

		rel, err := filepath.Rel(abs, fp)
		if err != nil || rel == "." {
			rel = filepath.Base(fp)
		}

		for i, line := range strings.Split(string(content), "\n") {
			if regex.MatchString(line) {
				matches = append(matches, fmt.Sprintf("  %s:%d  %s", rel, i+1, strings.TrimSpace(line)))
				if len(matches) >= maxSearchMatches {
					break
				}
			}
		}
		if len(matches) >= maxSearchMatches {
			break
		}
	}

	header := fmt.Sprintf("Searched %d files for /%s/", filesSearched, pattern)
	if len(matches) == 0 {
		return ToolResult{
			Success:       true,
			Output:        header + "\nNo matches found.",
			ToolName:      t.GetName(),
			ExecutionTime: time.Since(start),
		}, nil
	}

	return ToolResult{
		Success:       true,
		Output:        header + fmt.Sprintf("\n%d matches:\n", len(matches)) + strings.Join(matches, "\n"),
		ToolName:      t.GetName(),
		ExecutionTime: time.Since(start),
		Metadata: map[string]interface{}{
			"matches": len(matches),
		},
	}, nil
}
