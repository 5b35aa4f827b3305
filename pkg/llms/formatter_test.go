package llms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/swarm/pkg/tools"
)

func sampleTools() []ToolDefinition {
	return ConvertToolInfos([]tools.ToolInfo{
		{
			Name:        "read_file",
			Description: "Read a file",
			Parameters: []tools.ToolParameter{
				{Name: "path", Type: "string", Description: "Path to read", Required: true},
				{Name: "max_lines", Type: "integer", Description: "Line cap", Required: false},
			},
		},
	})
}

func TestConvertToolInfo(t *testing.T) {
	defs := sampleTools()
	require.Len(t, defs, 1)

	params := defs[0].Parameters
	assert.Equal(t, "object", params["type"])
	assert.Equal(t, []string{"path"}, params["required"])

	properties := params["properties"].(map[string]interface{})
	path := properties["path"].(map[string]interface{})
	assert.Equal(t, "string", path["type"])
}

func TestFormatterFor(t *testing.T) {
	tests := []struct {
		backendType string
		want        ToolFormatter
	}{
		{"ollama", &OllamaFormatter{}},
		{"openai", &OpenAIFormatter{}},
		{"claude", &ClaudeFormatter{}},
		{"generic", &GenericFormatter{}},
		{"unknown", &GenericFormatter{}},
		{"", &GenericFormatter{}},
	}
	for _, tt := range tests {
		t.Run(tt.backendType, func(t *testing.T) {
			assert.IsType(t, tt.want, FormatterFor(tt.backendType))
		})
	}
}

func TestOllamaFormatter(t *testing.T) {
	f := &OllamaFormatter{}

	formatted := f.FormatTools(sampleTools()).([]map[string]interface{})
	require.Len(t, formatted, 1)
	assert.Equal(t, "function", formatted[0]["type"])
	fn := formatted[0]["function"].(map[string]interface{})
	assert.Equal(t, "read_file", fn["name"])

	response := Response{
		"message": map[string]interface{}{
			"tool_calls": []interface{}{
				map[string]interface{}{
					"function": map[string]interface{}{
						"name":      "read_file",
						"arguments": map[string]interface{}{"path": "a.go"},
					},
				},
			},
		},
	}
	calls := f.ParseToolCalls(response)
	require.Len(t, calls, 1)
	assert.Equal(t, "read_file", calls[0].Name)
	assert.Equal(t, "a.go", calls[0].Arguments["path"])

	msg := f.FormatToolResult("read_file", "contents")
	assert.Equal(t, "tool", msg["role"])
	assert.Equal(t, "contents", msg["content"])
}

func TestOllamaFormatterStringArguments(t *testing.T) {
	f := &OllamaFormatter{}
	response := Response{
		"message": map[string]interface{}{
			"tool_calls": []interface{}{
				map[string]interface{}{
					"function": map[string]interface{}{
						"name":      "run_command",
						"arguments": `{"command": "ls"}`,
					},
				},
				map[string]interface{}{
					"function": map[string]interface{}{
						"name":      "run_command",
						"arguments": "not json",
					},
				},
			},
		},
	}
	calls := f.ParseToolCalls(response)
	require.Len(t, calls, 2)
	assert.Equal(t, "ls", calls[0].Arguments["command"])
	assert.Empty(t, calls[1].Arguments)
}

func TestOpenAIFormatter(t *testing.T) {
	f := &OpenAIFormatter{}

	response := Response{
		"choices": []interface{}{
			map[string]interface{}{
				"message": map[string]interface{}{
					"tool_calls": []interface{}{
						map[string]interface{}{
							"function": map[string]interface{}{
								"name":      "write_file",
								"arguments": `{"path": "out.txt", "content": "x"}`,
							},
						},
					},
				},
			},
		},
	}
	calls := f.ParseToolCalls(response)
	require.Len(t, calls, 1)
	assert.Equal(t, "write_file", calls[0].Name)
	assert.Equal(t, "out.txt", calls[0].Arguments["path"])

	msg := f.FormatToolResult("write_file", "done")
	assert.Equal(t, "tool", msg["role"])
	assert.Contains(t, msg, "tool_call_id")
}

func TestClaudeFormatter(t *testing.T) {
	f := &ClaudeFormatter{}

	formatted := f.FormatTools(sampleTools()).([]map[string]interface{})
	require.Len(t, formatted, 1)
	assert.Equal(t, "read_file", formatted[0]["name"])
	assert.Contains(t, formatted[0], "input_schema")

	response := Response{
		"content": []interface{}{
			map[string]interface{}{"type": "text", "text": "Let me look."},
			map[string]interface{}{
				"type":  "tool_use",
				"name":  "search_files",
				"input": map[string]interface{}{"path": ".", "pattern": "TODO"},
			},
		},
	}
	calls := f.ParseToolCalls(response)
	require.Len(t, calls, 1)
	assert.Equal(t, "search_files", calls[0].Name)
	assert.Equal(t, "TODO", calls[0].Arguments["pattern"])

	msg := f.FormatToolResult("search_files", "2 matches")
	assert.Equal(t, "tool_result", msg["type"])
	assert.Equal(t, "2 matches", msg["content"])
}

func TestGenericFormatter(t *testing.T) {
	f := &GenericFormatter{}

	manual := f.FormatTools(sampleTools()).(string)
	assert.Contains(t, manual, "read_file: Read a file")
	assert.Contains(t, manual, "- path: Path to read (required)")
	assert.Contains(t, manual, "- max_lines: Line cap")
	assert.NotContains(t, manual, "max_lines: Line cap (required)")
	assert.Contains(t, manual, "<tool_call>")

	response := Response{
		"message": map[string]interface{}{
			"content": "Checking.\n<tool_call>\n{\"name\": \"read_file\", \"arguments\": {\"path\": \"x.go\"}}\n</tool_call>",
		},
	}
	calls := f.ParseToolCalls(response)
	require.Len(t, calls, 1)
	assert.Equal(t, "read_file", calls[0].Name)
	assert.Equal(t, "x.go", calls[0].Arguments["path"])

	msg := f.FormatToolResult("read_file", "line 1")
	assert.Equal(t, "user", msg["role"])
	assert.Equal(t, "<tool_result name=\"read_file\">\nline 1\n</tool_result>", msg["content"])
}

func TestGenericFormatterIgnoresBadJSON(t *testing.T) {
	f := &GenericFormatter{}
	response := Response{
		"message": map[string]interface{}{
			"content": "<tool_call>{not json}</tool_call>",
		},
	}
	assert.Empty(t, f.ParseToolCalls(response))
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name     string
		response Response
		want     string
	}{
		{
			"ollama chat",
			Response{"message": map[string]interface{}{"content": "hello"}},
			"hello",
		},
		{
			"generate style",
			Response{"response": "raw text"},
			"raw text",
		},
		{
			"openai",
			Response{"choices": []interface{}{
				map[string]interface{}{"message": map[string]interface{}{"content": "choice text"}},
			}},
			"choice text",
		},
		{
			"claude blocks",
			Response{"content": []interface{}{
				map[string]interface{}{"type": "text", "text": "first"},
				map[string]interface{}{"type": "tool_use", "name": "x"},
				map[string]interface{}{"type": "text", "text": "second"},
			}},
			"first\nsecond",
		},
		{
			"empty",
			Response{},
			"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractText(tt.response))
		})
	}
}
