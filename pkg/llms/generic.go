package llms

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// toolCallPattern matches <tool_call>{...}</tool_call> blocks, spanning
// newlines inside the JSON object.
var toolCallPattern = regexp.MustCompile(`(?s)<tool_call>\s*(\{.*?\})\s*</tool_call>`)

// GenericFormatter works with models that have no native tool support: the
// tool manual is injected into the system prompt and calls are parsed out of
// the response text as tagged JSON blocks.
type GenericFormatter struct{}

// FormatTools returns a prompt-injection string rather than a request field.
func (f *GenericFormatter) FormatTools(defs []ToolDefinition) interface{} {
	var b strings.Builder
	b.WriteString("You have access to the following tools. To use a tool, ")
	b.WriteString("output a <tool_call> block with a JSON object containing ")
	b.WriteString("'name' and 'arguments'.\n\nAvailable tools:\n")

	for _, def := range defs {
		fmt.Fprintf(&b, "  %s: %s\n", def.Name, def.Description)
		properties, _ := def.Parameters["properties"].(map[string]interface{})
		if len(properties) == 0 {
			continue
		}
		required := map[string]bool{}
		switch reqs := def.Parameters["required"].(type) {
		case []string:
			for _, r := range reqs {
				required[r] = true
			}
		case []interface{}:
			for _, r := range reqs {
				if name, ok := r.(string); ok {
					required[name] = true
				}
			}
		}

		names := make([]string, 0, len(properties))
		for pname := range properties {
			names = append(names, pname)
		}
		sort.Strings(names)

		b.WriteString("  Parameters:\n")
		for _, pname := range names {
			desc := ""
			if prop, ok := properties[pname].(map[string]interface{}); ok {
				desc, _ = prop["description"].(string)
			}
			line := fmt.Sprintf("    - %s: %s", pname, desc)
			if required[pname] {
				line += " (required)"
			}
			b.WriteString(line + "\n")
		}
	}

	b.WriteString("\nExample:\n")
	b.WriteString(`<tool_call>{"name": "read_file", "arguments": {"path": "src/main.py"}}</tool_call>`)
	b.WriteString("\n\nAfter receiving tool results, continue your analysis. ")
	b.WriteString("You may call multiple tools in sequence.")
	return b.String()
}

func (f *GenericFormatter) ParseToolCalls(response Response) []ParsedToolCall {
	text := ""
	if message, ok := response["message"].(map[string]interface{}); ok {
		text, _ = message["content"].(string)
	}
	if text == "" {
		text, _ = response["response"].(string)
	}
	if text == "" {
		return nil
	}

	var calls []ParsedToolCall
	for _, match := range toolCallPattern.FindAllStringSubmatch(text, -1) {
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(match[1]), &data); err != nil {
			continue
		}
		name, _ := data["name"].(string)
		if name == "" {
			continue
		}
		args, _ := data["arguments"].(map[string]interface{})
		if args == nil {
			args = map[string]interface{}{}
		}
		calls = append(calls, ParsedToolCall{Name: name, Arguments: args, Raw: data})
	}
	return calls
}

func (f *GenericFormatter) FormatToolResult(toolName, result string) Message {
	return Message{
		"role":    "user",
		"content": fmt.Sprintf("<tool_result name=%q>\n%s\n</tool_result>", toolName, result),
	}
}
