package llms

// ClaudeFormatter speaks the Anthropic Messages API dialect: flat tool
// schemas on the way out, tool_use content blocks on the way back.
type ClaudeFormatter struct{}

func (f *ClaudeFormatter) FormatTools(defs []ToolDefinition) interface{} {
	formatted := make([]map[string]interface{}, 0, len(defs))
	for _, def := range defs {
		formatted = append(formatted, map[string]interface{}{
			"name":         def.Name,
			"description":  def.Description,
			"input_schema": def.Parameters,
		})
	}
	return formatted
}

func (f *ClaudeFormatter) ParseToolCalls(response Response) []ParsedToolCall {
	blocks, ok := response["content"].([]interface{})
	if !ok {
		return nil
	}

	var calls []ParsedToolCall
	for _, raw := range blocks {
		block, ok := raw.(map[string]interface{})
		if !ok || block["type"] != "tool_use" {
			continue
		}
		name, _ := block["name"].(string)
		if name == "" {
			continue
		}
		args, _ := block["input"].(map[string]interface{})
		if args == nil {
			args = map[string]interface{}{}
		}
		calls = append(calls, ParsedToolCall{
			Name:      name,
			Arguments: args,
			Raw:       block,
		})
	}
	return calls
}

func (f *ClaudeFormatter) FormatToolResult(toolName, result string) Message {
	// The loop wraps this block in a user message; tool_use_id is filled
	// from the originating tool_use block when available.
	return Message{
		"type":        "tool_result",
		"tool_use_id": "",
		"content":     result,
	}
}
