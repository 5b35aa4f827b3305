package llms

// OpenAIFormatter speaks the OpenAI chat-completions function-calling
// dialect, used by OpenAI-compatible servers (vLLM, llama.cpp, LM Studio).
type OpenAIFormatter struct{}

func (f *OpenAIFormatter) FormatTools(defs []ToolDefinition) interface{} {
	formatted := make([]map[string]interface{}, 0, len(defs))
	for _, def := range defs {
		formatted = append(formatted, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        def.Name,
				"description": def.Description,
				"parameters":  def.Parameters,
			},
		})
	}
	return formatted
}

func (f *OpenAIFormatter) ParseToolCalls(response Response) []ParsedToolCall {
	choices, ok := response["choices"].([]interface{})
	if !ok || len(choices) == 0 {
		return nil
	}
	choice, ok := choices[0].(map[string]interface{})
	if !ok {
		return nil
	}
	message, ok := choice["message"].(map[string]interface{})
	if !ok {
		return nil
	}
	rawCalls, ok := message["tool_calls"].([]interface{})
	if !ok {
		return nil
	}

	var calls []ParsedToolCall
	for _, raw := range rawCalls {
		call, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		function, ok := call["function"].(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := function["name"].(string)
		if name == "" {
			continue
		}
		calls = append(calls, ParsedToolCall{
			Name:      name,
			Arguments: decodeArguments(function["arguments"]),
			Raw:       call,
		})
	}
	return calls
}

func (f *OpenAIFormatter) FormatToolResult(toolName, result string) Message {
	return Message{
		"role":         "tool",
		"tool_call_id": "",
		"content":      result,
	}
}
