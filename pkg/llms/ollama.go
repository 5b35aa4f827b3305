package llms

import "encoding/json"

// OllamaFormatter speaks Ollama's /api/chat tool dialect, which mirrors the
// OpenAI function-calling schema on the request side.
type OllamaFormatter struct{}

func (f *OllamaFormatter) FormatTools(defs []ToolDefinition) interface{} {
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

func (f *OllamaFormatter) ParseToolCalls(response Response) []ParsedToolCall {
	message, ok := response["message"].(map[string]interface{})
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

func (f *OllamaFormatter) FormatToolResult(toolName, result string) Message {
	return Message{"role": "tool", "content": result}
}

// decodeArguments handles both forms backends emit: an embedded object or a
// JSON string. Unparseable strings degrade to empty arguments.
func decodeArguments(raw interface{}) map[string]interface{} {
	switch v := raw.(type) {
	case map[string]interface{}:
		return v
	case string:
		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			return map[string]interface{}{}
		}
		return parsed
	default:
		return map[string]interface{}{}
	}
}
