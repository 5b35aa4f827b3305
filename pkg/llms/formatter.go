package llms

// ToolFormatter translates between the backend-neutral tool model and one
// backend's wire dialect. FormatTools returns whatever the request body's
// tools field should carry (nil means the dialect has no native field and
// the registry must be described in the prompt instead).
type ToolFormatter interface {
	// FormatTools renders tool definitions for the request payload.
	FormatTools(defs []ToolDefinition) interface{}

	// ParseToolCalls extracts tool invocations from a response.
	ParseToolCalls(response Response) []ParsedToolCall

	// FormatToolResult renders one tool's output as a conversation message.
	FormatToolResult(toolName, result string) Message
}

// FormatterFor returns the formatter for a backend type. Unknown types get
// the generic prompt-injection formatter, which works with any chat model.
func FormatterFor(backendType string) ToolFormatter {
	switch backendType {
	case "ollama":
		return &OllamaFormatter{}
	case "openai":
		return &OpenAIFormatter{}
	case "claude":
		return &ClaudeFormatter{}
	default:
		return &GenericFormatter{}
	}
}
