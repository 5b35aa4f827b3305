// Package llms adapts the tool registry and conversation state to the wire
// dialect each backend expects, and carries the chat client used to reach
// Ollama, OpenAI-compatible, and Claude endpoints.
package llms

import (
	"github.com/kadirpekel/swarm/pkg/tools"
)

// Message is one chat message. Kept as a loose map so dialect-specific
// structure (native tool_calls, Claude content blocks) survives round trips
// through the conversation history untouched.
type Message map[string]interface{}

// Response is a decoded backend response body.
type Response map[string]interface{}

// ParsedToolCall is a tool invocation extracted from a model response.
type ParsedToolCall struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
	Raw       interface{}            `json:"-"`
}

// ToolDefinition describes one tool in backend-neutral form. Parameters is
// a JSON Schema object.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Usage reports token and latency counters for one backend call.
type Usage struct {
	InputTokens     int   `json:"input_tokens"`
	OutputTokens    int   `json:"output_tokens"`
	TotalDurationMS int64 `json:"total_duration_ms"`
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{"role": "system", "content": content}
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{"role": "user", "content": content}
}

// AssistantMessage builds a plain-text assistant message.
func AssistantMessage(content string) Message {
	return Message{"role": "assistant", "content": content}
}

// ConvertToolInfo converts a registry ToolInfo into a backend-neutral
// definition with a JSON Schema parameters object.
func ConvertToolInfo(info tools.ToolInfo) ToolDefinition {
	properties := make(map[string]interface{})
	var required []string

	for _, param := range info.Parameters {
		prop := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			prop["default"] = param.Default
		}
		properties[param.Name] = prop

		if param.Required {
			required = append(required, param.Name)
		}
	}

	if required == nil {
		required = []string{}
	}

	return ToolDefinition{
		Name:        info.Name,
		Description: info.Description,
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": properties,
			"required":   required,
		},
	}
}

// ConvertToolInfos converts a list of registry infos.
func ConvertToolInfos(infos []tools.ToolInfo) []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(infos))
	for _, info := range infos {
		defs = append(defs, ConvertToolInfo(info))
	}
	return defs
}

// ExtractText pulls the visible text out of a response regardless of
// dialect: Ollama message.content, generate-style response, OpenAI
// choices[0].message.content, Claude content[] text blocks.
func ExtractText(response Response) string {
	if message, ok := response["message"].(map[string]interface{}); ok {
		if content, ok := message["content"].(string); ok && content != "" {
			return content
		}
	}

	if text, ok := response["response"].(string); ok {
		return text
	}

	if choices, ok := response["choices"].([]interface{}); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]interface{}); ok {
			if message, ok := choice["message"].(map[string]interface{}); ok {
				if content, ok := message["content"].(string); ok {
					return content
				}
			}
		}
	}

	if blocks, ok := response["content"].([]interface{}); ok {
		text := ""
		for _, raw := range blocks {
			block, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			if block["type"] == "text" {
				if t, ok := block["text"].(string); ok {
					if text != "" {
						text += "\n"
					}
					text += t
				}
			}
		}
		return text
	}

	return ""
}
