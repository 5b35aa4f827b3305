package agent

import "github.com/kadirpekel/swarm/pkg/llms"

// Context pruning defaults. The system prompt and the most recent turns are
// kept verbatim; older tool results in between are the bulk of the context
// and get truncated.
const (
	DefaultKeepRecent     = 6
	DefaultMaxResultChars = 800
)

// PruneContext shrinks a long conversation before sending it to the model.
// Message 0 (the system prompt) and the last keepRecent messages stay
// untouched; string contents in the middle longer than maxResultChars are
// cut and marked truncated.
func PruneContext(messages []llms.Message, keepRecent, maxResultChars int) []llms.Message {
	if len(messages) <= keepRecent+2 {
		return messages
	}

	pruned := make([]llms.Message, 0, len(messages))
	pruned = append(pruned, messages[0])

	tail := len(messages) - keepRecent
	for _, msg := range messages[1:tail] {
		content, ok := msg["content"].(string)
		if ok && len(content) > maxResultChars {
			trimmed := llms.Message{}
			for key, value := range msg {
				trimmed[key] = value
			}
			trimmed["content"] = content[:maxResultChars] + "\n... [truncated]"
			pruned = append(pruned, trimmed)
			continue
		}
		pruned = append(pruned, msg)
	}

	pruned = append(pruned, messages[tail:]...)
	return pruned
}
