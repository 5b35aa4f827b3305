package observability

// Span names.
const (
	SpanToolExecution = "tool.execute"
	SpanLLMCall       = "llm.call"
	SpanTaskExecution = "task.execute"
	SpanAgentLoop     = "agent.loop"
)

// Span attribute keys.
const (
	AttrToolName  = "tool.name"
	AttrModelName = "model.name"
	AttrBackend   = "backend.name"
	AttrTaskID    = "task.id"
	AttrTaskType  = "task.type"
)
