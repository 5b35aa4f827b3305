// Package agent runs the model-agnostic ReAct loop: send a prompt and tool
// definitions, execute whatever tools the model calls, feed the results
// back, and repeat until the model answers or the iteration cap is hit.
package agent

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kadirpekel/swarm/pkg/llms"
	"github.com/kadirpekel/swarm/pkg/observability"
	"github.com/kadirpekel/swarm/pkg/tools"
)

// Loop stop reasons.
const (
	StoppedComplete      = "complete"
	StoppedMaxIterations = "max_iterations"
)

// SendFunc performs one model call. tools carries the formatter output
// (nil when the dialect has no native tools field).
type SendFunc func(ctx context.Context, messages []llms.Message, toolPayload interface{}) (llms.Response, error)

// ToolCallEvent records a single tool invocation during a run.
type ToolCallEvent struct {
	Iteration  int
	ToolName   string
	Arguments  map[string]interface{}
	Result     tools.ToolResult
	DurationMS float64
}

// Result is the outcome of one loop run.
type Result struct {
	Response        string
	ToolCalls       []ToolCallEvent
	Iterations      int
	TotalDurationMS float64
	StoppedReason   string
}

// Loop drives the think-act-observe cycle against one backend.
type Loop struct {
	registry      *tools.ToolRegistry
	formatter     llms.ToolFormatter
	send          SendFunc
	maxIterations int
	systemPrompt  string
	onToolCall    func(ToolCallEvent)
}

// Option configures a Loop.
type Option func(*Loop)

// WithMaxIterations caps tool-call rounds. Default 10.
func WithMaxIterations(n int) Option {
	return func(l *Loop) { l.maxIterations = n }
}

// WithSystemPrompt sets the system prompt prepended to the conversation.
func WithSystemPrompt(prompt string) Option {
	return func(l *Loop) { l.systemPrompt = prompt }
}

// WithToolCallObserver registers a callback fired after each tool call.
// Panics inside the observer are swallowed.
func WithToolCallObserver(fn func(ToolCallEvent)) Option {
	return func(l *Loop) { l.onToolCall = fn }
}

// NewLoop builds a loop over a tool registry, a dialect formatter, and a
// send function.
func NewLoop(registry *tools.ToolRegistry, formatter llms.ToolFormatter, send SendFunc, opts ...Option) *Loop {
	l := &Loop{
		registry:      registry,
		formatter:     formatter,
		send:          send,
		maxIterations: 10,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes the loop for one user message.
func (l *Loop) Run(ctx context.Context, userMessage string) (Result, error) {
	tracer := observability.GetTracer("swarm.agent")
	ctx, span := tracer.Start(ctx, observability.SpanAgentLoop)
	defer span.End()

	start := time.Now()
	var toolEvents []ToolCallEvent

	defs := llms.ConvertToolInfos(l.registry.ListTools())
	toolPayload := l.formatter.FormatTools(defs)

	var messages []llms.Message
	if l.systemPrompt != "" {
		systemContent := l.systemPrompt
		// The generic formatter returns a tool manual as a string; fold it
		// into the system prompt instead of sending a tools field.
		if manual, ok := toolPayload.(string); ok {
			systemContent = systemContent + "\n\n" + manual
			toolPayload = nil
		}
		messages = append(messages, llms.SystemMessage(systemContent))
	} else if manual, ok := toolPayload.(string); ok {
		messages = append(messages, llms.SystemMessage(manual))
		toolPayload = nil
	}
	messages = append(messages, llms.UserMessage(userMessage))

	finalResponse := ""
	lastText := ""
	iteration := 0
	completed := false

	for iteration < l.maxIterations {
		iteration++

		response, err := l.send(ctx, messages, toolPayload)
		if err != nil {
			return Result{
				ToolCalls:       toolEvents,
				Iterations:      iteration,
				TotalDurationMS: msSince(start),
				StoppedReason:   "error",
			}, err
		}

		lastText = llms.ExtractText(response)
		toolCalls := l.formatter.ParseToolCalls(response)
		if len(toolCalls) == 0 {
			finalResponse = lastText
			completed = true
			break
		}

		messages = append(messages, buildAssistantMessage(response, lastText))

		for _, call := range toolCalls {
			t0 := time.Now()
			result, _ := l.registry.ExecuteTool(ctx, call.Name, call.Arguments)
			duration := float64(time.Since(t0).Microseconds()) / 1000

			event := ToolCallEvent{
				Iteration:  iteration,
				ToolName:   call.Name,
				Arguments:  call.Arguments,
				Result:     result,
				DurationMS: duration,
			}
			toolEvents = append(toolEvents, event)
			l.notifyToolCall(event)

			messages = append(messages, l.formatter.FormatToolResult(call.Name, result.Text()))
		}
	}

	stoppedReason := StoppedComplete
	if !completed {
		stoppedReason = StoppedMaxIterations
		finalResponse = lastText
		if finalResponse == "" {
			finalResponse = "(Agent reached maximum iterations)"
		}
	}

	span.SetAttributes(
		attribute.Int("agent.iterations", iteration),
		attribute.Int("agent.tool_calls", len(toolEvents)),
		attribute.String("agent.stopped_reason", stoppedReason),
	)

	return Result{
		Response:        finalResponse,
		ToolCalls:       toolEvents,
		Iterations:      iteration,
		TotalDurationMS: msSince(start),
		StoppedReason:   stoppedReason,
	}, nil
}

func (l *Loop) notifyToolCall(event ToolCallEvent) {
	if l.onToolCall == nil {
		return
	}
	defer func() { _ = recover() }()
	l.onToolCall(event)
}

// buildAssistantMessage appends the model's turn to history: dialects with
// native tool_calls pass the original message through so the backend sees
// its own call structure; otherwise the raw text is enough.
func buildAssistantMessage(response llms.Response, text string) llms.Message {
	if message, ok := response["message"].(map[string]interface{}); ok {
		if _, hasCalls := message["tool_calls"]; hasCalls {
			assistant := llms.Message{"role": "assistant"}
			for key, value := range message {
				assistant[key] = value
			}
			assistant["role"] = "assistant"
			return assistant
		}
	}
	return llms.AssistantMessage(text)
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
