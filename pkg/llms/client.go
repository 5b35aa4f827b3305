package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kadirpekel/swarm/pkg/httpclient"
	"github.com/kadirpekel/swarm/pkg/observability"
)

const anthropicVersion = "2023-06-01"

// ChatRequest is one non-streaming chat completion call.
type ChatRequest struct {
	Model    string
	Messages []Message
	// Tools carries the dialect-specific payload from FormatTools. Nil or
	// a non-list value (generic prompt injection) omits the field.
	Tools interface{}
	// Options holds sampling parameters for backends that accept them;
	// Ollama takes them under "options", the hosted dialects inline them.
	Options     map[string]interface{}
	TimeoutSecs int
}

// ChatClient sends chat requests to one backend endpoint, building the
// request body and headers for that backend's dialect.
type ChatClient struct {
	backendType string
	baseURL     string
	apiKey      string
	http        *httpclient.Client
	logger      *slog.Logger
}

// ChatClientOption configures a ChatClient.
type ChatClientOption func(*ChatClient)

// WithAPIKey sets the credential sent to openai and claude backends.
func WithAPIKey(key string) ChatClientOption {
	return func(c *ChatClient) { c.apiKey = key }
}

// WithHTTPClient overrides the retrying HTTP client, used by tests.
func WithHTTPClient(hc *httpclient.Client) ChatClientOption {
	return func(c *ChatClient) { c.http = hc }
}

// NewChatClient builds a client for one backend. backendType selects the
// dialect: "ollama", "openai", or "claude".
func NewChatClient(backendType, baseURL string, opts ...ChatClientOption) *ChatClient {
	c := &ChatClient{
		backendType: backendType,
		baseURL:     baseURL,
		logger:      slog.Default().With("component", "llms"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		headerParser := httpclient.ParseOpenAIHeaders
		if backendType == "claude" {
			headerParser = httpclient.ParseAnthropicHeaders
		}
		c.http = httpclient.New(
			httpclient.WithMaxRetries(3),
			httpclient.WithHeaderParser(headerParser),
		)
	}
	return c
}

// BackendType reports which dialect this client speaks.
func (c *ChatClient) BackendType() string {
	return c.backendType
}

// Send performs one chat call and returns the decoded response body along
// with token usage. Usage comes from the backend when reported, estimated
// with a tokenizer otherwise.
func (c *ChatClient) Send(ctx context.Context, req ChatRequest) (Response, Usage, error) {
	tracer := observability.GetTracer("swarm.llms")
	ctx, span := tracer.Start(ctx, observability.SpanLLMCall)
	defer span.End()
	span.SetAttributes(
		attribute.String(observability.AttrModelName, req.Model),
		attribute.String(observability.AttrBackend, c.backendType),
	)

	start := time.Now()
	response, err := c.send(ctx, req)
	duration := time.Since(start)

	usage := Usage{TotalDurationMS: duration.Milliseconds()}
	if err == nil {
		c.extractUsage(req, response, &usage)
	}

	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		metrics.RecordLLMCall(ctx, req.Model, duration, usage.InputTokens, usage.OutputTokens, err)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, usage, err
	}
	span.SetStatus(codes.Ok, "")
	span.SetAttributes(
		attribute.Int("llm.input_tokens", usage.InputTokens),
		attribute.Int("llm.output_tokens", usage.OutputTokens),
	)
	return response, usage, nil
}

func (c *ChatClient) send(ctx context.Context, req ChatRequest) (Response, error) {
	endpoint, body, headers, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}

	if req.TimeoutSecs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutSecs)*time.Second)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request to %s: %w", c.backendType, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned HTTP %d: %s",
			c.backendType, resp.StatusCode, truncateForError(respBody))
	}

	var response Response
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", c.backendType, err)
	}
	return response, nil
}

// buildRequest assembles the endpoint, JSON body, and auth headers for the
// backend dialect.
func (c *ChatClient) buildRequest(req ChatRequest) (string, []byte, map[string]string, error) {
	payload := map[string]interface{}{
		"model": req.Model,
	}
	headers := map[string]string{}
	var endpoint string

	switch c.backendType {
	case "claude":
		endpoint = c.baseURL + "/v1/messages"
		headers["x-api-key"] = c.apiKey
		headers["anthropic-version"] = anthropicVersion
		payload["max_tokens"] = 4096

		// The Messages API takes the system prompt as a top-level field.
		system, rest := splitSystem(req.Messages)
		if system != "" {
			payload["system"] = system
		}
		payload["messages"] = rest

	case "openai":
		endpoint = c.baseURL + "/v1/chat/completions"
		if c.apiKey != "" {
			headers["Authorization"] = "Bearer " + c.apiKey
		}
		payload["messages"] = req.Messages

	default: // ollama
		endpoint = c.baseURL + "/api/chat"
		payload["messages"] = req.Messages
		payload["stream"] = false
		if len(req.Options) > 0 {
			payload["options"] = req.Options
		}
	}

	if c.backendType != "ollama" {
		for key, value := range req.Options {
			payload[key] = value
		}
	}

	if tools, ok := req.Tools.([]map[string]interface{}); ok && len(tools) > 0 {
		payload["tools"] = tools
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", nil, nil, fmt.Errorf("encoding request: %w", err)
	}
	return endpoint, body, headers, nil
}

// splitSystem pulls system messages out of the history, joining them into a
// single prompt string and returning the remaining messages.
func splitSystem(messages []Message) (string, []Message) {
	system := ""
	rest := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg["role"] == "system" {
			if content, ok := msg["content"].(string); ok {
				if system != "" {
					system += "\n\n"
				}
				system += content
			}
			continue
		}
		rest = append(rest, msg)
	}
	return system, rest
}

// extractUsage reads per-dialect usage counters, falling back to tokenizer
// estimation when the backend reports none.
func (c *ChatClient) extractUsage(req ChatRequest, response Response, usage *Usage) {
	switch c.backendType {
	case "ollama":
		usage.InputTokens = intField(response, "prompt_eval_count")
		usage.OutputTokens = intField(response, "eval_count")
		if ns := int64Field(response, "total_duration"); ns > 0 {
			usage.TotalDurationMS = ns / int64(time.Millisecond)
		}
	case "openai":
		if u, ok := response["usage"].(map[string]interface{}); ok {
			usage.InputTokens = intField(u, "prompt_tokens")
			usage.OutputTokens = intField(u, "completion_tokens")
		}
	case "claude":
		if u, ok := response["usage"].(map[string]interface{}); ok {
			usage.InputTokens = intField(u, "input_tokens")
			usage.OutputTokens = intField(u, "output_tokens")
		}
	}

	if usage.InputTokens == 0 && usage.OutputTokens == 0 {
		usage.InputTokens = estimateMessageTokens(req.Messages)
		usage.OutputTokens = EstimateTokens(ExtractText(response))
	}
}

// EstimateTokens counts tokens with the cl100k_base tokenizer, degrading to
// a length heuristic if the encoding is unavailable.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

func estimateMessageTokens(messages []Message) int {
	total := 0
	for _, msg := range messages {
		if content, ok := msg["content"].(string); ok {
			total += EstimateTokens(content)
		}
	}
	return total
}

func intField(m map[string]interface{}, key string) int {
	if v, ok := m[key].(float64); ok {
		return int(v)
	}
	return 0
}

func int64Field(m map[string]interface{}, key string) int64 {
	if v, ok := m[key].(float64); ok {
		return int64(v)
	}
	return 0
}

func truncateForError(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
