// Package instance manages worker instances: each one binds a model on a
// backend and executes prompts through the agent loop.
package instance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/swarm/pkg/agent"
	"github.com/kadirpekel/swarm/pkg/config"
	"github.com/kadirpekel/swarm/pkg/events"
	"github.com/kadirpekel/swarm/pkg/httpclient"
	"github.com/kadirpekel/swarm/pkg/llms"
	"github.com/kadirpekel/swarm/pkg/model"
	"github.com/kadirpekel/swarm/pkg/tools"
)

// Status of one instance.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusBusy     Status = "busy"
	StatusStarting Status = "starting"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

const (
	startProbeTimeout    = 10 * time.Second
	defaultTimeoutSecs   = 300
	defaultMaxIterations = 10

	// Output buffer bounds: trim to the newest 2000 lines once it passes
	// 5000.
	outputBufferMax  = 5000
	outputBufferKeep = 2000

	// Prompt enrichment limits.
	maxEnrichedFiles = 3
	maxEnrichedLines = 500
)

// Sampling options sent to Ollama on every call. Low temperature keeps the
// tool-calling loop deterministic; num_ctx must hold the pruned history.
var ollamaChatOptions = map[string]interface{}{
	"temperature": 0.1,
	"num_predict": 4096,
	"num_ctx":     16384,
}

// filePathPattern finds file-path-looking tokens in a prompt so their
// contents can be inlined for models without filesystem access.
var filePathPattern = regexp.MustCompile(
	`(?i)(?:^|\s)((?:[\w./\\-]+/)?[\w.-]+\.(?:go|py|js|ts|yaml|yml|json|toml|cfg|md|txt|html|css|sql|sh|bat))\b`)

// Command is one unit of work for an instance.
type Command struct {
	Prompt           string
	WorkingDirectory string
	TimeoutSecs      int
	Metadata         map[string]interface{}
}

// Info is a point-in-time snapshot of an instance.
type Info struct {
	ID               string    `json:"id"`
	Status           Status    `json:"status"`
	Backend          string    `json:"backend"`
	BackendName      string    `json:"backend_name"`
	Model            string    `json:"model"`
	WorkingDirectory string    `json:"working_directory"`
	CreatedAt        time.Time `json:"created_at"`
	LastActivity     time.Time `json:"last_activity"`
	CurrentTask      string    `json:"current_task,omitempty"`
	CompletedTasks   int       `json:"completed_tasks"`
	ErrorCount       int       `json:"error_count"`
}

// Instance is one worker bound to a model on a backend.
type Instance struct {
	mu sync.Mutex

	id          string
	backendType string
	backendName string
	baseURL     string
	model       string
	workingDir  string
	apiKey      string

	status         Status
	createdAt      time.Time
	lastActivity   time.Time
	currentTask    string
	outputBuffer   []string
	errorCount     int
	completedTasks int

	maxIterations int

	toolRegistry *tools.ToolRegistry
	bus          *events.Bus
	client       *llms.ChatClient
	http         *httpclient.Client
	logger       *slog.Logger
}

// InstanceOption configures an Instance.
type InstanceOption func(*Instance)

// WithToolRegistry overrides the builtin tool set.
func WithToolRegistry(r *tools.ToolRegistry) InstanceOption {
	return func(i *Instance) { i.toolRegistry = r }
}

// WithEventBus attaches a bus for token, tool_call, and task_done events.
func WithEventBus(bus *events.Bus) InstanceOption {
	return func(i *Instance) { i.bus = bus }
}

// WithAPIKey sets the credential for remote backends.
func WithAPIKey(key string) InstanceOption {
	return func(i *Instance) { i.apiKey = key }
}

// WithHTTPClient overrides the HTTP client used for probes and chat calls,
// used by tests.
func WithHTTPClient(hc *httpclient.Client) InstanceOption {
	return func(i *Instance) { i.http = hc }
}

// WithMaxIterations caps the agent loop per task. Default 10.
func WithMaxIterations(n int) InstanceOption {
	return func(i *Instance) {
		if n > 0 {
			i.maxIterations = n
		}
	}
}

// New builds an instance bound to one backend and model. Call Start before
// Execute.
func New(backendType, backendName, baseURL, modelName, workingDir string, opts ...InstanceOption) *Instance {
	now := time.Now()
	inst := &Instance{
		id:            uuid.NewString(),
		backendType:   backendType,
		backendName:   backendName,
		baseURL:       baseURL,
		model:         modelName,
		workingDir:    workingDir,
		status:        StatusIdle,
		createdAt:     now,
		lastActivity:  now,
		maxIterations: defaultMaxIterations,
	}
	for _, opt := range opts {
		opt(inst)
	}
	if inst.toolRegistry == nil {
		inst.toolRegistry = tools.NewBuiltinRegistry()
	}
	if inst.http == nil {
		inst.http = httpclient.New(httpclient.WithMaxRetries(2))
	}
	inst.client = llms.NewChatClient(backendType, baseURL,
		llms.WithAPIKey(inst.apiKey),
		llms.WithHTTPClient(inst.http),
	)
	inst.logger = slog.Default().With("component", "instance", "instance_id", inst.id)
	return inst
}

// ID returns the instance identifier.
func (i *Instance) ID() string { return i.id }

// Model returns the bound model name.
func (i *Instance) Model() string { return i.model }

// BackendName returns the backend this instance runs against.
func (i *Instance) BackendName() string { return i.backendName }

// BackendType returns the backend dialect.
func (i *Instance) BackendType() string { return i.backendType }

// Status returns the current status.
func (i *Instance) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

// Start validates that the backend is reachable and serves the bound model.
func (i *Instance) Start(ctx context.Context) error {
	i.setStatus(StatusStarting)
	i.logger.Info("starting instance", "backend", i.backendName, "model", i.model)

	var err error
	switch i.backendType {
	case config.BackendTypeOllama:
		err = i.verifyOllamaModel(ctx)
	case config.BackendTypeClaude:
		if i.apiKey == "" {
			err = errors.New("claude backend requires an API key")
		}
	default:
		// OpenAI-compatible servers have no uniform discovery endpoint;
		// the first chat call surfaces misconfiguration.
	}

	if err != nil {
		i.setStatus(StatusError)
		i.logger.Error("failed to start instance", "error", err)
		return err
	}
	i.setStatus(StatusIdle)
	i.logger.Info("instance started", "backend", i.backendName, "model", i.model)
	return nil
}

// verifyOllamaModel checks /api/tags for the bound model, accepting an
// exact match, the ":latest" form, or any tag sharing the base name.
func (i *Instance) verifyOllamaModel(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, startProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := i.http.Do(req)
	if err != nil {
		return fmt.Errorf("ollama not accessible at %s: %w", i.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &tags); err != nil {
		return fmt.Errorf("decoding tags: %w", err)
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	if !modelAvailable(names, i.model) {
		return fmt.Errorf("model %s not found on backend %s (available: %s)",
			i.model, i.backendName, strings.Join(names, ", "))
	}
	return nil
}

func modelAvailable(names []string, want string) bool {
	base := strings.SplitN(want, ":", 2)[0]
	for _, name := range names {
		if name == want || name == want+":latest" {
			return true
		}
		if strings.HasPrefix(name, base) {
			return true
		}
	}
	return false
}

// Execute runs one command through the agent loop. The returned map always
// carries a "status" of "completed" or "error"; err is only non-nil when
// the instance cannot accept work at all.
func (i *Instance) Execute(ctx context.Context, cmd Command) (map[string]interface{}, error) {
	i.mu.Lock()
	if i.status != StatusIdle && i.status != StatusBusy {
		status := i.status
		i.mu.Unlock()
		return nil, fmt.Errorf("instance %s is not available (status: %s)", i.id, status)
	}
	i.status = StatusBusy
	i.currentTask = truncate(cmd.Prompt, 100)
	i.lastActivity = time.Now()
	i.mu.Unlock()

	timeoutSecs := cmd.TimeoutSecs
	if timeoutSecs <= 0 {
		timeoutSecs = defaultTimeoutSecs
	}
	cwd := cmd.WorkingDirectory
	if cwd == "" {
		cwd = i.workingDir
	}
	taskID, _ := cmd.Metadata["task_id"].(string)

	i.logger.Info("executing command",
		"model", i.model, "backend", i.backendName, "prompt", truncate(cmd.Prompt, 100))

	formatter := i.pickFormatter()
	fullPrompt := i.enrichPromptWithFiles(cmd.Prompt, cwd)

	var (
		usage        llms.Usage
		toolCallsLog []map[string]interface{}
	)

	send := func(ctx context.Context, messages []llms.Message, toolPayload interface{}) (llms.Response, error) {
		pruned := agent.PruneContext(messages, agent.DefaultKeepRecent, agent.DefaultMaxResultChars)

		req := llms.ChatRequest{
			Model:       i.model,
			Messages:    pruned,
			Tools:       toolPayload,
			TimeoutSecs: timeoutSecs,
		}
		if i.backendType == config.BackendTypeOllama {
			req.Options = ollamaChatOptions
		}

		response, u, err := i.client.Send(ctx, req)
		if err != nil {
			return nil, err
		}
		usage = u

		if text := llms.ExtractText(response); text != "" {
			i.publish(events.Event{
				"type":        events.TypeToken,
				"instance_id": i.id,
				"task_id":     taskID,
				"token":       text,
				"partial":     text,
			})
		}
		return response, nil
	}

	loop := agent.NewLoop(i.toolRegistry, formatter, send,
		agent.WithMaxIterations(i.maxIterations),
		agent.WithSystemPrompt(buildSystemPrompt(cwd)),
		agent.WithToolCallObserver(func(event agent.ToolCallEvent) {
			entry := map[string]interface{}{
				"tool":        event.ToolName,
				"args":        event.Arguments,
				"success":     event.Result.Success,
				"duration_ms": round1(event.DurationMS),
			}
			toolCallsLog = append(toolCallsLog, entry)

			busEvent := events.Event{
				"type":        events.TypeToolCall,
				"instance_id": i.id,
				"task_id":     taskID,
			}
			for key, value := range entry {
				busEvent[key] = value
			}
			i.publish(busEvent)
		}),
	)

	result, err := loop.Run(ctx, fullPrompt)
	if err != nil {
		return i.finishWithError(cmd, err, timeoutSecs), nil
	}

	i.mu.Lock()
	if result.Response != "" {
		i.outputBuffer = append(i.outputBuffer, strings.Split(result.Response, "\n")...)
		if len(i.outputBuffer) > outputBufferMax {
			i.outputBuffer = i.outputBuffer[len(i.outputBuffer)-outputBufferKeep:]
		}
	}
	i.status = StatusIdle
	i.currentTask = ""
	i.completedTasks++
	i.lastActivity = time.Now()
	i.mu.Unlock()

	i.logger.Info("command completed",
		"output_len", len(result.Response),
		"tool_calls", len(result.ToolCalls),
		"iterations", result.Iterations,
		"backend", i.backendName)

	i.publish(events.Event{
		"type":        events.TypeTaskDone,
		"task_id":     taskID,
		"instance_id": i.id,
		"status":      "completed",
	})

	return map[string]interface{}{
		"instance_id":  i.id,
		"prompt":       cmd.Prompt,
		"output":       result.Response,
		"status":       "completed",
		"backend":      i.backendType,
		"backend_name": i.backendName,
		"model":        i.model,
		"usage":        usage,
		"tool_calls":   toolCallsLog,
		"iterations":   result.Iterations,
		"metadata":     cmd.Metadata,
	}, nil
}

func (i *Instance) finishWithError(cmd Command, err error, timeoutSecs int) map[string]interface{} {
	i.mu.Lock()
	i.status = StatusIdle
	i.currentTask = ""
	i.errorCount++
	i.mu.Unlock()

	errMsg := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		errMsg = fmt.Sprintf("Timed out after %ds", timeoutSecs)
		i.logger.Warn("command timed out", "timeout_secs", timeoutSecs)
	} else {
		i.logger.Error("command failed", "error", errMsg)
	}

	return map[string]interface{}{
		"instance_id": i.id,
		"prompt":      cmd.Prompt,
		"output":      "",
		"status":      "error",
		"error":       errMsg,
		"metadata":    cmd.Metadata,
	}
}

// pickFormatter chooses the tool dialect: Ollama models that cannot handle
// native tool calling fall back to prompt injection.
func (i *Instance) pickFormatter() llms.ToolFormatter {
	if i.backendType == config.BackendTypeOllama && !model.NameSuggestsToolSupport(i.model) {
		return &llms.GenericFormatter{}
	}
	return llms.FormatterFor(i.backendType)
}

// Stop marks the instance stopped. A busy instance finishes its in-flight
// command first; new commands are rejected.
func (i *Instance) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.status = StatusStopped
	i.logger.Info("instance stopped")
}

// GetInfo snapshots the instance.
func (i *Instance) GetInfo() Info {
	i.mu.Lock()
	defer i.mu.Unlock()
	return Info{
		ID:               i.id,
		Status:           i.status,
		Backend:          i.backendType,
		BackendName:      i.backendName,
		Model:            i.model,
		WorkingDirectory: i.workingDir,
		CreatedAt:        i.createdAt,
		LastActivity:     i.lastActivity,
		CurrentTask:      i.currentTask,
		CompletedTasks:   i.completedTasks,
		ErrorCount:       i.errorCount,
	}
}

// RecentOutput returns up to n lines of the newest buffered output.
func (i *Instance) RecentOutput(n int) []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.outputBuffer) == 0 {
		return nil
	}
	if n <= 0 || n > len(i.outputBuffer) {
		n = len(i.outputBuffer)
	}
	out := make([]string, n)
	copy(out, i.outputBuffer[len(i.outputBuffer)-n:])
	return out
}

func (i *Instance) setStatus(s Status) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.status = s
}

func (i *Instance) publish(event events.Event) {
	if i.bus != nil {
		i.bus.Publish(event)
	}
}

// buildSystemPrompt instructs the model to investigate with tools rather
// than guess.
func buildSystemPrompt(cwd string) string {
	return "You are an expert software engineer with access to tools for reading files, " +
		"searching code, listing directories, and running commands.\n\n" +
		"IMPORTANT RULES:\n" +
		"1. ALWAYS use your tools to investigate before answering. Never guess at file " +
		"contents or code structure — use read_file, list_directory, and search_files.\n" +
		"2. Start by using list_directory to understand the project structure.\n" +
		"3. Use read_file to examine specific files. Use search_files to find patterns.\n" +
		"4. Be specific: cite file paths, line numbers, and quote code directly.\n" +
		"5. Be thorough but concise in your final answer.\n\n" +
		"Working directory: " + cwd + "\n" +
		"You MUST use tools to explore the codebase. Do NOT ask the user to provide " +
		"code — read it yourself with the tools available to you."
}

// enrichPromptWithFiles inlines the contents of file paths mentioned in the
// prompt, up to 3 files of 500 lines each, so small-context models see the
// code without an extra tool round-trip.
func (i *Instance) enrichPromptWithFiles(prompt, cwd string) string {
	matches := filePathPattern.FindAllStringSubmatch(prompt, -1)
	if len(matches) == 0 {
		return prompt
	}

	var extra strings.Builder
	seen := make(map[string]bool)
	filesAdded := 0

	for _, match := range matches {
		if filesAdded >= maxEnrichedFiles {
			break
		}
		relPath := strings.TrimSpace(match[1])
		if relPath == "" || seen[relPath] {
			continue
		}
		seen[relPath] = true

		fullPath := filepath.Join(cwd, relPath)
		if _, err := os.Stat(fullPath); err != nil {
			candidate := filepath.Join(cwd, "src", relPath)
			if _, err := os.Stat(candidate); err != nil {
				continue
			}
			fullPath = candidate
		}
		stat, err := os.Stat(fullPath)
		if err != nil || stat.IsDir() {
			continue
		}

		raw, err := os.ReadFile(fullPath)
		if err != nil {
			i.logger.Warn("failed to read file for enrichment", "file", relPath, "error", err)
			continue
		}
		lines := strings.Split(string(raw), "\n")
		text := string(raw)
		if len(lines) > maxEnrichedLines {
			lines = lines[:maxEnrichedLines]
			text = strings.Join(lines, "\n") + "\n\n... (truncated at 500 lines)"
		}

		fmt.Fprintf(&extra, "\n\n--- FILE: %s (%d lines) ---\n```\n%s\n```", relPath, len(lines), text)
		filesAdded++
		i.logger.Info("enriched prompt with file", "file", relPath, "lines", len(lines))
	}

	if extra.Len() == 0 {
		return prompt
	}
	return prompt + "\n\nHere are the file contents for your review:" + extra.String()
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
