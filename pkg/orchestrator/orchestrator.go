// Package orchestrator wires the queue, analyzer, router, backends, and
// instance pool together and runs the workers that drain the queue.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/swarm/pkg/analyzer"
	"github.com/kadirpekel/swarm/pkg/backend"
	"github.com/kadirpekel/swarm/pkg/config"
	"github.com/kadirpekel/swarm/pkg/events"
	"github.com/kadirpekel/swarm/pkg/httpclient"
	"github.com/kadirpekel/swarm/pkg/instance"
	"github.com/kadirpekel/swarm/pkg/model"
	"github.com/kadirpekel/swarm/pkg/observability"
	"github.com/kadirpekel/swarm/pkg/router"
	"github.com/kadirpekel/swarm/pkg/task"
)

const (
	idlePollInterval = 500 * time.Millisecond
	requeueBackoff   = time.Second
	workerErrorPause = time.Second
)

// SubmitRequest describes one task to submit.
type SubmitRequest struct {
	Prompt           string
	Name             string
	WorkingDirectory string
	Priority         task.Priority
	TimeoutSecs      int
	InstanceID       string
	PreferredModel   string
	DependsOn        []string
	Metadata         map[string]interface{}
	Callback         func(map[string]interface{})
}

// Status is the aggregate swarm state.
type Status struct {
	Running   bool             `json:"running"`
	Workers   int              `json:"workers"`
	Instances instance.Stats   `json:"instances"`
	Tasks     task.QueueStats  `json:"tasks"`
	Backends  []backend.Status `json:"backends"`
}

// WorkflowResult reports what a workflow submission created.
type WorkflowResult struct {
	WorkflowName string            `json:"workflow_name"`
	TaskIDs      []string          `json:"task_ids"`
	TaskMapping  map[string]string `json:"task_mapping"`
}

// workflowFile is the YAML shape accepted by ExecuteWorkflow.
type workflowFile struct {
	Name      string `yaml:"name"`
	Instances int    `yaml:"instances"`
	Tasks     []struct {
		Name      string   `yaml:"name"`
		Command   string   `yaml:"command"`
		Prompt    string   `yaml:"prompt"`
		Directory string   `yaml:"directory"`
		Instance  string   `yaml:"instance"`
		DependsOn []string `yaml:"depends_on"`
	} `yaml:"tasks"`
}

// Orchestrator coordinates instances, backends, and tasks.
type Orchestrator struct {
	cfg *config.Config

	backends  *backend.Manager
	registry  *model.LiveRegistry
	instances *instance.Manager
	queue     *task.Queue
	analyzer  *analyzer.TaskAnalyzer
	router    *router.SwarmRouter
	bus       *events.Bus

	mu        sync.Mutex
	running   bool
	workers   int
	cancel    context.CancelFunc
	workerCtx context.Context
	wg        sync.WaitGroup

	logger *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*options)

type options struct {
	http   *httpclient.Client
	bus    *events.Bus
	apiKey string
}

// WithHTTPClient overrides the HTTP client used by backends, the model
// registry, and spawned instances. Used by tests.
func WithHTTPClient(hc *httpclient.Client) Option {
	return func(o *options) { o.http = hc }
}

// WithEventBus shares an existing event bus instead of creating one.
func WithEventBus(bus *events.Bus) Option {
	return func(o *options) { o.bus = bus }
}

// WithAPIKey sets the credential passed to remote-backend instances.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// New assembles an orchestrator from configuration.
func New(cfg *config.Config, opts ...Option) *Orchestrator {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.bus == nil {
		o.bus = events.NewBus()
	}

	backendCfgs := make([]config.BackendConfig, 0, len(cfg.Swarm.Backends))
	for _, bc := range cfg.Swarm.Backends {
		backendCfgs = append(backendCfgs, *bc)
	}

	var backendOpts []backend.ManagerOption
	if o.http != nil {
		backendOpts = append(backendOpts, backend.WithHTTPClient(o.http))
	}
	backends := backend.NewManager(backendCfgs, backendOpts...)

	registryOpts := []model.RegistryOption{model.WithEndpointLister(backends)}
	if o.http != nil {
		registryOpts = append(registryOpts, model.WithHTTPClient(o.http))
	}
	registry := model.NewLiveRegistry(cfg.Swarm.OllamaURL, registryOpts...)

	defaultBackendName := "local"
	defaultURL := cfg.Swarm.OllamaURL
	if enabled := cfg.Swarm.EnabledBackends(); len(enabled) > 0 {
		defaultBackendName = enabled[0].Name
		if enabled[0].URL != "" {
			defaultURL = enabled[0].URL
		}
	}

	instanceOpts := []instance.ManagerOption{
		instance.WithMaxInstances(cfg.Swarm.MaxInstances),
		instance.WithManagerMaxIterations(cfg.Swarm.MaxIterations),
		instance.WithDefaultBackend(cfg.Swarm.Backend, defaultBackendName, defaultURL, cfg.Swarm.OllamaModel),
		instance.WithWorkingDir(cfg.Swarm.WorkspaceRoot),
		instance.WithBackendManager(backends),
		instance.WithManagerEventBus(o.bus),
	}
	if o.http != nil {
		instanceOpts = append(instanceOpts, instance.WithManagerHTTPClient(o.http))
	}
	if o.apiKey != "" {
		instanceOpts = append(instanceOpts, instance.WithManagerAPIKey(o.apiKey))
	}

	return &Orchestrator{
		cfg:       cfg,
		backends:  backends,
		registry:  registry,
		instances: instance.NewManager(instanceOpts...),
		queue:     task.NewQueue(),
		analyzer:  analyzer.NewTaskAnalyzer(),
		router:    router.NewSwarmRouter(registry, backends),
		bus:       o.bus,
		logger:    slog.Default().With("component", "orchestrator"),
	}
}

// Queue exposes the task queue.
func (o *Orchestrator) Queue() *task.Queue { return o.queue }

// Backends exposes the backend manager.
func (o *Orchestrator) Backends() *backend.Manager { return o.backends }

// Registry exposes the live model registry.
func (o *Orchestrator) Registry() *model.LiveRegistry { return o.registry }

// Instances exposes the instance pool.
func (o *Orchestrator) Instances() *instance.Manager { return o.instances }

// Router exposes the swarm router.
func (o *Orchestrator) Router() *router.SwarmRouter { return o.router }

// Bus exposes the event bus.
func (o *Orchestrator) Bus() *events.Bus { return o.bus }

// Start launches backend health checks, spawns initial instances, and
// starts the worker loops.
func (o *Orchestrator) Start(ctx context.Context, initialInstances int) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		o.logger.Warn("orchestrator already running")
		return
	}
	o.running = true
	o.workerCtx, o.cancel = context.WithCancel(context.Background())
	o.mu.Unlock()

	o.logger.Info("starting orchestrator", "initial_instances", initialInstances)

	o.backends.Start(ctx)
	o.instances.SpawnMultiple(ctx, initialInstances, "")

	workerCount := initialInstances
	if workerCount > o.cfg.Swarm.MaxInstances {
		workerCount = o.cfg.Swarm.MaxInstances
	}
	if workerCount < 1 {
		workerCount = 1
	}
	o.EnsureWorkers(workerCount)

	o.logger.Info("orchestrator started",
		"workers", workerCount, "backends", len(o.cfg.Swarm.Backends))
}

// Stop halts workers, terminates instances, and stops health monitoring.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	cancel := o.cancel
	o.mu.Unlock()

	o.logger.Info("stopping orchestrator")
	if cancel != nil {
		cancel()
	}
	o.wg.Wait()

	o.mu.Lock()
	o.workers = 0
	o.mu.Unlock()

	o.instances.TerminateAll()
	o.backends.Stop()
	o.logger.Info("orchestrator stopped")
}

// EnsureWorkers grows the worker pool to at least count. Returns the
// resulting worker count.
func (o *Orchestrator) EnsureWorkers(count int) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running || count <= o.workers {
		return o.workers
	}
	previous := o.workers
	for n := o.workers; n < count; n++ {
		workerID := fmt.Sprintf("worker-%d", n)
		o.wg.Add(1)
		go o.workerLoop(o.workerCtx, workerID)
	}
	o.workers = count
	if previous > 0 {
		o.logger.Info("workers scaled", "previous", previous, "current", count)
	}
	return o.workers
}

// Workers reports the running worker count.
func (o *Orchestrator) Workers() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.workers
}

func (o *Orchestrator) workerLoop(ctx context.Context, workerID string) {
	defer o.wg.Done()
	o.logger.Info("worker started", "worker_id", workerID)

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("worker stopped", "worker_id", workerID)
			return
		default:
		}

		t := o.queue.Next()
		if t == nil {
			select {
			case <-ctx.Done():
				o.logger.Info("worker stopped", "worker_id", workerID)
				return
			case <-time.After(idlePollInterval):
			}
			continue
		}

		if err := o.processTask(ctx, workerID, t); err != nil {
			o.logger.Error("worker error", "worker_id", workerID, "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(workerErrorPause):
			}
		}
	}
}

// processTask runs one task end to end: analyze, route, pick an instance,
// acquire a backend slot, execute, and feed the outcome back.
func (o *Orchestrator) processTask(ctx context.Context, workerID string, t *task.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.ID, r)
			o.queue.Fail(t.ID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	o.logger.Info("worker processing task", "worker_id", workerID, "task_id", t.ID)

	var (
		analysis  analyzer.Analysis
		decision  router.Decision
		useRouted bool
	)
	useRouting := config.BoolValue(o.cfg.Swarm.Models.AutoSelect, true) &&
		o.cfg.Swarm.Backend == config.BackendTypeOllama &&
		t.InstanceID == ""

	if useRouting {
		analysis = o.analyzer.Analyze(t.Prompt, nil)

		preferred := append([]string(nil), o.cfg.Swarm.Models.Preferred...)
		if t.PreferredModel != "" && !containsString(preferred, t.PreferredModel) {
			preferred = append([]string{t.PreferredModel}, preferred...)
		}
		preferSpeed, _ := t.Metadata["prefer_speed"].(bool)

		decision = o.router.Route(ctx, router.Request{
			Analysis:        analysis,
			PreferSpeed:     preferSpeed,
			PreferredModels: preferred,
			FallbackModel:   o.cfg.Swarm.Models.Fallback,
		})
		useRouted = decision.Model != ""
		if useRouted {
			o.logger.Info("task routed", "task_id", t.ID,
				"model", decision.Model, "backend", decision.BackendName,
				"score", decision.Score, "reason", decision.Reason)
		}
	}

	// Pick an instance: pinned, routed, or any idle one.
	var inst *instance.Instance
	if t.InstanceID != "" {
		inst, _ = o.instances.Get(t.InstanceID)
	} else if useRouted {
		routed, spawnErr := o.instances.GetOrSpawnForModel(ctx, decision.Model, t.WorkingDirectory, decision.BackendName)
		if spawnErr != nil {
			o.logger.Warn("routed spawn failed, falling back to idle instance",
				"task_id", t.ID, "model", decision.Model, "error", spawnErr)
		}
		inst = routed
	}
	if inst == nil {
		inst = o.instances.GetIdle()
	}
	if inst == nil {
		o.requeue(ctx, t)
		return nil
	}

	backendName := inst.BackendName()
	if backendName == "" {
		backendName = decision.BackendName
	}
	if backendName != "" && !o.backends.Acquire(backendName) {
		o.requeue(ctx, t)
		return nil
	}

	meta := make(map[string]interface{}, len(t.Metadata)+6)
	for key, value := range t.Metadata {
		meta[key] = value
	}
	meta["task_id"] = t.ID
	if useRouting {
		meta["task_type"] = string(analysis.TaskType)
		meta["complexity"] = string(analysis.Complexity)
	}
	if useRouted {
		meta["routed_model"] = decision.Model
		meta["routing_score"] = decision.Score
		meta["routed_backend"] = decision.BackendName
	}

	taskType := "general"
	if useRouting {
		taskType = string(analysis.TaskType)
	}

	tracer := observability.GetTracer("swarm.orchestrator")
	execCtx, span := tracer.Start(ctx, observability.SpanTaskExecution,
		trace.WithAttributes(
			attribute.String(observability.AttrTaskID, t.ID),
			attribute.String(observability.AttrTaskType, taskType),
		))

	start := time.Now()
	result, execErr := inst.Execute(execCtx, instance.Command{
		Prompt:           t.Prompt,
		WorkingDirectory: t.WorkingDirectory,
		TimeoutSecs:      t.Timeout,
		Metadata:         meta,
	})
	duration := time.Since(start)
	durationMS := float64(duration.Microseconds()) / 1000

	success := false
	var taskErr error
	switch {
	case execErr != nil:
		taskErr = execErr
		o.logger.Error("task execution failed", "task_id", t.ID, "error", execErr)
		o.queue.Fail(t.ID, execErr.Error())
		if backendName != "" {
			o.backends.Release(backendName, false, durationMS, execErr)
		}
	case result["status"] == "error":
		errMsg, _ := result["error"].(string)
		if errMsg == "" {
			errMsg = "unknown backend error"
		}
		taskErr = fmt.Errorf("%s", errMsg)
		o.logger.Warn("task backend error", "task_id", t.ID, "error", errMsg)
		o.queue.Fail(t.ID, errMsg)
		if backendName != "" {
			o.backends.Release(backendName, false, durationMS, taskErr)
		}
	default:
		success = true
		o.queue.Complete(t.ID, result)
		if backendName != "" {
			o.backends.Release(backendName, true, durationMS, nil)
		}
	}

	if taskErr != nil {
		span.RecordError(taskErr)
		span.SetStatus(codes.Error, "task failed")
	} else {
		span.SetStatus(codes.Ok, "success")
	}
	span.End()

	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		metrics.RecordTaskExecution(ctx, taskType, duration, taskErr)
	}

	if useRouted && useRouting {
		o.router.RecordOutcome(decision.Model, string(analysis.TaskType), success, durationMS, backendName)
	}
	return nil
}

func (o *Orchestrator) requeue(ctx context.Context, t *task.Task) {
	o.queue.Requeue(t.ID)
	select {
	case <-ctx.Done():
	case <-time.After(requeueBackoff):
	}
}

// SubmitTask queues one task and returns its ID.
func (o *Orchestrator) SubmitTask(req SubmitRequest) string {
	name := req.Name
	if name == "" {
		name = req.Prompt
		if len(name) > 50 {
			name = name[:50]
		}
	}

	t := task.NewTask(name, req.Prompt)
	t.WorkingDirectory = req.WorkingDirectory
	if req.Priority != 0 {
		t.Priority = req.Priority
	}
	t.Timeout = req.TimeoutSecs
	if t.Timeout <= 0 {
		t.Timeout = o.cfg.Swarm.DefaultTimeout
	}
	t.InstanceID = req.InstanceID
	t.PreferredModel = req.PreferredModel
	t.DependsOn = req.DependsOn
	if req.Metadata != nil {
		t.Metadata = req.Metadata
	}
	t.Callback = req.Callback

	taskID := o.queue.Add(t)
	o.logger.Info("task submitted", "task_id", taskID, "name", t.Name)
	return taskID
}

// SubmitBatch queues one task per prompt.
func (o *Orchestrator) SubmitBatch(prompts []string, workingDir string, priority task.Priority) []string {
	taskIDs := make([]string, 0, len(prompts))
	for _, prompt := range prompts {
		taskIDs = append(taskIDs, o.SubmitTask(SubmitRequest{
			Prompt:           prompt,
			WorkingDirectory: workingDir,
			Priority:         priority,
		}))
	}
	o.logger.Info("batch submitted", "count", len(taskIDs))
	return taskIDs
}

// ExecuteWorkflow submits the tasks of a YAML workflow file, wiring
// depends_on names to task IDs.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, path string) (WorkflowResult, error) {
	o.logger.Info("executing workflow", "path", path)

	raw, err := os.ReadFile(path)
	if err != nil {
		return WorkflowResult{}, fmt.Errorf("reading workflow: %w", err)
	}
	var wf workflowFile
	if err := yaml.Unmarshal(raw, &wf); err != nil {
		return WorkflowResult{}, fmt.Errorf("parsing workflow: %w", err)
	}
	if wf.Name == "" {
		wf.Name = "unnamed"
	}
	if wf.Instances > 0 {
		o.instances.ScaleTo(ctx, wf.Instances)
	}

	mapping := make(map[string]string, len(wf.Tasks))
	taskIDs := make([]string, 0, len(wf.Tasks))
	for _, def := range wf.Tasks {
		prompt := def.Command
		if prompt == "" {
			prompt = def.Prompt
		}

		var dependsOn []string
		for _, depName := range def.DependsOn {
			if id, ok := mapping[depName]; ok {
				dependsOn = append(dependsOn, id)
			}
		}

		taskID := o.SubmitTask(SubmitRequest{
			Name:             def.Name,
			Prompt:           prompt,
			WorkingDirectory: def.Directory,
			InstanceID:       def.Instance,
			DependsOn:        dependsOn,
			Metadata:         map[string]interface{}{"workflow": wf.Name},
		})
		mapping[def.Name] = taskID
		taskIDs = append(taskIDs, taskID)
	}

	o.logger.Info("workflow submitted", "name", wf.Name, "tasks", len(mapping))
	return WorkflowResult{
		WorkflowName: wf.Name,
		TaskIDs:      taskIDs,
		TaskMapping:  mapping,
	}, nil
}

// GetStatus reports the aggregate swarm state.
func (o *Orchestrator) GetStatus() Status {
	o.mu.Lock()
	running := o.running
	workers := o.workers
	o.mu.Unlock()

	return Status{
		Running:   running,
		Workers:   workers,
		Instances: o.instances.GetStats(),
		Tasks:     o.queue.Stats(),
		Backends:  o.backends.GetStatus(),
	}
}

// ScaleInstances resizes the instance pool. Returns the resulting size.
func (o *Orchestrator) ScaleInstances(ctx context.Context, target int) int {
	current := o.instances.GetStats().TotalInstances
	result := o.instances.ScaleTo(ctx, target)
	o.logger.Info("scaled instances", "from", current, "to", result, "target", target)
	return result
}

// CancelTask cancels a pending or queued task.
func (o *Orchestrator) CancelTask(taskID string) bool {
	return o.queue.Cancel(taskID)
}

// GetTaskStatus returns a task snapshot including its result.
func (o *Orchestrator) GetTaskStatus(taskID string) (task.Info, bool) {
	return o.queue.GetInfo(taskID, true)
}

// ListTasks snapshots tasks, optionally filtered by status.
func (o *Orchestrator) ListTasks(status task.Status, limit int) []task.Info {
	return o.queue.List(status, limit)
}

// ListInstances snapshots the instance pool.
func (o *Orchestrator) ListInstances() []instance.Info {
	return o.instances.List()
}

// GetInstanceOutput returns recent output lines from one instance.
func (o *Orchestrator) GetInstanceOutput(instanceID string, lines int) ([]string, bool) {
	inst, ok := o.instances.Get(instanceID)
	if !ok {
		return nil, false
	}
	return inst.RecentOutput(lines), true
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
