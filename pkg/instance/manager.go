package instance

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/kadirpekel/swarm/pkg/backend"
	"github.com/kadirpekel/swarm/pkg/config"
	"github.com/kadirpekel/swarm/pkg/events"
	"github.com/kadirpekel/swarm/pkg/httpclient"
	"github.com/kadirpekel/swarm/pkg/tools"
)

// ErrPoolFull is returned when spawning would exceed the instance cap.
var ErrPoolFull = errors.New("instance pool is full")

// Stats summarizes the pool.
type Stats struct {
	TotalInstances      int            `json:"total_instances"`
	MaxInstances        int            `json:"max_instances"`
	AvailableSlots      int            `json:"available_slots"`
	ByStatus            map[Status]int `json:"by_status"`
	TotalCompletedTasks int            `json:"total_completed_tasks"`
	TotalErrors         int            `json:"total_errors"`
}

// HealthReport lists instances by health.
type HealthReport struct {
	Healthy   []string `json:"healthy"`
	Unhealthy []string `json:"unhealthy"`
	Total     int      `json:"total"`
}

// Manager owns a bounded pool of instances across backends.
type Manager struct {
	mu        sync.Mutex
	instances map[string]*Instance
	order     []string

	maxInstances       int
	maxIterations      int
	defaultBackendType string
	defaultBackendName string
	defaultURL         string
	defaultModel       string
	defaultWorkingDir  string
	apiKey             string

	backends     *backend.Manager
	bus          *events.Bus
	toolRegistry *tools.ToolRegistry
	http         *httpclient.Client
	logger       *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMaxInstances caps the pool size. Default 5.
func WithMaxInstances(n int) ManagerOption {
	return func(m *Manager) { m.maxInstances = n }
}

// WithDefaultBackend sets the backend used when spawning without a model.
func WithDefaultBackend(backendType, backendName, url, modelName string) ManagerOption {
	return func(m *Manager) {
		m.defaultBackendType = backendType
		m.defaultBackendName = backendName
		m.defaultURL = url
		m.defaultModel = modelName
	}
}

// WithManagerMaxIterations caps the agent loop of every spawned instance.
func WithManagerMaxIterations(n int) ManagerOption {
	return func(m *Manager) { m.maxIterations = n }
}

// WithWorkingDir sets the default working directory for new instances.
func WithWorkingDir(dir string) ManagerOption {
	return func(m *Manager) { m.defaultWorkingDir = dir }
}

// WithBackendManager lets SpawnForModel resolve backend URLs by name.
func WithBackendManager(b *backend.Manager) ManagerOption {
	return func(m *Manager) { m.backends = b }
}

// WithManagerEventBus attaches an event bus to every spawned instance.
func WithManagerEventBus(bus *events.Bus) ManagerOption {
	return func(m *Manager) { m.bus = bus }
}

// WithManagerToolRegistry sets the tool registry for spawned instances.
func WithManagerToolRegistry(r *tools.ToolRegistry) ManagerOption {
	return func(m *Manager) { m.toolRegistry = r }
}

// WithManagerAPIKey sets the credential passed to remote-backend instances.
func WithManagerAPIKey(key string) ManagerOption {
	return func(m *Manager) { m.apiKey = key }
}

// WithManagerHTTPClient overrides the HTTP client for spawned instances,
// used by tests.
func WithManagerHTTPClient(hc *httpclient.Client) ManagerOption {
	return func(m *Manager) { m.http = hc }
}

// NewManager builds a pool manager.
func NewManager(opts ...ManagerOption) *Manager {
	cwd, _ := os.Getwd()
	m := &Manager{
		instances:          make(map[string]*Instance),
		maxInstances:       5,
		defaultBackendType: config.BackendTypeOllama,
		defaultBackendName: "local",
		defaultURL:         "http://localhost:11434",
		defaultModel:       "devstral:24b",
		defaultWorkingDir:  cwd,
		logger:             slog.Default().With("component", "instances"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Spawn starts a new instance on the default backend and model.
func (m *Manager) Spawn(ctx context.Context, workingDir string) (*Instance, error) {
	return m.SpawnForModel(ctx, m.defaultModel, workingDir, "")
}

// SpawnForModel starts a new instance bound to a specific model,
// optionally on a named backend. Returns ErrPoolFull at the cap.
func (m *Manager) SpawnForModel(ctx context.Context, modelName, workingDir, backendName string) (*Instance, error) {
	backendType := m.defaultBackendType
	url := m.defaultURL
	name := m.defaultBackendName
	if backendName != "" {
		name = backendName
		if m.backends != nil {
			if state, ok := m.backends.GetBackend(backendName); ok {
				backendType = state.Config.Type
				url = state.Config.URL
			}
		}
	}
	if workingDir == "" {
		workingDir = m.defaultWorkingDir
	}

	instOpts := []InstanceOption{
		WithAPIKey(m.apiKey),
	}
	if m.maxIterations > 0 {
		instOpts = append(instOpts, WithMaxIterations(m.maxIterations))
	}
	if m.bus != nil {
		instOpts = append(instOpts, WithEventBus(m.bus))
	}
	if m.toolRegistry != nil {
		instOpts = append(instOpts, WithToolRegistry(m.toolRegistry))
	}
	if m.http != nil {
		instOpts = append(instOpts, WithHTTPClient(m.http))
	}

	inst := New(backendType, name, url, modelName, workingDir, instOpts...)

	// Reserve a slot before the start probe so concurrent spawns cannot
	// overshoot the cap.
	m.mu.Lock()
	if len(m.instances) >= m.maxInstances {
		m.mu.Unlock()
		m.logger.Warn("max instances reached", "max", m.maxInstances)
		return nil, ErrPoolFull
	}
	m.instances[inst.ID()] = inst
	m.order = append(m.order, inst.ID())
	m.mu.Unlock()

	if err := inst.Start(ctx); err != nil {
		m.remove(inst.ID())
		return nil, err
	}

	m.mu.Lock()
	total := len(m.instances)
	m.mu.Unlock()
	m.logger.Info("instance spawned",
		"instance_id", inst.ID(), "model", modelName, "backend", name, "total", total)
	return inst, nil
}

// SpawnMultiple starts up to count instances concurrently, capped at the
// available slots. Returns the instances that started successfully.
func (m *Manager) SpawnMultiple(ctx context.Context, count int, workingDir string) []*Instance {
	m.mu.Lock()
	slots := m.maxInstances - len(m.instances)
	m.mu.Unlock()
	if count > slots {
		count = slots
	}
	if count <= 0 {
		return nil
	}

	m.logger.Info("spawning instances", "count", count)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		spawned []*Instance
	)
	for n := 0; n < count; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inst, err := m.Spawn(ctx, workingDir)
			if err != nil {
				m.logger.Error("failed to spawn instance", "error", err)
				return
			}
			mu.Lock()
			spawned = append(spawned, inst)
			mu.Unlock()
		}()
	}
	wg.Wait()

	m.logger.Info("instances spawned", "count", len(spawned))
	return spawned
}

// Get returns an instance by ID.
func (m *Manager) Get(instanceID string) (*Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[instanceID]
	return inst, ok
}

// GetIdle returns the oldest idle instance, or nil.
func (m *Manager) GetIdle() *Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		inst := m.instances[id]
		if inst != nil && inst.Status() == StatusIdle {
			return inst
		}
	}
	return nil
}

// GetOrSpawnForModel returns an idle instance already bound to the model
// (and backend, when named), spawning one otherwise.
func (m *Manager) GetOrSpawnForModel(ctx context.Context, modelName, workingDir, backendName string) (*Instance, error) {
	m.mu.Lock()
	for _, id := range m.order {
		inst := m.instances[id]
		if inst == nil || inst.Status() != StatusIdle {
			continue
		}
		if inst.Model() != modelName {
			continue
		}
		if backendName != "" && inst.BackendName() != backendName {
			continue
		}
		m.mu.Unlock()
		return inst, nil
	}
	m.mu.Unlock()

	return m.SpawnForModel(ctx, modelName, workingDir, backendName)
}

// Terminate stops and removes one instance.
func (m *Manager) Terminate(instanceID string) bool {
	m.mu.Lock()
	inst, ok := m.instances[instanceID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	inst.Stop()
	m.remove(instanceID)
	m.logger.Info("instance terminated", "instance_id", instanceID)
	return true
}

// TerminateAll stops every instance and empties the pool.
func (m *Manager) TerminateAll() int {
	m.mu.Lock()
	all := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		all = append(all, inst)
	}
	m.instances = make(map[string]*Instance)
	m.order = nil
	m.mu.Unlock()

	for _, inst := range all {
		inst.Stop()
	}
	m.logger.Info("all instances terminated", "count", len(all))
	return len(all)
}

// ScaleTo grows or shrinks the pool toward target, terminating idle
// instances first when shrinking. Returns the resulting pool size.
func (m *Manager) ScaleTo(ctx context.Context, target int) int {
	m.mu.Lock()
	current := len(m.instances)
	m.mu.Unlock()

	switch {
	case target > current:
		m.SpawnMultiple(ctx, target-current, "")
	case target < current:
		var idle []string
		m.mu.Lock()
		for _, id := range m.order {
			inst := m.instances[id]
			if inst != nil && inst.Status() == StatusIdle {
				idle = append(idle, id)
			}
		}
		m.mu.Unlock()

		toTerminate := current - target
		for _, id := range idle {
			if toTerminate == 0 {
				break
			}
			if m.Terminate(id) {
				toTerminate--
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.instances)
}

// List snapshots every instance.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	infos := make([]Info, 0, len(m.instances))
	for _, id := range m.order {
		if inst := m.instances[id]; inst != nil {
			infos = append(infos, inst.GetInfo())
		}
	}
	return infos
}

// GetStats returns pool counters.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	byStatus := make(map[Status]int)
	completed := 0
	errCount := 0
	for _, inst := range m.instances {
		info := inst.GetInfo()
		byStatus[info.Status]++
		completed += info.CompletedTasks
		errCount += info.ErrorCount
	}
	return Stats{
		TotalInstances:      len(m.instances),
		MaxInstances:        m.maxInstances,
		AvailableSlots:      m.maxInstances - len(m.instances),
		ByStatus:            byStatus,
		TotalCompletedTasks: completed,
		TotalErrors:         errCount,
	}
}

// HealthCheck splits instances into healthy and errored.
func (m *Manager) HealthCheck() HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := HealthReport{Total: len(m.instances)}
	for _, id := range m.order {
		inst := m.instances[id]
		if inst == nil {
			continue
		}
		if inst.Status() == StatusError {
			report.Unhealthy = append(report.Unhealthy, id)
		} else {
			report.Healthy = append(report.Healthy, id)
		}
	}
	return report
}

func (m *Manager) remove(instanceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instances, instanceID)
	for idx, id := range m.order {
		if id == instanceID {
			m.order = append(m.order[:idx], m.order[idx+1:]...)
			break
		}
	}
}
