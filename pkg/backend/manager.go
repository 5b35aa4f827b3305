// Package backend tracks the runtime state of inference endpoints: health,
// in-flight request slots, latency, and the models each endpoint serves.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/swarm/pkg/config"
	"github.com/kadirpekel/swarm/pkg/httpclient"
	"github.com/kadirpekel/swarm/pkg/model"
)

const (
	healthCheckInterval = 30 * time.Second
	healthProbeTimeout  = 10 * time.Second
)

// Health is the observed status of one endpoint.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
	HealthUnknown   Health = "unknown"
)

// State is the runtime state of one backend. Fields are guarded by the
// owning Manager's mutex.
type State struct {
	Config           config.BackendConfig
	Health           Health
	ActiveRequests   int
	TotalCompleted   int
	TotalErrors      int
	AvgLatencyMS     float64
	LastCheck        time.Time
	LastError        string
	DiscoveredModels []string
}

// AvailableSlots is the remaining request capacity.
func (s *State) AvailableSlots() int {
	slots := s.Config.MaxConcurrent - s.ActiveRequests
	if slots < 0 {
		return 0
	}
	return slots
}

// IsAvailable reports whether the backend can take new work. Unknown health
// counts as available so fresh backends get traffic before the first probe.
func (s *State) IsAvailable() bool {
	return s.Config.IsEnabled() &&
		(s.Health == HealthHealthy || s.Health == HealthUnknown) &&
		s.AvailableSlots() > 0
}

// LoadRatio is active requests over capacity, in [0, 1].
func (s *State) LoadRatio() float64 {
	if s.Config.MaxConcurrent == 0 {
		return 1.0
	}
	return float64(s.ActiveRequests) / float64(s.Config.MaxConcurrent)
}

// servesModel matches by exact name or base-name family.
func (s *State) servesModel(modelName string) bool {
	baseName := strings.SplitN(modelName, ":", 2)[0]
	for _, m := range s.Config.Models {
		if modelName == m || strings.Contains(m, baseName) {
			return true
		}
	}
	for _, m := range s.DiscoveredModels {
		if modelName == m || strings.Contains(m, baseName) {
			return true
		}
	}
	return false
}

// Status is a point-in-time snapshot of one backend for API consumers.
type Status struct {
	Name             string   `json:"name"`
	Type             string   `json:"type"`
	URL              string   `json:"url"`
	Health           Health   `json:"health"`
	Enabled          bool     `json:"enabled"`
	ConfiguredModels []string `json:"configured_models"`
	DiscoveredModels []string `json:"discovered_models"`
	MaxConcurrent    int      `json:"max_concurrent"`
	ActiveRequests   int      `json:"active_requests"`
	AvailableSlots   int      `json:"available_slots"`
	TotalCompleted   int      `json:"total_completed"`
	TotalErrors      int      `json:"total_errors"`
	AvgLatencyMS     float64  `json:"avg_latency_ms"`
	Priority         int      `json:"priority"`
	LastCheck        int64    `json:"last_check"`
	LastError        string   `json:"last_error,omitempty"`
}

// Manager owns backend state and runs the periodic health loop.
type Manager struct {
	mu       sync.Mutex
	backends map[string]*State
	order    []string

	http   *httpclient.Client
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithHTTPClient overrides the probe client, used by tests.
func WithHTTPClient(client *httpclient.Client) ManagerOption {
	return func(m *Manager) { m.http = client }
}

// NewManager builds a manager over the enabled backends.
func NewManager(backends []config.BackendConfig, opts ...ManagerOption) *Manager {
	m := &Manager{
		backends: make(map[string]*State),
		logger:   slog.Default().With("component", "backend"),
		done:     make(chan struct{}),
	}
	for _, cfg := range backends {
		if !cfg.IsEnabled() {
			continue
		}
		m.backends[cfg.Name] = &State{Config: cfg, Health: HealthUnknown}
		m.order = append(m.order, cfg.Name)
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.http == nil {
		m.http = httpclient.New(httpclient.WithMaxRetries(1))
	}
	return m
}

// Start runs an initial health pass and launches the periodic loop.
func (m *Manager) Start(ctx context.Context) {
	m.CheckAllHealth(ctx)

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.healthLoop(loopCtx)

	m.logger.Info("backend manager started", "backends", m.order)
}

// Stop halts the health loop.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	m.logger.Info("backend manager stopped")
}

func (m *Manager) healthLoop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckAllHealth(ctx)
		}
	}
}

// CheckAllHealth probes every backend concurrently.
func (m *Manager) CheckAllHealth(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range m.Names() {
		g.Go(func() error {
			m.checkBackendHealth(gctx, name)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Manager) checkBackendHealth(ctx context.Context, name string) {
	m.mu.Lock()
	state, ok := m.backends[name]
	if !ok {
		m.mu.Unlock()
		return
	}
	backendType := state.Config.Type
	url := state.Config.URL
	apiKey := state.Config.APIKey
	m.mu.Unlock()

	switch backendType {
	case config.BackendTypeOllama:
		m.checkOllamaHealth(ctx, name, url)
	case config.BackendTypeClaude:
		// No cheap probe for the hosted API; a configured key counts as
		// healthy until a request proves otherwise.
		health := HealthUnknown
		if apiKey != "" {
			health = HealthHealthy
		}
		m.mu.Lock()
		state.Health = health
		state.LastCheck = time.Now()
		m.mu.Unlock()
	}
}

func (m *Manager) checkOllamaHealth(ctx context.Context, name, url string) {
	discovered, err := m.probeTags(ctx, url)

	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.backends[name]
	if !ok {
		return
	}
	state.LastCheck = time.Now()
	if err != nil {
		state.Health = HealthUnhealthy
		state.LastError = err.Error()
		m.logger.Warn("backend unhealthy", "name", name, "error", err)
		return
	}
	state.Health = HealthHealthy
	state.DiscoveredModels = discovered
	m.logger.Info("backend healthy", "name", name, "models", len(discovered))
}

func (m *Manager) probeTags(ctx context.Context, url string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}

	names := make([]string, 0, len(payload.Models))
	for _, m := range payload.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Names lists backend names in configuration order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// GetBackend returns a snapshot of one backend's state.
func (m *Manager) GetBackend(name string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.backends[name]
	if !ok {
		return State{}, false
	}
	return *state, true
}

// ListBackends returns snapshots of all backends in configuration order.
func (m *Manager) ListBackends() []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	states := make([]State, 0, len(m.order))
	for _, name := range m.order {
		states = append(states, *m.backends[name])
	}
	return states
}

// AvailableBackends returns backends that can take new work, optionally
// filtered by type and by model served.
func (m *Manager) AvailableBackends(backendType, modelName string) []State {
	m.mu.Lock()
	defer m.mu.Unlock()

	var results []State
	for _, name := range m.order {
		state := m.backends[name]
		if !state.IsAvailable() {
			continue
		}
		if backendType != "" && state.Config.Type != backendType {
			continue
		}
		if modelName != "" && !state.servesModel(modelName) {
			continue
		}
		results = append(results, *state)
	}
	return results
}

// BestBackendForModel picks the serving backend with the highest priority,
// breaking ties by lowest load.
func (m *Manager) BestBackendForModel(modelName string) (State, bool) {
	candidates := m.AvailableBackends("", modelName)
	if len(candidates) == 0 {
		return State{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Config.Priority != candidates[j].Config.Priority {
			return candidates[i].Config.Priority > candidates[j].Config.Priority
		}
		return candidates[i].LoadRatio() < candidates[j].LoadRatio()
	})
	return candidates[0], true
}

// Acquire takes one request slot. Returns false when the backend is
// unknown, unhealthy, or full.
func (m *Manager) Acquire(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.backends[name]
	if !ok || !state.IsAvailable() {
		return false
	}
	state.ActiveRequests++
	return true
}

// Release returns a slot and records the request outcome. Latency feeds an
// exponential moving average with alpha 0.3.
func (m *Manager) Release(name string, success bool, latencyMS float64, requestErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.backends[name]
	if !ok {
		return
	}
	if state.ActiveRequests > 0 {
		state.ActiveRequests--
	}
	if success {
		state.TotalCompleted++
	} else {
		state.TotalErrors++
		if requestErr != nil {
			state.LastError = requestErr.Error()
		}
	}
	if latencyMS > 0 {
		const alpha = 0.3
		state.AvgLatencyMS = alpha*latencyMS + (1-alpha)*state.AvgLatencyMS
	}
}

// OllamaEndpoints implements model.EndpointLister over the enabled Ollama
// backends.
func (m *Manager) OllamaEndpoints() []model.Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	var endpoints []model.Endpoint
	for _, name := range m.order {
		state := m.backends[name]
		if state.Config.Type == config.BackendTypeOllama && state.Config.IsEnabled() {
			endpoints = append(endpoints, model.Endpoint{Name: name, URL: state.Config.URL})
		}
	}
	return endpoints
}

// GetStatus snapshots every backend for API consumers.
func (m *Manager) GetStatus() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	statuses := make([]Status, 0, len(m.order))
	for _, name := range m.order {
		state := m.backends[name]
		statuses = append(statuses, Status{
			Name:             state.Config.Name,
			Type:             state.Config.Type,
			URL:              state.Config.URL,
			Health:           state.Health,
			Enabled:          state.Config.IsEnabled(),
			ConfiguredModels: state.Config.Models,
			DiscoveredModels: state.DiscoveredModels,
			MaxConcurrent:    state.Config.MaxConcurrent,
			ActiveRequests:   state.ActiveRequests,
			AvailableSlots:   state.AvailableSlots(),
			TotalCompleted:   state.TotalCompleted,
			TotalErrors:      state.TotalErrors,
			AvgLatencyMS:     math.Round(state.AvgLatencyMS*10) / 10,
			Priority:         state.Config.Priority,
			LastCheck:        state.LastCheck.Unix(),
			LastError:        state.LastError,
		})
	}
	return statuses
}
