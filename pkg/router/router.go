// Package router picks the best (backend, model) pair for a task using the
// task analysis, model capability profiles, backend availability, and a
// sliding window of past outcomes.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/swarm/pkg/analyzer"
	"github.com/kadirpekel/swarm/pkg/backend"
	"github.com/kadirpekel/swarm/pkg/model"
)

// Scoring weights sum to 1; each axis is normalized to 0-100 before
// weighting.
const (
	capabilityWeight = 0.40
	qualityWeight    = 0.25
	speedWeight      = 0.20
	contextWeight    = 0.15

	// outcomeWindow bounds the per-(model, task type) history.
	outcomeWindow = 100
)

// Decision is the result of routing one task.
type Decision struct {
	Model        string            `json:"model"`
	Score        float64           `json:"score"`
	Reason       string            `json:"reason"`
	BackendName  string            `json:"backend_name,omitempty"`
	Analysis     analyzer.Analysis `json:"analysis"`
	Alternatives []Alternative     `json:"alternatives,omitempty"`
}

// Alternative is a runner-up candidate.
type Alternative struct {
	Model   string  `json:"model"`
	Score   float64 `json:"score"`
	Backend string  `json:"backend,omitempty"`
}

// Outcome records how a routed task went.
type Outcome struct {
	Model       string
	TaskType    string
	Success     bool
	DurationMS  float64
	BackendName string
	Timestamp   time.Time
}

// TaskTypeStats aggregates outcomes for one (model, task type) pair.
type TaskTypeStats struct {
	Total         int     `json:"total"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// Request carries routing inputs beyond the analysis itself.
type Request struct {
	Analysis        analyzer.Analysis
	PreferSpeed     bool
	PreferredModels []string
	FallbackModel   string
}

// SwarmRouter routes tasks and learns from recorded outcomes.
type SwarmRouter struct {
	registry *model.LiveRegistry
	backends *backend.Manager
	logger   *slog.Logger

	mu       sync.Mutex
	outcomes map[string]map[string][]Outcome
}

// NewSwarmRouter builds a router. backends may be nil, in which case
// routing scores models alone.
func NewSwarmRouter(registry *model.LiveRegistry, backends *backend.Manager) *SwarmRouter {
	return &SwarmRouter{
		registry: registry,
		backends: backends,
		logger:   slog.Default().With("component", "router"),
		outcomes: make(map[string]map[string][]Outcome),
	}
}

// Route selects the best (backend, model) pair for an analyzed task.
func (r *SwarmRouter) Route(ctx context.Context, req Request) Decision {
	minQuality := model.ToolQualityGood
	if req.Analysis.Complexity == analyzer.ComplexitySimple {
		minQuality = model.ToolQualityBasic
	}
	candidates := r.registry.BestModelsFor(ctx, req.Analysis.Tags, minQuality, req.PreferSpeed)

	if len(candidates) == 0 {
		return r.fallbackDecision(ctx, req)
	}

	type scoredCandidate struct {
		score   float64
		info    *model.Installed
		backend string
	}
	var scored []scoredCandidate
	for _, info := range candidates {
		if info.Profile == nil {
			continue
		}

		score := r.scoreModel(info.Profile, req.Analysis, req.PreferSpeed)
		if contains(req.PreferredModels, info.Name) {
			score += 20
		}
		score += r.performanceAdjustment(info.Name, string(req.Analysis.TaskType))

		bestBackend, backendBonus := r.scoreBackends(info.Backends)
		score += backendBonus

		scored = append(scored, scoredCandidate{score, info, bestBackend})
	}

	if len(scored) == 0 {
		fallback := req.FallbackModel
		if fallback == "" {
			fallback = "qwen2.5:7b"
		}
		return Decision{
			Model:    fallback,
			Reason:   "no candidates scored",
			Analysis: req.Analysis,
		}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	best := scored[0]
	var alternatives []Alternative
	for _, alt := range scored[1:min(len(scored), 4)] {
		alternatives = append(alternatives, Alternative{
			Model:   alt.info.Name,
			Score:   round2(alt.score),
			Backend: alt.backend,
		})
	}

	decision := Decision{
		Model:        best.info.Name,
		Score:        round2(best.score),
		Reason:       r.explainChoice(best.info, req.Analysis, best.backend),
		BackendName:  best.backend,
		Analysis:     req.Analysis,
		Alternatives: alternatives,
	}
	r.logger.Debug("task routed",
		"model", decision.Model, "backend", decision.BackendName,
		"score", decision.Score, "task_type", req.Analysis.TaskType)
	return decision
}

// fallbackDecision handles the no-candidates path: the configured fallback
// model first, then any installed model, then a hardcoded default.
func (r *SwarmRouter) fallbackDecision(ctx context.Context, req Request) Decision {
	if req.FallbackModel != "" {
		return Decision{
			Model:       req.FallbackModel,
			Reason:      "fallback (no matching models found)",
			BackendName: r.pickBackendForModel(req.FallbackModel),
			Analysis:    req.Analysis,
		}
	}

	installed := r.registry.InstalledModels(ctx)
	if len(installed) > 0 {
		first := installed[0]
		backendName, _ := r.pickBackendFromList(first.Backends)
		return Decision{
			Model:       first.Name,
			Reason:      "default (no matching models)",
			BackendName: backendName,
			Analysis:    req.Analysis,
		}
	}

	return Decision{
		Model:    "qwen2.5:7b",
		Reason:   "hardcoded fallback (no models found)",
		Analysis: req.Analysis,
	}
}

// scoreBackends picks the best available backend hosting the model and
// returns its score bonus, floored at zero.
func (r *SwarmRouter) scoreBackends(backendNames []string) (string, float64) {
	if r.backends == nil || len(backendNames) == 0 {
		if len(backendNames) > 0 {
			return backendNames[0], 0
		}
		return "", 0
	}

	bestName := ""
	bestBonus := -100.0
	for _, name := range backendNames {
		state, ok := r.backends.GetBackend(name)
		if !ok || !state.IsAvailable() {
			continue
		}

		bonus := float64(state.Config.Priority) * 5
		bonus -= state.LoadRatio() * 15
		if state.AvgLatencyMS > 0 {
			switch {
			case state.AvgLatencyMS < 5000:
				bonus += 5
			case state.AvgLatencyMS < 15000:
			default:
				bonus -= 5
			}
		}
		total := state.TotalCompleted + state.TotalErrors
		if total > 5 {
			errorRate := float64(state.TotalErrors) / float64(total)
			bonus -= errorRate * 20
		}

		if bonus > bestBonus {
			bestBonus = bonus
			bestName = name
		}
	}

	if bestBonus < 0 {
		bestBonus = 0
	}
	return bestName, bestBonus
}

func (r *SwarmRouter) pickBackendForModel(modelName string) string {
	if r.backends == nil {
		return ""
	}
	state, ok := r.backends.BestBackendForModel(modelName)
	if !ok {
		return ""
	}
	return state.Config.Name
}

func (r *SwarmRouter) pickBackendFromList(backendNames []string) (string, float64) {
	return r.scoreBackends(backendNames)
}

func (r *SwarmRouter) scoreModel(profile *model.Profile, analysis analyzer.Analysis, preferSpeed bool) float64 {
	score := 0.0

	if len(profile.TaskTags) > 0 && len(analysis.Tags) > 0 {
		matching := intersection(analysis.Tags, profile.TaskTags)
		total := len(analysis.Tags)
		if total < 1 {
			total = 1
		}
		score += float64(len(matching)) / float64(total) * 100 * capabilityWeight
	}

	score += float64(profile.QualityRating) * 10 * qualityWeight

	speedMult := speedWeight
	if preferSpeed {
		speedMult *= 2
	}
	score += float64(profile.SpeedRating) * 10 * speedMult

	if analysis.Complexity == analyzer.ComplexityComplex {
		if profile.ContextWindow >= 32768 {
			score += 100 * contextWeight
		} else if profile.ContextWindow >= 16384 {
			score += 50 * contextWeight
		}
	} else {
		score += 50 * contextWeight
	}

	switch profile.ToolCallingQuality {
	case model.ToolQualityExcellent:
		score += 15
	case model.ToolQualityGood:
		score += 10
	case model.ToolQualityBasic:
		score += 5
	}

	if analysis.Complexity == analyzer.ComplexityComplex && profile.QualityRating >= 8 {
		score += 10
	}
	if analysis.Complexity == analyzer.ComplexitySimple && profile.SpeedRating >= 8 {
		score += 10
	}

	return score
}

// performanceAdjustment nudges scores by the recent success rate: a model
// needs at least 3 recorded outcomes before history counts, and only the
// last 10 are considered. Ranges -10 to +10.
func (r *SwarmRouter) performanceAdjustment(modelName, taskType string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	outcomes := r.outcomes[modelName][taskType]
	if len(outcomes) < 3 {
		return 0
	}

	recent := outcomes
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	successes := 0
	for _, o := range recent {
		if o.Success {
			successes++
		}
	}
	successRate := float64(successes) / float64(len(recent))
	return (successRate - 0.5) * 20
}

func (r *SwarmRouter) explainChoice(info *model.Installed, analysis analyzer.Analysis, backendName string) string {
	profile := info.Profile
	if profile == nil {
		return fmt.Sprintf("selected %s (no profile)", info.Name)
	}

	parts := []string{fmt.Sprintf("%s tool calling", profile.ToolCallingQuality)}
	if matching := intersection(analysis.Tags, profile.TaskTags); len(matching) > 0 {
		parts = append(parts, "matches tags: "+strings.Join(matching, ", "))
	}
	parts = append(parts,
		fmt.Sprintf("quality=%d/10", profile.QualityRating),
		fmt.Sprintf("speed=%d/10", profile.SpeedRating),
	)
	if backendName != "" {
		parts = append(parts, "backend="+backendName)
	}
	return strings.Join(parts, "; ")
}

// RecordOutcome feeds a completed task back into routing history.
func (r *SwarmRouter) RecordOutcome(modelName, taskType string, success bool, durationMS float64, backendName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.outcomes[modelName] == nil {
		r.outcomes[modelName] = make(map[string][]Outcome)
	}
	window := append(r.outcomes[modelName][taskType], Outcome{
		Model:       modelName,
		TaskType:    taskType,
		Success:     success,
		DurationMS:  durationMS,
		BackendName: backendName,
		Timestamp:   time.Now(),
	})
	if len(window) > outcomeWindow {
		window = window[len(window)-outcomeWindow:]
	}
	r.outcomes[modelName][taskType] = window

	r.logger.Info("routing outcome recorded",
		"model", modelName, "task_type", taskType,
		"success", success, "backend", backendName)
}

// GetStats aggregates recorded outcomes per model and task type.
func (r *SwarmRouter) GetStats() map[string]map[string]TaskTypeStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := make(map[string]map[string]TaskTypeStats)
	for modelName, taskTypes := range r.outcomes {
		modelStats := make(map[string]TaskTypeStats)
		for taskType, outcomes := range taskTypes {
			if len(outcomes) == 0 {
				continue
			}
			successes := 0
			totalDuration := 0.0
			for _, o := range outcomes {
				if o.Success {
					successes++
				}
				totalDuration += o.DurationMS
			}
			modelStats[taskType] = TaskTypeStats{
				Total:         len(outcomes),
				SuccessRate:   math.Round(float64(successes)/float64(len(outcomes))*1000) / 1000,
				AvgDurationMS: math.Round(totalDuration/float64(len(outcomes))*10) / 10,
			}
		}
		if len(modelStats) > 0 {
			stats[modelName] = modelStats
		}
	}
	return stats
}

func intersection(a, b []string) []string {
	set := make(map[string]bool, len(b))
	for _, s := range b {
		set[s] = true
	}
	var matched []string
	for _, s := range a {
		if set[s] {
			matched = append(matched, s)
		}
	}
	return matched
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
