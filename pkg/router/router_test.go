package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/swarm/pkg/analyzer"
	"github.com/kadirpekel/swarm/pkg/backend"
	"github.com/kadirpekel/swarm/pkg/config"
	"github.com/kadirpekel/swarm/pkg/model"
)

func registryWith(t *testing.T, tagsBody string) (*model.LiveRegistry, func()) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(tagsBody))
	}))
	return model.NewLiveRegistry(server.URL), server.Close
}

func debugAnalysis() analyzer.Analysis {
	return analyzer.Analysis{
		TaskType:   analyzer.TaskTypeDebugging,
		Complexity: analyzer.ComplexityModerate,
		Tags:       []string{"debugging"},
	}
}

func TestRoutePicksBestModel(t *testing.T) {
	registry, cleanup := registryWith(t, `{"models": [
		{"name": "qwen2.5:7b", "size": 1},
		{"name": "qwen2.5:14b", "size": 1}
	]}`)
	defer cleanup()

	r := NewSwarmRouter(registry, nil)
	decision := r.Route(context.Background(), Request{Analysis: debugAnalysis()})

	// 14B wins on quality and excellent tool calling.
	assert.Equal(t, "qwen2.5:14b", decision.Model)
	assert.Greater(t, decision.Score, 0.0)
	assert.Contains(t, decision.Reason, "excellent tool calling")
	assert.Contains(t, decision.Reason, "matches tags: debugging")
	require.Len(t, decision.Alternatives, 1)
	assert.Equal(t, "qwen2.5:7b", decision.Alternatives[0].Model)
}

func TestRoutePreferredModelBoost(t *testing.T) {
	registry, cleanup := registryWith(t, `{"models": [
		{"name": "qwen2.5:7b", "size": 1},
		{"name": "qwen2.5:14b", "size": 1}
	]}`)
	defer cleanup()

	r := NewSwarmRouter(registry, nil)
	decision := r.Route(context.Background(), Request{
		Analysis:        debugAnalysis(),
		PreferredModels: []string{"qwen2.5:7b"},
	})
	assert.Equal(t, "qwen2.5:7b", decision.Model)
}

func TestRouteFallbackModel(t *testing.T) {
	registry, cleanup := registryWith(t, `{"models": []}`)
	defer cleanup()

	r := NewSwarmRouter(registry, nil)
	decision := r.Route(context.Background(), Request{
		Analysis:      debugAnalysis(),
		FallbackModel: "mistral:7b",
	})
	assert.Equal(t, "mistral:7b", decision.Model)
	assert.Equal(t, "fallback (no matching models found)", decision.Reason)
	assert.Equal(t, 0.0, decision.Score)
}

func TestRouteHardcodedFallback(t *testing.T) {
	registry, cleanup := registryWith(t, `{"models": []}`)
	defer cleanup()

	r := NewSwarmRouter(registry, nil)
	decision := r.Route(context.Background(), Request{Analysis: debugAnalysis()})
	assert.Equal(t, "qwen2.5:7b", decision.Model)
	assert.Equal(t, "hardcoded fallback (no models found)", decision.Reason)
}

func TestRouteDefaultToInstalledModel(t *testing.T) {
	// Installed model with no tool-capable profile: candidate list is
	// empty, so routing falls back to the first installed model.
	registry, cleanup := registryWith(t, `{"models": [{"name": "codellama", "size": 1}]}`)
	defer cleanup()

	r := NewSwarmRouter(registry, nil)
	decision := r.Route(context.Background(), Request{Analysis: debugAnalysis()})
	assert.Equal(t, "codellama", decision.Model)
	assert.Equal(t, "default (no matching models)", decision.Reason)
}

func TestRouteSimpleTasksAdmitBasicQuality(t *testing.T) {
	registry, cleanup := registryWith(t, `{"models": [{"name": "codellama", "size": 1}]}`)
	defer cleanup()

	r := NewSwarmRouter(registry, nil)
	analysis := debugAnalysis()
	analysis.Complexity = analyzer.ComplexitySimple

	// codellama has no tool calling, so even the basic threshold excludes
	// it; moderate tasks require good quality.
	decision := r.Route(context.Background(), Request{Analysis: analysis})
	assert.Equal(t, "default (no matching models)", decision.Reason)
}

func TestRouteUsesBackendBonus(t *testing.T) {
	registry, cleanup := registryWith(t, `{"models": [{"name": "qwen2.5:14b", "size": 1}]}`)
	defer cleanup()

	fast := config.BackendConfig{Name: "local", Type: config.BackendTypeOllama, URL: "http://x", MaxConcurrent: 2, Priority: 3}
	fast.SetDefaults()
	backends := backend.NewManager([]config.BackendConfig{fast})

	r := NewSwarmRouter(registry, backends)
	decision := r.Route(context.Background(), Request{Analysis: debugAnalysis()})

	assert.Equal(t, "qwen2.5:14b", decision.Model)
	assert.Equal(t, "local", decision.BackendName)
	assert.Contains(t, decision.Reason, "backend=local")
}

func TestPerformanceAdjustment(t *testing.T) {
	registry, cleanup := registryWith(t, `{"models": []}`)
	defer cleanup()
	r := NewSwarmRouter(registry, nil)

	// Below three outcomes: no adjustment.
	r.RecordOutcome("m", "debugging", false, 100, "")
	r.RecordOutcome("m", "debugging", false, 100, "")
	assert.Equal(t, 0.0, r.performanceAdjustment("m", "debugging"))

	r.RecordOutcome("m", "debugging", false, 100, "")
	// Three failures: success rate 0 maps to -10.
	assert.Equal(t, -10.0, r.performanceAdjustment("m", "debugging"))

	for i := 0; i < 10; i++ {
		r.RecordOutcome("m", "debugging", true, 100, "")
	}
	// Last 10 are all successes: +10.
	assert.Equal(t, 10.0, r.performanceAdjustment("m", "debugging"))
}

func TestOutcomeWindowBounded(t *testing.T) {
	registry, cleanup := registryWith(t, `{"models": []}`)
	defer cleanup()
	r := NewSwarmRouter(registry, nil)

	for i := 0; i < 150; i++ {
		r.RecordOutcome("m", "testing", true, 50, "local")
	}
	stats := r.GetStats()
	require.Contains(t, stats, "m")
	assert.Equal(t, 100, stats["m"]["testing"].Total)
}

func TestGetStats(t *testing.T) {
	registry, cleanup := registryWith(t, `{"models": []}`)
	defer cleanup()
	r := NewSwarmRouter(registry, nil)

	r.RecordOutcome("qwen2.5:14b", "debugging", true, 120, "local")
	r.RecordOutcome("qwen2.5:14b", "debugging", false, 80, "local")

	stats := r.GetStats()
	require.Contains(t, stats, "qwen2.5:14b")
	s := stats["qwen2.5:14b"]["debugging"]
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 0.5, s.SuccessRate)
	assert.Equal(t, 100.0, s.AvgDurationMS)
}
