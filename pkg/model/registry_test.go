package model

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tagsServer(t *testing.T, hits *atomic.Int64, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
}

const sampleTags = `{"models": [
	{"name": "qwen2.5:14b", "size": 9000000000, "modified_at": "2026-08-01T10:00:00Z", "digest": "abc"},
	{"name": "devstral:24b", "size": 14000000000, "modified_at": "2026-08-02T10:00:00Z", "digest": "def"},
	{"name": "mystery-model:7b", "size": 4000000000, "modified_at": "2026-08-03T10:00:00Z", "digest": "ghi"}
]}`

func TestRegistryDiscovery(t *testing.T) {
	server := tagsServer(t, nil, sampleTags)
	defer server.Close()

	registry := NewLiveRegistry(server.URL)
	models := registry.InstalledModels(context.Background())
	require.Len(t, models, 3)

	// Sorted by name, profiles merged where known.
	assert.Equal(t, "devstral:24b", models[0].Name)
	require.NotNil(t, models[0].Profile)
	assert.Equal(t, ToolQualityExcellent, models[0].Profile.ToolCallingQuality)
	assert.Equal(t, []string{"local"}, models[0].Backends)

	assert.Equal(t, "mystery-model:7b", models[1].Name)
	assert.Nil(t, models[1].Profile)
}

func TestRegistryRefreshThrottle(t *testing.T) {
	var hits atomic.Int64
	server := tagsServer(t, &hits, sampleTags)
	defer server.Close()

	registry := NewLiveRegistry(server.URL)
	registry.Refresh(context.Background(), false)
	registry.Refresh(context.Background(), false)
	registry.Refresh(context.Background(), false)
	assert.Equal(t, int64(1), hits.Load())

	registry.Refresh(context.Background(), true)
	assert.Equal(t, int64(2), hits.Load())
}

type staticLister struct{ endpoints []Endpoint }

func (l *staticLister) OllamaEndpoints() []Endpoint { return l.endpoints }

func TestRegistryMergesAcrossEndpoints(t *testing.T) {
	first := tagsServer(t, nil, `{"models": [{"name": "qwen2.5:14b", "size": 9000000000}]}`)
	defer first.Close()
	second := tagsServer(t, nil, `{"models": [{"name": "qwen2.5:14b", "size": 9000000000}, {"name": "llama3.1:8b", "size": 5000000000}]}`)
	defer second.Close()

	lister := &staticLister{endpoints: []Endpoint{
		{Name: "gpu-1", URL: first.URL},
		{Name: "gpu-2", URL: second.URL},
	}}
	registry := NewLiveRegistry(first.URL, WithEndpointLister(lister))

	backends := registry.BackendsForModel(context.Background(), "qwen2.5:14b")
	assert.Len(t, backends, 2)
	assert.Contains(t, backends, "gpu-1")
	assert.Contains(t, backends, "gpu-2")

	backends = registry.BackendsForModel(context.Background(), "llama3.1:8b")
	assert.Equal(t, []string{"gpu-2"}, backends)
}

func TestRegistryBackendsForModelPartialMatch(t *testing.T) {
	server := tagsServer(t, nil, sampleTags)
	defer server.Close()

	registry := NewLiveRegistry(server.URL)
	backends := registry.BackendsForModel(context.Background(), "qwen2.5:7b")
	assert.Equal(t, []string{"local"}, backends)

	assert.Empty(t, registry.BackendsForModel(context.Background(), "nonexistent"))
}

func TestRegistryIsInstalled(t *testing.T) {
	server := tagsServer(t, nil, sampleTags)
	defer server.Close()

	registry := NewLiveRegistry(server.URL)
	ctx := context.Background()
	assert.True(t, registry.IsInstalled(ctx, "devstral:24b"))
	assert.True(t, registry.IsInstalled(ctx, "devstral"))
	assert.False(t, registry.IsInstalled(ctx, "gpt-5"))
}

func TestRegistryToolCapableModels(t *testing.T) {
	// qwen name heuristic picks up a model with no catalog profile.
	server := tagsServer(t, nil, `{"models": [
		{"name": "qwen2.5-custom:32b", "size": 1},
		{"name": "devstral:24b", "size": 1},
		{"name": "plain-model:7b", "size": 1}
	]}`)
	defer server.Close()

	registry := NewLiveRegistry(server.URL)
	capable := registry.ToolCapableModels(context.Background())

	names := make([]string, 0, len(capable))
	for _, info := range capable {
		names = append(names, info.Name)
	}
	assert.Contains(t, names, "devstral:24b")
	assert.Contains(t, names, "qwen2.5-custom:32b")
	assert.NotContains(t, names, "plain-model:7b")
}

func TestRegistryBestModelsFor(t *testing.T) {
	server := tagsServer(t, nil, sampleTags)
	defer server.Close()

	registry := NewLiveRegistry(server.URL)
	ranked := registry.BestModelsFor(context.Background(), []string{"security_audit"}, ToolQualityBasic, false)
	require.Len(t, ranked, 2) // unprofiled mystery model excluded

	// qwen2.5:14b outranks devstral on speed at equal quality and tags.
	assert.Equal(t, "qwen2.5:14b", ranked[0].Name)
	assert.Equal(t, "devstral:24b", ranked[1].Name)
}

func TestRegistryBestModelsForMinQualityFilter(t *testing.T) {
	server := tagsServer(t, nil, `{"models": [
		{"name": "codellama", "size": 1},
		{"name": "devstral:24b", "size": 1}
	]}`)
	defer server.Close()

	registry := NewLiveRegistry(server.URL)
	ranked := registry.BestModelsFor(context.Background(), nil, ToolQualityGood, false)
	require.Len(t, ranked, 1)
	assert.Equal(t, "devstral:24b", ranked[0].Name)
}

func TestRegistryStats(t *testing.T) {
	server := tagsServer(t, nil, sampleTags)
	defer server.Close()

	registry := NewLiveRegistry(server.URL)
	stats := registry.GetStats(context.Background())

	assert.Equal(t, 3, stats.TotalInstalled)
	assert.Equal(t, 2, stats.WithProfiles)
	assert.Equal(t, 2, stats.ToolCapable)
	assert.Equal(t, 1, stats.BackendsQueried)
	assert.Equal(t, len(Catalog), stats.StaticProfiles)
	assert.Greater(t, stats.TotalSizeGB, 20.0)
}

func TestProfileFor(t *testing.T) {
	assert.Equal(t, "Qwen 2.5 14B", ProfileFor("qwen2.5:14b").FullName)
	// Base-name fallback.
	assert.NotNil(t, ProfileFor("codellama:13b"))
	// Substring fallback against catalog keys.
	assert.NotNil(t, ProfileFor("qwen2.5"))
	assert.Nil(t, ProfileFor("totally-unknown"))
}

func TestRegistryDiscoveryFailureIsNonFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	registry := NewLiveRegistry(server.URL)
	assert.Empty(t, registry.InstalledModels(context.Background()))
}
