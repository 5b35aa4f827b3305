package model

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

	"github.com/kadirpekel/swarm/pkg/httpclient"
)

const (
	// refreshInterval throttles backend discovery.
	refreshInterval = 60 * time.Second

	discoveryTimeout = 10 * time.Second
)

// Endpoint is one discoverable Ollama endpoint.
type Endpoint struct {
	Name string
	URL  string
}

// EndpointLister supplies the endpoints to discover models from. The
// backend manager implements this.
type EndpointLister interface {
	OllamaEndpoints() []Endpoint
}

// Installed is one discovered model merged with its static profile.
// Backends lists which endpoints have the model.
type Installed struct {
	Name      string   `json:"name"`
	SizeBytes int64    `json:"size_bytes"`
	Modified  string   `json:"modified"`
	Digest    string   `json:"digest"`
	Profile   *Profile `json:"profile,omitempty"`
	Backends  []string `json:"backends"`
}

// Stats summarizes the registry contents.
type Stats struct {
	TotalInstalled  int     `json:"total_installed"`
	WithProfiles    int     `json:"with_profiles"`
	ToolCapable     int     `json:"tool_capable"`
	TotalSizeGB     float64 `json:"total_size_gb"`
	StaticProfiles  int     `json:"static_profiles"`
	BackendsQueried int     `json:"backends_queried"`
}

// LiveRegistry merges models discovered from running endpoints with the
// static catalog. Discovery is throttled and safe for concurrent use.
type LiveRegistry struct {
	ollamaURL string
	lister    EndpointLister
	http      *httpclient.Client
	logger    *slog.Logger

	mu          sync.Mutex
	installed   map[string]*Installed
	lastRefresh time.Time
}

// RegistryOption configures a LiveRegistry.
type RegistryOption func(*LiveRegistry)

// WithEndpointLister wires backend-manager endpoint discovery; without it
// the registry queries only the single configured URL.
func WithEndpointLister(lister EndpointLister) RegistryOption {
	return func(r *LiveRegistry) { r.lister = lister }
}

// WithHTTPClient overrides the HTTP client, used by tests.
func WithHTTPClient(client *httpclient.Client) RegistryOption {
	return func(r *LiveRegistry) { r.http = client }
}

// NewLiveRegistry builds a registry rooted at ollamaURL.
func NewLiveRegistry(ollamaURL string, opts ...RegistryOption) *LiveRegistry {
	r := &LiveRegistry{
		ollamaURL: ollamaURL,
		installed: make(map[string]*Installed),
		logger:    slog.Default().With("component", "model_registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.http == nil {
		r.http = httpclient.New(httpclient.WithMaxRetries(1))
	}
	return r
}

// Refresh queries endpoints for installed models. Calls within the refresh
// interval are no-ops unless force is set.
func (r *LiveRegistry) Refresh(ctx context.Context, force bool) {
	r.mu.Lock()
	if !force && time.Since(r.lastRefresh) < refreshInterval {
		r.mu.Unlock()
		return
	}
	r.installed = make(map[string]*Installed)
	r.lastRefresh = time.Now()
	r.mu.Unlock()

	if r.lister != nil {
		r.refreshFromEndpoints(ctx, r.lister.OllamaEndpoints())
	} else {
		r.refreshSingle(ctx, r.ollamaURL, "local")
	}

	r.mu.Lock()
	count := len(r.installed)
	r.mu.Unlock()
	r.logger.Info("model registry refreshed", "count", count)
}

func (r *LiveRegistry) refreshFromEndpoints(ctx context.Context, endpoints []Endpoint) {
	g, gctx := errgroup.WithContext(ctx)
	for _, endpoint := range endpoints {
		g.Go(func() error {
			r.refreshSingle(gctx, endpoint.URL, endpoint.Name)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *LiveRegistry) refreshSingle(ctx context.Context, url, backendName string) {
	models, err := r.queryTags(ctx, url)
	if err != nil {
		r.logger.Warn("model discovery failed", "backend", backendName, "error", err)
		return
	}
	for _, raw := range models {
		if raw.Name == "" {
			continue
		}
		r.merge(raw, backendName)
	}
}

type tagEntry struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
	Digest     string `json:"digest"`
}

func (r *LiveRegistry) queryTags(ctx context.Context, url string) ([]tagEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Models []tagEntry `json:"models"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding tags response: %w", err)
	}
	return payload.Models, nil
}

func (r *LiveRegistry) merge(raw tagEntry, backendName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.installed[raw.Name]; ok {
		for _, b := range existing.Backends {
			if b == backendName {
				return
			}
		}
		existing.Backends = append(existing.Backends, backendName)
		return
	}

	r.installed[raw.Name] = &Installed{
		Name:      raw.Name,
		SizeBytes: raw.Size,
		Modified:  raw.ModifiedAt,
		Digest:    raw.Digest,
		Profile:   ProfileFor(raw.Name),
		Backends:  []string{backendName},
	}
}

// InstalledModels returns all discovered models, refreshing if stale.
func (r *LiveRegistry) InstalledModels(ctx context.Context) []*Installed {
	r.Refresh(ctx, false)
	return r.snapshot()
}

func (r *LiveRegistry) snapshot() []*Installed {
	r.mu.Lock()
	defer r.mu.Unlock()

	models := make([]*Installed, 0, len(r.installed))
	for _, info := range r.installed {
		models = append(models, info)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
	return models
}

// ToolCapableModels returns discovered models that support tool calling,
// either via their profile or a family-name heuristic.
func (r *LiveRegistry) ToolCapableModels(ctx context.Context) []*Installed {
	r.Refresh(ctx, false)

	var results []*Installed
	seen := make(map[string]bool)
	for _, info := range r.snapshot() {
		if info.Profile != nil && info.Profile.SupportsToolCalling {
			results = append(results, info)
			seen[info.Name] = true
		}
	}
	for _, info := range r.snapshot() {
		if !seen[info.Name] && NameSuggestsToolSupport(info.Name) {
			results = append(results, info)
		}
	}
	return results
}

// BestModelsFor ranks installed models by suitability for a task, best
// first. Models without a profile or below minQuality are excluded.
func (r *LiveRegistry) BestModelsFor(ctx context.Context, taskTags []string, minQuality ToolQuality, preferSpeed bool) []*Installed {
	r.Refresh(ctx, false)

	minLevel := toolQualityScores[minQuality]

	type scored struct {
		score float64
		info  *Installed
	}
	var ranked []scored
	for _, info := range r.snapshot() {
		profile := info.Profile
		if profile == nil {
			continue
		}

		toolScore := toolQualityScores[profile.ToolCallingQuality]
		if toolScore < minLevel {
			continue
		}
		score := toolScore

		score += float64(matchingTags(taskTags, profile.TaskTags)) * 10
		score += float64(profile.QualityRating) * 3
		if preferSpeed {
			score += float64(profile.SpeedRating) * 4
		} else {
			score += float64(profile.SpeedRating)
		}
		if profile.ContextWindow >= 32768 {
			score += 5
		}
		if profile.ContextWindow >= 128000 {
			score += 5
		}

		ranked = append(ranked, scored{score, info})
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	results := make([]*Installed, 0, len(ranked))
	for _, entry := range ranked {
		results = append(results, entry.info)
	}
	return results
}

func matchingTags(a, b []string) int {
	set := make(map[string]bool, len(a))
	for _, tag := range a {
		set[tag] = true
	}
	count := 0
	for _, tag := range b {
		if set[tag] {
			count++
		}
	}
	return count
}

// BackendsForModel reports which endpoints have a model installed, falling
// back to a base-name partial match.
func (r *LiveRegistry) BackendsForModel(ctx context.Context, modelName string) []string {
	r.Refresh(ctx, false)

	r.mu.Lock()
	defer r.mu.Unlock()

	if info, ok := r.installed[modelName]; ok {
		return append([]string(nil), info.Backends...)
	}
	baseName := strings.SplitN(modelName, ":", 2)[0]
	for name, info := range r.installed {
		if strings.Contains(name, baseName) {
			return append([]string(nil), info.Backends...)
		}
	}
	return nil
}

// IsInstalled checks whether a model (or its base-name family) is present.
func (r *LiveRegistry) IsInstalled(ctx context.Context, modelName string) bool {
	r.Refresh(ctx, false)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.installed[modelName]; ok {
		return true
	}
	baseName := strings.SplitN(modelName, ":", 2)[0]
	for name := range r.installed {
		if strings.Contains(name, baseName) {
			return true
		}
	}
	return false
}

// GetStats returns registry counters.
func (r *LiveRegistry) GetStats(ctx context.Context) Stats {
	toolCapable := len(r.ToolCapableModels(ctx))

	r.mu.Lock()
	defer r.mu.Unlock()

	var totalSize int64
	profiled := 0
	backends := make(map[string]bool)
	for _, info := range r.installed {
		totalSize += info.SizeBytes
		if info.Profile != nil {
			profiled++
		}
		for _, b := range info.Backends {
			backends[b] = true
		}
	}

	return Stats{
		TotalInstalled:  len(r.installed),
		WithProfiles:    profiled,
		ToolCapable:     toolCapable,
		TotalSizeGB:     math.Round(float64(totalSize)/(1<<30)*100) / 100,
		StaticProfiles:  len(Catalog),
		BackendsQueried: len(backends),
	}
}
