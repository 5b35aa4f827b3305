// Package server exposes the orchestrator over a REST API, with an SSE
// stream for live events and a Prometheus metrics endpoint.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kadirpekel/swarm/pkg/config"
	"github.com/kadirpekel/swarm/pkg/orchestrator"
	"github.com/kadirpekel/swarm/pkg/task"
)

// statusPushInterval is how often the SSE stream emits a status snapshot
// alongside forwarded bus events.
const statusPushInterval = 2 * time.Second

// Server serves the swarm REST API.
type Server struct {
	cfg    *config.Config
	orch   *orchestrator.Orchestrator
	server *http.Server
	logger *slog.Logger
}

// New builds a server around an orchestrator.
func New(cfg *config.Config, orch *orchestrator.Orchestrator) *Server {
	s := &Server{
		cfg:    cfg,
		orch:   orch,
		logger: slog.Default().With("component", "server"),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the route tree. Exposed so tests can drive the API without
// binding a socket.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/events", s.handleEvents)

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", s.handleSubmitTask)
		r.Post("/batch", s.handleSubmitBatch)
		r.Get("/", s.handleListTasks)
		r.Get("/{taskID}", s.handleGetTask)
		r.Delete("/{taskID}", s.handleCancelTask)
	})

	r.Route("/instances", func(r chi.Router) {
		r.Get("/", s.handleListInstances)
		r.Get("/health", s.handleInstanceHealth)
		r.Post("/spawn", s.handleSpawnInstances)
		r.Post("/scale", s.handleScaleInstances)
		r.Get("/{instanceID}", s.handleGetInstance)
		r.Get("/{instanceID}/output", s.handleInstanceOutput)
		r.Delete("/{instanceID}", s.handleTerminateInstance)
	})

	r.Post("/workers/scale", s.handleScaleWorkers)
	r.Post("/workflows/execute", s.handleExecuteWorkflow)

	r.Get("/models", s.handleListModels)
	r.Get("/models/stats", s.handleModelStats)
	r.Get("/routing/stats", s.handleRoutingStats)
	r.Get("/backends", s.handleListBackends)

	return r
}

// Start runs the server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("api server listening", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	origins := s.cfg.API.CORSOrigins
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			for _, allowed := range origins {
				if allowed == "*" || allowed == origin {
					w.Header().Set("Access-Control-Allow-Origin", allowed)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
					break
				}
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "swarm",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.GetStatus())
}

// taskSubmitRequest is the POST /tasks body.
type taskSubmitRequest struct {
	Prompt           string                 `json:"prompt"`
	Name             string                 `json:"name"`
	WorkingDirectory string                 `json:"working_directory"`
	Priority         string                 `json:"priority"`
	Timeout          int                    `json:"timeout"`
	InstanceID       string                 `json:"instance_id"`
	PreferredModel   string                 `json:"preferred_model"`
	DependsOn        []string               `json:"depends_on"`
	Metadata         map[string]interface{} `json:"metadata"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req taskSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	taskID := s.orch.SubmitTask(orchestrator.SubmitRequest{
		Prompt:           req.Prompt,
		Name:             req.Name,
		WorkingDirectory: req.WorkingDirectory,
		Priority:         parsePriority(req.Priority),
		TimeoutSecs:      req.Timeout,
		InstanceID:       req.InstanceID,
		PreferredModel:   req.PreferredModel,
		DependsOn:        req.DependsOn,
		Metadata:         req.Metadata,
	})
	writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID, "status": "queued"})
}

type taskBatchRequest struct {
	Prompts          []string `json:"prompts"`
	WorkingDirectory string   `json:"working_directory"`
	Priority         string   `json:"priority"`
}

func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req taskBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Prompts) == 0 {
		writeError(w, http.StatusBadRequest, "prompts is required")
		return
	}

	taskIDs := s.orch.SubmitBatch(req.Prompts, req.WorkingDirectory, parsePriority(req.Priority))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"task_ids": taskIDs,
		"count":    len(taskIDs),
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	var status task.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		status = task.Status(strings.ToLower(raw))
		switch status {
		case task.StatusPending, task.StatusQueued, task.StatusRunning,
			task.StatusCompleted, task.StatusFailed, task.StatusCancelled:
		default:
			writeError(w, http.StatusBadRequest, "invalid status: "+raw)
			return
		}
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	infos := s.orch.ListTasks(status, limit)
	if infos == nil {
		infos = []task.Info{}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	info, ok := s.orch.GetTaskStatus(taskID)
	if !ok {
		writeError(w, http.StatusNotFound, "task "+taskID+" not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if !s.orch.CancelTask(taskID) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"message": "task cannot be cancelled (not pending/queued or not found)",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "task_id": taskID})
}

func (s *Server) handleInstanceHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Instances().HealthCheck())
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	infos := s.orch.ListInstances()
	if infos == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

type instanceSpawnRequest struct {
	Count            int    `json:"count"`
	WorkingDirectory string `json:"working_directory"`
}

func (s *Server) handleSpawnInstances(w http.ResponseWriter, r *http.Request) {
	var req instanceSpawnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Count <= 0 {
		req.Count = 1
	}

	spawned := s.orch.Instances().SpawnMultiple(r.Context(), req.Count, req.WorkingDirectory)
	infos := make([]interface{}, 0, len(spawned))
	for _, inst := range spawned {
		infos = append(infos, inst.GetInfo())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"spawned":   len(spawned),
		"instances": infos,
	})
}

type scaleRequest struct {
	Target int `json:"target"`
}

func (s *Server) handleScaleInstances(w http.ResponseWriter, r *http.Request) {
	var req scaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	actual := s.orch.ScaleInstances(r.Context(), req.Target)
	writeJSON(w, http.StatusOK, map[string]int{"target": req.Target, "actual": actual})
}

type workerScaleRequest struct {
	Count int `json:"count"`
}

func (s *Server) handleScaleWorkers(w http.ResponseWriter, r *http.Request) {
	var req workerScaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	actual := s.orch.EnsureWorkers(req.Count)
	writeJSON(w, http.StatusOK, map[string]int{"target": req.Count, "actual": actual})
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")
	inst, ok := s.orch.Instances().Get(instanceID)
	if !ok {
		writeError(w, http.StatusNotFound, "instance "+instanceID+" not found")
		return
	}
	writeJSON(w, http.StatusOK, inst.GetInfo())
}

func (s *Server) handleInstanceOutput(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")
	lines := 50
	if raw := r.URL.Query().Get("lines"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			lines = n
		}
	}

	output, ok := s.orch.GetInstanceOutput(instanceID, lines)
	if !ok {
		writeError(w, http.StatusNotFound, "instance "+instanceID+" not found")
		return
	}
	if output == nil {
		output = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"instance_id": instanceID,
		"output":      output,
	})
}

func (s *Server) handleTerminateInstance(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")
	if !s.orch.Instances().Terminate(instanceID) {
		writeError(w, http.StatusNotFound, "instance "+instanceID+" not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "instance_id": instanceID})
}

type workflowExecuteRequest struct {
	WorkflowPath string `json:"workflow_path"`
}

func (s *Server) handleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	var req workflowExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if _, err := os.Stat(req.WorkflowPath); err != nil {
		writeError(w, http.StatusNotFound, "workflow file not found: "+req.WorkflowPath)
		return
	}

	result, err := s.orch.ExecuteWorkflow(r.Context(), req.WorkflowPath)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	installed := s.orch.Registry().InstalledModels(r.Context())

	result := make([]map[string]interface{}, 0, len(installed))
	for _, m := range installed {
		entry := map[string]interface{}{
			"name":        m.Name,
			"size_gb":     round2(float64(m.SizeBytes) / (1 << 30)),
			"has_profile": m.Profile != nil,
		}
		if m.Profile != nil {
			entry["quality_rating"] = m.Profile.QualityRating
			entry["speed_rating"] = m.Profile.SpeedRating
			entry["supports_tool_calling"] = m.Profile.SupportsToolCalling
			entry["tool_calling_quality"] = m.Profile.ToolCallingQuality
			entry["task_tags"] = m.Profile.TaskTags
			entry["context_window"] = m.Profile.ContextWindow
		}
		if len(m.Backends) > 0 {
			entry["backends"] = m.Backends
		}
		result = append(result, entry)
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleModelStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Registry().GetStats(r.Context()))
}

func (s *Server) handleRoutingStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Router().GetStats())
}

func (s *Server) handleListBackends(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Backends().GetStatus())
}

// handleEvents streams bus events as server-sent events, interleaved with a
// status snapshot every statusPushInterval.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := s.orch.Bus().Subscribe()
	defer cancel()

	ticker := time.NewTicker(statusPushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-ch:
			if !open {
				return
			}
			writeSSE(w, flusher, event)
		case <-ticker.C:
			status := s.orch.GetStatus()
			writeSSE(w, flusher, map[string]interface{}{
				"type":      "status",
				"running":   status.Running,
				"workers":   status.Workers,
				"instances": status.Instances,
				"tasks":     status.Tasks,
				"backends":  status.Backends,
			})
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

func parsePriority(raw string) task.Priority {
	switch strings.ToLower(raw) {
	case "low":
		return task.PriorityLow
	case "high":
		return task.PriorityHigh
	case "critical":
		return task.PriorityCritical
	default:
		return task.PriorityNormal
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
