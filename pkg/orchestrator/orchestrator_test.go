package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/swarm/pkg/config"
	"github.com/kadirpekel/swarm/pkg/httpclient"
	"github.com/kadirpekel/swarm/pkg/observability"
	"github.com/kadirpekel/swarm/pkg/task"
)

// fakeBackend serves /api/tags for discovery and /api/chat for execution.
func fakeBackend(t *testing.T, chatStatus int, chatContent string) *httptest.Server {
	t.Helper()
	models := []string{"qwen2.5:7b", "qwen2.5:14b", "devstral:24b"}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			tags := make([]map[string]interface{}, 0, len(models))
			for _, m := range models {
				tags = append(tags, map[string]interface{}{"name": m, "size": 1 << 30})
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"models": tags})
		case "/api/chat":
			if chatStatus != http.StatusOK {
				http.Error(w, "backend failure", chatStatus)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"message":           map[string]interface{}{"role": "assistant", "content": chatContent},
				"prompt_eval_count": 10,
				"eval_count":        4,
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func testConfig(serverURL string) *config.Config {
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Swarm.MaxInstances = 2
	cfg.Swarm.OllamaURL = serverURL
	cfg.Swarm.WorkspaceRoot = os.TempDir()
	for _, bc := range cfg.Swarm.Backends {
		bc.URL = serverURL
	}
	return cfg
}

func noRetryClient() *httpclient.Client {
	return httpclient.New(httpclient.WithRetryStrategy(func(int) httpclient.RetryStrategy {
		return httpclient.NoRetry
	}))
}

func TestTaskRunsEndToEnd(t *testing.T) {
	server := fakeBackend(t, http.StatusOK, "task complete")
	defer server.Close()

	orch := New(testConfig(server.URL), WithHTTPClient(noRetryClient()))
	orch.Start(context.Background(), 1)
	defer orch.Stop()

	taskID := orch.SubmitTask(SubmitRequest{Prompt: "explain the build"})

	require.Eventually(t, func() bool {
		info, ok := orch.GetTaskStatus(taskID)
		return ok && info.Status == task.StatusCompleted
	}, 10*time.Second, 100*time.Millisecond)

	info, _ := orch.GetTaskStatus(taskID)
	require.NotNil(t, info.Result)
	assert.Equal(t, "task complete", info.Result["output"])
	assert.Equal(t, "completed", info.Result["status"])
	assert.Equal(t, taskID, info.Result["metadata"].(map[string]interface{})["task_id"])
}

func TestFailedBackendFailsTask(t *testing.T) {
	server := fakeBackend(t, http.StatusInternalServerError, "")
	defer server.Close()

	orch := New(testConfig(server.URL), WithHTTPClient(noRetryClient()))
	orch.Start(context.Background(), 1)
	defer orch.Stop()

	taskID := orch.SubmitTask(SubmitRequest{Prompt: "doomed work"})

	require.Eventually(t, func() bool {
		info, ok := orch.GetTaskStatus(taskID)
		return ok && info.Status == task.StatusFailed
	}, 10*time.Second, 100*time.Millisecond)

	info, _ := orch.GetTaskStatus(taskID)
	assert.Contains(t, info.Error, "500")
}

type taskMetric struct {
	taskType string
	duration time.Duration
	err      error
}

// recordingMetrics captures task executions for assertions.
type recordingMetrics struct {
	mu    sync.Mutex
	tasks []taskMetric
}

func (m *recordingMetrics) RecordTaskExecution(_ context.Context, taskType string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, taskMetric{taskType: taskType, duration: duration, err: err})
}

func (m *recordingMetrics) RecordToolExecution(context.Context, string, time.Duration, error) {}

func (m *recordingMetrics) RecordLLMCall(context.Context, string, time.Duration, int, int, error) {
}

func (m *recordingMetrics) recorded() []taskMetric {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]taskMetric(nil), m.tasks...)
}

func TestTaskExecutionRecordsMetrics(t *testing.T) {
	server := fakeBackend(t, http.StatusOK, "all good")
	defer server.Close()

	metrics := &recordingMetrics{}
	observability.SetGlobalMetrics(metrics)
	defer observability.SetGlobalMetrics(nil)

	orch := New(testConfig(server.URL), WithHTTPClient(noRetryClient()))
	orch.Start(context.Background(), 1)
	defer orch.Stop()

	taskID := orch.SubmitTask(SubmitRequest{Prompt: "write a fibonacci function"})
	require.Eventually(t, func() bool {
		info, ok := orch.GetTaskStatus(taskID)
		return ok && info.Status == task.StatusCompleted
	}, 10*time.Second, 100*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(metrics.recorded()) == 1
	}, 2*time.Second, 50*time.Millisecond)

	got := metrics.recorded()[0]
	assert.NotEmpty(t, got.taskType)
	assert.NoError(t, got.err)
	assert.Greater(t, got.duration, time.Duration(0))
}

func TestFailedTaskRecordsMetricError(t *testing.T) {
	server := fakeBackend(t, http.StatusInternalServerError, "")
	defer server.Close()

	metrics := &recordingMetrics{}
	observability.SetGlobalMetrics(metrics)
	defer observability.SetGlobalMetrics(nil)

	orch := New(testConfig(server.URL), WithHTTPClient(noRetryClient()))
	orch.Start(context.Background(), 1)
	defer orch.Stop()

	taskID := orch.SubmitTask(SubmitRequest{Prompt: "doomed work"})
	require.Eventually(t, func() bool {
		info, ok := orch.GetTaskStatus(taskID)
		return ok && info.Status == task.StatusFailed
	}, 10*time.Second, 100*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(metrics.recorded()) == 1
	}, 2*time.Second, 50*time.Millisecond)
	assert.Error(t, metrics.recorded()[0].err)
}

func TestSubmitTaskDefaults(t *testing.T) {
	server := fakeBackend(t, http.StatusOK, "ok")
	defer server.Close()

	orch := New(testConfig(server.URL))

	longPrompt := strings.Repeat("analyze ", 20)
	taskID := orch.SubmitTask(SubmitRequest{Prompt: longPrompt})

	got, ok := orch.Queue().Get(taskID)
	require.True(t, ok)
	assert.Len(t, got.Name, 50)
	assert.Equal(t, 300, got.Timeout)
	assert.Equal(t, task.PriorityNormal, got.Priority)
}

func TestSubmitBatch(t *testing.T) {
	server := fakeBackend(t, http.StatusOK, "ok")
	defer server.Close()

	orch := New(testConfig(server.URL))
	ids := orch.SubmitBatch([]string{"one", "two", "three"}, "", task.PriorityHigh)
	require.Len(t, ids, 3)

	for _, id := range ids {
		got, ok := orch.Queue().Get(id)
		require.True(t, ok)
		assert.Equal(t, task.PriorityHigh, got.Priority)
	}
}

func TestExecuteWorkflow(t *testing.T) {
	server := fakeBackend(t, http.StatusOK, "ok")
	defer server.Close()

	workflow := `
name: release-check
tasks:
  - name: lint
    command: run the linter
  - name: test
    prompt: run the test suite
    depends_on: [lint]
  - name: report
    command: summarize results
    depends_on: [lint, test]
`
	path := filepath.Join(t.TempDir(), "workflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(workflow), 0o644))

	orch := New(testConfig(server.URL))
	result, err := orch.ExecuteWorkflow(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "release-check", result.WorkflowName)
	require.Len(t, result.TaskIDs, 3)
	require.Len(t, result.TaskMapping, 3)

	report, ok := orch.Queue().Get(result.TaskMapping["report"])
	require.True(t, ok)
	assert.ElementsMatch(t,
		[]string{result.TaskMapping["lint"], result.TaskMapping["test"]},
		report.DependsOn)
	assert.Equal(t, "release-check", report.Metadata["workflow"])

	// Dependent tasks are held until their parents finish.
	assert.Equal(t, task.StatusPending, report.Status)
	lint, _ := orch.Queue().Get(result.TaskMapping["lint"])
	assert.Equal(t, task.StatusQueued, lint.Status)
}

func TestExecuteWorkflowMissingFile(t *testing.T) {
	server := fakeBackend(t, http.StatusOK, "ok")
	defer server.Close()

	orch := New(testConfig(server.URL))
	_, err := orch.ExecuteWorkflow(context.Background(), "/does/not/exist.yaml")
	require.Error(t, err)
}

func TestCancelTask(t *testing.T) {
	server := fakeBackend(t, http.StatusOK, "ok")
	defer server.Close()

	orch := New(testConfig(server.URL))
	taskID := orch.SubmitTask(SubmitRequest{Prompt: "never runs"})

	assert.True(t, orch.CancelTask(taskID))
	info, ok := orch.GetTaskStatus(taskID)
	require.True(t, ok)
	assert.Equal(t, task.StatusCancelled, info.Status)

	assert.False(t, orch.CancelTask("missing"))
}

func TestGetStatus(t *testing.T) {
	server := fakeBackend(t, http.StatusOK, "ok")
	defer server.Close()

	orch := New(testConfig(server.URL), WithHTTPClient(noRetryClient()))

	status := orch.GetStatus()
	assert.False(t, status.Running)
	assert.Equal(t, 0, status.Workers)

	orch.Start(context.Background(), 1)
	defer orch.Stop()

	status = orch.GetStatus()
	assert.True(t, status.Running)
	assert.Equal(t, 1, status.Workers)
	require.Len(t, status.Backends, 1)
	assert.Equal(t, "local", status.Backends[0].Name)
}

func TestEnsureWorkersRequiresRunning(t *testing.T) {
	server := fakeBackend(t, http.StatusOK, "ok")
	defer server.Close()

	orch := New(testConfig(server.URL), WithHTTPClient(noRetryClient()))
	assert.Equal(t, 0, orch.EnsureWorkers(3))

	orch.Start(context.Background(), 1)
	defer orch.Stop()

	assert.Equal(t, 3, orch.EnsureWorkers(3))
	assert.Equal(t, 3, orch.EnsureWorkers(2), "never shrinks")
}

func TestStopIsIdempotent(t *testing.T) {
	server := fakeBackend(t, http.StatusOK, "ok")
	defer server.Close()

	orch := New(testConfig(server.URL), WithHTTPClient(noRetryClient()))
	orch.Start(context.Background(), 1)
	orch.Stop()
	orch.Stop()
	assert.False(t, orch.GetStatus().Running)
	assert.Equal(t, 0, orch.GetStatus().Instances.TotalInstances)
}

func TestDependentTaskRunsAfterParent(t *testing.T) {
	server := fakeBackend(t, http.StatusOK, "done")
	defer server.Close()

	orch := New(testConfig(server.URL), WithHTTPClient(noRetryClient()))
	orch.Start(context.Background(), 1)
	defer orch.Stop()

	parentID := orch.SubmitTask(SubmitRequest{Prompt: "first step"})
	childID := orch.SubmitTask(SubmitRequest{Prompt: "second step", DependsOn: []string{parentID}})

	require.Eventually(t, func() bool {
		info, ok := orch.GetTaskStatus(childID)
		return ok && info.Status == task.StatusCompleted
	}, 15*time.Second, 100*time.Millisecond)

	parent, _ := orch.GetTaskStatus(parentID)
	assert.Equal(t, task.StatusCompleted, parent.Status)
}
