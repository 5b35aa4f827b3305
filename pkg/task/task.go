// Package task defines tasks and the priority queue that schedules them.
package task

import (
	"time"

	"github.com/google/uuid"
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Priority orders tasks in the queue. Higher runs first.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

// Task is one unit of work submitted to the orchestrator.
type Task struct {
	ID               string
	Name             string
	Prompt           string
	WorkingDirectory string
	Priority         Priority
	Timeout          int // seconds
	Status           Status
	InstanceID       string
	PreferredModel   string
	DependsOn        []string
	CreatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
	Result           map[string]interface{}
	Error            string
	Metadata         map[string]interface{}

	// Callback fires when the task completes or fails. Panics and errors
	// inside it are logged, never propagated.
	Callback func(result map[string]interface{})
}

// NewTask builds a task with defaults filled in.
func NewTask(name, prompt string) *Task {
	return &Task{
		ID:        uuid.NewString(),
		Name:      name,
		Prompt:    prompt,
		Priority:  PriorityNormal,
		Timeout:   300,
		Status:    StatusPending,
		CreatedAt: time.Now(),
		Metadata:  make(map[string]interface{}),
	}
}

// Info is the API-facing snapshot of a task.
type Info struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"`
	Prompt          string                 `json:"prompt"`
	Status          Status                 `json:"status"`
	Priority        Priority               `json:"priority"`
	InstanceID      string                 `json:"instance_id,omitempty"`
	DependsOn       []string               `json:"depends_on,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	StartedAt       *time.Time             `json:"started_at,omitempty"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	DurationSeconds *float64               `json:"duration_seconds,omitempty"`
	Error           string                 `json:"error,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	Result          map[string]interface{} `json:"result,omitempty"`
}

// GetInfo snapshots a task. The prompt is truncated to 100 characters; the
// result is included only on request.
func (t *Task) GetInfo(includeResult bool) Info {
	prompt := t.Prompt
	if len(prompt) > 100 {
		prompt = prompt[:100]
	}

	info := Info{
		ID:          t.ID,
		Name:        t.Name,
		Prompt:      prompt,
		Status:      t.Status,
		Priority:    t.Priority,
		InstanceID:  t.InstanceID,
		DependsOn:   t.DependsOn,
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
		Error:       t.Error,
		Metadata:    t.Metadata,
	}
	if t.StartedAt != nil && t.CompletedAt != nil {
		duration := t.CompletedAt.Sub(*t.StartedAt).Seconds()
		info.DurationSeconds = &duration
	}
	if includeResult && t.Result != nil {
		info.Result = t.Result
	}
	return info
}
