package task

import (
	"container/heap"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// queueItem is one heap entry. seq preserves FIFO order within a priority.
type queueItem struct {
	taskID   string
	priority Priority
	seq      uint64
}

type priorityHeap []queueItem

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h priorityHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *priorityHeap) Push(x interface{}) { *h = append(*h, x.(queueItem)) }
func (h *priorityHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// QueueStats summarizes the queue state.
type QueueStats struct {
	TotalTasks int            `json:"total_tasks"`
	Queued     int            `json:"queued"`
	Completed  int            `json:"completed"`
	ByStatus   map[Status]int `json:"by_status"`
}

// Queue schedules tasks by priority (higher first, FIFO within a priority)
// and holds back tasks whose dependencies have not completed.
type Queue struct {
	mu        sync.Mutex
	tasks     map[string]*Task
	ready     priorityHeap
	completed map[string]bool // survives ClearCompleted so dependents still promote
	seq       uint64
	logger    *slog.Logger
}

// NewQueue builds an empty queue.
func NewQueue() *Queue {
	return &Queue{
		tasks:     make(map[string]*Task),
		completed: make(map[string]bool),
		logger:    slog.Default().With("component", "queue"),
	}
}

// Add registers a task. Tasks with unmet dependencies stay pending until
// their dependencies complete; the rest are queued immediately.
func (q *Queue) Add(t *Task) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.tasks[t.ID] = t

	if q.dependenciesMet(t) {
		t.Status = StatusQueued
		q.push(t)
		q.logger.Info("task queued", "task_id", t.ID, "name", t.Name, "priority", t.Priority)
	} else {
		t.Status = StatusPending
		q.logger.Info("task waiting on dependencies", "task_id", t.ID, "depends_on", t.DependsOn)
	}
	return t.ID
}

func (q *Queue) push(t *Task) {
	q.seq++
	heap.Push(&q.ready, queueItem{taskID: t.ID, priority: t.Priority, seq: q.seq})
}

// Next pops the highest-priority ready task and marks it running. Returns
// nil when nothing is ready.
func (q *Queue) Next() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.ready.Len() > 0 {
		item := heap.Pop(&q.ready).(queueItem)
		t, ok := q.tasks[item.taskID]
		if !ok || t.Status != StatusQueued {
			// Cancelled or cleared while queued.
			continue
		}
		now := time.Now()
		t.Status = StatusRunning
		t.StartedAt = &now
		q.logger.Info("task started", "task_id", t.ID, "name", t.Name)
		return t
	}
	return nil
}

// Complete marks a task done, fires its callback, and promotes any pending
// tasks whose dependencies are now satisfied.
func (q *Queue) Complete(taskID string, result map[string]interface{}) {
	q.mu.Lock()

	t, ok := q.tasks[taskID]
	if !ok {
		q.mu.Unlock()
		return
	}
	now := time.Now()
	t.Status = StatusCompleted
	t.CompletedAt = &now
	t.Result = result
	q.completed[taskID] = true

	q.logger.Info("task completed", "task_id", taskID, "name", t.Name)
	q.promoteDependents(taskID)
	q.mu.Unlock()

	// Outside the lock so callbacks can re-enter the queue.
	q.fireCallback(t, result)
}

// Fail marks a task failed and fires its callback.
func (q *Queue) Fail(taskID string, errMsg string) {
	q.mu.Lock()

	t, ok := q.tasks[taskID]
	if !ok {
		q.mu.Unlock()
		return
	}
	now := time.Now()
	t.Status = StatusFailed
	t.CompletedAt = &now
	t.Error = errMsg

	q.logger.Error("task failed", "task_id", taskID, "name", t.Name, "error", errMsg)
	q.mu.Unlock()

	q.fireCallback(t, map[string]interface{}{"status": "failed", "error": errMsg})
}

func (q *Queue) fireCallback(t *Task, payload map[string]interface{}) {
	if t.Callback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("task callback panicked", "task_id", t.ID, "panic", r)
		}
	}()
	t.Callback(payload)
}

// Requeue puts a running task back in the ready set, used when no backend
// slot could be acquired.
func (q *Queue) Requeue(taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[taskID]
	if !ok || t.Status != StatusRunning {
		return
	}
	t.Status = StatusQueued
	t.StartedAt = nil
	q.push(t)
}

// Cancel cancels a pending or queued task. Running tasks cannot be
// cancelled.
func (q *Queue) Cancel(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[taskID]
	if !ok {
		return false
	}
	if t.Status == StatusPending || t.Status == StatusQueued {
		t.Status = StatusCancelled
		q.logger.Info("task cancelled", "task_id", taskID, "name", t.Name)
		return true
	}
	return false
}

// Get returns a task by ID.
func (q *Queue) Get(taskID string) (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[taskID]
	return t, ok
}

// GetInfo snapshots a task by ID. Unlike Get, the returned Info is safe to
// read while workers mutate the task.
func (q *Queue) GetInfo(taskID string, includeResult bool) (Info, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[taskID]
	if !ok {
		return Info{}, false
	}
	return t.GetInfo(includeResult), true
}

// List snapshots tasks, optionally filtered by status, sorted by priority
// then recency, newest first. Status "" means all.
func (q *Queue) List(status Status, limit int) []Info {
	q.mu.Lock()
	defer q.mu.Unlock()

	var tasks []*Task
	for _, t := range q.tasks {
		if status != "" && t.Status != status {
			continue
		}
		tasks = append(tasks, t)
	}

	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority > tasks[j].Priority
		}
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})

	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}
	infos := make([]Info, 0, len(tasks))
	for _, t := range tasks {
		infos = append(infos, t.GetInfo(false))
	}
	return infos
}

// Stats returns queue counters.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	byStatus := make(map[Status]int)
	for _, t := range q.tasks {
		byStatus[t.Status]++
	}
	return QueueStats{
		TotalTasks: len(q.tasks),
		Queued:     q.ready.Len(),
		Completed:  len(q.completed),
		ByStatus:   byStatus,
	}
}

// ClearCompleted removes completed tasks from memory and returns how many
// were removed.
func (q *Queue) ClearCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for id, t := range q.tasks {
		if t.Status == StatusCompleted {
			delete(q.tasks, id)
			count++
		}
	}
	return count
}

func (q *Queue) dependenciesMet(t *Task) bool {
	for _, depID := range t.DependsOn {
		if !q.completed[depID] {
			return false
		}
	}
	return true
}

func (q *Queue) promoteDependents(completedID string) {
	for _, t := range q.tasks {
		if t.Status != StatusPending {
			continue
		}
		if !contains(t.DependsOn, completedID) {
			continue
		}
		if q.dependenciesMet(t) {
			t.Status = StatusQueued
			q.push(t)
			q.logger.Info("task queued after dependency", "task_id", t.ID, "name", t.Name)
		}
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
