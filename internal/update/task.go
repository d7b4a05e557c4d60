package update

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/rollout/internal/activation"
)

// TaskStatus is the coarse lifecycle of a background operation.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

var taskSeq atomic.Uint64

// Task tracks one fire-and-forget operation so the control surface can poll
// its progress instead of losing sight of a detached goroutine. There is no
// cancellation: a started task runs to completion or internal failure.
type Task struct {
	ID        string `json:"id"`
	Operation string `json:"operation"`
	Version   string `json:"version"`

	mu         sync.RWMutex
	status     TaskStatus
	state      activation.State
	err        string
	startedAt  time.Time
	finishedAt time.Time
}

func newTask(op, version string) *Task {
	return &Task{
		ID:        fmt.Sprintf("%s-%s-%d", op, version, taskSeq.Add(1)),
		Operation: op,
		Version:   version,
		status:    TaskPending,
		state:     activation.StateIdle,
	}
}

// TaskView is the poll-friendly snapshot of a task.
type TaskView struct {
	ID         string           `json:"id"`
	Operation  string           `json:"operation"`
	Version    string           `json:"version"`
	Status     TaskStatus       `json:"status"`
	State      activation.State `json:"state"`
	Error      string           `json:"error,omitempty"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

// View returns a consistent snapshot of the task.
func (t *Task) View() TaskView {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v := TaskView{
		ID:        t.ID,
		Operation: t.Operation,
		Version:   t.Version,
		Status:    t.status,
		State:     t.state,
		Error:     t.err,
	}
	if !t.startedAt.IsZero() {
		started := t.startedAt
		v.StartedAt = &started
	}
	if !t.finishedAt.IsZero() {
		finished := t.finishedAt
		v.FinishedAt = &finished
	}
	return v
}

func (t *Task) start() {
	t.mu.Lock()
	t.status = TaskRunning
	t.startedAt = time.Now().UTC()
	t.mu.Unlock()
}

func (t *Task) setState(s activation.State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Task) finish(err error) {
	t.mu.Lock()
	t.finishedAt = time.Now().UTC()
	if err != nil {
		t.status = TaskFailed
		t.err = err.Error()
	} else {
		t.status = TaskSucceeded
	}
	t.mu.Unlock()
}
