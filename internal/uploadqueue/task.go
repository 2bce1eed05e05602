package uploadqueue

import (
	"context"
	"sync"
	"time"
)

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Intent is a producer's request to write one resource. Key wins over
// Path when both are set; otherwise Path is resolved against the queue root.
type Intent struct {
	Path       string
	Key        string
	Action     Action
	Payload    []byte
	OnComplete func(error)
}

type TaskState string

const (
	StatePending   TaskState = "pending"
	StateInFlight  TaskState = "in_flight"
	StateSucceeded TaskState = "succeeded"
	StateFailed    TaskState = "failed"
)

type task struct {
	id         string
	key        string
	intent     Intent
	attempts   int
	enqueuedAt time.Time
	state      TaskState
	completion *Completion
}

// TaskInfo is a read-only view of a live task.
type TaskInfo struct {
	ID         string    `json:"id"`
	Key        string    `json:"key"`
	Action     Action    `json:"action"`
	Attempts   int       `json:"attempts"`
	State      TaskState `json:"state"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

func (t *task) info() TaskInfo {
	return TaskInfo{
		ID:         t.id,
		Key:        t.key,
		Action:     t.intent.Action,
		Attempts:   t.attempts,
		State:      t.state,
		EnqueuedAt: t.enqueuedAt,
	}
}

// Completion resolves once per task. A terminal outcome (success or a
// *TaskError) also runs the intent's OnComplete; ErrSuperseded and
// ErrAborted resolve the future without running it.
type Completion struct {
	key  string
	once sync.Once
	done chan struct{}
	err  error
}

func newCompletion(key string) *Completion {
	return &Completion{key: key, done: make(chan struct{})}
}

func (c *Completion) Key() string {
	return c.key
}

func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Err returns the resolved outcome, or nil while the task is still live.
func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Completion) resolve(err error, onComplete func(error)) bool {
	resolved := false
	c.once.Do(func() {
		resolved = true
		c.err = err
		close(c.done)
		if onComplete != nil {
			onComplete(err)
		}
	})
	return resolved
}

type EventType string

const (
	EventEnqueued          EventType = "task.enqueued"
	EventSuperseded        EventType = "task.superseded"
	EventRetried           EventType = "task.retried"
	EventSucceeded         EventType = "task.succeeded"
	EventFailed            EventType = "task.failed"
	EventDrained           EventType = "queue.drained"
	EventDrainedWithErrors EventType = "queue.drained_with_errors"
	EventAborted           EventType = "queue.aborted"
)

type Event struct {
	Type      EventType `json:"type"`
	Store     string    `json:"store,omitempty"`
	ThemeID   string    `json:"themeId,omitempty"`
	TaskID    string    `json:"taskId,omitempty"`
	Key       string    `json:"key,omitempty"`
	Action    Action    `json:"action,omitempty"`
	Attempts  int       `json:"attempts,omitempty"`
	Class     string    `json:"class,omitempty"`
	Error     string    `json:"error,omitempty"`
	Succeeded int       `json:"succeeded,omitempty"`
	Failed    int       `json:"failed,omitempty"`
	Dropped   int       `json:"dropped,omitempty"`
	Time      time.Time `json:"time"`
}

type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}
