// Package uploadqueue serializes theme asset writes against one remote
// target.
//
// Producers call Enqueue from any goroutine. A single drain goroutine per
// Queue pulls tasks in FIFO order, makes one remote call at a time, paces
// calls when the remote call budget runs low, re-enqueues rate-limited and
// transient failures, and resolves each task's Completion exactly once.
// At most one pending task exists per resource key: a newer write for the
// same key replaces the older one, whose callback never runs.
package uploadqueue

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentworkforce/themesync/internal/assetapi"
	"github.com/agentworkforce/themesync/internal/assetkey"
)

const (
	DefaultCooldown = 600 * time.Millisecond
	DefaultLowWater = 1

	maxUnreported = 500
)

type Options struct {
	Store   string
	ThemeID string
	// Root is stripped from intent paths before key resolution.
	Root string
	// Cooldown is the pause before a call when the remaining call budget
	// is at or below LowWater, or after a retryable failure.
	Cooldown time.Duration
	LowWater int
	Logger   Logger
}

type Queue struct {
	client   assetapi.Client
	store    string
	root     string
	cooldown time.Duration
	lowWater int
	logger   Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// callMu keeps every remote call for this target single-flight,
	// including purge listings made outside the drain loop.
	callMu sync.Mutex

	mu           sync.Mutex
	themeID      string
	pending      *list.List
	index        map[string]*list.Element
	inflight     *task
	running      bool
	stopped      bool
	aborted      bool
	closed       bool
	backoff      bool
	retryAfter   time.Duration
	waiters      []chan error
	cycleOK      int
	cycleFailed  int
	unreported   []*TaskError
	observers    map[int]func(Event)
	nextObserver int
	interrupt    chan struct{}
}

func New(client assetapi.Client, opts Options) *Queue {
	cooldown := opts.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	lowWater := opts.LowWater
	if lowWater <= 0 {
		lowWater = DefaultLowWater
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		client:    client,
		store:     strings.TrimSpace(opts.Store),
		themeID:   strings.TrimSpace(opts.ThemeID),
		root:      opts.Root,
		cooldown:  cooldown,
		lowWater:  lowWater,
		logger:    opts.Logger,
		ctx:       ctx,
		cancel:    cancel,
		pending:   list.New(),
		index:     map[string]*list.Element{},
		observers: map[int]func(Event){},
		interrupt: make(chan struct{}, 1),
	}
}

// Enqueue appends a write for the intent's resource key, replacing any
// still-pending task for the same key. The returned Completion resolves
// when the task reaches a terminal state, is superseded, or is aborted.
// An unresolvable path fails the enqueue with assetkey.ErrInvalidPath.
func (q *Queue) Enqueue(intent Intent) (*Completion, error) {
	key := strings.TrimSpace(intent.Key)
	if key == "" {
		resolved, err := assetkey.Resolve(intent.Path, q.root)
		if err != nil {
			q.logf("error", "invalid resource path %s: %v", intent.Path, err)
			return nil, err
		}
		key = resolved
	}
	switch intent.Action {
	case ActionCreate, ActionUpdate, ActionDelete:
	default:
		intent.Action = ActionCreate
	}
	if intent.Action == ActionDelete {
		intent.Payload = nil
	}
	t := &task{
		id:         uuid.NewString(),
		key:        key,
		intent:     intent,
		enqueuedAt: time.Now().UTC(),
		state:      StatePending,
		completion: newCompletion(key),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosed
	}
	var replaced *task
	if elem, ok := q.index[key]; ok {
		replaced = q.pending.Remove(elem).(*task)
	}
	q.index[key] = q.pending.PushBack(t)
	q.startLocked()
	q.mu.Unlock()

	if replaced != nil {
		q.logf("debug", "replacing task for %s", key)
		replaced.completion.resolve(ErrSuperseded, nil)
		q.emit(Event{Type: EventSuperseded, TaskID: replaced.id, Key: key, Action: replaced.intent.Action})
	}
	q.emit(Event{Type: EventEnqueued, TaskID: t.id, Key: key, Action: t.intent.Action})
	return t.completion, nil
}

// IsEmpty reports whether no task is pending or in flight.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len() == 0 && q.inflight == nil
}

// Len counts pending tasks plus the in-flight one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.pending.Len()
	if q.inflight != nil {
		n++
	}
	return n
}

// Snapshot lists live tasks, the in-flight one first.
func (q *Queue) Snapshot() []TaskInfo {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]TaskInfo, 0, q.pending.Len()+1)
	if q.inflight != nil {
		out = append(out, q.inflight.info())
	}
	for elem := q.pending.Front(); elem != nil; elem = elem.Next() {
		out = append(out, elem.Value.(*task).info())
	}
	return out
}

func (q *Queue) Store() string {
	return q.store
}

func (q *Queue) ThemeID() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.themeID
}

// SetThemeID retargets subsequent calls; tasks already in flight keep the
// theme they were pulled with.
func (q *Queue) SetThemeID(themeID string) {
	themeID = strings.TrimSpace(themeID)
	if themeID == "" {
		return
	}
	q.mu.Lock()
	q.themeID = themeID
	q.mu.Unlock()
}

func (q *Queue) RateState() assetapi.RateState {
	return q.client.RateState()
}

// Running reports whether a drain loop is active.
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Subscribe registers fn for every queue event. Events are delivered on
// the goroutine that produced them, outside the queue lock.
func (q *Queue) Subscribe(fn func(Event)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	q.mu.Lock()
	id := q.nextObserver
	q.nextObserver++
	q.observers[id] = fn
	q.mu.Unlock()
	return func() {
		q.mu.Lock()
		delete(q.observers, id)
		q.mu.Unlock()
	}
}

func (q *Queue) emit(event Event) {
	q.mu.Lock()
	if len(q.observers) == 0 {
		q.mu.Unlock()
		return
	}
	observers := make([]func(Event), 0, len(q.observers))
	for _, fn := range q.observers {
		observers = append(observers, fn)
	}
	event.Store = q.store
	event.ThemeID = q.themeID
	q.mu.Unlock()
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	for _, fn := range observers {
		fn(event)
	}
}

func (q *Queue) logf(level, format string, args ...any) {
	if q.logger == nil {
		return
	}
	switch level {
	case "debug":
		q.logger.Debugf(format, args...)
	case "warn":
		q.logger.Warnf(format, args...)
	case "error":
		q.logger.Errorf(format, args...)
	default:
		q.logger.Infof(format, args...)
	}
}
