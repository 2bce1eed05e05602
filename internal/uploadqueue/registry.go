package uploadqueue

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/agentworkforce/themesync/internal/assetapi"
)

// Target identifies one remote store and credential pair. Queues are
// shared per (Store, APIKey); ThemeID only retargets the shared queue.
type Target struct {
	Store   string
	APIKey  string
	ThemeID string
}

func (t Target) registryKey() string {
	return strings.ToLower(strings.TrimSpace(t.Store)) + "\x00" + strings.TrimSpace(t.APIKey)
}

type ClientFactory func(Target) (assetapi.Client, error)

// Registry hands out one Queue per target so every producer writing to
// the same store shares its pacing and coalescing.
type Registry struct {
	factory ClientFactory
	opts    Options

	mu     sync.RWMutex
	queues map[string]*Queue
	closed bool
}

func NewRegistry(factory ClientFactory, opts Options) *Registry {
	return &Registry{
		factory: factory,
		opts:    opts,
		queues:  map[string]*Queue{},
	}
}

// Open returns the queue for target, creating it on first use. A non-empty
// ThemeID retargets an existing queue.
func (r *Registry) Open(target Target) (*Queue, error) {
	if strings.TrimSpace(target.Store) == "" {
		return nil, errors.New("store is required")
	}
	key := target.registryKey()

	r.mu.RLock()
	q, ok := r.queues[key]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if ok {
		q.SetThemeID(target.ThemeID)
		return q, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if q, ok := r.queues[key]; ok {
		q.SetThemeID(target.ThemeID)
		return q, nil
	}
	if r.factory == nil {
		return nil, errors.New("client factory is required")
	}
	client, err := r.factory(target)
	if err != nil {
		return nil, fmt.Errorf("client for %s: %w", target.Store, err)
	}
	opts := r.opts
	opts.Store = target.Store
	opts.ThemeID = target.ThemeID
	q = New(client, opts)
	r.queues[key] = q
	return q, nil
}

// Queues lists open queues ordered by store.
func (r *Registry) Queues() []*Queue {
	r.mu.RLock()
	out := make([]*Queue, 0, len(r.queues))
	for _, q := range r.queues {
		out = append(out, q)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Store() < out[j].Store() })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.queues)
}

// Close closes every queue and rejects further Opens.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	queues := make([]*Queue, 0, len(r.queues))
	for _, q := range r.queues {
		queues = append(queues, q)
	}
	r.mu.Unlock()
	var errs []error
	for _, q := range queues {
		if err := q.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
