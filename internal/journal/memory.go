package journal

import (
	"context"
	"sync"
)

type MemoryJournal struct {
	mu       sync.Mutex
	capacity int
	entries  []Entry
}

func NewMemoryJournal(capacity int) *MemoryJournal {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryJournal{capacity: capacity}
}

func (j *MemoryJournal) Record(_ context.Context, entry Entry) error {
	entry, err := normalizeEntry(entry)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
	if len(j.entries) > j.capacity {
		j.entries = append([]Entry(nil), j.entries[len(j.entries)-j.capacity:]...)
	}
	return nil
}

func (j *MemoryJournal) Recent(_ context.Context, limit int) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return newestFirst(j.entries, normalizeLimit(limit)), nil
}

func (j *MemoryJournal) Close() error {
	return nil
}

// newestFirst returns up to limit entries from the tail of entries in
// reverse order.
func newestFirst(entries []Entry, limit int) []Entry {
	if limit > len(entries) {
		limit = len(entries)
	}
	out := make([]Entry, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out
}
