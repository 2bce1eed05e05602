package journal

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileJournal keeps entries in a JSON snapshot rewritten atomically on
// every record.
type FileJournal struct {
	path     string
	capacity int

	mu      sync.Mutex
	entries []Entry
}

type fileJournalState struct {
	Entries []Entry `json:"entries"`
}

func NewFileJournal(path string, capacity int) (*FileJournal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	j := &FileJournal{path: path, capacity: capacity}
	if err := j.load(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *FileJournal) Record(_ context.Context, entry Entry) error {
	entry, err := normalizeEntry(entry)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	previous := j.entries
	j.entries = append(append([]Entry(nil), j.entries...), entry)
	if len(j.entries) > j.capacity {
		j.entries = j.entries[len(j.entries)-j.capacity:]
	}
	if err := j.saveLocked(); err != nil {
		j.entries = previous
		return err
	}
	return nil
}

func (j *FileJournal) Recent(_ context.Context, limit int) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return newestFirst(j.entries, normalizeLimit(limit)), nil
}

func (j *FileJournal) Close() error {
	return nil
}

func (j *FileJournal) load() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	data, err := os.ReadFile(j.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var snapshot fileJournalState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	if len(snapshot.Entries) > j.capacity {
		j.entries = append([]Entry(nil), snapshot.Entries[len(snapshot.Entries)-j.capacity:]...)
		return j.saveLocked()
	}
	j.entries = snapshot.Entries
	return nil
}

func (j *FileJournal) saveLocked() error {
	data, err := json.Marshal(fileJournalState{Entries: j.entries})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return err
	}
	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, j.path)
}
