// Package journal keeps a durable record of terminal upload outcomes so
// operators can inspect what a sync run did after the fact.
package journal

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentworkforce/themesync/internal/uploadqueue"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
)

const (
	DefaultCapacity = 1000
	DefaultLimit    = 50
)

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeAborted   Outcome = "aborted"
)

type Entry struct {
	ID       string             `json:"id"`
	RunID    string             `json:"runId,omitempty"`
	Store    string             `json:"store"`
	ThemeID  string             `json:"themeId,omitempty"`
	TaskID   string             `json:"taskId,omitempty"`
	Key      string             `json:"key,omitempty"`
	Action   uploadqueue.Action `json:"action,omitempty"`
	Outcome  Outcome            `json:"outcome"`
	Class    string             `json:"class,omitempty"`
	Error    string             `json:"error,omitempty"`
	Attempts int                `json:"attempts,omitempty"`
	Dropped  int                `json:"dropped,omitempty"`
	Time     time.Time          `json:"time"`
}

// Journal stores entries and returns the most recent ones first.
type Journal interface {
	Record(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// EntryFromEvent maps a queue event to a journal entry. Only terminal
// task outcomes and aborts are journaled.
func EntryFromEvent(event uploadqueue.Event) (Entry, bool) {
	entry := Entry{
		Store:    event.Store,
		ThemeID:  event.ThemeID,
		TaskID:   event.TaskID,
		Key:      event.Key,
		Action:   event.Action,
		Class:    event.Class,
		Error:    event.Error,
		Attempts: event.Attempts,
		Time:     event.Time,
	}
	switch event.Type {
	case uploadqueue.EventSucceeded:
		entry.Outcome = OutcomeSucceeded
	case uploadqueue.EventFailed:
		entry.Outcome = OutcomeFailed
	case uploadqueue.EventAborted:
		entry.Outcome = OutcomeAborted
		entry.Dropped = event.Dropped
	default:
		return Entry{}, false
	}
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}
	return entry, true
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}

func normalizeEntry(entry Entry) (Entry, error) {
	entry.Store = strings.TrimSpace(entry.Store)
	if entry.Outcome == "" {
		return Entry{}, ErrInvalidInput
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}
	return entry, nil
}
