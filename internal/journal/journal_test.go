package journal

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/themesync/internal/uploadqueue"
)

func entryFor(key string, outcome Outcome) Entry {
	return Entry{Store: "demo-shop", ThemeID: "42", Key: key, Action: uploadqueue.ActionUpdate, Outcome: outcome}
}

func exerciseJournal(t *testing.T, j Journal) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, j.Record(ctx, entryFor("assets/a.js", OutcomeSucceeded)))
	require.NoError(t, j.Record(ctx, entryFor("assets/b.js", OutcomeFailed)))
	require.NoError(t, j.Record(ctx, entryFor("assets/c.js", OutcomeSucceeded)))
	require.ErrorIs(t, j.Record(ctx, Entry{Store: "demo-shop"}), ErrInvalidInput)

	recent, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "assets/c.js", recent[0].Key)
	require.Equal(t, "assets/b.js", recent[1].Key)
	require.Equal(t, OutcomeFailed, recent[1].Outcome)
	require.NotEmpty(t, recent[0].ID)
	require.False(t, recent[0].Time.IsZero())
}

func TestMemoryJournal(t *testing.T) {
	exerciseJournal(t, NewMemoryJournal(10))
}

func TestMemoryJournalCapacity(t *testing.T) {
	j := NewMemoryJournal(2)
	ctx := context.Background()
	for _, key := range []string{"assets/a.js", "assets/b.js", "assets/c.js"} {
		require.NoError(t, j.Record(ctx, entryFor(key, OutcomeSucceeded)))
	}
	recent, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "assets/b.js", recent[1].Key)
}

func TestFileJournalPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "journal.json")
	j, err := NewFileJournal(path, 10)
	require.NoError(t, err)
	exerciseJournal(t, j)

	reopened, err := NewFileJournal(path, 10)
	require.NoError(t, err)
	recent, err := reopened.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	require.Equal(t, "assets/a.js", recent[2].Key)
}

func TestRedisJournal(t *testing.T) {
	mr := miniredis.RunT(t)
	j, err := NewRedisJournal("redis://"+mr.Addr()+"?key=test:journal", 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	exerciseJournal(t, j)

	n, err := redis.NewClient(&redis.Options{Addr: mr.Addr()}).LLen(context.Background(), "test:journal").Result()
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestPostgresJournalReportsOpenFailure(t *testing.T) {
	j, err := NewPostgresJournal("postgres://localhost/themesync")
	require.NoError(t, err)
	j.openDB = func(string, string) (*sql.DB, error) {
		return nil, errors.New("dial refused")
	}
	err = j.Record(context.Background(), entryFor("assets/a.js", OutcomeSucceeded))
	require.EqualError(t, err, "dial refused")
	_, err = j.Recent(context.Background(), 1)
	require.EqualError(t, err, "dial refused")

	_, err = NewPostgresJournal("  ")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestBuildFromDSN(t *testing.T) {
	j, err := BuildFromDSN("", 0)
	require.NoError(t, err)
	require.IsType(t, &MemoryJournal{}, j)

	j, err = BuildFromDSN("memory://", 0)
	require.NoError(t, err)
	require.IsType(t, &MemoryJournal{}, j)

	path := filepath.Join(t.TempDir(), "journal.json")
	j, err = BuildFromDSN(path, 0)
	require.NoError(t, err)
	require.IsType(t, &FileJournal{}, j)

	j, err = BuildFromDSN("file://"+path, 0)
	require.NoError(t, err)
	require.IsType(t, &FileJournal{}, j)

	j, err = BuildFromDSN("postgres://user@localhost/themesync", 0)
	require.NoError(t, err)
	require.IsType(t, &PostgresJournal{}, j)

	_, err = BuildFromDSN("kafka://broker", 0)
	require.ErrorIs(t, err, ErrNotImplemented)

	_, err = BuildFromDSN("ftp://host/x", 0)
	require.Error(t, err)
}

func TestRegisterFactoryOverridesScheme(t *testing.T) {
	custom := NewMemoryJournal(1)
	RegisterFactory("Custom", func(string, int) (Journal, error) { return custom, nil })
	j, err := BuildFromDSN("custom://anything", 0)
	require.NoError(t, err)
	require.Same(t, custom, j)
}

func TestEntryFromEvent(t *testing.T) {
	now := time.Now().UTC()
	entry, ok := EntryFromEvent(uploadqueue.Event{Type: uploadqueue.EventFailed, Store: "demo-shop", Key: "templates/x.liquid", Class: "unprocessable", Error: "bad liquid", Attempts: 1, Time: now})
	require.True(t, ok)
	require.Equal(t, OutcomeFailed, entry.Outcome)
	require.Equal(t, "unprocessable", entry.Class)
	require.Equal(t, now, entry.Time)

	entry, ok = EntryFromEvent(uploadqueue.Event{Type: uploadqueue.EventAborted, Dropped: 3})
	require.True(t, ok)
	require.Equal(t, OutcomeAborted, entry.Outcome)
	require.Equal(t, 3, entry.Dropped)

	_, ok = EntryFromEvent(uploadqueue.Event{Type: uploadqueue.EventRetried})
	require.False(t, ok)
}

func TestSinkRecordsTerminalEvents(t *testing.T) {
	j := NewMemoryJournal(10)
	sink := NewSink(j, "run-1", 4, nil)
	sink.Observe(uploadqueue.Event{Type: uploadqueue.EventEnqueued, Key: "assets/a.js"})
	sink.Observe(uploadqueue.Event{Type: uploadqueue.EventSucceeded, Store: "demo-shop", Key: "assets/a.js"})
	sink.Close()

	recent, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "run-1", recent[0].RunID)
	require.Equal(t, OutcomeSucceeded, recent[0].Outcome)
}
