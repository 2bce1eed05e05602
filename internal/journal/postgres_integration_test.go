package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

func TestPostgresIntegrationJournalRoundTrip(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("THEMESYNC_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set THEMESYNC_TEST_POSTGRES_DSN to run Postgres integration tests")
	}
	j, err := NewPostgresJournal(dsn)
	if err != nil {
		t.Fatalf("new postgres journal: %v", err)
	}
	j.tableName = fmt.Sprintf("themesync_journal_it_%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_ = j.Close()
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return
		}
		defer db.Close()
		_, _ = db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", postgresQuoteIdentifier(j.tableName)))
	})

	exerciseJournal(t, j)

	recent, err := j.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(recent))
	}
}
