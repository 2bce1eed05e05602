package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresJournalTableName = "themesync_journal"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresJournal appends entries to a table created on first use.
type PostgresJournal struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresJournal(dsn string) (*PostgresJournal, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresJournal{
		dsn:       dsn,
		tableName: postgresJournalTableName,
		openDB:    sql.Open,
	}, nil
}

func (j *PostgresJournal) Record(ctx context.Context, entry Entry) error {
	entry, err := normalizeEntry(entry)
	if err != nil {
		return err
	}
	if err := j.ensureReady(); err != nil {
		return err
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (entry_id, store, asset_key, outcome, payload, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (entry_id) DO NOTHING`, postgresQuoteIdentifier(j.tableName))
	_, err = j.db.ExecContext(ctx, query, entry.ID, entry.Store, entry.Key, string(entry.Outcome), string(payload), entry.Time)
	return err
}

func (j *PostgresJournal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if err := j.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT payload FROM %s ORDER BY id DESC LIMIT $1", postgresQuoteIdentifier(j.tableName))
	rows, err := j.db.QueryContext(ctx, query, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var entry Entry
		if err := json.Unmarshal([]byte(payload), &entry); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (j *PostgresJournal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *PostgresJournal) ensureReady() error {
	if j == nil {
		return ErrInvalidInput
	}
	j.initOnce.Do(func() {
		db, err := j.openDB("postgres", j.dsn)
		if err != nil {
			j.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				entry_id TEXT NOT NULL UNIQUE,
				store TEXT NOT NULL,
				asset_key TEXT NOT NULL DEFAULT '',
				outcome TEXT NOT NULL,
				payload TEXT NOT NULL,
				recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresQuoteIdentifier(j.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			j.initErr = err
			return
		}
		j.db = db
	})
	return j.initErr
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
