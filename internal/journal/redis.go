package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultRedisKey       = "themesync:journal"
	redisOperationTimeout = 5 * time.Second
)

// RedisJournal keeps entries in a capped list, newest at the head.
type RedisJournal struct {
	client   *redis.Client
	key      string
	capacity int
}

// NewRedisJournal connects using a redis:// URL. The "key" query
// parameter overrides the list key.
func NewRedisJournal(rawURL string, capacity int) (*RedisJournal, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, errors.New("redis journal requires a URL")
	}
	key := DefaultRedisKey
	if idx := strings.Index(rawURL, "?"); idx >= 0 {
		query := rawURL[idx+1:]
		rawURL = rawURL[:idx]
		for _, pair := range strings.Split(query, "&") {
			if name, value, ok := strings.Cut(pair, "="); ok && name == "key" && value != "" {
				key = value
			}
		}
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("redis journal: invalid URL: %w", err)
	}
	return newRedisJournal(redis.NewClient(opts), key, capacity), nil
}

func newRedisJournal(client *redis.Client, key string, capacity int) *RedisJournal {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if strings.TrimSpace(key) == "" {
		key = DefaultRedisKey
	}
	return &RedisJournal{client: client, key: key, capacity: capacity}
}

func (j *RedisJournal) Record(ctx context.Context, entry Entry) error {
	entry, err := normalizeEntry(entry)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis journal: marshal entry: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, redisOperationTimeout)
	defer cancel()

	pipe := j.client.TxPipeline()
	pipe.LPush(ctx, j.key, payload)
	pipe.LTrim(ctx, j.key, 0, int64(j.capacity-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis journal: record: %w", err)
	}
	return nil
}

func (j *RedisJournal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOperationTimeout)
	defer cancel()

	payloads, err := j.client.LRange(ctx, j.key, 0, int64(normalizeLimit(limit)-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis journal: recent: %w", err)
	}
	out := make([]Entry, 0, len(payloads))
	for _, payload := range payloads {
		var entry Entry
		if err := json.Unmarshal([]byte(payload), &entry); err != nil {
			return nil, fmt.Errorf("redis journal: decode entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, nil
}

func (j *RedisJournal) Close() error {
	return j.client.Close()
}
