package journal

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

type Factory func(dsn string, capacity int) (Journal, error)

var factoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{
	factories: map[string]Factory{},
}

// RegisterFactory installs a backend for a DSN scheme, overriding the
// built-in one.
func RegisterFactory(scheme string, factory Factory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	factoryRegistry.mu.Lock()
	defer factoryRegistry.mu.Unlock()
	factoryRegistry.factories[scheme] = factory
}

func lookupFactory(scheme string) (Factory, bool) {
	scheme = normalizeScheme(scheme)
	factoryRegistry.mu.RLock()
	defer factoryRegistry.mu.RUnlock()
	factory, ok := factoryRegistry.factories[scheme]
	return factory, ok
}

// BuildFromDSN selects a journal backend from dsn. An empty dsn yields an
// in-memory journal; a bare path is a file journal.
func BuildFromDSN(dsn string, capacity int) (Journal, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewMemoryJournal(capacity), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupFactory(scheme); ok {
		return factory(dsn, capacity)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileJournal(path, capacity)
	case "memory", "mem", "inmem":
		return NewMemoryJournal(capacity), nil
	case "postgres", "postgresql":
		return NewPostgresJournal(dsn)
	case "redis", "rediss":
		return NewRedisJournal(dsn, capacity)
	case "nats", "sqs", "kafka":
		return nil, fmt.Errorf("%w: journal backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported journal scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Host)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
