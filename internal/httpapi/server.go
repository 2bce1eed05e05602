// Package httpapi serves read-only sync status over HTTP: queue state,
// the outcome journal and a websocket event feed.
package httpapi

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/themesync/internal/journal"
	"github.com/agentworkforce/themesync/internal/uploadqueue"
)

const (
	scopeQueueRead   = "queue:read"
	scopeJournalRead = "journal:read"
	scopeEventsRead  = "events:read"
)

type ServerConfig struct {
	JWTSecret       string
	RateLimitMax    int
	RateLimitWindow time.Duration
}

// QueueSource lists the queues to report on. *uploadqueue.Registry
// satisfies it.
type QueueSource interface {
	Queues() []*uploadqueue.Queue
}

type Server struct {
	queues      QueueSource
	journal     journal.Journal
	events      http.Handler
	cfg         ServerConfig
	rateLimiter *rateLimiter
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

// NewServer builds the handler. events may be nil, in which case the
// websocket route answers 404. Without a JWTSecret only /health is
// reachable.
func NewServer(queues QueueSource, j journal.Journal, events http.Handler, cfg ServerConfig) *Server {
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		queues:      queues,
		journal:     j,
		events:      events,
		cfg:         cfg,
		rateLimiter: limiter,
	}
}

type QueueStatus struct {
	Store   string                 `json:"store"`
	ThemeID string                 `json:"themeId"`
	Running bool                   `json:"running"`
	Depth   int                    `json:"depth"`
	Rate    RateStatus             `json:"rate"`
	Tasks   []uploadqueue.TaskInfo `json:"tasks"`
}

type RateStatus struct {
	Known     bool   `json:"known"`
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	ResetHint string `json:"resetHint,omitempty"`
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	var requiredScope string
	switch {
	case r.URL.Path == "/v1/queue/status" && r.Method == http.MethodGet:
		requiredScope = scopeQueueRead
	case r.URL.Path == "/v1/journal" && r.Method == http.MethodGet:
		requiredScope = scopeJournalRead
	case r.URL.Path == "/v1/events" && r.Method == http.MethodGet:
		requiredScope = scopeEventsRead
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}

	correlationID := getCorrelationID(r)
	claims, authErr := authorizeBearer(bearerHeader(r), s.cfg.JWTSecret, requiredScope, time.Now().UTC())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
		return
	}
	if s.rateLimiter != nil && !s.rateLimiter.allow(claims.Subject, time.Now().UTC()) {
		retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
		return
	}

	switch requiredScope {
	case scopeQueueRead:
		s.handleQueueStatus(w)
	case scopeJournalRead:
		s.handleJournal(w, r, correlationID)
	case scopeEventsRead:
		if s.events == nil {
			writeError(w, http.StatusNotFound, "not_found", "event stream disabled", correlationID)
			return
		}
		s.events.ServeHTTP(w, r)
	}
}

func (s *Server) handleQueueStatus(w http.ResponseWriter) {
	out := []QueueStatus{}
	if s.queues != nil {
		for _, q := range s.queues.Queues() {
			rate := q.RateState()
			status := RateStatus{
				Known:     rate.Known(),
				Used:      rate.Used,
				Limit:     rate.Limit,
				Remaining: rate.Remaining,
			}
			if rate.ResetHint > 0 {
				status.ResetHint = rate.ResetHint.String()
			}
			out = append(out, QueueStatus{
				Store:   q.Store(),
				ThemeID: q.ThemeID(),
				Running: q.Running(),
				Depth:   q.Len(),
				Rate:    status,
				Tasks:   q.Snapshot(),
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"queues": out})
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request, correlationID string) {
	limit, err := parseOptionalBoundedInt(r.URL.Query().Get("limit"), journal.DefaultLimit, 1, 1_000)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid limit", correlationID)
		return
	}
	if s.journal == nil {
		writeJSON(w, http.StatusOK, map[string]any{"entries": []journal.Entry{}})
		return
	}
	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "journal unavailable", correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// bearerHeader also accepts an access_token query parameter because
// browser websocket clients cannot set headers.
func bearerHeader(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		return header
	}
	if token := strings.TrimSpace(r.URL.Query().Get("access_token")); token != "" {
		return "Bearer " + token
	}
	return ""
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func parseOptionalBoundedInt(raw string, fallback, min, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if value < min || value > max {
		return 0, strconv.ErrRange
	}
	return value, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}
