// Package events fans queue events out to in-process subscribers and
// websocket clients.
package events

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/agentworkforce/themesync/internal/uploadqueue"
)

const (
	defaultBuffer = 64
	writeTimeout  = 5 * time.Second
)

type Event = uploadqueue.Event

// Hub delivers every published event to each subscriber without blocking
// the publisher. A subscriber whose buffer is full misses the event.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	closed      bool
	dropped     atomic.Int64
}

func NewHub() *Hub {
	return &Hub{subscribers: map[int]chan Event{}}
}

// Publish matches the uploadqueue.Queue.Subscribe callback.
func (h *Hub) Publish(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for _, ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel of future events and a cancel func that
// closes it.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subscribers[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if existing, ok := h.subscribers[id]; ok {
				delete(h.subscribers, id)
				close(existing)
			}
		})
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Dropped counts deliveries skipped because a subscriber was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subscribers {
		delete(h.subscribers, id)
		close(ch)
	}
}

// ServeWebSocket upgrades the request and streams events as JSON text
// frames until the client goes away or the hub closes.
func (h *Hub) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	events, cancel := h.Subscribe(defaultBuffer)
	defer cancel()
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := writeEvent(ctx, conn, event); err != nil {
				return
			}
		}
	}
}

func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(h.ServeWebSocket)
}

func writeEvent(ctx context.Context, conn *websocket.Conn, event Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, event)
}
