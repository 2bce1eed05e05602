package events

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/agentworkforce/themesync/internal/uploadqueue"
)

func TestHubFansOutToSubscribers(t *testing.T) {
	hub := NewHub()
	first, cancelFirst := hub.Subscribe(1)
	second, cancelSecond := hub.Subscribe(1)
	defer cancelSecond()

	hub.Publish(Event{Type: uploadqueue.EventSucceeded, Key: "assets/a.js"})
	require.Equal(t, "assets/a.js", (<-first).Key)
	require.Equal(t, "assets/a.js", (<-second).Key)

	cancelFirst()
	_, ok := <-first
	require.False(t, ok)
	require.Equal(t, 1, hub.Subscribers())
}

func TestHubDropsWhenSubscriberIsFull(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe(1)
	defer cancel()
	hub.Publish(Event{Type: uploadqueue.EventEnqueued})
	hub.Publish(Event{Type: uploadqueue.EventEnqueued})
	require.Equal(t, int64(1), hub.Dropped())
	require.Len(t, ch, 1)
}

func TestHubCloseEndsSubscriptions(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe(1)
	hub.Close()
	_, ok := <-ch
	require.False(t, ok)
	cancel()

	late, _ := hub.Subscribe(1)
	_, ok = <-late
	require.False(t, ok)
	hub.Publish(Event{Type: uploadqueue.EventDrained})
}

func TestServeWebSocketStreamsEvents(t *testing.T) {
	hub := NewHub()
	server := httptest.NewServer(hub.Handler())
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Publish(Event{Type: uploadqueue.EventDrained, Store: "demo-shop", Succeeded: 3})

	var got Event
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	require.Equal(t, uploadqueue.EventDrained, got.Type)
	require.Equal(t, 3, got.Succeeded)
	require.Equal(t, "demo-shop", got.Store)
}
