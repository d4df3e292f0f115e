package wsfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/readcache/invalidation"
)

var upgrader = websocket.Upgrader{}

// streamServer accepts one subscribe frame per connection and then runs
// script against the connection.
func streamServer(t *testing.T, script func(conn *websocket.Conn, subscribed []string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "anon-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub frame
		if err := conn.ReadJSON(&sub); err != nil || sub.Type != "subscribe" {
			return
		}
		script(conn, sub.Collections)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestFeed(t *testing.T, srv *httptest.Server) *Feed {
	t.Helper()
	feed, err := New(Config{
		URL:    wsURL(srv),
		Header: http.Header{"apikey": []string{"anon-key"}},
	})
	require.NoError(t, err)
	return feed
}

func collect(t *testing.T, sub invalidation.Subscription, n int) []invalidation.Event {
	t.Helper()
	var out []invalidation.Event
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("received %d of %d events", len(out), n)
		}
	}
	return out
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrMissingURL)
}

func TestSubscribe_DeliversEvents(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	srv := streamServer(t, func(conn *websocket.Conn, collections []string) {
		mu.Lock()
		seen = collections
		mu.Unlock()

		_ = conn.WriteJSON(map[string]string{"type": "subscribed"})
		_ = conn.WriteJSON(map[string]string{"type": "change", "collection": "pieces", "op": "update"})
		_ = conn.WriteMessage(websocket.TextMessage, []byte("poets:DELETE"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte("   "))
		_ = conn.WriteJSON(map[string]string{"table": "profiles", "eventType": "INSERT"})

		// Hold the connection until the client goes away.
		_, _, _ = conn.ReadMessage()
	})

	sub, err := newTestFeed(t, srv).Subscribe(context.Background(), []string{"pieces", "poets"})
	require.NoError(t, err)
	defer sub.Close()

	events := collect(t, sub, 3)
	assert.Equal(t, []invalidation.Event{
		{Collection: "pieces", Operation: "UPDATE"},
		{Collection: "poets", Operation: "DELETE"},
		{Collection: "profiles", Operation: "INSERT"},
	}, events)

	mu.Lock()
	assert.Equal(t, []string{"pieces", "poets"}, seen)
	mu.Unlock()
}

func TestSubscribe_ServerCloseEndsSubscription(t *testing.T) {
	srv := streamServer(t, func(conn *websocket.Conn, _ []string) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("pieces"))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"))
	})

	sub, err := newTestFeed(t, srv).Subscribe(context.Background(), nil)
	require.NoError(t, err)
	defer sub.Close()

	events := collect(t, sub, 2)
	assert.Equal(t, []invalidation.Event{{Collection: "pieces"}}, events)
	assert.Error(t, sub.Err())
}

func TestSubscribe_ErrorFrame(t *testing.T) {
	srv := streamServer(t, func(conn *websocket.Conn, _ []string) {
		_ = conn.WriteJSON(frame{Type: "error", Message: "unknown collection"})
		_, _, _ = conn.ReadMessage()
	})

	sub, err := newTestFeed(t, srv).Subscribe(context.Background(), []string{"nope"})
	require.NoError(t, err)
	defer sub.Close()

	assert.Empty(t, collect(t, sub, 1))
	assert.ErrorIs(t, sub.Err(), ErrServer)
	assert.Contains(t, sub.Err().Error(), "unknown collection")
}

func TestSubscribe_CloseIsClean(t *testing.T) {
	srv := streamServer(t, func(conn *websocket.Conn, _ []string) {
		_, _, _ = conn.ReadMessage()
	})

	sub, err := newTestFeed(t, srv).Subscribe(context.Background(), nil)
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed")
	}
	assert.NoError(t, sub.Err())
}

func TestSubscribe_Unauthorized(t *testing.T) {
	srv := streamServer(t, func(*websocket.Conn, []string) {})
	feed, err := New(Config{URL: wsURL(srv)})
	require.NoError(t, err)

	_, err = feed.Subscribe(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

type countingInvalidator struct {
	mu       sync.Mutex
	patterns []string
}

func (c *countingInvalidator) Invalidate(_ context.Context, pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.patterns = append(c.patterns, pattern)
	return 0
}

func (c *countingInvalidator) Patterns() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.patterns...)
}

func TestChannelOverWebsocket(t *testing.T) {
	srv := streamServer(t, func(conn *websocket.Conn, _ []string) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("categories:UPDATE"))
		_, _, _ = conn.ReadMessage()
	})

	inv := &countingInvalidator{}
	ch, err := invalidation.New(invalidation.Config{
		Feed:        newTestFeed(t, srv),
		Invalidator: inv,
	})
	require.NoError(t, err)

	stop := ch.Start(context.Background())
	defer stop()

	assert.Eventually(t, func() bool { return len(inv.Patterns()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"categories:*", "pieces:*"}, inv.Patterns())
	assert.True(t, ch.IsActive())
}
