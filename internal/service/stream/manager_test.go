package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketSync/internal/domain/models"
	"MarketSync/internal/domain/repository"
	"MarketSync/pkg/logger"
)

// fakeConn scripts the server side of a session: it answers the login frame
// with the configured status and records every frame the manager writes.
type fakeConn struct {
	authStatus int
	in         chan []byte

	mu     sync.Mutex
	writes []map[string]interface{}

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn(authStatus int) *fakeConn {
	return &fakeConn{
		authStatus: authStatus,
		in:         make(chan []byte, 16),
		closed:     make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-c.in:
		return websocket.TextMessage, b, nil
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m map[string]interface{}
	_ = json.Unmarshal(b, &m)

	c.mu.Lock()
	c.writes = append(c.writes, m)
	c.mu.Unlock()

	if m["event"] == "login" {
		resp, _ := json.Marshal(map[string]interface{}{
			"event": "login", "status": c.authStatus, "message": "scripted",
		})
		c.in <- resp
	}
	return nil
}

func (c *fakeConn) WriteMessage(int, []byte) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) serverSend(t *testing.T, frame string) {
	t.Helper()
	select {
	case c.in <- []byte(frame):
	case <-time.After(time.Second):
		t.Fatal("fake server send timed out")
	}
}

func (c *fakeConn) writtenEvents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.writes))
	for _, w := range c.writes {
		if ev, ok := w["event"].(string); ok {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeConn) lastTickers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.writes) - 1; i >= 0; i-- {
		data, ok := c.writes[i]["data"].(map[string]interface{})
		if !ok {
			continue
		}
		raw, ok := data["ticker"].([]interface{})
		if !ok {
			continue
		}
		out := make([]string, 0, len(raw))
		for _, v := range raw {
			out = append(out, v.(string))
		}
		return out
	}
	return nil
}

func newTestManager(dial DialFunc, reconnect Reconnect, opts ...Option) *Manager {
	cfg := Config{URL: "wss://example.test", APIKey: "k", Reconnect: reconnect}
	all := append([]Option{
		WithDialer(dial),
		WithSleep(func(context.Context, time.Duration) error { return nil }),
	}, opts...)
	return New(cfg, logger.Nop(), repository.NopMetrics{}, all...)
}

func waitEvent(t *testing.T, m *Manager, typ models.EventType) models.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-m.Events():
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", typ)
		}
	}
}

func waitTick(t *testing.T, m *Manager) *models.StreamTick {
	t.Helper()
	select {
	case tick := <-m.Ticks():
		return tick
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
		return nil
	}
}

func TestManagerConnectAndReplaySubscriptions(t *testing.T) {
	conn := newFakeConn(200)
	m := newTestManager(func(context.Context, string) (Conn, error) { return conn, nil }, Reconnect{})

	// Subscriptions made while offline must be replayed on connect.
	require.NoError(t, m.Subscribe(context.Background(), []string{"aapl", "SPY"}))
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	waitEvent(t, m, models.EventConnected)
	waitEvent(t, m, models.EventAuthenticated)
	assert.True(t, m.IsConnected())

	require.Eventually(t, func() bool {
		return len(conn.lastTickers()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"aapl", "spy"}, conn.lastTickers(), "wire tickers are lower-cased")
}

func TestManagerNormalizesPartialTicks(t *testing.T) {
	conn := newFakeConn(200)
	m := newTestManager(func(context.Context, string) (Conn, error) { return conn, nil }, Reconnect{})

	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()
	waitEvent(t, m, models.EventAuthenticated)

	// Heartbeats must be skipped, not turned into ticks.
	conn.serverSend(t, `{"event":"heartbeat"}`)
	conn.serverSend(t, `{"s":"aapl","t":1718000000000,"lp":190.5,"ls":100}`)

	tick := waitTick(t, m)
	assert.Equal(t, "AAPL", tick.Symbol)
	require.NotNil(t, tick.Price)
	assert.Equal(t, 190.5, *tick.Price)
	require.NotNil(t, tick.Volume)
	assert.Equal(t, int64(100), *tick.Volume)
	assert.Nil(t, tick.Bid, "absent fields stay nil")
	assert.Nil(t, tick.Ask)
	assert.Equal(t, time.UnixMilli(1718000000000), tick.Timestamp)
}

func TestManagerAuthRejectionIsFatal(t *testing.T) {
	dials := 0
	m := newTestManager(func(context.Context, string) (Conn, error) {
		dials++
		return newFakeConn(401), nil
	}, Reconnect{MaxAttempts: 5})

	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	ev := waitEvent(t, m, models.EventError)
	assert.True(t, ev.Fatal)
	assert.Contains(t, ev.Reason, "authentication rejected")
	assert.Equal(t, 1, dials, "auth rejection must not be retried")
	assert.Equal(t, models.StateDisconnected, m.State())
}

func TestManagerReconnectBackoffAndGiveUp(t *testing.T) {
	var delays []time.Duration
	dials := 0
	m := newTestManager(
		func(context.Context, string) (Conn, error) {
			dials++
			return nil, errors.New("connection refused")
		},
		Reconnect{BaseDelay: time.Second, MaxDelay: 3 * time.Second, MaxAttempts: 3},
		WithSleep(func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		}),
	)

	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()

	ev := waitEvent(t, m, models.EventError)
	assert.True(t, ev.Fatal)
	assert.Contains(t, ev.Reason, "gave up after 3 reconnect attempts")
	assert.Equal(t, 4, dials)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, delays,
		"exponential backoff capped at the max delay")
}

func TestManagerReconnectsAfterDrop(t *testing.T) {
	var mu sync.Mutex
	var conns []*fakeConn
	m := newTestManager(func(context.Context, string) (Conn, error) {
		c := newFakeConn(200)
		mu.Lock()
		conns = append(conns, c)
		mu.Unlock()
		return c, nil
	}, Reconnect{BaseDelay: time.Millisecond, MaxAttempts: 3})

	require.NoError(t, m.Subscribe(context.Background(), []string{"AAPL"}))
	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()
	waitEvent(t, m, models.EventAuthenticated)

	// Kill the first connection; the manager must dial again, re-auth, and
	// replay the subscription set.
	mu.Lock()
	first := conns[0]
	mu.Unlock()
	first.Close()

	waitEvent(t, m, models.EventDisconnected)
	waitEvent(t, m, models.EventAuthenticated)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(conns) == 2 && len(conns[1].lastTickers()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManagerUnsubscribeSendsFrame(t *testing.T) {
	conn := newFakeConn(200)
	m := newTestManager(func(context.Context, string) (Conn, error) { return conn, nil }, Reconnect{})

	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()
	waitEvent(t, m, models.EventAuthenticated)

	require.NoError(t, m.Subscribe(context.Background(), []string{"MSFT"}))
	require.NoError(t, m.Unsubscribe(context.Background(), []string{"MSFT"}))

	require.Eventually(t, func() bool {
		evs := conn.writtenEvents()
		return len(evs) >= 3 && evs[len(evs)-1] == "unsubscribe"
	}, 2*time.Second, 10*time.Millisecond)
}

// TestManagerSerializesConnWrites drives the manager against a real
// websocket connection, where at most one writer may touch the transport at
// a time. A fast ping interval races the ping loop against subscription
// frames; without write serialization the transport panics.
func TestManagerSerializesConnWrites(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			_, payload, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var ctl controlFrame
			if json.Unmarshal(payload, &ctl) == nil && ctl.Event == "login" {
				_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"login","status":200}`))
			}
		}
	}))
	defer srv.Close()

	m := New(Config{
		URL:          "ws" + strings.TrimPrefix(srv.URL, "http"),
		APIKey:       "k",
		PingInterval: time.Millisecond,
	}, logger.Nop(), repository.NopMetrics{})

	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()
	waitEvent(t, m, models.EventAuthenticated)

	for i := 0; i < 200; i++ {
		require.NoError(t, m.Subscribe(context.Background(), []string{"AAPL"}))
		require.NoError(t, m.Unsubscribe(context.Background(), []string{"AAPL"}))
	}
}

func TestManagerDisconnectClearsSubscriptions(t *testing.T) {
	conn := newFakeConn(200)
	m := newTestManager(func(context.Context, string) (Conn, error) { return conn, nil }, Reconnect{})

	require.NoError(t, m.Subscribe(context.Background(), []string{"AAPL"}))
	require.NoError(t, m.Disconnect())

	require.NoError(t, m.Connect(context.Background()))
	defer m.Disconnect()
	waitEvent(t, m, models.EventAuthenticated)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, conn.lastTickers(), "cleared set must not be replayed")
}
