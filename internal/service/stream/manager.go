package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"MarketSync/internal/domain/models"
	"MarketSync/internal/domain/repository"
	"MarketSync/pkg/logger"
	"MarketSync/pkg/util"
)

// Conn is the transport surface the manager drives. Satisfied by
// *websocket.Conn; tests substitute an in-memory fake.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v interface{}) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// DialFunc opens a transport connection.
type DialFunc func(ctx context.Context, url string) (Conn, error)

func gorillaDial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	return conn, err
}

// Reconnect tunes the backoff loop.
type Reconnect struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// Config wires the manager to the upstream stream.
type Config struct {
	URL          string
	APIKey       string
	PingInterval time.Duration
	Reconnect    Reconnect
}

// ErrNotStarted is returned by Subscribe/Unsubscribe before Connect.
var ErrNotStarted = errors.New("stream: not started")

// Manager owns the single persistent connection to the provider stream. It
// runs the login handshake, keeps the desired subscription set across
// disconnects and replays it on every successful connect, normalizes price
// frames into partial ticks, and reconnects with capped exponential backoff.
// An authentication rejection is fatal for the session and is never retried.
type Manager struct {
	cfg     Config
	dial    DialFunc
	log     *logger.Logger
	metrics repository.Metrics

	mu     sync.Mutex
	state  models.ConnectionState
	conn   Conn
	subs   map[string]struct{}
	cancel context.CancelFunc
	doneCh chan struct{}

	// writeMu serializes frame writes. The transport allows at most one
	// concurrent writer, and pings race subscription frames.
	writeMu sync.Mutex

	ticks  chan *models.StreamTick
	events chan models.Event

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// Option configures the manager.
type Option func(*Manager)

// WithDialer overrides the transport dialer. Used by tests.
func WithDialer(dial DialFunc) Option {
	return func(m *Manager) { m.dial = dial }
}

// WithSleep overrides the backoff sleep. Used by tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) { m.sleep = sleep }
}

// New creates a stream manager implementing repository.MarketStream.
func New(cfg Config, log *logger.Logger, metrics repository.Metrics, opts ...Option) *Manager {
	m := &Manager{
		cfg:     cfg,
		dial:    gorillaDial,
		log:     log,
		metrics: metrics,
		state:   models.StateDisconnected,
		subs:    make(map[string]struct{}),
		ticks:   make(chan *models.StreamTick, 1024),
		events:  make(chan models.Event, 64),
		now:     time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect starts the connection loop. It returns once the loop is running;
// progress arrives as events. Idempotent while running.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return nil
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	go m.run(ctx)
	return nil
}

// Subscribe adds symbols to the desired set. When connected the frame goes
// out immediately; otherwise the set is replayed on the next connect.
func (m *Manager) Subscribe(_ context.Context, symbols []string) error {
	symbols = util.NormalizeSymbols(symbols)

	m.mu.Lock()
	added := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := m.subs[s]; !ok {
			m.subs[s] = struct{}{}
			added = append(added, s)
		}
	}
	conn := m.conn
	connected := m.state == models.StateConnected
	m.mu.Unlock()

	if len(added) == 0 || !connected || conn == nil {
		return nil
	}
	return m.writeJSON(conn, subscribeFrame("subscribe", added))
}

// Unsubscribe removes symbols from the desired set.
func (m *Manager) Unsubscribe(_ context.Context, symbols []string) error {
	symbols = util.NormalizeSymbols(symbols)

	m.mu.Lock()
	removed := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := m.subs[s]; ok {
			delete(m.subs, s)
			removed = append(removed, s)
		}
	}
	conn := m.conn
	connected := m.state == models.StateConnected
	m.mu.Unlock()

	if len(removed) == 0 || !connected || conn == nil {
		return nil
	}
	return m.writeJSON(conn, subscribeFrame("unsubscribe", removed))
}

// Disconnect stops the loop, closes the transport, and clears the desired
// subscription set.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	cancel := m.cancel
	done := m.doneCh
	conn := m.conn
	m.cancel = nil
	m.conn = nil
	m.subs = make(map[string]struct{})
	m.state = models.StateDisconnected
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

func (m *Manager) IsConnected() bool {
	return m.State() == models.StateConnected
}

func (m *Manager) State() models.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Ticks() <-chan *models.StreamTick { return m.ticks }
func (m *Manager) Events() <-chan models.Event      { return m.events }

// run is the connection loop: dial, authenticate, replay subscriptions, read
// until failure, back off, repeat. The failure counter resets only after a
// connection reaches the connected state.
func (m *Manager) run(ctx context.Context) {
	defer close(m.doneCh)

	attempt := 0
	for ctx.Err() == nil {
		if attempt > 0 {
			if m.cfg.Reconnect.MaxAttempts > 0 && attempt > m.cfg.Reconnect.MaxAttempts {
				m.emit(models.Event{
					Type:   models.EventError,
					Reason: fmt.Sprintf("gave up after %d reconnect attempts", m.cfg.Reconnect.MaxAttempts),
					Fatal:  true,
				})
				m.setState(models.StateDisconnected)
				return
			}
			if err := m.sleep(ctx, m.backoff(attempt)); err != nil {
				return
			}
			m.metrics.RecordReconnect()
		}

		err := m.session(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, errAuthRejected):
			m.emit(models.Event{Type: models.EventError, Reason: "authentication rejected", Fatal: true})
			m.setState(models.StateDisconnected)
			return
		case errors.Is(err, errSessionUp):
			// Connection was healthy before it dropped; start the
			// backoff run over.
			attempt = 1
		default:
			attempt++
		}
		m.emit(models.Event{Type: models.EventDisconnected, Reason: reasonOf(err)})
		m.setState(models.StateDisconnected)
	}
}

func reasonOf(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

var (
	errAuthRejected = errors.New("authentication rejected")
	// errSessionUp wraps read errors that happened after a successful
	// handshake, so the loop can distinguish them from connect failures.
	errSessionUp = errors.New("session established")
)

// session runs one connection from dial to read failure.
func (m *Manager) session(ctx context.Context) error {
	m.setState(models.StateConnecting)
	conn, err := m.dial(ctx, m.cfg.URL)
	if err != nil {
		m.metrics.RecordError("dial_failed")
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	m.setState(models.StateAuthenticating)
	if err := m.login(conn); err != nil {
		return err
	}

	m.mu.Lock()
	m.conn = conn
	m.state = models.StateConnected
	pending := m.subscribed()
	m.mu.Unlock()

	m.emit(models.Event{Type: models.EventConnected})
	m.emit(models.Event{Type: models.EventAuthenticated})

	if len(pending) > 0 {
		if err := m.writeJSON(conn, subscribeFrame("subscribe", pending)); err != nil {
			return fmt.Errorf("%w: replay subscriptions: %w", errSessionUp, err)
		}
	}

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	if m.cfg.PingInterval > 0 {
		go m.pingLoop(pingCtx, conn)
	}

	err = m.readLoop(ctx, conn)

	m.mu.Lock()
	m.conn = nil
	m.mu.Unlock()
	return fmt.Errorf("%w: %w", errSessionUp, err)
}

type loginFrame struct {
	Event string `json:"event"`
	Data  struct {
		APIKey string `json:"apiKey"`
	} `json:"data"`
}

type controlFrame struct {
	Event   string `json:"event"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// login sends the credential frame and waits for the server verdict. Any
// status other than 200 is a rejection and the session must not be retried.
func (m *Manager) login(conn Conn) error {
	var frame loginFrame
	frame.Event = "login"
	frame.Data.APIKey = m.cfg.APIKey
	if err := m.writeJSON(conn, frame); err != nil {
		return fmt.Errorf("send login: %w", err)
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read login response: %w", err)
		}
		var resp controlFrame
		if err := json.Unmarshal(payload, &resp); err != nil || resp.Event != "login" {
			continue
		}
		if resp.Status != 200 {
			m.log.Error("stream login rejected",
				logger.Int("status", resp.Status), logger.String("message", resp.Message))
			m.metrics.RecordError("auth_rejected")
			return errAuthRejected
		}
		return nil
	}
}

func (m *Manager) pingLoop(ctx context.Context, conn Conn) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.writePing(conn); err != nil {
				return
			}
		}
	}
}

func (m *Manager) writeJSON(conn Conn, v interface{}) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (m *Manager) writePing(conn Conn) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.PingMessage, nil)
}

// priceFrame is the wire shape of a streaming price update. Pointer fields
// distinguish absent values from zeroes.
type priceFrame struct {
	Symbol    string   `json:"s"`
	Timestamp int64    `json:"t"`
	LastPrice *float64 `json:"lp"`
	LastSize  *int64   `json:"ls"`
	BidPrice  *float64 `json:"bp"`
	BidSize   *int64   `json:"bs"`
	AskPrice  *float64 `json:"ap"`
	AskSize   *int64   `json:"as"`
}

func (m *Manager) readLoop(ctx context.Context, conn Conn) error {
	for ctx.Err() == nil {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var ctl controlFrame
		if err := json.Unmarshal(payload, &ctl); err == nil && ctl.Event != "" {
			// Heartbeats and subscribe acks carry no price data.
			continue
		}

		var frame priceFrame
		if err := json.Unmarshal(payload, &frame); err != nil || frame.Symbol == "" {
			continue
		}
		tick := normalizeTick(&frame)
		m.metrics.RecordTick("stream")

		select {
		case m.ticks <- tick:
		default:
			// Consumer is behind; latest-wins semantics make dropping safe.
			m.metrics.RecordError("tick_dropped")
		}
	}
	return ctx.Err()
}

// normalizeTick maps a wire frame onto the engine tick shape. Absent fields
// stay nil so the merge engine never overwrites cached values with zeroes.
func normalizeTick(f *priceFrame) *models.StreamTick {
	ts := time.Now()
	if f.Timestamp > 0 {
		ts = util.FromUnixFlexible(f.Timestamp)
	}
	return &models.StreamTick{
		Symbol:    util.NormalizeSymbol(f.Symbol),
		Price:     f.LastPrice,
		Bid:       f.BidPrice,
		Ask:       f.AskPrice,
		BidSize:   f.BidSize,
		AskSize:   f.AskSize,
		Volume:    f.LastSize,
		Timestamp: ts,
	}
}

// backoff computes min(base*2^(attempt-1), max).
func (m *Manager) backoff(attempt int) time.Duration {
	d := m.cfg.Reconnect.BaseDelay
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if m.cfg.Reconnect.MaxDelay > 0 && d >= m.cfg.Reconnect.MaxDelay {
			return m.cfg.Reconnect.MaxDelay
		}
	}
	if m.cfg.Reconnect.MaxDelay > 0 && d > m.cfg.Reconnect.MaxDelay {
		d = m.cfg.Reconnect.MaxDelay
	}
	return d
}

// subscribed snapshots the desired set in stable order. Caller holds the lock.
func (m *Manager) subscribed() []string {
	out := make([]string, 0, len(m.subs))
	for s := range m.subs {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) setState(s models.ConnectionState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) emit(ev models.Event) {
	ev.Timestamp = m.now()
	select {
	case m.events <- ev:
	default:
		m.log.Warn("event dropped", logger.String("type", string(ev.Type)))
	}
}

func subscribeFrame(event string, symbols []string) map[string]interface{} {
	return map[string]interface{}{
		"event": event,
		"data": map[string]interface{}{
			"ticker": util.WireSymbols(symbols),
		},
	}
}
