// Package shared provides the connection lifecycle manager and REST helpers
// common to all provider adapters.
package shared

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/csisgpt/arbwatch/internal/observability"
	"github.com/csisgpt/arbwatch/internal/schema"
)

// ConnState names the lifecycle phases of a managed websocket connection.
type ConnState int32

const (
	// StateDisconnected means no transport exists.
	StateDisconnected ConnState = iota
	// StateConnecting means a dial/handshake is in flight.
	StateConnecting
	// StateConnected means the transport is open and readable.
	StateConnected
)

// Transport abstracts the websocket connection so lifecycle behaviour is
// testable without a network.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, payload []byte) error
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
	CloseNow() error
}

// DialFunc opens a transport to the given URL.
type DialFunc func(ctx context.Context, url string) (Transport, error)

// WSConfig configures a managed connection.
type WSConfig struct {
	Provider string
	// URL is re-evaluated on every dial; some providers encode the desired
	// subscription set in the URL itself.
	URL func() string
	// OnOpen (re)issues subscription messages after every successful open.
	OnOpen func(send func(payload []byte) error) error
	// OnMessage handles one raw frame. It must not panic; parse failures are
	// recorded via RecordParseFailure and the frame dropped.
	OnMessage func(payload []byte)
	// Ping overrides the transport-level heartbeat when a provider requires
	// an application-level ping payload.
	Ping func(send func(payload []byte) error) error

	HeartbeatInterval time.Duration
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	DialTimeout       time.Duration
	WriteTimeout      time.Duration

	// Dial defaults to a coder/websocket dialer.
	Dial DialFunc
}

// Backoff returns the reconnect delay for the given zero-based attempt:
// min(base * 2^attempt, max). The attempt counter resets to zero after one
// successful open.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// WSConn is the reconnect/backoff/heartbeat state machine embedded in every
// websocket-based provider adapter.
type WSConn struct {
	cfg WSConfig

	mu             sync.Mutex
	state          ConnState
	conn           Transport
	ctx            context.Context
	cancel         context.CancelFunc
	pending        [][]byte
	resubAfterOpen bool
	attempt        int
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}
	stopped        bool
	started        bool

	healthMu        sync.Mutex
	connected       bool
	lastMessageTime time.Time
	reconnectCount  int64
	failureCount    int64
	lastError       string
}

// NewWSConn builds a managed connection. Start must be called before the
// connection produces anything.
func NewWSConn(cfg WSConfig) *WSConn {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 20 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Dial == nil {
		cfg.Dial = dialWebsocket
	}
	return &WSConn{cfg: cfg}
}

// Start opens the connection. Starting a connected or connecting instance is
// a no-op.
func (c *WSConn) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started && !c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.stopped = false
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()
	go c.dial()
	return nil
}

// Stop cancels pending reconnects and the heartbeat, then closes the
// transport. All transport errors during teardown are swallowed; Stop never
// panics and tolerates a missing connection.
func (c *WSConn) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.stopHeartbeatLocked()
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "shutdown"); err != nil {
			// A close on a socket mid-handshake can itself error; force it.
			_ = conn.CloseNow()
		}
	}
	c.setConnected(false, "")
}

// Send writes the payload when connected; while disconnected or connecting
// the payload is queued and flushed on the next successful open, so a
// subscription requested during a reconnect silently takes effect once
// connectivity resumes.
func (c *WSConn) Send(payload []byte) error {
	c.mu.Lock()
	if c.state != StateConnected || c.conn == nil {
		c.pending = append(c.pending, payload)
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	ctx := c.ctx
	c.mu.Unlock()

	wctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	if err := conn.Write(wctx, payload); err != nil {
		c.mu.Lock()
		c.pending = append(c.pending, payload)
		c.mu.Unlock()
		c.handleDisconnect(err)
		return err
	}
	return nil
}

// Resubscribe re-issues the adapter's subscription set. A socket that is
// mid-handshake is never torn down; instead the corrected set is issued by
// OnOpen once the handshake completes.
func (c *WSConn) Resubscribe() {
	c.mu.Lock()
	state := c.state
	if state == StateConnecting {
		c.resubAfterOpen = true
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	if state == StateConnected && c.cfg.OnOpen != nil {
		_ = c.cfg.OnOpen(c.Send)
	}
	// Disconnected: the next open calls OnOpen with the current set anyway.
}

// State reports the current lifecycle phase.
func (c *WSConn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Health snapshots the connection state for the owning adapter.
func (c *WSConn) Health() schema.ProviderHealth {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()
	return schema.ProviderHealth{
		Provider:        c.cfg.Provider,
		Connected:       c.connected,
		LastMessageTime: c.lastMessageTime,
		ReconnectCount:  c.reconnectCount,
		FailureCount:    c.failureCount,
		LastError:       c.lastError,
	}
}

// RecordParseFailure counts one dropped malformed frame.
func (c *WSConn) RecordParseFailure() {
	c.healthMu.Lock()
	c.failureCount++
	c.healthMu.Unlock()
	observability.Telemetry().IncCounter(observability.MetricParseFailures, 1,
		map[string]string{"provider": c.cfg.Provider})
}

func (c *WSConn) dial() {
	c.mu.Lock()
	if c.stopped || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	ctx := c.ctx
	c.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	conn, err := c.cfg.Dial(dctx, c.cfg.URL())
	cancel()
	if err != nil {
		c.recordFailure(err)
		c.mu.Lock()
		c.state = StateDisconnected
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		_ = conn.CloseNow()
		return
	}
	c.conn = conn
	c.state = StateConnected
	c.attempt = 0
	c.resubAfterOpen = false
	pending := c.pending
	c.pending = nil
	c.heartbeatStop = make(chan struct{})
	heartbeatStop := c.heartbeatStop
	c.mu.Unlock()

	c.setConnected(true, "")
	observability.Log().Info("provider connected",
		observability.F("provider", c.cfg.Provider))

	if c.cfg.OnOpen != nil {
		if err := c.cfg.OnOpen(c.Send); err != nil {
			observability.Log().Warn("subscription setup failed",
				observability.F("provider", c.cfg.Provider),
				observability.F("error", err.Error()))
		}
	}
	for _, payload := range pending {
		_ = c.Send(payload)
	}

	go c.heartbeatLoop(heartbeatStop)
	go c.readLoop(conn)
}

func (c *WSConn) readLoop(conn Transport) {
	for {
		c.mu.Lock()
		ctx := c.ctx
		active := c.conn == conn && c.state == StateConnected
		c.mu.Unlock()
		if !active {
			return
		}
		payload, err := conn.Read(ctx)
		if err != nil {
			c.handleDisconnect(err)
			return
		}
		c.healthMu.Lock()
		c.lastMessageTime = time.Now().UTC()
		c.healthMu.Unlock()
		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage(payload)
		}
	}
}

func (c *WSConn) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				c.handleDisconnect(err)
				return
			}
		}
	}
}

func (c *WSConn) ping() error {
	if c.cfg.Ping != nil {
		return c.cfg.Ping(c.Send)
	}
	c.mu.Lock()
	conn := c.conn
	ctx := c.ctx
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	pctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	return conn.Ping(pctx)
}

func (c *WSConn) handleDisconnect(err error) {
	c.mu.Lock()
	if c.stopped || c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.stopHeartbeatLocked()
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.scheduleReconnectLocked()
	c.mu.Unlock()

	if conn != nil {
		_ = conn.CloseNow()
	}
	c.healthMu.Lock()
	c.reconnectCount++
	c.connected = false
	if err != nil {
		c.lastError = err.Error()
	}
	c.healthMu.Unlock()
	observability.Telemetry().IncCounter(observability.MetricReconnects, 1,
		map[string]string{"provider": c.cfg.Provider})
	observability.Log().Warn("provider disconnected",
		observability.F("provider", c.cfg.Provider),
		observability.F("error", errString(err)))
}

// scheduleReconnectLocked arms the reconnect timer. A pending timer is never
// duplicated; concurrent disconnect paths coalesce into one schedule.
func (c *WSConn) scheduleReconnectLocked() {
	if c.stopped || c.reconnectTimer != nil {
		return
	}
	delay := Backoff(c.cfg.BackoffBase, c.cfg.BackoffMax, c.attempt)
	c.attempt++
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		stopped := c.stopped
		c.mu.Unlock()
		if stopped {
			return
		}
		c.dial()
	})
}

func (c *WSConn) stopHeartbeatLocked() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
}

func (c *WSConn) recordFailure(err error) {
	c.healthMu.Lock()
	c.failureCount++
	if err != nil {
		c.lastError = err.Error()
	}
	c.healthMu.Unlock()
}

func (c *WSConn) setConnected(connected bool, lastError string) {
	c.healthMu.Lock()
	c.connected = connected
	if lastError != "" {
		c.lastError = lastError
	}
	c.healthMu.Unlock()
	up := 0.0
	if connected {
		up = 1.0
	}
	observability.Telemetry().SetGauge(observability.MetricProviderUp, up,
		map[string]string{"provider": c.cfg.Provider})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

type coderTransport struct {
	conn *websocket.Conn
}

func dialWebsocket(ctx context.Context, url string) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(1 << 22)
	return &coderTransport{conn: conn}, nil
}

func (t *coderTransport) Read(ctx context.Context) ([]byte, error) {
	_, payload, err := t.conn.Read(ctx)
	return payload, err
}

func (t *coderTransport) Write(ctx context.Context, payload []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, payload)
}

func (t *coderTransport) Ping(ctx context.Context) error {
	return t.conn.Ping(ctx)
}

func (t *coderTransport) Close(code websocket.StatusCode, reason string) error {
	return t.conn.Close(code, reason)
}

func (t *coderTransport) CloseNow() error {
	return t.conn.CloseNow()
}
