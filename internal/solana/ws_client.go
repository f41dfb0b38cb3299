package solana

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("solana: client closed")

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// Commitment is sent with every subscription ("processed", "confirmed", "finalized").
	Commitment string
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// SubscribeTimeout bounds the wait for a subscription confirmation.
	SubscribeTimeout time.Duration
	// BufferSize is the capacity of each notification channel.
	BufferSize int
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		Commitment:        "confirmed",
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
		BufferSize:        4096,
	}
}

// subscription is a live logsSubscribe stream. The server-side id changes
// across reconnects; the channel does not.
type subscription struct {
	filter LogsFilter
	ch     chan LogNotification
}

// pendingSub is a logsSubscribe request awaiting its server id. The read loop
// registers sub under that id before the waiting caller is signalled.
type pendingSub struct {
	confirm chan int64
	sub     *subscription
	resub   bool
}

// WSClient implements LogsSubscriber over gorilla/websocket with automatic
// reconnect and resubscription.
type WSClient struct {
	endpoint string
	config   WSClientConfig
	logger   *logrus.Entry

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// subs routes server ids of the current connection; streams holds every
	// confirmed stream across reconnects.
	subs    map[int64]*subscription
	streams []*subscription
	subsMu  sync.RWMutex

	pending   map[uint64]*pendingSub
	pendingMu sync.Mutex

	done         chan struct{}
	wg           sync.WaitGroup
	reconnecting atomic.Bool
}

// NewWSClient dials the endpoint and starts the read and ping loops.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig, logger logrus.FieldLogger) (*WSClient, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.Commitment == "" {
		cfg.Commitment = "confirmed"
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = 30 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	c := &WSClient{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger.WithField("component", "solana_ws"),
		subs:     make(map[int64]*subscription),
		pending:  make(map[uint64]*pendingSub),
		done:     make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

func (c *WSClient) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.closed.Load() {
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	return nil
}

// SubscribeLogs subscribes to program logs matching the filter. The returned
// channel survives reconnects and is closed by Close.
func (c *WSClient) SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan LogNotification, error) {
	sub := &subscription{filter: filter, ch: make(chan LogNotification, c.config.BufferSize)}
	subID, err := c.subscribe(ctx, sub, false)
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"subscription": subID,
		"mentions":     filter.Mentions,
		"commitment":   c.config.Commitment,
	}).Info("logs subscription confirmed")
	return sub.ch, nil
}

// subscribe sends logsSubscribe for sub and waits for the server-assigned id.
// resub marks a stream that already exists from an earlier connection.
func (c *WSClient) subscribe(ctx context.Context, sub *subscription, resub bool) (int64, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}

	reqID := c.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "logsSubscribe",
		Params: []any{
			sub.filter.params(),
			map[string]string{"commitment": c.config.Commitment},
		},
	}

	confirmCh := make(chan int64, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = &pendingSub{confirm: confirmCh, sub: sub, resub: resub}
	c.pendingMu.Unlock()

	if err := c.writeJSON(req); err != nil {
		c.dropPending(reqID)
		return 0, fmt.Errorf("write subscribe: %w", err)
	}

	timer := time.NewTimer(c.config.SubscribeTimeout)
	defer timer.Stop()

	select {
	case subID, ok := <-confirmCh:
		if !ok {
			return 0, ErrClosed
		}
		return subID, nil
	case <-timer.C:
		if !c.dropPending(reqID) {
			return c.confirmed(confirmCh)
		}
		return 0, fmt.Errorf("subscription timeout after %s", c.config.SubscribeTimeout)
	case <-c.done:
		return 0, ErrClosed
	case <-ctx.Done():
		if !c.dropPending(reqID) {
			return c.confirmed(confirmCh)
		}
		return 0, ctx.Err()
	}
}

// confirmed collects an id the read loop delivered while the caller gave up waiting.
func (c *WSClient) confirmed(confirmCh chan int64) (int64, error) {
	subID, ok := <-confirmCh
	if !ok {
		return 0, ErrClosed
	}
	return subID, nil
}

func (c *WSClient) writeJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return errors.New("not connected")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// dropPending forgets reqID and reports whether it was still unanswered.
func (c *WSClient) dropPending(reqID uint64) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	_, ok := c.pending[reqID]
	delete(c.pending, reqID)
	return ok
}

// Close closes the WebSocket connection.
func (c *WSClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.conn.Close()
	}
	c.connMu.Unlock()

	// Wait for the read loop before closing channels it may send on.
	c.wg.Wait()

	c.subsMu.Lock()
	for _, sub := range c.streams {
		close(sub.ch)
	}
	c.streams = nil
	clear(c.subs)
	c.subsMu.Unlock()

	c.pendingMu.Lock()
	for id, p := range c.pending {
		close(p.confirm)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	return nil
}

func (c *WSClient) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		var (
			message []byte
			err     = errors.New("not connected")
		)
		if conn != nil {
			_ = conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
			_, message, err = conn.ReadMessage()
		}
		if err != nil {
			if c.closed.Load() {
				return
			}
			if !c.reconnecting.Swap(true) {
				c.logger.WithError(err).WithField("delay", reconnectDelay).Warn("websocket read failed, reconnecting")
				go c.reconnect(conn, reconnectDelay)

				reconnectDelay *= 2
				if reconnectDelay > c.config.MaxReconnectDelay {
					reconnectDelay = c.config.MaxReconnectDelay
				}
			}
			if !c.sleep(100 * time.Millisecond) {
				return
			}
			continue
		}

		reconnectDelay = c.config.ReconnectDelay
		c.handleMessage(message)
	}
}

// sleep waits for d and reports false if the client closed meanwhile.
func (c *WSClient) sleep(d time.Duration) bool {
	select {
	case <-c.done:
		return false
	case <-time.After(d):
		return true
	}
}

// reconnect replaces the broken connection and resubscribes every stream.
func (c *WSClient) reconnect(broken *websocket.Conn, delay time.Duration) {
	defer c.reconnecting.Store(false)

	if !c.sleep(delay) {
		return
	}

	c.connMu.Lock()
	if c.conn != nil && c.conn == broken {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		c.logger.WithError(err).Warn("reconnect failed")
		return
	}

	// Resubscribe in its own goroutine: confirmations arrive on the read loop.
	go c.resubscribeAll()
}

// resubscribeAll drops the routes of the broken connection and subscribes every
// stream again on the new one.
func (c *WSClient) resubscribeAll() {
	c.subsMu.Lock()
	streams := slices.Clone(c.streams)
	clear(c.subs)
	c.subsMu.Unlock()

	for _, sub := range streams {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		newID, err := c.subscribe(ctx, sub, true)
		cancel()
		if err != nil {
			c.logger.WithError(err).WithField("mentions", sub.filter.Mentions).Warn("resubscribe failed")
			continue
		}

		c.logger.WithFields(logrus.Fields{"subscription": newID, "mentions": sub.filter.Mentions}).Info("resubscribed")
	}
}

func (c *WSClient) handleMessage(message []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.logger.WithError(err).Debug("ignoring malformed message")
		return
	}

	switch {
	case env.Error != nil:
		c.logger.WithFields(logrus.Fields{
			"id":   env.ID,
			"code": env.Error.Code,
		}).Warn(env.Error.Message)
	case env.Method == "logsNotification" && env.Params != nil:
		c.handleLogsNotification(env.Params)
	case env.ID != 0 && env.Result != nil:
		var subID int64
		if err := json.Unmarshal(env.Result, &subID); err != nil {
			return
		}
		c.handleSubscribeResponse(env.ID, subID)
	}
}

// handleSubscribeResponse runs on the read loop, so the stream is routable
// before any notification that follows the confirmation is read.
func (c *WSClient) handleSubscribeResponse(reqID uint64, subID int64) {
	c.pendingMu.Lock()
	p, ok := c.pending[reqID]
	if !ok {
		c.pendingMu.Unlock()
		return
	}
	delete(c.pending, reqID)

	c.subsMu.Lock()
	c.subs[subID] = p.sub
	if !p.resub {
		c.streams = append(c.streams, p.sub)
	}
	c.subsMu.Unlock()
	c.pendingMu.Unlock()

	p.confirm <- subID
}

func (c *WSClient) handleLogsNotification(params *wsNotificationParams) {
	value := params.Result.Value
	notif := LogNotification{
		Signature: value.Signature,
		Logs:      value.Logs,
		Err:       value.Err,
	}
	if params.Result.Context != nil {
		notif.Slot = params.Result.Context.Slot
	}

	c.subsMu.RLock()
	sub, ok := c.subs[params.Subscription]
	c.subsMu.RUnlock()
	if !ok {
		return
	}

	// Blocking send: notifications are never dropped.
	select {
	case sub.ch <- notif:
	case <-c.done:
	}
}

func (c *WSClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// Failures surface on the read loop.
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

type wsRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type wsError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// wsEnvelope covers responses, errors and notifications.
type wsEnvelope struct {
	JSONRPC string                `json:"jsonrpc"`
	ID      uint64                `json:"id,omitempty"`
	Result  json.RawMessage       `json:"result,omitempty"`
	Error   *wsError              `json:"error,omitempty"`
	Method  string                `json:"method,omitempty"`
	Params  *wsNotificationParams `json:"params,omitempty"`
}

type wsNotificationParams struct {
	Subscription int64                `json:"subscription"`
	Result       wsNotificationResult `json:"result"`
}

type wsNotificationResult struct {
	Context *wsContext  `json:"context"`
	Value   wsLogsValue `json:"value"`
}

type wsContext struct {
	Slot int64 `json:"slot"`
}

type wsLogsValue struct {
	Signature string   `json:"signature"`
	Logs      []string `json:"logs"`
	Err       any      `json:"err"`
}
