// Package websocket provides a reusable WebSocket client with capped
// exponential reconnection. Connection attempts are bounded; exhausting them
// surfaces a fatal error instead of looping forever.
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"copytrader/internal/core"
	"copytrader/pkg/telemetry"
)

// MessageHandler handles incoming WebSocket messages
type MessageHandler func(message []byte)

// Config tunes connection and reconnection behavior.
type Config struct {
	URL                  string
	Header               http.Header
	ReconnectBase        time.Duration // first backoff delay
	ReconnectMax         time.Duration // backoff cap
	MaxReconnectAttempts int           // consecutive failures before giving up
	ReadTimeout          time.Duration // silence on the socket longer than this drops the connection
	PingInterval         time.Duration
	PingWait             time.Duration
}

// Client is a resilient WebSocket client
type Client struct {
	cfg     Config
	handler MessageHandler

	conn *websocket.Conn
	mu   sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	fatal  chan error

	onConnected    func(reconnect bool)
	onDisconnected func(err error)

	logger core.ILogger

	tracer      trace.Tracer
	msgCounter  metric.Int64Counter
	connCounter metric.Int64Counter
}

// NewClient creates a new WebSocket client
func NewClient(cfg Config, handler MessageHandler, logger core.ILogger) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = time.Minute
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = cfg.ReadTimeout / 2
	}
	if cfg.PingWait <= 0 {
		cfg.PingWait = 10 * time.Second
	}

	tracer := telemetry.GetTracer("ws-client")
	meter := telemetry.GetMeter("ws-client")

	msgCounter, _ := meter.Int64Counter("ws_messages_total",
		metric.WithDescription("Total number of WebSocket messages received"))
	connCounter, _ := meter.Int64Counter("ws_connections_total",
		metric.WithDescription("Total number of WebSocket connections initiated"))

	return &Client{
		cfg:         cfg,
		handler:     handler,
		ctx:         ctx,
		cancel:      cancel,
		fatal:       make(chan error, 1),
		tracer:      tracer,
		msgCounter:  msgCounter,
		connCounter: connCounter,
		logger:      logger,
	}
}

// SetOnConnected sets the callback for when the connection is established.
// reconnect is true for every connection after the first.
func (c *Client) SetOnConnected(cb func(reconnect bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = cb
}

// SetOnDisconnected sets the callback for when a live connection drops.
func (c *Client) SetOnDisconnected(cb func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnected = cb
}

// Fatal reports the terminal error after reconnection attempts run out.
func (c *Client) Fatal() <-chan error {
	return c.fatal
}

// Send sends a message over the WebSocket
func (c *Client) Send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("websocket not connected")
	}

	return c.conn.WriteJSON(message)
}

// Start connects and begins listening for messages
func (c *Client) Start() {
	c.wg.Add(1)
	go c.runLoop()
}

// Stop closes the connection and stops the loop
func (c *Client) Stop() {
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		if c.logger != nil {
			c.logger.Warn("WebSocket client Stop: some goroutines did not exit within timeout")
		}
	}

	c.closeConn()
}

func (c *Client) runLoop() {
	defer c.wg.Done()

	attempts := 0
	connected := false

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		if err := c.connect(); err != nil {
			attempts++
			if c.logger != nil {
				c.logger.Error("WebSocket connect failed",
					"url", c.cfg.URL, "attempt", attempts, "error", err)
			}
			if attempts >= c.cfg.MaxReconnectAttempts {
				c.fatal <- fmt.Errorf("websocket gave up after %d attempts: %w", attempts, err)
				return
			}
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(c.backoff(attempts)):
			}
			continue
		}
		attempts = 0

		c.mu.Lock()
		onConnected := c.onConnected
		c.mu.Unlock()
		if onConnected != nil {
			onConnected(connected)
		}
		connected = true

		heartbeatCtx, heartbeatCancel := context.WithCancel(c.ctx)
		c.wg.Add(1)
		go c.heartbeat(heartbeatCtx)

		readErr := c.readLoop()
		heartbeatCancel()

		c.mu.Lock()
		onDisconnected := c.onDisconnected
		c.mu.Unlock()
		if onDisconnected != nil && c.ctx.Err() == nil {
			onDisconnected(readErr)
		}

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.backoff(1)):
		}
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.ReconnectBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.cfg.ReconnectMax {
			return c.cfg.ReconnectMax
		}
	}
	if d > c.cfg.ReconnectMax {
		d = c.cfg.ReconnectMax
	}
	return d
}

func (c *Client) heartbeat(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			if conn == nil {
				return
			}

			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(c.cfg.PingWait)); err != nil {
				c.closeConn()
				return
			}
		}
	}
}

func (c *Client) connect() error {
	ctx, span := c.tracer.Start(c.ctx, "WS Connect",
		trace.WithAttributes(attribute.String("ws.url", c.cfg.URL)),
	)
	defer span.End()

	c.connCounter.Add(ctx, 1)

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		span.RecordError(err)
		return err
	}

	// Any inbound frame counts as a heartbeat.
	conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		return nil
	})

	c.conn = conn
	return nil
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) readLoop() error {
	defer c.closeConn()

	for {
		select {
		case <-c.ctx.Done():
			return nil
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return fmt.Errorf("connection closed")
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))

		c.msgCounter.Add(c.ctx, 1)
		if c.handler != nil {
			c.handler(message)
		}
	}
}
