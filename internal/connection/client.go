package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/kucoin-stream/internal/buffer"
)

// Client represents a single WebSocket connection to the venue.
type Client interface {
	// Connect dials the socket and completes the welcome handshake.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection.
	Close() error

	// Send encodes and writes a frame within the write timeout.
	Send(f Frame) error

	// Messages returns the queue of decoded inbound frames, in wire order.
	// Pong frames are consumed by the client and never queued.
	Messages() *buffer.Queue[Inbound]

	// Errors receives at most one error: the reason the socket died.
	// Nothing is sent after Close.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// client implements the Client interface.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	// Output
	messages *buffer.Queue[Inbound]
	errors   chan error
	done     chan struct{}
	failOnce sync.Once

	// Write serialization
	writeMu sync.Mutex

	// State
	mu         sync.RWMutex
	connected  bool
	lastSeenAt time.Time
	closed     bool
}

// NewClient creates a new WebSocket client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &client{
		cfg:      cfg,
		logger:   logger,
		messages: buffer.New[Inbound](cfg.InboundLimit),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// DialURL appends the connect id and token to a venue endpoint.
func DialURL(endpoint, token, connectID string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("connectId", connectID)
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect establishes the WebSocket connection.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	header := http.Header{}
	header.Set("Accept", "application/json")

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.DialTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return err
	}

	if err := c.awaitWelcome(ctx, conn); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyClosed
	}
	c.conn = conn
	c.connected = true
	c.lastSeenAt = time.Now()
	c.mu.Unlock()

	// Server sends ping, we respond with pong
	conn.SetPingHandler(func(data string) error {
		c.touch()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	go c.readLoop()
	go c.heartbeatLoop()

	c.logger.Debug("websocket connected")

	return nil
}

// awaitWelcome reads until the welcome frame, an error frame, or the dial
// deadline. Anything else the venue sends first is ignored.
func (c *client) awaitWelcome(ctx context.Context, conn *websocket.Conn) error {
	deadline := time.Now().Add(c.cfg.DialTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				return ErrWelcomeTimeout
			}
			return fmt.Errorf("read welcome: %w", err)
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("undecodable frame before welcome", "error", err)
			continue
		}

		switch f.Type {
		case TypeWelcome:
			return nil
		case TypeError:
			return fmt.Errorf("%w: code=%s %s", ErrHandshakeRejected, f.Code, f.Detail())
		}
	}
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	// Signal goroutines to stop
	close(c.done)
	c.messages.Close()

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return conn.Close()
	}

	return nil
}

// Send writes a frame to the connection.
func (c *client) Send(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Messages returns the inbound queue.
func (c *client) Messages() *buffer.Queue[Inbound] {
	return c.messages
}

// Errors returns the errors channel.
func (c *client) Errors() <-chan error {
	return c.errors
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *client) touch() {
	c.mu.Lock()
	c.lastSeenAt = time.Now()
	c.mu.Unlock()
}

// fail reports the terminal error once and tears the socket down so both
// loops exit. Errors after Close are swallowed.
func (c *client) fail(err error) {
	select {
	case <-c.done:
		return
	default:
	}

	c.failOnce.Do(func() {
		c.mu.Lock()
		c.connected = false
		conn := c.conn
		c.mu.Unlock()

		c.errors <- err
		if conn != nil {
			conn.Close()
		}
	})
}

// readLoop decodes frames into the messages queue until the socket fails.
func (c *client) readLoop() {
	defer c.messages.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now() // Capture timestamp immediately

		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = fmt.Errorf("%w: %v", ErrConnectionClosed, err)
			}
			c.fail(err)
			return
		}

		c.touch()

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("discarding undecodable frame", "error", err, "size", len(data))
			continue
		}

		if f.Type == TypePong {
			continue
		}

		in := Inbound{Frame: f, ReceivedAt: receivedAt}

		// Frames with an id answer a request someone is waiting on; only
		// data frames are shed when the queue is full.
		if f.ID != "" {
			c.messages.Force(in)
			continue
		}
		if !c.messages.Send(in) {
			c.logger.Warn("inbound queue full, dropping frame", "type", f.Type, "topic", f.Topic)
		}
	}
}

// heartbeatLoop pings the venue and declares the socket stale when nothing
// has been heard for PingInterval+PingTimeout.
func (c *client) heartbeatLoop() {
	if c.cfg.PingInterval <= 0 {
		return
	}

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.RLock()
			lastSeen := c.lastSeenAt
			connected := c.connected
			c.mu.RUnlock()

			if !connected {
				return
			}

			if time.Since(lastSeen) > c.cfg.PingInterval+c.cfg.PingTimeout {
				c.logger.Warn("no frames received, connection stale",
					"last_seen", lastSeen,
					"timeout", c.cfg.PingInterval+c.cfg.PingTimeout,
				)
				c.fail(ErrStaleConnection)
				return
			}

			ping := Frame{ID: strconv.FormatInt(time.Now().UnixNano(), 10), Type: TypePing}
			if err := c.Send(ping); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}
		}
	}
}
