package validation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-idcapture/internal/log"
	"github.com/teslashibe/go-idcapture/pkg/protocol"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound results, which carry no images
	maxMessageSize = 64 * 1024
)

// WSChannel is a Channel over a websocket connection to the validator.
type WSChannel struct {
	*registry

	url    string
	conn   *websocket.Conn
	logger *slog.Logger

	// Only one goroutine may write to a gorilla connection at a time.
	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the validator at url and starts reading results.
func Dial(ctx context.Context, url string) (*WSChannel, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("validator connect failed: %w", err)
	}

	logger := log.With("component", "validation", "transport", "websocket", "url", url)
	c := &WSChannel{
		registry: newRegistry(logger),
		url:      url,
		conn:     conn,
		logger:   logger,
		done:     make(chan struct{}),
	}

	go c.readPump()
	go c.pingPump()

	logger.Info("validator connected")
	return c, nil
}

// Send writes req as a JSON text message.
func (c *WSChannel) Send(ctx context.Context, req protocol.ValidationRequest) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	data, err := req.Bytes()
	if err != nil {
		return err
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send validation request %s: %w", req.ID, err)
	}
	return nil
}

// Subscribe registers h for inbound results.
func (c *WSChannel) Subscribe(h Handler) Subscription {
	return c.subscribe(h)
}

// Done is closed when the connection ends.
func (c *WSChannel) Done() <-chan struct{} {
	return c.done
}

// Close sends a close frame and tears down the connection.
func (c *WSChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		err = c.conn.Close()
		close(c.done)
	})
	return err
}

// readPump delivers inbound results until the connection fails.
func (c *WSChannel) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("validator connection lost", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.dispatchRaw(data)
	}
}

// pingPump keeps the connection alive.
func (c *WSChannel) pingPump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}
