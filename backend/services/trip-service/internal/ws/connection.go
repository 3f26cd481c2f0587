package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	readLimit    = 4096
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 32
)

// Connection is one customer's live trip feed.
type Connection struct {
	customerID   string
	ws           *websocket.Conn
	send         chan []byte
	logger       *zap.Logger
	writeTimeout time.Duration
	onClose      func(*Connection)

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// NewConnection builds connection wrapper.
func NewConnection(customerID string, ws *websocket.Conn, writeTimeout time.Duration, logger *zap.Logger, onClose func(*Connection)) *Connection {
	return &Connection{
		customerID:   customerID,
		ws:           ws,
		send:         make(chan []byte, sendBuffer),
		logger:       logger,
		writeTimeout: writeTimeout,
		onClose:      onClose,
	}
}

// CustomerID returns identifier.
func (c *Connection) CustomerID() string {
	return c.customerID
}

// Start launches read/write pumps and blocks until the read side ends.
func (c *Connection) Start(ctx context.Context) {
	go c.writePump(ctx)
	c.readPump()
}

// readPump only drains control frames; clients have nothing to say on this feed.
func (c *Connection) readPump() {
	defer c.cleanup()
	c.ws.SetReadLimit(readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.ws.NextReader(); err != nil {
			c.logger.Debug("connection read closed", zap.String("customer_id", c.customerID), zap.Error(err))
			return
		}
	}
}

func (c *Connection) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case msg, ok := <-c.send:
			if !ok {
				_ = c.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Send enqueues a message; a slow reader loses messages instead of stalling the feed.
func (c *Connection) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.logger.Warn("dropping outgoing message, buffer full", zap.String("customer_id", c.customerID))
		return false
	}
}

func (c *Connection) write(messageType int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(messageType, data)
}

func (c *Connection) cleanup() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
		if c.onClose != nil {
			c.onClose(c)
		}
	})
}
