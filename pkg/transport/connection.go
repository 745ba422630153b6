package transport

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// callback executed when a message is received.
type MessageHandler func(ctx context.Context, connId uuid.UUID, msg []byte)

// callback executed once when the connection terminates. err is nil for a
// local normal closure.
type OnCloseHandler func(connId uuid.UUID, err error)

type ConnectionConfig struct {
	// ReadTimeout bounds how long the peer may stay unresponsive. It is
	// enforced with pings, so a quiet but healthy peer stays connected.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

const defaultSendBuffer = 256

// Connection represents a single, thread-safe WebSocket connection. Inbound
// messages are handed to the message handler one at a time, in order.
type Connection struct {
	id     uuid.UUID
	conn   *websocket.Conn
	config ConnectionConfig
	send   chan []byte

	handlerMu sync.RWMutex
	onMessage MessageHandler
	onClose   OnCloseHandler

	done      chan struct{}
	wg        *sync.WaitGroup
	lifeMu    sync.Mutex
	started   bool
	ctx       context.Context
	closeOnce sync.Once
	cancel    context.CancelFunc

	logger *slog.Logger
}

func NewConnection(parentCtx context.Context, wg *sync.WaitGroup, conn *websocket.Conn, config ConnectionConfig, onMessage MessageHandler, onClose OnCloseHandler, logger *slog.Logger) *Connection {
	id := uuid.New()
	connCtx, cancel := context.WithCancel(parentCtx)
	connLogger := logger.With(slog.String("connID", id.String()))
	if config.SendBuffer <= 0 {
		config.SendBuffer = defaultSendBuffer
	}

	return &Connection{
		id:        id,
		conn:      conn,
		logger:    connLogger,
		config:    config,
		onMessage: onMessage,
		send:      make(chan []byte, config.SendBuffer),
		done:      make(chan struct{}),
		ctx:       connCtx,
		cancel:    cancel,
		onClose:   onClose,
		wg:        wg,
	}
}

func (c *Connection) Run() {
	c.lifeMu.Lock()
	// a connection closed before it ran never joins the wait group
	if c.started || c.ctx.Err() != nil {
		c.lifeMu.Unlock()
		return
	}
	c.started = true
	if c.wg != nil {
		c.wg.Add(1)
	}
	c.lifeMu.Unlock()
	go c.readPump()
	go c.writePump()
	if c.config.ReadTimeout > 0 {
		go c.heartbeat()
	}

	c.logger.Info("connection established")
}

// readPump pumps messages from the WebSocket connection to the message handler.
func (c *Connection) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	for {
		// a blocked read is fine: liveness is checked by heartbeat
		typ, r, err := c.conn.Reader(c.ctx)
		if err != nil {
			readErr = err
			return
		}
		// Ensure we are only handling text or binary messages.
		if typ != websocket.MessageText && typ != websocket.MessageBinary {
			continue
		}
		message, err := io.ReadAll(r)
		if err != nil {
			c.logger.Error("Connection readpump failed", slog.Any("error", err))
			readErr = err
			return
		}
		if handler := c.messageHandler(); handler != nil {
			handler(c.ctx, c.id, message)
		}
	}
}

// heartbeat pings the peer every half ReadTimeout and closes the connection
// when a pong does not arrive in time. Pongs are read by readPump.
func (c *Connection) heartbeat() {
	interval := c.config.ReadTimeout / 2
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, c.config.ReadTimeout)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				if c.ctx.Err() != nil {
					return
				}
				c.logger.Warn("Peer stopped answering pings", slog.Any("error", err))
				c.Close(err)
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// writePump pumps messages from the send channel to the WebSocket connection.
func (c *Connection) writePump() {
	var writeErr error

	defer func() {
		c.Close(writeErr)
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.write(message); err != nil {
				writeErr = err
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) write(message []byte) error {
	ctx := c.ctx
	if c.config.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(c.ctx, c.config.WriteTimeout)
		defer cancel()
	}
	return c.conn.Write(ctx, websocket.MessageText, message)
}

// Send queues a message. It never blocks: on a closed connection or a full
// buffer the message is dropped. Position and state updates are superseded
// by the next one anyway.
func (c *Connection) Send(message []byte) {
	if !c.IsOpen() {
		c.logger.Debug("Dropping message on closed connection")
		return
	}
	select {
	case c.send <- message:
	case <-c.ctx.Done():
		c.logger.Debug("Dropping message on closed connection")
	default:
		c.logger.Warn("Send buffer full, dropping message")
	}
}

// IsOpen reports whether the connection can still carry messages.
func (c *Connection) IsOpen() bool {
	return c.ctx.Err() == nil
}

// gracefully shuts down the connection and its resources.
func (c *Connection) Close(err error) {
	c.closeWith(websocket.StatusNormalClosure, "", err)
}

// CloseStatus closes the connection with an explicit websocket status.
func (c *Connection) CloseStatus(code websocket.StatusCode, reason string) {
	c.closeWith(code, reason, nil)
}

func (c *Connection) closeWith(code websocket.StatusCode, reason string, err error) {
	c.closeOnce.Do(func() {
		status := websocket.CloseStatus(err)
		c.logger.Info("Transport connection closing", slog.Any("reason", err), slog.String("status", status.String()))

		c.cancel() // Signal goroutines to stop.
		if c.conn != nil {
			c.conn.Close(code, reason)
		}
		if handler := c.closeHandler(); handler != nil {
			handler(c.id, err)
		}
		c.lifeMu.Lock()
		started := c.started
		c.lifeMu.Unlock()
		if c.wg != nil && started {
			c.wg.Done()
		}
		close(c.done)
		c.logger.Info("Connection closed")
	})
}

// returns a channel that is closed when the connection is fully terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// ID returns the unique identifier of the connection.
func (c *Connection) ID() uuid.UUID {
	return c.id
}

func (c *Connection) SetOnMessageHandler(handler MessageHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onMessage = handler
}

func (c *Connection) SetOnCloseHandler(handler OnCloseHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onClose = handler
}

func (c *Connection) messageHandler() MessageHandler {
	c.handlerMu.RLock()
	defer c.handlerMu.RUnlock()
	return c.onMessage
}

func (c *Connection) closeHandler() OnCloseHandler {
	c.handlerMu.RLock()
	defer c.handlerMu.RUnlock()
	return c.onClose
}
