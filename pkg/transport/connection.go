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

// MessageHandler is the callback executed for each inbound frame. It runs
// synchronously inside the read loop, so frames from one connection are
// always handled in arrival order.
type MessageHandler func(ctx context.Context, sid string, msg []byte)

// OnCloseHandler fires exactly once when the connection terminates.
type OnCloseHandler func(sid string, err error)

type ConnectionConfig struct {
	ReadTimeout time.Duration
}

// Connection represents a single, thread-safe WebSocket connection. The
// sid it carries is the identity every presence record refers back to.
type Connection struct {
	sid    string
	conn   *websocket.Conn
	config ConnectionConfig
	send   chan []byte

	onMessage MessageHandler
	onClose   OnCloseHandler

	done      chan struct{}
	wg        *sync.WaitGroup
	ctx       context.Context
	closeOnce sync.Once
	cancel    context.CancelFunc

	logger *slog.Logger
}

func NewConnection(parentCtx context.Context, wg *sync.WaitGroup, conn *websocket.Conn, config ConnectionConfig, onMessage MessageHandler, onClose OnCloseHandler, logger *slog.Logger) *Connection {
	sid := uuid.NewString()
	connCtx, cancel := context.WithCancel(parentCtx)

	// Registered here, not in Run, so a connection torn down before its
	// pumps start still balances the WaitGroup.
	wg.Add(1)

	return &Connection{
		sid:       sid,
		conn:      conn,
		logger:    logger.With(slog.String("sid", sid)),
		config:    config,
		onMessage: onMessage,
		onClose:   onClose,
		send:      make(chan []byte, 256), // Buffered channel
		done:      make(chan struct{}),
		ctx:       connCtx,
		cancel:    cancel,
		wg:        wg,
	}
}

func (c *Connection) Run() {
	go c.readPump()
	go c.writePump()

	c.logger.Info("connection established")
}

// readPump pumps messages from the WebSocket connection to the message
// handler. Handlers run inline: per-connection event ordering depends on it.
func (c *Connection) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	for {
		readCtx, cancelRead := context.WithTimeout(c.ctx, c.config.ReadTimeout)
		typ, r, err := c.conn.Reader(readCtx)
		if err != nil {
			cancelRead()
			readErr = err
			return
		}
		// Ensure we are only handling text or binary messages.
		if typ != websocket.MessageText && typ != websocket.MessageBinary {
			cancelRead()
			continue
		}
		message, err := io.ReadAll(r)
		cancelRead()
		if err != nil {
			c.logger.Error("Failed to read inbound frame", slog.Any("error", err))
			readErr = err
			return
		}
		c.onMessage(c.ctx, c.sid, message)
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
			if err := c.conn.Write(c.ctx, websocket.MessageText, message); err != nil {
				writeErr = err
				return
			}
		case <-c.ctx.Done():
			c.conn.Close(websocket.StatusNormalClosure, "request cancelled")
			return
		}
	}
}

// Send queues a message for the client. It is safe for concurrent use and
// never blocks past connection teardown. Broadcasters may still hold this
// connection for a moment after Close, before disconnect cleanup pulls it
// out of every room; their frames land here and are silently dropped.
func (c *Connection) Send(message []byte) {
	select {
	case c.send <- message:
	case <-c.ctx.Done():
	}
}

// Close gracefully shuts down the connection and its resources.
func (c *Connection) Close(err error) {
	c.closeOnce.Do(func() {
		status := websocket.CloseStatus(err)
		c.logger.Info("Transport connection closing", slog.Any("reason", err), slog.String("status", status.String()))

		// The send channel is never closed: broadcasters may race Close
		// and a send on a closed channel would panic their goroutine.
		// writePump exits via the cancelled context instead.
		c.cancel() // Signal goroutines to stop.
		c.conn.Close(websocket.StatusNormalClosure, "")
		if c.onClose != nil {
			c.onClose(c.sid, err)
		}
		c.wg.Done()
		close(c.done)
	})
}

// Done returns a channel that is closed when the connection is fully
// terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// SID returns the unique identifier of the connection.
func (c *Connection) SID() string {
	return c.sid
}

func (c *Connection) SetOnMessageHandler(handler MessageHandler) {
	c.onMessage = handler
}

func (c *Connection) SetOnCloseHandler(handler OnCloseHandler) {
	c.onClose = handler
}
