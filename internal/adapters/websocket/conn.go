package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/mindcare/realtime-service/internal/adapters/config"
	"github.com/mindcare/realtime-service/internal/adapters/metrics"
	"github.com/mindcare/realtime-service/internal/domain"
	"github.com/mindcare/realtime-service/pkg/contextkeys"
	"github.com/mindcare/realtime-service/pkg/safego"
)

const (
	backpressurePolicyDropOldest = "drop_oldest"
	backpressurePolicyBlock      = "block"

	defaultBufferSize   = 100
	defaultWriteTimeout = 10 * time.Second
	readLimitBytes      = 1 << 20
	maxCloseReasonBytes = 123
)

// Connection wraps a websocket.Conn with a buffered writer and a dedicated
// reader. Reads always run on the connection lifetime context, so a caller's
// read deadline expiring leaves the socket open.
type Connection struct {
	id         string
	subsystem  string
	wsConn     *websocket.Conn
	logger     domain.Logger
	remoteAddr string

	connCtx context.Context
	cancel  context.CancelFunc

	writeTimeout  time.Duration
	messageBuffer chan []byte
	dropPolicy    string
	writerDone    <-chan struct{}

	inbound chan []byte
	readErr error // set before inbound is closed

	alive     atomic.Bool
	closing   chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewConnection starts the reader and writer goroutines for an accepted socket.
// parent bounds the connection lifetime; it is normally the request context.
func NewConnection(
	parent context.Context,
	wsConn *websocket.Conn,
	subsystem string,
	remoteAddr string,
	logger domain.Logger,
	cfgProvider config.Provider,
) *Connection {
	id := uuid.NewString()
	ctx := context.WithValue(parent, contextkeys.ConnectionIDKey, id)
	ctx = context.WithValue(ctx, contextkeys.SubsystemKey, subsystem)
	ctx, cancel := context.WithCancel(ctx)

	appCfg := cfgProvider.Get().App
	bufferCap := appCfg.WebsocketMessageBufferSize
	if bufferCap <= 0 {
		bufferCap = defaultBufferSize
	}
	dropPol := strings.ToLower(appCfg.WebsocketBackpressureDropPolicy)
	if dropPol != backpressurePolicyDropOldest && dropPol != backpressurePolicyBlock {
		if dropPol != "" {
			logger.Warn(ctx, "Invalid WebsocketBackpressureDropPolicy, defaulting to drop_oldest", "configured_policy", appCfg.WebsocketBackpressureDropPolicy)
		}
		dropPol = backpressurePolicyDropOldest
	}
	writeTimeout := time.Duration(appCfg.WriteTimeoutSeconds) * time.Second
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	wsConn.SetReadLimit(readLimitBytes)

	c := &Connection{
		id:            id,
		subsystem:     subsystem,
		wsConn:        wsConn,
		logger:        logger,
		remoteAddr:    remoteAddr,
		connCtx:       ctx,
		cancel:        cancel,
		writeTimeout:  writeTimeout,
		messageBuffer: make(chan []byte, bufferCap),
		dropPolicy:    dropPol,
		inbound:       make(chan []byte),
		closing:       make(chan struct{}),
	}
	c.alive.Store(true)

	c.writerDone = safego.Go(ctx, logger, fmt.Sprintf("WebSocketWriter-%s", id), c.writeLoop)
	safego.Execute(ctx, logger, fmt.Sprintf("WebSocketReader-%s", id), c.readLoop)
	return c
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) RemoteAddr() string { return c.remoteAddr }

// Context is cancelled when the connection closes or its transport fails.
func (c *Connection) Context() context.Context { return c.connCtx }

func (c *Connection) IsAlive() bool { return c.alive.Load() }

func (c *Connection) readLoop() {
	defer close(c.inbound)
	for {
		_, data, err := c.wsConn.Read(c.connCtx)
		if err != nil {
			c.readErr = c.classifyReadError(err)
			c.alive.Store(false)
			c.cancel()
			return
		}
		select {
		case c.inbound <- data:
		case <-c.connCtx.Done():
			c.readErr = domain.ErrConnectionClosed
			return
		}
	}
}

func (c *Connection) classifyReadError(err error) error {
	select {
	case <-c.closing:
		return domain.ErrConnectionClosed
	default:
	}
	if websocket.CloseStatus(err) != -1 {
		c.logger.Debug(c.connCtx, "Peer closed connection", "status", websocket.CloseStatus(err).String())
		return domain.ErrPeerClosed
	}
	c.logger.Debug(c.connCtx, "WebSocket read failed", "error", err.Error())
	return domain.ErrConnectionClosed
}

// ReadMessage returns the next data frame. An expired ctx deadline yields
// domain.ErrReadTimeout and the connection stays usable.
func (c *Connection) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-c.inbound:
		if !ok {
			return nil, c.readErr
		}
		return data, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && c.connCtx.Err() == nil {
			return nil, domain.ErrReadTimeout
		}
		return nil, domain.ErrConnectionClosed
	case <-c.connCtx.Done():
		select {
		case data, ok := <-c.inbound:
			if ok {
				return data, nil
			}
			return nil, c.readErr
		default:
		}
		return nil, domain.ErrConnectionClosed
	}
}

func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.connCtx.Done():
			return
		case <-c.closing:
			c.drain()
			return
		case msg := <-c.messageBuffer:
			if err := c.write(msg); err != nil {
				if !errors.Is(err, context.Canceled) {
					c.logger.Warn(c.connCtx, "Failed to write message from buffer to WebSocket", "error", err.Error())
				}
				c.alive.Store(false)
				c.cancel()
				return
			}
		}
	}
}

// drain flushes frames queued before Close so error events reach the client
// ahead of the close frame.
func (c *Connection) drain() {
	for {
		select {
		case msg := <-c.messageBuffer:
			if err := c.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) write(msg []byte) error {
	ctx, cancel := context.WithTimeout(c.connCtx, c.writeTimeout)
	defer cancel()
	return c.wsConn.Write(ctx, websocket.MessageText, msg)
}

// WriteJSON marshals v and queues it for the writer. It fails once the
// connection is closing or dead.
func (c *Connection) WriteJSON(v any) error {
	msg, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if !c.alive.Load() {
		return domain.ErrConnectionClosed
	}

	if c.dropPolicy == backpressurePolicyBlock {
		select {
		case c.messageBuffer <- msg:
			metrics.IncrementMessagesSent(c.subsystem)
			return nil
		case <-c.closing:
			return domain.ErrConnectionClosed
		case <-c.connCtx.Done():
			metrics.IncrementWebsocketMessagesDropped(c.subsystem, "buffer_full_block_ctx_done")
			return domain.ErrConnectionClosed
		}
	}

	for {
		select {
		case c.messageBuffer <- msg:
			metrics.IncrementMessagesSent(c.subsystem)
			return nil
		case <-c.closing:
			return domain.ErrConnectionClosed
		case <-c.connCtx.Done():
			return domain.ErrConnectionClosed
		default:
		}
		select {
		case oldest := <-c.messageBuffer:
			metrics.IncrementWebsocketMessagesDropped(c.subsystem, "buffer_full_dropped_oldest")
			c.logger.Warn(c.connCtx, "Dropped oldest message from buffer due to backpressure", "dropped_msg_len", len(oldest))
		default:
		}
	}
}

// Close flushes queued frames, sends a close frame with code and reason, and
// releases both goroutines. Later calls return the first result.
func (c *Connection) Close(code websocket.StatusCode, reason string) error {
	c.closeOnce.Do(func() {
		c.alive.Store(false)
		close(c.closing)
		<-c.writerDone

		if len(reason) > maxCloseReasonBytes {
			reason = reason[:maxCloseReasonBytes]
		}
		c.logger.Debug(c.connCtx, "Closing WebSocket connection", "status", code.String(), "reason", reason)
		c.closeErr = c.wsConn.Close(code, reason)
		c.cancel()
	})
	return c.closeErr
}
