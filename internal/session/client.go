// File: internal/session/client.go
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tara-ai/copilot-cli/internal/config"
	"github.com/tara-ai/copilot-cli/internal/protocol"
)

// Connection states.
const (
	stateIdle int32 = iota
	stateConnecting
	stateActive
	stateClosed
)

// ErrClientClosed is returned by operations on a closed client.
var ErrClientClosed = errors.New("session: client closed")

// wireConn is the slice of *websocket.Conn the client needs; tests substitute
// an in-memory pipe.
type wireConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Frame is one inbound websocket frame: either a decoded control message or a
// raw binary payload.
type Frame struct {
	Msg    protocol.Message
	Binary []byte
}

// Client owns one control websocket to the agent backend. Writes are
// serialized; reads happen from a single reader goroutine owned by the
// caller.
type Client struct {
	cfg    config.ProtocolConfig
	logger *zap.Logger
	dial   func(ctx context.Context, wsURL string) (wireConn, error)

	state   atomic.Int32
	writeMu sync.Mutex
	conn    wireConn
}

func NewClient(cfg config.ProtocolConfig, logger *zap.Logger) *Client {
	c := &Client{
		cfg:    cfg,
		logger: logger.Named("ws"),
	}
	c.dial = c.dialWebsocket
	return c
}

func (c *Client) dialWebsocket(ctx context.Context, wsURL string) (wireConn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Connect dials wsURL with exponential backoff until it succeeds, the retry
// budget runs out, or ctx is canceled.
func (c *Client) Connect(ctx context.Context, wsURL string) error {
	if c.state.Load() == stateClosed {
		return ErrClientClosed
	}
	c.state.Store(stateConnecting)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	if c.cfg.ReconnectMax > 0 {
		policy.MaxInterval = c.cfg.ReconnectMax
	}
	policy.MaxElapsedTime = 0

	var wrapped backoff.BackOff = policy
	if c.cfg.MaxReconnectTries > 0 {
		wrapped = backoff.WithMaxRetries(wrapped, uint64(c.cfg.MaxReconnectTries))
	}
	wrapped = backoff.WithContext(wrapped, ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		conn, derr := c.dial(ctx, wsURL)
		if derr != nil {
			c.logger.Warn("Dial failed",
				zap.String("url", wsURL),
				zap.Int("attempt", attempt),
				zap.Error(derr))
			return derr
		}
		c.writeMu.Lock()
		c.conn = conn
		c.writeMu.Unlock()
		return nil
	}, wrapped)
	if err != nil {
		c.state.Store(stateIdle)
		return fmt.Errorf("connect %s: %w", wsURL, err)
	}

	c.state.Store(stateActive)
	c.logger.Info("Control channel connected", zap.String("url", wsURL))
	return nil
}

// Send encodes and writes one control message.
func (c *Client) Send(m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	return c.write(websocket.TextMessage, data)
}

// SendBinary writes one binary frame (mic audio on the fallback path).
func (c *Client) SendBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data)
}

func (c *Client) write(messageType int, data []byte) error {
	if c.state.Load() != stateActive {
		return ErrClientClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrClientClosed
	}
	if c.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return c.conn.WriteMessage(messageType, data)
}

// Ping sends a websocket-level ping as a keepalive.
func (c *Client) Ping() error {
	return c.write(websocket.PingMessage, nil)
}

// ReadFrame blocks for the next inbound frame. Malformed control frames are
// surfaced as *protocol.DecodeError so the caller can skip them without
// dropping the connection.
func (c *Client) ReadFrame() (Frame, error) {
	if c.state.Load() != stateActive {
		return Frame{}, ErrClientClosed
	}
	c.writeMu.Lock()
	conn := c.conn
	c.writeMu.Unlock()
	if conn == nil {
		return Frame{}, ErrClientClosed
	}

	messageType, data, err := conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	if messageType == websocket.BinaryMessage {
		return Frame{Binary: data}, nil
	}
	msg, derr := protocol.Decode(data)
	if derr != nil {
		return Frame{}, derr
	}
	return Frame{Msg: msg}, nil
}

// Active reports whether the control channel is up.
func (c *Client) Active() bool {
	return c.state.Load() == stateActive
}

// Close tears the connection down; further operations fail with
// ErrClientClosed.
func (c *Client) Close() {
	if c.state.Swap(stateClosed) == stateClosed {
		return
	}
	c.writeMu.Lock()
	conn := c.conn
	c.conn = nil
	c.writeMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}
