// File: internal/session/audio_link.go
package session

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tara-ai/copilot-cli/internal/protocol"
)

// audioLink is the dedicated stream websocket: mic PCM goes up as binary
// frames, synthesized speech comes down the same socket. When the stream
// cannot be established, mic frames ride the control channel as paired
// audio_chunk meta + binary frames (inbound speech then arrives on the
// control channel too). Mic frames produced before the link resolves are
// held in a small pre-buffer so the first syllables of an utterance are not
// lost; inbound speech is likewise pre-buffered before playback starts.
type audioLink struct {
	client     *Client
	logger     *zap.Logger
	dial       func(ctx context.Context, wsURL string) (wireConn, error)
	onAudio    func([]byte)
	preBuffer  int
	sampleRate int
	timeout    time.Duration

	mu       sync.Mutex
	conn     wireConn
	fallback bool
	pending  [][]byte
	seq      int64
	closed   bool
}

func newAudioLink(client *Client, preBuffer, sampleRate int, timeout time.Duration, logger *zap.Logger) *audioLink {
	if preBuffer <= 0 {
		preBuffer = 3
	}
	l := &audioLink{
		client:     client,
		logger:     logger.Named("audio-link"),
		preBuffer:  preBuffer,
		sampleRate: sampleRate,
		timeout:    timeout,
	}
	l.dial = func(ctx context.Context, wsURL string) (wireConn, error) {
		dialer := websocket.Dialer{HandshakeTimeout: timeout}
		conn, _, err := dialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			// A typed-nil *websocket.Conn inside the interface would read as
			// a live connection.
			return nil, err
		}
		return conn, nil
	}
	return l
}

// streamURL derives the dedicated audio endpoint. An explicit URL from
// session_created wins; otherwise /stream next to the control endpoint.
func streamURL(serverURL, explicit, sessionID string) string {
	raw := explicit
	if raw == "" {
		u, err := url.Parse(serverURL)
		if err != nil {
			return ""
		}
		u.Path = "/stream"
		u.RawQuery = ""
		raw = u.String()
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String()
}

// connect resolves the link one way or the other and flushes the pre-buffer.
func (l *audioLink) connect(ctx context.Context, wsURL string) {
	var conn wireConn
	var err error
	if wsURL != "" {
		conn, err = l.dial(ctx, wsURL)
		if err != nil {
			conn = nil
		}
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if conn != nil {
		l.conn = conn
		l.logger.Info("Audio stream connected", zap.String("url", wsURL))
	} else {
		l.fallback = true
		l.logger.Warn("Audio stream unavailable, using control channel",
			zap.String("url", wsURL),
			zap.Error(err))
	}
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	if conn != nil {
		go l.readLoop(conn)
	}
	for _, frame := range pending {
		l.sendFrame(frame)
	}
}

// readLoop drains synthesized speech off the stream socket. The first few
// chunks are held back so playback starts with enough runway to stay gapless.
func (l *audioLink) readLoop(conn wireConn) {
	var held [][]byte
	buffering := true
	flush := func() {
		for _, chunk := range held {
			l.deliver(chunk)
		}
		held = nil
		buffering = false
	}
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			flush()
			l.mu.Lock()
			closed := l.closed
			if l.conn == conn {
				l.conn = nil
				l.fallback = true
			}
			l.mu.Unlock()
			if !closed {
				l.logger.Warn("Audio stream closed, using control channel", zap.Error(err))
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		if buffering {
			held = append(held, data)
			if len(held) >= l.preBuffer {
				flush()
			}
			continue
		}
		l.deliver(data)
	}
}

func (l *audioLink) deliver(data []byte) {
	if l.onAudio != nil {
		l.onAudio(data)
	}
}

// sendFrame ships one PCM frame, buffering while the link is unresolved.
func (l *audioLink) sendFrame(data []byte) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	if l.conn == nil && !l.fallback {
		if len(l.pending) < l.preBuffer {
			l.pending = append(l.pending, data)
		}
		l.mu.Unlock()
		return
	}
	conn := l.conn
	l.seq++
	seq := l.seq
	l.mu.Unlock()

	if conn != nil {
		if l.timeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(l.timeout))
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			l.logger.Warn("Audio stream write failed, switching to control channel", zap.Error(err))
			l.mu.Lock()
			l.conn = nil
			l.fallback = true
			l.mu.Unlock()
			_ = conn.Close()
		} else {
			return
		}
	}

	if err := l.client.Send(protocol.NewAudioChunkMeta(seq, l.sampleRate)); err != nil {
		return
	}
	_ = l.client.SendBinary(data)
}

func (l *audioLink) close() {
	l.mu.Lock()
	l.closed = true
	conn := l.conn
	l.conn = nil
	l.pending = nil
	l.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}
