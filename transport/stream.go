package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/st-keller/charsync/encode"
)

// StreamOptions tunes the WebSocket channel. Zero values pick defaults.
type StreamOptions struct {
	HandshakeTimeout time.Duration // default 10s
	WriteTimeout     time.Duration // default 5s
	TLS              *tls.Config
}

type authFrame struct {
	APIKey string `json:"apiKey"`
}

// Stream keeps one WebSocket open. Every (re)connect sends the auth frame
// before anything else; data frames carry no credentials. Nothing is read
// back, so a completed write counts as delivered.
type Stream struct {
	endpoint     string
	apiKey       string
	dialer       *websocket.Dialer
	writeTimeout time.Duration

	connectMu sync.Mutex // serializes Connect/Reconnect
	writeMu   sync.Mutex // one writer at a time on conn

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewStream creates a disconnected Stream; call Connect before sending.
func NewStream(endpoint, apiKey string, opts StreamOptions) *Stream {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &Stream{
		endpoint: endpoint,
		apiKey:   apiKey,
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
			TLSClientConfig:  opts.TLS,
		},
		writeTimeout: opts.WriteTimeout,
	}
}

// Endpoint returns the socket URL.
func (s *Stream) Endpoint() string {
	return s.endpoint
}

// Connected reports whether a socket is currently open.
func (s *Stream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Connect dials and authenticates. A no-op when already connected.
func (s *Stream) Connect(ctx context.Context) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.mu.Lock()
	closed, connected := s.closed, s.conn != nil
	s.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if connected {
		return nil
	}
	return s.dial(ctx)
}

// Reconnect drops any existing socket and connects again, re-sending the auth frame.
func (s *Stream) Reconnect(ctx context.Context) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	old := s.conn
	s.conn = nil
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return s.dial(ctx)
}

// dial opens and authenticates a socket. Caller holds connectMu.
func (s *Stream) dial(ctx context.Context) error {
	conn, resp, err := s.dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect: HTTP %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to connect: %w", err)
	}

	frame, err := json.Marshal(authFrame{APIKey: s.apiKey})
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to marshal auth frame: %w", err)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		conn.Close()
		return fmt.Errorf("failed to authenticate: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	s.conn = conn
	s.mu.Unlock()

	go s.readPump(conn)
	return nil
}

// readPump discards inbound frames and tears the socket down once the peer goes away.
func (s *Stream) readPump(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.teardown(conn)
			return
		}
	}
}

// teardown forgets conn if it is still current and closes it.
func (s *Stream) teardown(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	conn.Close()
}

// Send writes one data frame. Fails fast without a socket.
func (s *Stream) Send(ctx context.Context, p *encode.Payload) Result {
	s.mu.Lock()
	closed, conn := s.closed, s.conn
	s.mu.Unlock()

	if closed {
		return failed(FailureDisconnected, 0, ErrClosed, 0)
	}
	if conn == nil {
		return failed(FailureDisconnected, 0, ErrNotConnected, 0)
	}

	deadline := time.Now().Add(s.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	startTime := time.Now()

	s.writeMu.Lock()
	_ = conn.SetWriteDeadline(deadline)
	err := conn.WriteMessage(websocket.TextMessage, p.Bytes())
	s.writeMu.Unlock()

	latency := time.Since(startTime)
	if err != nil {
		s.teardown(conn)
		return failed(FailureNetwork, 0, fmt.Errorf("write failed: %w", err), latency)
	}

	return delivered(0, latency)
}

// Close sends a best-effort close frame and closes the socket. Idempotent.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	// WriteControl is safe alongside an in-flight WriteMessage.
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return conn.Close()
}
