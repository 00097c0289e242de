/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 VoiceBridge Contributors
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package telephony

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StreamConfig holds configuration for the provider event stream.
type StreamConfig struct {
	// URL is the provider's websocket event feed. Required.
	URL string

	// APIKey authenticates the connection. Optional; sent as a bearer
	// header when set.
	APIKey string

	// PingInterval between keepalive pings. Default: 30s.
	PingInterval time.Duration

	// PongTimeout for receiving a pong response. Default: 10s.
	PongTimeout time.Duration

	// BackoffReset is the initial reconnect delay. Default: 1s.
	BackoffReset time.Duration

	// BackoffMax caps the reconnect delay. Default: 32s.
	BackoffMax time.Duration

	// MaxRetries bounds reconnect attempts per outage. Default: 5.
	MaxRetries int
}

// DefaultStreamConfig returns a StreamConfig with keepalive and reconnect
// defaults applied.
func DefaultStreamConfig() *StreamConfig {
	return &StreamConfig{
		PingInterval: 30 * time.Second,
		PongTimeout:  10 * time.Second,
		BackoffReset: 1 * time.Second,
		BackoffMax:   32 * time.Second,
		MaxRetries:   5,
	}
}

// StreamHandler receives each decoded call event from the stream.
type StreamHandler func(ev *Event)

// Stream consumes the provider's websocket event feed as an alternative to
// webhook delivery. Malformed messages are logged and skipped; a dropped
// connection reconnects with exponential backoff.
type Stream struct {
	config  *StreamConfig
	handler StreamHandler

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closeCh   chan struct{}
	closed    bool
}

// NewStream creates a stream delivering events to handler.
func NewStream(config *StreamConfig, handler StreamHandler) (*Stream, error) {
	if config == nil || config.URL == "" {
		return nil, fmt.Errorf("event stream: URL is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("event stream: handler is required")
	}
	defaults := DefaultStreamConfig()
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.PongTimeout <= 0 {
		config.PongTimeout = defaults.PongTimeout
	}
	if config.BackoffReset <= 0 {
		config.BackoffReset = defaults.BackoffReset
	}
	if config.BackoffMax <= 0 {
		config.BackoffMax = defaults.BackoffMax
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	return &Stream{
		config:  config,
		handler: handler,
		closeCh: make(chan struct{}),
	}, nil
}

// Connect dials the feed and starts the read and keepalive loops. Returns
// after the initial connection is established (with backoff retries).
func (s *Stream) Connect() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("event stream is closed")
	}
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	return s.connectWithBackoff()
}

// Disconnect closes the stream. The stream cannot be reused afterwards.
func (s *Stream) Disconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.closeCh)
	conn := s.conn
	s.conn = nil
	s.connected = false
	s.mu.Unlock()

	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client shutdown"))
		_ = conn.Close()
	}
}

// IsConnected reports whether the feed connection is up.
func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Stream) connectWithBackoff() error {
	backoff := s.config.BackoffReset

	var err error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if err = s.attemptConnection(); err == nil {
			return nil
		}
		log.Printf("event stream: connection attempt %d failed: %v", attempt+1, err)

		select {
		case <-time.After(backoff):
			backoff *= 2
			if backoff > s.config.BackoffMax {
				backoff = s.config.BackoffMax
			}
		case <-s.closeCh:
			return nil
		}
	}
	return fmt.Errorf("event stream: failed to connect after %d attempts: %w", s.config.MaxRetries+1, err)
}

func (s *Stream) attemptConnection() error {
	headers := make(map[string][]string)
	if s.config.APIKey != "" {
		headers["Authorization"] = []string{"Bearer " + s.config.APIKey}
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(s.config.URL, headers)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.config.URL, err)
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Time{})
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	go s.listen(conn)
	go s.keepalive(conn)
	return nil
}

func (s *Stream) listen(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			s.handleConnectionError(conn, err)
			return
		}

		ev, err := DecodeEvent(message)
		if err != nil {
			log.Printf("event stream: skipping message: %v", err)
			continue
		}
		s.handler(ev)
	}
}

func (s *Stream) keepalive(conn *websocket.Conn) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

func (s *Stream) handleConnectionError(conn *websocket.Conn, err error) {
	s.mu.Lock()
	current := s.conn == conn
	if current {
		s.conn = nil
		s.connected = false
	}
	closed := s.closed
	s.mu.Unlock()

	if closed || !current {
		return
	}

	log.Printf("event stream: connection lost, reconnecting: %v", err)
	_ = conn.Close()
	go func() {
		if rerr := s.connectWithBackoff(); rerr != nil {
			log.Printf("event stream: %v", rerr)
		}
	}()
}
