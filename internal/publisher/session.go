package publisher

import (
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/simplepub/internal/infrastructure/mqtt"
)

// Transport is the connection a session runs over.
type Transport interface {
	mqtt.Conn

	// IsOpen reports whether the connection has not been closed yet.
	IsOpen() bool

	// Close releases the connection. It must be safe to call more than once.
	Close() error
}

// SessionOption tunes the engine behind a session.
type SessionOption func(*mqtt.EngineConfig)

// WithAckTimeout sets the CONNACK, QoS handshake and PINGRESP deadline.
func WithAckTimeout(d time.Duration) SessionOption {
	return func(c *mqtt.EngineConfig) { c.AckTimeout = d }
}

// WithMaxRetries sets how many DUP retransmissions a QoS 1/2 publish gets.
func WithMaxRetries(n int) SessionOption {
	return func(c *mqtt.EngineConfig) { c.MaxRetries = n }
}

// WithIOPoll bounds each ingress read inside Sync.
func WithIOPoll(d time.Duration) SessionOption {
	return func(c *mqtt.EngineConfig) { c.ReadPoll = d }
}

// Session owns the protocol engine for one connection attempt.
// The foreground and the sync loop share it; every method takes the
// same lock, so arenas and error state never see concurrent access.
type Session struct {
	mu     sync.Mutex
	conn   Transport
	engine *mqtt.Engine
}

// NewSession creates a session over an open transport.
//
// Parameters:
//   - conn: Open transport; the session does not take ownership
//   - sendCap, recvCap: Arena sizes in bytes, both must be positive
//   - onMessage: Ingress hook for inbound PUBLISH frames (may be nil)
//
// Returns:
//   - *Session: Session with error state mqtt.KindOK
//   - error: Wraps ErrInit
func NewSession(conn Transport, sendCap, recvCap int, onMessage mqtt.MessageHandler, opts ...SessionOption) (*Session, error) {
	if conn == nil {
		return nil, fmt.Errorf("%w: transport is nil", ErrInit)
	}
	if !conn.IsOpen() {
		return nil, fmt.Errorf("%w: transport is closed", ErrInit)
	}

	cfg := mqtt.EngineConfig{SendCapacity: sendCap, RecvCapacity: recvCap}
	for _, opt := range opts {
		opt(&cfg)
	}

	engine, err := mqtt.NewEngine(conn, cfg, onMessage)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInit, err)
	}
	return &Session{conn: conn, engine: engine}, nil
}

// Connect enqueues the CONNECT request. The handshake completes on a
// later Sync; a refused or missing CONNACK shows up in LastError.
func (s *Session) Connect(opts mqtt.ConnectOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.engine.Connect(opts); err != nil {
		return fmt.Errorf("%w: connect: %w", ErrProtocol, err)
	}
	return nil
}

// LastError returns the error state. It stays KindOK until the first
// failure and never returns to KindOK afterwards.
func (s *Session) LastError() mqtt.ErrorKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Kind()
}

// Err returns the error behind LastError, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Err()
}

// Sync drives one round of I/O.
func (s *Session) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Sync()
}

// publish enqueues one PUBLISH and returns its packet identifier.
func (s *Session) publish(req PublishRequest) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Publish(req.Topic, req.Payload, req.QoS, req.Retain)
}

// Disconnect enqueues DISCONNECT and flushes the send arena.
// It is meant for the shutdown path once the sync loop has stopped.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.conn.IsOpen() {
		return fmt.Errorf("%w: transport is closed", ErrTransport)
	}
	if err := s.engine.Disconnect(); err != nil {
		return fmt.Errorf("%w: disconnect: %w", ErrProtocol, err)
	}
	if err := s.engine.Flush(); err != nil {
		return fmt.Errorf("%w: disconnect: %w", ErrProtocol, err)
	}
	return nil
}

// Connected reports whether CONNACK accepted the connection.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Connected()
}

// SessionPresent reports the CONNACK session-present flag.
func (s *Session) SessionPresent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.SessionPresent()
}

// Pending returns the number of QoS 1/2 publishes awaiting acknowledgement.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Pending()
}

// Buffered returns the number of bytes not yet written to the transport.
func (s *Session) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Buffered()
}

// Stats returns a snapshot of the engine counters.
func (s *Session) Stats() mqtt.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Stats()
}
