package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Schemes accepted by Open.
const (
	SchemeTCP = "tcp"
	SchemeTLS = "tls"
	SchemeWS  = "ws"
	SchemeWSS = "wss"
)

// defaultDialTimeout applies when Config.DialTimeout is zero.
const defaultDialTimeout = 10 * time.Second

// Dialer opens the raw TCP stream to an address. Implementations route
// directly, through a SOCKS5 proxy or through an SSH tunnel.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH session). Stateless dialers return nil.
	Close() error
}

// Config describes one broker connection.
type Config struct {
	// Scheme is one of SchemeTCP, SchemeTLS, SchemeWS, SchemeWSS.
	Scheme string

	// Address is the broker host:port.
	Address string

	// WSPath is the HTTP path for ws and wss. Defaults to "/mqtt".
	WSPath string

	// TLS is used by tls and wss. Nil means system roots and SNI from Address.
	TLS *tls.Config

	// DialTimeout bounds the whole open, handshakes included.
	DialTimeout time.Duration

	// Dialer routes the TCP stream. Nil dials directly.
	Dialer Dialer
}

// Conn is an open broker connection.
//
// It satisfies net.Conn. Close is safe to call more than once and from
// several goroutines; only the first call does any work.
type Conn struct {
	net.Conn

	scheme    string
	dialer    Dialer
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Open dials the broker and performs any TLS or WebSocket handshake.
//
// Parameters:
//   - ctx: Cancels the open; not retained afterwards
//   - cfg: Scheme, address and routing
//
// Returns:
//   - *Conn: Open connection; the caller owns it and must Close it
//   - error: ErrUnsupportedScheme, ErrDialFailed or ErrHandshakeFailed (wrapped)
func Open(ctx context.Context, cfg Config) (*Conn, error) {
	switch cfg.Scheme {
	case SchemeTCP, SchemeTLS, SchemeWS, SchemeWSS:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, cfg.Scheme)
	}

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &TCPDialer{Timeout: timeout}
	}

	raw, err := dialer.Dial(ctx, "tcp", cfg.Address)
	if err != nil {
		dialer.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrDialFailed, cfg.Address, err)
	}

	conn, err := upgrade(ctx, cfg, raw)
	if err != nil {
		raw.Close()
		dialer.Close()
		return nil, fmt.Errorf("%w: %s %s: %w", ErrHandshakeFailed, cfg.Scheme, cfg.Address, err)
	}

	return &Conn{Conn: conn, scheme: cfg.Scheme, dialer: dialer}, nil
}

// upgrade applies the scheme's handshake on top of the raw stream.
func upgrade(ctx context.Context, cfg Config, raw net.Conn) (net.Conn, error) {
	switch cfg.Scheme {
	case SchemeTLS:
		tlsConn := tls.Client(raw, clientTLSConfig(cfg))
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return nil, err
		}
		return tlsConn, nil
	case SchemeWS, SchemeWSS:
		return dialWebSocket(ctx, cfg, raw)
	default:
		return raw, nil
	}
}

// clientTLSConfig returns cfg.TLS with ServerName filled in from the address.
func clientTLSConfig(cfg Config) *tls.Config {
	var tlsCfg *tls.Config
	if cfg.TLS != nil {
		tlsCfg = cfg.TLS.Clone()
	} else {
		tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if tlsCfg.ServerName == "" {
		if host, _, err := net.SplitHostPort(cfg.Address); err == nil {
			tlsCfg.ServerName = host
		}
	}
	return tlsCfg
}

// Scheme returns the scheme the connection was opened with.
func (c *Conn) Scheme() string { return c.scheme }

// IsOpen reports whether Close has not been called yet.
func (c *Conn) IsOpen() bool { return !c.closed.Load() }

// Close closes the stream and releases the dialer.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err := c.Conn.Close()
		if c.dialer != nil {
			if derr := c.dialer.Close(); err == nil {
				err = derr
			}
		}
		c.closeErr = err
	})
	return c.closeErr
}
