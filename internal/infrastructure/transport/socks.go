package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/proxy"
)

// SOCKS5Dialer routes connections through a SOCKS5 proxy.
type SOCKS5Dialer struct {
	// Address is the proxy host:port.
	Address string

	// Username and Password enable RFC 1929 authentication when Username is set.
	Username string
	Password string

	Timeout time.Duration
}

// Dial asks the proxy to connect to address.
func (d *SOCKS5Dialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	var auth *proxy.Auth
	if d.Username != "" {
		auth = &proxy.Auth{User: d.Username, Password: d.Password}
	}

	forward := &net.Dialer{Timeout: d.Timeout}
	socks, err := proxy.SOCKS5("tcp", d.Address, auth, forward)
	if err != nil {
		return nil, fmt.Errorf("socks5 %s: %w", d.Address, err)
	}

	var conn net.Conn
	if cd, ok := socks.(proxy.ContextDialer); ok {
		conn, err = cd.DialContext(ctx, network, address)
	} else {
		conn, err = socks.Dial(network, address)
	}
	if err != nil {
		return nil, fmt.Errorf("socks5 %s via %s: %w", address, d.Address, err)
	}
	return conn, nil
}

// Close is a no-op; the proxy holds no state between dials.
func (d *SOCKS5Dialer) Close() error { return nil }
