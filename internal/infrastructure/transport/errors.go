package transport

import "errors"

// Domain-specific errors for transport operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnsupportedScheme is returned for a scheme other than tcp, tls, ws or wss.
	ErrUnsupportedScheme = errors.New("transport: unsupported scheme")

	// ErrDialFailed is returned when the broker (or the proxy/tunnel in
	// front of it) cannot be reached.
	ErrDialFailed = errors.New("transport: dial failed")

	// ErrHandshakeFailed is returned when a TLS or WebSocket handshake fails.
	ErrHandshakeFailed = errors.New("transport: handshake failed")

	// ErrTunnelNotConnected is returned when dialing through a closed SSH tunnel.
	ErrTunnelNotConnected = errors.New("transport: ssh tunnel not connected")

	// ErrNoAuthMethods is returned when no SSH authentication method is usable.
	ErrNoAuthMethods = errors.New("transport: no ssh authentication methods available")
)
