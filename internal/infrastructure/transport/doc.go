// Package transport opens the byte stream an MQTT session runs over.
//
// A broker connection is described by a scheme and an address:
//
//   - tcp: plain TCP
//   - tls: TCP wrapped in crypto/tls
//   - ws, wss: MQTT over WebSocket (gorilla/websocket, subprotocol "mqtt")
//
// Independently of the scheme, the underlying TCP stream can be routed
// through a SOCKS5 proxy (golang.org/x/net/proxy) or an SSH gateway
// (golang.org/x/crypto/ssh). Routing is expressed as a Dialer; the
// scheme layers are applied on top of whatever the Dialer returns.
//
// Open returns a *Conn. Close is idempotent and also releases the
// Dialer (an SSH session, for example). IsOpen reports whether Close has
// been called, which the publisher uses as its transport validity check.
//
// # Usage
//
//	cfg, err := transport.FromConfig(appCfg)
//	if err != nil {
//	    return err
//	}
//	conn, err := transport.Open(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
package transport
