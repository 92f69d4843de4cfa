package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// mqttSubprotocol is the WebSocket subprotocol brokers expect for MQTT 3.1.1.
const mqttSubprotocol = "mqtt"

// dialWebSocket performs the WebSocket handshake over raw.
func dialWebSocket(ctx context.Context, cfg Config, raw net.Conn) (net.Conn, error) {
	path := cfg.WSPath
	if path == "" {
		path = "/mqtt"
	}
	url := fmt.Sprintf("%s://%s%s", cfg.Scheme, cfg.Address, path)

	dialer := websocket.Dialer{
		// The stream is already routed; hand gorilla the existing connection.
		NetDialContext: func(context.Context, string, string) (net.Conn, error) {
			return raw, nil
		},
		Subprotocols: []string{mqttSubprotocol},
	}
	if cfg.Scheme == SchemeWSS {
		dialer.TLSClientConfig = clientTLSConfig(cfg)
	}

	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return newWSConn(ws), nil
}

// newWSConn adapts a WebSocket connection to a byte stream. Each Write
// is one binary message; inbound messages are concatenated.
//
// gorilla treats a read deadline expiry as fatal for the connection, so
// reads go through a pumpConn.
func newWSConn(ws *websocket.Conn) net.Conn {
	return (&pumpConn{
		source: func() ([]byte, error) {
			_, data, err := ws.ReadMessage()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = io.EOF
			}
			return data, err
		},
		write: func(p []byte) (int, error) {
			if err := ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
				return 0, err
			}
			return len(p), nil
		},
		closeFn: func() error {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return ws.Close()
		},
		setWriteDeadline: ws.SetWriteDeadline,
		local:            ws.LocalAddr(),
		remote:           ws.RemoteAddr(),
	}).start()
}
