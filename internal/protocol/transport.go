package protocol

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsHandshakeTimeout = 5 * time.Second
	wsWriteTimeout     = 10 * time.Second
)

// wsTransport adapts a gorilla/websocket connection to Transport.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) WriteMessage(data []byte) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// WebSocketDialer returns a Dialer that connects to the given ws:// or
// wss:// URL with the provided headers.
func WebSocketDialer(url string, header http.Header) Dialer {
	return func(ctx context.Context) (Transport, error) {
		dialer := &websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
		conn, _, err := dialer.DialContext(ctx, url, header)
		if err != nil {
			return nil, err
		}
		return &wsTransport{conn: conn}, nil
	}
}

// WrapConn adapts an already-upgraded server-side connection to Transport.
func WrapConn(conn *websocket.Conn) Transport {
	return &wsTransport{conn: conn}
}
