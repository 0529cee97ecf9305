package hubwire

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketOptions configures the transport returned by
// WebSocketDialer.
type WebSocketOptions struct {
	// Header is sent with the HTTP upgrade request.
	Header http.Header
	// Binary selects binary frames instead of text frames. Use it with
	// binary codecs such as protocol.ProtoCodec.
	Binary bool
	// HandshakeTimeout bounds the upgrade; zero means the
	// gorilla/websocket default.
	HandshakeTimeout time.Duration
}

// WebSocketDialer returns a DialFunc that connects to the given
// WebSocket URL. One connection engine frame maps to one WebSocket
// message.
func WebSocketDialer(rawURL string, opts WebSocketOptions) DialFunc {
	return func(ctx context.Context) (Transport, error) {
		dialer := websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		}
		conn, resp, err := dialer.DialContext(ctx, rawURL, opts.Header)
		if err != nil {
			return nil, err
		}
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		msgType := websocket.TextMessage
		if opts.Binary {
			msgType = websocket.BinaryMessage
		}
		return &wsTransport{conn: conn, msgType: msgType}, nil
	}
}

type wsTransport struct {
	conn    *websocket.Conn
	msgType int

	// gorilla permits one concurrent writer only
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

func (t *wsTransport) Send(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(t.msgType, data)
}

func (t *wsTransport) Receive() ([]byte, error) {
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		switch msgType {
		case websocket.TextMessage, websocket.BinaryMessage:
			return data, nil
		default:
			// control frames are handled by gorilla; skip anything else
		}
	}
}

func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		_ = t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		t.writeMu.Unlock()
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
