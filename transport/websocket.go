package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketDialer dials a gateway endpoint.
type WebSocketDialer struct {
	URL    string
	Header http.Header
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Dial opens the WebSocket.
func (d WebSocketDialer) Dial(ctx context.Context) (Transport, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (HTTP %s)", d.URL, err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	return NewWebSocket(conn), nil
}

// WebSocket is a Transport over a gorilla connection. Writes are
// serialized; a single goroutine may read.
type WebSocket struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewWebSocket wraps an established connection.
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	return &WebSocket{conn: conn}
}

// Conn exposes the underlying connection.
func (w *WebSocket) Conn() *websocket.Conn {
	return w.conn
}

// ReadFrame reads the next data frame. A normal close from the peer is
// reported as io.EOF.
func (w *WebSocket) ReadFrame(ctx context.Context) (Frame, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = w.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	kind, data, err := w.conn.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Frame{}, ctxErr
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return Frame{}, io.EOF
		}
		return Frame{}, err
	}
	if kind == websocket.TextMessage {
		return Frame{Kind: Text, Data: data}, nil
	}
	return Frame{Kind: Binary, Data: data}, nil
}

// WriteFrame writes one frame, honouring the context deadline.
func (w *WebSocket) WriteFrame(ctx context.Context, f Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	_ = w.conn.SetWriteDeadline(deadline)

	kind := websocket.BinaryMessage
	if f.Kind == Text {
		kind = websocket.TextMessage
	}
	return w.conn.WriteMessage(kind, f.Data)
}

// Close sends a normal close frame and closes the connection.
func (w *WebSocket) Close() error {
	return w.CloseWithReason(websocket.CloseNormalClosure, "")
}

// CloseWithReason sends a close frame with the given code and reason, then
// closes the connection. Only the first close has any effect.
func (w *WebSocket) CloseWithReason(code int, reason string) error {
	// control frame payloads are limited to 125 bytes
	if len(reason) > 123 {
		reason = reason[:123]
	}
	w.closeOnce.Do(func() {
		w.writeMu.Lock()
		msg := websocket.FormatCloseMessage(code, reason)
		_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		w.writeMu.Unlock()
		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}
