package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/hidlink/proto"
)

// WebSocketTransport sends one envelope per text message.
type WebSocketTransport struct {
	Dialer *websocket.Dialer

	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{
		Dialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
	}
}

// Connect dials addr, given as ws://host:port/path, wss://... or a bare
// host:port.
func (t *WebSocketTransport) Connect(ctx context.Context, addr string) error {
	scheme, rest, err := splitScheme(addr, "ws", "wss")
	if err != nil {
		return err
	}
	u, err := url.Parse(scheme + "://" + rest)
	if err != nil {
		return fmt.Errorf("invalid WebSocket URL: %w", err)
	}
	if u.Path == "" {
		u.Path = "/"
	}

	conn, _, err := t.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", u, err)
	}
	conn.SetReadLimit(MaxReplySize)
	t.conn = conn
	return nil
}

func (t *WebSocketTransport) Send(env proto.Envelope) error {
	if t.conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send envelope: %w", err)
	}
	slog.Debug("Sent envelope", "type", env.Type, "nonce", env.Nonce, "size", len(data))
	return nil
}

func (t *WebSocketTransport) Read() (proto.Envelope, error) {
	if t.conn == nil {
		return proto.Envelope{}, ErrNotConnected
	}
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return proto.Envelope{}, fmt.Errorf("agent closed the connection: %w", err)
			}
			return proto.Envelope{}, fmt.Errorf("read failed: %w", err)
		}
		if kind != websocket.TextMessage {
			slog.Debug("Ignoring non-text frame", "kind", kind)
			continue
		}
		return decodeReply(data)
	}
}

// Close sends a close frame and releases the connection. Later calls are no-ops.
func (t *WebSocketTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	var err error
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); werr != nil {
			slog.Debug("Close frame not sent", "error", werr)
		}
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}
