package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/hidlink/proto"
)

const writeWait = 5 * time.Second

type WSClient struct {
	SessionMetadata
	conn *websocket.Conn
	wmu  sync.Mutex
}

func NewWSClient(conn *websocket.Conn, t Transport) *WSClient {
	client := &WSClient{conn: conn}
	client.Id = generateClientId("ws")
	client.ConnectedAt = time.Now()
	client.Transport = t
	if conn != nil {
		client.RemoteAddr = conn.RemoteAddr().String()
	}
	return client
}

func (c *WSClient) Send(msg proto.Envelope) error {
	if c.conn == nil {
		return errNotConnected
	}
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, jsonData); err != nil {
		return err
	}

	slog.Debug("Sent WebSocket message", "to", c.Id, "type", msg.Type, "size", len(msg.Payload))
	return nil
}

func (c *WSClient) Meta() *SessionMetadata {
	return &c.SessionMetadata
}
