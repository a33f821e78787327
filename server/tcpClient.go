package server

import (
	"encoding/json"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mbocsi/hidlink/proto"
)

type TCPClient struct {
	SessionMetadata
	conn net.Conn
	wmu  sync.Mutex
}

func NewTCPClient(conn net.Conn, t Transport) *TCPClient {
	client := &TCPClient{conn: conn}
	client.Id = generateClientId("tcp")
	client.ConnectedAt = time.Now()
	client.Transport = t
	if conn != nil {
		client.RemoteAddr = conn.RemoteAddr().String()
	}
	return client
}

func (c *TCPClient) Send(msg proto.Envelope) error {
	if c.conn == nil {
		return errNotConnected
	}
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	jsonData = append(jsonData, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_, err = c.conn.Write(jsonData)
	slog.Debug("Sent TCP message", "to", c.Id, "type", msg.Type, "size", len(msg.Payload))
	return err
}

func (c *TCPClient) Meta() *SessionMetadata {
	return &c.SessionMetadata
}
