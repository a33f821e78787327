package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/mbocsi/hidlink/proto"
)

// TCPTransport speaks newline-delimited JSON envelopes.
type TCPTransport struct {
	Dialer net.Dialer

	conn    net.Conn
	lines   *bufio.Scanner
	writeMu sync.Mutex
}

func NewTCPTransport() *TCPTransport {
	return &TCPTransport{}
}

// Connect dials addr, given as tcp://host:port or a bare host:port.
func (t *TCPTransport) Connect(ctx context.Context, addr string) error {
	_, hostport, err := splitScheme(addr, "tcp")
	if err != nil {
		return err
	}
	conn, err := t.Dialer.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", hostport, err)
	}
	t.conn = conn
	t.lines = bufio.NewScanner(conn)
	t.lines.Buffer(make([]byte, 0, 4096), MaxReplySize)
	return nil
}

func (t *TCPTransport) Send(env proto.Envelope) error {
	if t.conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to send envelope: %w", err)
	}
	return nil
}

// Read returns the next non-empty line as an envelope.
func (t *TCPTransport) Read() (proto.Envelope, error) {
	if t.conn == nil {
		return proto.Envelope{}, ErrNotConnected
	}
	for t.lines.Scan() {
		if len(t.lines.Bytes()) == 0 {
			continue
		}
		return decodeReply(t.lines.Bytes())
	}
	if err := t.lines.Err(); err != nil {
		return proto.Envelope{}, fmt.Errorf("read failed: %w", err)
	}
	return proto.Envelope{}, fmt.Errorf("agent closed the connection")
}

func (t *TCPTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}
