package server

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbocsi/hidlink/proto"
)

func TestTCPTransport_Meta(t *testing.T) {
	transport := NewTCPTransport("localhost:9000")
	transport.SetName("companion-tcp")
	transport.SetMaxClients(4)

	meta := transport.Meta()
	assert.Equal(t, "tcp", meta.Protocol)
	assert.Equal(t, "companion-tcp", meta.Name)
	assert.Equal(t, 4, meta.MaxClients)
	assert.False(t, meta.Connected)
}

func TestTCPTransport_StartWithoutCallbacks(t *testing.T) {
	assert.Error(t, NewTCPTransport("localhost:0").Start())
}

func TestTCPTransport_LineDelimitedFrames(t *testing.T) {
	h := newHarness(t, 30)
	transport := NewTCPTransport("127.0.0.1:0")
	h.coord.RegisterTransport(transport)

	done := make(chan error, 1)
	go func() { done <- transport.Start() }()
	<-transport.Ready()
	assert.True(t, transport.Meta().Connected)

	conn, err := net.Dial("tcp", transport.ListenAddr())
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	frame := rawFrame(t, proto.PairRequest, "d1", "n-1", proto.PairRequestPayload{DeviceName: "Phone", PublicKey: "pk"})
	_, err = conn.Write(append(frame, '\n'))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)

	var env proto.Envelope
	require.NoError(t, json.Unmarshal(line, &env))
	assert.Equal(t, proto.PairChallenge, env.Type)
	assert.Equal(t, "d1", h.coord.Sessions.List()[0].Meta().DeviceId())

	require.NoError(t, transport.Shutdown())
	assert.NoError(t, <-done)
}
