package server

import (
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbocsi/hidlink/proto"
)

func TestNewWSTransport(t *testing.T) {
	addr := "localhost:0"
	transport := NewWSTransport(addr)

	if transport.Addr != addr {
		t.Errorf("Expected addr %s, got %s", addr, transport.Addr)
	}

	if transport.maxClients != 16 {
		t.Errorf("Expected maxClients 16, got %d", transport.maxClients)
	}

	if transport.clients == nil {
		t.Error("Expected clients map to be initialized")
	}
}

func TestWSTransport_Meta(t *testing.T) {
	transport := NewWSTransport("localhost:8765")
	transport.SetName("companion-ws")
	transport.SetDescription("Companion WebSocket endpoint")
	transport.SetMaxClients(5)

	meta := transport.Meta()

	assert.Equal(t, "ws-localhost:8765", meta.ID)
	assert.Equal(t, "companion-ws", meta.Name)
	assert.Equal(t, "Companion WebSocket endpoint", meta.Description)
	assert.Equal(t, "websocket", meta.Protocol)
	assert.Equal(t, 5, meta.MaxClients)
	assert.False(t, meta.Connected)
}

func TestWSTransport_StartWithoutCallbacks(t *testing.T) {
	transport := NewWSTransport("localhost:0")
	assert.Error(t, transport.Start())
}

// startWS runs a coordinator-backed WebSocket transport on a random port.
func startWS(t *testing.T, h *harness) *WSTransport {
	t.Helper()
	transport := NewWSTransport("127.0.0.1:0")
	h.coord.RegisterTransport(transport)

	done := make(chan error, 1)
	go func() { done <- transport.Start() }()
	select {
	case <-transport.Ready():
	case err := <-done:
		t.Fatalf("transport failed to start: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("transport did not start")
	}
	t.Cleanup(func() {
		transport.Shutdown()
		<-done
	})
	return transport
}

func TestWSTransport_PairOverSocket(t *testing.T) {
	h := newHarness(t, 30)
	transport := startWS(t, h)

	u := url.URL{Scheme: "ws", Host: transport.ListenAddr(), Path: "/"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		rawFrame(t, proto.PairRequest, "d1", "n-1", proto.PairRequestPayload{DeviceName: "Phone", PublicKey: "pk"})))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var challenge proto.Envelope
	require.NoError(t, conn.ReadJSON(&challenge))
	assert.Equal(t, proto.PairChallenge, challenge.Type)
	assert.Equal(t, "test-host", challenge.DeviceId)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		rawFrame(t, proto.PairConfirm, "d1", "n-2", map[string]any{"code": testCode, "accepted": true})))

	var res proto.Envelope
	require.NoError(t, conn.ReadJSON(&res))
	var payload proto.ResultPayload
	require.NoError(t, res.DecodePayload(&payload))
	assert.True(t, payload.Success)
	assert.True(t, h.coord.Trust.IsTrusted("d1"))

	assert.Eventually(t, func() bool { return h.coord.Sessions.Len() == 1 }, time.Second, 10*time.Millisecond)
	assert.Len(t, transport.Meta().Clients, 1)
}

func TestWSTransport_MalformedFrameKeepsConnection(t *testing.T) {
	h := newHarness(t, 30)
	transport := startWS(t, h)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+transport.ListenAddr()+"/", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("garbage")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		rawFrame(t, proto.MouseMove, "d9", "n-1", map[string]any{"dx": 1, "dy": 1})))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var res proto.Envelope
	require.NoError(t, conn.ReadJSON(&res))
	var payload proto.ResultPayload
	require.NoError(t, res.DecodePayload(&payload))
	require.NotNil(t, payload.Reason)
	assert.Equal(t, ReasonNotTrusted, *payload.Reason)
}

func TestWSTransport_Disconnect(t *testing.T) {
	h := newHarness(t, 30)
	transport := startWS(t, h)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+transport.ListenAddr()+"/", nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return h.coord.Sessions.Len() == 1 }, time.Second, 10*time.Millisecond)
	conn.Close()
	assert.Eventually(t, func() bool { return h.coord.Sessions.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestWSTransport_MaxClients(t *testing.T) {
	h := newHarness(t, 30)
	transport := NewWSTransport("127.0.0.1:0")
	transport.SetMaxClients(1)
	h.coord.RegisterTransport(transport)
	go transport.Start()
	<-transport.Ready()
	defer transport.Shutdown()

	first, _, err := websocket.DefaultDialer.Dial("ws://"+transport.ListenAddr()+"/", nil)
	require.NoError(t, err)
	defer first.Close()
	assert.Eventually(t, func() bool { return len(transport.Meta().Clients) == 1 }, time.Second, 10*time.Millisecond)

	_, resp, err := websocket.DefaultDialer.Dial("ws://"+transport.ListenAddr()+"/", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 503, resp.StatusCode)
}
