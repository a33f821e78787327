package server

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbocsi/hidlink/proto"
)

func toolJSON(t *testing.T, res *mcp.CallToolResult, v any) {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	require.NoError(t, json.Unmarshal([]byte(text.Text), v))
}

func TestMCP_ListTrustedDevices(t *testing.T) {
	h := newHarness(t, 30)
	h.pair(t, "d1")

	res, err := h.coord.listTrustedDevicesTool(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)

	var devices []map[string]string
	toolJSON(t, res, &devices)
	require.Len(t, devices, 1)
	assert.Equal(t, "d1", devices[0]["device_id"])
	assert.Equal(t, "Phone", devices[0]["device_name"])
	assert.NotContains(t, devices[0], "public_key")
}

func TestMCP_ListSessions(t *testing.T) {
	h := newHarness(t, 30)
	client := NewMockClient("ws-1")
	require.NoError(t, h.coord.RegisterSession(client))
	client.Meta().Touch("d1")

	res, err := h.coord.listSessionsTool(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)

	var sessions []map[string]any
	toolJSON(t, res, &sessions)
	require.Len(t, sessions, 1)
	assert.Equal(t, "ws-1", sessions[0]["id"])
	assert.Equal(t, "d1", sessions[0]["device_id"])
}

func TestMCP_PairingStatus(t *testing.T) {
	h := newHarness(t, 30)
	h.pair(t, "d1")
	h.dispatch(t, proto.PairRequest, "d2", proto.PairRequestPayload{DeviceName: "Tablet", PublicKey: "pk"})

	res, err := h.coord.pairingStatusTool(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)

	var status struct {
		HostId         string `json:"host_id"`
		TrustedDevices int    `json:"trusted_devices"`
		Pending        []struct {
			DeviceId string `json:"device_id"`
		} `json:"pending"`
	}
	toolJSON(t, res, &status)
	assert.Equal(t, "test-host", status.HostId)
	assert.Equal(t, 1, status.TrustedDevices)
	require.Len(t, status.Pending, 1)
	assert.Equal(t, "d2", status.Pending[0].DeviceId)
}

func TestMCP_RegisterTools(t *testing.T) {
	h := newHarness(t, 30)
	m := NewMCPServer("test")

	assert.NotPanics(t, func() { h.coord.AttachMCP(m) })
	assert.Same(t, m, h.coord.MCPServer)
	assert.NoError(t, m.Shutdown())
	// Start after Shutdown returns without reading stdin
	assert.NoError(t, m.Start())
}
