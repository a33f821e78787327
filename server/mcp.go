package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes read-only operator tools over stdio.
type MCPServer struct {
	Server *server.MCPServer

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

func NewMCPServer(version string) *MCPServer {
	return &MCPServer{Server: server.NewMCPServer("hidlink", version)}
}

func (s *MCPServer) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil
	}
	s.cancel = cancel
	s.mu.Unlock()

	slog.Info("Started stdio MCP server")
	defer func() {
		slog.Info("Shut down stdio MCP server")
	}()
	return server.NewStdioServer(s.Server).Listen(ctx, os.Stdin, os.Stdout)
}

func (s *MCPServer) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// RegisterTools adds the operator tools backed by c.
func (s *MCPServer) RegisterTools(c *Coordinator) {
	s.Server.AddTool(
		mcp.NewTool("list_trusted_devices", mcp.WithDescription("List the companion devices trusted by this host")),
		c.listTrustedDevicesTool,
	)
	s.Server.AddTool(
		mcp.NewTool("list_sessions", mcp.WithDescription("List the companion connections currently open")),
		c.listSessionsTool,
	)
	s.Server.AddTool(
		mcp.NewTool("pairing_status", mcp.WithDescription("Show host identity and pair requests awaiting confirmation")),
		c.pairingStatusTool,
	)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}

func (c *Coordinator) listTrustedDevicesTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type deviceElement struct {
		DeviceId   string `json:"device_id"`
		DeviceName string `json:"device_name"`
	}
	devices := c.Trust.List()
	res := make([]deviceElement, 0, len(devices))
	for _, d := range devices {
		// public keys stay out of operator output
		res = append(res, deviceElement{DeviceId: d.DeviceId, DeviceName: d.DeviceName})
	}
	return jsonResult(res)
}

func (c *Coordinator) listSessionsTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type sessionElement struct {
		Id          string    `json:"id"`
		RemoteAddr  string    `json:"remote_addr"`
		Transport   string    `json:"transport"`
		DeviceId    string    `json:"device_id,omitempty"`
		ConnectedAt time.Time `json:"connected_at"`
		LastSeen    time.Time `json:"last_seen,omitzero"`
	}
	sessions := c.Sessions.List()
	res := make([]sessionElement, 0, len(sessions))
	for _, client := range sessions {
		meta := client.Meta()
		el := sessionElement{
			Id:          meta.Id,
			RemoteAddr:  meta.RemoteAddr,
			DeviceId:    meta.DeviceId(),
			ConnectedAt: meta.ConnectedAt,
			LastSeen:    meta.LastSeen(),
		}
		if meta.Transport != nil {
			el.Transport = meta.Transport.Meta().Name
		}
		res = append(res, el)
	}
	return jsonResult(res)
}

func (c *Coordinator) pairingStatusTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type pendingElement struct {
		DeviceId    string    `json:"device_id"`
		DeviceName  string    `json:"device_name"`
		RequestedAt time.Time `json:"requested_at"`
	}
	pending := c.Pairing.Pending()
	res := struct {
		HostId          string           `json:"host_id"`
		ProtocolVersion string           `json:"protocol_version"`
		TrustedDevices  int              `json:"trusted_devices"`
		Pending         []pendingElement `json:"pending"`
	}{
		HostId:          c.Host.HostId,
		ProtocolVersion: c.Host.ProtocolVersion,
		TrustedDevices:  len(c.Trust.List()),
		Pending:         make([]pendingElement, 0, len(pending)),
	}
	for _, p := range pending {
		res.Pending = append(res.Pending, pendingElement{DeviceId: p.DeviceId, DeviceName: p.DeviceName, RequestedAt: p.RequestedAt})
	}
	return jsonResult(res)
}
