package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/mbocsi/hidlink/audit"
	"github.com/mbocsi/hidlink/input"
	"github.com/mbocsi/hidlink/proto"
	"github.com/mbocsi/hidlink/security"
)

// Coordinator owns the per-connection receive path: it admits envelopes,
// routes pairing traffic to the pairing machine and executes actions for
// trusted devices.
type Coordinator struct {
	Host      HostIdentity
	Sessions  *SessionRegistry
	Trust     *TrustRegistry
	Validator *security.Validator
	Pairing   *Pairing
	Executor  input.Executor
	Audit     audit.Sink

	MCPServer  *MCPServer
	Services   []Service
	Transports []Transport

	actions map[proto.MessageType]actionHandler
	now     func() time.Time
}

func NewCoordinator(host HostIdentity, trust *TrustRegistry, validator *security.Validator, executor input.Executor, sink audit.Sink) *Coordinator {
	if sink == nil {
		sink = audit.Discard{}
	}
	pairing := NewPairing(host, trust, sink)
	return &Coordinator{
		Host:      pairing.Host(),
		Sessions:  NewSessionRegistry(),
		Trust:     trust,
		Validator: validator,
		Pairing:   pairing,
		Executor:  executor,
		Audit:     sink,
		actions:   actionHandlers(),
		now:       time.Now,
	}
}

// AttachMCP registers the operator tools on m and starts it with the coordinator.
func (c *Coordinator) AttachMCP(m *MCPServer) {
	m.RegisterTools(c)
	c.MCPServer = m
}

func (c *Coordinator) Start(ctx context.Context) error {
	if c.MCPServer != nil {
		go func() {
			if err := c.MCPServer.Start(); err != nil {
				slog.Error("MCP server stopped", "error", err.Error())
			}
		}()
	}
	for _, svc := range c.Services {
		go func(svc Service) {
			if err := svc.Start(); err != nil {
				slog.Error("Service stopped", "error", err.Error())
			}
		}(svc)
	}
	for _, t := range c.Transports {
		go func(t Transport) {
			if err := t.Start(); err != nil {
				slog.Error("Transport stopped", "transport", t.Meta().Name, "error", err.Error())
			}
		}(t)
	}

	<-ctx.Done()
	slog.Info("Shutting down transports and server")

	if c.MCPServer != nil {
		if err := c.MCPServer.Shutdown(); err != nil {
			slog.Error("There was an error when shutting down MCP server", "error", err.Error())
		}
	}
	for _, t := range c.Transports {
		if err := t.Shutdown(); err != nil {
			slog.Error("There was an error when shutting down transport server", "error", err.Error())
		}
	}
	for _, svc := range c.Services {
		if err := svc.Shutdown(); err != nil {
			slog.Error("There was an error when shutting down service", "error", err.Error())
		}
	}
	return nil
}

func (c *Coordinator) RegisterTransport(t Transport) {
	t.OnMessage(c.Handle)
	t.OnConnect(c.RegisterSession)
	t.OnDisconnect(func(client Client) {
		c.Sessions.Delete(client.Meta().Id)
		slog.Info("Session closed", "id", client.Meta().Id)
	})
	c.Transports = append(c.Transports, t)
}

func (c *Coordinator) RegisterSession(client Client) error {
	c.Sessions.Store(client)
	slog.Info("Registered session", "id", client.Meta().Id, "remote_addr", client.Meta().RemoteAddr)
	return nil
}
