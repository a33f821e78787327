package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mbocsi/hidlink/proto"
)

type Transport interface {
	Start() error
	OnMessage(func(Client, []byte))
	OnConnect(func(Client) error)
	OnDisconnect(func(Client))
	Shutdown() error
	Meta() TransportMetadata
	SetName(name string)
	SetDescription(description string)
}

type TransportMetadata struct {
	ID          string
	Name        string // Human-friendly name, e.g., "WebSocket Gateway"
	Protocol    string // "tcp" or "websocket"
	Address     string // Bind address, e.g., "0.0.0.0:8765"
	Description string // Optional, short purpose/use case

	Clients    map[string]Client // Current active sessions
	MaxClients int
	Connected  bool // Whether the transport is currently running/bound
}

// SessionMetadata describes one companion connection.
type SessionMetadata struct {
	Id          string
	RemoteAddr  string
	ConnectedAt time.Time
	Transport   Transport

	mu       sync.RWMutex
	deviceId string // last device_id claimed on this connection
	lastSeen time.Time
}

func (m *SessionMetadata) Touch(deviceId string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deviceId = deviceId
	m.lastSeen = time.Now()
}

func (m *SessionMetadata) DeviceId() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deviceId
}

func (m *SessionMetadata) LastSeen() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSeen
}

// Client is a connected companion session. Messages from one client are
// delivered to OnMessage sequentially.
type Client interface {
	Send(proto.Envelope) error
	Meta() *SessionMetadata
}

func generateClientId(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
