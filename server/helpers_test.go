package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mbocsi/hidlink/audit"
	"github.com/mbocsi/hidlink/input"
	"github.com/mbocsi/hidlink/proto"
	"github.com/mbocsi/hidlink/security"
	"github.com/mbocsi/hidlink/store"
	"github.com/stretchr/testify/require"
)

const testCode = "123456"

// MockClient implements Client and records every envelope sent to it.
type MockClient struct {
	SessionMetadata
	mu   sync.Mutex
	sent []proto.Envelope
	err  error
}

func NewMockClient(id string) *MockClient {
	c := &MockClient{}
	c.Id = id
	c.RemoteAddr = "127.0.0.1:50000"
	c.ConnectedAt = time.Now()
	return c
}

func (c *MockClient) Send(env proto.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, env)
	return nil
}

func (c *MockClient) Meta() *SessionMetadata {
	return &c.SessionMetadata
}

func (c *MockClient) Sent() []proto.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]proto.Envelope(nil), c.sent...)
}

type failingStore struct {
	store.MemoryStore
}

func (s *failingStore) Replace([]byte) error {
	return errors.New("disk full")
}

type harness struct {
	coord  *Coordinator
	store  *store.MemoryStore
	audit  *audit.MemorySink
	driver *input.Recorder
	nonce  int
}

func newHarness(t *testing.T, rateLimit int) *harness {
	t.Helper()
	h := &harness{
		store:  store.NewMemoryStore(),
		audit:  audit.NewMemorySink(),
		driver: &input.Recorder{},
	}
	trust, err := LoadTrustRegistry(h.store)
	require.NoError(t, err)

	host := HostIdentity{HostId: "test-host", ProtocolVersion: proto.ProtocolVersion, PairingCode: testCode, CodeTTL: DefaultCodeTTL}
	validator := security.NewValidator(proto.ProtocolVersion, security.NewNonceTracker(security.DefaultNonceWindow), security.NewRateLimiter(rateLimit))
	h.coord = NewCoordinator(host, trust, validator, input.NewController(h.driver), h.audit)
	return h
}

// envelope builds an inbound envelope with a nonce unique to this harness.
func (h *harness) envelope(t *testing.T, typ proto.MessageType, deviceId string, payload any) *proto.Envelope {
	t.Helper()
	h.nonce++
	return decodeFrame(t, rawFrame(t, typ, deviceId, fmt.Sprintf("nonce-%d", h.nonce), payload))
}

func (h *harness) dispatch(t *testing.T, typ proto.MessageType, deviceId string, payload any) Response {
	t.Helper()
	return h.coord.Dispatch(h.envelope(t, typ, deviceId, payload))
}

// pair runs a full request and confirm exchange for deviceId.
func (h *harness) pair(t *testing.T, deviceId string) {
	t.Helper()
	h.dispatch(t, proto.PairRequest, deviceId, proto.PairRequestPayload{DeviceName: "Phone", PublicKey: "pk"})
	resp := h.dispatch(t, proto.PairConfirm, deviceId, map[string]any{"code": testCode, "accepted": true})
	require.True(t, result(t, resp).Success)
}

func rawFrame(t *testing.T, typ proto.MessageType, deviceId, nonce string, payload any) []byte {
	t.Helper()
	p, err := json.Marshal(payload)
	require.NoError(t, err)
	raw, err := json.Marshal(map[string]any{
		"protocol_version": proto.ProtocolVersion,
		"type":             typ,
		"id":               "msg-" + nonce,
		"ts":               time.Now().UnixMilli(),
		"nonce":            nonce,
		"device_id":        deviceId,
		"payload":          json.RawMessage(p),
	})
	require.NoError(t, err)
	return raw
}

func decodeFrame(t *testing.T, raw []byte) *proto.Envelope {
	t.Helper()
	var env proto.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return &env
}

func result(t *testing.T, resp Response) proto.ResultPayload {
	t.Helper()
	require.Equal(t, proto.PairResult, resp.Type)
	res, ok := resp.Payload.(proto.ResultPayload)
	require.True(t, ok, "payload is %T", resp.Payload)
	return res
}

func reason(t *testing.T, resp Response) string {
	t.Helper()
	res := result(t, resp)
	require.False(t, res.Success)
	require.NotNil(t, res.Reason)
	return *res.Reason
}
