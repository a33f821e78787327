package server

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/mbocsi/hidlink/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinator_PairThenAct(t *testing.T) {
	h := newHarness(t, 30)

	resp := h.dispatch(t, proto.PairRequest, "d1", proto.PairRequestPayload{DeviceName: "Phone", PublicKey: "pk"})
	require.Equal(t, proto.PairChallenge, resp.Type)
	assert.Equal(t, proto.PairChallengePayload{Code: testCode, ExpiresInMs: 60000}, resp.Payload)

	resp = h.dispatch(t, proto.PairConfirm, "d1", map[string]any{"code": "000000", "accepted": true})
	assert.Equal(t, ReasonInvalidCode, reason(t, resp))
	assert.False(t, h.coord.Trust.IsTrusted("d1"))

	resp = h.dispatch(t, proto.PairConfirm, "d1", map[string]any{"code": testCode, "accepted": true})
	res := result(t, resp)
	require.True(t, res.Success)
	require.NotNil(t, res.SessionToken)
	assert.NotEmpty(t, *res.SessionToken)
	assert.True(t, h.coord.Trust.IsTrusted("d1"))

	resp = h.dispatch(t, proto.MouseMove, "d1", map[string]any{"dx": 10, "dy": -5})
	assert.True(t, result(t, resp).Success)
	assert.Equal(t, []string{"move 10 -5"}, h.driver.Effects())

	assert.Equal(t, []string{"pair_failed", "pair_success", "input.mouse_move"}, h.audit.Actions())
}

func TestCoordinator_UntrustedActionNotExecuted(t *testing.T) {
	h := newHarness(t, 30)

	resp := h.dispatch(t, proto.Keypress, "d2", map[string]any{"key": "a", "action": "down"})
	assert.Equal(t, ReasonNotTrusted, reason(t, resp))
	assert.Empty(t, h.driver.Effects())
	assert.Equal(t, []string{"rejected_untrusted:input.keypress"}, h.audit.Actions())
}

func TestCoordinator_EveryActionRequiresTrust(t *testing.T) {
	h := newHarness(t, 100)

	for _, typ := range proto.ActionTypes {
		t.Run(string(typ), func(t *testing.T) {
			resp := h.dispatch(t, typ, "stranger", map[string]any{})
			assert.Equal(t, ReasonNotTrusted, reason(t, resp))
		})
	}
	assert.Empty(t, h.driver.Effects())
}

func TestCoordinator_ReplayedNonce(t *testing.T) {
	h := newHarness(t, 30)
	h.pair(t, "d1")

	raw := rawFrame(t, proto.MouseMove, "d1", "same-nonce", map[string]any{"dx": 1, "dy": 1})
	resp := h.coord.Dispatch(decodeFrame(t, raw))
	assert.True(t, result(t, resp).Success)

	resp = h.coord.Dispatch(decodeFrame(t, raw))
	assert.Equal(t, "invalid_or_replayed_nonce", reason(t, resp))
	assert.Len(t, h.driver.Effects(), 1)
}

func TestCoordinator_RateLimited(t *testing.T) {
	h := newHarness(t, 3)

	for range 3 {
		resp := h.dispatch(t, proto.PairRequest, "d1", proto.PairRequestPayload{DeviceName: "Phone", PublicKey: "pk"})
		assert.Equal(t, proto.PairChallenge, resp.Type)
	}
	resp := h.dispatch(t, proto.PairRequest, "d1", proto.PairRequestPayload{DeviceName: "Phone", PublicKey: "pk"})
	assert.Equal(t, "rate_limit_exceeded", reason(t, resp))

	// other devices have their own window
	resp = h.dispatch(t, proto.PairRequest, "d2", proto.PairRequestPayload{DeviceName: "Tablet", PublicKey: "pk"})
	assert.Equal(t, proto.PairChallenge, resp.Type)
}

func TestCoordinator_MissingFields(t *testing.T) {
	h := newHarness(t, 30)

	resp := h.coord.Dispatch(decodeFrame(t, []byte(`{"type":"pair.request","device_id":"d1","payload":{}}`)))
	assert.Equal(t, "missing_fields:id,nonce,protocol_version,ts", reason(t, resp))
}

func TestCoordinator_UnsupportedVersion(t *testing.T) {
	h := newHarness(t, 30)

	env := h.envelope(t, proto.PairRequest, "d1", proto.PairRequestPayload{DeviceName: "Phone", PublicKey: "pk"})
	env.ProtocolVersion = "0.9"
	assert.Equal(t, "unsupported_protocol_version", reason(t, h.coord.Dispatch(env)))
}

func TestCoordinator_TypeNotAllowed(t *testing.T) {
	h := newHarness(t, 30)

	tests := []proto.MessageType{"system.shutdown", proto.PairResult, proto.PairChallenge}
	for _, typ := range tests {
		t.Run(string(typ), func(t *testing.T) {
			resp := h.dispatch(t, typ, "d1", map[string]any{})
			assert.Equal(t, ReasonTypeNotAllowed, reason(t, resp))
		})
	}
}

func TestCoordinator_ExecutionFailed(t *testing.T) {
	h := newHarness(t, 30)
	h.pair(t, "d1")

	tests := []struct {
		name    string
		typ     proto.MessageType
		payload map[string]any
	}{
		{"bad button", proto.MouseClick, map[string]any{"button": "side", "action": "down"}},
		{"missing dy", proto.MouseMove, map[string]any{"dx": 1}},
		{"unknown media", proto.SystemMedia, map[string]any{"command": "eject"}},
		{"wrong type", proto.MouseScroll, map[string]any{"delta_x": "a", "delta_y": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.dispatch(t, tt.typ, "d1", tt.payload)
			assert.Equal(t, ReasonExecutionFailed, reason(t, resp))
		})
	}
	assert.Empty(t, h.driver.Effects())
	assert.Equal(t, []string{"pair_success"}, h.audit.Actions())
}

func TestCoordinator_DriverError(t *testing.T) {
	h := newHarness(t, 30)
	h.pair(t, "d1")
	h.driver.Err = errors.New("no display")

	resp := h.dispatch(t, proto.SystemMedia, "d1", map[string]any{"command": "mute"})
	assert.Equal(t, ReasonExecutionFailed, reason(t, resp))
}

func TestCoordinator_AllActions(t *testing.T) {
	h := newHarness(t, 30)
	h.pair(t, "d1")

	h.dispatch(t, proto.MouseClick, "d1", map[string]any{"button": "left", "action": "down"})
	h.dispatch(t, proto.MouseScroll, "d1", map[string]any{"delta_x": 0, "delta_y": -3})
	h.dispatch(t, proto.Keypress, "d1", map[string]any{"key": "Enter", "action": "up"})
	h.dispatch(t, proto.SystemMedia, "d1", map[string]any{"command": "play_pause"})

	assert.Equal(t, []string{
		"button left down",
		"scroll -3 0",
		"key enter up",
		"press playpause",
	}, h.driver.Effects())
}

func TestCoordinator_ActionTableComplete(t *testing.T) {
	h := newHarness(t, 30)

	assert.Len(t, h.coord.actions, len(proto.ActionTypes))
	for _, typ := range proto.ActionTypes {
		assert.Contains(t, h.coord.actions, typ)
		assert.Equal(t, proto.KindAction, typ.Kind())
	}
}

func TestCoordinator_HandleReplies(t *testing.T) {
	h := newHarness(t, 30)
	client := NewMockClient("ws-1")

	raw := rawFrame(t, proto.PairRequest, "d1", "n-1", proto.PairRequestPayload{DeviceName: "Phone", PublicKey: "pk"})
	h.coord.Handle(client, raw)

	sent := client.Sent()
	require.Len(t, sent, 1)
	out := sent[0]
	assert.Equal(t, proto.PairChallenge, out.Type)
	assert.Equal(t, "test-host", out.DeviceId)
	assert.Equal(t, proto.ProtocolVersion, out.ProtocolVersion)
	assert.Len(t, out.Nonce, 20)
	assert.NotEmpty(t, out.Id)
	assert.Empty(t, out.Missing())

	var challenge proto.PairChallengePayload
	require.NoError(t, json.Unmarshal(out.Payload, &challenge))
	assert.Equal(t, testCode, challenge.Code)

	assert.Equal(t, "d1", client.Meta().DeviceId())
	assert.False(t, client.Meta().LastSeen().IsZero())
}

func TestCoordinator_HandleDropsMalformedFrames(t *testing.T) {
	h := newHarness(t, 30)
	client := NewMockClient("ws-1")

	h.coord.Handle(client, []byte("not json"))
	h.coord.Handle(client, []byte(`["array"]`))
	assert.Empty(t, client.Sent())
}

func TestCoordinator_HandleLooselyTypedFields(t *testing.T) {
	pairRequest := `"type":"pair.request","id":"m1","nonce":"n-1","payload":{"device_name":"Phone","public_key":"pk"}`

	t.Run("numeric version", func(t *testing.T) {
		h := newHarness(t, 30)
		client := NewMockClient("ws-1")

		h.coord.Handle(client, []byte(`{"protocol_version":1.0,"ts":1735689600000,"device_id":"d1",`+pairRequest+`}`))
		sent := client.Sent()
		require.Len(t, sent, 1)
		var res proto.ResultPayload
		require.NoError(t, json.Unmarshal(sent[0].Payload, &res))
		require.NotNil(t, res.Reason)
		assert.Equal(t, "unsupported_protocol_version", *res.Reason)
	})

	t.Run("fractional ts", func(t *testing.T) {
		h := newHarness(t, 30)
		client := NewMockClient("ws-1")

		h.coord.Handle(client, []byte(`{"protocol_version":"1.0","ts":1735689600000.5,"device_id":"d1",`+pairRequest+`}`))
		sent := client.Sent()
		require.Len(t, sent, 1)
		assert.Equal(t, proto.PairChallenge, sent[0].Type)
	})

	t.Run("numeric device id", func(t *testing.T) {
		h := newHarness(t, 30)
		client := NewMockClient("ws-1")

		h.coord.Handle(client, []byte(`{"protocol_version":"1.0","ts":1735689600000,"device_id":42,`+pairRequest+`}`))
		sent := client.Sent()
		require.Len(t, sent, 1)
		assert.Equal(t, proto.PairChallenge, sent[0].Type)
		require.Len(t, h.coord.Pairing.Pending(), 1)
		assert.Equal(t, "42", h.coord.Pairing.Pending()[0].DeviceId)
	})
}

func TestCoordinator_HandleSendError(t *testing.T) {
	h := newHarness(t, 30)
	client := NewMockClient("ws-1")
	client.err = errors.New("broken pipe")

	assert.NotPanics(t, func() {
		h.coord.Handle(client, rawFrame(t, proto.PairRequest, "d1", "n-1", proto.PairRequestPayload{DeviceName: "Phone", PublicKey: "pk"}))
	})
}

func TestCoordinator_SessionLifecycle(t *testing.T) {
	h := newHarness(t, 30)
	client := NewMockClient("ws-1")

	require.NoError(t, h.coord.RegisterSession(client))
	got, ok := h.coord.Sessions.Get("ws-1")
	require.True(t, ok)
	assert.Same(t, client, got)
	assert.Equal(t, 1, h.coord.Sessions.Len())
}
