package server

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/mbocsi/hidlink/input"
	"github.com/mbocsi/hidlink/proto"
)

const (
	ReasonNotTrusted      = "device_not_trusted"
	ReasonExecutionFailed = "execution_failed"
	ReasonTypeNotAllowed  = "message_type_not_allowed"
)

// Response is the reply the coordinator sends for one inbound envelope.
type Response struct {
	Type    proto.MessageType
	Payload any
}

func failure(reason string) Response {
	return Response{Type: proto.PairResult, Payload: proto.Failure(reason)}
}

// Handle processes one raw frame from client. Frames that are not a JSON
// object are dropped without a reply.
func (c *Coordinator) Handle(client Client, raw []byte) {
	var env proto.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		slog.Warn("Dropping malformed frame", "session", client.Meta().Id, "error", err.Error())
		return
	}
	client.Meta().Touch(env.DeviceId)

	resp := c.Dispatch(&env)

	out, err := proto.NewEnvelope(resp.Type, c.Host.HostId, resp.Payload)
	if err != nil {
		slog.Error("Failed to build response", "session", client.Meta().Id, "error", err.Error())
		return
	}
	if err := client.Send(out); err != nil {
		slog.Warn("Failed to send response", "session", client.Meta().Id, "error", err.Error())
	}
}

// Dispatch admits env and routes it by message kind.
func (c *Coordinator) Dispatch(env *proto.Envelope) Response {
	if rej := c.Validator.Validate(env); rej != nil {
		slog.Info("Envelope rejected", "device_id", env.DeviceId, "type", env.Type, "reason", rej.Reason)
		return failure(rej.Reason)
	}

	switch env.Type.Kind() {
	case proto.KindPairing:
		return c.handlePairing(env)
	case proto.KindAction:
		return c.handleAction(env)
	default:
		slog.Warn("Unhandled message type", "type", env.Type, "device_id", env.DeviceId)
		return failure(ReasonTypeNotAllowed)
	}
}

func (c *Coordinator) handlePairing(env *proto.Envelope) Response {
	switch env.Type {
	case proto.PairRequest:
		return c.Pairing.Request(env)
	case proto.PairConfirm:
		return c.Pairing.Confirm(env)
	}
	return failure(ReasonTypeNotAllowed)
}

func (c *Coordinator) handleAction(env *proto.Envelope) Response {
	if !c.Trust.IsTrusted(env.DeviceId) {
		c.Audit.Record(c.now(), env.DeviceId, "rejected_untrusted:"+string(env.Type))
		return failure(ReasonNotTrusted)
	}

	handler, ok := c.actions[env.Type]
	if !ok {
		return failure(ReasonTypeNotAllowed)
	}
	if err := handler(c.Executor, env); err != nil {
		slog.Warn("Action failed", "device_id", env.DeviceId, "type", env.Type, "error", err.Error())
		return failure(ReasonExecutionFailed)
	}

	c.Audit.Record(c.now(), env.DeviceId, string(env.Type))
	return Response{Type: proto.PairResult, Payload: proto.Success("")}
}

// ---------- action table ---------- //

type actionHandler func(ex input.Executor, env *proto.Envelope) error

var errNoExecutor = errors.New("no input executor configured")

func actionHandlers() map[proto.MessageType]actionHandler {
	return map[proto.MessageType]actionHandler{
		proto.MouseMove:   mouseMove,
		proto.MouseClick:  mouseClick,
		proto.MouseScroll: mouseScroll,
		proto.Keypress:    keypress,
		proto.SystemMedia: media,
	}
}

type validated interface{ Validate() error }

func decodeAction[P any, PP interface {
	*P
	validated
}](env *proto.Envelope) (*P, error) {
	p := PP(new(P))
	if err := env.DecodePayload(p); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return (*P)(p), nil
}

func mouseMove(ex input.Executor, env *proto.Envelope) error {
	p, err := decodeAction[proto.MouseMovePayload](env)
	if err != nil {
		return err
	}
	if ex == nil {
		return errNoExecutor
	}
	return ex.MouseMove(*p.Dx, *p.Dy)
}

func mouseClick(ex input.Executor, env *proto.Envelope) error {
	p, err := decodeAction[proto.MouseClickPayload](env)
	if err != nil {
		return err
	}
	if ex == nil {
		return errNoExecutor
	}
	return ex.MouseClick(p.Button, p.Action)
}

func mouseScroll(ex input.Executor, env *proto.Envelope) error {
	p, err := decodeAction[proto.MouseScrollPayload](env)
	if err != nil {
		return err
	}
	if ex == nil {
		return errNoExecutor
	}
	return ex.MouseScroll(*p.DeltaX, *p.DeltaY)
}

func keypress(ex input.Executor, env *proto.Envelope) error {
	p, err := decodeAction[proto.KeypressPayload](env)
	if err != nil {
		return err
	}
	if ex == nil {
		return errNoExecutor
	}
	return ex.Keypress(p.Key, p.Action)
}

func media(ex input.Executor, env *proto.Envelope) error {
	p, err := decodeAction[proto.MediaPayload](env)
	if err != nil {
		return err
	}
	if ex == nil {
		return errNoExecutor
	}
	return ex.Media(p.Command)
}
