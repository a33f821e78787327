// Package client is the companion side of the protocol: it builds envelopes
// with fresh nonces, pairs with an agent and sends input actions.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbocsi/hidlink/proto"
)

const DefaultTimeout = 5 * time.Second

var ErrBroken = errors.New("connection abandoned after a timed out request")

// ResultError is a failure reported by the agent in a pair.result.
type ResultError struct {
	Type   proto.MessageType
	Reason string
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Type, e.Reason)
}

type Client struct {
	Identity  Identity
	Timeout   time.Duration
	transport Transport

	mu     sync.Mutex // one request in flight
	broken bool
}

func NewClient(id Identity, t Transport) *Client {
	return &Client{Identity: id, Timeout: DefaultTimeout, transport: t}
}

func (c *Client) Connect(ctx context.Context, addr string) error {
	if err := c.transport.Connect(ctx, addr); err != nil {
		return err
	}
	slog.Info("Connected to agent", "addr", addr, "device_id", c.Identity.DeviceId)
	return nil
}

func (c *Client) Close() error {
	return c.transport.Close()
}

type readResult struct {
	env proto.Envelope
	err error
}

// Request sends one envelope and waits for the agent's reply.
func (c *Client) Request(ctx context.Context, typ proto.MessageType, payload any) (proto.Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return proto.Envelope{}, ErrBroken
	}

	env, err := proto.NewEnvelope(typ, c.Identity.DeviceId, payload)
	if err != nil {
		return proto.Envelope{}, err
	}
	if err := c.transport.Send(env); err != nil {
		return proto.Envelope{}, fmt.Errorf("send %s: %w", typ, err)
	}

	ch := make(chan readResult, 1)
	go func() {
		env, err := c.transport.Read()
		ch <- readResult{env, err}
	}()

	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	select {
	case res := <-ch:
		if res.err != nil {
			return proto.Envelope{}, fmt.Errorf("read reply to %s: %w", typ, res.err)
		}
		slog.Debug("Reply received", "type", res.env.Type, "request", typ)
		return res.env, nil
	case <-ctx.Done():
		c.broken = true
		return proto.Envelope{}, ctx.Err()
	case <-time.After(timeout):
		c.broken = true
		return proto.Envelope{}, fmt.Errorf("timeout waiting for reply to %s", typ)
	}
}

func resultOf(typ proto.MessageType, reply proto.Envelope) (proto.ResultPayload, error) {
	if reply.Type != proto.PairResult {
		return proto.ResultPayload{}, fmt.Errorf("unexpected reply %q to %s", reply.Type, typ)
	}
	var res proto.ResultPayload
	if err := reply.DecodePayload(&res); err != nil {
		return proto.ResultPayload{}, fmt.Errorf("invalid result payload: %w", err)
	}
	if !res.Success {
		reason := "unknown"
		if res.Reason != nil {
			reason = *res.Reason
		}
		return res, &ResultError{Type: typ, Reason: reason}
	}
	return res, nil
}

// Pair requests pairing and confirms it with code, returning the session token.
func (c *Client) Pair(ctx context.Context, code string) (string, error) {
	reply, err := c.Request(ctx, proto.PairRequest, proto.PairRequestPayload{
		DeviceName: c.Identity.DeviceName,
		PublicKey:  c.Identity.PublicKey,
	})
	if err != nil {
		return "", err
	}
	if reply.Type != proto.PairChallenge {
		_, err := resultOf(proto.PairRequest, reply)
		if err == nil {
			err = fmt.Errorf("unexpected reply %q to %s", reply.Type, proto.PairRequest)
		}
		return "", err
	}

	var challenge proto.PairChallengePayload
	if err := reply.DecodePayload(&challenge); err != nil {
		return "", fmt.Errorf("invalid challenge payload: %w", err)
	}
	slog.Info("Pairing challenge received", "expires_in_ms", challenge.ExpiresInMs)

	reply, err = c.Request(ctx, proto.PairConfirm, proto.PairConfirmPayload{Code: proto.Code(code), Accepted: true})
	if err != nil {
		return "", err
	}
	res, err := resultOf(proto.PairConfirm, reply)
	if err != nil {
		return "", err
	}
	if res.SessionToken == nil {
		return "", nil
	}
	c.Identity.SessionToken = *res.SessionToken
	return *res.SessionToken, nil
}

func (c *Client) action(ctx context.Context, typ proto.MessageType, payload any) error {
	reply, err := c.Request(ctx, typ, payload)
	if err != nil {
		return err
	}
	_, err = resultOf(typ, reply)
	return err
}

func (c *Client) MouseMove(ctx context.Context, dx, dy float64) error {
	return c.action(ctx, proto.MouseMove, proto.MouseMovePayload{Dx: proto.Float(dx), Dy: proto.Float(dy)})
}

func (c *Client) MouseClick(ctx context.Context, button, action string) error {
	return c.action(ctx, proto.MouseClick, proto.MouseClickPayload{Button: button, Action: action})
}

// Click sends a full down/up pair for button.
func (c *Client) Click(ctx context.Context, button string) error {
	if err := c.MouseClick(ctx, button, "down"); err != nil {
		return err
	}
	return c.MouseClick(ctx, button, "up")
}

func (c *Client) MouseScroll(ctx context.Context, dx, dy float64) error {
	return c.action(ctx, proto.MouseScroll, proto.MouseScrollPayload{DeltaX: proto.Float(dx), DeltaY: proto.Float(dy)})
}

func (c *Client) Keypress(ctx context.Context, key, action string) error {
	return c.action(ctx, proto.Keypress, proto.KeypressPayload{Key: key, Action: action})
}

// Tap sends a full down/up pair for key.
func (c *Client) Tap(ctx context.Context, key string) error {
	if err := c.Keypress(ctx, key, "down"); err != nil {
		return err
	}
	return c.Keypress(ctx, key, "up")
}

func (c *Client) Media(ctx context.Context, command string) error {
	return c.action(ctx, proto.SystemMedia, proto.MediaPayload{Command: command})
}
