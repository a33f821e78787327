package proto

import (
	"encoding/json"
	"errors"
	"fmt"
)

type PairRequestPayload struct {
	DeviceName string `json:"device_name"` // display only
	PublicKey  string `json:"public_key"`  // stored, never verified
}

func (p *PairRequestPayload) Validate() error {
	if p.DeviceName == "" {
		return errors.New("device_name is required")
	}
	if p.PublicKey == "" {
		return errors.New("public_key is required")
	}
	return nil
}

// Code is a pairing code that decodes from either a JSON string or number.
type Code string

func (c *Code) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Code(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("code must be a string or number: %w", err)
	}
	*c = Code(n.String())
	return nil
}

type PairConfirmPayload struct {
	Code     Code `json:"code"`
	Accepted bool `json:"accepted"`
}

type PairChallengePayload struct {
	Code        string `json:"code"`
	ExpiresInMs int64  `json:"expires_in_ms"`
}

type ResultPayload struct {
	Success      bool    `json:"success"`
	SessionToken *string `json:"session_token"`
	Reason       *string `json:"reason"`
}

func Success(token string) ResultPayload {
	res := ResultPayload{Success: true}
	if token != "" {
		res.SessionToken = &token
	}
	return res
}

func Failure(reason string) ResultPayload {
	return ResultPayload{Success: false, Reason: &reason}
}

type MouseMovePayload struct {
	Dx *float64 `json:"dx"`
	Dy *float64 `json:"dy"`
}

func (p *MouseMovePayload) Validate() error {
	return requireNumbers(map[string]*float64{"dx": p.Dx, "dy": p.Dy})
}

type MouseClickPayload struct {
	Button string `json:"button"`
	Action string `json:"action"`
}

func (p *MouseClickPayload) Validate() error {
	return requireStrings(map[string]string{"button": p.Button, "action": p.Action})
}

type MouseScrollPayload struct {
	DeltaX *float64 `json:"delta_x"`
	DeltaY *float64 `json:"delta_y"`
}

func (p *MouseScrollPayload) Validate() error {
	return requireNumbers(map[string]*float64{"delta_x": p.DeltaX, "delta_y": p.DeltaY})
}

type KeypressPayload struct {
	Key    string `json:"key"`
	Action string `json:"action"`
}

func (p *KeypressPayload) Validate() error {
	return requireStrings(map[string]string{"key": p.Key, "action": p.Action})
}

type MediaPayload struct {
	Command string `json:"command"`
}

func (p *MediaPayload) Validate() error {
	return requireStrings(map[string]string{"command": p.Command})
}

func requireNumbers(fields map[string]*float64) error {
	for name, v := range fields {
		if v == nil {
			return fmt.Errorf("%s is required", name)
		}
	}
	return nil
}

func requireStrings(fields map[string]string) error {
	for name, v := range fields {
		if v == "" {
			return fmt.Errorf("%s is required", name)
		}
	}
	return nil
}

// Float is a helper for building numeric action payloads.
func Float(v float64) *float64 { return &v }
