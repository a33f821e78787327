package proto

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is the only envelope version the agent speaks.
const ProtocolVersion = "1.0"

type MessageType string

const (
	PairRequest   MessageType = "pair.request"
	PairConfirm   MessageType = "pair.confirm"
	PairChallenge MessageType = "pair.challenge"
	PairResult    MessageType = "pair.result"

	MouseMove   MessageType = "input.mouse_move"
	MouseClick  MessageType = "input.mouse_click"
	MouseScroll MessageType = "input.mouse_scroll"
	Keypress    MessageType = "input.keypress"
	SystemMedia MessageType = "system.media"
)

// Kind groups message types by how the coordinator treats them.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindPairing
	KindAction
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindPairing:
		return "pairing"
	case KindAction:
		return "action"
	case KindResponse:
		return "response"
	default:
		return "unknown"
	}
}

// ActionTypes lists every message type that triggers a host side effect.
var ActionTypes = []MessageType{MouseMove, MouseClick, MouseScroll, Keypress, SystemMedia}

func (t MessageType) Kind() Kind {
	switch t {
	case PairRequest, PairConfirm:
		return KindPairing
	case MouseMove, MouseClick, MouseScroll, Keypress, SystemMedia:
		return KindAction
	case PairChallenge, PairResult:
		return KindResponse
	default:
		return KindUnknown
	}
}

// Envelope wraps every frame exchanged with a companion device.
type Envelope struct {
	ProtocolVersion string          `json:"protocol_version"`
	Type            MessageType     `json:"type"`
	Id              string          `json:"id"`
	Timestamp       int64           `json:"ts"` // UNIX milliseconds, advisory only
	Nonce           string          `json:"nonce"`
	DeviceId        string          `json:"device_id"`
	Payload         json.RawMessage `json:"payload"`

	// keys present in the decoded JSON object; nil for envelopes built in code
	present    map[string]struct{}
	badVersion bool
}

// RequiredFields are the envelope keys every inbound frame must carry.
var RequiredFields = []string{"device_id", "id", "nonce", "payload", "protocol_version", "ts", "type"}

var errNotObject = errors.New("envelope is not a JSON object")

// UnmarshalJSON accepts any JSON object. Fields of the wrong JSON type do not
// fail the decode: string fields keep the raw JSON text, a non-string
// protocol_version never matches a supported version, and a ts that is not an
// integer is truncated or zeroed.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return errNotObject
	}

	*e = Envelope{present: make(map[string]struct{}, len(fields))}
	for key, raw := range fields {
		e.present[key] = struct{}{}
		switch key {
		case "protocol_version":
			var ok bool
			e.ProtocolVersion, ok = textOf(raw)
			e.badVersion = !ok
		case "type":
			typ, _ := textOf(raw)
			e.Type = MessageType(typ)
		case "id":
			e.Id, _ = textOf(raw)
		case "ts":
			e.Timestamp = millisOf(raw)
		case "nonce":
			e.Nonce, _ = textOf(raw)
		case "device_id":
			e.DeviceId, _ = textOf(raw)
		case "payload":
			e.Payload = raw
		}
	}
	return nil
}

// textOf returns the value of a JSON string, or the raw JSON text of any other
// value. ok is false when raw is not a string.
func textOf(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && len(raw) > 0 && raw[0] == '"' {
		return s, true
	}
	if string(raw) == "null" {
		return "", false
	}
	return string(raw), false
}

func millisOf(raw json.RawMessage) int64 {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil || n == "" {
		return 0
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return int64(f)
	}
	return 0
}

// HasVersion reports whether the envelope carries version as a JSON string.
func (e *Envelope) HasVersion(version string) bool {
	return !e.badVersion && e.ProtocolVersion == version
}

// Missing returns the sorted names of required fields absent from the frame.
// Envelopes that were not decoded from JSON treat zero values as absent.
func (e *Envelope) Missing() []string {
	var missing []string
	for _, field := range RequiredFields {
		if !e.has(field) {
			missing = append(missing, field)
		}
	}
	slices.Sort(missing)
	return missing
}

func (e *Envelope) has(field string) bool {
	if e.present != nil {
		_, ok := e.present[field]
		return ok
	}
	switch field {
	case "protocol_version":
		return e.ProtocolVersion != ""
	case "type":
		return e.Type != ""
	case "id":
		return e.Id != ""
	case "ts":
		return e.Timestamp != 0
	case "nonce":
		return e.Nonce != ""
	case "device_id":
		return e.DeviceId != ""
	case "payload":
		return len(e.Payload) > 0
	}
	return false
}

// MissingReason formats the missing-field rejection reason.
func MissingReason(missing []string) string {
	return "missing_fields:" + strings.Join(missing, ",")
}

// DecodePayload unmarshals the envelope payload into v.
func (e *Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(e.Payload, v)
}

// NewEnvelope builds an outbound envelope with a fresh id, timestamp and nonce.
func NewEnvelope(t MessageType, deviceId string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	nonce := make([]byte, 10)
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ProtocolVersion: ProtocolVersion,
		Type:            t,
		Id:              uuid.NewString(),
		Timestamp:       time.Now().UnixMilli(),
		Nonce:           hex.EncodeToString(nonce),
		DeviceId:        deviceId,
		Payload:         raw,
	}, nil
}
