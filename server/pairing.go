package server

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"time"

	"github.com/mbocsi/hidlink/audit"
	"github.com/mbocsi/hidlink/proto"
	"github.com/mbocsi/hidlink/security"
)

// DefaultCodeTTL is the expiry advertised with every challenge. It is not
// enforced by the agent.
const DefaultCodeTTL = 60 * time.Second

const (
	ReasonInvalidPairRequest = "invalid_pair_request"
	ReasonInvalidCode        = "invalid_code_or_rejected"
	ReasonInternal           = "internal_error"
)

// HostIdentity is the process-wide pairing context handed to the coordinator.
type HostIdentity struct {
	HostId          string
	ProtocolVersion string
	PairingCode     string
	CodeTTL         time.Duration
}

// GeneratePairingCode returns a random six digit code.
func GeneratePairingCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate pairing code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func newSessionToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// PendingPair is a pair.request waiting for its confirmation.
type PendingPair struct {
	DeviceId    string    `json:"device_id"`
	DeviceName  string    `json:"device_name"`
	PublicKey   string    `json:"public_key"`
	RequestedAt time.Time `json:"requested_at"`
}

// Pairing turns a pair.request / pair.confirm exchange into a trust grant.
// A device is Unknown, Pending (a request is recorded) or Trusted (present in
// the registry); there is no explicit state field.
type Pairing struct {
	host     HostIdentity
	registry *TrustRegistry
	audit    audit.Sink
	pending  *security.Keyed[*PendingPair]
	now      func() time.Time
	token    func() (string, error)
}

// NewPairing generates a code when host carries none, so an empty code can
// never be confirmed.
func NewPairing(host HostIdentity, registry *TrustRegistry, sink audit.Sink) *Pairing {
	if host.CodeTTL == 0 {
		host.CodeTTL = DefaultCodeTTL
	}
	if host.PairingCode == "" {
		code, err := GeneratePairingCode()
		if err != nil {
			slog.Error("Pairing disabled", "error", err.Error())
		}
		host.PairingCode = code
	}
	if sink == nil {
		sink = audit.Discard{}
	}
	return &Pairing{
		host:     host,
		registry: registry,
		audit:    sink,
		pending:  security.NewKeyed(func() *PendingPair { return nil }),
		now:      time.Now,
		token:    newSessionToken,
	}
}

// Request records the offered identity and answers with the host's code.
func (p *Pairing) Request(env *proto.Envelope) Response {
	var req proto.PairRequestPayload
	if err := env.DecodePayload(&req); err != nil {
		return failure(ReasonInvalidPairRequest)
	}
	if err := req.Validate(); err != nil {
		slog.Info("Rejected pair request", "device_id", env.DeviceId, "error", err.Error())
		return failure(ReasonInvalidPairRequest)
	}

	p.pending.Do(env.DeviceId, func(pp **PendingPair) {
		*pp = &PendingPair{
			DeviceId:    env.DeviceId,
			DeviceName:  req.DeviceName,
			PublicKey:   req.PublicKey,
			RequestedAt: p.now(),
		}
	})
	slog.Info("Pair request pending", "device_id", env.DeviceId, "device_name", req.DeviceName)

	return Response{
		Type: proto.PairChallenge,
		Payload: proto.PairChallengePayload{
			Code:        p.host.PairingCode,
			ExpiresInMs: p.host.CodeTTL.Milliseconds(),
		},
	}
}

// Confirm grants trust when the confirmation is accepted, carries the host's
// code and matches a pending request. Every other outcome yields the same
// generic failure so a caller cannot learn whether a request was pending.
func (p *Pairing) Confirm(env *proto.Envelope) Response {
	deviceId := env.DeviceId

	var conf proto.PairConfirmPayload
	decodeErr := env.DecodePayload(&conf)
	codeOK := p.host.PairingCode != "" &&
		subtle.ConstantTimeCompare([]byte(conf.Code), []byte(p.host.PairingCode)) == 1

	var resp Response
	p.pending.Do(deviceId, func(pp **PendingPair) {
		pending := *pp
		if decodeErr != nil || !conf.Accepted || !codeOK || pending == nil {
			p.audit.Record(p.now(), deviceId, "pair_failed")
			resp = failure(ReasonInvalidCode)
			return
		}

		token, err := p.token()
		if err != nil {
			slog.Error("Failed to generate session token", "device_id", deviceId, "error", err.Error())
			resp = failure(ReasonInternal)
			return
		}

		name, key := pending.DeviceName, pending.PublicKey
		if name == "" {
			name = "unknown"
		}
		if err := p.registry.TrustDevice(deviceId, name, key); err != nil {
			slog.Error("Failed to persist trusted device", "device_id", deviceId, "error", err.Error())
			resp = failure(ReasonInternal)
			return
		}
		*pp = nil

		p.audit.Record(p.now(), deviceId, "pair_success")
		slog.Info("Device paired", "device_id", deviceId, "device_name", name)
		resp = Response{Type: proto.PairResult, Payload: proto.Success(token)}
	})
	p.pending.DeleteIf(deviceId, func(pp **PendingPair) bool { return *pp == nil })
	return resp
}

// Pending lists outstanding pair requests ordered by device id.
func (p *Pairing) Pending() []PendingPair {
	var out []PendingPair
	p.pending.Range(func(_ string, pp **PendingPair) {
		if *pp != nil {
			out = append(out, **pp)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceId < out[j].DeviceId })
	return out
}

func (p *Pairing) Host() HostIdentity {
	return p.host
}
