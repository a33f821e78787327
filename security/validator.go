package security

import "github.com/mbocsi/hidlink/proto"

// Rejection reasons reported back to the sender.
const (
	ReasonUnsupportedVersion = "unsupported_protocol_version"
	ReasonReplayedNonce      = "invalid_or_replayed_nonce"
	ReasonRateLimited        = "rate_limit_exceeded"
)

// Rejection explains why an envelope was refused admission.
type Rejection struct {
	Reason  string
	Missing []string // set only for missing-field rejections
}

func (r *Rejection) Error() string {
	return r.Reason
}

// Validator combines structural checks with the nonce and rate defenses.
type Validator struct {
	version string
	nonces  *NonceTracker
	rate    *RateLimiter
}

func NewValidator(version string, nonces *NonceTracker, rate *RateLimiter) *Validator {
	if version == "" {
		version = proto.ProtocolVersion
	}
	return &Validator{version: version, nonces: nonces, rate: rate}
}

// Validate returns nil when env is admitted. Checks run in a fixed order and
// stop at the first failure; an envelope rejected for a structural reason
// does not consume a nonce or a rate slot.
func (v *Validator) Validate(env *proto.Envelope) *Rejection {
	if missing := env.Missing(); len(missing) > 0 {
		return &Rejection{Reason: proto.MissingReason(missing), Missing: missing}
	}
	if !env.HasVersion(v.version) {
		return &Rejection{Reason: ReasonUnsupportedVersion}
	}
	if !v.nonces.IsFresh(env.DeviceId, env.Nonce) {
		return &Rejection{Reason: ReasonReplayedNonce}
	}
	if !v.rate.Allow(env.DeviceId) {
		return &Rejection{Reason: ReasonRateLimited}
	}
	return nil
}
