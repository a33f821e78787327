package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mbocsi/hidlink/proto"
)

// MaxReplySize bounds a single frame read from the agent.
const MaxReplySize = 64 * 1024

var ErrNotConnected = errors.New("transport is not connected")

// Transport carries envelopes to one agent. Send and Read may be called from
// different goroutines; one Read is outstanding at a time.
type Transport interface {
	Connect(ctx context.Context, addr string) error
	Send(env proto.Envelope) error
	Read() (proto.Envelope, error)
	Close() error
}

// splitScheme returns addr without its scheme, defaulting to scheme when
// none is present. Any other scheme is an error.
func splitScheme(addr, scheme string, accepted ...string) (string, string, error) {
	found, rest, ok := strings.Cut(addr, "://")
	if !ok {
		return scheme, addr, nil
	}
	if found == scheme {
		return found, rest, nil
	}
	for _, s := range accepted {
		if found == s {
			return found, rest, nil
		}
	}
	return "", "", fmt.Errorf("unsupported scheme %q in %q", found, addr)
}

func decodeReply(data []byte) (proto.Envelope, error) {
	var env proto.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return proto.Envelope{}, fmt.Errorf("invalid reply frame: %w", err)
	}
	return env, nil
}
