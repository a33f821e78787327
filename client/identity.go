package client

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mbocsi/hidlink/store"
)

// Identity is what a companion presents to the agent. The key pair is
// generated once and kept with the device id so that re-pairing offers the
// same public key.
type Identity struct {
	DeviceId     string `json:"device_id"`
	DeviceName   string `json:"device_name"`
	PublicKey    string `json:"public_key"`  // hex ed25519
	PrivateKey   string `json:"private_key"` // hex ed25519 seed+public
	SessionToken string `json:"session_token,omitempty"`
}

func NewIdentity(name string) (Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return Identity{
		DeviceId:   uuid.NewString(),
		DeviceName: name,
		PublicKey:  hex.EncodeToString(pub),
		PrivateKey: hex.EncodeToString(priv),
	}, nil
}

// LoadIdentity reads the identity from s, creating and saving a new one
// named name when none exists yet.
func LoadIdentity(s store.Store, name string) (Identity, error) {
	data, err := s.Read()
	if errors.Is(err, store.ErrNotFound) {
		id, err := NewIdentity(name)
		if err != nil {
			return Identity{}, err
		}
		return id, SaveIdentity(s, id)
	}
	if err != nil {
		return Identity{}, fmt.Errorf("read identity: %w", err)
	}

	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return Identity{}, fmt.Errorf("malformed identity: %w", err)
	}
	if id.DeviceId == "" || id.PublicKey == "" {
		return Identity{}, fmt.Errorf("malformed identity: missing device_id or public_key")
	}
	return id, nil
}

func SaveIdentity(s store.Store, id Identity) error {
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return err
	}
	return s.Replace(data)
}
