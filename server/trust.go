package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mbocsi/hidlink/store"
)

// TrustedDevice is a companion that completed pairing.
type TrustedDevice struct {
	DeviceId   string    `json:"device_id"`
	DeviceName string    `json:"device_name"`
	PublicKey  string    `json:"public_key"`
	PairedAt   time.Time `json:"paired_at,omitzero"`
}

type trustFile struct {
	TrustedDevices []trustRecord `json:"trusted_devices"`
}

// trustRecord tolerates records written by older agents with missing fields.
type trustRecord struct {
	DeviceId   *string    `json:"device_id,omitempty"`
	DeviceName *string    `json:"device_name,omitempty"`
	PublicKey  *string    `json:"public_key,omitempty"`
	PairedAt   *time.Time `json:"paired_at,omitempty"`
}

// TrustRegistry is the durable set of devices allowed to issue actions.
// Every change is written through to the backing store before it returns.
type TrustRegistry struct {
	mu      sync.RWMutex
	devices map[string]TrustedDevice

	wmu   sync.Mutex // serializes persistence
	store store.Store
}

// LoadTrustRegistry reads the registry from s. A store that has never been
// written yields an empty registry; unreadable or malformed content is an error.
func LoadTrustRegistry(s store.Store) (*TrustRegistry, error) {
	r := &TrustRegistry{devices: make(map[string]TrustedDevice), store: s}

	data, err := s.Read()
	if errors.Is(err, store.ErrNotFound) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read trust registry: %w", err)
	}

	var file trustFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("malformed trust registry: %w", err)
	}
	for _, rec := range file.TrustedDevices {
		if rec.DeviceId == nil {
			continue
		}
		d := TrustedDevice{DeviceId: *rec.DeviceId, DeviceName: "unknown"}
		if rec.DeviceName != nil {
			d.DeviceName = *rec.DeviceName
		}
		if rec.PublicKey != nil {
			d.PublicKey = *rec.PublicKey
		}
		if rec.PairedAt != nil {
			d.PairedAt = *rec.PairedAt
		}
		r.devices[d.DeviceId] = d
	}
	return r, nil
}

func (r *TrustRegistry) IsTrusted(deviceId string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.devices[deviceId]
	return ok
}

func (r *TrustRegistry) Get(deviceId string) (TrustedDevice, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[deviceId]
	return d, ok
}

// List returns all trusted devices sorted by device id.
func (r *TrustRegistry) List() []TrustedDevice {
	r.mu.RLock()
	devices := make([]TrustedDevice, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, d)
	}
	r.mu.RUnlock()

	sort.Slice(devices, func(i, j int) bool { return devices[i].DeviceId < devices[j].DeviceId })
	return devices
}

// TrustDevice records (or overwrites) a device and persists the whole registry.
// If persisting fails the in-memory change is rolled back.
func (r *TrustRegistry) TrustDevice(deviceId, deviceName, publicKey string) error {
	r.wmu.Lock()
	defer r.wmu.Unlock()

	d := TrustedDevice{DeviceId: deviceId, DeviceName: deviceName, PublicKey: publicKey, PairedAt: time.Now().UTC()}

	r.mu.Lock()
	prev, existed := r.devices[deviceId]
	r.devices[deviceId] = d
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	if err := r.persist(snapshot); err != nil {
		r.mu.Lock()
		if existed {
			r.devices[deviceId] = prev
		} else {
			delete(r.devices, deviceId)
		}
		r.mu.Unlock()
		return fmt.Errorf("persist trust registry: %w", err)
	}
	return nil
}

func (r *TrustRegistry) snapshotLocked() []TrustedDevice {
	devices := make([]TrustedDevice, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].DeviceId < devices[j].DeviceId })
	return devices
}

func (r *TrustRegistry) persist(devices []TrustedDevice) error {
	file := struct {
		TrustedDevices []TrustedDevice `json:"trusted_devices"`
	}{TrustedDevices: devices}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	return r.store.Replace(data)
}
