package security

import (
	"slices"
	"sync"
	"sync/atomic"
)

// DefaultNonceWindow is how many recent nonces are remembered per device.
const DefaultNonceWindow = 200

// DefaultNonceDevices caps how many device windows are held at once.
const DefaultNonceDevices = 4096

// NonceTracker remembers the most recent nonces of each device and rejects
// any nonce it has already seen from that device. Once a device's window is
// full the oldest nonce is forgotten. When more than maxDevices windows exist
// the least recently active tenth is dropped.
type NonceTracker struct {
	size       int
	maxDevices int
	windows    *Keyed[nonceWindow]

	clock   atomic.Uint64
	evictMu sync.Mutex
}

type nonceWindow struct {
	ring []string
	next int
	seen map[string]struct{}
	last uint64
}

func NewNonceTracker(size int) *NonceTracker {
	if size <= 0 {
		size = DefaultNonceWindow
	}
	return &NonceTracker{
		size:       size,
		maxDevices: DefaultNonceDevices,
		windows: NewKeyed(func() nonceWindow {
			return nonceWindow{seen: make(map[string]struct{})}
		}),
	}
}

// Devices returns how many devices currently hold a window.
func (n *NonceTracker) Devices() int {
	return n.windows.Len()
}

// IsFresh records nonce for deviceID and reports whether it was new.
// An empty nonce is never fresh and is not recorded.
func (n *NonceTracker) IsFresh(deviceID, nonce string) bool {
	if nonce == "" {
		return false
	}
	fresh := false
	n.windows.Do(deviceID, func(w *nonceWindow) {
		w.last = n.clock.Add(1)
		if _, dup := w.seen[nonce]; dup {
			return
		}
		if len(w.ring) < n.size {
			w.ring = append(w.ring, nonce)
		} else {
			delete(w.seen, w.ring[w.next])
			w.ring[w.next] = nonce
			w.next = (w.next + 1) % n.size
		}
		w.seen[nonce] = struct{}{}
		fresh = true
	})
	if n.windows.Len() > n.maxDevices {
		n.evict()
	}
	return fresh
}

func (n *NonceTracker) evict() {
	n.evictMu.Lock()
	defer n.evictMu.Unlock()

	var lasts []uint64
	n.windows.Range(func(_ string, w *nonceWindow) {
		lasts = append(lasts, w.last)
	})
	keep := n.maxDevices - n.maxDevices/10
	if len(lasts) <= keep {
		return
	}
	slices.Sort(lasts)
	cutoff := lasts[len(lasts)-keep-1]
	n.windows.Prune(func(w *nonceWindow) bool {
		return w.last <= cutoff
	})
}
