package security

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1735689600, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRateLimiter_Limit(t *testing.T) {
	clock := newFakeClock()
	r := NewRateLimiter(3)
	r.SetClock(clock.Now)

	for i := 0; i < 3; i++ {
		assert.True(t, r.Allow("d1"), "message %d should be admitted", i)
	}
	assert.False(t, r.Allow("d1"))
	assert.False(t, r.Allow("d1"))
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	clock := newFakeClock()
	r := NewRateLimiter(2)
	r.SetClock(clock.Now)

	assert.True(t, r.Allow("d1"))
	clock.Advance(600 * time.Millisecond)
	assert.True(t, r.Allow("d1"))
	assert.False(t, r.Allow("d1"))

	// first event is now older than a second, second one is not
	clock.Advance(500 * time.Millisecond)
	assert.True(t, r.Allow("d1"))
	assert.False(t, r.Allow("d1"))

	clock.Advance(1100 * time.Millisecond)
	assert.True(t, r.Allow("d1"))
	assert.True(t, r.Allow("d1"))
}

func TestRateLimiter_RejectionHasNoSideEffect(t *testing.T) {
	clock := newFakeClock()
	r := NewRateLimiter(1)
	r.SetClock(clock.Now)

	assert.True(t, r.Allow("d1"))
	for i := 0; i < 10; i++ {
		clock.Advance(50 * time.Millisecond)
		assert.False(t, r.Allow("d1"))
	}
	// only the first admitted event counts against the window
	clock.Advance(600 * time.Millisecond)
	assert.True(t, r.Allow("d1"))
}

func TestRateLimiter_PerDevice(t *testing.T) {
	clock := newFakeClock()
	r := NewRateLimiter(1)
	r.SetClock(clock.Now)

	assert.True(t, r.Allow("d1"))
	assert.False(t, r.Allow("d1"))
	assert.True(t, r.Allow("d2"))
}

func TestRateLimiter_MinimumLimit(t *testing.T) {
	r := NewRateLimiter(0)
	assert.Equal(t, 1, r.Limit())
}

func TestRateLimiter_ConcurrentBound(t *testing.T) {
	clock := newFakeClock()
	r := NewRateLimiter(5)
	r.SetClock(clock.Now)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Allow("d1") {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), admitted.Load())
}

func TestRateLimiter_DropsIdleWindows(t *testing.T) {
	clock := newFakeClock()
	r := NewRateLimiter(2)
	r.SetClock(clock.Now)

	for i := 0; i < 50; i++ {
		r.Allow(fmt.Sprintf("stranger-%d", i))
	}
	assert.Equal(t, 50, r.Devices())

	clock.Advance(1500 * time.Millisecond)
	assert.True(t, r.Allow("d1"))
	assert.Equal(t, 1, r.Devices())

	// a pruned device starts over with a full allowance
	assert.True(t, r.Allow("stranger-0"))
	assert.True(t, r.Allow("stranger-0"))
	assert.False(t, r.Allow("stranger-0"))
}
