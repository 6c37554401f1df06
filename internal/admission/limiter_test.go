package admission

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter(t *testing.T, clock *fakeClock) *WindowLimiter {
	t.Helper()
	l, err := NewWindowLimiter(WindowConfig{Max: 5, Window: 10 * time.Minute, Now: clock.Now})
	require.NoError(t, err)
	return l
}

func TestWindowLimiter_SixthRejected(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock)

	for i := 0; i < 5; i++ {
		assert.True(t, l.Admit("1.2.3.4").Allowed, "request %d", i+1)
		clock.Advance(time.Minute)
	}

	d := l.Admit("1.2.3.4")
	assert.False(t, d.Allowed)
	// First request was 5 minutes ago; it leaves the window in 5 minutes.
	assert.Equal(t, 5*time.Minute, d.RetryAfter)
}

func TestWindowLimiter_AdmitsAfterWindowElapses(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock)

	for i := 0; i < 5; i++ {
		require.True(t, l.Admit("k").Allowed)
	}
	require.False(t, l.Admit("k").Allowed)

	clock.Advance(10 * time.Minute)
	assert.True(t, l.Admit("k").Allowed)
	assert.Equal(t, 1, l.Count("k"))
}

func TestWindowLimiter_RejectionDoesNotRecord(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock)

	for i := 0; i < 5; i++ {
		l.Admit("k")
	}
	for i := 0; i < 3; i++ {
		assert.False(t, l.Admit("k").Allowed)
	}
	assert.Equal(t, 5, l.Count("k"))
}

func TestWindowLimiter_SlidingBoundaryBurst(t *testing.T) {
	// Documented behaviour: a burst right before the oldest instants expire
	// and another right after admits 2*Max inside one window span.
	clock := newFakeClock()
	l := newTestLimiter(t, clock)

	for i := 0; i < 5; i++ {
		require.True(t, l.Admit("k").Allowed)
	}
	clock.Advance(10*time.Minute - time.Second)
	require.False(t, l.Admit("k").Allowed)

	clock.Advance(time.Second)
	admitted := 0
	for i := 0; i < 6; i++ {
		if l.Admit("k").Allowed {
			admitted++
		}
	}
	assert.Equal(t, 5, admitted)
}

func TestWindowLimiter_KeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock)

	for i := 0; i < 5; i++ {
		l.Admit("a")
	}
	assert.False(t, l.Admit("a").Allowed)
	assert.True(t, l.Admit("b").Allowed)
}

func TestWindowLimiter_EvictsOldestKey(t *testing.T) {
	clock := newFakeClock()
	l, err := NewWindowLimiter(WindowConfig{Max: 1, CacheSize: 2, Now: clock.Now})
	require.NoError(t, err)

	require.True(t, l.Admit("a").Allowed)
	require.True(t, l.Admit("b").Allowed)
	require.True(t, l.Admit("c").Allowed) // evicts "a"

	assert.True(t, l.Admit("a").Allowed)
	assert.False(t, l.Admit("c").Allowed)
}

func TestWindowLimiter_Defaults(t *testing.T) {
	l, err := NewWindowLimiter(WindowConfig{})
	require.NoError(t, err)
	assert.Equal(t, 5, l.max)
	assert.Equal(t, 10*time.Minute, l.window)
}

func TestWindowLimiter_Concurrent(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, clock)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := map[string]int{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("ip-%d", i%2)
			if l.Admit(key).Allowed {
				mu.Lock()
				admitted[key]++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, admitted["ip-0"])
	assert.Equal(t, 5, admitted["ip-1"])
}
