package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func TestLimiter_Admit(t *testing.T) {
	tests := []struct {
		name     string
		max      int
		calls    int
		wantLast bool
		wantDeny int
	}{
		{name: "first request admitted", max: 3, calls: 1, wantLast: true, wantDeny: 0},
		{name: "exactly at max", max: 3, calls: 3, wantLast: true, wantDeny: 0},
		{name: "one over max", max: 3, calls: 4, wantLast: false, wantDeny: 1},
		{name: "flooding", max: 3, calls: 10, wantLast: false, wantDeny: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newClock()
			l := New(tt.max, time.Minute, WithClock(clock.Now))

			var last bool
			denied := 0
			for i := 0; i < tt.calls; i++ {
				last = l.Admit("conn")
				if !last {
					denied++
				}
			}

			assert.Equal(t, tt.wantLast, last)
			assert.Equal(t, tt.wantDeny, denied)
			assert.Equal(t, tt.calls, l.count("conn"), "count keeps growing while saturated")
		})
	}
}

func TestLimiter_WindowReset(t *testing.T) {
	clock := newClock()
	l := New(2, time.Minute, WithClock(clock.Now))

	require.True(t, l.Admit("conn"))
	require.True(t, l.Admit("conn"))
	require.False(t, l.Admit("conn"))

	clock.Advance(time.Minute)
	assert.False(t, l.Admit("conn"), "window boundary itself still belongs to the old window")

	clock.Advance(time.Millisecond)
	assert.True(t, l.Admit("conn"))
	assert.Equal(t, 1, l.count("conn"))
}

func TestLimiter_PerConnection(t *testing.T) {
	l := New(1, time.Minute)

	assert.True(t, l.Admit("a"))
	assert.False(t, l.Admit("a"))
	assert.True(t, l.Admit("b"))
	assert.Equal(t, 2, l.Len())
}

func TestLimiter_Forget(t *testing.T) {
	l := New(1, time.Minute)

	require.True(t, l.Admit("a"))
	require.False(t, l.Admit("a"))

	l.Forget("a")
	assert.Equal(t, 0, l.Len())
	assert.True(t, l.Admit("a"))

	l.Forget("unknown")
	assert.Equal(t, 1, l.Len())
}

func TestLimiter_Defaults(t *testing.T) {
	l := New(0, 0)
	assert.Equal(t, DefaultMax, l.max)
	assert.Equal(t, DefaultWindow, l.window)
}

func TestLimiter_Concurrent(t *testing.T) {
	l := New(1000, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.Admit("shared")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, l.count("shared"))
}
