package circuit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clock is a settable time source for cooldown tests.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestBreaker_StartsClosed(t *testing.T) {
	b := New("outbox")
	assert.Equal(t, StateClosed, b.State())
	assert.False(t, b.IsOpen())
	assert.True(t, b.Allow())
	assert.Equal(t, "outbox", b.Name())
}

func TestBreaker_OpensAtFailureThreshold(t *testing.T) {
	b := New("outbox", WithFailureThreshold(3))

	for i := 0; i < 2; i++ {
		useFallback, change := b.RecordFailure()
		assert.False(t, useFallback, "failure %d below threshold", i+1)
		assert.False(t, change.Opened)
	}

	useFallback, change := b.RecordFailure()
	assert.True(t, useFallback)
	assert.True(t, change.Opened)
	assert.True(t, b.IsOpen())
	assert.False(t, b.Allow())
}

func TestBreaker_OpenCircuitReportsNoFurtherTransition(t *testing.T) {
	b := New("outbox", WithFailureThreshold(1))

	_, change := b.RecordFailure()
	require.True(t, change.Opened)

	useFallback, change := b.RecordFailure()
	assert.True(t, useFallback)
	assert.False(t, change.Opened, "already open")
}

func TestBreaker_ClosesAfterSuccessThreshold(t *testing.T) {
	b := New("outbox", WithFailureThreshold(1), WithSuccessThreshold(2))
	b.RecordFailure()
	require.True(t, b.IsOpen())

	usePrimary, change := b.RecordSuccess()
	assert.False(t, usePrimary)
	assert.False(t, change.Closed)
	assert.True(t, b.IsOpen())

	usePrimary, change = b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.True(t, change.Closed)
	assert.False(t, b.IsOpen())
}

func TestBreaker_CountersResetEachOther(t *testing.T) {
	t.Run("success clears accumulated failures", func(t *testing.T) {
		b := New("outbox", WithFailureThreshold(3))

		b.RecordFailure()
		b.RecordFailure()
		b.RecordSuccess()

		b.RecordFailure()
		b.RecordFailure()
		assert.False(t, b.IsOpen())

		b.RecordFailure()
		assert.True(t, b.IsOpen())
	})

	t.Run("failure clears accumulated successes", func(t *testing.T) {
		b := New("outbox", WithFailureThreshold(1), WithSuccessThreshold(3))
		b.RecordFailure()
		require.True(t, b.IsOpen())

		b.RecordSuccess()
		b.RecordSuccess()
		b.RecordFailure()
		assert.True(t, b.IsOpen())

		b.RecordSuccess()
		b.RecordSuccess()
		assert.True(t, b.IsOpen())
		b.RecordSuccess()
		assert.False(t, b.IsOpen())
	})
}

func TestBreaker_HalfOpensAfterCooldown(t *testing.T) {
	clk := newClock()
	b := New("outbox",
		WithFailureThreshold(1),
		WithSuccessThreshold(1),
		WithCooldown(30*time.Second),
		WithClock(clk.now),
	)

	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())

	clk.advance(10 * time.Second)
	assert.False(t, b.Allow(), "still inside cooldown")

	clk.advance(25 * time.Second)
	assert.True(t, b.Allow(), "cooldown expired, probes permitted")
	assert.Equal(t, StateHalfOpen, b.State())

	_, change := b.RecordSuccess()
	assert.True(t, change.Closed)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	clk := newClock()
	b := New("outbox",
		WithFailureThreshold(1),
		WithCooldown(30*time.Second),
		WithClock(clk.now),
	)

	b.RecordFailure()
	clk.advance(31 * time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	useFallback, change := b.RecordFailure()
	assert.True(t, useFallback)
	assert.True(t, change.Opened)
	assert.Equal(t, StateOpen, b.State())

	// The failed probe restarts the cooldown in full.
	clk.advance(20 * time.Second)
	assert.False(t, b.Allow())
	clk.advance(11 * time.Second)
	assert.True(t, b.Allow())
}

func TestBreaker_FailureWhileOpenExtendsCooldown(t *testing.T) {
	clk := newClock()
	b := New("outbox",
		WithFailureThreshold(1),
		WithCooldown(30*time.Second),
		WithClock(clk.now),
	)

	b.RecordFailure()
	clk.advance(20 * time.Second)
	b.RecordFailure()

	clk.advance(15 * time.Second)
	assert.False(t, b.Allow(), "cooldown restarted by the later failure")
	clk.advance(16 * time.Second)
	assert.True(t, b.Allow())
}

func TestBreaker_Reset(t *testing.T) {
	b := New("outbox", WithFailureThreshold(1))
	b.RecordFailure()
	require.True(t, b.IsOpen())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestBreaker_ConcurrentRecording(t *testing.T) {
	b := New("outbox", WithFailureThreshold(5), WithSuccessThreshold(3))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				b.RecordFailure()
			} else {
				b.RecordSuccess()
			}
			b.Allow()
		}(i)
	}
	wg.Wait()

	// State must land somewhere defined regardless of interleaving.
	s := b.State()
	assert.Contains(t, []State{StateClosed, StateOpen, StateHalfOpen}, s)
}
