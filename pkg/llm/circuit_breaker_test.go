package llm

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for breaker tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
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

func newTestBreaker(threshold int, resetAfter time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: threshold, ResetAfter: resetAfter})
	cb.now = clock.Now
	return cb, clock
}

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb, _ := newTestBreaker(5, 30*time.Second)

	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 0, cb.ConsecutiveFailures())
	assert.True(t, cb.Available())

	allowed, err := cb.Allow()
	assert.True(t, allowed)
	assert.NoError(t, err)
}

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, 30*time.Second)

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
	}
	assert.Equal(t, CircuitClosed, cb.State())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.Equal(t, 3, cb.ConsecutiveFailures())
	assert.False(t, cb.Available())

	allowed, err := cb.Allow()
	assert.False(t, allowed)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Contains(t, err.Error(), "circuit breaker open")
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb, _ := newTestBreaker(3, 30*time.Second)
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 1, cb.ConsecutiveFailures())
}

func TestCircuitBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	cb, clock := newTestBreaker(1, 30*time.Second)
	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State())

	clock.Advance(29 * time.Second)
	allowed, _ := cb.Allow()
	assert.False(t, allowed)

	clock.Advance(time.Second)
	assert.True(t, cb.Available())
	allowed, err := cb.Allow()
	assert.True(t, allowed)
	assert.NoError(t, err)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	allowed, err = cb.Allow()
	assert.False(t, allowed, "second request while probing")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, cb.Available())
}

func TestCircuitBreaker_HalfOpenProbeOutcome(t *testing.T) {
	t.Run("success closes", func(t *testing.T) {
		cb, clock := newTestBreaker(1, time.Second)
		cb.RecordFailure()
		clock.Advance(time.Second)
		_, _ = cb.Allow()

		cb.RecordSuccess()
		assert.Equal(t, CircuitClosed, cb.State())
		assert.Equal(t, 0, cb.ConsecutiveFailures())
	})

	t.Run("failure reopens", func(t *testing.T) {
		cb, clock := newTestBreaker(3, time.Second)
		for i := 0; i < 3; i++ {
			cb.RecordFailure()
		}
		clock.Advance(time.Second)
		_, _ = cb.Allow()

		cb.RecordFailure()
		assert.Equal(t, CircuitOpen, cb.State())

		allowed, _ := cb.Allow()
		assert.False(t, allowed, "cool-down restarts from the probe failure")
	})
}

func TestCircuitBreaker_RecordCanceled(t *testing.T) {
	t.Run("closed is untouched", func(t *testing.T) {
		cb, _ := newTestBreaker(2, time.Second)
		cb.RecordFailure()

		cb.RecordCanceled()
		assert.Equal(t, CircuitClosed, cb.State())
		assert.Equal(t, 1, cb.ConsecutiveFailures())
	})

	t.Run("half-open slot is released", func(t *testing.T) {
		cb, clock := newTestBreaker(1, time.Second)
		cb.RecordFailure()
		clock.Advance(time.Second)
		allowed, _ := cb.Allow()
		require.True(t, allowed)
		require.Equal(t, CircuitHalfOpen, cb.State())

		cb.RecordCanceled()
		assert.Equal(t, CircuitOpen, cb.State())
		assert.Equal(t, 1, cb.ConsecutiveFailures())

		allowed, err := cb.Allow()
		assert.True(t, allowed, "cool-down is not restarted")
		assert.NoError(t, err)
	})
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Threshold:  1,
		ResetAfter: time.Second,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	clock := newFakeClock()
	cb.now = clock.Now

	cb.RecordFailure()
	cb.RecordFailure()
	clock.Advance(time.Second)
	_, _ = cb.Allow()
	cb.RecordSuccess()

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Hour)
	cb.RecordFailure()
	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 0, cb.ConsecutiveFailures())
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 1000, ResetAfter: time.Minute})
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = cb.Allow()
			if i%2 == 0 {
				cb.RecordFailure()
			} else {
				cb.RecordSuccess()
			}
			_ = cb.State()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(42).String())
}
