package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct{ now time.Time }

func (c *manualClock) Now() time.Time          { return c.now }
func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newBreaker(threshold int, cooldown time.Duration) (*Breaker, *manualClock) {
	clock := &manualClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(threshold, cooldown).WithClock(clock.Now), clock
}

func TestBreaker_AllowWhenClosed(t *testing.T) {
	b, _ := newBreaker(3, time.Second)
	assert.True(t, b.Allow("device"))
	assert.Equal(t, StateClosed, b.State("device"))
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newBreaker(3, time.Second)

	b.RecordFailure("device")
	b.RecordFailure("device")
	assert.True(t, b.Allow("device"), "below threshold")

	b.RecordFailure("device")
	assert.False(t, b.Allow("device"))
	assert.Equal(t, StateOpen, b.State("device"))
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	b, clock := newBreaker(2, time.Second)
	b.RecordFailure("device")
	b.RecordFailure("device")

	clock.Advance(999 * time.Millisecond)
	assert.False(t, b.Allow("device"))

	clock.Advance(time.Millisecond)
	assert.True(t, b.Allow("device"), "one probe")
	assert.Equal(t, StateHalfOpen, b.State("device"))
	assert.False(t, b.Allow("device"), "second call while probing")
}

func TestBreaker_ProbeOutcome(t *testing.T) {
	tests := []struct {
		name    string
		succeed bool
		want    State
	}{
		{"success closes", true, StateClosed},
		{"failure reopens", false, StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, clock := newBreaker(2, time.Second)
			b.RecordFailure("device")
			b.RecordFailure("device")
			clock.Advance(time.Second)
			require.True(t, b.Allow("device"))

			if tt.succeed {
				b.RecordSuccess("device")
			} else {
				b.RecordFailure("device")
			}
			assert.Equal(t, tt.want, b.State("device"))
		})
	}
}

func TestBreaker_ReopenRestartsCooldown(t *testing.T) {
	b, clock := newBreaker(1, time.Second)
	b.RecordFailure("device")
	clock.Advance(time.Second)
	require.True(t, b.Allow("device"))
	b.RecordFailure("device")

	clock.Advance(500 * time.Millisecond)
	assert.False(t, b.Allow("device"))
	clock.Advance(500 * time.Millisecond)
	assert.True(t, b.Allow("device"))
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b, _ := newBreaker(3, time.Second)
	b.RecordFailure("device")
	b.RecordFailure("device")
	b.RecordSuccess("device")
	b.RecordFailure("device")
	assert.True(t, b.Allow("device"))
}

func TestBreaker_IndependentKeys(t *testing.T) {
	b, _ := newBreaker(2, time.Second)
	b.RecordFailure("device")
	b.RecordFailure("device")

	assert.False(t, b.Allow("device"))
	assert.True(t, b.Allow("geo"))
	assert.Equal(t, StateClosed, b.State("unknown"))
}

func TestBreaker_Do(t *testing.T) {
	b, _ := newBreaker(2, time.Second)
	boom := errors.New("boom")

	calls := 0
	fail := func() error { calls++; return boom }

	assert.ErrorIs(t, b.Do("device", fail), boom)
	assert.ErrorIs(t, b.Do("device", fail), boom)
	assert.ErrorIs(t, b.Do("device", fail), ErrOpen)
	assert.Equal(t, 2, calls, "open circuit skips the call")
}

func TestBreaker_OnTransition(t *testing.T) {
	b, clock := newBreaker(2, time.Second)

	type change struct{ from, to State }
	var changes []change
	b.OnTransition(func(key string, from, to State) {
		assert.Equal(t, "device", key)
		changes = append(changes, change{from, to})
	})

	b.RecordFailure("device")
	b.RecordFailure("device")
	clock.Advance(time.Second)
	b.Allow("device")
	b.RecordSuccess("device")

	assert.Equal(t, []change{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}, changes)
}

func TestNew_Defaults(t *testing.T) {
	b := New(0, 0)
	assert.Equal(t, DefaultThreshold, b.threshold)
	assert.Equal(t, DefaultCooldown, b.cooldown)
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.s.String())
	}
}
