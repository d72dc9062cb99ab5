package execution

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/ports"
)

var errBoom = errors.New("boom")

func newTestBreaker(maxFailures int, cooldown time.Duration) (*CircuitBreaker, *time.Time) {
	cb := NewCircuitBreaker(maxFailures, cooldown)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.Equal(t, BreakerClosed, cb.State())
		err := cb.Execute(func() error { return errBoom })
		assert.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, BreakerOpen, cb.State())
}

func TestBreakerRejectsWithoutCallingThrough(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Minute)
	require.Error(t, cb.Execute(func() error { return errBoom }))
	require.Error(t, cb.Execute(func() error { return errBoom }))
	require.Equal(t, BreakerOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ports.ErrCircuitOpen)
	assert.False(t, called, "open breaker must not invoke the call")
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)
	require.Error(t, cb.Execute(func() error { return errBoom }))
	require.Error(t, cb.Execute(func() error { return errBoom }))
	require.NoError(t, cb.Execute(func() error { return nil }))
	require.Error(t, cb.Execute(func() error { return errBoom }))
	require.Error(t, cb.Execute(func() error { return errBoom }))
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	cb, now := newTestBreaker(1, time.Minute)
	require.Error(t, cb.Execute(func() error { return errBoom }))
	require.Equal(t, BreakerOpen, cb.State())

	// Within cooldown: rejected.
	*now = now.Add(30 * time.Second)
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ports.ErrCircuitOpen)

	// Cooldown elapsed: exactly one probe goes through and closes on success.
	*now = now.Add(31 * time.Second)
	calls := 0
	require.NoError(t, cb.Execute(func() error { calls++; return nil }))
	assert.Equal(t, 1, calls)
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	cb, now := newTestBreaker(1, time.Minute)
	require.Error(t, cb.Execute(func() error { return errBoom }))

	*now = now.Add(2 * time.Minute)
	require.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	assert.Equal(t, BreakerOpen, cb.State())

	// Reopened at probe time: still rejecting inside the fresh cooldown.
	*now = now.Add(30 * time.Second)
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ports.ErrCircuitOpen)
}

func TestBreakerStateChangeCallback(t *testing.T) {
	cb, now := newTestBreaker(1, time.Minute)
	var transitions []string
	cb.OnStateChange = func(from, to BreakerState) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}

	require.Error(t, cb.Execute(func() error { return errBoom }))
	*now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Execute(func() error { return nil }))

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}
