package execution

import (
	"sync"
	"time"

	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/internal/ports"
)

// BreakerState represents the circuit breaker state.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // normal operation, calls pass through
	BreakerOpen                         // tripped, calls rejected immediately
	BreakerHalfOpen                     // cooldown elapsed, one probe allowed
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards one symbol's exchange calls. After maxFailures
// consecutive failures it opens and rejects calls for the cooldown period,
// then half-opens and lets exactly one probe through: a successful probe
// closes the breaker, a failed one reopens it.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       BreakerState
	failures    int
	maxFailures int
	cooldown    time.Duration
	openedAt    time.Time
	probing     bool

	// now is swappable in tests.
	now func() time.Time

	// OnStateChange, when set, is called on every transition.
	OnStateChange func(from, to BreakerState)
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		state:       BreakerClosed,
		now:         time.Now,
	}
}

// Execute runs fn through the breaker. While open and inside the cooldown it
// returns ports.ErrCircuitOpen without invoking fn; once the cooldown has
// elapsed a single probe call is admitted.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	switch cb.state {
	case BreakerOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			cb.mu.Unlock()
			return ports.ErrCircuitOpen
		}
		cb.transition(BreakerHalfOpen)
		cb.probing = true
	case BreakerHalfOpen:
		if cb.probing {
			// A probe is already in flight; reject until it resolves.
			cb.mu.Unlock()
			return ports.ErrCircuitOpen
		}
		cb.probing = true
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false

	if err != nil {
		cb.failures++
		if cb.state == BreakerHalfOpen || cb.failures >= cb.maxFailures {
			cb.openedAt = cb.now()
			cb.transition(BreakerOpen)
		}
		return err
	}

	if cb.state == BreakerHalfOpen {
		cb.transition(BreakerClosed)
	}
	cb.failures = 0
	return nil
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) transition(to BreakerState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if to == BreakerClosed {
		cb.failures = 0
	}
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}
