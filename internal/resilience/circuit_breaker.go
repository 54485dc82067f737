// Package resilience provides patterns for calling unreliable external
// providers: circuit breaker and retry with exponential backoff.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows requests to pass through.
	StateClosed State = iota
	// StateOpen blocks all requests.
	StateOpen
	// StateHalfOpen allows a single trial request to test recovery.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is short-circuited without being
// attempted because the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies this circuit breaker for metrics/logging.
	Name string
	// MaxFailures is the number of consecutive failures before opening.
	MaxFailures int
	// Cooldown is the initial wait before transitioning open -> half-open.
	// It doubles on each repeated open up to MaxCooldown and resets to this
	// base value when the breaker closes again.
	Cooldown time.Duration
	// MaxCooldown caps the doubled cooldown.
	MaxCooldown time.Duration
	// OnStateChange is called when state changes.
	OnStateChange func(name string, from, to State)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:        name,
		MaxFailures: 5,
		Cooldown:    30 * time.Second,
		MaxCooldown: 10 * time.Minute,
	}
}

// CircuitBreaker implements the circuit breaker pattern. It prevents
// cascading failures by failing fast while a provider is unhealthy.
//
// States:
//   - Closed: normal operation, requests pass through
//   - Open: provider is unhealthy, requests fail immediately
//   - Half-Open: one trial request is allowed to test recovery
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	cooldown            time.Duration
	halfOpenInFlight    bool
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	if config.MaxCooldown <= 0 {
		config.MaxCooldown = 10 * time.Minute
	}

	return &CircuitBreaker{
		config:   config,
		state:    StateClosed,
		cooldown: config.Cooldown,
	}
}

// Execute runs the given function through the circuit breaker.
// Returns ErrCircuitOpen if the call was short-circuited.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn()
	cb.recordResult(err)
	return err
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// Failures returns the consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFailures
}

// OpenedAt returns when the breaker last opened (zero if never opened).
func (cb *CircuitBreaker) OpenedAt() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.openedAt
}

// Reset returns the breaker to closed state with the base cooldown.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.toState(StateClosed)
	cb.consecutiveFailures = 0
	cb.cooldown = cb.config.Cooldown
}

// allowRequest checks if a request should be allowed. In half-open exactly
// one trial call may be in flight at a time.
func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case StateClosed:
		return true
	case StateHalfOpen:
		if cb.halfOpenInFlight {
			return false
		}
		cb.halfOpenInFlight = true
		return true
	default:
		return false
	}
}

// recordResult records the result of an attempted request.
func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.currentState() {
	case StateClosed:
		cb.consecutiveFailures = 0
	case StateHalfOpen:
		// Trial call succeeded: close and restore the base cooldown.
		cb.consecutiveFailures = 0
		cb.cooldown = cb.config.Cooldown
		cb.toState(StateClosed)
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.consecutiveFailures++

	switch cb.currentState() {
	case StateClosed:
		if cb.consecutiveFailures >= cb.config.MaxFailures {
			cb.open()
		}
	case StateHalfOpen:
		// Trial call failed: reopen with doubled cooldown.
		cb.doubleCooldown()
		cb.open()
	}
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = time.Now()
	cb.toState(StateOpen)
}

func (cb *CircuitBreaker) doubleCooldown() {
	cb.cooldown *= 2
	if cb.cooldown > cb.config.MaxCooldown {
		cb.cooldown = cb.config.MaxCooldown
	}
}

// currentState returns the current state, handling cooldown transitions.
func (cb *CircuitBreaker) currentState() State {
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.cooldown {
		cb.toState(StateHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) toState(to State) {
	if cb.state == to {
		return
	}

	from := cb.state
	cb.state = to

	if to == StateHalfOpen || to == StateClosed {
		cb.halfOpenInFlight = false
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, from, to)
	}
}
