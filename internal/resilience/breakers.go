package resilience

import "sync"

// Breakers is a process-wide registry of circuit breakers keyed by provider
// name. All callers of the same provider share one breaker, so one caller's
// failures protect every other caller.
type Breakers struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	template CircuitBreakerConfig
}

// NewBreakers creates a registry. New breakers inherit template's
// MaxFailures, Cooldown, MaxCooldown, and OnStateChange.
func NewBreakers(template CircuitBreakerConfig) *Breakers {
	return &Breakers{
		breakers: make(map[string]*CircuitBreaker),
		template: template,
	}
}

// Get returns the breaker for the named provider, creating it on first use.
func (b *Breakers) Get(provider string) *CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[provider]; ok {
		return cb
	}

	cfg := b.template
	cfg.Name = provider
	cb := NewCircuitBreaker(cfg)
	b.breakers[provider] = cb
	return cb
}

// States returns a snapshot of each registered breaker's state.
func (b *Breakers) States() map[string]State {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]State, len(b.breakers))
	for name, cb := range b.breakers {
		out[name] = cb.State()
	}
	return out
}
