package resilience

import (
	"errors"
	"testing"
	"time"
)

func failN(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = cb.Execute(func() error {
			return errors.New("provider failure")
		})
	}
}

func TestCircuitBreaker_StartsInClosedState(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig("test"))

	if cb.State() != StateClosed {
		t.Errorf("expected StateClosed, got %s", cb.State())
	}
}

func TestCircuitBreaker_AllowsRequestsWhenClosed(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig("test"))

	var called bool
	err := cb.Execute(func() error {
		called = true
		return nil
	})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if !called {
		t.Error("function was not called")
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:        "test",
		MaxFailures: 5,
		Cooldown:    time.Second,
	})

	failN(cb, 5)

	if cb.State() != StateOpen {
		t.Fatalf("expected StateOpen, got %s", cb.State())
	}
	if cb.OpenedAt().IsZero() {
		t.Error("openedAt was not recorded")
	}

	// The 6th call must be short-circuited without invoking the function.
	err := cb.Execute(func() error {
		t.Error("function should not have been called")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:        "test",
		MaxFailures: 3,
		Cooldown:    time.Second,
	})

	failN(cb, 2)
	_ = cb.Execute(func() error { return nil })

	if got := cb.Failures(); got != 0 {
		t.Errorf("expected failures reset to 0, got %d", got)
	}
	if cb.State() != StateClosed {
		t.Errorf("expected StateClosed, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenAllowsSingleTrialCall(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:        "test",
		MaxFailures: 1,
		Cooldown:    20 * time.Millisecond,
	})

	failN(cb, 1)
	if cb.State() != StateOpen {
		t.Fatalf("expected StateOpen, got %s", cb.State())
	}

	time.Sleep(30 * time.Millisecond)

	if cb.State() != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen, got %s", cb.State())
	}

	// First request is the trial; a concurrent second request is blocked
	// while the trial has not reported a result.
	if !cb.allowRequest() {
		t.Fatal("trial call should be allowed")
	}
	if cb.allowRequest() {
		t.Error("second half-open call should be blocked")
	}

	cb.recordResult(nil)

	if cb.State() != StateClosed {
		t.Errorf("expected StateClosed after trial success, got %s", cb.State())
	}
}

func TestCircuitBreaker_TrialFailureReopensWithDoubledCooldown(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:        "test",
		MaxFailures: 1,
		Cooldown:    20 * time.Millisecond,
		MaxCooldown: time.Minute,
	})

	failN(cb, 1)
	time.Sleep(30 * time.Millisecond)

	err := cb.Execute(func() error {
		return errors.New("still failing")
	})
	if err == nil {
		t.Fatal("expected trial call error")
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected StateOpen after trial failure, got %s", cb.State())
	}

	// Cooldown doubled to 40ms: after the original 20ms the breaker must
	// still be open.
	time.Sleep(25 * time.Millisecond)
	if cb.State() != StateOpen {
		t.Errorf("expected StateOpen before doubled cooldown elapses, got %s", cb.State())
	}

	time.Sleep(25 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Errorf("expected StateHalfOpen after doubled cooldown, got %s", cb.State())
	}
}

func TestCircuitBreaker_CooldownCappedAtMax(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:        "test",
		MaxFailures: 1,
		Cooldown:    10 * time.Millisecond,
		MaxCooldown: 15 * time.Millisecond,
	})

	failN(cb, 1)
	for i := 0; i < 4; i++ {
		time.Sleep(20 * time.Millisecond)
		_ = cb.Execute(func() error { return errors.New("down") })
	}

	cb.mu.Lock()
	cooldown := cb.cooldown
	cb.mu.Unlock()

	if cooldown != 15*time.Millisecond {
		t.Errorf("expected cooldown capped at 15ms, got %s", cooldown)
	}
}

func TestCircuitBreaker_OnStateChangeFires(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:        "whisper",
		MaxFailures: 1,
		Cooldown:    time.Second,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	failN(cb, 1)

	if len(transitions) != 1 || transitions[0] != "whisper:closed->open" {
		t.Errorf("unexpected transitions: %v", transitions)
	}
}

func TestBreakers_SharedPerProvider(t *testing.T) {
	reg := NewBreakers(CircuitBreakerConfig{MaxFailures: 2, Cooldown: time.Second})

	a := reg.Get("whisper")
	b := reg.Get("whisper")
	if a != b {
		t.Fatal("expected same breaker instance for the same provider")
	}

	other := reg.Get("ollama")
	if other == a {
		t.Fatal("expected distinct breakers per provider")
	}

	failN(a, 2)
	if b.State() != StateOpen {
		t.Error("failures recorded through one handle must be visible to all")
	}
	if other.State() != StateClosed {
		t.Error("other provider's breaker must be unaffected")
	}
}
