package quota

import (
	"context"
	"sync"
	"time"
)

// SlidingWindowConfig configures the submission rate limiter.
type SlidingWindowConfig struct {
	// Requests is the maximum number of requests allowed per Window per key.
	Requests int `yaml:"requests" mapstructure:"requests"`
	// Window is the sliding window size.
	Window time.Duration `yaml:"window" mapstructure:"window"`
}

// ApplyDefaults applies default values to rate limit configuration.
func (c *SlidingWindowConfig) ApplyDefaults() {
	if c.Requests <= 0 {
		c.Requests = 30
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
}

// SlidingWindow limits request counts per key over a sliding window. It
// protects submission endpoints against bursts independent of resource
// quota: it counts requests, not resource amounts.
type SlidingWindow struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	cfg      SlidingWindowConfig
	now      func() time.Time
}

// NewSlidingWindow creates a sliding-window rate limiter.
func NewSlidingWindow(cfg SlidingWindowConfig) *SlidingWindow {
	cfg.ApplyDefaults()
	return &SlidingWindow{
		requests: make(map[string][]time.Time),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Allow records a request for key and reports whether it is within the
// window limit.
func (sw *SlidingWindow) Allow(key string) bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.now()
	cutoff := now.Add(-sw.cfg.Window)

	valid := filterByTime(sw.requests[key], cutoff)
	if len(valid) >= sw.cfg.Requests {
		sw.requests[key] = valid
		return false
	}
	sw.requests[key] = append(valid, now)
	return true
}

// Janitor calls Cleanup every interval until ctx is cancelled. Run it in a
// background goroutine so idle keys do not accumulate.
func (sw *SlidingWindow) Janitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.Cleanup()
		}
	}
}

// Cleanup drops keys with no requests inside the window.
func (sw *SlidingWindow) Cleanup() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	cutoff := sw.now().Add(-sw.cfg.Window)
	for key, times := range sw.requests {
		valid := filterByTime(times, cutoff)
		if len(valid) == 0 {
			delete(sw.requests, key)
		} else {
			sw.requests[key] = valid
		}
	}
}

func filterByTime(times []time.Time, cutoff time.Time) []time.Time {
	var result []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			result = append(result, t)
		}
	}
	return result
}
