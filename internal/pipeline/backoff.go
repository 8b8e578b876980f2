package pipeline

import "time"

// RetryConfig controls rebuild attempts after a running pipeline faults
// (bus error or end-of-stream).
type RetryConfig struct {
	MaxRetries    int           // Attempts before giving up until the next Update (default: 5)
	RetryDelay    time.Duration // Initial delay (default: 1 second)
	MaxRetryDelay time.Duration // Delay cap (default: 30 seconds)
	// StableAfter resets the attempt counter when a pipeline that faults had
	// been playing at least this long (default: 30 seconds).
	StableAfter time.Duration
}

// DefaultRetryConfig returns the default fault retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
		StableAfter:   30 * time.Second,
	}
}

// withDefaults fills every zero field from DefaultRetryConfig, so a partial
// config keeps its explicit values.
func (c RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = def.MaxRetryDelay
	}
	if c.MaxRetryDelay < c.RetryDelay {
		c.MaxRetryDelay = c.RetryDelay
	}
	if c.StableAfter <= 0 {
		c.StableAfter = def.StableAfter
	}
	return c
}

// calculateBackoff returns retryDelay * 2^(attempt-1), capped at maxRetryDelay.
//
// With the defaults:
//   - Attempt 1: 1s
//   - Attempt 2: 2s
//   - Attempt 3: 4s
//   - Attempt 4: 8s
//   - Attempt 5: 16s
func calculateBackoff(attempt int, cfg RetryConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 31 {
		return cfg.MaxRetryDelay
	}

	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxRetryDelay || delay <= 0 {
		delay = cfg.MaxRetryDelay
	}
	return delay
}
