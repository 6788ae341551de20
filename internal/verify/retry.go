// Package verify validates broker credentials against a terminal prober,
// retrying transient failures with exponential backoff.
package verify

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/tradervane/brokerpulse/internal/probe"
)

// RetryConfig holds exponential-backoff retry parameters for one
// validation request.
type RetryConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	RetryableKinds    map[probe.ErrorKind]bool

	// Jitter subtracts up to 10% from each delay. Off by default so backoff
	// timing stays deterministic.
	Jitter bool
}

// DefaultRetryConfig returns the retry parameters used for interactive
// credential validation.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      2 * time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 1.5,
		RetryableKinds: map[probe.ErrorKind]bool{
			probe.KindNetworkError:      true,
			probe.KindTimeout:           true,
			probe.KindServerUnreachable: true,
		},
	}
}

// SingleAttempt returns the config used by background monitoring: one probe,
// no retries.
func SingleAttempt() RetryConfig {
	return RetryConfig{
		MaxAttempts:       1,
		InitialDelay:      0,
		MaxDelay:          0,
		BackoffMultiplier: 1,
	}
}

// Validate rejects configs that indicate a caller bug.
func (c RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("retry config: max attempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.InitialDelay < 0 {
		return fmt.Errorf("retry config: initial delay must be >= 0, got %s", c.InitialDelay)
	}
	if c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("retry config: max delay %s < initial delay %s", c.MaxDelay, c.InitialDelay)
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("retry config: backoff multiplier must be >= 1, got %g", c.BackoffMultiplier)
	}
	return nil
}

// Policy decides whether and when a failed validation attempt is retried.
type Policy struct {
	cfg RetryConfig
}

// NewPolicy validates the config and returns a retry policy.
func NewPolicy(cfg RetryConfig) (*Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Policy{cfg: cfg}, nil
}

// ShouldRetry reports whether another attempt should follow the failure of
// the given 1-based attempt. Invalid credentials are never retried.
func (p *Policy) ShouldRetry(attempt int, kind probe.ErrorKind) bool {
	if attempt >= p.cfg.MaxAttempts {
		return false
	}
	if kind == probe.KindInvalidCredentials {
		return false
	}
	return p.cfg.RetryableKinds[kind]
}

// DelayFor returns the backoff delay before the attempt following the given
// 1-based failed attempt: min(maxDelay, initialDelay * multiplier^(attempt-1)).
func (p *Policy) DelayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := time.Duration(float64(p.cfg.InitialDelay) * math.Pow(p.cfg.BackoffMultiplier, float64(attempt-1)))
	if delay > p.cfg.MaxDelay || delay < 0 {
		delay = p.cfg.MaxDelay
	}

	if p.cfg.Jitter {
		if n := int64(delay) / 10; n > 0 {
			delay -= time.Duration(rand.Int64N(n))
		}
	}
	return delay
}
