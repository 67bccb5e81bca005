package resilience

import (
	"math/rand/v2"
	"time"
)

// Policy configures retry behavior for one call sequence.
type Policy struct {
	// MaxRetries is the number of retries after the initial attempt.
	// Default: 3
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	// Default: 1 second
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries.
	// Default: 30 seconds
	MaxDelay time.Duration

	// BackoffMultiplier scales the delay after each retry.
	// Default: 2.0
	BackoffMultiplier float64

	// Jitter applies ±25% multiplicative randomization to each delay to
	// avoid synchronized retry storms.
	Jitter bool

	// RetryableCodes is the set of normalized error codes worth retrying.
	// Default: the transient taxonomy (network, timeout, rate-limited,
	// resource-exhausted, tool-unavailable).
	RetryableCodes map[string]bool
}

// DefaultPolicy returns the canonical retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		RetryableCodes:    DefaultRetryableCodes(),
	}
}

// DefaultRetryableCodes returns the transient error code set.
func DefaultRetryableCodes() map[string]bool {
	return map[string]bool{
		CodeNetworkError:      true,
		CodeTimeout:           true,
		CodeRateLimited:       true,
		CodeResourceExhausted: true,
		CodeToolUnavailable:   true,
	}
}

// withDefaults fills in zero fields without touching explicit choices.
func (p Policy) withDefaults() Policy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = 3
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.BackoffMultiplier <= 0 {
		p.BackoffMultiplier = 2.0
	}
	if p.RetryableCodes == nil {
		p.RetryableCodes = DefaultRetryableCodes()
	}
	return p
}

// retryable reports whether the normalized error should be retried under
// this policy. Both the error's own hint and the code set must agree.
func (p Policy) retryable(err *Error) bool {
	return err.Retryable && p.RetryableCodes[err.Code]
}

// next advances the base delay for the following retry.
func (p Policy) next(delay time.Duration) time.Duration {
	delay = time.Duration(float64(delay) * p.BackoffMultiplier)
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// jittered perturbs the delay by ±25% when jitter is enabled.
func (p Policy) jittered(delay time.Duration) time.Duration {
	if !p.Jitter || delay <= 0 {
		return delay
	}
	// #nosec G404 -- jitter is non-cryptographic timing variance.
	factor := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(delay) * factor)
}
