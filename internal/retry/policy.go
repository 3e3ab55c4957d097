// Package retry implements bounded, backoff-governed retries for calls
// to the authorization service.
package retry

import (
	"math/rand/v2"
	"time"

	autherrors "github.com/alexjbarnes/authkeeper/internal/errors"
)

const (
	// DefaultMaxDelay caps a single backoff when the policy sets no
	// MaxDelay.
	DefaultMaxDelay = 30 * time.Second

	// maxJitter bounds the jitter fraction. A value of 1 would allow a
	// zero delay, which defeats the point of backing off.
	maxJitter = 0.9
)

// Policy decides whether another attempt should be made and how long
// to wait before it. Policies are plain values built per call.
type Policy struct {
	// NumberOfRetries is the number of attempts allowed after the first.
	NumberOfRetries int

	// Delay is waited before the first retry.
	Delay time.Duration

	// DelayFactor multiplies the delay after every retry.
	DelayFactor int

	// MaxDelay caps every wait, jitter included. Zero means
	// DefaultMaxDelay.
	MaxDelay time.Duration

	// Jitter scales each delay by a random factor in
	// [1-Jitter, 1+Jitter]. Zero disables jitter.
	Jitter float64

	// RetryOn reports whether a failed attempt may be retried. A nil
	// RetryOn never retries.
	RetryOn func(err error) bool
}

// Default retries only server-class (5xx) failures.
func Default(retries int, delay time.Duration, factor int) Policy {
	return Policy{
		NumberOfRetries: retries,
		Delay:           delay,
		DelayFactor:     factor,
		RetryOn:         autherrors.IsServerError,
	}
}

// Upgrade retries any failure. Upgrading legacy credentials is a one-off
// migration, so it is worth pushing through client-class errors too.
func Upgrade(retries int, delay time.Duration, factor int) Policy {
	return Policy{
		NumberOfRetries: retries,
		Delay:           delay,
		DelayFactor:     factor,
		RetryOn:         func(error) bool { return true },
	}
}

// WithJitter returns a copy of the policy with jitter enabled.
func (p Policy) WithJitter(j float64) Policy {
	p.Jitter = min(max(j, 0), maxJitter)
	return p
}

// WithMaxDelay returns a copy of the policy with its waits capped at d.
func (p Policy) WithMaxDelay(d time.Duration) Policy {
	p.MaxDelay = d
	return p
}

// ShouldRetry reports whether attempt number attempt (zero based) may
// run given the error of the previous attempt. A nil lastErr means no
// attempt has failed yet.
func (p Policy) ShouldRetry(lastErr error, attempt int) bool {
	if attempt > p.NumberOfRetries {
		return false
	}

	if lastErr == nil {
		return true
	}

	return p.RetryOn != nil && p.RetryOn(lastErr)
}

// Backoff returns the wait before retry i (1 based):
// Delay * DelayFactor^(i-1), scaled by jitter when enabled and capped
// at MaxDelay.
func (p Policy) Backoff(i int) time.Duration {
	if i < 1 || p.Delay <= 0 {
		return 0
	}

	limit := p.MaxDelay
	if limit <= 0 {
		limit = DefaultMaxDelay
	}

	d := min(p.Delay, limit)

	factor := time.Duration(max(p.DelayFactor, 1))
	for n := 1; n < i && factor > 1; n++ {
		// Checked before multiplying so d never overflows.
		if d > limit/factor {
			d = limit
			break
		}

		d *= factor
	}

	d = min(d, limit)

	if p.Jitter > 0 {
		scale := 1 - p.Jitter + rand.Float64()*2*p.Jitter //nolint:gosec // G404: math/rand is fine for retry jitter, no security impact
		d = time.Duration(min(float64(d)*scale, float64(limit)))
	}

	return d
}
