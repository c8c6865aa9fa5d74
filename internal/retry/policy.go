package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"

	"pdfchat/internal/apperr"
)

// Policy is the single retry configuration used for external calls and for
// requeueing failed jobs.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the randomization factor applied to each delay, in [0, 1).
	Jitter float64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
	}
}

// Delay returns the wait before the attempt following the given one (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		delta := p.Jitter * d
		d = d - delta + rand.Float64()*2*delta
	}
	return time.Duration(d)
}

// Exhausted reports whether no attempts remain after the given one.
func (p Policy) Exhausted(attempt int) bool {
	return attempt >= p.attempts()
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Do runs op until it succeeds, returns a non-transient error, the context is
// done, or MaxAttempts is reached. The last error is returned.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = p.Jitter
	b.Multiplier = 2
	b.MaxElapsedTime = 0

	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.attempts()-1)), ctx)

	var last error
	err := backoff.Retry(func() error {
		last = op(ctx)
		if last != nil && !apperr.Retryable(last) {
			return backoff.Permanent(last)
		}
		return last
	}, bo)
	if err != nil && ctx.Err() != nil && last != nil {
		return last
	}
	return err
}

// DoTimeout is Do with every attempt bounded by timeout.
func (p Policy) DoTimeout(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	return p.Do(ctx, func(ctx context.Context) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return op(ctx)
	})
}
