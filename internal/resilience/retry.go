package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Default retry parameters.
const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
)

// ErrRetriesExhausted is returned by [RetryPolicy.Do] when every attempt failed
// with a retryable error.
var ErrRetriesExhausted = errors.New("resilience: retries exhausted")

// RetryPolicy bounds how often a failing operation is restarted. The delay
// before retry n (1-based) is InitialBackoff·2^(n-1), capped at MaxBackoff.
//
// The zero value is usable and yields the package defaults.
type RetryPolicy struct {
	// MaxAttempts is the number of retries allowed after the initial attempt.
	// Values below one are treated as the default (3); a policy always allows
	// at least one retry.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry. Default: 250ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between retries. Default: 5s.
	MaxBackoff time.Duration
}

// WithDefaults returns p with zero fields replaced by defaults.
func (p RetryPolicy) WithDefaults() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = defaultInitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaultMaxBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

// Backoff returns the delay before retry number attempt (1-based) and whether
// that retry is still allowed.
func (p RetryPolicy) Backoff(attempt int) (time.Duration, bool) {
	p = p.WithDefaults()
	if attempt < 1 || attempt > p.MaxAttempts {
		return 0, false
	}
	d := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff, true
		}
	}
	return d, true
}

// Do calls fn until it succeeds, returns an error for which retryable reports
// false, the attempts run out, or ctx is done. A nil retryable retries every
// error.
func (p RetryPolicy) Do(ctx context.Context, name string, retryable func(error) bool, fn func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		delay, ok := p.Backoff(attempt + 1)
		if !ok {
			return fmt.Errorf("%w: %s after %d attempts: %w", ErrRetriesExhausted, name, attempt+1, err)
		}
		slog.Debug("resilience: retrying",
			"op", name,
			"attempt", attempt+1,
			"backoff", delay,
			"err", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
