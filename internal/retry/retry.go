package retry

import (
	"context"
	"time"

	"github.com/loykin/pm2ctl/internal/runner"
)

// Default policy parameters. Concrete values live at the configuration
// boundary (internal/config); these are fallbacks for a zero Policy.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 100 * time.Millisecond
	DefaultMaxDelay    = 2 * time.Second
)

// Op performs a single attempt of an external command.
type Op func(ctx context.Context) (runner.Result, error)

// Classifier decides whether a finished attempt should be retried.
// It receives the raw result plus any spawn error.
type Classifier func(res runner.Result, err error) bool

// Policy drives bounded retry with exponential backoff around a Runner
// invocation. The zero value is usable and falls back to the defaults.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Attempts returns the effective attempt bound for this policy.
func (p Policy) Attempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

// Backoff returns the delay to wait after the given 1-based attempt:
// BaseDelay * 2^(attempt-1), capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	maxD := p.MaxDelay
	if maxD <= 0 {
		maxD = DefaultMaxDelay
	}
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			return maxD
		}
	}
	if d > maxD {
		return maxD
	}
	return d
}

// Execute runs op up to MaxAttempts times, retrying only while retryable
// approves. It returns the last result unchanged together with the number
// of attempts actually made; mapping an exhausted result to a hard error
// is the caller's job.
func (p Policy) Execute(ctx context.Context, op Op, retryable Classifier) (runner.Result, int, error) {
	attempts := p.Attempts()
	var res runner.Result
	var err error
	for i := 1; i <= attempts; i++ {
		res, err = op(ctx)
		if !retryable(res, err) {
			return res, i, err
		}
		if i == attempts {
			break
		}
		if werr := p.wait(ctx, p.Backoff(i)); werr != nil {
			return res, i, werr
		}
	}
	return res, attempts, err
}

func (p Policy) wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
