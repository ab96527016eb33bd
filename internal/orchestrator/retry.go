package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/floegence/redeven-forge/internal/provider"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = 2 * time.Second
)

// RetryPolicy bounds how rate-limited calls are retried. MaxAttempts counts
// the first try.
type RetryPolicy struct {
	MaxAttempts    int
	DefaultBackoff time.Duration
}

func (p RetryPolicy) effective() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.DefaultBackoff <= 0 {
		p.DefaultBackoff = DefaultBackoff
	}
	return p
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// withRetry runs call, retrying only rate-limit failures. The last failure is
// returned once attempts run out.
func (o *Orchestrator) withRetry(ctx context.Context, name string, call func() (string, error)) (string, error) {
	policy := o.retry.effective()
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		text, err := call()
		if err == nil {
			return text, nil
		}
		lastErr = err
		rl, ok := provider.IsRateLimited(err)
		if !ok || attempt == policy.MaxAttempts {
			break
		}
		wait := rl.RetryAfter
		if wait <= 0 {
			wait = policy.DefaultBackoff
		}
		o.log.Warn("provider rate limited",
			slog.String("provider", name),
			slog.Int("attempt", attempt),
			slog.Duration("retry_after", wait),
		)
		if err := o.sleep(ctx, wait); err != nil {
			return "", err
		}
	}
	return "", lastErr
}
