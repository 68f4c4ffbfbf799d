package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy describes a bounded retry loop with doubling, capped backoff.
type Policy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// Retryable decides whether an attempt error is worth another try.
	// A nil predicate retries everything.
	Retryable func(error) bool
	// Sleep is overridable for tests; defaults to a context-aware wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (p Policy) retryable(err error) bool {
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs op until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. Backoff starts at BackoffBase and doubles per
// attempt up to BackoffCap.
func Do(ctx context.Context, p Policy, op func() error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = time.Second
	}

	var lastErr error
	backoff := p.BackoffBase
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !p.retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		if err := p.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
		if p.BackoffCap > 0 && backoff > p.BackoffCap {
			backoff = p.BackoffCap
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", p.MaxAttempts, lastErr)
}
