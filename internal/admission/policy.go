package admission

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/iliyamo/concert-seat-admission/internal/repository"
)

// RetryPolicy bounds how often a conflicting operation is retried and
// how long to wait between attempts. The delay before attempt n+1 is
// InitialDelay * Multiplier^(n-1), capped at MaxDelay when it is set.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration // 0 = uncapped
}

// DefaultRetryPolicy allows 100 attempts starting at 50ms and growing by
// 20% per attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  100,
		InitialDelay: 50 * time.Millisecond,
		Multiplier:   1.2,
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the backoff after the given 1-based attempt failed.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

type decision int

const (
	failFast decision = iota
	retry
)

// classify decides once per error kind whether an attempt is retried.
// Only conflicts are: a lost version check, a lock wait timeout or a
// deadlock. The second result names the conflict for metrics.
func classify(err error) (decision, string) {
	switch {
	case err == nil:
		return failFast, ""
	case errors.Is(err, repository.ErrVersionConflict):
		return retry, "version"
	case errors.Is(err, repository.ErrLockTimeout):
		return retry, "lock_timeout"
	case errors.Is(err, repository.ErrDeadlock):
		return retry, "deadlock"
	}
	return failFast, ""
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
