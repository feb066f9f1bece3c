package db

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/wait"
)

// DefaultBackoff retries a read three times, starting at 200ms.
var DefaultBackoff = wait.Backoff{
	Steps:    3,
	Duration: 200 * time.Millisecond,
	Factor:   2.0,
	Jitter:   0.1,
}

// Retry runs fn until it succeeds, fails with an error retriable rejects, or
// the backoff runs out of steps. The last error from fn is returned.
// A nil retriable retries every error.
func Retry(ctx context.Context, b wait.Backoff, retriable func(error) bool, fn func(context.Context) error) error {
	var (
		lastErr  error
		attempts int
	)
	err := wait.ExponentialBackoffWithContext(ctx, b, func(ctx context.Context) (bool, error) {
		attempts++
		err := fn(ctx)
		if err == nil {
			return true, nil
		}
		if retriable != nil && !retriable(err) {
			return false, err
		}
		lastErr = err
		glog.V(2).Infof("retry: attempt %d failed: %v", attempts, err)
		return false, nil
	})
	if err == nil {
		return nil
	}
	if lastErr != nil && (wait.Interrupted(err) || errors.Is(err, ctx.Err())) {
		return errors.Wrapf(lastErr, "gave up after %d attempts", attempts)
	}
	return err
}
