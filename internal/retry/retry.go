package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	autherrors "github.com/alexjbarnes/authkeeper/internal/errors"
)

// Option customizes a retry loop.
type Option func(*loop)

type loop struct {
	onGiveUp func(err error, attempts int)
	onRetry  func(err error, attempt int, wait time.Duration)
	sleep    func(ctx context.Context, d time.Duration) error
}

// OnGiveUp registers a hook called once with the last error when the
// loop stops retrying.
func OnGiveUp(fn func(err error, attempts int)) Option {
	return func(l *loop) { l.onGiveUp = fn }
}

// OnRetry registers a hook called before every backoff wait.
func OnRetry(fn func(err error, attempt int, wait time.Duration)) Option {
	return func(l *loop) { l.onRetry = fn }
}

// withSleep replaces the context-aware timer sleep. Used by tests.
func withSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(l *loop) { l.sleep = fn }
}

// Do runs op under the policy. On success it returns the value. When
// the policy stops retrying, the last error is classified into an
// auth error via autherrors.HandleError.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error), opts ...Option) (T, error) {
	v, err := run(ctx, p, op, opts)
	if err != nil {
		if errors.Is(err, autherrors.ErrRetryInvariant) {
			return v, err
		}

		return v, autherrors.HandleError(err)
	}

	return v, nil
}

// DoRaw is Do for call sites that want the original error back instead
// of a classified one.
func DoRaw[T any](ctx context.Context, p Policy, op func(context.Context) (T, error), opts ...Option) (T, error) {
	return run(ctx, p, op, opts)
}

func run[T any](ctx context.Context, p Policy, op func(context.Context) (T, error), opts []Option) (T, error) {
	l := loop{sleep: sleepContext}
	for _, o := range opts {
		o(&l)
	}

	var (
		zero    T
		lastErr error
		attempt int
	)

	for p.ShouldRetry(lastErr, attempt) {
		if attempt > 0 {
			wait := p.Backoff(attempt)
			if l.onRetry != nil {
				l.onRetry(lastErr, attempt, wait)
			}

			if err := l.sleep(ctx, wait); err != nil {
				break
			}
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}

		lastErr = err
		attempt++
	}

	if lastErr == nil {
		return zero, fmt.Errorf("%w: policy allowed no attempts (retries=%d)", autherrors.ErrRetryInvariant, p.NumberOfRetries)
	}

	if l.onGiveUp != nil {
		l.onGiveUp(lastErr, attempt)
	}

	return zero, lastErr
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
