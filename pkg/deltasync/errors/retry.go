package errors

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig bounds how often and how patiently a write is retried.
type RetryConfig struct {
	// MaxAttempts counts the first try. Values below 1 mean a single try.
	MaxAttempts int

	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts; zero leaves it uncapped.
	MaxBackoff time.Duration

	// BackoffFactor grows the wait after every failed attempt.
	BackoffFactor float64

	// Jitter spreads each wait by up to +/- this fraction (0.0-1.0).
	Jitter float64

	// RetryableFunc replaces IsRetryable when set.
	RetryableFunc func(error) bool
}

// DefaultRetry is the configuration used for retried flushes. Lock
// contention on a WAL database clears within milliseconds, so backoff starts
// small.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// NoRetry makes exactly one attempt.
var NoRetry = RetryConfig{MaxAttempts: 1}

// RetryResult is the outcome of a retried call.
type RetryResult[T any] struct {
	Value T

	// Err is a *CategorizedError when the call did not succeed.
	Err error

	Attempts int
	Duration time.Duration
}

// WithRetry is WithRetryContext without cancellation.
func WithRetry[T any](cfg RetryConfig, fn func() (T, error)) RetryResult[T] {
	return WithRetryContext(context.Background(), cfg, func(context.Context) (T, error) {
		return fn()
	})
}

// WithRetryContext calls fn until it succeeds, returns an error that is not
// retryable, or runs out of attempts. Cancellation is checked before every
// attempt and during every backoff wait.
func WithRetryContext[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) RetryResult[T] {
	start := time.Now()
	retryable := cfg.RetryableFunc
	if retryable == nil {
		retryable = IsRetryable
	}
	attempts := max(cfg.MaxAttempts, 1)

	fail := func(err error, cat Category, tried int, note string) RetryResult[T] {
		return RetryResult[T]{
			Err:      &CategorizedError{Err: err, Category: cat, Retries: tried, Context: note},
			Attempts: tried,
			Duration: time.Since(start),
		}
	}

	wait := cfg.InitialBackoff
	var lastErr error
	for n := 1; n <= attempts; n++ {
		if err := ctx.Err(); err != nil {
			return fail(err, CategoryPermanent, n-1, "context cancelled")
		}

		v, err := fn(ctx)
		if err == nil {
			return RetryResult[T]{Value: v, Attempts: n, Duration: time.Since(start)}
		}
		lastErr = err
		if !retryable(err) {
			return fail(err, Categorize(err), n, "")
		}
		if n == attempts {
			break
		}

		if err := sleep(ctx, calculateBackoff(wait, cfg.Jitter)); err != nil {
			return fail(err, CategoryPermanent, n, "context cancelled during backoff")
		}
		wait = nextBackoff(wait, cfg)
	}

	return fail(lastErr, Categorize(lastErr), attempts, "max retries exceeded")
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func nextBackoff(cur time.Duration, cfg RetryConfig) time.Duration {
	next := time.Duration(float64(cur) * cfg.BackoffFactor)
	if cfg.MaxBackoff > 0 && next > cfg.MaxBackoff {
		return cfg.MaxBackoff
	}
	return next
}

// calculateBackoff spreads base by a random amount within +/- jitter.
func calculateBackoff(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}
	spread := float64(base) * jitter * (rand.Float64()*2 - 1)
	return base + time.Duration(spread)
}

// RetryOption adjusts a RetryConfig.
type RetryOption func(*RetryConfig)

// WithMaxAttempts sets MaxAttempts.
func WithMaxAttempts(n int) RetryOption {
	return func(c *RetryConfig) { c.MaxAttempts = n }
}

// WithInitialBackoff sets InitialBackoff.
func WithInitialBackoff(d time.Duration) RetryOption {
	return func(c *RetryConfig) { c.InitialBackoff = d }
}

// WithMaxBackoff sets MaxBackoff.
func WithMaxBackoff(d time.Duration) RetryOption {
	return func(c *RetryConfig) { c.MaxBackoff = d }
}

// WithBackoffFactor sets BackoffFactor.
func WithBackoffFactor(f float64) RetryOption {
	return func(c *RetryConfig) { c.BackoffFactor = f }
}

// WithJitter sets Jitter.
func WithJitter(j float64) RetryOption {
	return func(c *RetryConfig) { c.Jitter = j }
}

// WithRetryableFunc sets RetryableFunc.
func WithRetryableFunc(fn func(error) bool) RetryOption {
	return func(c *RetryConfig) { c.RetryableFunc = fn }
}

// NewRetryConfig applies opts on top of DefaultRetry.
func NewRetryConfig(opts ...RetryOption) RetryConfig {
	cfg := DefaultRetry
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
