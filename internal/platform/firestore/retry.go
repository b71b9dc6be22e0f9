package firestore

import (
	"context"
	"errors"
	"time"

	"github.com/googleapis/gax-go/v2"

	"github.com/homefit-remodel/api/internal/repositories"
)

const defaultRetryAttempts = 3

// RetryOption customises Retry.
type RetryOption func(*retryConfig)

type retryConfig struct {
	attempts int
	backoff  gax.Backoff
}

// WithRetryAttempts caps the number of calls made by Retry, including the first.
func WithRetryAttempts(attempts int) RetryOption {
	return func(cfg *retryConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithRetryBackoff replaces the pause schedule between attempts.
func WithRetryBackoff(initial, max time.Duration) RetryOption {
	return func(cfg *retryConfig) {
		if initial > 0 && max >= initial {
			cfg.backoff = gax.Backoff{Initial: initial, Max: max, Multiplier: 2}
		}
	}
}

// Retry calls fn until it succeeds, returns an error that is not classified as
// unavailable, or the attempt budget runs out. The last error is returned.
func Retry(ctx context.Context, fn func(context.Context) error, opts ...RetryOption) error {
	cfg := retryConfig{
		attempts: defaultRetryAttempts,
		backoff:  gax.Backoff{Initial: 50 * time.Millisecond, Max: time.Second, Multiplier: 2},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || attempt >= cfg.attempts || !retryable(err) {
			return err
		}
		if sleepErr := gax.Sleep(ctx, cfg.backoff.Pause()); sleepErr != nil {
			return err
		}
	}
}

func retryable(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}
