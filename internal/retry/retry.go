package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     bool // Exponential backoff
	MaxDelay    time.Duration
}

// Default is used for startup dependencies (database, bot API).
var Default = RetryConfig{MaxAttempts: 3, Delay: time.Second, Backoff: true, MaxDelay: 10 * time.Second}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying; WithRetry returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func WithRetry(ctx context.Context, config RetryConfig, fn func() error) error {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	var lastErr error

	delay := config.Delay
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == config.MaxAttempts {
			return fmt.Errorf("failed after %d attempts: %w", config.MaxAttempts, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		if config.Backoff {
			delay *= 2
			if config.MaxDelay > 0 && delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}
	}

	return lastErr
}
