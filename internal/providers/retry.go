package providers

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"
)

// RetryConfig bounds transport-level retries. The controller allows one
// retry per iteration; anything beyond surfaces as iteration failure.
type RetryConfig struct {
	MaxAttempts int
	Backoff     time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 2, Backoff: time.Second}
}

// RetryHook is invoked before each retry attempt so callers can surface
// progress (e.g. update a placeholder message).
type RetryHook func(attempt, maxAttempts int, err error)

type retryHookKey struct{}

// WithRetryHook attaches a retry hook to the context.
func WithRetryHook(ctx context.Context, hook RetryHook) context.Context {
	return context.WithValue(ctx, retryHookKey{}, hook)
}

func retryHookFromContext(ctx context.Context) RetryHook {
	if hook, ok := ctx.Value(retryHookKey{}).(RetryHook); ok {
		return hook
	}
	return nil
}

// retryDo runs op, retrying transport-level failures up to
// cfg.MaxAttempts with linear backoff. Non-transport errors return
// immediately.
func retryDo[T any](ctx context.Context, cfg RetryConfig, op func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	hook := retryHookFromContext(ctx)

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := op()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isTransportError(err) || attempt == cfg.MaxAttempts {
			return zero, err
		}

		if hook != nil {
			hook(attempt, cfg.MaxAttempts, err)
		}
		slog.Warn("provider call failed, retrying",
			"attempt", attempt, "max_attempts", cfg.MaxAttempts, "error", err)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(cfg.Backoff * time.Duration(attempt)):
		}
	}
	return zero, lastErr
}

// isTransportError distinguishes retryable network failures from API
// errors.
func isTransportError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var transient *TransientError
	return errors.As(err, &transient)
}

// TransientError marks provider responses worth one retry (429/5xx).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }
