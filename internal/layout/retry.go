package layout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig configures retries of a remote layout engine.
type RetryConfig struct {
	MaxRetries int           // retries after the first attempt
	RetryDelay time.Duration // first backoff, doubled per retry
	MaxDelay   time.Duration // backoff cap
	Timeout    time.Duration // per attempt
}

// DefaultRetryConfig returns the configuration used for remote engines.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 2,
		RetryDelay: 200 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		Timeout:    5 * time.Second,
	}
}

// RetryEngine retries an Engine on timeouts, transport errors, 429 and 5xx
// replies. Other errors are returned at once.
type RetryEngine struct {
	inner  Engine
	config *RetryConfig
}

func NewRetryEngine(inner Engine, config *RetryConfig) *RetryEngine {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &RetryEngine{inner: inner, config: config}
}

func (r *RetryEngine) Name() string { return r.inner.Name() }

func (r *RetryEngine) Layout(ctx context.Context, req Request) (Result, error) {
	attempts := 0
	res, err := backoff.Retry(ctx, func() (Result, error) {
		attempts++
		actx, cancel := context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
		res, err := r.inner.Layout(actx, req)
		if err != nil && !isRetryable(err) {
			return Result{}, backoff.Permanent(err)
		}
		return res, err
	},
		backoff.WithBackOff(r.newBackOff()),
		backoff.WithMaxTries(uint(r.config.MaxRetries)+1),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Debug("retrying layout", "engine", r.inner.Name(), "attempt", attempts, "backoff", next, "error", err)
		}),
	)
	if err != nil && ctx.Err() == nil && attempts > r.config.MaxRetries && isRetryable(err) {
		return Result{}, fmt.Errorf("max retries (%d) exceeded: %w", r.config.MaxRetries, err)
	}
	return res, err
}

// newBackOff doubles RetryDelay per retry up to MaxDelay. No jitter.
func (r *RetryEngine) newBackOff() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     r.config.RetryDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         r.config.MaxDelay,
	}
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var status *StatusError
	if errors.As(err, &status) {
		return status.Code == http.StatusTooManyRequests || status.Code >= 500
	}

	// Transport failures, connection refused included.
	var netErr net.Error
	return errors.As(err, &netErr)
}
