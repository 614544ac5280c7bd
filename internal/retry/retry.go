package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// Config controls the retry behavior for outbound HTTP calls.
type Config struct {
	MaxAttempts   int           // total attempts including the first (min 1)
	InitialDelay  time.Duration // backoff before the second attempt
	MaxDelay      time.Duration // backoff ceiling
	MaxRetryAfter time.Duration // cap on server-advised Retry-After waits
}

// Default returns the retry config for background work (worker, updater).
func Default() Config {
	return Config{
		MaxAttempts:   3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      8 * time.Second,
		MaxRetryAfter: 30 * time.Second,
	}
}

// Acknowledge returns the tighter config for the latency-sensitive
// acknowledgment path (webhook handshake, placeholder post).
func Acknowledge() Config {
	return Config{
		MaxAttempts:   2,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      1 * time.Second,
		MaxRetryAfter: 2 * time.Second,
	}
}

// HTTPError is a non-2xx response from an upstream API.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration // from the Retry-After header, 0 if absent
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// Retryable reports whether the request may be retried.
// Rate limits and server-side failures are retryable; auth and
// malformed-request errors are not.
func (e *HTTPError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// ParseRetryAfter parses a Retry-After header value (seconds form).
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// Do runs fn with the retry policy in cfg. Rate-limited responses wait the
// server-advised delay (capped to cfg.MaxRetryAfter); transient failures back
// off exponentially with jitter. Non-retryable errors propagate immediately.
func Do[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		var httpErr *HTTPError
		isHTTP := errors.As(err, &httpErr)
		if isHTTP && !httpErr.Retryable() {
			return zero, err
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		wait := delay
		if isHTTP && httpErr.RetryAfter > 0 {
			wait = httpErr.RetryAfter
			if cfg.MaxRetryAfter > 0 && wait > cfg.MaxRetryAfter {
				wait = cfg.MaxRetryAfter
			}
		} else {
			// Jitter: 50–100% of the computed backoff.
			wait = delay/2 + time.Duration(rand.Int63n(int64(delay/2)+1))
			delay *= 2
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
	}

	return zero, lastErr
}
