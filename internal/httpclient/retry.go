package httpclient

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// Classification is the caller's verdict on one attempt's outcome.
type Classification int

const (
	// ClassSuccess stops retrying and returns the response as-is.
	ClassSuccess Classification = iota
	// ClassRetryable schedules another attempt if attempts remain.
	ClassRetryable
	// ClassTerminal stops retrying immediately regardless of attempts remaining.
	ClassTerminal
)

// RetryPolicy configures exponential backoff. BaseDelay doubles on every
// retryable attempt (1s, 2s, 4s, ...).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy makes up to three attempts with a 1s base delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}
}

// Attempt performs one HTTP round trip.
type Attempt func(ctx context.Context) (*http.Response, error)

// Classify inspects one attempt's outcome and decides whether to retry.
type Classify func(resp *http.Response, err error) Classification

// Do runs attempt up to policy.MaxAttempts times, backing off exponentially
// between retryable attempts and honoring a Retry-After header (seconds or
// HTTP-date) on the response when present. It returns the last response/error
// pair and the number of attempts made.
func Do(ctx context.Context, policy RetryPolicy, attempt Attempt, classify Classify) (*http.Response, error, int) {
	delay := policy.BaseDelay
	if delay <= 0 {
		delay = time.Second
	}
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var resp *http.Response
	var err error

	for attemptNum := 1; attemptNum <= maxAttempts; attemptNum++ {
		resp, err = attempt(ctx)
		class := classify(resp, err)

		if class == ClassSuccess || class == ClassTerminal {
			return resp, err, attemptNum
		}
		if attemptNum == maxAttempts {
			return resp, err, attemptNum
		}

		wait := delay
		if resp != nil {
			if ra := retryAfter(resp); ra > 0 {
				wait = ra
			}
			resp.Body.Close()
		}

		select {
		case <-ctx.Done():
			return resp, ctx.Err(), attemptNum
		case <-time.After(wait):
		}
		delay *= 2
	}
	return resp, err, maxAttempts
}

// retryAfter parses a Retry-After header in either delta-seconds or
// HTTP-date form. Returns 0 if absent or unparsable.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
