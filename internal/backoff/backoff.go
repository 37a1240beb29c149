// Package backoff is the retry policy shared by the model client and the
// remote platform bridge.
package backoff

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Policy describes how many times to retry and how long to wait between tries.
type Policy struct {
	// MaxAttempts bounds the number of retries after the first try.
	MaxAttempts int
	// Base is multiplied by 2^attempt for exponential waits.
	Base time.Duration
	// Max caps a single exponential wait. Zero means uncapped.
	Max time.Duration
	// RateLimitWait is used for 429 responses without a usable Retry-After.
	RateLimitWait time.Duration
	// Sleep blocks for d or until ctx ends. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Retryable reports whether an HTTP status is a transient upstream failure.
func Retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Delay returns the wait before retry number attempt (0-based). A 429 honors
// retryAfter when it parses; everything else backs off exponentially.
func (p Policy) Delay(attempt, status int, retryAfter string) time.Duration {
	if status == http.StatusTooManyRequests {
		if d, ok := ParseRetryAfter(retryAfter, time.Now()); ok {
			return d
		}
		if p.RateLimitWait > 0 {
			return p.RateLimitWait
		}
	}
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	d := base << uint(attempt)
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

// Wait sleeps using the policy's Sleep, defaulting to a context-aware timer.
func (p Policy) Wait(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// MaxRetryAfter caps any server-requested wait.
const MaxRetryAfter = time.Hour

// ParseRetryAfter accepts delta-seconds or an HTTP date. Waits longer than
// MaxRetryAfter are clamped to it.
func ParseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if !(secs >= 0) {
			return 0, false
		}
		if secs > MaxRetryAfter.Seconds() {
			return MaxRetryAfter, true
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	if at, err := http.ParseTime(v); err == nil {
		d := at.Sub(now)
		return min(max(d, 0), MaxRetryAfter), true
	}
	return 0, false
}
