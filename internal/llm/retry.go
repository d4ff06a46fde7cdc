package llm

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// StatusOverloaded is the non-standard status Anthropic uses when the API is overloaded.
const StatusOverloaded = 529

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// RetryPolicy retries overloaded requests with Retry-After aware, capped exponential backoff.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Sleep      Sleeper
	// OnRetry, if set, is called before each wait.
	OnRetry func(attempt int, statusCode int, wait time.Duration)
}

// DefaultRetryPolicy allows three retries waiting 1s, 2s, 4s (capped at 8s).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   8 * time.Second,
	}
}

func (p RetryPolicy) isZero() bool {
	return p.MaxRetries == 0 && p.BaseDelay == 0 && p.MaxDelay == 0 && p.Sleep == nil && p.OnRetry == nil
}

// IsOverloadStatus reports whether an HTTP status signals rate limiting or overload.
func IsOverloadStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == StatusOverloaded
}

// RetryAfter parses a retry-after header expressed in whole positive seconds. Zero, negative and
// non-numeric values are reported as absent.
func RetryAfter(h http.Header) (time.Duration, bool) {
	raw := strings.TrimSpace(h.Get("retry-after"))
	if raw == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// Backoff returns the wait before retry number attempt (0-based).
func (p RetryPolicy) Backoff(h http.Header, attempt int) time.Duration {
	if h != nil {
		if d, ok := RetryAfter(h); ok {
			return d
		}
	}
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			break
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Do calls send until it returns a non-overload response or the retry budget is spent.
// The last response is returned unread so the caller can classify it; attempts counts calls made.
func (p RetryPolicy) Do(ctx context.Context, send func(ctx context.Context) (*http.Response, error)) (*http.Response, int, error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for attempt := 0; ; attempt++ {
		resp, err := send(ctx)
		if err != nil {
			return nil, attempt + 1, err
		}
		if !IsOverloadStatus(resp.StatusCode) || attempt >= p.MaxRetries {
			return resp, attempt + 1, nil
		}

		wait := p.Backoff(resp.Header, attempt)
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if p.OnRetry != nil {
			p.OnRetry(attempt+1, resp.StatusCode, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return nil, attempt + 1, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
