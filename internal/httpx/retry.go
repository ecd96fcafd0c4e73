package httpx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// StatusError is a non-2xx response from an upstream API.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	if body == "" {
		body = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s http %d: %s", e.Service, e.StatusCode, body)
}

// IsRetryableHTTPStatus reports whether a status is worth retrying.
func IsRetryableHTTPStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 && code <= 599
}

// IsRetryableError reports whether err is a transient transport or status failure.
func IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return IsRetryableHTTPStatus(se.StatusCode)
	}
	return false
}

// RetryAfter parses a Retry-After header in seconds.
func RetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After")))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Jitter spreads d by +/-20%.
func Jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	delta := float64(d) * 0.2
	return time.Duration(float64(d) - delta + rand.Float64()*2*delta)
}

// Retry runs fn until it succeeds, returns a non-retryable error, or maxRetries is spent.
// Backoff doubles from base and is capped at maxSleep; a Retry-After hint wins when present.
func Retry(ctx context.Context, logger *slog.Logger, op string, maxRetries int, base, maxSleep time.Duration, fn func(context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	backoff := base
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= maxRetries || !IsRetryableError(err) {
			return err
		}
		sleepFor := backoff
		var se *StatusError
		if errors.As(err, &se) && se.RetryAfter > 0 {
			sleepFor = se.RetryAfter
		}
		if maxSleep > 0 && sleepFor > maxSleep {
			sleepFor = maxSleep
		}
		sleepFor = Jitter(sleepFor)
		logger.Warn("upstream_retry", "op", op, "attempt", attempt+1, "max_retries", maxRetries, "sleep", sleepFor.String(), "err", err)
		timer := time.NewTimer(sleepFor)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
}
