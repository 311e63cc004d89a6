package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

const (
	maxRetries    = 3
	maxRetryAfter = 30 * time.Second
	errBodyLimit  = 4096
)

// retryBaseDelay is the unit of the quadratic backoff; tests shorten it.
var retryBaseDelay = time.Second

// statusError is a response the server failed to serve.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.status, e.body)
}

func statusTransient(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// retryDelay waits attempt² base units plus up to 50% jitter, unless the
// server asked for a specific delay with Retry-After.
func retryDelay(attempt int, retryAfter string) time.Duration {
	if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
		return min(time.Duration(secs)*time.Second, maxRetryAfter)
	}
	base := time.Duration(attempt*attempt) * retryBaseDelay
	return base + time.Duration(rand.Int64N(int64(base/2+1)))
}

// doWithRetry sends the request built by buildReq, retrying network errors
// and transient statuses up to maxRetries times. Any other response,
// successful or not, goes back to the caller with its body open.
func doWithRetry(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var (
		lastErr    error
		retryAfter string
	)
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := retryDelay(attempt, retryAfter)
			logger.Warn("retrying request", "attempt", attempt+1, "wait", wait, "err", lastErr)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr, retryAfter = err, ""
			continue
		}
		if !statusTransient(resp.StatusCode) {
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))
		resp.Body.Close()
		lastErr = &statusError{status: resp.StatusCode, body: string(body)}
		retryAfter = resp.Header.Get("Retry-After")
	}
	return nil, fmt.Errorf("giving up after %d retries: %w", maxRetries, lastErr)
}

// readError turns a non-2xx response into an error and closes the body.
func readError(name string, resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))
	return fmt.Errorf("%s returned %d: %s", name, resp.StatusCode, string(body))
}
