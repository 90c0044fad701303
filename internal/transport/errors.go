package transport

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrAborted reports cancellation with no timeout reason recorded.
var ErrAborted = errors.New("request aborted")

// HTTPStatusError is a non-2xx reply from the model endpoint.
type HTTPStatusError struct {
	Code int
	Body string
}

func (e *HTTPStatusError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("model endpoint returned HTTP %d: %s", e.Code, body)
}

// Retryable reports whether the status is worth another attempt:
// 408, 429, and all 5xx.
func (e *HTTPStatusError) Retryable() bool {
	return e.Code == 408 || e.Code == 429 || e.Code >= 500
}

// TimeoutError is a request or stream-idle timeout, surfaced as a
// 408-equivalent retryable error.
type TimeoutError struct {
	Reason string // "request_timeout" or "stream_idle_timeout"
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("model request timed out (%s)", e.Reason)
}

// Retryable is always true for timeouts.
func (e *TimeoutError) Retryable() bool { return true }

// IsRetryable reports whether err should be retried by the caller's backoff
// loop: HTTP 408/429/5xx, timeouts, and connection-class I/O errors. Aborts
// and other 4xx are not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAborted) {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
