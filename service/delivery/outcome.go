package delivery

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Status classifies what one push request means for the subscription
// it targeted.
type Status string

const (
	// StatusDelivered means the push service accepted the message.
	StatusDelivered Status = "delivered"

	// StatusGone means the subscription no longer exists and should
	// be removed from storage.
	StatusGone Status = "gone"

	// StatusPayloadTooLarge means the service refused the message
	// size. The subscription itself is fine.
	StatusPayloadTooLarge Status = "payload_too_large"

	// StatusBadRequest means the service rejected the request as
	// malformed. Retrying the same message cannot succeed.
	StatusBadRequest Status = "bad_request"

	// StatusTransient covers rate limiting, server errors and
	// network failures. The message may be retried later.
	StatusTransient Status = "transient"
)

// Result is the classified outcome of one push request. StatusCode is
// zero when the request never completed; Err carries the transport
// error in that case.
type Result struct {
	Status     Status
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (r *Result) Delivered() bool {
	return r.Status == StatusDelivered
}

func (r *Result) Retryable() bool {
	return r.Status == StatusTransient
}

// classify maps an HTTP response to a Result. Push services signal an
// expired or unsubscribed endpoint with 404 or 410; everything in the
// 5xx range and 429 is worth retrying, the rest of 4xx is not.
func classify(resp *http.Response, now time.Time) *Result {
	result := &Result{StatusCode: resp.StatusCode}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		result.Status = StatusDelivered
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		result.Status = StatusGone
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		result.Status = StatusPayloadTooLarge
	case resp.StatusCode == http.StatusTooManyRequests:
		result.Status = StatusTransient
		result.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), now)
	case resp.StatusCode >= 500:
		result.Status = StatusTransient
		result.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), now)
	case resp.StatusCode >= 400:
		result.Status = StatusBadRequest
	default:
		result.Status = StatusTransient
	}

	return result
}

// parseRetryAfter handles both forms of the header: delta-seconds and
// an HTTP date.
func parseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(header); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(header); err == nil {
		if wait := at.Sub(now); wait > 0 {
			return wait
		}
	}

	return 0
}
