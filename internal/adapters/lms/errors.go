package lms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNotConfigured is returned when no base URL or token has been set.
	ErrNotConfigured = errors.New("platform credential is not configured")
	// ErrJobCancelled is returned by Job.Wait after Cancel.
	ErrJobCancelled = errors.New("job polling cancelled")
)

// rateLimitPrefix starts the body of a throttled response.
const rateLimitPrefix = "403 Forbidden (Rate Limit Exceeded)"

const maxErrorBody = 256

// HTTPError is a response with status >= 400.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
	Header     http.Header
}

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, body)
}

// IsTransient reports whether err should be retried by the backoff
// executor: transport failures, including per-request timeouts, and 5xx
// responses. Client errors and cancellation are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrNotConfigured) {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode < http.StatusBadRequest || he.StatusCode >= http.StatusInternalServerError
	}
	return true
}

// IsRateLimited reports whether err is a throttled response.
func IsRateLimited(err error) bool {
	var he *HTTPError
	if !errors.As(err, &he) {
		return false
	}
	switch he.StatusCode {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		return strings.HasPrefix(strings.TrimSpace(string(he.Body)), rateLimitPrefix)
	default:
		return false
	}
}
