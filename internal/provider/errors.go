package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	openai "github.com/openai/openai-go"
)

// RateLimitError reports that the backend refused the call for quota reasons.
// RetryAfter is zero when the backend did not say how long to wait.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited (retry after %s)", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Provider)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// Error is any non rate-limit provider failure.
type Error struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", e.Provider, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRateLimited reports whether err carries a *RateLimitError.
func IsRateLimited(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// classify maps SDK errors onto RateLimitError or Error. Context errors pass
// through untouched so callers can still match context.Canceled.
func classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var status int
	var resp *http.Response
	var oerr *openai.Error
	var aerr *anthropic.Error
	switch {
	case errors.As(err, &oerr):
		status, resp = oerr.StatusCode, oerr.Response
	case errors.As(err, &aerr):
		status, resp = aerr.StatusCode, aerr.Response
	}

	if status == http.StatusTooManyRequests {
		var hdr http.Header
		if resp != nil {
			hdr = resp.Header
		}
		return &RateLimitError{Provider: provider, RetryAfter: ParseRetryAfter(hdr, time.Now()), Err: err}
	}
	return &Error{Provider: provider, StatusCode: status, Err: err}
}

// ParseRetryAfter reads retry-after-ms, then Retry-After as seconds or an
// HTTP date. It returns zero when neither header is usable.
func ParseRetryAfter(h http.Header, now time.Time) time.Duration {
	if h == nil {
		return 0
	}
	if raw := strings.TrimSpace(h.Get("retry-after-ms")); raw != "" {
		if ms, err := strconv.ParseFloat(raw, 64); err == nil && ms > 0 {
			return time.Duration(ms * float64(time.Millisecond))
		}
	}
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
