package httpx

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind classifies an upstream failure for retry policy purposes.
type Kind int

const (
	// KindPermanent failures are never retried (4xx other than 408/429,
	// malformed requests, bad credentials).
	KindPermanent Kind = iota
	// KindTransient failures are retried with exponential backoff.
	KindTransient
	// KindRateLimited failures are retried after the advised wait and do not
	// consume the generic transient retry budget when a wait was advised.
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "permanent"
	}
}

// StatusError is the generic non-2xx response error shared by all upstream
// API clients.
type StatusError struct {
	StatusCode int
	Body       string
	// RetryAfter is the advised wait parsed from the Retry-After header,
	// zero when the upstream gave none.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e == nil {
		return "httpx: <nil error>"
	}
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		msg = "<empty body>"
	}
	if len(msg) > 2000 {
		msg = msg[:2000] + "..."
	}
	return fmt.Sprintf("upstream http %d: %s", e.StatusCode, msg)
}

func (e *StatusError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

type HTTPStatusCoder interface {
	HTTPStatusCode() int
}

func NewStatusError(resp *http.Response, body []byte) *StatusError {
	se := &StatusError{Body: string(body)}
	if resp != nil {
		se.StatusCode = resp.StatusCode
		se.RetryAfter = RetryAfterDuration(resp, 0, 0)
	}
	return se
}

// Classify maps an error onto the retry taxonomy. Network-level errors and
// context interruptions are transient: a deadline means the caller gave the
// upstream a bounded budget, and a cancellation means the caller is going
// away; either way the next delivery gets a fresh context.
func Classify(err error) Kind {
	if err == nil {
		return KindPermanent
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	var sc HTTPStatusCoder
	if errors.As(err, &sc) {
		code := sc.HTTPStatusCode()
		switch {
		case code == http.StatusTooManyRequests:
			return KindRateLimited
		case code == http.StatusRequestTimeout:
			return KindTransient
		case code >= 500 && code <= 599:
			return KindTransient
		default:
			return KindPermanent
		}
	}
	return KindPermanent
}

func IsRetryableError(err error) bool {
	return Classify(err) != KindPermanent
}

// AdvisedWait extracts the upstream's advised retry delay, if the error
// carried one.
func AdvisedWait(err error) (time.Duration, bool) {
	var se *StatusError
	if errors.As(err, &se) && se.RetryAfter > 0 {
		return se.RetryAfter, true
	}
	return 0, false
}

func RetryAfterDuration(resp *http.Response, fallback, max time.Duration) time.Duration {
	sleepFor := fallback
	if resp != nil {
		if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				sleepFor = time.Duration(secs) * time.Second
			}
		}
	}
	if max > 0 && sleepFor > max {
		sleepFor = max
	}
	return sleepFor
}

func JitterSleep(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	j := 0.2
	delta := base.Seconds() * j
	low := base.Seconds() - delta
	high := base.Seconds() + delta
	if low < 0 {
		low = 0
	}
	v := low + rand.Float64()*(high-low)
	return time.Duration(v * float64(time.Second))
}

// Backoff returns the exponential backoff delay for the given zero-based
// attempt, capped at max.
func Backoff(initial, max time.Duration, attempt int) time.Duration {
	if initial <= 0 {
		initial = time.Second
	}
	d := initial
	for i := 0; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		d = max
	}
	return d
}
