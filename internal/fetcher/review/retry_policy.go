package review

import (
	"strconv"
	"strings"
	"time"
)

// retryPolicy decides what happens after a failed page request.
type retryPolicy struct {
	maxRetries       int
	transportBackoff time.Duration
	serverBackoff    time.Duration
	rateLimitCap     time.Duration
}

func newRetryPolicy(cfg Config) retryPolicy {
	return retryPolicy{
		maxRetries:       cfg.MaxRetries,
		transportBackoff: cfg.TransportBackoff,
		serverBackoff:    cfg.ServerBackoff,
		rateLimitCap:     cfg.RateLimitCap,
	}
}

// exhausted reports whether the counted failures used up the budget.
func (p retryPolicy) exhausted(attempt int) bool {
	return attempt >= p.maxRetries
}

// transportDelay is the wait after the attempt-th transport failure.
func (p retryPolicy) transportDelay(attempt int) time.Duration {
	return p.transportBackoff * time.Duration(attempt)
}

// serverDelay is the wait after the attempt-th 5xx response.
func (p retryPolicy) serverDelay(attempt int) time.Duration {
	return p.serverBackoff * time.Duration(attempt)
}

// rateLimitDelay honors a numeric Retry-After header up to the cap. Absent,
// negative or non-numeric values (including HTTP dates) wait the full cap.
func (p retryPolicy) rateLimitDelay(retryAfter string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(retryAfter))
	if err != nil || seconds < 0 {
		return p.rateLimitCap
	}
	wait := time.Duration(seconds) * time.Second
	if wait > p.rateLimitCap {
		return p.rateLimitCap
	}
	return wait
}
