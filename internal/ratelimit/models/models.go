package models

import (
	"time"

	dErrors "ballotbox/pkg/domain-errors"
)

// Limit is a sliding-window budget: at most Requests within Window.
type Limit struct {
	Requests int
	Window   time.Duration
}

func NewLimit(requests int, window time.Duration) (Limit, error) {
	if requests < 0 {
		return Limit{}, dErrors.New(dErrors.CodeInvalidInput, "rate limit cannot be negative")
	}
	if requests > 0 && window <= 0 {
		return Limit{}, dErrors.New(dErrors.CodeInvalidInput, "rate limit window must be positive")
	}
	return Limit{Requests: requests, Window: window}, nil
}

// Disabled reports whether the limit lets everything through.
func (l Limit) Disabled() bool {
	return l.Requests == 0
}

// RateLimitResult represents the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}

// Denied builds a rejected result that can be retried at resetAt.
func Denied(limit int, now, resetAt time.Time) *RateLimitResult {
	retry := int(resetAt.Sub(now).Seconds() + 0.999)
	if retry < 1 {
		retry = 1
	}
	return &RateLimitResult{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: retry,
	}
}
