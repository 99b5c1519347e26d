package domain

import (
	"errors"
	"time"
)

// RateLimitInfo carries the upstream rate-limit headers of a failed call
type RateLimitInfo struct {
	Remaining int
	Reset     time.Time
}

// RateLimited is implemented by errors that know the upstream rate-limit state
type RateLimited interface {
	RateLimit() (RateLimitInfo, bool)
}

// Result is the envelope every aggregator operation returns.
// Failures are carried as data, never as panics.
type Result[T any] struct {
	Success            bool   `json:"success"`
	Data               T      `json:"data,omitempty"`
	Error              string `json:"error,omitempty"`
	RateLimitRemaining *int   `json:"rateLimitRemaining,omitempty"`
	RateLimitReset     *int64 `json:"rateLimitReset,omitempty"`
	// Err is the cause of a failure; it stays off the wire
	Err error `json:"-"`
}

// OK wraps data in a successful result
func OK[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// Fail wraps an error in a failed result, lifting rate-limit headers when present
func Fail[T any](err error) Result[T] {
	res := Result[T]{Success: false}
	if err == nil {
		return res
	}
	res.Error = err.Error()
	res.Err = err
	var rl RateLimited
	if errors.As(err, &rl) {
		if info, ok := rl.RateLimit(); ok {
			remaining := info.Remaining
			reset := info.Reset.Unix()
			res.RateLimitRemaining = &remaining
			res.RateLimitReset = &reset
		}
	}
	return res
}
